package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuehall/venue-services/internal/tablesvc/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserStore struct {
	db *pgxpool.Pool
}

func NewUserStore(db *pgxpool.Pool) *UserStore {
	return &UserStore{db: db}
}

func (r *UserStore) GetByID(ctx context.Context, id int64) (*models.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT user_id, name, avatar, token_balance, status, created_at, updated_at
		FROM users
		WHERE user_id = $1
	`, id)

	u := &models.User{}
	err := row.Scan(
		&u.UserId,
		&u.Name,
		&u.Avatar,
		&u.TokenBalance,
		&u.Status,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}

	return u, nil
}

// GetOrCreate returns the stored profile, inserting a fresh one with a
// zero balance on first contact.
func (r *UserStore) GetOrCreate(ctx context.Context, user models.User) (*models.User, error) {
	existing, err := r.GetByID(ctx, user.UserId)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO users (user_id, name, avatar, token_balance, status)
		VALUES ($1, $2, $3, 0, 'active')
		ON CONFLICT (user_id) DO NOTHING
	`, user.UserId, user.Name, user.Avatar)
	if err != nil {
		return nil, fmt.Errorf("could not create user: %w", err)
	}

	return r.GetByID(ctx, user.UserId)
}
