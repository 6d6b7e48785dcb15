package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuehall/venue-services/internal/tablesvc/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type VenueStore struct {
	db *pgxpool.Pool
}

func NewVenueStore(db *pgxpool.Pool) *VenueStore {
	return &VenueStore{db: db}
}

func (s *VenueStore) Get(ctx context.Context, id int64) (*models.Venue, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, name, per_game_cost, created_at, updated_at
		FROM venues
		WHERE id = $1
	`, id)

	v := &models.Venue{}
	err := row.Scan(&v.ID, &v.Name, &v.PerGameCost, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get venue %d: %w", id, err)
	}
	return v, nil
}

// Create registers a venue and its tables in one transaction, so the
// venue never appears without its tables.
func (s *VenueStore) Create(ctx context.Context, name string, perGameCost decimal.Decimal, tableCount int) (*models.Venue, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin venue tx: %w", err)
	}
	defer tx.Rollback(ctx)

	v := &models.Venue{}
	err = tx.QueryRow(ctx, `
		INSERT INTO venues (name, per_game_cost)
		VALUES ($1, $2)
		RETURNING id, name, per_game_cost, created_at, updated_at
	`, name, perGameCost).Scan(&v.ID, &v.Name, &v.PerGameCost, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert venue: %w", err)
	}

	for i := 0; i < tableCount; i++ {
		_, err = tx.Exec(ctx, `
			INSERT INTO tables (venue_id, status, player1, player2, queue, version)
			VALUES ($1, 'available', 0, 0, '{}', 1)
		`, v.ID)
		if err != nil {
			return nil, fmt.Errorf("insert table for venue %d: %w", v.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit venue tx: %w", err)
	}
	return v, nil
}

// Delete removes a venue and its tables. It fails with ErrConflict while
// any table of the venue still references a non-terminal session; the
// admin must resolve those first.
func (s *VenueStore) Delete(ctx context.Context, id int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin venue delete tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var open bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM game_sessions
			WHERE venue_id = $1
			  AND status NOT IN ('completed', 'disputed', 'cancelled')
		)
	`, id).Scan(&open)
	if err != nil {
		return fmt.Errorf("venue open-session check: %w", err)
	}
	if open {
		return models.ErrConflict
	}

	if _, err := tx.Exec(ctx, `DELETE FROM tables WHERE venue_id = $1`, id); err != nil {
		return fmt.Errorf("delete venue tables: %w", err)
	}

	res, err := tx.Exec(ctx, `DELETE FROM venues WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete venue: %w", err)
	}
	if res.RowsAffected() != 1 {
		return models.ErrNotFound
	}

	return tx.Commit(ctx)
}
