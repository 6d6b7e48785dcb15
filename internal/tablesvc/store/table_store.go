package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuehall/venue-services/internal/tablesvc/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TableStore struct {
	db *pgxpool.Pool
}

func NewTableStore(db *pgxpool.Pool) *TableStore {
	return &TableStore{db: db}
}

const tableColumns = `id, venue_id, status, player1, player2,
	COALESCE(current_session_id, ''), queue,
	COALESCE(last_game_ended_at, 'epoch'::timestamptz), version, created_at, updated_at`

func scanTable(row pgx.Row) (*models.Table, error) {
	t := &models.Table{}
	var status string
	err := row.Scan(
		&t.ID,
		&t.VenueID,
		&status,
		&t.Player1,
		&t.Player2,
		&t.CurrentSessionID,
		&t.Queue,
		&t.LastGameEndedAt,
		&t.Version,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan table: %w", err)
	}
	t.Status = models.TableStatus(status)
	if t.Queue == nil {
		t.Queue = []int64{}
	}
	return t, nil
}

func (s *TableStore) Get(ctx context.Context, tableID int64) (*models.Table, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+tableColumns+`
		FROM tables
		WHERE id = $1
	`, tableID)
	return scanTable(row)
}

func (s *TableStore) ListByVenue(ctx context.Context, venueID int64) ([]*models.Table, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tableColumns+`
		FROM tables
		WHERE venue_id = $1
		ORDER BY id
	`, venueID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []*models.Table
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (s *TableStore) Create(ctx context.Context, venueID int64) (*models.Table, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO tables (venue_id, status, player1, player2, queue, version)
		VALUES ($1, 'available', 0, 0, '{}', 1)
		RETURNING `+tableColumns+`
	`, venueID)
	return scanTable(row)
}

// Update writes the table back guarded by the version the caller read.
// Zero rows affected means another writer got there first: the caller
// receives ErrConflict and must re-read and retry. The version increments
// on every successful write.
func (s *TableStore) Update(ctx context.Context, t *models.Table) error {
	var sessionID any
	if t.CurrentSessionID != "" {
		sessionID = t.CurrentSessionID
	}
	var endedAt any
	if !t.LastGameEndedAt.IsZero() {
		endedAt = t.LastGameEndedAt
	}

	res, err := s.db.Exec(ctx, `
		UPDATE tables
		SET status = $1, player1 = $2, player2 = $3, current_session_id = $4,
		    queue = $5, last_game_ended_at = $6, version = version + 1,
		    updated_at = now()
		WHERE id = $7 AND version = $8
	`, string(t.Status), t.Player1, t.Player2, sessionID,
		t.Queue, endedAt, t.ID, t.Version)
	if err != nil {
		return fmt.Errorf("failed to update table %d: %w", t.ID, err)
	}
	if res.RowsAffected() != 1 {
		return models.ErrConflict
	}
	t.Version++
	return nil
}

func (s *TableStore) Delete(ctx context.Context, tableID int64) error {
	res, err := s.db.Exec(ctx, `DELETE FROM tables WHERE id = $1`, tableID)
	if err != nil {
		return fmt.Errorf("failed to delete table %d: %w", tableID, err)
	}
	if res.RowsAffected() != 1 {
		return models.ErrNotFound
	}
	return nil
}
