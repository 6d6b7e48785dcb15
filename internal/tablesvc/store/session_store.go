package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuehall/venue-services/internal/tablesvc/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SessionStore struct {
	db *pgxpool.Pool
}

func NewSessionStore(db *pgxpool.Pool) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `id, table_id, venue_id, player1, player2, cost, status, stype,
	winner_id, claimant_id, COALESCE(payment_intent_id, ''),
	COALESCE(start_time, 'epoch'::timestamptz),
	COALESCE(end_time, 'epoch'::timestamptz), created_at, updated_at`

func scanSession(row pgx.Row) (*models.GameSession, error) {
	g := &models.GameSession{}
	var status, stype string
	err := row.Scan(
		&g.ID,
		&g.TableID,
		&g.VenueID,
		&g.Player1,
		&g.Player2,
		&g.Cost,
		&status,
		&stype,
		&g.WinnerID,
		&g.ClaimantID,
		&g.PaymentIntentID,
		&g.StartTime,
		&g.EndTime,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	g.Status = models.SessionStatus(status)
	g.Type = models.SessionType(stype)
	return g, nil
}

func (s *SessionStore) Create(ctx context.Context, g *models.GameSession) error {
	var intentID any
	if g.PaymentIntentID != "" {
		intentID = g.PaymentIntentID
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO game_sessions
			(id, table_id, venue_id, player1, player2, cost, status, stype,
			 winner_id, claimant_id, payment_intent_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, $9)
	`, g.ID, g.TableID, g.VenueID, g.Player1, g.Player2, g.Cost,
		string(g.Status), string(g.Type), intentID)
	if err != nil {
		return fmt.Errorf("failed to create session %s: %w", g.ID, err)
	}
	return nil
}

func (s *SessionStore) Get(ctx context.Context, id string) (*models.GameSession, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM game_sessions
		WHERE id = $1
	`, id)
	return scanSession(row)
}

func (s *SessionStore) GetByPaymentIntent(ctx context.Context, intentID string) (*models.GameSession, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM game_sessions
		WHERE payment_intent_id = $1
	`, intentID)
	return scanSession(row)
}

// Update writes back the mutable session fields. Terminal rows never
// change again: the guard keeps a replayed webhook or a late confirm from
// resurrecting a completed session.
func (s *SessionStore) Update(ctx context.Context, g *models.GameSession) error {
	var start, end any
	if !g.StartTime.IsZero() {
		start = g.StartTime
	}
	if !g.EndTime.IsZero() {
		end = g.EndTime
	}
	res, err := s.db.Exec(ctx, `
		UPDATE game_sessions
		SET status = $1, winner_id = $2, claimant_id = $3,
		    start_time = $4, end_time = $5, updated_at = now()
		WHERE id = $6
		  AND status NOT IN ('completed', 'disputed', 'cancelled')
	`, string(g.Status), g.WinnerID, g.ClaimantID, start, end, g.ID)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", g.ID, err)
	}
	if res.RowsAffected() != 1 {
		return models.ErrConflict
	}
	return nil
}

// ListPendingOlderThan returns pending sessions created before the cutoff,
// for the payment-window sweeper.
func (s *SessionStore) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*models.GameSession, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM game_sessions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.GameSession
	for rows.Next() {
		g, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, g)
	}
	return sessions, rows.Err()
}

// HasOpenForVenue reports whether any table of the venue still references
// a non-terminal session. Venue deletion is refused while it does.
func (s *SessionStore) HasOpenForVenue(ctx context.Context, venueID int64) (bool, error) {
	var open bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM game_sessions
			WHERE venue_id = $1
			  AND status NOT IN ('completed', 'disputed', 'cancelled')
		)
	`, venueID).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("failed to check open sessions: %w", err)
	}
	return open, nil
}
