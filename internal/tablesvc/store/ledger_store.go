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

// LedgerStore owns per-user token balances. The balance lives as a column
// on users and every movement appends a dr/cr row to token_entries keyed
// by a unique tref. The conditional UPDATE makes debits linearizable per
// user: two concurrent debits can never both pass the balance check.
type LedgerStore struct {
	db *pgxpool.Pool
}

func NewLedgerStore(db *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{db: db}
}

func (s *LedgerStore) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRow(ctx, `
		SELECT token_balance FROM users WHERE user_id = $1
	`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, models.ErrNotFound
		}
		return decimal.Zero, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

// Debit decrements the user balance by amount, failing with
// ErrInsufficientFunds when the balance would go negative. The matching
// cr ledger row is written in the same transaction under ref.
func (s *LedgerStore) Debit(ctx context.Context, userID int64, amount decimal.Decimal, ttype, ref string) error {
	if amount.IsNegative() {
		return fmt.Errorf("debit amount %s: %w", amount, models.ErrInvalidState)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin debit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	res, err := tx.Exec(ctx, `
		UPDATE users
		SET token_balance = token_balance - $2, updated_at = now()
		WHERE user_id = $1 AND token_balance >= $2
	`, userID, amount)
	if err != nil {
		return fmt.Errorf("debit update: %w", err)
	}
	if res.RowsAffected() != 1 {
		// either no such user or the conditional balance check failed
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1)`, userID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("debit user check: %w", err)
		}
		if !exists {
			return models.ErrNotFound
		}
		return models.ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO token_entries (user_id, ttype, dr, cr, tref, status)
		VALUES ($1, $2, 0, $3, $4, 'completed')
	`, userID, ttype, amount, ref)
	if err != nil {
		return fmt.Errorf("debit entry insert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit debit tx: %w", err)
	}
	return nil
}

// Credit increments the user balance exactly once per ref. A replay with
// a ref already in the ledger is a no-op returning applied=false, so
// at-least-once webhook delivery is safe.
func (s *LedgerStore) Credit(ctx context.Context, userID int64, amount decimal.Decimal, ttype, ref string) (bool, error) {
	if amount.IsNegative() {
		return false, fmt.Errorf("credit amount %s: %w", amount, models.ErrInvalidState)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin credit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM token_entries WHERE tref = $1)`, ref,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("credit idempotency check: %w", err)
	}
	if exists {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO token_entries (user_id, ttype, dr, cr, tref, status)
		VALUES ($1, $2, $3, 0, $4, 'completed')
	`, userID, ttype, amount, ref)
	if err != nil {
		return false, fmt.Errorf("credit entry insert: %w", err)
	}

	res, err := tx.Exec(ctx, `
		UPDATE users
		SET token_balance = token_balance + $2, updated_at = now()
		WHERE user_id = $1
	`, userID, amount)
	if err != nil {
		return false, fmt.Errorf("credit update: %w", err)
	}
	if res.RowsAffected() != 1 {
		return false, models.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit credit tx: %w", err)
	}
	return true, nil
}
