package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TokenEntry is one row of the per-user token ledger. Dr credits the
// balance, Cr debits it; TRef is the idempotency key (payment intent id,
// session id) and is unique across the ledger.
type TokenEntry struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	TType     string          `json:"ttype"` // purchase, game_debit, win_credit, refund
	Dr        decimal.Decimal `json:"dr"`
	Cr        decimal.Decimal `json:"cr"`
	TRef      string          `json:"tref"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
