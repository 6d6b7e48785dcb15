package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SessionStatus string

const (
	SessionPending              SessionStatus = "pending"
	SessionActive               SessionStatus = "active"
	SessionAwaitingConfirmation SessionStatus = "awaiting_confirmation"
	SessionCompleted            SessionStatus = "completed"
	SessionDisputed             SessionStatus = "disputed"
	SessionCancelled            SessionStatus = "cancelled"
)

// Terminal reports whether the session can never change again.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionDisputed, SessionCancelled:
		return true
	}
	return false
}

type SessionType string

const (
	SessionPerGame       SessionType = "per_game"
	SessionDirectJoin    SessionType = "direct_join"
	SessionDropIn        SessionType = "drop_in"
	SessionTokenPurchase SessionType = "token_purchase"
)

// GameSession records one paid or playing use of a table. Cost is a
// snapshot of the venue per-game cost taken at creation and never changes;
// WinnerID, once set by confirmation, is immutable.
type GameSession struct {
	ID              string          `json:"id"`
	TableID         int64           `json:"table_id"`
	VenueID         int64           `json:"venue_id"`
	Player1         int64           `json:"player1"`
	Player2         int64           `json:"player2,omitempty"` // zero for solo sessions
	Cost            decimal.Decimal `json:"cost"`
	Status          SessionStatus   `json:"status"`
	Type            SessionType     `json:"type"`
	WinnerID        int64           `json:"winner_id,omitempty"`
	ClaimantID      int64           `json:"claimant_id,omitempty"` // who pressed "I won"
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	StartTime       time.Time       `json:"start_time,omitempty"`
	EndTime         time.Time       `json:"end_time,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Solo reports whether the session was started without an opponent slot.
func (g *GameSession) Solo() bool {
	return g.Type == SessionDropIn && g.Player2 == 0
}
