package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents the users table. Identity itself is resolved by the
// external verifier; the core reads the profile and token balance.
type User struct {
	UserId       int64           `json:"user_id"`
	Name         string          `json:"name"`
	Avatar       string          `json:"avatar,omitempty"`
	TokenBalance decimal.Decimal `json:"token_balance"`
	Status       string          `json:"status,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
