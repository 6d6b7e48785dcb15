package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Venue struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	PerGameCost decimal.Decimal `json:"per_game_cost"` // tokens, snapshot at session creation
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
