package service

import (
	"context"
	"time"

	"github.com/cuehall/venue-services/internal/tablesvc/models"
	"github.com/shopspring/decimal"
)

// Collaborator seams for the admission service. The pgx stores, the redis
// hold store, the mongo archiver and the NATS broker satisfy these in
// production; tests substitute in-memory fakes.

type TableStore interface {
	Get(ctx context.Context, tableID int64) (*models.Table, error)
	Update(ctx context.Context, t *models.Table) error
}

type SessionStore interface {
	Create(ctx context.Context, g *models.GameSession) error
	Get(ctx context.Context, id string) (*models.GameSession, error)
	GetByPaymentIntent(ctx context.Context, intentID string) (*models.GameSession, error)
	Update(ctx context.Context, g *models.GameSession) error
}

type VenueStore interface {
	Get(ctx context.Context, id int64) (*models.Venue, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type Ledger interface {
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Debit(ctx context.Context, userID int64, amount decimal.Decimal, ttype, ref string) error
	Credit(ctx context.Context, userID int64, amount decimal.Decimal, ttype, ref string) (bool, error)
}

type HoldStore interface {
	Hold(ctx context.Context, sessionID string, ttl time.Duration) error
	Active(ctx context.Context, sessionID string) (bool, error)
	Release(ctx context.Context, sessionID string) error
}

type Archiver interface {
	ArchiveSession(ctx context.Context, g *models.GameSession, note string) error
}

// Alerter pushes operator alerts (disputes, verified purchases).
type Alerter interface {
	SendNotification(message string)
}

// PaymentGateway creates payment intents with the external provider.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, userID int64, amount decimal.Decimal) (string, error)
}

// Dispatcher fans out state changes to the real-time layer. Dispatch is
// fire-and-forget: implementations must not block or fail the calling
// operation.
type Dispatcher interface {
	TableStatus(t *models.Table)
	QueueUpdate(t *models.Table)
	TokenBalance(userID int64, balance decimal.Decimal)
	Invitation(t *models.Table, userID int64)
	WinClaimed(g *models.GameSession, confirmerID int64)
	WinConfirmed(g *models.GameSession)
	WinDisputed(g *models.GameSession, disputerID int64)
	QueueDropped(t *models.Table, userID int64)
	SessionCancelled(g *models.GameSession, reason string)
}
