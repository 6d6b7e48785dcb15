package comm

import (
	"encoding/json"
	"time"
)

// NATS topics shared between the services.
const (
	TopicSocketService  = "socket.service"  // client commands, socketsvc -> tablesvc
	TopicTableService   = "table.service"   // responses and broadcasts, tablesvc -> socketsvc
	TopicPaymentEvents  = "payment.events"  // verified gateway events, paysvc -> tablesvc
	TopicPaymentService = "payment.service" // opened purchase intents, tablesvc -> paysvc
)

type WSMessage struct {
	Type     string          `json:"type"` // e.g. "join-queue", "claim-win"
	Data     json.RawMessage `json:"data"`
	SocketId string          `json:"socketid"`
	VenueId  int64           `json:"venue_id,omitempty"` // set for venue-room broadcasts
	UserId   int64           `json:"user_id,omitempty"`  // set for user-addressed messages
}

type PlayerData struct {
	Name    string `json:"name"`
	UserId  int64  `json:"user_id"`
	Balance string `json:"balance"`
}

// TableSnapshot is the full table+queue view broadcast to a venue room.
type TableSnapshot struct {
	TableId   int64   `json:"table_id"`
	VenueId   int64   `json:"venue_id"`
	Status    string  `json:"status"`
	Player1   int64   `json:"player1"`
	Player2   int64   `json:"player2"`
	SessionId string  `json:"session_id,omitempty"`
	Queue     []int64 `json:"queue"`
}

type QueueData struct {
	TableId int64   `json:"table_id"`
	VenueId int64   `json:"venue_id"`
	Queue   []int64 `json:"queue"`
}

type InvitationData struct {
	TableId int64 `json:"table_id"`
	VenueId int64 `json:"venue_id"`
	UserId  int64 `json:"user_id"`
}

type BalanceData struct {
	UserId  int64  `json:"user_id"`
	Balance string `json:"balance"`
}

type WinEvent struct {
	TableId   int64  `json:"table_id"`
	SessionId string `json:"session_id"`
	UserId    int64  `json:"user_id"`   // claimant / winner / disputer depending on type
	WinnerId  int64  `json:"winner_id"` // zero until confirmed
}

type SessionCancelled struct {
	TableId   int64  `json:"table_id"`
	SessionId string `json:"session_id"`
	UserId    int64  `json:"user_id"`
	Reason    string `json:"reason"`
}

type ErrorData struct {
	Action  string `json:"action"`
	Code    string `json:"code"` // not_found, forbidden, conflict, invalid_state, insufficient_funds
	Message string `json:"message"`
}

// PaymentEvent is a webhook event after paysvc signature verification.
type PaymentEvent struct {
	PaymentIntentId string `json:"payment_intent_id"`
	Status          string `json:"status"` // success | failed
	UserId          int64  `json:"user_id"`
	Tokens          string `json:"tokens"` // decimal string, token_purchase only
	SessionId       string `json:"session_id,omitempty"`
}

type PurchaseRequest struct {
	UserId int64  `json:"user_id"`
	Tokens string `json:"tokens"`
}

// IntentOpened announces a freshly opened payment intent to paysvc.
type IntentOpened struct {
	SessionId       string `json:"session_id"`
	PaymentIntentId string `json:"payment_intent_id"`
	UserId          int64  `json:"user_id"`
	Tokens          string `json:"tokens"`
}

type ServiceHeartbeat struct {
	ID        string    `json:"id"` // service id
	Timestamp time.Time `json:"timestamp"`
}
