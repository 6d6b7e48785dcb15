package broker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/cuehall/venue-services/internal/comm"
	"github.com/cuehall/venue-services/internal/tablesvc/models"
	"github.com/cuehall/venue-services/internal/tablesvc/service"
)

// UserRegistry resolves profiles for socket init, creating one with a
// zero balance on first contact.
type UserRegistry interface {
	service.UserStore
	GetOrCreate(ctx context.Context, user models.User) (*models.User, error)
}

// Broker consumes player commands relayed by the socket service and
// publishes state-change broadcasts back. It is also the admission
// service's Dispatcher: every publish is fire-and-forget.
type Broker struct {
	Conn      *nats.Conn
	Admission *service.AdmissionService
	Users     UserRegistry
	Ledger    service.Ledger
}

func NewBroker(nc *nats.Conn, admission *service.AdmissionService, users UserRegistry, ledger service.Ledger) *Broker {
	return &Broker{
		Conn:      nc,
		Admission: admission,
		Users:     users,
		Ledger:    ledger,
	}
}

type tableCommand struct {
	TableId   int64  `json:"table_id"`
	UserId    int64  `json:"user_id"`
	SessionId string `json:"session_id"`
	WinnerId  int64  `json:"winner_id"`
}

// handleMessage dispatches one relayed client command.
func (b *Broker) handleMessage(msgNat *nats.Msg) {
	msg := &comm.WSMessage{}
	err := json.Unmarshal(msgNat.Data, &msg)
	if err != nil {
		log.Errorf("Error nats message %s", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch msg.Type {
	case "init":
		var payload struct {
			UserId int64  `json:"user_id"`
			Name   string `json:"name"`
		}
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			log.Errorf("Error %s", err)
			return
		}

		user, err := b.Users.GetOrCreate(ctx, models.User{UserId: payload.UserId, Name: payload.Name})
		if err != nil {
			log.Errorf("Error [Users.GetOrCreate] %s", err)
			return
		}
		balance, err := b.Ledger.Balance(ctx, user.UserId)
		if err != nil {
			log.Errorf("Error [Ledger.Balance] %s", err)
			return
		}

		b.publishTo("init-response", comm.PlayerData{
			Name:    user.Name,
			UserId:  user.UserId,
			Balance: balance.StringFixed(2),
		}, msg.SocketId, 0, 0)

	case "get-balance":
		var req struct {
			UserId int64 `json:"user_id"`
		}
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Errorf("Error %s", err)
			return
		}
		balance, err := b.Ledger.Balance(ctx, req.UserId)
		if err != nil {
			log.Errorf("Error getBalance %s", err)
			return
		}
		b.publishTo("balance-resp", comm.BalanceData{
			UserId:  req.UserId,
			Balance: balance.StringFixed(2),
		}, msg.SocketId, 0, 0)

	case "join-queue":
		b.runCommand(ctx, msg, func(c tableCommand) error {
			return b.Admission.JoinQueue(ctx, c.TableId, c.UserId)
		})
	case "leave-queue":
		b.runCommand(ctx, msg, func(c tableCommand) error {
			return b.Admission.LeaveQueue(ctx, c.TableId, c.UserId)
		})
	case "accept-invitation":
		b.runCommand(ctx, msg, func(c tableCommand) error {
			sess, err := b.Admission.AcceptInvitation(ctx, c.TableId, c.UserId)
			if err != nil {
				return err
			}
			b.publishTo("session-pending", sess, msg.SocketId, 0, 0)
			return nil
		})
	case "confirm-payment":
		b.runCommand(ctx, msg, func(c tableCommand) error {
			return b.Admission.ConfirmPayment(ctx, c.SessionId, c.UserId)
		})
	case "direct-join":
		b.runCommand(ctx, msg, func(c tableCommand) error {
			sess, err := b.Admission.DirectJoin(ctx, c.TableId, c.UserId)
			if err != nil {
				return err
			}
			b.publishTo("session-active", sess, msg.SocketId, 0, 0)
			return nil
		})
	case "drop-in":
		b.runCommand(ctx, msg, func(c tableCommand) error {
			sess, err := b.Admission.DropIn(ctx, c.TableId, c.UserId)
			if err != nil {
				return err
			}
			b.publishTo("session-active", sess, msg.SocketId, 0, 0)
			return nil
		})
	case "claim-win":
		b.runCommand(ctx, msg, func(c tableCommand) error {
			return b.Admission.ClaimWin(ctx, c.TableId, c.UserId)
		})
	case "confirm-win":
		b.runCommand(ctx, msg, func(c tableCommand) error {
			return b.Admission.ConfirmWin(ctx, c.TableId, c.SessionId, c.WinnerId, c.UserId)
		})
	case "dispute-win":
		b.runCommand(ctx, msg, func(c tableCommand) error {
			return b.Admission.DisputeWin(ctx, c.TableId, c.SessionId, c.UserId)
		})
	case "finish-solo":
		b.runCommand(ctx, msg, func(c tableCommand) error {
			return b.Admission.FinishSolo(ctx, c.TableId, c.UserId)
		})
	case "request-tokens":
		var req comm.PurchaseRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			log.Errorf("Error decoding request-tokens: %s", err)
			return
		}
		tokens, err := decimal.NewFromString(req.Tokens)
		if err != nil {
			b.publishTo("action-error", comm.ErrorData{
				Action:  msg.Type,
				Code:    "invalid_state",
				Message: "invalid token amount",
			}, msg.SocketId, 0, 0)
			return
		}
		sess, err := b.Admission.RequestTokenPurchase(ctx, req.UserId, tokens)
		if err != nil {
			b.publishTo("action-error", comm.ErrorData{
				Action:  msg.Type,
				Code:    errorCode(err),
				Message: err.Error(),
			}, msg.SocketId, 0, 0)
			return
		}
		b.publishTo("purchase-intent", sess, msg.SocketId, 0, 0)
		b.announceIntent(sess)
	default:
		log.Errorf("Unknown message type %s", msg.Type)
	}
}

// runCommand decodes the command payload, runs it and reports a typed
// error back to the issuing socket.
func (b *Broker) runCommand(ctx context.Context, msg *comm.WSMessage, fn func(tableCommand) error) {
	var cmd tableCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		log.Errorf("Error decoding %s: %s", msg.Type, err)
		return
	}
	if err := fn(cmd); err != nil {
		b.publishTo("action-error", comm.ErrorData{
			Action:  msg.Type,
			Code:    errorCode(err),
			Message: err.Error(),
		}, msg.SocketId, 0, 0)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrForbidden):
		return "forbidden"
	case errors.Is(err, models.ErrConflict):
		return "conflict"
	case errors.Is(err, models.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, models.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, models.ErrPaymentVerification):
		return "payment_verification"
	default:
		return "internal"
	}
}

// ---- service.Dispatcher ----

func snapshot(t *models.Table) comm.TableSnapshot {
	return comm.TableSnapshot{
		TableId:   t.ID,
		VenueId:   t.VenueID,
		Status:    string(t.Status),
		Player1:   t.Player1,
		Player2:   t.Player2,
		SessionId: t.CurrentSessionID,
		Queue:     append([]int64{}, t.Queue...),
	}
}

func (b *Broker) TableStatus(t *models.Table) {
	b.publishTo("table-status", snapshot(t), "", t.VenueID, 0)
}

func (b *Broker) QueueUpdate(t *models.Table) {
	b.publishTo("queue-update", comm.QueueData{
		TableId: t.ID,
		VenueId: t.VenueID,
		Queue:   append([]int64{}, t.Queue...),
	}, "", t.VenueID, 0)
}

func (b *Broker) TokenBalance(userID int64, balance decimal.Decimal) {
	b.publishTo("token-balance", comm.BalanceData{
		UserId:  userID,
		Balance: balance.StringFixed(2),
	}, "", 0, userID)
}

func (b *Broker) Invitation(t *models.Table, userID int64) {
	b.publishTo("invitation", comm.InvitationData{
		TableId: t.ID,
		VenueId: t.VenueID,
		UserId:  userID,
	}, "", 0, userID)
}

func (b *Broker) WinClaimed(g *models.GameSession, confirmerID int64) {
	b.publishTo("win-claimed", comm.WinEvent{
		TableId:   g.TableID,
		SessionId: g.ID,
		UserId:    g.ClaimantID,
	}, "", 0, confirmerID)
}

func (b *Broker) WinConfirmed(g *models.GameSession) {
	b.publishTo("win-confirmed", comm.WinEvent{
		TableId:   g.TableID,
		SessionId: g.ID,
		UserId:    g.WinnerID,
		WinnerId:  g.WinnerID,
	}, "", g.VenueID, 0)
}

func (b *Broker) WinDisputed(g *models.GameSession, disputerID int64) {
	b.publishTo("win-disputed", comm.WinEvent{
		TableId:   g.TableID,
		SessionId: g.ID,
		UserId:    disputerID,
	}, "", g.VenueID, 0)
}

func (b *Broker) QueueDropped(t *models.Table, userID int64) {
	b.publishTo("queue-dropped", comm.InvitationData{
		TableId: t.ID,
		VenueId: t.VenueID,
		UserId:  userID,
	}, "", 0, userID)
}

func (b *Broker) SessionCancelled(g *models.GameSession, reason string) {
	b.publishTo("session-cancelled", comm.SessionCancelled{
		TableId:   g.TableID,
		SessionId: g.ID,
		UserId:    g.Player1,
		Reason:    reason,
	}, "", 0, g.Player1)
}

// ---- plumbing ----

func (b *Broker) publishTo(msgType string, payload interface{}, socketId string, venueId, userId int64) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("[%s] unable to marshal payload: %s", msgType, err)
		return
	}

	msg := &comm.WSMessage{
		Type:     msgType,
		Data:     data,
		SocketId: socketId,
		VenueId:  venueId,
		UserId:   userId,
	}

	out, err := json.Marshal(msg)
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}

	b.Publish(comm.TopicTableService, out)
}

// announceIntent tells the payment service an intent was opened so the
// operators hear about it even before the webhook lands.
func (b *Broker) announceIntent(g *models.GameSession) {
	data, err := json.Marshal(comm.IntentOpened{
		SessionId:       g.ID,
		PaymentIntentId: g.PaymentIntentID,
		UserId:          g.Player1,
		Tokens:          g.Cost.StringFixed(2),
	})
	if err != nil {
		log.Errorf("[announceIntent] unable to marshal payload: %s", err)
		return
	}

	out, err := json.Marshal(&comm.WSMessage{Type: "purchase-intent-opened", Data: data})
	if err != nil {
		log.Errorf("Error %s", err)
		return
	}

	b.Publish(comm.TopicPaymentService, out)
}

// SubscribeSocketService consumes commands relayed by the socket service.
func (b *Broker) SubscribeSocketService(topic string) (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(topic, b.handleMessage)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

// SubscribePaymentEvents consumes verified gateway events from paysvc.
func (b *Broker) SubscribePaymentEvents(topic string) (*nats.Subscription, error) {
	sub, err := b.Conn.Subscribe(topic, b.handlePaymentEvent)
	if err != nil {
		return nil, err
	}

	return sub, nil
}

func (b *Broker) handlePaymentEvent(msgNat *nats.Msg) {
	var ev comm.PaymentEvent
	if err := json.Unmarshal(msgNat.Data, &ev); err != nil {
		log.Errorf("invalid PaymentEvent: %s", err)
		return
	}

	tokens, err := decimal.NewFromString(ev.Tokens)
	if err != nil && ev.Tokens != "" {
		log.Errorf("invalid token amount %q: %s", ev.Tokens, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	err = b.Admission.OnPaymentWebhook(ctx, service.PaymentEvent{
		PaymentIntentID: ev.PaymentIntentId,
		Status:          ev.Status,
		UserID:          ev.UserId,
		Tokens:          tokens,
	})
	if err != nil {
		log.Errorf("payment event %s: %v", ev.PaymentIntentId, err)
	}
}

func (b *Broker) Publish(topic string, payload []byte) error {
	err := b.Conn.Publish(topic, payload)
	if err != nil {
		log.Errorf("Error publishing to topic %s: %s", topic, err)
		return err
	}

	return nil
}
