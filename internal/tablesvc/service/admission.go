package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/cuehall/venue-services/internal/tablesvc/models"
)

// AdmissionService is the single entry point for everything that touches
// a table: queueing, invitations, paid admission, the win handshake and
// admin interventions. Callers arrive concurrently; every table write
// goes through the version-guarded store update, so two transitions from
// the same observed state can never both land. On ErrConflict the caller
// re-reads and retries.
type AdmissionService struct {
	tables   TableStore
	sessions SessionStore
	venues   VenueStore
	users    UserStore
	ledger   Ledger
	holds    HoldStore
	archive  Archiver
	dispatch Dispatcher
	alert    Alerter
	gateway  PaymentGateway

	paymentWindow time.Duration
}

func NewAdmissionService(
	tables TableStore, sessions SessionStore, venues VenueStore,
	users UserStore, ledger Ledger, holds HoldStore,
	archive Archiver, dispatch Dispatcher, alert Alerter,
	gateway PaymentGateway, paymentWindow time.Duration,
) *AdmissionService {
	return &AdmissionService{
		tables:        tables,
		sessions:      sessions,
		venues:        venues,
		users:         users,
		ledger:        ledger,
		holds:         holds,
		archive:       archive,
		dispatch:      dispatch,
		alert:         alert,
		gateway:       gateway,
		paymentWindow: paymentWindow,
	}
}

// JoinQueue appends the user to the table waitlist and immediately runs
// the invitation pass, so a queue join against a table with an open slot
// seats the player in the same operation.
func (s *AdmissionService) JoinQueue(ctx context.Context, tableID, userID int64) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return err
	}

	t, err := s.tables.Get(ctx, tableID)
	if err != nil {
		return err
	}
	if err := t.Enqueue(userID); err != nil {
		return err
	}

	invited, err := s.inviteNext(ctx, t)
	if err != nil {
		return err
	}

	if err := s.tables.Update(ctx, t); err != nil {
		return err
	}

	s.dispatch.QueueUpdate(t)
	s.dispatch.TableStatus(t)
	for _, uid := range invited {
		s.dispatch.Invitation(t, uid)
	}
	return nil
}

// LeaveQueue removes the user from the waitlist, or vacates their slot
// when they decline an invitation they have not yet paid for. Leaving an
// active session is an admin matter.
func (s *AdmissionService) LeaveQueue(ctx context.Context, tableID, userID int64) error {
	t, err := s.tables.Get(ctx, tableID)
	if err != nil {
		return err
	}

	var invited []int64
	switch {
	case t.Queued(userID):
		if err := t.RemoveFromQueue(userID); err != nil {
			return err
		}
	case t.Occupies(userID):
		if t.CurrentSessionID != "" {
			return models.ErrConflict
		}
		if t.Status == models.TableAwaitingConfirmation || t.Status == models.TableMaintenance {
			return models.ErrInvalidState
		}
		if err := t.ClearSlot(userID); err != nil {
			return err
		}
		if invited, err = s.inviteNext(ctx, t); err != nil {
			return err
		}
	default:
		return models.ErrNotFound
	}

	active, err := s.sessionActive(ctx, t)
	if err != nil {
		return err
	}
	t.RecomputeStatus(active)

	if err := s.tables.Update(ctx, t); err != nil {
		return err
	}

	s.dispatch.QueueUpdate(t)
	s.dispatch.TableStatus(t)
	for _, uid := range invited {
		s.dispatch.Invitation(t, uid)
	}
	return nil
}

// AcceptInvitation reserves the table for a paid game: a pending session
// is created at the venue's current per-game cost and the payment window
// opens. ConfirmPayment (or the gateway webhook) settles it.
func (s *AdmissionService) AcceptInvitation(ctx context.Context, tableID, userID int64) (*models.GameSession, error) {
	t, err := s.tables.Get(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if !t.Occupies(userID) {
		return nil, models.ErrForbidden
	}
	if t.CurrentSessionID != "" {
		return nil, models.ErrConflict
	}
	switch t.Status {
	case models.TableOccupied, models.TableInPlay, models.TableAvailable:
	default:
		return nil, models.ErrInvalidState
	}

	venue, err := s.venues.Get(ctx, t.VenueID)
	if err != nil {
		return nil, err
	}

	sess := &models.GameSession{
		ID:      uuid.NewString(),
		TableID: t.ID,
		VenueID: t.VenueID,
		Player1: userID,
		Cost:    venue.PerGameCost, // snapshot, never re-read for this session
		Status:  models.SessionPending,
		Type:    models.SessionPerGame,
	}
	if opp, ok := t.Opponent(userID); ok {
		sess.Player2 = opp
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	t.CurrentSessionID = sess.ID
	if err := s.tables.Update(ctx, t); err != nil {
		// The orphan pending row is swept once its window lapses.
		return nil, err
	}

	if err := s.holds.Hold(ctx, sess.ID, s.paymentWindow); err != nil {
		log.Errorf("hold for session %s: %v", sess.ID, err)
	}

	s.dispatch.TableStatus(t)
	return sess, nil
}

// ConfirmPayment debits the reserving player and starts the game.
func (s *AdmissionService) ConfirmPayment(ctx context.Context, sessionID string, userID int64) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Player1 != userID {
		return models.ErrForbidden
	}
	if sess.Status != models.SessionPending {
		return models.ErrInvalidState
	}

	if err := s.ledger.Debit(ctx, userID, sess.Cost, "game_debit", "session:"+sess.ID); err != nil {
		return err
	}

	sess.Status = models.SessionActive
	sess.StartTime = time.Now()
	if err := s.sessions.Update(ctx, sess); err != nil {
		return err
	}

	if err := s.holds.Release(ctx, sess.ID); err != nil {
		log.Errorf("release hold for session %s: %v", sess.ID, err)
	}

	t, err := s.tables.Get(ctx, sess.TableID)
	if err != nil {
		return err
	}
	t.RecomputeStatus(true)
	if err := s.tables.Update(ctx, t); err != nil {
		return err
	}

	s.dispatch.TableStatus(t)
	s.publishBalance(ctx, userID)
	return nil
}

// DirectJoin debits and seats the caller in one step, bypassing the
// waitlist. Anyone still queued is displaced and told so.
func (s *AdmissionService) DirectJoin(ctx context.Context, tableID, userID int64) (*models.GameSession, error) {
	return s.directAdmit(ctx, tableID, userID, models.SessionDirectJoin)
}

// DropIn starts a paid solo session on an empty table. The session closes
// through FinishSolo, not the two-party win handshake.
func (s *AdmissionService) DropIn(ctx context.Context, tableID, userID int64) (*models.GameSession, error) {
	return s.directAdmit(ctx, tableID, userID, models.SessionDropIn)
}

func (s *AdmissionService) directAdmit(ctx context.Context, tableID, userID int64, stype models.SessionType) (*models.GameSession, error) {
	t, err := s.tables.Get(ctx, tableID)
	if err != nil {
		return nil, err
	}
	switch t.Status {
	case models.TableAvailable, models.TableOccupied:
	default:
		return nil, models.ErrInvalidState
	}
	if t.Occupies(userID) {
		return nil, models.ErrConflict
	}
	if t.CurrentSessionID != "" {
		return nil, models.ErrConflict
	}
	if stype == models.SessionDropIn && t.OccupantCount() != 0 {
		return nil, models.ErrConflict
	}

	venue, err := s.venues.Get(ctx, t.VenueID)
	if err != nil {
		return nil, err
	}

	sessID := uuid.NewString()
	if err := s.ledger.Debit(ctx, userID, venue.PerGameCost, "game_debit", "session:"+sessID); err != nil {
		return nil, err
	}

	// A table cannot be open for direct play and carry a live queue at
	// the same time: displace and notify, never drop silently.
	displaced := t.Queue
	t.Queue = []int64{}
	if err := t.Seat(userID); err != nil {
		s.refund(ctx, userID, venue.PerGameCost, sessID)
		return nil, err
	}
	t.CurrentSessionID = sessID
	t.RecomputeStatus(true)

	if err := s.tables.Update(ctx, t); err != nil {
		// lost the race after the debit; the idempotent refund puts the
		// tokens back before the caller retries
		s.refund(ctx, userID, venue.PerGameCost, sessID)
		return nil, err
	}

	sess := &models.GameSession{
		ID:        sessID,
		TableID:   t.ID,
		VenueID:   t.VenueID,
		Player1:   userID,
		Cost:      venue.PerGameCost,
		Status:    models.SessionActive,
		Type:      stype,
		StartTime: time.Now(),
	}
	if opp, ok := t.Opponent(userID); ok {
		sess.Player2 = opp
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	for _, uid := range displaced {
		s.dispatch.QueueDropped(t, uid)
	}
	s.dispatch.TableStatus(t)
	s.publishBalance(ctx, userID)
	return sess, nil
}

// ClaimWin opens the confirmation handshake. Only a seated player with a
// seated opponent can claim; the opponent is asked to confirm.
func (s *AdmissionService) ClaimWin(ctx context.Context, tableID, userID int64) error {
	t, err := s.tables.Get(ctx, tableID)
	if err != nil {
		return err
	}
	if t.CurrentSessionID == "" {
		return models.ErrInvalidState
	}

	sess, err := s.sessions.Get(ctx, t.CurrentSessionID)
	if err != nil {
		return err
	}
	if sess.Status != models.SessionActive {
		return models.ErrInvalidState
	}

	opponent, err := t.BeginConfirmation(userID)
	if err != nil {
		return err
	}

	sess.Status = models.SessionAwaitingConfirmation
	sess.ClaimantID = userID

	if err := s.tables.Update(ctx, t); err != nil {
		return err
	}
	if err := s.sessions.Update(ctx, sess); err != nil {
		return err
	}

	s.dispatch.WinClaimed(sess, opponent)
	s.dispatch.TableStatus(t)
	return nil
}

// ConfirmWin settles the handshake: the confirmer must be the occupant
// other than the winner, self-confirmation is always Forbidden. The
// winner is credited the session cost and keeps the table.
func (s *AdmissionService) ConfirmWin(ctx context.Context, tableID int64, sessionID string, winnerID, confirmerID int64) error {
	if confirmerID == winnerID {
		return models.ErrForbidden
	}

	t, err := s.tables.Get(ctx, tableID)
	if err != nil {
		return err
	}
	if t.Status != models.TableAwaitingConfirmation {
		return models.ErrInvalidState
	}
	if t.CurrentSessionID != sessionID {
		return models.ErrConflict
	}
	if !t.Occupies(confirmerID) || !t.Occupies(winnerID) {
		return models.ErrForbidden
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != models.SessionAwaitingConfirmation {
		return models.ErrInvalidState
	}

	now := time.Now()
	if err := t.SettleWin(winnerID, now); err != nil {
		return err
	}
	invited, err := s.inviteNext(ctx, t)
	if err != nil {
		return err
	}

	if err := s.tables.Update(ctx, t); err != nil {
		return err
	}

	sess.Status = models.SessionCompleted
	sess.WinnerID = winnerID
	sess.EndTime = now
	if err := s.sessions.Update(ctx, sess); err != nil {
		return err
	}

	if _, err := s.ledger.Credit(ctx, winnerID, sess.Cost, "win_credit", "win:"+sess.ID); err != nil {
		// table and session already settled; the ref stays unused so a
		// manual re-credit is safe
		log.Errorf("win credit for session %s: %v", sess.ID, err)
		return fmt.Errorf("win credit: %w", models.ErrExternalService)
	}

	s.archiveSession(ctx, sess, "")
	s.dispatch.WinConfirmed(sess)
	s.dispatch.TableStatus(t)
	s.publishBalance(ctx, winnerID)
	for _, uid := range invited {
		s.dispatch.Invitation(t, uid)
	}
	return nil
}

// DisputeWin escalates the handshake to admin review. Only the occupant
// who did not claim may dispute; no tokens move.
func (s *AdmissionService) DisputeWin(ctx context.Context, tableID int64, sessionID string, disputerID int64) error {
	t, err := s.tables.Get(ctx, tableID)
	if err != nil {
		return err
	}
	if t.Status != models.TableAwaitingConfirmation {
		return models.ErrInvalidState
	}
	if t.CurrentSessionID != sessionID {
		return models.ErrConflict
	}
	if !t.Occupies(disputerID) {
		return models.ErrForbidden
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != models.SessionAwaitingConfirmation {
		return models.ErrInvalidState
	}
	if disputerID == sess.ClaimantID {
		return models.ErrForbidden
	}

	if err := t.EscalateDispute(); err != nil {
		return err
	}
	if err := s.tables.Update(ctx, t); err != nil {
		return err
	}

	sess.Status = models.SessionDisputed
	sess.EndTime = time.Now()
	if err := s.sessions.Update(ctx, sess); err != nil {
		return err
	}

	s.archiveSession(ctx, sess, fmt.Sprintf("disputed by %d", disputerID))
	if s.alert != nil {
		s.alert.SendNotification(fmt.Sprintf(
			"⚠️ *WIN DISPUTED*\n\nTable: %d\nSession: %s\nClaimant: %d\nDisputer: %d",
			t.ID, sess.ID, sess.ClaimantID, disputerID))
	}
	s.dispatch.WinDisputed(sess, disputerID)
	s.dispatch.TableStatus(t)
	return nil
}

// FinishSolo closes a paid drop-in session on the external game-finished
// signal. No winner, no payout.
func (s *AdmissionService) FinishSolo(ctx context.Context, tableID, userID int64) error {
	t, err := s.tables.Get(ctx, tableID)
	if err != nil {
		return err
	}
	if t.CurrentSessionID == "" {
		return models.ErrInvalidState
	}

	sess, err := s.sessions.Get(ctx, t.CurrentSessionID)
	if err != nil {
		return err
	}
	if sess.Status != models.SessionActive || !sess.Solo() {
		return models.ErrInvalidState
	}
	if sess.Player1 != userID {
		return models.ErrForbidden
	}

	now := time.Now()
	if err := t.FinishSolo(now); err != nil {
		return err
	}
	if err := s.tables.Update(ctx, t); err != nil {
		return err
	}

	sess.Status = models.SessionCompleted
	sess.EndTime = now
	if err := s.sessions.Update(ctx, sess); err != nil {
		return err
	}

	s.archiveSession(ctx, sess, "solo finished")
	s.dispatch.TableStatus(t)
	return nil
}

// AdminRemovePlayer evicts a player from a slot or the waitlist. A
// non-terminal session on the table is cancelled; an already-debited
// game is refunded to the payer.
func (s *AdmissionService) AdminRemovePlayer(ctx context.Context, tableID, playerID int64) error {
	t, err := s.tables.Get(ctx, tableID)
	if err != nil {
		return err
	}

	if t.Queued(playerID) {
		if err := t.RemoveFromQueue(playerID); err != nil {
			return err
		}
		if err := s.tables.Update(ctx, t); err != nil {
			return err
		}
		s.dispatch.QueueDropped(t, playerID)
		s.dispatch.QueueUpdate(t)
		return nil
	}

	if !t.Occupies(playerID) {
		return models.ErrNotFound
	}

	var cancelled *models.GameSession
	if t.CurrentSessionID != "" {
		sess, err := s.sessions.Get(ctx, t.CurrentSessionID)
		if err != nil {
			return err
		}
		if !sess.Status.Terminal() {
			if err := s.cancelSession(ctx, sess, "removed by admin"); err != nil {
				return err
			}
			cancelled = sess
			// cancelSession released the table row; work from the fresh one
			if t, err = s.tables.Get(ctx, tableID); err != nil {
				return err
			}
		} else {
			t.CurrentSessionID = ""
		}
	}

	if err := t.ClearSlot(playerID); err != nil {
		return err
	}
	t.ReturnToRotation()
	invited, err := s.inviteNext(ctx, t)
	if err != nil {
		return err
	}
	if err := s.tables.Update(ctx, t); err != nil {
		return err
	}

	if cancelled != nil {
		s.dispatch.SessionCancelled(cancelled, "removed by admin")
	}
	s.dispatch.TableStatus(t)
	for _, uid := range invited {
		s.dispatch.Invitation(t, uid)
	}
	return nil
}

// AdminClearQueue drops every queued user. They are told the queue was
// cleared, which is not the same message as a decline.
func (s *AdmissionService) AdminClearQueue(ctx context.Context, tableID int64) error {
	t, err := s.tables.Get(ctx, tableID)
	if err != nil {
		return err
	}

	dropped := t.Queue
	t.Queue = []int64{}
	if err := s.tables.Update(ctx, t); err != nil {
		return err
	}

	for _, uid := range dropped {
		s.dispatch.QueueDropped(t, uid)
	}
	s.dispatch.QueueUpdate(t)
	return nil
}

// AdminResolveDispute clears a table stuck in maintenance. With a winner
// the session cost is paid out and winner-stays applies; with winnerID 0
// the outcome is voided and the table emptied. The disputed session
// record itself stays disputed; the resolution is archived alongside it.
func (s *AdmissionService) AdminResolveDispute(ctx context.Context, tableID, winnerID int64) error {
	t, err := s.tables.Get(ctx, tableID)
	if err != nil {
		return err
	}
	if t.Status != models.TableMaintenance {
		return models.ErrInvalidState
	}

	sessionID := t.CurrentSessionID
	var sess *models.GameSession
	if sessionID != "" {
		if sess, err = s.sessions.Get(ctx, sessionID); err != nil {
			return err
		}
	}

	now := time.Now()
	if winnerID != 0 {
		if err := t.SettleWin(winnerID, now); err != nil {
			return err
		}
	} else {
		if err := t.ClearForResolution(now); err != nil {
			return err
		}
	}

	invited, err := s.inviteNext(ctx, t)
	if err != nil {
		return err
	}
	if err := s.tables.Update(ctx, t); err != nil {
		return err
	}

	if sess != nil && winnerID != 0 {
		if _, err := s.ledger.Credit(ctx, winnerID, sess.Cost, "win_credit", "resolve:"+sess.ID); err != nil {
			log.Errorf("resolution credit for session %s: %v", sess.ID, err)
			return fmt.Errorf("resolution credit: %w", models.ErrExternalService)
		}
		s.publishBalance(ctx, winnerID)
	}
	if sess != nil {
		s.archiveSession(ctx, sess, fmt.Sprintf("admin resolved, winner %d", winnerID))
	}

	s.dispatch.TableStatus(t)
	for _, uid := range invited {
		s.dispatch.Invitation(t, uid)
	}
	return nil
}

// AdminSetOutOfOrder takes a table out of service from any state; any
// queue is cleared with notice.
func (s *AdmissionService) AdminSetOutOfOrder(ctx context.Context, tableID int64) error {
	t, err := s.tables.Get(ctx, tableID)
	if err != nil {
		return err
	}

	dropped := t.Queue
	t.Queue = []int64{}
	t.SetOutOfOrder()
	if err := s.tables.Update(ctx, t); err != nil {
		return err
	}

	for _, uid := range dropped {
		s.dispatch.QueueDropped(t, uid)
	}
	s.dispatch.TableStatus(t)
	return nil
}

func (s *AdmissionService) AdminClearOutOfOrder(ctx context.Context, tableID int64) error {
	t, err := s.tables.Get(ctx, tableID)
	if err != nil {
		return err
	}
	if err := t.ClearOutOfOrder(); err != nil {
		return err
	}
	if err := s.tables.Update(ctx, t); err != nil {
		return err
	}
	s.dispatch.TableStatus(t)
	return nil
}

// RequestTokenPurchase opens a payment intent with the gateway and
// records the purchase session the webhook will settle.
func (s *AdmissionService) RequestTokenPurchase(ctx context.Context, userID int64, tokens decimal.Decimal) (*models.GameSession, error) {
	if tokens.LessThanOrEqual(decimal.Zero) {
		return nil, models.ErrInvalidState
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	intentID, err := s.gateway.CreateIntent(ctx, userID, tokens)
	if err != nil {
		return nil, fmt.Errorf("create intent: %w", models.ErrExternalService)
	}

	sess := &models.GameSession{
		ID:              uuid.NewString(),
		Player1:         userID,
		Cost:            tokens,
		Status:          models.SessionPending,
		Type:            models.SessionTokenPurchase,
		PaymentIntentID: intentID,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// PaymentEvent is a gateway webhook event after signature verification.
type PaymentEvent struct {
	PaymentIntentID string
	Status          string // success | failed
	UserID          int64
	Tokens          decimal.Decimal
}

// OnPaymentWebhook applies a verified gateway event. Delivery is
// at-least-once: the credit is keyed by the payment intent id and a
// replay is a no-op.
func (s *AdmissionService) OnPaymentWebhook(ctx context.Context, ev PaymentEvent) error {
	if ev.PaymentIntentID == "" {
		return models.ErrPaymentVerification
	}

	sess, err := s.sessions.GetByPaymentIntent(ctx, ev.PaymentIntentID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}

	if ev.Status != "success" {
		if sess != nil && sess.Status == models.SessionPending {
			if err := s.cancelSession(ctx, sess, "payment failed"); err != nil {
				return err
			}
			s.dispatch.SessionCancelled(sess, "payment failed")
		}
		return nil
	}

	if sess != nil && sess.Type == models.SessionPerGame {
		return s.settleExternalPayment(ctx, sess)
	}

	// token purchase: credit exactly once per intent id
	applied, err := s.ledger.Credit(ctx, ev.UserID, ev.Tokens, "purchase", ev.PaymentIntentID)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if sess != nil && sess.Status == models.SessionPending {
		sess.Status = models.SessionCompleted
		sess.EndTime = time.Now()
		if err := s.sessions.Update(ctx, sess); err != nil && !errors.Is(err, models.ErrConflict) {
			return err
		}
	}

	if s.alert != nil {
		s.alert.SendNotification(fmt.Sprintf(
			"💰 *TOKEN PURCHASE*\n\nUser: %d\nTokens: %s\nIntent: %s",
			ev.UserID, ev.Tokens.StringFixed(2), ev.PaymentIntentID))
	}
	s.publishBalance(ctx, ev.UserID)
	return nil
}

// CancelExpiredPending cancels a pending session whose payment window
// has lapsed, freeing the reserved table. The sweeper calls this for
// every candidate; a session that was paid in the meantime is left alone.
func (s *AdmissionService) CancelExpiredPending(ctx context.Context, sessionID string) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != models.SessionPending {
		return nil
	}

	active, err := s.holds.Active(ctx, sess.ID)
	if err != nil {
		log.Errorf("hold check for session %s: %v", sess.ID, err)
		return nil
	}
	if active {
		return nil
	}

	if err := s.cancelSession(ctx, sess, "payment window lapsed"); err != nil {
		return err
	}
	s.dispatch.SessionCancelled(sess, "payment window lapsed")
	return nil
}

// settleExternalPayment activates a pending per-game session paid through
// the gateway rather than the token ledger.
func (s *AdmissionService) settleExternalPayment(ctx context.Context, sess *models.GameSession) error {
	if sess.Status != models.SessionPending {
		return nil // replay
	}

	sess.Status = models.SessionActive
	sess.StartTime = time.Now()
	if err := s.sessions.Update(ctx, sess); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil
		}
		return err
	}

	if err := s.holds.Release(ctx, sess.ID); err != nil {
		log.Errorf("release hold for session %s: %v", sess.ID, err)
	}

	t, err := s.tables.Get(ctx, sess.TableID)
	if err != nil {
		return err
	}
	t.RecomputeStatus(true)
	if err := s.tables.Update(ctx, t); err != nil {
		return err
	}
	s.dispatch.TableStatus(t)
	return nil
}

// cancelSession marks the session cancelled, refunds an already-debited
// game to the payer and releases the table reference.
func (s *AdmissionService) cancelSession(ctx context.Context, sess *models.GameSession, reason string) error {
	debited := sess.Status == models.SessionActive || sess.Status == models.SessionAwaitingConfirmation

	sess.Status = models.SessionCancelled
	sess.EndTime = time.Now()
	if err := s.sessions.Update(ctx, sess); err != nil {
		return err
	}

	if err := s.holds.Release(ctx, sess.ID); err != nil {
		log.Errorf("release hold for session %s: %v", sess.ID, err)
	}

	if debited && sess.Type != models.SessionTokenPurchase {
		s.refund(ctx, sess.Player1, sess.Cost, sess.ID)
		s.publishBalance(ctx, sess.Player1)
	}

	if sess.TableID != 0 {
		t, err := s.tables.Get(ctx, sess.TableID)
		if err != nil {
			return err
		}
		if t.CurrentSessionID == sess.ID {
			t.CurrentSessionID = ""
			t.ReturnToRotation()
			if err := s.tables.Update(ctx, t); err != nil {
				return err
			}
			s.dispatch.TableStatus(t)
		}
	}

	s.archiveSession(ctx, sess, reason)
	return nil
}

// inviteNext fills open slots from the queue head, skipping users that
// vanished since they joined. Bounded by the queue length.
func (s *AdmissionService) inviteNext(ctx context.Context, t *models.Table) ([]int64, error) {
	var invited []int64
	for t.HasOpenSlot() {
		uid, ok := t.Dequeue()
		if !ok {
			break
		}
		if _, err := s.users.GetByID(ctx, uid); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if err := t.Seat(uid); err != nil {
			break
		}
		invited = append(invited, uid)
	}
	if len(invited) > 0 {
		active, err := s.sessionActive(ctx, t)
		if err != nil {
			return nil, err
		}
		t.RecomputeStatus(active)
	}
	return invited, nil
}

// sessionActive reports whether the table's current session is a paid
// game underway.
func (s *AdmissionService) sessionActive(ctx context.Context, t *models.Table) (bool, error) {
	if t.CurrentSessionID == "" {
		return false, nil
	}
	sess, err := s.sessions.Get(ctx, t.CurrentSessionID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return sess.Status == models.SessionActive || sess.Status == models.SessionAwaitingConfirmation, nil
}

func (s *AdmissionService) refund(ctx context.Context, userID int64, amount decimal.Decimal, sessionID string) {
	if _, err := s.ledger.Credit(ctx, userID, amount, "refund", "refund:"+sessionID); err != nil {
		log.Errorf("refund for session %s user %d: %v", sessionID, userID, err)
	}
}

func (s *AdmissionService) archiveSession(ctx context.Context, sess *models.GameSession, note string) {
	if s.archive == nil {
		return
	}
	if err := s.archive.ArchiveSession(ctx, sess, note); err != nil {
		log.Errorf("archive session %s: %v", sess.ID, err)
	}
}

func (s *AdmissionService) publishBalance(ctx context.Context, userID int64) {
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		log.Errorf("balance for user %d: %v", userID, err)
		return
	}
	s.dispatch.TokenBalance(userID, balance)
}
