package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cuehall/venue-services/internal/tablesvc/models"
)

type env struct {
	tables   *fakeTables
	sessions *fakeSessions
	venues   *fakeVenues
	users    *fakeUsers
	ledger   *fakeLedger
	holds    *fakeHolds
	archive  *fakeArchiver
	dispatch *fakeDispatcher
	alert    *fakeAlerter
	gateway  *fakeGateway
	svc      *AdmissionService
}

// newEnv wires the service against fakes with venue 1 (25 tokens per
// game) and users 1..9 registered.
func newEnv(t *testing.T, tables ...*models.Table) *env {
	t.Helper()
	e := &env{
		tables:   newFakeTables(tables...),
		sessions: newFakeSessions(),
		venues:   &fakeVenues{rows: map[int64]*models.Venue{}},
		users:    &fakeUsers{rows: map[int64]*models.User{}},
		ledger:   newFakeLedger(),
		holds:    newFakeHolds(),
		archive:  &fakeArchiver{},
		dispatch: &fakeDispatcher{},
		alert:    &fakeAlerter{},
		gateway:  &fakeGateway{},
	}
	e.venues.rows[1] = &models.Venue{ID: 1, Name: "Cue Hall", PerGameCost: decimal.NewFromInt(25)}
	for i := int64(1); i <= 9; i++ {
		e.users.rows[i] = &models.User{UserId: i, Name: "player"}
	}
	e.svc = NewAdmissionService(
		e.tables, e.sessions, e.venues, e.users, e.ledger, e.holds,
		e.archive, e.dispatch, e.alert, e.gateway, 180*time.Second,
	)
	return e
}

func (e *env) mustTable(t *testing.T, id int64) *models.Table {
	t.Helper()
	tbl, err := e.tables.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get table %d: %v", id, err)
	}
	return tbl
}

func (e *env) mustSession(t *testing.T, id string) *models.GameSession {
	t.Helper()
	g, err := e.sessions.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get session %s: %v", id, err)
	}
	return g
}

func (e *env) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	bal, err := e.ledger.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance %d: %v", userID, err)
	}
	return bal
}

func (e *env) fund(userID int64, amount int64) {
	e.ledger.balances[userID] = decimal.NewFromInt(amount)
}

func activeSession(e *env, t *testing.T, tableID int64, p1, p2 int64) *models.GameSession {
	t.Helper()
	g := &models.GameSession{
		ID:        "g-" + time.Now().Format("150405.000000"),
		TableID:   tableID,
		VenueID:   1,
		Player1:   p1,
		Player2:   p2,
		Cost:      decimal.NewFromInt(25),
		Status:    models.SessionActive,
		Type:      models.SessionPerGame,
		StartTime: time.Now(),
	}
	if err := e.sessions.Create(context.Background(), g); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	return g
}

func TestJoinQueueSeatsFromOpenSlot(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &models.Table{ID: 1, VenueID: 1, Status: models.TableAvailable})

	if err := e.svc.JoinQueue(ctx, 1, 1); err != nil {
		t.Fatalf("join queue: %v", err)
	}

	tbl := e.mustTable(t, 1)
	if tbl.Player1 != 1 || len(tbl.Queue) != 0 {
		t.Fatalf("expected user seated straight from the queue: %+v", tbl)
	}
	if tbl.Status != models.TableOccupied {
		t.Fatalf("expected occupied, got %s", tbl.Status)
	}
	if !e.dispatch.has("invitation:1") {
		t.Fatalf("expected invitation for user 1, got %v", e.dispatch.events)
	}

	if err := e.svc.JoinQueue(ctx, 1, 1); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict for seated user, got %v", err)
	}
	if err := e.svc.JoinQueue(ctx, 1, 99); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}
}

func TestJoinQueueKeepsArrivalOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &models.Table{ID: 1, VenueID: 1, Status: models.TableInPlay, Player1: 1, Player2: 2, CurrentSessionID: "busy"})
	g := activeSession(e, t, 1, 1, 2)
	tbl := e.mustTable(t, 1)
	tbl.CurrentSessionID = g.ID
	if err := e.tables.Update(ctx, tbl); err != nil {
		t.Fatalf("seed: %v", err)
	}

	for _, uid := range []int64{3, 4, 5} {
		if err := e.svc.JoinQueue(ctx, 1, uid); err != nil {
			t.Fatalf("join queue %d: %v", uid, err)
		}
	}

	tbl = e.mustTable(t, 1)
	if len(tbl.Queue) != 3 || tbl.Queue[0] != 3 || tbl.Queue[1] != 4 || tbl.Queue[2] != 5 {
		t.Fatalf("queue must keep arrival order, got %v", tbl.Queue)
	}
	if err := e.svc.JoinQueue(ctx, 1, 4); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate join, got %v", err)
	}
}

func TestLeaveQueueAndDecline(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &models.Table{ID: 1, VenueID: 1, Status: models.TableOccupied, Player1: 1, Queue: []int64{2, 3}})

	// queued user leaves, order of the rest holds
	if err := e.svc.LeaveQueue(ctx, 1, 2); err != nil {
		t.Fatalf("leave queue: %v", err)
	}
	tbl := e.mustTable(t, 1)
	if len(tbl.Queue) != 1 || tbl.Queue[0] != 3 {
		t.Fatalf("unexpected queue %v", tbl.Queue)
	}

	// seated but unpaid user declines: slot vacated, next invited
	if err := e.svc.LeaveQueue(ctx, 1, 1); err != nil {
		t.Fatalf("decline: %v", err)
	}
	tbl = e.mustTable(t, 1)
	if tbl.Player1 != 3 || len(tbl.Queue) != 0 {
		t.Fatalf("expected next in line seated, got %+v", tbl)
	}
	if !e.dispatch.has("invitation:3") {
		t.Fatalf("expected invitation for user 3")
	}

	if err := e.svc.LeaveQueue(ctx, 1, 9); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLeaveQueueBlockedDuringSession(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &models.Table{ID: 1, VenueID: 1, Status: models.TableInPlay, Player1: 1, Player2: 2})
	g := activeSession(e, t, 1, 1, 2)
	tbl := e.mustTable(t, 1)
	tbl.CurrentSessionID = g.ID
	if err := e.tables.Update(ctx, tbl); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := e.svc.LeaveQueue(ctx, 1, 1); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("leaving a live session must be ErrConflict, got %v", err)
	}
}

func TestAcceptInvitationAndConfirmPayment(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &models.Table{ID: 1, VenueID: 1, Status: models.TableOccupied, Player1: 1})

	if _, err := e.svc.AcceptInvitation(ctx, 1, 2); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-occupant, got %v", err)
	}

	sess, err := e.svc.AcceptInvitation(ctx, 1, 1)
	if err != nil {
		t.Fatalf("accept invitation: %v", err)
	}
	if sess.Status != models.SessionPending || !sess.Cost.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("unexpected session %+v", sess)
	}
	if tbl := e.mustTable(t, 1); tbl.CurrentSessionID != sess.ID {
		t.Fatalf("table must reference the pending session")
	}
	if active, _ := e.holds.Active(ctx, sess.ID); !active {
		t.Fatalf("payment window must be open")
	}

	// a second reservation against the same table loses
	if _, err := e.svc.AcceptInvitation(ctx, 1, 1); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// the cost was snapshotted; a venue price change does not touch it
	e.venues.rows[1].PerGameCost = decimal.NewFromInt(40)

	if err := e.svc.ConfirmPayment(ctx, sess.ID, 2); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for wrong payer, got %v", err)
	}
	if err := e.svc.ConfirmPayment(ctx, sess.ID, 1); !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if e.mustSession(t, sess.ID).Status != models.SessionPending {
		t.Fatalf("failed debit must leave the session pending")
	}

	e.fund(1, 100)
	if err := e.svc.ConfirmPayment(ctx, sess.ID, 1); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if got := e.balance(t, 1); !got.Equal(decimal.NewFromInt(75)) {
		t.Fatalf("expected 25 debited at the snapshot price, balance %s", got)
	}
	if e.mustSession(t, sess.ID).Status != models.SessionActive {
		t.Fatalf("session must be active after payment")
	}
	if tbl := e.mustTable(t, 1); tbl.Status != models.TableInPlay {
		t.Fatalf("expected in_play, got %s", tbl.Status)
	}
	if active, _ := e.holds.Active(ctx, sess.ID); active {
		t.Fatalf("hold must be released after payment")
	}
}

func TestWinHandshake(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &models.Table{ID: 1, VenueID: 1, Status: models.TableInPlay, Player1: 1, Player2: 2, Queue: []int64{3}})
	g := activeSession(e, t, 1, 1, 2)
	tbl := e.mustTable(t, 1)
	tbl.CurrentSessionID = g.ID
	if err := e.tables.Update(ctx, tbl); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := e.svc.ClaimWin(ctx, 1, 9); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for spectator claim, got %v", err)
	}
	if err := e.svc.ClaimWin(ctx, 1, 1); err != nil {
		t.Fatalf("claim win: %v", err)
	}

	tbl = e.mustTable(t, 1)
	if tbl.Status != models.TableAwaitingConfirmation {
		t.Fatalf("expected awaiting_confirmation, got %s", tbl.Status)
	}
	sess := e.mustSession(t, g.ID)
	if sess.Status != models.SessionAwaitingConfirmation || sess.ClaimantID != 1 {
		t.Fatalf("unexpected session %+v", sess)
	}
	if !e.dispatch.has("win-claimed:2") {
		t.Fatalf("opponent must be asked to confirm")
	}

	// a second claim cannot race the first
	if err := e.svc.ClaimWin(ctx, 1, 2); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	// nobody confirms their own win
	if err := e.svc.ConfirmWin(ctx, 1, g.ID, 1, 1); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("self-confirmation must be ErrForbidden, got %v", err)
	}
	if err := e.svc.ConfirmWin(ctx, 1, g.ID, 9, 2); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("winner outside the table must be ErrForbidden, got %v", err)
	}

	if err := e.svc.ConfirmWin(ctx, 1, g.ID, 1, 2); err != nil {
		t.Fatalf("confirm win: %v", err)
	}

	tbl = e.mustTable(t, 1)
	if tbl.Player1 != 1 {
		t.Fatalf("winner must keep the table, p1=%d", tbl.Player1)
	}
	if tbl.Player2 != 3 {
		t.Fatalf("head of queue must take the freed slot, p2=%d", tbl.Player2)
	}
	if len(tbl.Queue) != 0 {
		t.Fatalf("queue should be drained, got %v", tbl.Queue)
	}

	sess = e.mustSession(t, g.ID)
	if sess.Status != models.SessionCompleted || sess.WinnerID != 1 {
		t.Fatalf("unexpected session %+v", sess)
	}
	if got := e.balance(t, 1); !got.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("winner payout missing, balance %s", got)
	}
	if !e.dispatch.has("invitation:3") || !e.dispatch.has("win-confirmed:1") {
		t.Fatalf("missing fan-out: %v", e.dispatch.events)
	}

	// the handshake is over; a replay cannot settle twice
	if err := e.svc.ConfirmWin(ctx, 1, g.ID, 1, 2); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on replay, got %v", err)
	}
	if got := e.balance(t, 1); !got.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("replay must not pay twice, balance %s", got)
	}
}

func TestDisputeEscalatesToMaintenance(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &models.Table{ID: 1, VenueID: 1, Status: models.TableInPlay, Player1: 1, Player2: 2})
	g := activeSession(e, t, 1, 1, 2)
	tbl := e.mustTable(t, 1)
	tbl.CurrentSessionID = g.ID
	if err := e.tables.Update(ctx, tbl); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := e.svc.ClaimWin(ctx, 1, 1); err != nil {
		t.Fatalf("claim win: %v", err)
	}
	if err := e.svc.DisputeWin(ctx, 1, g.ID, 1); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("claimant cannot dispute their own claim, got %v", err)
	}
	if err := e.svc.DisputeWin(ctx, 1, g.ID, 2); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	tbl = e.mustTable(t, 1)
	if tbl.Status != models.TableMaintenance {
		t.Fatalf("expected maintenance, got %s", tbl.Status)
	}
	if tbl.Player1 != 1 || tbl.Player2 != 2 {
		t.Fatalf("dispute must freeze the table, got %+v", tbl)
	}
	if e.mustSession(t, g.ID).Status != models.SessionDisputed {
		t.Fatalf("session must be disputed")
	}
	if !e.balance(t, 1).IsZero() || !e.balance(t, 2).IsZero() {
		t.Fatalf("no tokens move on a dispute")
	}
	if e.alert.count() != 1 {
		t.Fatalf("expected one operator alert, got %d", e.alert.count())
	}
}

func TestAdminResolveDispute(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t,
		&models.Table{ID: 1, VenueID: 1, Status: models.TableMaintenance, Player1: 1, Player2: 2, CurrentSessionID: "d1"},
		&models.Table{ID: 2, VenueID: 1, Status: models.TableMaintenance, Player1: 3, Player2: 4, CurrentSessionID: "d2"},
	)
	for i, ids := range [][2]int64{{1, 2}, {3, 4}} {
		g := &models.GameSession{
			ID: fmt.Sprintf("d%d", i+1), TableID: int64(i + 1), VenueID: 1,
			Player1: ids[0], Player2: ids[1],
			Cost: decimal.NewFromInt(25), Status: models.SessionDisputed, Type: models.SessionPerGame,
		}
		if err := e.sessions.Create(ctx, g); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	// awarding the win pays out and applies winner-stays
	if err := e.svc.AdminResolveDispute(ctx, 1, 2); err != nil {
		t.Fatalf("resolve with winner: %v", err)
	}
	tbl := e.mustTable(t, 1)
	if tbl.Player1 != 2 || tbl.Player2 != 0 || tbl.Status != models.TableAvailable {
		t.Fatalf("unexpected table after resolution: %+v", tbl)
	}
	if got := e.balance(t, 2); !got.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("winner payout missing, balance %s", got)
	}

	// voiding the outcome empties the table and moves no tokens
	if err := e.svc.AdminResolveDispute(ctx, 2, 0); err != nil {
		t.Fatalf("void resolution: %v", err)
	}
	tbl = e.mustTable(t, 2)
	if tbl.Player1 != 0 || tbl.Player2 != 0 || tbl.Status != models.TableAvailable {
		t.Fatalf("void resolution must empty the table: %+v", tbl)
	}
	if !e.balance(t, 3).IsZero() || !e.balance(t, 4).IsZero() {
		t.Fatalf("void resolution must not pay out")
	}

	if err := e.svc.AdminResolveDispute(ctx, 1, 2); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState outside maintenance, got %v", err)
	}
}

func TestDirectJoinDisplacesQueue(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &models.Table{ID: 1, VenueID: 1, Status: models.TableAvailable, Queue: []int64{5, 6}})
	e.fund(9, 50)

	sess, err := e.svc.DirectJoin(ctx, 1, 9)
	if err != nil {
		t.Fatalf("direct join: %v", err)
	}
	if sess.Type != models.SessionDirectJoin || sess.Status != models.SessionActive {
		t.Fatalf("unexpected session %+v", sess)
	}
	if got := e.balance(t, 9); !got.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected immediate debit, balance %s", got)
	}

	tbl := e.mustTable(t, 1)
	if tbl.Player1 != 9 || len(tbl.Queue) != 0 {
		t.Fatalf("unexpected table %+v", tbl)
	}
	if !e.dispatch.has("queue-dropped:5") || !e.dispatch.has("queue-dropped:6") {
		t.Fatalf("displaced users must be told, got %v", e.dispatch.events)
	}
}

func TestDirectJoinRefundsOnLostRace(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &models.Table{ID: 1, VenueID: 1, Status: models.TableAvailable})
	e.fund(7, 30)
	e.tables.failNextUpdate = models.ErrConflict

	if _, err := e.svc.DirectJoin(ctx, 1, 7); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if got := e.balance(t, 7); !got.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("debit must be compensated after the lost race, balance %s", got)
	}
}

func TestDirectJoinInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &models.Table{ID: 1, VenueID: 1, Status: models.TableAvailable})
	e.fund(7, 10)

	if _, err := e.svc.DirectJoin(ctx, 1, 7); !errors.Is(err, models.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if tbl := e.mustTable(t, 1); tbl.Player1 != 0 || tbl.CurrentSessionID != "" {
		t.Fatalf("failed debit must leave the table untouched: %+v", tbl)
	}
}

func TestDropInSoloLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t,
		&models.Table{ID: 1, VenueID: 1, Status: models.TableAvailable},
		&models.Table{ID: 2, VenueID: 1, Status: models.TableOccupied, Player1: 8},
	)
	e.fund(4, 25)

	if _, err := e.svc.DropIn(ctx, 2, 4); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("drop-in needs an empty table, got %v", err)
	}

	sess, err := e.svc.DropIn(ctx, 1, 4)
	if err != nil {
		t.Fatalf("drop in: %v", err)
	}
	if !sess.Solo() {
		t.Fatalf("expected a solo session: %+v", sess)
	}

	// a solo session has no opponent to confirm a win
	if err := e.svc.ClaimWin(ctx, 1, 4); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for solo claim, got %v", err)
	}

	if err := e.svc.FinishSolo(ctx, 1, 9); !errors.Is(err, models.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got %v", err)
	}
	if err := e.svc.FinishSolo(ctx, 1, 4); err != nil {
		t.Fatalf("finish solo: %v", err)
	}

	tbl := e.mustTable(t, 1)
	if tbl.Status != models.TableOccupied || tbl.Player1 != 4 {
		t.Fatalf("player keeps the table after a solo game: %+v", tbl)
	}
	if e.mustSession(t, sess.ID).Status != models.SessionCompleted {
		t.Fatalf("session must be completed")
	}
	if got := e.balance(t, 4); !got.IsZero() {
		t.Fatalf("no payout for a solo game, balance %s", got)
	}
}

func TestTokenPurchaseWebhookIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	sess, err := e.svc.RequestTokenPurchase(ctx, 1, decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("request purchase: %v", err)
	}
	if sess.PaymentIntentID == "" || sess.Status != models.SessionPending {
		t.Fatalf("unexpected session %+v", sess)
	}

	ev := PaymentEvent{
		PaymentIntentID: sess.PaymentIntentID,
		Status:          "success",
		UserID:          1,
		Tokens:          decimal.NewFromInt(50),
	}
	if err := e.svc.OnPaymentWebhook(ctx, ev); err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if got := e.balance(t, 1); !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected credited balance 50, got %s", got)
	}
	if e.mustSession(t, sess.ID).Status != models.SessionCompleted {
		t.Fatalf("purchase session must complete")
	}
	if e.alert.count() != 1 {
		t.Fatalf("expected one purchase alert, got %d", e.alert.count())
	}

	// gateway retries: the replayed event credits nothing
	if err := e.svc.OnPaymentWebhook(ctx, ev); err != nil {
		t.Fatalf("webhook replay: %v", err)
	}
	if got := e.balance(t, 1); !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("replay must not credit twice, balance %s", got)
	}
	if e.alert.count() != 1 {
		t.Fatalf("replay must not alert twice")
	}
}

func TestFailedPaymentCancelsPurchase(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	sess, err := e.svc.RequestTokenPurchase(ctx, 1, decimal.NewFromInt(50))
	if err != nil {
		t.Fatalf("request purchase: %v", err)
	}

	ev := PaymentEvent{PaymentIntentID: sess.PaymentIntentID, Status: "failed", UserID: 1}
	if err := e.svc.OnPaymentWebhook(ctx, ev); err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if e.mustSession(t, sess.ID).Status != models.SessionCancelled {
		t.Fatalf("failed payment must cancel the purchase")
	}
	if !e.balance(t, 1).IsZero() {
		t.Fatalf("failed payment must not credit")
	}

	if err := e.svc.OnPaymentWebhook(ctx, PaymentEvent{Status: "success"}); !errors.Is(err, models.ErrPaymentVerification) {
		t.Fatalf("expected ErrPaymentVerification without intent id, got %v", err)
	}
}

func TestCancelExpiredPending(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &models.Table{ID: 1, VenueID: 1, Status: models.TableOccupied, Player1: 1})

	sess, err := e.svc.AcceptInvitation(ctx, 1, 1)
	if err != nil {
		t.Fatalf("accept invitation: %v", err)
	}

	// window still open: nothing happens
	if err := e.svc.CancelExpiredPending(ctx, sess.ID); err != nil {
		t.Fatalf("cancel while held: %v", err)
	}
	if e.mustSession(t, sess.ID).Status != models.SessionPending {
		t.Fatalf("held session must stay pending")
	}

	e.holds.expire(sess.ID)
	if err := e.svc.CancelExpiredPending(ctx, sess.ID); err != nil {
		t.Fatalf("cancel expired: %v", err)
	}
	if e.mustSession(t, sess.ID).Status != models.SessionCancelled {
		t.Fatalf("lapsed session must be cancelled")
	}
	tbl := e.mustTable(t, 1)
	if tbl.CurrentSessionID != "" || tbl.Status != models.TableOccupied {
		t.Fatalf("table must return to rotation: %+v", tbl)
	}
	if !e.dispatch.has("session-cancelled:payment window lapsed") {
		t.Fatalf("player must be told, got %v", e.dispatch.events)
	}

	// the sweeper may call again; a terminal session is left alone
	if err := e.svc.CancelExpiredPending(ctx, sess.ID); err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
}

func TestStaleUpdateSurfacesConflict(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &models.Table{ID: 1, VenueID: 1, Status: models.TableInPlay, Player1: 1, Player2: 2})
	g := activeSession(e, t, 1, 1, 2)
	tbl := e.mustTable(t, 1)
	tbl.CurrentSessionID = g.ID
	if err := e.tables.Update(ctx, tbl); err != nil {
		t.Fatalf("seed: %v", err)
	}

	e.tables.failNextUpdate = models.ErrConflict
	if err := e.svc.ClaimWin(ctx, 1, 1); !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// nothing moved: the caller re-reads and retries
	if e.mustTable(t, 1).Status != models.TableInPlay {
		t.Fatalf("table must be untouched after the lost race")
	}
	if e.mustSession(t, g.ID).Status != models.SessionActive {
		t.Fatalf("session must be untouched after the lost race")
	}
}

func TestAdminRemovePlayerCancelsAndRefunds(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &models.Table{ID: 1, VenueID: 1, Status: models.TableInPlay, Player1: 1, Player2: 2, Queue: []int64{3}})
	g := activeSession(e, t, 1, 1, 2)
	tbl := e.mustTable(t, 1)
	tbl.CurrentSessionID = g.ID
	if err := e.tables.Update(ctx, tbl); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := e.svc.AdminRemovePlayer(ctx, 1, 2); err != nil {
		t.Fatalf("remove player: %v", err)
	}

	if e.mustSession(t, g.ID).Status != models.SessionCancelled {
		t.Fatalf("live session must be cancelled")
	}
	// the payer gets the game cost back
	if got := e.balance(t, 1); !got.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("expected refund to the payer, balance %s", got)
	}

	tbl = e.mustTable(t, 1)
	if tbl.Occupies(2) {
		t.Fatalf("removed player still seated: %+v", tbl)
	}
	if !tbl.Occupies(3) {
		t.Fatalf("freed slot must go to the queue head: %+v", tbl)
	}
}

func TestConcurrentAdmissionsCannotOverdraw(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t,
		&models.Table{ID: 1, VenueID: 1, Status: models.TableAvailable},
		&models.Table{ID: 2, VenueID: 1, Status: models.TableAvailable},
	)
	// enough for exactly one game
	e.fund(7, 25)

	errs := make(chan error, 2)
	for _, tableID := range []int64{1, 2} {
		go func(id int64) {
			_, err := e.svc.DirectJoin(ctx, id, 7)
			errs <- err
		}(tableID)
	}

	var ok, broke int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			ok++
		case errors.Is(err, models.ErrInsufficientFunds):
			broke++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || broke != 1 {
		t.Fatalf("expected exactly one admission, got ok=%d broke=%d", ok, broke)
	}
	if !e.balance(t, 7).IsZero() {
		t.Fatalf("balance must land at zero, got %s", e.balance(t, 7))
	}
}

func TestAdminOutOfOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &models.Table{ID: 1, VenueID: 1, Status: models.TableOccupied, Player1: 1, Queue: []int64{2, 3}})

	if err := e.svc.AdminSetOutOfOrder(ctx, 1); err != nil {
		t.Fatalf("set out of order: %v", err)
	}
	tbl := e.mustTable(t, 1)
	if tbl.Status != models.TableOutOfOrder || len(tbl.Queue) != 0 {
		t.Fatalf("unexpected table %+v", tbl)
	}
	if !e.dispatch.has("queue-dropped:2") || !e.dispatch.has("queue-dropped:3") {
		t.Fatalf("queued users must be told, got %v", e.dispatch.events)
	}

	if err := e.svc.JoinQueue(ctx, 1, 4); !errors.Is(err, models.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState joining an out_of_order table, got %v", err)
	}

	if err := e.svc.AdminClearOutOfOrder(ctx, 1); err != nil {
		t.Fatalf("clear out of order: %v", err)
	}
	if tbl := e.mustTable(t, 1); tbl.Status != models.TableOccupied {
		t.Fatalf("expected occupied with the player still seated, got %s", tbl.Status)
	}
}
