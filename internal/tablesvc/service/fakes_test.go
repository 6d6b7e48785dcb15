package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cuehall/venue-services/internal/tablesvc/models"
)

// In-memory fakes mirroring the guarded-update semantics of the pgx
// stores, so the service paths behave the same under test.

type fakeTables struct {
	mu             sync.Mutex
	rows           map[int64]*models.Table
	failNextUpdate error
}

func newFakeTables(tables ...*models.Table) *fakeTables {
	f := &fakeTables{rows: map[int64]*models.Table{}}
	for _, t := range tables {
		f.rows[t.ID] = cloneTable(t)
	}
	return f
}

func cloneTable(t *models.Table) *models.Table {
	c := *t
	c.Queue = append([]int64{}, t.Queue...)
	return &c
}

func (f *fakeTables) Get(ctx context.Context, tableID int64) (*models.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[tableID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneTable(t), nil
}

func (f *fakeTables) Update(ctx context.Context, t *models.Table) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextUpdate != nil {
		err := f.failNextUpdate
		f.failNextUpdate = nil
		return err
	}
	cur, ok := f.rows[t.ID]
	if !ok {
		return models.ErrNotFound
	}
	if cur.Version != t.Version {
		return models.ErrConflict
	}
	t.Version++
	f.rows[t.ID] = cloneTable(t)
	return nil
}

type fakeSessions struct {
	mu   sync.Mutex
	rows map[string]*models.GameSession
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{rows: map[string]*models.GameSession{}}
}

func cloneSession(g *models.GameSession) *models.GameSession {
	c := *g
	return &c
}

func (f *fakeSessions) Create(ctx context.Context, g *models.GameSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[g.ID]; ok {
		return models.ErrConflict
	}
	f.rows[g.ID] = cloneSession(g)
	return nil
}

func (f *fakeSessions) Get(ctx context.Context, id string) (*models.GameSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g, ok := f.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneSession(g), nil
}

func (f *fakeSessions) GetByPaymentIntent(ctx context.Context, intentID string) (*models.GameSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.rows {
		if g.PaymentIntentID == intentID {
			return cloneSession(g), nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeSessions) Update(ctx context.Context, g *models.GameSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[g.ID]
	if !ok {
		return models.ErrNotFound
	}
	if cur.Status.Terminal() {
		return models.ErrConflict
	}
	f.rows[g.ID] = cloneSession(g)
	return nil
}

type fakeVenues struct {
	rows map[int64]*models.Venue
}

func (f *fakeVenues) Get(ctx context.Context, id int64) (*models.Venue, error) {
	v, ok := f.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *v
	return &c, nil
}

type fakeUsers struct {
	rows map[int64]*models.User
}

func (f *fakeUsers) GetByID(ctx context.Context, id int64) (*models.User, error) {
	u, ok := f.rows[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *u
	return &c, nil
}

type fakeLedger struct {
	mu       sync.Mutex
	balances map[int64]decimal.Decimal
	refs     map[string]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances: map[int64]decimal.Decimal{},
		refs:     map[string]bool{},
	}
}

func (f *fakeLedger) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID], nil
}

func (f *fakeLedger) Debit(ctx context.Context, userID int64, amount decimal.Decimal, ttype, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal := f.balances[userID]
	if bal.LessThan(amount) {
		return models.ErrInsufficientFunds
	}
	f.balances[userID] = bal.Sub(amount)
	f.refs[ref] = true
	return nil
}

func (f *fakeLedger) Credit(ctx context.Context, userID int64, amount decimal.Decimal, ttype, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs[ref] {
		return false, nil
	}
	f.refs[ref] = true
	f.balances[userID] = f.balances[userID].Add(amount)
	return true, nil
}

type fakeHolds struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeHolds() *fakeHolds {
	return &fakeHolds{held: map[string]bool{}}
}

func (f *fakeHolds) Hold(ctx context.Context, sessionID string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held[sessionID] = true
	return nil
}

func (f *fakeHolds) Active(ctx context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[sessionID], nil
}

func (f *fakeHolds) Release(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, sessionID)
	return nil
}

// expire simulates the redis TTL lapsing.
func (f *fakeHolds) expire(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, sessionID)
}

type fakeArchiver struct {
	mu    sync.Mutex
	notes []string
}

func (f *fakeArchiver) ArchiveSession(ctx context.Context, g *models.GameSession, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, string(g.Status)+":"+note)
	return nil
}

type fakeAlerter struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeAlerter) SendNotification(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
}

func (f *fakeAlerter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeGateway struct {
	mu sync.Mutex
	n  int
}

func (f *fakeGateway) CreateIntent(ctx context.Context, userID int64, amount decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("pi_test_%d", f.n), nil
}

/// fakeDispatcher records each fan-out as "type:target".
type fakeDispatcher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeDispatcher) record(ev string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeDispatcher) has(ev string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == ev {
			return true
		}
	}
	return false
}

func (f *fakeDispatcher) TableStatus(t *models.Table) {
	f.record(fmt.Sprintf("table-status:%d", t.ID))
}

func (f *fakeDispatcher) QueueUpdate(t *models.Table) {
	f.record(fmt.Sprintf("queue-update:%d", t.ID))
}

func (f *fakeDispatcher) TokenBalance(userID int64, balance decimal.Decimal) {
	f.record(fmt.Sprintf("token-balance:%d", userID))
}

func (f *fakeDispatcher) Invitation(t *models.Table, userID int64) {
	f.record(fmt.Sprintf("invitation:%d", userID))
}

func (f *fakeDispatcher) WinClaimed(g *models.GameSession, confirmerID int64) {
	f.record(fmt.Sprintf("win-claimed:%d", confirmerID))
}

func (f *fakeDispatcher) WinConfirmed(g *models.GameSession) {
	f.record(fmt.Sprintf("win-confirmed:%d", g.WinnerID))
}

func (f *fakeDispatcher) WinDisputed(g *models.GameSession, disputerID int64) {
	f.record(fmt.Sprintf("win-disputed:%d", disputerID))
}

func (f *fakeDispatcher) QueueDropped(t *models.Table, userID int64) {
	f.record(fmt.Sprintf("queue-dropped:%d", userID))
}

func (f *fakeDispatcher) SessionCancelled(g *models.GameSession, reason string) {
	f.record("session-cancelled:" + reason)
}
