package models

import (
	"time"
)

type TableStatus string

const (
	TableAvailable            TableStatus = "available"
	TableOccupied             TableStatus = "occupied"
	TableInPlay               TableStatus = "in_play"
	TableAwaitingConfirmation TableStatus = "awaiting_confirmation"
	TableMaintenance          TableStatus = "maintenance"
	TableOutOfOrder           TableStatus = "out_of_order"
)

func (s TableStatus) Valid() bool {
	switch s {
	case TableAvailable, TableOccupied, TableInPlay,
		TableAwaitingConfirmation, TableMaintenance, TableOutOfOrder:
		return true
	}
	return false
}

// Table is a physical table with two occupant slots and a FIFO waitlist.
// A user id appears in at most one of player1, player2 and the queue;
// the mutating methods below maintain that invariant. Version backs the
// guarded store update: two concurrent transitions against the same prior
// state must never both succeed.
type Table struct {
	ID               int64       `json:"id"`
	VenueID          int64       `json:"venue_id"`
	Status           TableStatus `json:"status"`
	Player1          int64       `json:"player1,omitempty"`
	Player2          int64       `json:"player2,omitempty"`
	CurrentSessionID string      `json:"current_session_id,omitempty"`
	Queue            []int64     `json:"queue"`
	LastGameEndedAt  time.Time   `json:"last_game_ended_at,omitempty"`
	Version          int64       `json:"version"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Occupies reports whether userID holds one of the two slots.
func (t *Table) Occupies(userID int64) bool {
	return userID != 0 && (t.Player1 == userID || t.Player2 == userID)
}

// Opponent returns the occupant of the other slot, if any.
func (t *Table) Opponent(userID int64) (int64, bool) {
	switch userID {
	case t.Player1:
		return t.Player2, t.Player2 != 0
	case t.Player2:
		return t.Player1, t.Player1 != 0
	}
	return 0, false
}

func (t *Table) OccupantCount() int {
	n := 0
	if t.Player1 != 0 {
		n++
	}
	if t.Player2 != 0 {
		n++
	}
	return n
}

func (t *Table) HasOpenSlot() bool {
	return t.Player1 == 0 || t.Player2 == 0
}

func (t *Table) Queued(userID int64) bool {
	for _, id := range t.Queue {
		if id == userID {
			return true
		}
	}
	return false
}

// Enqueue appends userID to the waitlist tail. It fails Conflict when the
// user already holds a slot or a queue spot, and InvalidState when the
// table is out of order.
func (t *Table) Enqueue(userID int64) error {
	if t.Status == TableOutOfOrder {
		return ErrInvalidState
	}
	if t.Occupies(userID) || t.Queued(userID) {
		return ErrConflict
	}
	t.Queue = append(t.Queue, userID)
	return nil
}

// Dequeue pops the queue head.
func (t *Table) Dequeue() (int64, bool) {
	if len(t.Queue) == 0 {
		return 0, false
	}
	head := t.Queue[0]
	t.Queue = t.Queue[1:]
	return head, true
}

// RemoveFromQueue removes userID wherever it sits in the waitlist,
// preserving the order of the others.
func (t *Table) RemoveFromQueue(userID int64) error {
	for i, id := range t.Queue {
		if id == userID {
			t.Queue = append(t.Queue[:i], t.Queue[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Seat places userID into the first open slot. Only legal while the table
// is in normal rotation (available, occupied, or in_play with a solo
// session awaiting a challenger).
func (t *Table) Seat(userID int64) error {
	switch t.Status {
	case TableAvailable, TableOccupied, TableInPlay:
	default:
		return ErrInvalidState
	}
	if t.Occupies(userID) {
		return ErrConflict
	}
	if t.Player1 == 0 {
		t.Player1 = userID
	} else if t.Player2 == 0 {
		t.Player2 = userID
	} else {
		return ErrConflict
	}
	return nil
}

// ClearSlot vacates the slot held by userID.
func (t *Table) ClearSlot(userID int64) error {
	switch userID {
	case 0:
		return ErrNotFound
	case t.Player1:
		t.Player1 = 0
	case t.Player2:
		t.Player2 = 0
	default:
		return ErrNotFound
	}
	return nil
}

// RecomputeStatus settles the table into available/occupied/in_play from
// the occupancy and whether a paid session is underway. It never touches
// the protocol and admin states (awaiting_confirmation, maintenance,
// out_of_order).
func (t *Table) RecomputeStatus(sessionActive bool) {
	switch t.Status {
	case TableAvailable, TableOccupied, TableInPlay:
	default:
		return
	}
	switch {
	case t.OccupantCount() == 0:
		t.Status = TableAvailable
	case sessionActive || t.OccupantCount() == 2:
		t.Status = TableInPlay
	default:
		t.Status = TableOccupied
	}
}

// BeginConfirmation moves in_play -> awaiting_confirmation for a win claim
// by claimantID. The claimant must hold a slot and the opposite slot must
// be occupied: a solo session has nobody to confirm and is closed through
// the game-finished path instead. Returns the opponent who must confirm.
func (t *Table) BeginConfirmation(claimantID int64) (int64, error) {
	if t.Status != TableInPlay {
		return 0, ErrInvalidState
	}
	if !t.Occupies(claimantID) {
		return 0, ErrForbidden
	}
	opponent, ok := t.Opponent(claimantID)
	if !ok {
		return 0, ErrInvalidState
	}
	t.Status = TableAwaitingConfirmation
	return opponent, nil
}

// SettleWin applies winner-stays: the winner keeps the first slot, the
// loser's slot is cleared and the table reads available again, open for
// the next challenger. Occupied is reserved for a queued player who was
// invited but has not paid yet.
func (t *Table) SettleWin(winnerID int64, now time.Time) error {
	if t.Status != TableAwaitingConfirmation && t.Status != TableMaintenance {
		return ErrInvalidState
	}
	if !t.Occupies(winnerID) {
		return ErrForbidden
	}
	t.Player1 = winnerID
	t.Player2 = 0
	t.CurrentSessionID = ""
	t.LastGameEndedAt = now
	t.Status = TableAvailable
	return nil
}

// EscalateDispute moves awaiting_confirmation -> maintenance for admin
// review. No slots change until the admin resolves.
func (t *Table) EscalateDispute() error {
	if t.Status != TableAwaitingConfirmation {
		return ErrInvalidState
	}
	t.Status = TableMaintenance
	return nil
}

// ClearForResolution empties the table after an admin voids a disputed or
// stuck session.
func (t *Table) ClearForResolution(now time.Time) error {
	if t.Status != TableMaintenance {
		return ErrInvalidState
	}
	t.Player1 = 0
	t.Player2 = 0
	t.CurrentSessionID = ""
	t.LastGameEndedAt = now
	t.Status = TableAvailable
	return nil
}

// FinishSolo closes a paid solo session on the external game-finished
// signal, returning the table to rotation with the player still seated.
func (t *Table) FinishSolo(now time.Time) error {
	if t.Status != TableInPlay {
		return ErrInvalidState
	}
	t.CurrentSessionID = ""
	t.LastGameEndedAt = now
	t.Status = TableOccupied
	return nil
}

// ReturnToRotation forces the table out of a protocol state after its
// session was cancelled, then settles on the occupancy status. Out of
// order stays put until the admin clears it.
func (t *Table) ReturnToRotation() {
	if t.Status == TableOutOfOrder {
		return
	}
	t.Status = TableAvailable
	t.RecomputeStatus(false)
}

// SetOutOfOrder and ClearOutOfOrder are admin-only and reachable from any
// state.
func (t *Table) SetOutOfOrder() {
	t.Status = TableOutOfOrder
}

func (t *Table) ClearOutOfOrder() error {
	if t.Status != TableOutOfOrder {
		return ErrInvalidState
	}
	t.Status = TableAvailable
	t.RecomputeStatus(t.CurrentSessionID != "")
	return nil
}
