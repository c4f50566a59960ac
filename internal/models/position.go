package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus is the lifecycle state of one tracked leg.
type PositionStatus string

const (
	StatusOpen              PositionStatus = "open"
	StatusClosed            PositionStatus = "closed"
	StatusPendingCompletion PositionStatus = "pending_completion"
)

// Role identifies a leg's job within a dual position.
type Role string

const (
	RoleScalp  Role = "scalp"  // targets the first take-profit
	RoleRunner Role = "runner" // targets the last take-profit, trails with a moved stop
	RoleSingle Role = "single" // lone leg (single strategy, re-entries)
)

// LegPlan describes one leg a strategy wants opened for a signal.
type LegPlan struct {
	Role          Role
	TakeProfit    *decimal.Decimal
	StopLoss      *decimal.Decimal
	LotMultiplier decimal.Decimal
}

// ActionType is an operation a strategy requests against a tracked leg.
type ActionType string

const (
	ActionClose           ActionType = "close"
	ActionMoveToBreakeven ActionType = "move_sl_to_breakeven"
	ActionModifySL        ActionType = "modify_sl"
	ActionVerifyClosed    ActionType = "verify_closed"
)

// LegAction is one strategy-requested operation, addressed by role.
type LegAction struct {
	Type  ActionType
	Role  Role
	Value *decimal.Decimal // new SL price for modify/breakeven actions
}

// TrackedPosition is one broker leg tied to a source event.
//
// The Original* fields snapshot the signal as it looked when the leg was
// opened; edit reconciliation diffs incoming edits against them and then
// advances the snapshot, so a second edit diffs against the first.
type TrackedPosition struct {
	EventID     int64             `json:"event_id"`
	Ticket      int64             `json:"ticket"`
	Symbol      string            `json:"symbol"`
	OrderType   OrderType         `json:"order_type"`
	EntryPrice  decimal.Decimal   `json:"entry_price"`
	StopLoss    *decimal.Decimal  `json:"stop_loss,omitempty"`
	TakeProfits []decimal.Decimal `json:"take_profits"`
	LotSize     decimal.Decimal   `json:"lot_size"`
	OpenedAt    time.Time         `json:"opened_at"`
	IsComplete  bool              `json:"is_complete"`
	Status      PositionStatus    `json:"status"`
	TPsHit      []int             `json:"tps_hit"`
	Role        Role              `json:"role"`

	OriginalComment     string            `json:"original_comment,omitempty"`
	OriginalStopLoss    *decimal.Decimal  `json:"original_stop_loss,omitempty"`
	OriginalTakeProfits []decimal.Decimal `json:"original_take_profits,omitempty"`
}

// HasTPHit reports whether the given take-profit number was already acted on.
func (p *TrackedPosition) HasTPHit(n int) bool {
	for _, hit := range p.TPsHit {
		if hit == n {
			return true
		}
	}
	return false
}

// RecordTPHit marks a take-profit number as acted on. Recording the same
// number twice is a no-op, which keeps duplicate notifications idempotent.
func (p *TrackedPosition) RecordTPHit(n int) {
	if n <= 0 || p.HasTPHit(n) {
		return
	}
	p.TPsHit = append(p.TPsHit, n)
}

// DualPosition groups the up-to-two legs derived from one source event.
// A single-leg signal occupies the scalp slot.
type DualPosition struct {
	EventID int64            `json:"event_id"`
	Scalp   *TrackedPosition `json:"scalp,omitempty"`
	Runner  *TrackedPosition `json:"runner,omitempty"`
}

// Legs returns the present legs, scalp first.
func (d *DualPosition) Legs() []*TrackedPosition {
	legs := make([]*TrackedPosition, 0, 2)
	if d.Scalp != nil {
		legs = append(legs, d.Scalp)
	}
	if d.Runner != nil {
		legs = append(legs, d.Runner)
	}
	return legs
}

// Tickets returns every broker ticket held by this dual position.
func (d *DualPosition) Tickets() []int64 {
	legs := d.Legs()
	tickets := make([]int64, 0, len(legs))
	for _, leg := range legs {
		tickets = append(tickets, leg.Ticket)
	}
	return tickets
}

// IsClosed reports whether every present leg is closed. A dual position
// with no legs counts as closed.
func (d *DualPosition) IsClosed() bool {
	legs := d.Legs()
	if len(legs) == 0 {
		return true
	}
	for _, leg := range legs {
		if leg.Status != StatusClosed {
			return false
		}
	}
	return true
}

// ByRole returns the leg occupying the given role slot. RoleSingle resolves
// to the scalp slot, which is where single legs are stored.
func (d *DualPosition) ByRole(role Role) *TrackedPosition {
	if role == RoleRunner {
		return d.Runner
	}
	return d.Scalp
}

// SetRole assigns a leg to its role slot, overwriting any previous occupant.
func (d *DualPosition) SetRole(leg *TrackedPosition, role Role) {
	leg.Role = role
	if role == RoleRunner {
		d.Runner = leg
		return
	}
	d.Scalp = leg
}

// EarliestOpen returns the earliest leg open time, used for eviction order
// and the edit reconciliation window. Zero time if the dual has no legs.
func (d *DualPosition) EarliestOpen() time.Time {
	var earliest time.Time
	for _, leg := range d.Legs() {
		if earliest.IsZero() || leg.OpenedAt.Before(earliest) {
			earliest = leg.OpenedAt
		}
	}
	return earliest
}
