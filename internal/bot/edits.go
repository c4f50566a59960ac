package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal_copier/internal/gateway"
	"signal_copier/internal/models"
)

// editEpsilon is the minimum price change that counts as an edit. Smaller
// differences are re-statement noise from the upstream parser.
var editEpsilon = decimal.NewFromFloat(0.01)

// pendingEdit is an edit that arrived before its signal's open landed.
type pendingEdit struct {
	sig      models.Signal
	cachedAt time.Time
}

// handleEdit reconciles an edited source message against the position it
// originally opened. Edits for ids with no tracked position yet are cached:
// they may have raced ahead of the open that is still in flight.
func (c *Coordinator) handleEdit(ctx context.Context, ev models.Event) {
	dual, ok := c.store.Get(ev.ID)
	if !ok {
		c.evictStaleEdits()
		c.pendingEdits[ev.ID] = pendingEdit{sig: ev.Signal, cachedAt: c.now()}
		c.log.Info("edit for untracked event cached for replay", zap.Int64("event_id", ev.ID))
		return
	}
	c.applyEdit(ctx, dual, &ev.Signal)
}

// evictStaleEdits drops cached edits older than the reconciliation window.
// An open landing later could not apply them anyway, and signals that never
// open (low confidence, broker rejection) must not pin their edits forever.
func (c *Coordinator) evictStaleEdits() {
	for id, e := range c.pendingEdits {
		if c.now().Sub(e.cachedAt) > c.cfg.EditWindow {
			delete(c.pendingEdits, id)
		}
	}
}

// replayPendingEdit runs a cached edit through the normal path after the
// open it raced against has landed.
func (c *Coordinator) replayPendingEdit(ctx context.Context, eventID int64) {
	cached, ok := c.pendingEdits[eventID]
	if !ok {
		return
	}
	delete(c.pendingEdits, eventID)

	dual, ok := c.store.Get(eventID)
	if !ok {
		return
	}
	c.log.Info("replaying cached edit", zap.Int64("event_id", eventID))
	c.applyEdit(ctx, dual, &cached.sig)
}

func (c *Coordinator) applyEdit(ctx context.Context, dual *models.DualPosition, sig *models.Signal) {
	if dual.IsClosed() {
		c.log.Debug("ignoring edit for closed position", zap.Int64("event_id", dual.EventID))
		return
	}

	opened := dual.EarliestOpen()
	if opened.IsZero() {
		return
	}
	// The boundary instant itself is within the window.
	if c.now().Sub(opened) > c.cfg.EditWindow {
		c.log.Info("ignoring edit outside the reconciliation window",
			zap.Int64("event_id", dual.EventID),
			zap.Duration("age", c.now().Sub(opened)),
			zap.Duration("window", c.cfg.EditWindow))
		return
	}

	ref := dual.Legs()[0]
	slChanged := decimalPtrChanged(ref.OriginalStopLoss, sig.StopLoss)
	tpChanged := tpListChanged(ref.OriginalTakeProfits, sig.TakeProfits)
	if !slChanged && !tpChanged {
		c.log.Debug("edit changed nothing material", zap.Int64("event_id", dual.EventID))
		return
	}

	applied := false
	for _, leg := range dual.Legs() {
		if leg.Status == models.StatusClosed {
			continue
		}

		var sl *decimal.Decimal
		if slChanged {
			sl = sig.StopLoss
		}
		var tp *decimal.Decimal
		if tpChanged {
			tp = tpForRole(sig.TakeProfits, leg.Role)
		}

		vsl, vtp, warnings := gateway.ValidateSLTP(leg.OrderType.IsBuy(), leg.EntryPrice, sl, tp)
		for _, w := range warnings {
			c.log.Warn(w, zap.Int64("ticket", leg.Ticket))
		}
		if vsl != nil && !c.allowSLMove(leg, *vsl) {
			c.log.Warn("edit requests an unprotective SL move after TP hit, skipping",
				zap.Int64("ticket", leg.Ticket))
			vsl = nil
		}
		if vsl == nil && vtp == nil {
			continue
		}

		if err := c.gw.Modify(ctx, leg.Ticket, vsl, vtp); err != nil {
			c.log.Error("failed to apply edit", zap.Int64("ticket", leg.Ticket), zap.Error(err))
			continue
		}
		if vsl != nil {
			leg.StopLoss = vsl
		}
		if vtp != nil && len(sig.TakeProfits) > 0 {
			leg.TakeProfits = sig.TakeProfits
		}
		applied = true
	}

	if !applied {
		return
	}

	// Advance the snapshot so a second edit diffs against this one, not
	// against the pre-edit original.
	for _, leg := range dual.Legs() {
		if slChanged {
			leg.OriginalStopLoss = sig.StopLoss
		}
		if tpChanged {
			leg.OriginalTakeProfits = sig.TakeProfits
		}
		leg.OriginalComment = sig.Comment
	}

	c.persist()
	c.log.Info("applied message edit",
		zap.Int64("event_id", dual.EventID),
		zap.Bool("sl_changed", slChanged),
		zap.Bool("tp_changed", tpChanged))
	c.notifier.Notify(fmt.Sprintf("✏️ Applied edit to position %d", dual.EventID))
}

// decimalPtrChanged reports whether two optional prices differ by more than
// the edit epsilon.
func decimalPtrChanged(old, edited *decimal.Decimal) bool {
	if old == nil && edited == nil {
		return false
	}
	if old == nil || edited == nil {
		return true
	}
	return old.Sub(*edited).Abs().GreaterThan(editEpsilon)
}

// tpListChanged reports whether any element of the take-profit list moved by
// more than the epsilon, or the list length changed.
func tpListChanged(old, edited []decimal.Decimal) bool {
	if len(edited) == 0 {
		return false
	}
	if len(old) != len(edited) {
		return true
	}
	for i := range old {
		if old[i].Sub(edited[i]).Abs().GreaterThan(editEpsilon) {
			return true
		}
	}
	return false
}
