// Package bot contains the coordinator: the single state machine that routes
// classified trading events to handlers, drives the gateway, mutates the
// position store and manages deferred timers.
package bot

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"signal_copier/internal/config"
	"signal_copier/internal/gateway"
	"signal_copier/internal/models"
	"signal_copier/internal/notify"
	"signal_copier/internal/store"
	"signal_copier/internal/strategy"
)

// Coordinator processes one event at a time. The mutex serializes handler
// bodies against timer callbacks, which re-fetch position state under the
// same lock before acting.
type Coordinator struct {
	mu sync.Mutex

	gw       gateway.ExecutionGateway
	store    *store.PositionStore
	strat    strategy.Strategy
	cfg      *config.Config
	log      *zap.Logger
	notifier notify.Notifier

	timers *timerSet

	// Edits that raced ahead of their signal's open; replayed once the
	// open lands, evicted once older than the edit window.
	pendingEdits map[int64]pendingEdit

	now func() time.Time
}

func New(gw gateway.ExecutionGateway, st *store.PositionStore, strat strategy.Strategy,
	cfg *config.Config, log *zap.Logger, notifier notify.Notifier) *Coordinator {
	return &Coordinator{
		gw:           gw,
		store:        st,
		strat:        strat,
		cfg:          cfg,
		log:          log,
		notifier:     notifier,
		timers:       newTimerSet(),
		pendingEdits: make(map[int64]pendingEdit),
		now:          time.Now,
	}
}

// HandleEvent is the single entry point. A panic inside a handler is logged
// and swallowed so one bad event never stalls the loop.
func (c *Coordinator) HandleEvent(ctx context.Context, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panicked",
				zap.Int64("event_id", ev.ID),
				zap.String("kind", string(ev.Signal.Kind)),
				zap.Any("panic", r))
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if ev.Edit {
		c.handleEdit(ctx, ev)
		return
	}

	sig := &ev.Signal

	if sig.Confidence < c.cfg.MinConfidence {
		c.log.Info("dropping low-confidence event",
			zap.Int64("event_id", ev.ID),
			zap.Float64("confidence", sig.Confidence),
			zap.Float64("threshold", c.cfg.MinConfidence))
		return
	}

	targetID, resolved := c.resolveTarget(ev)

	switch sig.Kind {
	case models.KindNewSignalComplete, models.KindNewSignalIncomplete:
		c.handleNewSignal(ctx, ev)
	case models.KindModification:
		c.handleModification(ctx, ev, targetID, resolved)
	case models.KindReEntry:
		c.handleReEntry(ctx, ev, targetID, resolved)
	case models.KindProfitNotification:
		c.handleProfitNotification(ctx, ev, targetID, resolved)
	case models.KindCloseSignal:
		c.handleCloseSignal(ctx, ev, targetID, resolved)
	case models.KindPartialClose:
		c.handlePartialClose(ctx, ev, targetID, resolved)
	case models.KindCompoundAction:
		c.handleCompoundAction(ctx, ev, targetID, resolved)
	case models.KindNotTrading:
		// informational chatter, nothing to do
	default:
		c.log.Debug("dropping event of unknown kind",
			zap.Int64("event_id", ev.ID),
			zap.String("kind", string(sig.Kind)))
	}
}

// resolveTarget picks the DualPosition an event refers to. A reply id that is
// not tracked still falls back to the last-signal pointer: reply chains are
// often nested through intermediate informational messages.
func (c *Coordinator) resolveTarget(ev models.Event) (int64, bool) {
	if ev.ReplyTo != nil && c.store.Contains(*ev.ReplyTo) {
		return *ev.ReplyTo, true
	}
	if last := c.store.LastSignalID(); last != 0 && c.store.Contains(last) {
		return last, true
	}
	return 0, false
}

// persist saves the store after a successful mutation; a write failure is
// logged, never fatal.
func (c *Coordinator) persist() {
	if err := c.store.Save(); err != nil {
		c.log.Error("failed to persist position store", zap.Error(err))
	}
}

// Shutdown cancels all timers, persists the store and disconnects the
// gateway, in that order.
func (c *Coordinator) Shutdown(ctx context.Context) {
	c.timers.CancelAll()

	c.mu.Lock()
	c.persist()
	c.mu.Unlock()

	if err := c.gw.Disconnect(ctx); err != nil {
		c.log.Warn("gateway disconnect failed", zap.Error(err))
	}
	c.log.Info("coordinator shut down")
}
