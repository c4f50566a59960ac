package bot

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal_copier/internal/gateway"
	"signal_copier/internal/models"
)

// defaultStopFraction derives a stop distance when an incomplete signal
// carries none and the broker offers no symbol metadata to size risk from.
var defaultStopFraction = decimal.NewFromFloat(0.005)

// handleNewSignal covers both complete and incomplete new signals. A
// complete signal first tries to finish a pending position on the same
// symbol; direction mismatch falls through to a brand-new open.
func (c *Coordinator) handleNewSignal(ctx context.Context, ev models.Event) {
	sig := &ev.Signal

	if !c.cfg.IsSymbolAllowed(sig.Symbol) {
		c.log.Info("dropping signal for disallowed symbol",
			zap.Int64("event_id", ev.ID),
			zap.String("symbol", sig.Symbol))
		return
	}
	brokerSymbol := c.cfg.BrokerSymbol(sig.Symbol)

	complete := c.isComplete(sig)

	if complete {
		if pending := c.store.GetPendingBySymbol(brokerSymbol); pending != nil {
			if c.directionMatches(pending, sig.OrderType) {
				c.completePending(ctx, pending, ev)
				return
			}
			c.log.Warn("direction mismatch on pending completion, treating as new signal",
				zap.Int64("pending_event_id", pending.EventID),
				zap.Int64("event_id", ev.ID),
				zap.String("order_type", string(sig.OrderType)))
		}
	}

	c.openNewPosition(ctx, ev, brokerSymbol, complete)
}

// isComplete extends the classifier's verdict: pending entry kinds also need
// an explicit entry price to count as complete.
func (c *Coordinator) isComplete(sig *models.Signal) bool {
	if sig.Kind != models.KindNewSignalComplete {
		return false
	}
	if sig.OrderType.IsPending() && sig.EntryPrice == nil {
		return false
	}
	return true
}

func (c *Coordinator) directionMatches(dual *models.DualPosition, orderType models.OrderType) bool {
	legs := dual.Legs()
	if len(legs) == 0 {
		return false
	}
	return legs[0].OrderType.IsBuy() == orderType.IsBuy()
}

// completePending fills in SL/TP on a position opened from an incomplete
// signal, reassigns it to the completing event id and cancels the timeout.
func (c *Coordinator) completePending(ctx context.Context, dual *models.DualPosition, ev models.Event) {
	sig := &ev.Signal
	oldID := dual.EventID

	completed := 0
	for _, leg := range dual.Legs() {
		if leg.Status == models.StatusClosed {
			continue
		}
		tp := tpForRole(sig.TakeProfits, leg.Role)
		sl, tp, warnings := gateway.ValidateSLTP(leg.OrderType.IsBuy(), leg.EntryPrice, sig.StopLoss, tp)
		for _, w := range warnings {
			c.log.Warn(w, zap.Int64("ticket", leg.Ticket))
		}
		if sl == nil && tp == nil {
			continue
		}

		if err := c.gw.Modify(ctx, leg.Ticket, sl, tp); err != nil {
			c.log.Error("failed to apply completion values",
				zap.Int64("ticket", leg.Ticket), zap.Error(err))
			continue
		}
		if sl != nil {
			leg.StopLoss = sl
			leg.OriginalStopLoss = sl
		}
		leg.TakeProfits = sig.TakeProfits
		leg.OriginalTakeProfits = sig.TakeProfits
		leg.OriginalComment = sig.Comment
		leg.Status = models.StatusOpen
		leg.IsComplete = true
		completed++
	}

	// Reassign only when something actually completed, so a failed
	// completion keeps the pending identity and its timeout.
	if completed == 0 {
		c.log.Warn("completion applied to no legs, position stays pending",
			zap.Int64("event_id", oldID),
			zap.Int64("completing_event_id", ev.ID))
		return
	}

	c.timers.CancelPending(oldID)
	c.store.Reassign(oldID, ev.ID)
	c.persist()

	c.log.Info("completed pending position",
		zap.Int64("old_event_id", oldID),
		zap.Int64("event_id", ev.ID),
		zap.String("symbol", sig.Symbol))
	c.notifier.Notify(fmt.Sprintf("✅ Completed pending %s position (event %d)", sig.Symbol, ev.ID))

	c.replayPendingEdit(ctx, ev.ID)
}

// openNewPosition asks the strategy for a leg plan and opens each leg,
// recording partial successes.
func (c *Coordinator) openNewPosition(ctx context.Context, ev models.Event, brokerSymbol string, complete bool) {
	sig := &ev.Signal

	entry, ok := c.resolveEntry(ctx, sig, brokerSymbol)
	if !ok {
		return
	}

	workSig := *sig
	if !complete && workSig.StopLoss == nil {
		workSig.StopLoss = c.defaultStopLoss(entry, sig.OrderType.IsBuy())
		c.log.Warn("incomplete signal without SL, derived a default stop",
			zap.Int64("event_id", ev.ID),
			zap.String("stop_loss", workSig.StopLoss.String()))
	}

	plans := c.strat.LegsToOpen(&workSig, false)
	plans = c.fixBreachedTargets(&workSig, entry, plans)

	lot := c.cfg.DefaultLotSize
	if sig.LotSize != nil {
		lot = *sig.LotSize
	}

	results := gateway.OpenLegs(ctx, c.gw, brokerSymbol, sig.OrderType, entry, lot, sig.Comment, plans)

	status := models.StatusOpen
	if !complete {
		status = models.StatusPendingCompletion
	}

	opened := 0
	for _, plan := range plans {
		res := results[plan.Role]
		for _, w := range res.Warnings {
			c.log.Warn(w, zap.Int64("event_id", ev.ID), zap.String("role", string(plan.Role)))
		}
		if res.Err != nil {
			c.log.Error("failed to open leg",
				zap.Int64("event_id", ev.ID),
				zap.String("role", string(plan.Role)),
				zap.Error(res.Err))
			continue
		}

		filled := entry
		if !res.Result.FilledPrice.IsZero() {
			filled = res.Result.FilledPrice
		}

		leg := &models.TrackedPosition{
			EventID:             ev.ID,
			Ticket:              res.Result.Ticket,
			Symbol:              brokerSymbol,
			OrderType:           sig.OrderType,
			EntryPrice:          filled,
			StopLoss:            plan.StopLoss,
			TakeProfits:         workSig.TakeProfits,
			LotSize:             res.Result.FilledVolume,
			OpenedAt:            c.now(),
			IsComplete:          complete,
			Status:              status,
			TPsHit:              []int{},
			OriginalComment:     sig.Comment,
			OriginalStopLoss:    plan.StopLoss,
			OriginalTakeProfits: workSig.TakeProfits,
		}
		c.store.Add(leg, plan.Role)
		opened++

		c.log.Info("opened leg",
			zap.Int64("event_id", ev.ID),
			zap.Int64("ticket", leg.Ticket),
			zap.String("symbol", brokerSymbol),
			zap.String("role", string(plan.Role)),
			zap.String("entry", filled.String()))
	}

	if opened == 0 {
		return
	}

	c.persist()
	c.notifier.Notify(fmt.Sprintf("📈 Opened %d leg(s) on %s %s (event %d)",
		opened, brokerSymbol, sig.OrderType, ev.ID))

	if !complete && c.cfg.PendingTimeout > 0 {
		id := ev.ID
		c.timers.ArmPending(id, c.cfg.PendingTimeout, func() {
			c.onPendingTimeout(id)
		})
	}

	c.replayPendingEdit(ctx, ev.ID)
}

// resolveEntry picks the working entry price: the signal's if present,
// otherwise the current market price.
func (c *Coordinator) resolveEntry(ctx context.Context, sig *models.Signal, brokerSymbol string) (decimal.Decimal, bool) {
	if sig.EntryPrice != nil {
		return *sig.EntryPrice, true
	}
	price, err := c.gw.CurrentPrice(ctx, brokerSymbol)
	if err != nil {
		c.log.Error("no entry price and no market price available",
			zap.String("symbol", brokerSymbol), zap.Error(err))
		return decimal.Zero, false
	}
	return price, true
}

// defaultStopLoss places a stop a fixed fraction away from entry for signals
// that arrive without one.
func (c *Coordinator) defaultStopLoss(entry decimal.Decimal, isBuy bool) *decimal.Decimal {
	distance := entry.Mul(defaultStopFraction)
	var sl decimal.Decimal
	if isBuy {
		sl = entry.Sub(distance)
	} else {
		sl = entry.Add(distance)
	}
	return &sl
}

// fixBreachedTargets swaps a planned TP that price has already run past for
// the first still-valid one, or the 1:1 fallback.
func (c *Coordinator) fixBreachedTargets(sig *models.Signal, entry decimal.Decimal, plans []models.LegPlan) []models.LegPlan {
	isBuy := sig.OrderType.IsBuy()
	for i := range plans {
		tp := plans[i].TakeProfit
		if tp == nil {
			continue
		}
		breached := (isBuy && tp.LessThanOrEqual(entry)) || (!isBuy && tp.GreaterThanOrEqual(entry))
		if !breached {
			continue
		}
		replacement, warning := gateway.FindValidTP(isBuy, entry, sig.TakeProfits, plans[i].StopLoss)
		if warning != "" {
			c.log.Warn(warning, zap.String("role", string(plans[i].Role)))
		}
		plans[i].TakeProfit = replacement
	}
	return plans
}

// handleModification applies new SL/TP values to every open leg of the
// target, with per-role TP selection.
func (c *Coordinator) handleModification(ctx context.Context, ev models.Event, targetID int64, resolved bool) {
	if !resolved {
		c.log.Info("modification with no resolvable target", zap.Int64("event_id", ev.ID))
		return
	}
	dual, ok := c.store.Get(targetID)
	if !ok {
		return
	}

	c.timers.CancelPending(targetID)

	sig := &ev.Signal
	changed := c.applyModification(ctx, dual, sig.NewStopLoss, sig.StopLoss, sig.NewTakeProfit, sig.TakeProfits)
	if changed {
		c.persist()
		c.notifier.Notify(fmt.Sprintf("🔧 Modified position %d", targetID))
	}
}

// applyModification pushes new values to each open leg. Either the explicit
// new_* fields or a re-stated SL/TP list may carry the change.
func (c *Coordinator) applyModification(ctx context.Context, dual *models.DualPosition,
	newSL, restatedSL *decimal.Decimal, newTP *decimal.Decimal, restatedTPs []decimal.Decimal) bool {

	sl := newSL
	if sl == nil {
		sl = restatedSL
	}

	changed := false
	for _, leg := range dual.Legs() {
		if leg.Status == models.StatusClosed {
			continue
		}

		tp := newTP
		if tp == nil {
			tp = tpForRole(restatedTPs, leg.Role)
		}

		vsl, vtp, warnings := gateway.ValidateSLTP(leg.OrderType.IsBuy(), leg.EntryPrice, sl, tp)
		for _, w := range warnings {
			c.log.Warn(w, zap.Int64("ticket", leg.Ticket))
		}
		if vsl != nil && !c.allowSLMove(leg, *vsl) {
			c.log.Warn("rejecting unprotective SL move after TP hit",
				zap.Int64("ticket", leg.Ticket),
				zap.String("current_sl", leg.StopLoss.String()),
				zap.String("requested_sl", vsl.String()))
			vsl = nil
		}
		if vsl == nil && vtp == nil {
			continue
		}

		if err := c.gw.Modify(ctx, leg.Ticket, vsl, vtp); err != nil {
			c.log.Error("modify failed", zap.Int64("ticket", leg.Ticket), zap.Error(err))
			continue
		}
		if vsl != nil {
			leg.StopLoss = vsl
		}
		if vtp != nil {
			leg.TakeProfits = []decimal.Decimal{*vtp}
		}
		changed = true
	}
	return changed
}

// allowSLMove enforces stop monotonicity: once any TP hit is recorded for a
// leg, the stop may only move in the protective direction.
func (c *Coordinator) allowSLMove(leg *models.TrackedPosition, newSL decimal.Decimal) bool {
	if len(leg.TPsHit) == 0 || leg.StopLoss == nil {
		return true
	}
	if leg.OrderType.IsBuy() {
		return newSL.GreaterThanOrEqual(*leg.StopLoss)
	}
	return newSL.LessThanOrEqual(*leg.StopLoss)
}

// handleReEntry closes the target (only if nothing is in profit) and opens a
// fresh single leg at the new entry.
func (c *Coordinator) handleReEntry(ctx context.Context, ev models.Event, targetID int64, resolved bool) {
	if !resolved {
		c.log.Info("re-entry with no resolvable target", zap.Int64("event_id", ev.ID))
		return
	}
	dual, ok := c.store.Get(targetID)
	if !ok {
		return
	}

	for _, leg := range dual.Legs() {
		if leg.Status == models.StatusClosed {
			continue
		}
		profitable, err := c.gw.IsProfitable(ctx, leg.Ticket)
		if err == nil && profitable {
			c.log.Info("skipping re-entry, a leg is in profit",
				zap.Int64("event_id", ev.ID),
				zap.Int64("ticket", leg.Ticket))
			return
		}
	}

	legs := dual.Legs()
	if len(legs) == 0 {
		return
	}
	prior := legs[0]

	for _, leg := range legs {
		c.closeLeg(ctx, leg)
	}
	c.persist()

	sig := &ev.Signal
	entry := sig.ReEntryPrice
	if entry == nil {
		entry = sig.EntryPrice
	}

	reSig := models.Signal{
		Symbol:      prior.Symbol,
		OrderType:   prior.OrderType,
		EntryPrice:  entry,
		StopLoss:    sig.StopLoss,
		TakeProfits: prior.TakeProfits,
		LotSize:     sig.LotSize,
		Kind:        models.KindNewSignalComplete,
		Confidence:  sig.Confidence,
		Comment:     sig.Comment,
	}
	if reSig.StopLoss == nil {
		reSig.StopLoss = prior.StopLoss
	}

	c.openReEntry(ctx, ev.ID, &reSig)
}

func (c *Coordinator) openReEntry(ctx context.Context, eventID int64, sig *models.Signal) {
	entry, ok := c.resolveEntry(ctx, sig, sig.Symbol)
	if !ok {
		return
	}

	plans := c.strat.LegsToOpen(sig, true)
	plans = c.fixBreachedTargets(sig, entry, plans)

	lot := c.cfg.DefaultLotSize
	if sig.LotSize != nil {
		lot = *sig.LotSize
	}

	results := gateway.OpenLegs(ctx, c.gw, sig.Symbol, sig.OrderType, entry, lot, sig.Comment, plans)
	for _, plan := range plans {
		res := results[plan.Role]
		if res.Err != nil {
			c.log.Error("re-entry open failed", zap.Int64("event_id", eventID), zap.Error(res.Err))
			continue
		}
		filled := entry
		if !res.Result.FilledPrice.IsZero() {
			filled = res.Result.FilledPrice
		}
		leg := &models.TrackedPosition{
			EventID:             eventID,
			Ticket:              res.Result.Ticket,
			Symbol:              sig.Symbol,
			OrderType:           sig.OrderType,
			EntryPrice:          filled,
			StopLoss:            plan.StopLoss,
			TakeProfits:         sig.TakeProfits,
			LotSize:             res.Result.FilledVolume,
			OpenedAt:            c.now(),
			IsComplete:          true,
			Status:              models.StatusOpen,
			TPsHit:              []int{},
			OriginalComment:     sig.Comment,
			OriginalStopLoss:    plan.StopLoss,
			OriginalTakeProfits: sig.TakeProfits,
		}
		c.store.Add(leg, plan.Role)
		c.persist()
		c.notifier.Notify(fmt.Sprintf("🔁 Re-entered %s %s at %s (event %d)",
			sig.Symbol, sig.OrderType, filled, eventID))
	}
}

// handleProfitNotification resolves the TP number, records the hit
// idempotently and executes the strategy's per-role actions.
func (c *Coordinator) handleProfitNotification(ctx context.Context, ev models.Event, targetID int64, resolved bool) {
	sig := &ev.Signal

	if c.strat.IgnoreProfitNotification(sig) {
		c.log.Debug("ignoring informational profit notification", zap.Int64("event_id", ev.ID))
		return
	}
	if !resolved {
		c.log.Info("profit notification with no resolvable target", zap.Int64("event_id", ev.ID))
		return
	}
	dual, ok := c.store.Get(targetID)
	if !ok {
		return
	}

	// 0 means the notification named no take-profit and only asks for a
	// breakeven move; hits are recorded for explicit numbers only.
	tpNumber := 0
	if sig.TPHitNumber != nil {
		tpNumber = *sig.TPHitNumber
	}

	if tpNumber > 0 {
		// Duplicate notifications for an already-recorded hit are no-ops.
		duplicate := true
		for _, leg := range dual.Legs() {
			if !leg.HasTPHit(tpNumber) {
				duplicate = false
				break
			}
		}
		if duplicate {
			c.log.Info("duplicate TP-hit notification, skipping",
				zap.Int64("event_id", ev.ID),
				zap.Int64("target_id", targetID),
				zap.Int("tp_number", tpNumber))
			return
		}
	}

	actions := c.strat.OnTPHit(tpNumber, dual)
	if len(actions) == 0 {
		c.log.Debug("profit notification produced no actions",
			zap.Int64("event_id", ev.ID),
			zap.Int64("target_id", targetID))
		return
	}
	for _, action := range actions {
		leg := dual.ByRole(action.Role)
		if leg == nil || leg.Status == models.StatusClosed {
			continue
		}
		c.executeLegAction(ctx, targetID, leg, action)
	}

	if tpNumber > 0 {
		for _, leg := range dual.Legs() {
			leg.RecordTPHit(tpNumber)
		}
	}

	c.persist()
	if tpNumber > 0 {
		c.notifier.Notify(fmt.Sprintf("🎯 TP%d hit on position %d", tpNumber, targetID))
	} else {
		c.notifier.Notify(fmt.Sprintf("🛡 Moved position %d to breakeven", targetID))
	}
}

func (c *Coordinator) executeLegAction(ctx context.Context, eventID int64, leg *models.TrackedPosition, action models.LegAction) {
	switch action.Type {
	case models.ActionVerifyClosed:
		c.verifyClosed(ctx, eventID, leg)
	case models.ActionMoveToBreakeven:
		entry := leg.EntryPrice
		c.modifyLegSL(ctx, leg, entry)
	case models.ActionModifySL:
		if action.Value != nil {
			c.modifyLegSL(ctx, leg, *action.Value)
		}
	case models.ActionClose:
		c.closeLeg(ctx, leg)
	}
}

// verifyClosed checks whether the broker already closed the leg; if not, a
// verification timer re-checks later rather than force-closing now.
func (c *Coordinator) verifyClosed(ctx context.Context, eventID int64, leg *models.TrackedPosition) {
	snap, err := c.gw.GetPosition(ctx, leg.Ticket)
	if err != nil {
		c.log.Error("close verification failed", zap.Int64("ticket", leg.Ticket), zap.Error(err))
		return
	}
	if snap == nil {
		leg.Status = models.StatusClosed
		c.log.Info("leg confirmed closed by broker",
			zap.Int64("event_id", eventID),
			zap.Int64("ticket", leg.Ticket))
		return
	}

	ticket := leg.Ticket
	c.timers.ArmVerify(eventID, ticket, c.cfg.TPVerifyTimeout, func() {
		c.onVerifyTimeout(eventID, ticket)
	})
	c.log.Info("leg still open on broker, armed verification timer",
		zap.Int64("event_id", eventID),
		zap.Int64("ticket", ticket))
}

func (c *Coordinator) modifyLegSL(ctx context.Context, leg *models.TrackedPosition, newSL decimal.Decimal) {
	if !c.allowSLMove(leg, newSL) {
		c.log.Warn("rejecting unprotective SL move after TP hit",
			zap.Int64("ticket", leg.Ticket),
			zap.String("requested_sl", newSL.String()))
		return
	}
	if err := c.gw.Modify(ctx, leg.Ticket, &newSL, nil); err != nil {
		if gateway.IsKind(err, gateway.KindNotFound) {
			leg.Status = models.StatusClosed
			return
		}
		c.log.Error("SL move failed", zap.Int64("ticket", leg.Ticket), zap.Error(err))
		return
	}
	sl := newSL
	leg.StopLoss = &sl
	c.log.Info("moved stop loss",
		zap.Int64("ticket", leg.Ticket),
		zap.String("stop_loss", newSL.String()))
}

// closeLeg closes a leg on the broker; a not-found answer means the broker
// already closed it, which is success.
func (c *Coordinator) closeLeg(ctx context.Context, leg *models.TrackedPosition) {
	if leg.Status == models.StatusClosed {
		return
	}
	_, err := c.gw.Close(ctx, leg.Ticket)
	if err != nil && !gateway.IsKind(err, gateway.KindNotFound) {
		c.log.Error("close failed", zap.Int64("ticket", leg.Ticket), zap.Error(err))
		return
	}
	leg.Status = models.StatusClosed
	c.log.Info("closed leg", zap.Int64("ticket", leg.Ticket))
}

// handleCloseSignal closes every non-closed leg of the target.
func (c *Coordinator) handleCloseSignal(ctx context.Context, ev models.Event, targetID int64, resolved bool) {
	if !resolved {
		c.log.Info("close signal with no resolvable target", zap.Int64("event_id", ev.ID))
		return
	}
	dual, ok := c.store.Get(targetID)
	if !ok {
		return
	}

	c.timers.CancelPending(targetID)
	for _, leg := range dual.Legs() {
		c.closeLeg(ctx, leg)
	}
	c.persist()
	c.notifier.Notify(fmt.Sprintf("🚪 Closed position %d", targetID))
}

// handlePartialClose applies a percentage close to every open leg and adopts
// the gateway's reported remaining volume.
func (c *Coordinator) handlePartialClose(ctx context.Context, ev models.Event, targetID int64, resolved bool) {
	if !resolved {
		c.log.Info("partial close with no resolvable target", zap.Int64("event_id", ev.ID))
		return
	}
	dual, ok := c.store.Get(targetID)
	if !ok {
		return
	}

	pct := decimal.NewFromInt(50)
	if ev.Signal.ClosePct != nil {
		pct = decimal.NewFromInt(int64(*ev.Signal.ClosePct))
	}

	changed := false
	for _, leg := range dual.Legs() {
		if leg.Status == models.StatusClosed {
			continue
		}
		res, err := c.gw.PartialClose(ctx, leg.Ticket, pct)
		if err != nil {
			if gateway.IsKind(err, gateway.KindNotFound) {
				leg.Status = models.StatusClosed
				changed = true
				continue
			}
			c.log.Error("partial close failed", zap.Int64("ticket", leg.Ticket), zap.Error(err))
			continue
		}
		leg.LotSize = res.RemainingVolume
		changed = true
		c.log.Info("partially closed leg",
			zap.Int64("ticket", leg.Ticket),
			zap.String("closed", res.ClosedVolume.String()),
			zap.String("remaining", res.RemainingVolume.String()))
	}
	if changed {
		c.persist()
		c.notifier.Notify(fmt.Sprintf("✂️ Closed %s%% of position %d", pct, targetID))
	}
}

// handleCompoundAction applies modification sub-actions before new-signal
// ones, so an existing losing leg is protected before new exposure is added.
// A new-signal sub-action without a stop inherits the one applied by a
// modification sub-action.
func (c *Coordinator) handleCompoundAction(ctx context.Context, ev models.Event, targetID int64, resolved bool) {
	sig := &ev.Signal
	var inheritedSL *decimal.Decimal

	for _, action := range sig.Actions {
		if action.ActionType != "modification" {
			continue
		}
		if !resolved {
			c.log.Info("compound modification with no resolvable target", zap.Int64("event_id", ev.ID))
			continue
		}
		dual, ok := c.store.Get(targetID)
		if !ok {
			continue
		}
		sl := action.NewStopLoss
		if sl == nil {
			sl = action.StopLoss
		}
		if c.applyModification(ctx, dual, sl, nil, action.NewTakeProfit, action.TakeProfits) {
			c.persist()
		}
		if sl != nil {
			inheritedSL = sl
		}
	}

	for _, action := range sig.Actions {
		if action.ActionType != "new_signal" {
			continue
		}
		subSig := models.Signal{
			Symbol:      sig.Symbol,
			OrderType:   action.OrderType,
			EntryPrice:  action.EntryPrice,
			StopLoss:    action.StopLoss,
			TakeProfits: action.TakeProfits,
			Kind:        models.KindNewSignalComplete,
			Confidence:  sig.Confidence,
			Comment:     sig.Comment,
		}
		if subSig.StopLoss == nil {
			subSig.StopLoss = inheritedSL
		}
		subEv := models.Event{ID: ev.ID, Signal: subSig}
		c.handleNewSignal(ctx, subEv)
	}
}

// onPendingTimeout fires when an incomplete signal was never completed: the
// still-pending legs are force-closed. State is re-fetched under the lock;
// the position may have completed or closed since the timer was armed.
func (c *Coordinator) onPendingTimeout(eventID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dual, ok := c.store.Get(eventID)
	if !ok {
		return
	}

	ctx := context.Background()
	closed := 0
	for _, leg := range dual.Legs() {
		if leg.Status != models.StatusPendingCompletion {
			continue
		}
		c.closeLeg(ctx, leg)
		if leg.Status == models.StatusClosed {
			closed++
		}
	}
	if closed > 0 {
		c.persist()
		c.log.Warn("pending signal timed out, closed its legs",
			zap.Int64("event_id", eventID),
			zap.Int("closed", closed))
		c.notifier.Notify(fmt.Sprintf("⏱ Pending signal %d timed out, closed %d leg(s)", eventID, closed))
	}
}

// onVerifyTimeout re-checks a leg that a TP-hit notification said should be
// closed. A losing position is never force-closed on the strength of a
// possibly wrong notification.
func (c *Coordinator) onVerifyTimeout(eventID, ticket int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	leg, _, ok := c.store.GetByTicket(ticket)
	if !ok || leg.EventID != eventID || leg.Status == models.StatusClosed {
		return
	}

	ctx := context.Background()
	snap, err := c.gw.GetPosition(ctx, ticket)
	if err != nil {
		c.log.Error("verification re-check failed", zap.Int64("ticket", ticket), zap.Error(err))
		return
	}
	if snap == nil {
		leg.Status = models.StatusClosed
		c.persist()
		return
	}

	if snap.Profit.LessThan(decimal.Zero) {
		c.log.Warn("verification found a losing position, refusing to force-close",
			zap.Int64("ticket", ticket),
			zap.String("profit", snap.Profit.String()))
		return
	}

	c.closeLeg(ctx, leg)
	c.persist()
}

// tpForRole picks the take-profit a role targets from a signal's list:
// the runner gets the last, everything else the first.
func tpForRole(tps []decimal.Decimal, role models.Role) *decimal.Decimal {
	if len(tps) == 0 {
		return nil
	}
	if role == models.RoleRunner {
		tp := tps[len(tps)-1]
		return &tp
	}
	tp := tps[0]
	return &tp
}
