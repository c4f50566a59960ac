package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"signal_copier/internal/models"
)

func d(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal literal %q: %v", s, err)
	}
	return v
}

func dp(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	v := d(t, s)
	return &v
}

func buySignal(t *testing.T) *models.Signal {
	t.Helper()
	return &models.Signal{
		Symbol:      "XAUUSD",
		OrderType:   models.OrderBuy,
		EntryPrice:  dp(t, "2000"),
		StopLoss:    dp(t, "1990"),
		TakeProfits: []decimal.Decimal{d(t, "2010"), d(t, "2020")},
		Kind:        models.KindNewSignalComplete,
	}
}

func openDual(t *testing.T) *models.DualPosition {
	t.Helper()
	tps := []decimal.Decimal{d(t, "2010"), d(t, "2020")}
	scalp := &models.TrackedPosition{
		EventID: 1, Ticket: 11, Symbol: "XAUUSD", OrderType: models.OrderBuy,
		EntryPrice: d(t, "2000"), StopLoss: dp(t, "1990"), TakeProfits: tps,
		Status: models.StatusOpen, Role: models.RoleScalp, TPsHit: []int{},
	}
	runner := &models.TrackedPosition{
		EventID: 1, Ticket: 12, Symbol: "XAUUSD", OrderType: models.OrderBuy,
		EntryPrice: d(t, "2000"), StopLoss: dp(t, "1990"), TakeProfits: tps,
		Status: models.StatusOpen, Role: models.RoleRunner, TPsHit: []int{},
	}
	return &models.DualPosition{EventID: 1, Scalp: scalp, Runner: runner}
}

func TestDualTPLegPlan(t *testing.T) {
	plans := DualTP{}.LegsToOpen(buySignal(t), false)
	if len(plans) != 2 {
		t.Fatalf("Expected 2 legs, got %d", len(plans))
	}
	if plans[0].Role != models.RoleScalp || !plans[0].TakeProfit.Equal(d(t, "2010")) {
		t.Errorf("Scalp should target the first TP, got %+v", plans[0])
	}
	if plans[1].Role != models.RoleRunner || !plans[1].TakeProfit.Equal(d(t, "2020")) {
		t.Errorf("Runner should target the last TP, got %+v", plans[1])
	}
	for _, p := range plans {
		if p.StopLoss == nil || !p.StopLoss.Equal(d(t, "1990")) {
			t.Errorf("Both legs share the signal SL, got %+v", p)
		}
	}
}

func TestDualTPReEntryIsSingleLeg(t *testing.T) {
	plans := DualTP{}.LegsToOpen(buySignal(t), true)
	if len(plans) != 1 || plans[0].Role != models.RoleSingle {
		t.Fatalf("Re-entry should plan one single leg, got %+v", plans)
	}
}

func TestDualTPIncompleteSignalHasNoTargets(t *testing.T) {
	sig := buySignal(t)
	sig.TakeProfits = nil
	plans := DualTP{}.LegsToOpen(sig, false)
	if len(plans) != 2 {
		t.Fatalf("Expected 2 legs, got %d", len(plans))
	}
	if plans[0].TakeProfit != nil || plans[1].TakeProfit != nil {
		t.Error("Incomplete signal legs should open without TPs")
	}
}

func TestDualTPFirstHitClosesScalpMovesRunner(t *testing.T) {
	actions := DualTP{}.OnTPHit(1, openDual(t))
	if len(actions) != 2 {
		t.Fatalf("Expected 2 actions, got %+v", actions)
	}
	if actions[0].Type != models.ActionVerifyClosed || actions[0].Role != models.RoleScalp {
		t.Errorf("First action should verify the scalp closed, got %+v", actions[0])
	}
	if actions[1].Type != models.ActionMoveToBreakeven || actions[1].Role != models.RoleRunner {
		t.Errorf("Second action should move the runner to breakeven, got %+v", actions[1])
	}
}

func TestDualTPFinalHitClosesRunner(t *testing.T) {
	dual := openDual(t)
	dual.Scalp.Status = models.StatusClosed
	actions := DualTP{}.OnTPHit(2, dual)
	if len(actions) != 1 || actions[0].Type != models.ActionVerifyClosed || actions[0].Role != models.RoleRunner {
		t.Fatalf("Final TP should verify the runner closed, got %+v", actions)
	}
}

func TestDualTPIntermediateHitLaddersRunnerStop(t *testing.T) {
	dual := openDual(t)
	tps := []decimal.Decimal{d(t, "2010"), d(t, "2020"), d(t, "2030")}
	dual.Scalp.TakeProfits = tps
	dual.Runner.TakeProfits = tps
	dual.Scalp.Status = models.StatusClosed

	actions := DualTP{}.OnTPHit(2, dual)
	if len(actions) != 1 || actions[0].Type != models.ActionModifySL {
		t.Fatalf("Intermediate TP should ladder the runner SL, got %+v", actions)
	}
	if actions[0].Value == nil || !actions[0].Value.Equal(d(t, "2010")) {
		t.Errorf("SL should move to the previous TP 2010, got %v", actions[0].Value)
	}
}

func TestDualTPFirstHitSkipsClosedScalp(t *testing.T) {
	dual := openDual(t)
	dual.Scalp.Status = models.StatusClosed
	actions := DualTP{}.OnTPHit(1, dual)
	if len(actions) != 1 || actions[0].Role != models.RoleRunner {
		t.Fatalf("Closed scalp needs no verify action, got %+v", actions)
	}
}

func TestDualTPBreakevenRequestTouchesRunnerOnly(t *testing.T) {
	actions := DualTP{}.OnTPHit(0, openDual(t))
	if len(actions) != 1 {
		t.Fatalf("Expected one runner action, got %+v", actions)
	}
	if actions[0].Type != models.ActionMoveToBreakeven || actions[0].Role != models.RoleRunner {
		t.Errorf("Breakeven request without a number moves the runner only, got %+v", actions[0])
	}
}

func TestDualTPBreakevenRequestWithClosedRunner(t *testing.T) {
	dual := openDual(t)
	dual.Runner.Status = models.StatusClosed
	if actions := (DualTP{}).OnTPHit(0, dual); len(actions) != 0 {
		t.Errorf("Closed runner leaves nothing to protect, got %+v", actions)
	}
}

func TestSinglePolicy(t *testing.T) {
	plans := Single{}.LegsToOpen(buySignal(t), false)
	if len(plans) != 1 || plans[0].Role != models.RoleSingle {
		t.Fatalf("Expected one single leg, got %+v", plans)
	}
	if !plans[0].TakeProfit.Equal(d(t, "2010")) {
		t.Errorf("Single leg targets the first TP, got %v", plans[0].TakeProfit)
	}

	leg := &models.TrackedPosition{Status: models.StatusOpen, Role: models.RoleSingle}
	dual := &models.DualPosition{EventID: 1, Scalp: leg}
	actions := Single{}.OnTPHit(1, dual)
	if len(actions) != 1 || actions[0].Type != models.ActionVerifyClosed {
		t.Fatalf("Any hit should verify the leg closed, got %+v", actions)
	}

	if actions := (Single{}).OnTPHit(0, dual); len(actions) != 0 {
		t.Errorf("Breakeven request without a number takes no action, got %+v", actions)
	}
}

func TestProgressivePolicy(t *testing.T) {
	sig := buySignal(t)
	sig.TakeProfits = []decimal.Decimal{d(t, "2010"), d(t, "2020"), d(t, "2030")}

	plans := Progressive{}.LegsToOpen(sig, false)
	if len(plans) != 1 || !plans[0].TakeProfit.Equal(d(t, "2030")) {
		t.Fatalf("Progressive leg targets the last TP, got %+v", plans)
	}

	leg := &models.TrackedPosition{
		EntryPrice: d(t, "2000"), TakeProfits: sig.TakeProfits,
		Status: models.StatusOpen, Role: models.RoleSingle, TPsHit: []int{},
	}
	dual := &models.DualPosition{EventID: 1, Scalp: leg}

	a1 := Progressive{}.OnTPHit(1, dual)
	if len(a1) != 1 || a1[0].Type != models.ActionModifySL || !a1[0].Value.Equal(d(t, "2000")) {
		t.Fatalf("TP1 moves SL to entry, got %+v", a1)
	}

	a2 := Progressive{}.OnTPHit(2, dual)
	if len(a2) != 1 || a2[0].Type != models.ActionModifySL || !a2[0].Value.Equal(d(t, "2010")) {
		t.Fatalf("TP2 moves SL to TP1, got %+v", a2)
	}

	a3 := Progressive{}.OnTPHit(3, dual)
	if len(a3) != 1 || a3[0].Type != models.ActionVerifyClosed {
		t.Fatalf("Final TP verifies the close, got %+v", a3)
	}

	a0 := Progressive{}.OnTPHit(0, dual)
	if len(a0) != 1 || a0[0].Type != models.ActionMoveToBreakeven {
		t.Fatalf("Breakeven request moves the leg to entry, got %+v", a0)
	}
}

func TestProgressiveStopLadder(t *testing.T) {
	tps := []decimal.Decimal{d(t, "2010"), d(t, "2020"), d(t, "2030")}
	entry := d(t, "2000")

	if sl := ProgressiveStop(entry, tps, 1); sl == nil || !sl.Equal(entry) {
		t.Errorf("n=1 should return entry, got %v", sl)
	}
	if sl := ProgressiveStop(entry, tps, 3); sl == nil || !sl.Equal(d(t, "2020")) {
		t.Errorf("n=3 should return TP2, got %v", sl)
	}
	if sl := ProgressiveStop(entry, tps, 0); sl != nil {
		t.Errorf("n=0 is out of range, got %v", sl)
	}
	if sl := ProgressiveStop(entry, tps, 5); sl != nil {
		t.Errorf("n past the list is out of range, got %v", sl)
	}
}

func TestIgnoreProfitNotification(t *testing.T) {
	one := 1
	for _, s := range []Strategy{DualTP{}, Single{}, Progressive{}} {
		if !s.IgnoreProfitNotification(&models.Signal{Comment: "nice profits team"}) {
			t.Errorf("%s: informational notification should be ignored", s.Name())
		}
		if s.IgnoreProfitNotification(&models.Signal{TPHitNumber: &one}) {
			t.Errorf("%s: explicit TP number must be handled", s.Name())
		}
		if s.IgnoreProfitNotification(&models.Signal{MoveSLToEntry: true}) {
			t.Errorf("%s: breakeven instruction must be handled", s.Name())
		}
	}
}

func TestFactory(t *testing.T) {
	for _, name := range []string{"dual_tp", "single", "progressive"} {
		s, err := New(name)
		if err != nil || s.Name() != name {
			t.Errorf("Factory failed for %q: %v", name, err)
		}
	}
	if _, err := New("martingale"); err == nil {
		t.Error("Unknown strategy should error")
	}
}
