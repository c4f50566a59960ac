// Package strategy holds the pure decision logic: how many legs a signal
// opens, what each leg targets, and what to do when a take-profit is hit.
// Nothing here touches the gateway or the store.
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"signal_copier/internal/models"
)

// Strategy decides leg layout and take-profit reactions for one policy.
type Strategy interface {
	Name() string

	// LegsToOpen plans the legs for a new signal. Re-entries always
	// collapse to a single leg regardless of policy.
	LegsToOpen(sig *models.Signal, isReEntry bool) []models.LegPlan

	// OnTPHit maps a take-profit number to per-role actions. A tpNumber
	// of 0 means the notification asked for a breakeven move without
	// naming a target.
	OnTPHit(tpNumber int, dual *models.DualPosition) []models.LegAction

	// IgnoreProfitNotification reports whether a profit notification is
	// purely informational and should be dropped.
	IgnoreProfitNotification(sig *models.Signal) bool
}

// New selects a policy by its configured name.
func New(name string) (Strategy, error) {
	switch name {
	case "dual_tp":
		return &DualTP{}, nil
	case "single":
		return &Single{}, nil
	case "progressive":
		return &Progressive{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

var one = decimal.NewFromInt(1)

// isInformational is shared by every policy: no explicit TP number and no
// move-to-breakeven instruction means "book some profits" style commentary.
func isInformational(sig *models.Signal) bool {
	return sig.TPHitNumber == nil && !sig.MoveSLToEntry
}

// ProgressiveStop returns the ladder stop for a leg after TP number n was
// hit: entry for n=1, the previous take-profit for n>=2. Nil when n is out
// of range for the list.
func ProgressiveStop(entry decimal.Decimal, takeProfits []decimal.Decimal, n int) *decimal.Decimal {
	if n < 1 {
		return nil
	}
	if n == 1 {
		e := entry
		return &e
	}
	if n-2 >= len(takeProfits) {
		return nil
	}
	tp := takeProfits[n-2]
	return &tp
}

// singleLeg is the shared one-leg plan used by re-entries and the single
// policy: first take-profit, signal stop.
func singleLeg(sig *models.Signal) []models.LegPlan {
	return []models.LegPlan{{
		Role:          models.RoleSingle,
		TakeProfit:    sig.FirstTP(),
		StopLoss:      sig.StopLoss,
		LotMultiplier: one,
	}}
}

// DualTP opens a scalp leg on the first take-profit and a runner on the
// last. TP1 closes the scalp and moves the runner to breakeven; later hits
// ladder the runner's stop until its own target closes it.
type DualTP struct{}

func (DualTP) Name() string { return "dual_tp" }

func (DualTP) LegsToOpen(sig *models.Signal, isReEntry bool) []models.LegPlan {
	if isReEntry {
		return singleLeg(sig)
	}
	return []models.LegPlan{
		{
			Role:          models.RoleScalp,
			TakeProfit:    sig.FirstTP(),
			StopLoss:      sig.StopLoss,
			LotMultiplier: one,
		},
		{
			Role:          models.RoleRunner,
			TakeProfit:    sig.LastTP(),
			StopLoss:      sig.StopLoss,
			LotMultiplier: one,
		},
	}
}

func (DualTP) OnTPHit(tpNumber int, dual *models.DualPosition) []models.LegAction {
	if tpNumber < 1 {
		// Breakeven instruction without a TP number: protect the
		// runner, the scalp keeps running to its own target.
		if dual.Runner != nil && dual.Runner.Status != models.StatusClosed {
			return []models.LegAction{{Type: models.ActionMoveToBreakeven, Role: models.RoleRunner}}
		}
		return nil
	}
	if tpNumber == 1 {
		actions := []models.LegAction{}
		if dual.Scalp != nil && dual.Scalp.Status != models.StatusClosed {
			actions = append(actions, models.LegAction{Type: models.ActionVerifyClosed, Role: models.RoleScalp})
		}
		if dual.Runner != nil && dual.Runner.Status != models.StatusClosed {
			actions = append(actions, models.LegAction{Type: models.ActionMoveToBreakeven, Role: models.RoleRunner})
		}
		return actions
	}

	runner := dual.Runner
	if runner == nil {
		if dual.Scalp != nil && dual.Scalp.Status != models.StatusClosed {
			return []models.LegAction{{Type: models.ActionVerifyClosed, Role: dual.Scalp.Role}}
		}
		return nil
	}
	if runner.Status == models.StatusClosed {
		return nil
	}

	// The runner targets the last listed TP; an earlier hit just ladders
	// its stop to the previous TP.
	if tpNumber >= len(runner.TakeProfits) {
		return []models.LegAction{{Type: models.ActionVerifyClosed, Role: models.RoleRunner}}
	}
	value := ProgressiveStop(runner.EntryPrice, runner.TakeProfits, tpNumber)
	if value == nil {
		return []models.LegAction{{Type: models.ActionVerifyClosed, Role: models.RoleRunner}}
	}
	return []models.LegAction{{Type: models.ActionModifySL, Role: models.RoleRunner, Value: value}}
}

func (DualTP) IgnoreProfitNotification(sig *models.Signal) bool { return isInformational(sig) }

// Single opens one leg on the first take-profit; any hit just verifies the
// leg closed.
type Single struct{}

func (Single) Name() string { return "single" }

func (Single) LegsToOpen(sig *models.Signal, isReEntry bool) []models.LegPlan {
	return singleLeg(sig)
}

func (Single) OnTPHit(tpNumber int, dual *models.DualPosition) []models.LegAction {
	if tpNumber < 1 {
		return nil
	}
	actions := []models.LegAction{}
	for _, leg := range dual.Legs() {
		if leg.Status != models.StatusClosed {
			actions = append(actions, models.LegAction{Type: models.ActionVerifyClosed, Role: leg.Role})
		}
	}
	return actions
}

func (Single) IgnoreProfitNotification(sig *models.Signal) bool { return isInformational(sig) }

// Progressive opens one leg on the last take-profit and walks its stop up
// the TP ladder as intermediate targets are hit.
type Progressive struct{}

func (Progressive) Name() string { return "progressive" }

func (Progressive) LegsToOpen(sig *models.Signal, isReEntry bool) []models.LegPlan {
	if isReEntry {
		return singleLeg(sig)
	}
	return []models.LegPlan{{
		Role:          models.RoleSingle,
		TakeProfit:    sig.LastTP(),
		StopLoss:      sig.StopLoss,
		LotMultiplier: one,
	}}
}

func (Progressive) OnTPHit(tpNumber int, dual *models.DualPosition) []models.LegAction {
	leg := dual.ByRole(models.RoleSingle)
	if leg == nil || leg.Status == models.StatusClosed {
		return nil
	}
	if tpNumber < 1 {
		return []models.LegAction{{Type: models.ActionMoveToBreakeven, Role: leg.Role}}
	}
	if tpNumber >= len(leg.TakeProfits) {
		return []models.LegAction{{Type: models.ActionVerifyClosed, Role: leg.Role}}
	}
	value := ProgressiveStop(leg.EntryPrice, leg.TakeProfits, tpNumber)
	if value == nil {
		return nil
	}
	return []models.LegAction{{Type: models.ActionModifySL, Role: leg.Role, Value: value}}
}

func (Progressive) IgnoreProfitNotification(sig *models.Signal) bool { return isInformational(sig) }
