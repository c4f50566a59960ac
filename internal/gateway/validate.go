package gateway

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidateSLTP checks a candidate stop-loss and take-profit against the entry
// price and direction. A value on the wrong side of entry is dropped with a
// warning rather than failing the order; the other value survives. Never
// returns an error.
func ValidateSLTP(isBuy bool, entry decimal.Decimal, sl, tp *decimal.Decimal) (*decimal.Decimal, *decimal.Decimal, []string) {
	var warnings []string

	if sl != nil {
		wrong := (isBuy && sl.GreaterThanOrEqual(entry)) || (!isBuy && sl.LessThanOrEqual(entry))
		if wrong {
			warnings = append(warnings, fmt.Sprintf(
				"SL %s is on the wrong side of entry %s for %s, dropping it",
				sl, entry, direction(isBuy)))
			sl = nil
		}
	}

	if tp != nil {
		wrong := (isBuy && tp.LessThanOrEqual(entry)) || (!isBuy && tp.GreaterThanOrEqual(entry))
		if wrong {
			warnings = append(warnings, fmt.Sprintf(
				"TP %s is on the wrong side of entry %s for %s, dropping it",
				tp, entry, direction(isBuy)))
			tp = nil
		}
	}

	return sl, tp, warnings
}

// FindValidTP picks the first take-profit still on the profitable side of
// entry. When price has already run past every listed TP, it synthesizes a
// 1:1 risk/reward target from the stop-loss distance. With no stop-loss to
// derive from, it returns no TP and a warning so the order still goes out.
func FindValidTP(isBuy bool, entry decimal.Decimal, takeProfits []decimal.Decimal, stopLoss *decimal.Decimal) (*decimal.Decimal, string) {
	for _, tp := range takeProfits {
		if isBuy && tp.GreaterThan(entry) {
			t := tp
			return &t, ""
		}
		if !isBuy && tp.LessThan(entry) {
			t := tp
			return &t, ""
		}
	}

	if len(takeProfits) == 0 {
		return nil, ""
	}

	if stopLoss != nil {
		risk := entry.Sub(*stopLoss).Abs()
		var fallback decimal.Decimal
		if isBuy {
			fallback = entry.Add(risk)
		} else {
			fallback = entry.Sub(risk)
		}
		return &fallback, fmt.Sprintf(
			"TP1 breached for %s at entry %s, using 1:1 RR fallback TP %s",
			direction(isBuy), entry, fallback)
	}

	return nil, fmt.Sprintf(
		"TP1 breached for %s at entry %s and no SL available for a fallback, opening without TP",
		direction(isBuy), entry)
}

func direction(isBuy bool) string {
	if isBuy {
		return "buy"
	}
	return "sell"
}
