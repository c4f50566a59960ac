package gateway

import (
	"context"
	"errors"
	"strings"
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

func TestValidateSLTP_BuyWrongSideSL(t *testing.T) {
	sl, tp, warnings := ValidateSLTP(true, d(t, "2000"), dp(t, "2010"), dp(t, "2020"))
	if sl != nil {
		t.Errorf("SL above entry on a buy should be dropped, got %s", sl)
	}
	if tp == nil || !tp.Equal(d(t, "2020")) {
		t.Errorf("Valid TP should survive, got %v", tp)
	}
	if len(warnings) != 1 {
		t.Errorf("Expected 1 warning, got %v", warnings)
	}
}

func TestValidateSLTP_SellWrongSideTP(t *testing.T) {
	sl, tp, warnings := ValidateSLTP(false, d(t, "1.10"), dp(t, "1.11"), dp(t, "1.12"))
	if sl == nil || !sl.Equal(d(t, "1.11")) {
		t.Errorf("Valid SL should survive, got %v", sl)
	}
	if tp != nil {
		t.Errorf("TP above entry on a sell should be dropped, got %s", tp)
	}
	if len(warnings) != 1 {
		t.Errorf("Expected 1 warning, got %v", warnings)
	}
}

func TestValidateSLTP_BothValid(t *testing.T) {
	sl, tp, warnings := ValidateSLTP(true, d(t, "2000"), dp(t, "1990"), dp(t, "2010"))
	if sl == nil || tp == nil || len(warnings) != 0 {
		t.Errorf("Both values valid, got sl=%v tp=%v warnings=%v", sl, tp, warnings)
	}
}

func TestValidateSLTP_NilInputs(t *testing.T) {
	sl, tp, warnings := ValidateSLTP(true, d(t, "2000"), nil, nil)
	if sl != nil || tp != nil || len(warnings) != 0 {
		t.Errorf("Nil inputs should pass through, got sl=%v tp=%v warnings=%v", sl, tp, warnings)
	}
}

func TestFindValidTP_FirstProfitable(t *testing.T) {
	tps := []decimal.Decimal{d(t, "2010"), d(t, "2020")}
	tp, warning := FindValidTP(true, d(t, "2000"), tps, dp(t, "1990"))
	if tp == nil || !tp.Equal(d(t, "2010")) {
		t.Errorf("Expected first profitable TP 2010, got %v", tp)
	}
	if warning != "" {
		t.Errorf("No warning expected, got %q", warning)
	}
}

func TestFindValidTP_SkipsBreachedTPs(t *testing.T) {
	tps := []decimal.Decimal{d(t, "2850"), d(t, "2900"), d(t, "2975")}
	tp, warning := FindValidTP(true, d(t, "2970"), tps, dp(t, "2920"))
	if tp == nil || !tp.Equal(d(t, "2975")) {
		t.Errorf("Expected 2975, got %v", tp)
	}
	if warning != "" {
		t.Errorf("No warning expected, got %q", warning)
	}
}

func TestFindValidTP_AllBreachedFallsBackToRR(t *testing.T) {
	tps := []decimal.Decimal{d(t, "2850"), d(t, "2900"), d(t, "2950")}
	tp, warning := FindValidTP(true, d(t, "2970"), tps, dp(t, "2920"))
	if tp == nil || !tp.Equal(d(t, "3020")) {
		t.Errorf("Expected 1:1 RR fallback 3020, got %v", tp)
	}
	if !strings.Contains(warning, "1:1 RR fallback") {
		t.Errorf("Expected RR fallback warning, got %q", warning)
	}
}

func TestFindValidTP_SellFallback(t *testing.T) {
	tps := []decimal.Decimal{d(t, "1.20")}
	tp, warning := FindValidTP(false, d(t, "1.10"), tps, dp(t, "1.15"))
	if tp == nil || !tp.Equal(d(t, "1.05")) {
		t.Errorf("Expected sell fallback 1.05, got %v", tp)
	}
	if warning == "" {
		t.Error("Expected a fallback warning")
	}
}

func TestFindValidTP_NoSLForFallback(t *testing.T) {
	tps := []decimal.Decimal{d(t, "2850")}
	tp, warning := FindValidTP(true, d(t, "2970"), tps, nil)
	if tp != nil {
		t.Errorf("Expected no TP without an SL to derive from, got %s", tp)
	}
	if !strings.Contains(warning, "without TP") {
		t.Errorf("Expected without-TP warning, got %q", warning)
	}
}

func TestFindValidTP_EmptyList(t *testing.T) {
	tp, warning := FindValidTP(true, d(t, "2000"), nil, dp(t, "1990"))
	if tp != nil || warning != "" {
		t.Errorf("Empty TP list should return nothing, got tp=%v warning=%q", tp, warning)
	}
}

// fakeGateway fails opens for tickets beyond failAfter, so multi-leg opens
// can partially succeed.
type fakeGateway struct {
	nextTicket int64
	failAfter  int
	opened     []OpenRequest
}

func (f *fakeGateway) Connect(context.Context) error    { return nil }
func (f *fakeGateway) Disconnect(context.Context) error { return nil }
func (f *fakeGateway) Ping(context.Context) error       { return nil }

func (f *fakeGateway) Open(_ context.Context, req OpenRequest) (*OpenResult, error) {
	if f.failAfter > 0 && len(f.opened) >= f.failAfter {
		return nil, NewError(KindBrokerRejected, "open", errors.New("margin exceeded"))
	}
	f.opened = append(f.opened, req)
	f.nextTicket++
	price := decimal.Zero
	if req.EntryPrice != nil {
		price = *req.EntryPrice
	}
	return &OpenResult{Ticket: f.nextTicket, FilledPrice: price, FilledVolume: req.Volume}, nil
}

func (f *fakeGateway) Modify(context.Context, int64, *decimal.Decimal, *decimal.Decimal) error {
	return nil
}
func (f *fakeGateway) Close(context.Context, int64) (*CloseResult, error) { return nil, nil }
func (f *fakeGateway) PartialClose(context.Context, int64, decimal.Decimal) (*PartialCloseResult, error) {
	return nil, nil
}
func (f *fakeGateway) GetPosition(context.Context, int64) (*PositionSnapshot, error) {
	return nil, nil
}
func (f *fakeGateway) IsProfitable(context.Context, int64) (bool, error) { return false, nil }
func (f *fakeGateway) AccountEquity(context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (f *fakeGateway) CurrentPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func TestOpenLegs_PartialSuccess(t *testing.T) {
	gw := &fakeGateway{failAfter: 1}
	plans := []models.LegPlan{
		{Role: models.RoleScalp, TakeProfit: dp(t, "2010"), StopLoss: dp(t, "1990"), LotMultiplier: decimal.NewFromInt(1)},
		{Role: models.RoleRunner, TakeProfit: dp(t, "2020"), StopLoss: dp(t, "1990"), LotMultiplier: decimal.NewFromInt(1)},
	}

	results := OpenLegs(context.Background(), gw, "XAUUSD", models.OrderBuy,
		d(t, "2000"), d(t, "0.01"), "sig", plans)

	scalp := results[models.RoleScalp]
	if scalp.Err != nil || scalp.Result == nil {
		t.Fatalf("First leg should open: %v", scalp.Err)
	}
	runner := results[models.RoleRunner]
	if runner.Err == nil {
		t.Fatal("Second leg should fail")
	}
	if !IsKind(runner.Err, KindBrokerRejected) {
		t.Errorf("Expected broker_rejected, got %v", runner.Err)
	}
}

func TestOpenLegs_DropsInvalidSL(t *testing.T) {
	gw := &fakeGateway{}
	plans := []models.LegPlan{
		{Role: models.RoleSingle, TakeProfit: dp(t, "2010"), StopLoss: dp(t, "2005"), LotMultiplier: decimal.NewFromInt(1)},
	}

	results := OpenLegs(context.Background(), gw, "XAUUSD", models.OrderBuy,
		d(t, "2000"), d(t, "0.01"), "sig", plans)

	res := results[models.RoleSingle]
	if res.Err != nil {
		t.Fatalf("Leg should still open with the SL dropped: %v", res.Err)
	}
	if len(res.Warnings) != 1 {
		t.Errorf("Expected a validation warning, got %v", res.Warnings)
	}
	if gw.opened[0].StopLoss != nil {
		t.Error("Invalid SL should not reach the broker")
	}
	if gw.opened[0].TakeProfit == nil {
		t.Error("Valid TP should reach the broker")
	}
}

func TestErrorKindMatching(t *testing.T) {
	err := Errorf(KindConnectionLost, "ping", "socket closed")
	if !IsKind(err, KindConnectionLost) {
		t.Error("IsKind should match the wrapped kind")
	}
	if IsKind(err, KindNotFound) {
		t.Error("IsKind should not match a different kind")
	}
	if IsKind(errors.New("plain"), KindNotFound) {
		t.Error("Plain errors carry no kind")
	}
}
