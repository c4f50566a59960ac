package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal_copier/internal/gateway"
	"signal_copier/internal/gateway/paper"
	"signal_copier/internal/models"
)

func testConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		PingInterval: 30 * time.Second,
		// keep-alive off; tests drive the supervisor directly
		KeepAliveInterval: 0,
	}
}

func openReq(t *testing.T) gateway.OpenRequest {
	t.Helper()
	entry, err := decimal.NewFromString("2000")
	if err != nil {
		t.Fatal(err)
	}
	return gateway.OpenRequest{
		Symbol:     "XAUUSD",
		OrderType:  models.OrderBuy,
		Volume:     decimal.NewFromFloat(0.01),
		EntryPrice: &entry,
	}
}

func TestReconnectAndRetryOnce(t *testing.T) {
	gw := paper.New(zap.NewNop())
	s := New(gw, testConfig(), zap.NewNop())
	ctx := context.Background()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if s.State() != StateConnected {
		t.Fatalf("Expected connected, got %s", s.State())
	}

	gw.DropConnection()

	res, err := s.Open(ctx, openReq(t))
	if err != nil {
		t.Fatalf("Open should succeed after reconnect, got %v", err)
	}
	if res.Ticket == 0 {
		t.Error("Expected a ticket from the retried open")
	}
	if s.State() != StateConnected {
		t.Errorf("Expected connected after recovery, got %s", s.State())
	}
}

func TestStaleLivenessTriggersPing(t *testing.T) {
	gw := paper.New(zap.NewNop())
	s := New(gw, testConfig(), zap.NewNop())
	ctx := context.Background()

	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	// Age the liveness check past the ping interval.
	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	gw.FailPings(1)

	// The stale check fails its ping, forcing a reconnect before the call.
	if _, err := s.Open(ctx, openReq(t)); err != nil {
		t.Fatalf("Open should recover from a failed liveness ping: %v", err)
	}
	if s.State() != StateConnected {
		t.Errorf("Expected connected, got %s", s.State())
	}
}

// deadGateway never connects, for attempt-budget tests.
type deadGateway struct{}

func (deadGateway) Connect(context.Context) error {
	return gateway.NewError(gateway.KindConnectionLost, "connect", errors.New("dead"))
}
func (deadGateway) Disconnect(context.Context) error { return nil }
func (deadGateway) Ping(context.Context) error {
	return gateway.NewError(gateway.KindConnectionLost, "ping", errors.New("dead"))
}
func (deadGateway) Open(context.Context, gateway.OpenRequest) (*gateway.OpenResult, error) {
	return nil, gateway.NewError(gateway.KindConnectionLost, "open", errors.New("dead"))
}
func (deadGateway) Modify(context.Context, int64, *decimal.Decimal, *decimal.Decimal) error {
	return gateway.NewError(gateway.KindConnectionLost, "modify", errors.New("dead"))
}
func (deadGateway) Close(context.Context, int64) (*gateway.CloseResult, error) {
	return nil, gateway.NewError(gateway.KindConnectionLost, "close", errors.New("dead"))
}
func (deadGateway) PartialClose(context.Context, int64, decimal.Decimal) (*gateway.PartialCloseResult, error) {
	return nil, gateway.NewError(gateway.KindConnectionLost, "partial_close", errors.New("dead"))
}
func (deadGateway) GetPosition(context.Context, int64) (*gateway.PositionSnapshot, error) {
	return nil, gateway.NewError(gateway.KindConnectionLost, "get_position", errors.New("dead"))
}
func (deadGateway) IsProfitable(context.Context, int64) (bool, error) {
	return false, gateway.NewError(gateway.KindConnectionLost, "is_profitable", errors.New("dead"))
}
func (deadGateway) AccountEquity(context.Context) (decimal.Decimal, error) {
	return decimal.Zero, gateway.NewError(gateway.KindConnectionLost, "account_equity", errors.New("dead"))
}
func (deadGateway) CurrentPrice(context.Context, string) (decimal.Decimal, error) {
	return decimal.Zero, gateway.NewError(gateway.KindConnectionLost, "current_price", errors.New("dead"))
}

func TestReconnectGivesUpAfterAttemptBudget(t *testing.T) {
	s := New(deadGateway{}, testConfig(), zap.NewNop())

	err := s.reconnect(context.Background())
	if err == nil {
		t.Fatal("Expected reconnect to fail")
	}
	if !gateway.IsKind(err, gateway.KindConnectionLost) {
		t.Errorf("Expected connection_lost, got %v", err)
	}
	if s.State() != StateDegraded {
		t.Errorf("Expected degraded after exhausting attempts, got %s", s.State())
	}
}

func TestReconnectHonorsContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 0 // unlimited
	cfg.InitialDelay = time.Hour
	s := New(deadGateway{}, cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := s.reconnect(ctx)
	if err == nil {
		t.Fatal("Expected reconnect to stop on cancel")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in chain, got %v", err)
	}
}

func TestNonConnectionErrorsAreNotRetried(t *testing.T) {
	gw := paper.New(zap.NewNop())
	s := New(gw, testConfig(), zap.NewNop())
	ctx := context.Background()

	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	// Unknown ticket is a not_found failure, not a connectivity problem.
	_, err := s.Close(ctx, 999)
	if !gateway.IsKind(err, gateway.KindNotFound) {
		t.Fatalf("Expected not_found passthrough, got %v", err)
	}
	if s.State() != StateConnected {
		t.Errorf("State should stay connected, got %s", s.State())
	}
}
