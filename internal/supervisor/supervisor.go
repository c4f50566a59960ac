// Package supervisor wraps an ExecutionGateway with liveness checking,
// exponential-backoff reconnection and a periodic keep-alive, so callers see
// a gateway that heals transient connection loss on its own.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal_copier/internal/gateway"
)

// State is the connection state machine position.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDegraded     State = "degraded" // reconnect budget exhausted
)

// Config tunes the supervision behavior.
type Config struct {
	MaxAttempts       int           // reconnect attempts per outage, 0 = unlimited
	InitialDelay      time.Duration // first backoff delay
	MaxDelay          time.Duration // backoff cap
	PingInterval      time.Duration // max staleness of the liveness check
	KeepAliveInterval time.Duration // background no-op request period
}

// Supervisor implements gateway.ExecutionGateway by delegating to an inner
// gateway, pinging before calls when the last check is stale and retrying a
// failed call once after a successful reconnect.
type Supervisor struct {
	inner gateway.ExecutionGateway
	cfg   Config
	log   *zap.Logger

	mu        sync.Mutex
	state     State
	lastCheck time.Time

	now func() time.Time

	keepAliveCancel context.CancelFunc
	keepAliveDone   chan struct{}
}

var _ gateway.ExecutionGateway = (*Supervisor)(nil)

func New(inner gateway.ExecutionGateway, cfg Config, log *zap.Logger) *Supervisor {
	return &Supervisor{
		inner: inner,
		cfg:   cfg,
		log:   log,
		state: StateDisconnected,
		now:   time.Now,
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Connect establishes the initial connection and starts the keep-alive loop.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.setState(StateConnecting)
	if err := s.inner.Connect(ctx); err != nil {
		s.setState(StateDisconnected)
		return err
	}
	s.markAlive()
	s.startKeepAlive()
	return nil
}

// Disconnect stops the keep-alive loop and releases the inner gateway.
func (s *Supervisor) Disconnect(ctx context.Context) error {
	s.stopKeepAlive()
	s.setState(StateDisconnected)
	return s.inner.Disconnect(ctx)
}

// Ping checks liveness directly and refreshes the staleness clock.
func (s *Supervisor) Ping(ctx context.Context) error {
	if err := s.inner.Ping(ctx); err != nil {
		s.setState(StateDisconnected)
		return err
	}
	s.markAlive()
	return nil
}

func (s *Supervisor) markAlive() {
	s.mu.Lock()
	s.state = StateConnected
	s.lastCheck = s.now()
	s.mu.Unlock()
}

// ensureLive pings when the last check is older than PingInterval and
// reconnects on ping failure.
func (s *Supervisor) ensureLive(ctx context.Context) error {
	s.mu.Lock()
	stale := s.now().Sub(s.lastCheck) > s.cfg.PingInterval
	s.mu.Unlock()
	if !stale {
		return nil
	}

	if err := s.inner.Ping(ctx); err != nil {
		s.log.Warn("liveness check failed", zap.Error(err))
		s.setState(StateDisconnected)
		return s.reconnect(ctx)
	}
	s.markAlive()
	return nil
}

// reconnect drives the backoff loop until connected, the attempt budget runs
// out, or the context is canceled.
func (s *Supervisor) reconnect(ctx context.Context) error {
	s.setState(StateConnecting)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialDelay
	b.MaxInterval = s.cfg.MaxDelay
	b.Reset()

	attempt := 0
	for {
		attempt++
		s.log.Info("reconnecting to broker", zap.Int("attempt", attempt))

		if err := s.inner.Connect(ctx); err == nil {
			s.markAlive()
			s.log.Info("reconnected to broker", zap.Int("attempts", attempt))
			return nil
		} else {
			s.log.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}

		if s.cfg.MaxAttempts > 0 && attempt >= s.cfg.MaxAttempts {
			s.setState(StateDegraded)
			return gateway.Errorf(gateway.KindConnectionLost, "reconnect",
				"gave up after %d attempts", attempt)
		}

		delay := b.NextBackOff()
		if delay == backoff.Stop {
			delay = s.cfg.MaxDelay
		}
		select {
		case <-ctx.Done():
			s.setState(StateDisconnected)
			return gateway.NewError(gateway.KindConnectionLost, "reconnect", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// call runs one gateway operation through the supervision policy: check
// liveness first, and on a connection-lost failure reconnect and retry the
// operation exactly once.
func call[T any](ctx context.Context, s *Supervisor, fn func() (T, error)) (T, error) {
	var zero T

	if err := s.ensureLive(ctx); err != nil {
		return zero, err
	}

	res, err := fn()
	if err == nil || !gateway.IsKind(err, gateway.KindConnectionLost) {
		return res, err
	}

	s.setState(StateDisconnected)
	if rerr := s.reconnect(ctx); rerr != nil {
		return zero, rerr
	}
	return fn()
}

func (s *Supervisor) Open(ctx context.Context, req gateway.OpenRequest) (*gateway.OpenResult, error) {
	return call(ctx, s, func() (*gateway.OpenResult, error) { return s.inner.Open(ctx, req) })
}

func (s *Supervisor) Modify(ctx context.Context, ticket int64, sl, tp *decimal.Decimal) error {
	_, err := call(ctx, s, func() (struct{}, error) { return struct{}{}, s.inner.Modify(ctx, ticket, sl, tp) })
	return err
}

func (s *Supervisor) Close(ctx context.Context, ticket int64) (*gateway.CloseResult, error) {
	return call(ctx, s, func() (*gateway.CloseResult, error) { return s.inner.Close(ctx, ticket) })
}

func (s *Supervisor) PartialClose(ctx context.Context, ticket int64, pct decimal.Decimal) (*gateway.PartialCloseResult, error) {
	return call(ctx, s, func() (*gateway.PartialCloseResult, error) { return s.inner.PartialClose(ctx, ticket, pct) })
}

func (s *Supervisor) GetPosition(ctx context.Context, ticket int64) (*gateway.PositionSnapshot, error) {
	return call(ctx, s, func() (*gateway.PositionSnapshot, error) { return s.inner.GetPosition(ctx, ticket) })
}

func (s *Supervisor) IsProfitable(ctx context.Context, ticket int64) (bool, error) {
	return call(ctx, s, func() (bool, error) { return s.inner.IsProfitable(ctx, ticket) })
}

func (s *Supervisor) AccountEquity(ctx context.Context) (decimal.Decimal, error) {
	return call(ctx, s, func() (decimal.Decimal, error) { return s.inner.AccountEquity(ctx) })
}

func (s *Supervisor) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return call(ctx, s, func() (decimal.Decimal, error) { return s.inner.CurrentPrice(ctx, symbol) })
}

// startKeepAlive begins the background no-op request loop that keeps idle
// connections from being torn down by intermediate network equipment.
func (s *Supervisor) startKeepAlive() {
	if s.cfg.KeepAliveInterval <= 0 {
		return
	}
	s.stopKeepAlive()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.keepAliveCancel = cancel
	s.keepAliveDone = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.cfg.KeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.inner.Ping(ctx); err != nil {
					s.log.Warn("keep-alive ping failed", zap.Error(err))
					s.setState(StateDisconnected)
					if rerr := s.reconnect(ctx); rerr != nil && !errors.Is(rerr, context.Canceled) {
						s.log.Error("keep-alive reconnect failed", zap.Error(rerr))
					}
					continue
				}
				s.markAlive()
			}
		}
	}()
}

func (s *Supervisor) stopKeepAlive() {
	s.mu.Lock()
	cancel := s.keepAliveCancel
	done := s.keepAliveDone
	s.keepAliveCancel = nil
	s.keepAliveDone = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}
