// Package paper is an in-memory execution backend. It backs dry-run mode and
// the test suites: prices, connectivity and broker-side closes are all
// scriptable.
package paper

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal_copier/internal/gateway"
	"signal_copier/internal/models"
)

type position struct {
	ticket        int64
	clientOrderID string
	symbol        string
	orderType     models.OrderType
	isBuy         bool
	volume        decimal.Decimal
	openPrice     decimal.Decimal
	stopLoss      *decimal.Decimal
	takeProfit    *decimal.Decimal
}

// Gateway simulates a broker in memory. Safe for concurrent use; the
// keep-alive goroutine pings while handlers trade.
type Gateway struct {
	mu sync.Mutex

	log       *zap.Logger
	connected bool

	nextTicket int64
	positions  map[int64]*position
	prices     map[string]decimal.Decimal
	equity     decimal.Decimal

	failPings int // remaining pings to fail, for reconnect tests
}

func New(log *zap.Logger) *Gateway {
	return &Gateway{
		log:       log,
		positions: make(map[int64]*position),
		prices:    make(map[string]decimal.Decimal),
		equity:    decimal.NewFromInt(10000),
	}
}

// SetPrice scripts the current market price for a symbol.
func (g *Gateway) SetPrice(symbol string, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[symbol] = price
}

// SetEquity scripts the account equity.
func (g *Gateway) SetEquity(equity decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.equity = equity
}

// DropConnection simulates the broker link going down; calls fail with
// connection_lost until Connect is called again.
func (g *Gateway) DropConnection() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
}

// FailPings makes the next n pings fail even while connected.
func (g *Gateway) FailPings(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failPings = n
}

// MarkClosed simulates the broker closing a ticket (stop or TP filled
// server-side). Subsequent GetPosition calls report it gone.
func (g *Gateway) MarkClosed(ticket int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.positions, ticket)
}

// OpenTickets returns the tickets currently held, for test assertions.
func (g *Gateway) OpenTickets() []int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	tickets := make([]int64, 0, len(g.positions))
	for t := range g.positions {
		tickets = append(tickets, t)
	}
	return tickets
}

func (g *Gateway) Connect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = true
	return nil
}

func (g *Gateway) Disconnect(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connected = false
	return nil
}

func (g *Gateway) Ping(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failPings > 0 {
		g.failPings--
		return gateway.NewError(gateway.KindConnectionLost, "ping", errors.New("simulated ping failure"))
	}
	if !g.connected {
		return gateway.NewError(gateway.KindConnectionLost, "ping", errors.New("not connected"))
	}
	return nil
}

func (g *Gateway) Open(ctx context.Context, req gateway.OpenRequest) (*gateway.OpenResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		return nil, gateway.NewError(gateway.KindConnectionLost, "open", errors.New("not connected"))
	}
	if req.Volume.LessThanOrEqual(decimal.Zero) {
		return nil, gateway.Errorf(gateway.KindValidation, "open", "volume %s must be positive", req.Volume)
	}

	fill, ok := g.prices[req.Symbol]
	if req.OrderType.IsPending() {
		if req.EntryPrice == nil {
			return nil, gateway.Errorf(gateway.KindValidation, "open", "pending order for %s needs an entry price", req.Symbol)
		}
		fill = *req.EntryPrice
	} else if !ok {
		if req.EntryPrice == nil {
			return nil, gateway.Errorf(gateway.KindValidation, "open", "no market price for %s", req.Symbol)
		}
		fill = *req.EntryPrice
	}

	g.nextTicket++
	pos := &position{
		ticket:        g.nextTicket,
		clientOrderID: uuid.NewString(),
		symbol:        req.Symbol,
		orderType:     req.OrderType,
		isBuy:         req.OrderType.IsBuy(),
		volume:        req.Volume,
		openPrice:     fill,
		stopLoss:      req.StopLoss,
		takeProfit:    req.TakeProfit,
	}
	g.positions[pos.ticket] = pos

	g.log.Debug("paper order filled",
		zap.Int64("ticket", pos.ticket),
		zap.String("symbol", req.Symbol),
		zap.String("order_type", string(req.OrderType)),
		zap.String("price", fill.String()),
		zap.String("volume", req.Volume.String()))

	return &gateway.OpenResult{Ticket: pos.ticket, FilledPrice: fill, FilledVolume: req.Volume}, nil
}

func (g *Gateway) Modify(ctx context.Context, ticket int64, sl, tp *decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		return gateway.NewError(gateway.KindConnectionLost, "modify", errors.New("not connected"))
	}
	pos, ok := g.positions[ticket]
	if !ok {
		return gateway.Errorf(gateway.KindNotFound, "modify", "ticket %d", ticket)
	}
	if sl != nil {
		pos.stopLoss = sl
	}
	if tp != nil {
		pos.takeProfit = tp
	}
	return nil
}

func (g *Gateway) Close(ctx context.Context, ticket int64) (*gateway.CloseResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		return nil, gateway.NewError(gateway.KindConnectionLost, "close", errors.New("not connected"))
	}
	pos, ok := g.positions[ticket]
	if !ok {
		return nil, gateway.Errorf(gateway.KindNotFound, "close", "ticket %d", ticket)
	}
	price := g.currentPriceLocked(pos)
	delete(g.positions, ticket)
	return &gateway.CloseResult{ClosedPrice: price}, nil
}

func (g *Gateway) PartialClose(ctx context.Context, ticket int64, pct decimal.Decimal) (*gateway.PartialCloseResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		return nil, gateway.NewError(gateway.KindConnectionLost, "partial_close", errors.New("not connected"))
	}
	pos, ok := g.positions[ticket]
	if !ok {
		return nil, gateway.Errorf(gateway.KindNotFound, "partial_close", "ticket %d", ticket)
	}
	if pct.LessThanOrEqual(decimal.Zero) || pct.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return nil, gateway.Errorf(gateway.KindValidation, "partial_close", "percentage %s out of range", pct)
	}

	closed := pos.volume.Mul(pct).Div(decimal.NewFromInt(100))
	pos.volume = pos.volume.Sub(closed)
	return &gateway.PartialCloseResult{ClosedVolume: closed, RemainingVolume: pos.volume}, nil
}

func (g *Gateway) GetPosition(ctx context.Context, ticket int64) (*gateway.PositionSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.connected {
		return nil, gateway.NewError(gateway.KindConnectionLost, "get_position", errors.New("not connected"))
	}
	pos, ok := g.positions[ticket]
	if !ok {
		return nil, nil
	}

	current := g.currentPriceLocked(pos)
	profit := current.Sub(pos.openPrice).Mul(pos.volume)
	if !pos.isBuy {
		profit = profit.Neg()
	}

	snap := &gateway.PositionSnapshot{
		Ticket:       pos.ticket,
		Symbol:       pos.symbol,
		OrderType:    pos.orderType,
		Volume:       pos.volume,
		OpenPrice:    pos.openPrice,
		CurrentPrice: current,
		StopLoss:     pos.stopLoss,
		TakeProfit:   pos.takeProfit,
		Profit:       profit,
	}
	return snap, nil
}

func (g *Gateway) IsProfitable(ctx context.Context, ticket int64) (bool, error) {
	snap, err := g.GetPosition(ctx, ticket)
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, gateway.Errorf(gateway.KindNotFound, "is_profitable", "ticket %d", ticket)
	}
	return snap.Profit.GreaterThan(decimal.Zero), nil
}

func (g *Gateway) AccountEquity(ctx context.Context) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return decimal.Zero, gateway.NewError(gateway.KindConnectionLost, "account_equity", errors.New("not connected"))
	}
	return g.equity, nil
}

func (g *Gateway) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.connected {
		return decimal.Zero, gateway.NewError(gateway.KindConnectionLost, "current_price", errors.New("not connected"))
	}
	price, ok := g.prices[symbol]
	if !ok {
		return decimal.Zero, gateway.Errorf(gateway.KindNotFound, "current_price", "symbol %s", symbol)
	}
	return price, nil
}

func (g *Gateway) currentPriceLocked(pos *position) decimal.Decimal {
	if price, ok := g.prices[pos.symbol]; ok {
		return price
	}
	return pos.openPrice
}
