// Package alpaca adapts the Alpaca trading API to the ExecutionGateway
// contract. Upstream signals address positions by integer ticket, so the
// gateway keeps a ticket-to-order mapping of its own.
package alpaca

import (
	"context"
	"errors"
	"sync"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"signal_copier/internal/gateway"
	"signal_copier/internal/models"
)

// entry remembers how a ticket maps onto Alpaca state: the position's symbol
// plus the bracket child orders we may later need to replace.
type entry struct {
	symbol    string
	qty       decimal.Decimal
	slOrderID string
	tpOrderID string
}

// Gateway implements gateway.ExecutionGateway against Alpaca's REST API.
type Gateway struct {
	tradeClient *alpaca.Client
	mdClient    *marketdata.Client
	log         *zap.Logger

	mu         sync.Mutex
	nextTicket int64
	entries    map[int64]*entry
}

var _ gateway.ExecutionGateway = (*Gateway)(nil)

// New builds a gateway using credentials from the environment
// (APCA_API_KEY_ID, APCA_API_SECRET_KEY, APCA_API_BASE_URL).
func New(log *zap.Logger) *Gateway {
	return &Gateway{
		tradeClient: alpaca.NewClient(alpaca.ClientOpts{}),
		mdClient:    marketdata.NewClient(marketdata.ClientOpts{}),
		log:         log,
		entries:     make(map[int64]*entry),
	}
}

func (g *Gateway) Connect(ctx context.Context) error {
	acct, err := g.tradeClient.GetAccount()
	if err != nil {
		return mapErr("connect", err)
	}
	g.log.Info("connected to broker",
		zap.String("account_id", acct.ID),
		zap.String("equity", acct.Equity.String()))
	return nil
}

// Disconnect is a no-op for the REST transport.
func (g *Gateway) Disconnect(ctx context.Context) error { return nil }

func (g *Gateway) Ping(ctx context.Context) error {
	if _, err := g.tradeClient.GetClock(); err != nil {
		return mapErr("ping", err)
	}
	return nil
}

func (g *Gateway) Open(ctx context.Context, req gateway.OpenRequest) (*gateway.OpenResult, error) {
	side := alpaca.Buy
	if !req.OrderType.IsBuy() {
		side = alpaca.Sell
	}

	qty := req.Volume
	placeReq := alpaca.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          side,
		TimeInForce:   alpaca.GTC,
		ClientOrderID: uuid.NewString(),
	}

	switch req.OrderType {
	case models.OrderBuyLimit, models.OrderSellLimit:
		if req.EntryPrice == nil {
			return nil, gateway.Errorf(gateway.KindValidation, "open", "limit order for %s needs an entry price", req.Symbol)
		}
		placeReq.Type = alpaca.Limit
		placeReq.LimitPrice = req.EntryPrice
	case models.OrderBuyStop, models.OrderSellStop:
		if req.EntryPrice == nil {
			return nil, gateway.Errorf(gateway.KindValidation, "open", "stop order for %s needs an entry price", req.Symbol)
		}
		placeReq.Type = alpaca.Stop
		placeReq.StopPrice = req.EntryPrice
	default:
		placeReq.Type = alpaca.Market
	}

	if req.StopLoss != nil || req.TakeProfit != nil {
		placeReq.OrderClass = alpaca.Bracket
		if req.TakeProfit != nil {
			placeReq.TakeProfit = &alpaca.TakeProfit{LimitPrice: req.TakeProfit}
		}
		if req.StopLoss != nil {
			placeReq.StopLoss = &alpaca.StopLoss{StopPrice: req.StopLoss}
		}
	}

	order, err := g.tradeClient.PlaceOrder(placeReq)
	if err != nil {
		return nil, mapErr("open", err)
	}

	filledPrice := decimal.Zero
	if order.FilledAvgPrice != nil {
		filledPrice = *order.FilledAvgPrice
	} else if req.EntryPrice != nil {
		filledPrice = *req.EntryPrice
	}
	filledQty := order.FilledQty
	if filledQty.IsZero() {
		filledQty = req.Volume
	}

	e := &entry{symbol: req.Symbol, qty: filledQty}
	for i := range order.Legs {
		leg := &order.Legs[i]
		switch leg.Type {
		case alpaca.Stop, alpaca.StopLimit:
			e.slOrderID = leg.ID
		case alpaca.Limit:
			e.tpOrderID = leg.ID
		}
	}

	g.mu.Lock()
	g.nextTicket++
	ticket := g.nextTicket
	g.entries[ticket] = e
	g.mu.Unlock()

	g.log.Info("order placed",
		zap.Int64("ticket", ticket),
		zap.String("order_id", order.ID),
		zap.String("symbol", req.Symbol),
		zap.String("side", string(side)),
		zap.String("qty", filledQty.String()))

	return &gateway.OpenResult{Ticket: ticket, FilledPrice: filledPrice, FilledVolume: filledQty}, nil
}

func (g *Gateway) Modify(ctx context.Context, ticket int64, sl, tp *decimal.Decimal) error {
	e, err := g.lookup("modify", ticket)
	if err != nil {
		return err
	}

	if sl != nil {
		if e.slOrderID == "" {
			return gateway.Errorf(gateway.KindBrokerRejected, "modify", "ticket %d has no stop order to replace", ticket)
		}
		replaced, rerr := g.tradeClient.ReplaceOrder(e.slOrderID, alpaca.ReplaceOrderRequest{StopPrice: sl})
		if rerr != nil {
			return mapErr("modify", rerr)
		}
		g.mu.Lock()
		e.slOrderID = replaced.ID
		g.mu.Unlock()
	}

	if tp != nil {
		if e.tpOrderID == "" {
			return gateway.Errorf(gateway.KindBrokerRejected, "modify", "ticket %d has no take-profit order to replace", ticket)
		}
		replaced, rerr := g.tradeClient.ReplaceOrder(e.tpOrderID, alpaca.ReplaceOrderRequest{LimitPrice: tp})
		if rerr != nil {
			return mapErr("modify", rerr)
		}
		g.mu.Lock()
		e.tpOrderID = replaced.ID
		g.mu.Unlock()
	}

	return nil
}

func (g *Gateway) Close(ctx context.Context, ticket int64) (*gateway.CloseResult, error) {
	e, err := g.lookup("close", ticket)
	if err != nil {
		return nil, err
	}

	order, cerr := g.tradeClient.ClosePosition(e.symbol, alpaca.ClosePositionRequest{})
	if cerr != nil {
		return nil, mapErr("close", cerr)
	}

	g.mu.Lock()
	delete(g.entries, ticket)
	g.mu.Unlock()

	price := decimal.Zero
	if order != nil && order.FilledAvgPrice != nil {
		price = *order.FilledAvgPrice
	}
	return &gateway.CloseResult{ClosedPrice: price}, nil
}

func (g *Gateway) PartialClose(ctx context.Context, ticket int64, pct decimal.Decimal) (*gateway.PartialCloseResult, error) {
	if pct.LessThanOrEqual(decimal.Zero) || pct.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return nil, gateway.Errorf(gateway.KindValidation, "partial_close", "percentage %s out of range", pct)
	}
	e, err := g.lookup("partial_close", ticket)
	if err != nil {
		return nil, err
	}

	fraction := pct.Div(decimal.NewFromInt(100))
	if _, cerr := g.tradeClient.ClosePosition(e.symbol, alpaca.ClosePositionRequest{
		Percentage: fraction,
	}); cerr != nil {
		return nil, mapErr("partial_close", cerr)
	}

	closed := e.qty.Mul(fraction)
	g.mu.Lock()
	e.qty = e.qty.Sub(closed)
	remaining := e.qty
	g.mu.Unlock()

	return &gateway.PartialCloseResult{ClosedVolume: closed, RemainingVolume: remaining}, nil
}

func (g *Gateway) GetPosition(ctx context.Context, ticket int64) (*gateway.PositionSnapshot, error) {
	e, err := g.lookup("get_position", ticket)
	if gateway.IsKind(err, gateway.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	pos, perr := g.tradeClient.GetPosition(e.symbol)
	if perr != nil {
		if isNotFound(perr) {
			g.mu.Lock()
			delete(g.entries, ticket)
			g.mu.Unlock()
			return nil, nil
		}
		return nil, mapErr("get_position", perr)
	}

	current := decimal.Zero
	if pos.CurrentPrice != nil {
		current = *pos.CurrentPrice
	}
	profit := decimal.Zero
	if pos.UnrealizedPL != nil {
		profit = *pos.UnrealizedPL
	}

	orderType := models.OrderBuy
	if pos.Side == "short" {
		orderType = models.OrderSell
	}

	return &gateway.PositionSnapshot{
		Ticket:       ticket,
		Symbol:       pos.Symbol,
		OrderType:    orderType,
		Volume:       pos.Qty,
		OpenPrice:    pos.AvgEntryPrice,
		CurrentPrice: current,
		Profit:       profit,
	}, nil
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
	acct, err := g.tradeClient.GetAccount()
	if err != nil {
		return decimal.Zero, mapErr("account_equity", err)
	}
	return acct.Equity, nil
}

func (g *Gateway) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	trade, err := g.mdClient.GetLatestTrade(symbol, marketdata.GetLatestTradeRequest{})
	if err != nil {
		return decimal.Zero, mapErr("current_price", err)
	}
	if trade == nil {
		return decimal.Zero, gateway.Errorf(gateway.KindNotFound, "current_price", "no trade data for %s", symbol)
	}
	return decimal.NewFromFloat(trade.Price), nil
}

func (g *Gateway) lookup(op string, ticket int64) (*entry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[ticket]
	if !ok {
		return nil, gateway.Errorf(gateway.KindNotFound, op, "ticket %d", ticket)
	}
	return e, nil
}

// mapErr classifies an SDK error: API rejections become broker_rejected (or
// not_found for 404), anything else is treated as a connectivity problem.
func mapErr(op string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 404 {
			return gateway.NewError(gateway.KindNotFound, op, err)
		}
		return gateway.NewError(gateway.KindBrokerRejected, op, err)
	}
	return gateway.NewError(gateway.KindConnectionLost, op, err)
}

func isNotFound(err error) bool {
	var apiErr *alpaca.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}
