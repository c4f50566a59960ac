// Package gateway defines the execution seam between the coordinator and a
// broker backend, plus the pure SL/TP validation helpers shared by all
// backends. Backends live in subpackages (paper, alpaca).
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"signal_copier/internal/models"
)

// OpenRequest describes one broker order to place.
type OpenRequest struct {
	Symbol     string
	OrderType  models.OrderType
	Volume     decimal.Decimal
	EntryPrice *decimal.Decimal // required for limit/stop kinds, ignored for market
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	Comment    string
}

// OpenResult reports a filled (or placed) order.
type OpenResult struct {
	Ticket       int64
	FilledPrice  decimal.Decimal
	FilledVolume decimal.Decimal
}

// CloseResult reports a full close.
type CloseResult struct {
	ClosedPrice decimal.Decimal
}

// PartialCloseResult reports a percentage close.
type PartialCloseResult struct {
	ClosedVolume    decimal.Decimal
	RemainingVolume decimal.Decimal
}

// PositionSnapshot is the broker's current view of an open position.
type PositionSnapshot struct {
	Ticket       int64
	Symbol       string
	OrderType    models.OrderType
	Volume       decimal.Decimal
	OpenPrice    decimal.Decimal
	CurrentPrice decimal.Decimal
	StopLoss     *decimal.Decimal
	TakeProfit   *decimal.Decimal
	Profit       decimal.Decimal
}

// ExecutionGateway is the broker contract the coordinator drives. Every
// operation takes a context and returns an explicit error; failures carry a
// *Error so callers can branch on the kind.
//
// GetPosition returns (nil, nil) when the broker no longer holds the ticket.
// That means the position was closed broker-side and is never an error.
type ExecutionGateway interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Ping(ctx context.Context) error

	Open(ctx context.Context, req OpenRequest) (*OpenResult, error)
	Modify(ctx context.Context, ticket int64, sl, tp *decimal.Decimal) error
	Close(ctx context.Context, ticket int64) (*CloseResult, error)
	PartialClose(ctx context.Context, ticket int64, pct decimal.Decimal) (*PartialCloseResult, error)

	GetPosition(ctx context.Context, ticket int64) (*PositionSnapshot, error)
	IsProfitable(ctx context.Context, ticket int64) (bool, error)
	AccountEquity(ctx context.Context) (decimal.Decimal, error)
	CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// LegResult is the outcome of opening one planned leg. A multi-leg open can
// partially succeed, so each leg carries its own result or error.
type LegResult struct {
	Plan     models.LegPlan
	Result   *OpenResult
	Warnings []string
	Err      error
}

// OpenLegs places one order per plan, validating each leg's SL/TP against the
// entry and direction first. One leg failing does not stop the others; the
// caller inspects per-role results.
func OpenLegs(ctx context.Context, gw ExecutionGateway, symbol string, orderType models.OrderType,
	entry decimal.Decimal, lotSize decimal.Decimal, comment string,
	plans []models.LegPlan) map[models.Role]LegResult {

	results := make(map[models.Role]LegResult, len(plans))
	for _, plan := range plans {
		sl, tp, warnings := ValidateSLTP(orderType.IsBuy(), entry, plan.StopLoss, plan.TakeProfit)

		volume := lotSize
		if !plan.LotMultiplier.IsZero() {
			volume = lotSize.Mul(plan.LotMultiplier)
		}

		req := OpenRequest{
			Symbol:     symbol,
			OrderType:  orderType,
			Volume:     volume,
			StopLoss:   sl,
			TakeProfit: tp,
			Comment:    comment,
		}
		if orderType.IsPending() {
			e := entry
			req.EntryPrice = &e
		}

		res, err := gw.Open(ctx, req)
		results[plan.Role] = LegResult{Plan: plan, Result: res, Warnings: warnings, Err: err}
	}
	return results
}
