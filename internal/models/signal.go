package models

import "github.com/shopspring/decimal"

// OrderType is the trade direction/entry kind of a signal.
type OrderType string

const (
	OrderBuy       OrderType = "buy"
	OrderSell      OrderType = "sell"
	OrderBuyLimit  OrderType = "buy_limit"
	OrderSellLimit OrderType = "sell_limit"
	OrderBuyStop   OrderType = "buy_stop"
	OrderSellStop  OrderType = "sell_stop"
)

// IsBuy reports whether the order trades in the long direction.
func (o OrderType) IsBuy() bool {
	return o == OrderBuy || o == OrderBuyLimit || o == OrderBuyStop
}

// IsPending reports whether the order requires an entry price (limit/stop entries).
func (o OrderType) IsPending() bool {
	switch o {
	case OrderBuyLimit, OrderSellLimit, OrderBuyStop, OrderSellStop:
		return true
	}
	return false
}

// MessageKind classifies an incoming signal event. Dispatch on it is a single
// exhaustive switch in the coordinator; adding a kind means updating that switch.
type MessageKind string

const (
	KindNewSignalComplete   MessageKind = "new_signal_complete"
	KindNewSignalIncomplete MessageKind = "new_signal_incomplete"
	KindModification        MessageKind = "modification"
	KindReEntry             MessageKind = "re_entry"
	KindProfitNotification  MessageKind = "profit_notification"
	KindCloseSignal         MessageKind = "close_signal"
	KindPartialClose        MessageKind = "partial_close"
	KindCompoundAction      MessageKind = "compound_action"
	KindNotTrading          MessageKind = "not_trading"
)

// SubAction is one operation inside a compound-action signal, e.g.
// "Add Sell-Limit 4342, TP 4334, Update SL to 4344.5" carries a
// new_signal sub-action and a modification sub-action.
type SubAction struct {
	ActionType    string            `json:"action_type"` // "modification" or "new_signal"
	OrderType     OrderType         `json:"order_type,omitempty"`
	EntryPrice    *decimal.Decimal  `json:"entry_price,omitempty"`
	StopLoss      *decimal.Decimal  `json:"stop_loss,omitempty"`
	TakeProfits   []decimal.Decimal `json:"take_profits,omitempty"`
	NewStopLoss   *decimal.Decimal  `json:"new_stop_loss,omitempty"`
	NewTakeProfit *decimal.Decimal  `json:"new_take_profit,omitempty"`
}

// Signal is a fully classified trading event as delivered by the upstream
// parser. It is immutable per event; the coordinator never mutates one.
type Signal struct {
	Symbol      string            `json:"symbol"`
	OrderType   OrderType         `json:"order_type"`
	EntryPrice  *decimal.Decimal  `json:"entry_price,omitempty"`
	StopLoss    *decimal.Decimal  `json:"stop_loss,omitempty"`
	TakeProfits []decimal.Decimal `json:"take_profits,omitempty"`
	LotSize     *decimal.Decimal  `json:"lot_size,omitempty"`

	Kind       MessageKind `json:"message_type"`
	Confidence float64     `json:"confidence"`
	Comment    string      `json:"comment,omitempty"`

	// Modification / profit-notification fields
	MoveSLToEntry bool             `json:"move_sl_to_entry,omitempty"`
	TPHitNumber   *int             `json:"tp_hit_number,omitempty"`
	ClosePct      *int             `json:"close_percentage,omitempty"`
	NewStopLoss   *decimal.Decimal `json:"new_stop_loss,omitempty"`
	NewTakeProfit *decimal.Decimal `json:"new_take_profit,omitempty"`

	// Re-entry fields
	ReEntryPrice *decimal.Decimal `json:"re_entry_price,omitempty"`

	// Compound action fields
	Actions []SubAction `json:"actions,omitempty"`
}

// Event wraps a Signal with its transport identity. Edit is true when the
// source message was edited after initial delivery; the ID then matches the
// original event's ID and Signal holds the freshly re-parsed content.
type Event struct {
	ID      int64  `json:"id"`
	ReplyTo *int64 `json:"reply_to,omitempty"`
	Edit    bool   `json:"edit,omitempty"`
	Signal  Signal `json:"signal"`
}

// FirstTP returns the first take-profit, or nil if the signal has none.
func (s *Signal) FirstTP() *decimal.Decimal {
	if len(s.TakeProfits) == 0 {
		return nil
	}
	tp := s.TakeProfits[0]
	return &tp
}

// LastTP returns the last take-profit, or nil if the signal has none.
func (s *Signal) LastTP() *decimal.Decimal {
	if len(s.TakeProfits) == 0 {
		return nil
	}
	tp := s.TakeProfits[len(s.TakeProfits)-1]
	return &tp
}
