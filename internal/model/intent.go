package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// TakeProfit is the limit leg of a bracket or OCO order.
type TakeProfit struct {
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// StopLoss is the stop leg of a bracket, OCO or OTO order.
type StopLoss struct {
	StopPrice  decimal.Decimal  `json:"stop_price"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
}

// OrderIntent is the body of an order submission or replacement.
type OrderIntent struct {
	Symbol        string           `json:"symbol" validate:"required"`
	Qty           int64            `json:"qty,string" validate:"gt=0"`
	Side          Side             `json:"side" validate:"required,oneof=buy sell"`
	Type          OrderKind        `json:"type" validate:"required,oneof=market limit stop stop_limit trailing_stop"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty" validate:"required_if=Type limit,required_if=Type stop_limit"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty" validate:"required_if=Type stop,required_if=Type stop_limit"`
	TrailPrice    *decimal.Decimal `json:"trail_price,omitempty"`
	TrailPercent  *decimal.Decimal `json:"trail_percent,omitempty"`
	TimeInForce   TimeInForce      `json:"time_in_force" validate:"required,oneof=day gtc opg cls ioc fok"`
	ExtendedHours bool             `json:"extended_hours"`
	ClientOrderID string           `json:"client_order_id,omitempty" validate:"omitempty,max=48"`
	OrderClass    OrderClass       `json:"order_class,omitempty" validate:"omitempty,oneof=simple bracket oco oto"`
	TakeProfit    *TakeProfit      `json:"take_profit,omitempty"`
	StopLoss      *StopLoss        `json:"stop_loss,omitempty"`
}

// NewOrderIntent returns a one share good-til-canceled market buy for symbol.
func NewOrderIntent(symbol string) OrderIntent {
	return OrderIntent{
		Symbol:      symbol,
		Qty:         1,
		Side:        Buy,
		Type:        Market,
		TimeInForce: GoodTilCanceled,
		OrderClass:  Simple,
	}
}

// Validate checks the intent before it is sent to the API.
func (o OrderIntent) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid order intent: %w", err)
	}

	if o.Type == TrailingStop && o.TrailPrice == nil && o.TrailPercent == nil {
		return errors.New("invalid order intent: trailing_stop requires trail_price or trail_percent")
	}

	switch o.OrderClass {
	case Bracket:
		if o.TakeProfit == nil || o.StopLoss == nil {
			return errors.New("invalid order intent: bracket requires take_profit and stop_loss")
		}
	case OneCancelsOther:
		if o.TakeProfit == nil || o.StopLoss == nil {
			return errors.New("invalid order intent: oco requires take_profit and stop_loss")
		}
	case OneTriggersOther:
		if o.TakeProfit == nil && o.StopLoss == nil {
			return errors.New("invalid order intent: oto requires take_profit or stop_loss")
		}
	}

	return nil
}
