// Package model defines the brokerage data types shared by the REST client and the
// streaming session.
//
// Monetary values use decimal.Decimal so that prices and cash balances keep the exact
// precision the API transmits them with. Values that the API may omit use
// decimal.NullDecimal, uuid.NullUUID or pointers.
package model

import (
	"github.com/go-playground/validator/v10"
)

// validate is shared by every wire-struct check in this package. A validator.Validate
// caches struct metadata and is safe for concurrent use.
var validate = validator.New()

// Side represents the direction of an order.
type Side string

const (
	// Buy opens or increases a long position.
	Buy Side = "buy"

	// Sell closes a long position or opens a short one.
	Sell Side = "sell"
)

// Opposite returns the side that would offset an order on s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	Day               TimeInForce = "day"
	GoodTilCanceled   TimeInForce = "gtc"
	OnOpen            TimeInForce = "opg"
	OnClose           TimeInForce = "cls"
	ImmediateOrCancel TimeInForce = "ioc"
	FillOrKill        TimeInForce = "fok"
)

// OrderKind is the "type" discriminant of an order.
type OrderKind string

const (
	Market       OrderKind = "market"
	Limit        OrderKind = "limit"
	Stop         OrderKind = "stop"
	StopLimit    OrderKind = "stop_limit"
	TrailingStop OrderKind = "trailing_stop"
)

// OrderClass groups orders that are submitted together.
type OrderClass string

const (
	Simple           OrderClass = "simple"
	Bracket          OrderClass = "bracket"
	OneCancelsOther  OrderClass = "oco"
	OneTriggersOther OrderClass = "oto"
)

// OrderStatus is the lifecycle state reported for an order.
type OrderStatus string

const (
	StatusAccepted           OrderStatus = "accepted"
	StatusAcceptedForBidding OrderStatus = "accepted_for_bidding"
	StatusCalculated         OrderStatus = "calculated"
	StatusCanceled           OrderStatus = "canceled"
	StatusDoneForDay         OrderStatus = "done_for_day"
	StatusExpired            OrderStatus = "expired"
	StatusFilled             OrderStatus = "filled"
	StatusNew                OrderStatus = "new"
	StatusPartiallyFilled    OrderStatus = "partially_filled"
	StatusPendingCancel      OrderStatus = "pending_cancel"
	StatusPendingNew         OrderStatus = "pending_new"
	StatusPendingReplace     OrderStatus = "pending_replace"
	StatusRejected           OrderStatus = "rejected"
	StatusReplaced           OrderStatus = "replaced"
	StatusStopped            OrderStatus = "stopped"
	StatusSuspended          OrderStatus = "suspended"
)

// IsFinal reports whether no further executions can happen on an order in this status.
func (s OrderStatus) IsFinal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected, StatusReplaced, StatusDoneForDay:
		return true
	}
	return false
}
