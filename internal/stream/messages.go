// Package stream defines the messages of the account streaming protocol and the codec
// that maps them to and from their JSON envelopes.
//
// Outbound actions are {"action": <tag>, "data": {...}}. Inbound messages are
// {"stream": <tag>, "data": {...}}, and trade_updates payloads carry a further "event"
// discriminant. Each family is a closed set: the interfaces below can only be
// implemented inside this package, so a type switch over them is exhaustive.
package stream

import (
	"time"

	"github.com/Overmuse/alpaca/internal/model"
	"github.com/shopspring/decimal"
)

// Stream discriminants of inbound messages. TradeUpdates and AccountUpdates are also
// the channel names a client listens to.
const (
	StreamAuthorization  = "authorization"
	StreamListening      = "listening"
	StreamTradeUpdates   = "trade_updates"
	StreamAccountUpdates = "account_updates"
)

// Action discriminants of outbound messages.
const (
	ActionAuthenticate = "authenticate"
	ActionListen       = "listen"
)

// Action is an outbound message: Authenticate or Listen.
type Action interface {
	Action() string
	isAction()
}

// Authenticate presents API credentials. It must be the first action on a connection.
type Authenticate struct {
	KeyID     string `json:"key_id"`
	SecretKey string `json:"secret_key"`
}

// Listen replaces the set of channels the connection receives.
type Listen struct {
	Streams []string `json:"streams"`
}

func (Authenticate) Action() string { return ActionAuthenticate }
func (Listen) Action() string       { return ActionListen }

func (Authenticate) isAction() {}
func (Listen) isAction()       {}

// Message is a decoded inbound message: *Authorization, *Listening, *TradeUpdate or
// *AccountUpdate.
type Message interface {
	Stream() string
	isMessage()
}

// AuthorizationStatus is the server's verdict on an Authenticate action.
type AuthorizationStatus string

const (
	Authorized   AuthorizationStatus = "authorized"
	Unauthorized AuthorizationStatus = "unauthorized"
)

// Authorization answers an Authenticate action.
type Authorization struct {
	Status AuthorizationStatus
	Action string
}

// Listening answers a Listen action with the channels now active.
type Listening struct {
	Streams []string
}

// TradeUpdate is an order lifecycle event together with the order as it stood when the
// event happened.
type TradeUpdate struct {
	Event Event
	Order model.Order
}

// AccountUpdate reports a change to the account's cash balances.
type AccountUpdate struct {
	ID               string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
	Status           string
	Currency         string
	Cash             decimal.Decimal
	CashWithdrawable decimal.Decimal
}

func (*Authorization) Stream() string { return StreamAuthorization }
func (*Listening) Stream() string     { return StreamListening }
func (*TradeUpdate) Stream() string   { return StreamTradeUpdates }
func (*AccountUpdate) Stream() string { return StreamAccountUpdates }

func (*Authorization) isMessage() {}
func (*Listening) isMessage()     {}
func (*TradeUpdate) isMessage()   {}
func (*AccountUpdate) isMessage() {}

// EventType is the "event" discriminant of a trade update.
type EventType string

const (
	EventCalculated           EventType = "calculated"
	EventCanceled             EventType = "canceled"
	EventDoneForDay           EventType = "done_for_day"
	EventExpired              EventType = "expired"
	EventFill                 EventType = "fill"
	EventNew                  EventType = "new"
	EventOrderCancelRejected  EventType = "order_cancel_rejected"
	EventOrderReplaceRejected EventType = "order_replace_rejected"
	EventPartialFill          EventType = "partial_fill"
	EventPendingCancel        EventType = "pending_cancel"
	EventPendingNew           EventType = "pending_new"
	EventPendingReplace       EventType = "pending_replace"
	EventRejected             EventType = "rejected"
	EventReplaced             EventType = "replaced"
	EventStopped              EventType = "stopped"
	EventSuspended            EventType = "suspended"
)

// Event is an order lifecycle transition. Each variant carries only the fields the
// server sends for that transition.
type Event interface {
	Type() EventType
	isEvent()
}

// Execution holds the fields of fill and partial_fill events.
type Execution struct {
	Timestamp   time.Time
	Price       decimal.Decimal
	Qty         int64
	PositionQty int64
}

type (
	CalculatedEvent           struct{}
	DoneForDayEvent           struct{}
	NewEvent                  struct{}
	OrderCancelRejectedEvent  struct{}
	OrderReplaceRejectedEvent struct{}
	PendingCancelEvent        struct{}
	PendingNewEvent           struct{}
	PendingReplaceEvent       struct{}
	StoppedEvent              struct{}
	SuspendedEvent            struct{}

	CanceledEvent struct{ Timestamp time.Time }
	ExpiredEvent  struct{ Timestamp time.Time }
	RejectedEvent struct{ Timestamp time.Time }
	ReplacedEvent struct{ Timestamp time.Time }

	FillEvent        struct{ Execution }
	PartialFillEvent struct{ Execution }
)

func (CalculatedEvent) Type() EventType           { return EventCalculated }
func (CanceledEvent) Type() EventType             { return EventCanceled }
func (DoneForDayEvent) Type() EventType           { return EventDoneForDay }
func (ExpiredEvent) Type() EventType              { return EventExpired }
func (FillEvent) Type() EventType                 { return EventFill }
func (NewEvent) Type() EventType                  { return EventNew }
func (OrderCancelRejectedEvent) Type() EventType  { return EventOrderCancelRejected }
func (OrderReplaceRejectedEvent) Type() EventType { return EventOrderReplaceRejected }
func (PartialFillEvent) Type() EventType          { return EventPartialFill }
func (PendingCancelEvent) Type() EventType        { return EventPendingCancel }
func (PendingNewEvent) Type() EventType           { return EventPendingNew }
func (PendingReplaceEvent) Type() EventType       { return EventPendingReplace }
func (RejectedEvent) Type() EventType             { return EventRejected }
func (ReplacedEvent) Type() EventType             { return EventReplaced }
func (StoppedEvent) Type() EventType              { return EventStopped }
func (SuspendedEvent) Type() EventType            { return EventSuspended }

func (CalculatedEvent) isEvent()           {}
func (CanceledEvent) isEvent()             {}
func (DoneForDayEvent) isEvent()           {}
func (ExpiredEvent) isEvent()              {}
func (FillEvent) isEvent()                 {}
func (NewEvent) isEvent()                  {}
func (OrderCancelRejectedEvent) isEvent()  {}
func (OrderReplaceRejectedEvent) isEvent() {}
func (PartialFillEvent) isEvent()          {}
func (PendingCancelEvent) isEvent()        {}
func (PendingNewEvent) isEvent()           {}
func (PendingReplaceEvent) isEvent()       {}
func (RejectedEvent) isEvent()             {}
func (ReplacedEvent) isEvent()             {}
func (StoppedEvent) isEvent()              {}
func (SuspendedEvent) isEvent()            {}
