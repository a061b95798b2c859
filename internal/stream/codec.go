package stream

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Overmuse/alpaca/internal/model"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
)

var (
	// ErrMalformed is the kind of a DecodeError whose input is not valid JSON.
	ErrMalformed = errors.New("malformed message")
	// ErrUnrecognizedMessage is the kind of a DecodeError whose input is valid JSON but
	// matches no known message shape.
	ErrUnrecognizedMessage = errors.New("unrecognized message")
)

// DecodeError reports a frame that could not be turned into a Message.
// errors.Is matches both Kind and the underlying cause.
type DecodeError struct {
	Kind   error
	Stream string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := e.Kind.Error()
	if e.Stream != "" {
		msg += " on stream " + strconv.Quote(e.Stream)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func unrecognized(stream string, err error) *DecodeError {
	return &DecodeError{Kind: ErrUnrecognizedMessage, Stream: stream, Err: err}
}

var validate = validator.New()

type actionEnvelope struct {
	Action string `json:"action"`
	Data   Action `json:"data"`
}

// Encode renders an action as the JSON text sent to the server.
func Encode(a Action) ([]byte, error) {
	switch v := a.(type) {
	case *Authenticate:
		if v == nil {
			return nil, errors.New("encode action: nil action")
		}
		a = *v
	case *Listen:
		if v == nil {
			return nil, errors.New("encode action: nil action")
		}
		a = *v
	}

	switch v := a.(type) {
	case nil:
		return nil, errors.New("encode action: nil action")
	case Listen:
		if v.Streams == nil {
			a = Listen{Streams: []string{}}
		}
	}
	data, err := json.Marshal(actionEnvelope{Action: a.Action(), Data: a})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", a.Action(), err)
	}
	return data, nil
}

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Decode parses one inbound frame. A frame that is not JSON fails with ErrMalformed;
// any other failure, including an unknown stream or an unparsable number, fails with
// ErrUnrecognizedMessage.
func Decode(frame []byte) (Message, error) {
	if !json.Valid(frame) {
		return nil, &DecodeError{Kind: ErrMalformed, Err: errors.New("invalid JSON")}
	}

	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, unrecognized("", err)
	}
	if env.Stream == "" {
		return nil, unrecognized("", errors.New("missing stream"))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, unrecognized(env.Stream, errors.New("missing data"))
	}

	var (
		msg Message
		err error
	)
	switch env.Stream {
	case StreamAuthorization:
		msg, err = decodeAuthorization(env.Data)
	case StreamListening:
		msg, err = decodeListening(env.Data)
	case StreamTradeUpdates:
		msg, err = decodeTradeUpdate(env.Data)
	case StreamAccountUpdates:
		msg, err = decodeAccountUpdate(env.Data)
	default:
		err = errors.New("unknown stream")
	}
	if err != nil {
		return nil, unrecognized(env.Stream, err)
	}
	return msg, nil
}

type authorizationWire struct {
	Status string `json:"status" validate:"required,oneof=authorized unauthorized"`
	Action string `json:"action" validate:"required"`
}

func decodeAuthorization(data json.RawMessage) (*Authorization, error) {
	var w authorizationWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if err := validate.Struct(w); err != nil {
		return nil, err
	}
	return &Authorization{Status: AuthorizationStatus(w.Status), Action: w.Action}, nil
}

type listeningWire struct {
	Streams []string `json:"streams" validate:"required"`
}

func decodeListening(data json.RawMessage) (*Listening, error) {
	var w listeningWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if err := validate.Struct(w); err != nil {
		return nil, err
	}
	return &Listening{Streams: w.Streams}, nil
}

type tradeUpdateWire struct {
	Event       string          `json:"event" validate:"required"`
	Order       json.RawMessage `json:"order" validate:"required"`
	Timestamp   *time.Time      `json:"timestamp"`
	Price       string          `json:"price"`
	Qty         string          `json:"qty"`
	PositionQty string          `json:"position_qty"`
}

// executionWire holds the fields fill and partial_fill events require.
type executionWire struct {
	Timestamp   *time.Time `validate:"required"`
	Price       string     `validate:"required,numeric"`
	Qty         string     `validate:"required,numeric"`
	PositionQty string     `validate:"required,numeric"`
}

func decodeTradeUpdate(data json.RawMessage) (*TradeUpdate, error) {
	var w tradeUpdateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if err := validate.Struct(w); err != nil {
		return nil, err
	}
	if string(w.Order) == "null" {
		return nil, errors.New("missing order")
	}

	event, err := decodeEvent(&w)
	if err != nil {
		return nil, err
	}

	var order model.Order
	if err := json.Unmarshal(w.Order, &order); err != nil {
		return nil, err
	}
	return &TradeUpdate{Event: event, Order: order}, nil
}

func decodeEvent(w *tradeUpdateWire) (Event, error) {
	switch EventType(w.Event) {
	case EventCalculated:
		return CalculatedEvent{}, nil
	case EventDoneForDay:
		return DoneForDayEvent{}, nil
	case EventNew:
		return NewEvent{}, nil
	case EventOrderCancelRejected:
		return OrderCancelRejectedEvent{}, nil
	case EventOrderReplaceRejected:
		return OrderReplaceRejectedEvent{}, nil
	case EventPendingCancel:
		return PendingCancelEvent{}, nil
	case EventPendingNew:
		return PendingNewEvent{}, nil
	case EventPendingReplace:
		return PendingReplaceEvent{}, nil
	case EventStopped:
		return StoppedEvent{}, nil
	case EventSuspended:
		return SuspendedEvent{}, nil
	}

	switch EventType(w.Event) {
	case EventCanceled, EventExpired, EventRejected, EventReplaced:
		if w.Timestamp == nil {
			return nil, fmt.Errorf("%s event: missing timestamp", w.Event)
		}
		ts := *w.Timestamp
		switch EventType(w.Event) {
		case EventCanceled:
			return CanceledEvent{Timestamp: ts}, nil
		case EventExpired:
			return ExpiredEvent{Timestamp: ts}, nil
		case EventRejected:
			return RejectedEvent{Timestamp: ts}, nil
		default:
			return ReplacedEvent{Timestamp: ts}, nil
		}

	case EventFill, EventPartialFill:
		exec, err := decodeExecution(w)
		if err != nil {
			return nil, fmt.Errorf("%s event: %w", w.Event, err)
		}
		if EventType(w.Event) == EventFill {
			return FillEvent{exec}, nil
		}
		return PartialFillEvent{exec}, nil
	}

	return nil, fmt.Errorf("unknown event %q", w.Event)
}

func decodeExecution(w *tradeUpdateWire) (Execution, error) {
	ew := executionWire{
		Timestamp:   w.Timestamp,
		Price:       w.Price,
		Qty:         w.Qty,
		PositionQty: w.PositionQty,
	}
	if err := validate.Struct(ew); err != nil {
		return Execution{}, err
	}

	price, err := model.ParseDecimal("price", w.Price)
	if err != nil {
		return Execution{}, err
	}
	qty, err := model.ParseQuantity("qty", w.Qty)
	if err != nil {
		return Execution{}, err
	}
	positionQty, err := model.ParseQuantity("position_qty", w.PositionQty)
	if err != nil {
		return Execution{}, err
	}

	return Execution{
		Timestamp:   *w.Timestamp,
		Price:       price,
		Qty:         qty,
		PositionQty: positionQty,
	}, nil
}

type accountUpdateWire struct {
	ID               string     `json:"id" validate:"required"`
	CreatedAt        *time.Time `json:"created_at" validate:"required"`
	UpdatedAt        *time.Time `json:"updated_at" validate:"required"`
	DeletedAt        *time.Time `json:"deleted_at"`
	Status           string     `json:"status" validate:"required"`
	Currency         string     `json:"currency" validate:"required"`
	Cash             string     `json:"cash" validate:"required,numeric"`
	CashWithdrawable string     `json:"cash_withdrawable" validate:"required,numeric"`
}

func decodeAccountUpdate(data json.RawMessage) (*AccountUpdate, error) {
	var w accountUpdateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if err := validate.Struct(w); err != nil {
		return nil, err
	}

	cash, err := model.ParseDecimal("cash", w.Cash)
	if err != nil {
		return nil, err
	}
	withdrawable, err := model.ParseDecimal("cash_withdrawable", w.CashWithdrawable)
	if err != nil {
		return nil, err
	}

	return &AccountUpdate{
		ID:               w.ID,
		CreatedAt:        *w.CreatedAt,
		UpdatedAt:        *w.UpdatedAt,
		DeletedAt:        w.DeletedAt,
		Status:           w.Status,
		Currency:         w.Currency,
		Cash:             cash,
		CashWithdrawable: withdrawable,
	}, nil
}
