package model

import (
	"fmt"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderType carries the "type" discriminant together with the prices that only some
// kinds use. The API flattens these fields into the order object.
type OrderType struct {
	Kind         OrderKind
	LimitPrice   decimal.NullDecimal
	StopPrice    decimal.NullDecimal
	TrailPrice   decimal.NullDecimal
	TrailPercent decimal.NullDecimal
}

// Order is the order record returned by the REST API and embedded in every
// trade_updates stream event.
type Order struct {
	ID             uuid.UUID
	ClientOrderID  string
	CreatedAt      time.Time
	UpdatedAt      *time.Time
	SubmittedAt    *time.Time
	FilledAt       *time.Time
	ExpiredAt      *time.Time
	CanceledAt     *time.Time
	FailedAt       *time.Time
	ReplacedAt     *time.Time
	ReplacedBy     uuid.NullUUID
	Replaces       uuid.NullUUID
	AssetID        uuid.UUID
	Symbol         string
	AssetClass     string
	Notional       decimal.NullDecimal
	Qty            int64
	FilledQty      int64
	FilledAvgPrice decimal.NullDecimal
	OrderClass     OrderClass
	Type           OrderType
	Side           Side
	TimeInForce    TimeInForce
	Status         OrderStatus
	ExtendedHours  bool
	Legs           []Order
	HWM            decimal.NullDecimal
}

// orderWire mirrors the JSON order object. Quantities arrive as integer strings and
// must parse; optional prices are kept raw so that OptionalDecimal can apply the
// lenient policy to them.
type orderWire struct {
	ID             uuid.UUID       `json:"id" validate:"required"`
	ClientOrderID  string          `json:"client_order_id" validate:"required"`
	CreatedAt      *time.Time      `json:"created_at" validate:"required"`
	UpdatedAt      *time.Time      `json:"updated_at"`
	SubmittedAt    *time.Time      `json:"submitted_at"`
	FilledAt       *time.Time      `json:"filled_at"`
	ExpiredAt      *time.Time      `json:"expired_at"`
	CanceledAt     *time.Time      `json:"canceled_at"`
	FailedAt       *time.Time      `json:"failed_at"`
	ReplacedAt     *time.Time      `json:"replaced_at"`
	ReplacedBy     uuid.NullUUID   `json:"replaced_by"`
	Replaces       uuid.NullUUID   `json:"replaces"`
	AssetID        uuid.UUID       `json:"asset_id" validate:"required"`
	Symbol         string          `json:"symbol" validate:"required"`
	AssetClass     string          `json:"asset_class" validate:"required"`
	Notional       json.RawMessage `json:"notional"`
	Qty            string          `json:"qty" validate:"required,numeric"`
	FilledQty      string          `json:"filled_qty" validate:"required,numeric"`
	FilledAvgPrice json.RawMessage `json:"filled_avg_price"`
	OrderClass     string          `json:"order_class"`
	Type           string          `json:"type" validate:"required,oneof=market limit stop stop_limit trailing_stop"`
	LimitPrice     json.RawMessage `json:"limit_price"`
	StopPrice      json.RawMessage `json:"stop_price"`
	TrailPrice     json.RawMessage `json:"trail_price"`
	TrailPercent   json.RawMessage `json:"trail_percent"`
	Side           string          `json:"side" validate:"required,oneof=buy sell"`
	TimeInForce    string          `json:"time_in_force" validate:"required,oneof=day gtc opg cls ioc fok"`
	Status         string          `json:"status" validate:"required,oneof=accepted accepted_for_bidding calculated canceled done_for_day expired filled new partially_filled pending_cancel pending_new pending_replace rejected replaced stopped suspended"`
	ExtendedHours  bool            `json:"extended_hours"`
	Legs           []Order         `json:"legs"`
	HWM            json.RawMessage `json:"hwm"`
}

// UnmarshalJSON decodes and validates an order object.
func (o *Order) UnmarshalJSON(data []byte) error {
	var w orderWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode order: %w", err)
	}
	if err := validate.Struct(&w); err != nil {
		return fmt.Errorf("invalid order: %w", err)
	}

	qty, err := ParseQuantity("qty", w.Qty)
	if err != nil {
		return err
	}
	filledQty, err := ParseQuantity("filled_qty", w.FilledQty)
	if err != nil {
		return err
	}

	optionals := []struct {
		name string
		raw  json.RawMessage
		dst  *decimal.NullDecimal
	}{
		{"notional", w.Notional, &o.Notional},
		{"filled_avg_price", w.FilledAvgPrice, &o.FilledAvgPrice},
		{"limit_price", w.LimitPrice, &o.Type.LimitPrice},
		{"stop_price", w.StopPrice, &o.Type.StopPrice},
		{"trail_price", w.TrailPrice, &o.Type.TrailPrice},
		{"trail_percent", w.TrailPercent, &o.Type.TrailPercent},
		{"hwm", w.HWM, &o.HWM},
	}
	for _, f := range optionals {
		v, err := OptionalDecimal(f.name, f.raw)
		if err != nil {
			return err
		}
		*f.dst = v
	}

	o.Type.Kind = OrderKind(w.Type)
	if err := o.Type.check(); err != nil {
		return err
	}

	o.ID = w.ID
	o.ClientOrderID = w.ClientOrderID
	o.CreatedAt = *w.CreatedAt
	o.UpdatedAt = w.UpdatedAt
	o.SubmittedAt = w.SubmittedAt
	o.FilledAt = w.FilledAt
	o.ExpiredAt = w.ExpiredAt
	o.CanceledAt = w.CanceledAt
	o.FailedAt = w.FailedAt
	o.ReplacedAt = w.ReplacedAt
	o.ReplacedBy = w.ReplacedBy
	o.Replaces = w.Replaces
	o.AssetID = w.AssetID
	o.Symbol = w.Symbol
	o.AssetClass = w.AssetClass
	o.Qty = qty
	o.FilledQty = filledQty
	o.OrderClass = OrderClass(w.OrderClass)
	o.Side = Side(w.Side)
	o.TimeInForce = TimeInForce(w.TimeInForce)
	o.Status = OrderStatus(w.Status)
	o.ExtendedHours = w.ExtendedHours
	o.Legs = w.Legs

	return nil
}

// check enforces the prices each order kind cannot do without.
func (t OrderType) check() error {
	switch t.Kind {
	case Limit:
		if !t.LimitPrice.Valid {
			return fmt.Errorf("limit order without limit_price")
		}
	case Stop:
		if !t.StopPrice.Valid {
			return fmt.Errorf("stop order without stop_price")
		}
	case StopLimit:
		if !t.LimitPrice.Valid || !t.StopPrice.Valid {
			return fmt.Errorf("stop_limit order requires limit_price and stop_price")
		}
	}
	return nil
}

// orderOut is the encoding shape of an Order.
type orderOut struct {
	ID             uuid.UUID       `json:"id"`
	ClientOrderID  string          `json:"client_order_id"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      *time.Time      `json:"updated_at"`
	SubmittedAt    *time.Time      `json:"submitted_at"`
	FilledAt       *time.Time      `json:"filled_at"`
	ExpiredAt      *time.Time      `json:"expired_at"`
	CanceledAt     *time.Time      `json:"canceled_at"`
	FailedAt       *time.Time      `json:"failed_at"`
	ReplacedAt     *time.Time      `json:"replaced_at"`
	ReplacedBy     uuid.NullUUID   `json:"replaced_by"`
	Replaces       uuid.NullUUID   `json:"replaces"`
	AssetID        uuid.UUID       `json:"asset_id"`
	Symbol         string          `json:"symbol"`
	AssetClass     string          `json:"asset_class"`
	Notional       json.RawMessage `json:"notional"`
	Qty            string          `json:"qty"`
	FilledQty      string          `json:"filled_qty"`
	FilledAvgPrice json.RawMessage `json:"filled_avg_price"`
	OrderClass     string          `json:"order_class"`
	Type           string          `json:"type"`
	LimitPrice     json.RawMessage `json:"limit_price"`
	StopPrice      json.RawMessage `json:"stop_price"`
	TrailPrice     json.RawMessage `json:"trail_price"`
	TrailPercent   json.RawMessage `json:"trail_percent"`
	Side           string          `json:"side"`
	TimeInForce    string          `json:"time_in_force"`
	Status         string          `json:"status"`
	ExtendedHours  bool            `json:"extended_hours"`
	Legs           []Order         `json:"legs"`
	HWM            json.RawMessage `json:"hwm"`
}

// MarshalJSON encodes the order in the same shape the API sends it.
func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderOut{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		SubmittedAt:    o.SubmittedAt,
		FilledAt:       o.FilledAt,
		ExpiredAt:      o.ExpiredAt,
		CanceledAt:     o.CanceledAt,
		FailedAt:       o.FailedAt,
		ReplacedAt:     o.ReplacedAt,
		ReplacedBy:     o.ReplacedBy,
		Replaces:       o.Replaces,
		AssetID:        o.AssetID,
		Symbol:         o.Symbol,
		AssetClass:     o.AssetClass,
		Notional:       nullDecimalJSON(o.Notional),
		Qty:            strconv.FormatInt(o.Qty, 10),
		FilledQty:      strconv.FormatInt(o.FilledQty, 10),
		FilledAvgPrice: nullDecimalJSON(o.FilledAvgPrice),
		OrderClass:     string(o.OrderClass),
		Type:           string(o.Type.Kind),
		LimitPrice:     nullDecimalJSON(o.Type.LimitPrice),
		StopPrice:      nullDecimalJSON(o.Type.StopPrice),
		TrailPrice:     nullDecimalJSON(o.Type.TrailPrice),
		TrailPercent:   nullDecimalJSON(o.Type.TrailPercent),
		Side:           string(o.Side),
		TimeInForce:    string(o.TimeInForce),
		Status:         string(o.Status),
		ExtendedHours:  o.ExtendedHours,
		Legs:           o.Legs,
		HWM:            nullDecimalJSON(o.HWM),
	})
}
