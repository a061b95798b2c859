package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Overmuse/alpaca/internal/model"
	"github.com/google/uuid"
)

// Order status filters for ListOrders.
const (
	QueryOpen   = "open"
	QueryClosed = "closed"
	QueryAll    = "all"
)

// ListOrdersParams filters ListOrders. The zero value asks for the 50 most recent open
// orders, newest first.
type ListOrdersParams struct {
	Status    string // open, closed or all; default open
	Limit     int    // default 50, at most 500
	After     time.Time
	Until     time.Time
	Direction string // asc or desc; default desc
	Nested    bool
	Symbols   []string
}

func (p ListOrdersParams) query() (url.Values, error) {
	if p.Status == "" {
		p.Status = QueryOpen
	}
	if p.Limit == 0 {
		p.Limit = 50
	}
	if p.Direction == "" {
		p.Direction = "desc"
	}

	switch p.Status {
	case QueryOpen, QueryClosed, QueryAll:
	default:
		return nil, fmt.Errorf("invalid order status filter %q", p.Status)
	}
	if p.Direction != "asc" && p.Direction != "desc" {
		return nil, fmt.Errorf("invalid direction %q", p.Direction)
	}
	if p.Limit < 0 || p.Limit > 500 {
		return nil, fmt.Errorf("limit %d out of range 1..500", p.Limit)
	}

	q := url.Values{}
	q.Set("status", p.Status)
	q.Set("limit", strconv.Itoa(p.Limit))
	setTime(q, "after", p.After)
	setTime(q, "until", p.Until)
	q.Set("direction", p.Direction)
	q.Set("nested", strconv.FormatBool(p.Nested))
	if len(p.Symbols) > 0 {
		q.Set("symbols", strings.Join(p.Symbols, ","))
	}
	return q, nil
}

// ListOrders returns orders matching params.
func (c *Client) ListOrders(ctx context.Context, params ListOrdersParams) ([]model.Order, error) {
	q, err := params.query()
	if err != nil {
		return nil, err
	}
	var orders []model.Order
	if err := c.do(ctx, http.MethodGet, "orders", q, nil, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// GetOrder returns one order. With nested set, the legs of a multi-leg order are
// included.
func (c *Client) GetOrder(ctx context.Context, id uuid.UUID, nested bool) (*model.Order, error) {
	q := url.Values{"nested": {strconv.FormatBool(nested)}}
	var order model.Order
	if err := c.do(ctx, http.MethodGet, "orders/"+id.String(), q, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// SubmitOrder validates intent and submits it.
func (c *Client) SubmitOrder(ctx context.Context, intent model.OrderIntent) (*model.Order, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	var order model.Order
	if err := c.do(ctx, http.MethodPost, "orders", nil, intent, &order); err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("order", order.ID.String()).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Int64("qty", order.Qty).
		Msg("order submitted")
	return &order, nil
}

// ReplaceOrder replaces an open order with intent and returns the new order.
func (c *Client) ReplaceOrder(ctx context.Context, id uuid.UUID, intent model.OrderIntent) (*model.Order, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	var order model.Order
	if err := c.do(ctx, http.MethodPatch, "orders/"+id.String(), nil, intent, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder requests cancellation of one order.
func (c *Client) CancelOrder(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "orders/"+id.String(), nil, nil, nil)
}

// CancellationAttempt is the outcome of cancelling one order in CancelAllOrders.
type CancellationAttempt struct {
	ID     uuid.UUID    `json:"id"`
	Status int          `json:"status"`
	Body   *model.Order `json:"body"`
}

// CancelAllOrders requests cancellation of every open order.
func (c *Client) CancelAllOrders(ctx context.Context) ([]CancellationAttempt, error) {
	var attempts []CancellationAttempt
	if err := c.do(ctx, http.MethodDelete, "orders", nil, nil, &attempts); err != nil {
		return nil, err
	}
	return attempts, nil
}
