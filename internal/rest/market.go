package rest

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/Overmuse/alpaca/internal/model"
)

// AssetsParams filters ListAssets. Empty fields are not sent; the API then defaults to
// active us_equity assets.
type AssetsParams struct {
	Status     string // active or inactive
	AssetClass string // e.g. us_equity
}

// ListAssets returns the tradable instruments.
func (c *Client) ListAssets(ctx context.Context, params AssetsParams) ([]model.Asset, error) {
	q := url.Values{}
	if params.Status != "" {
		q.Set("status", params.Status)
	}
	if params.AssetClass != "" {
		q.Set("asset_class", params.AssetClass)
	}
	var assets []model.Asset
	if err := c.do(ctx, http.MethodGet, "assets", q, nil, &assets); err != nil {
		return nil, err
	}
	return assets, nil
}

// GetAsset returns one asset by symbol or asset id.
func (c *Client) GetAsset(ctx context.Context, symbol string) (*model.Asset, error) {
	var asset model.Asset
	if err := c.do(ctx, http.MethodGet, "assets/"+url.PathEscape(symbol), nil, nil, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

// GetCalendar returns the trading days between start and end inclusive. Zero bounds
// are not sent.
func (c *Client) GetCalendar(ctx context.Context, start, end time.Time) ([]model.Calendar, error) {
	q := url.Values{}
	setDate(q, "start", start)
	setDate(q, "end", end)
	var days []model.Calendar
	if err := c.do(ctx, http.MethodGet, "calendar", q, nil, &days); err != nil {
		return nil, err
	}
	return days, nil
}

// GetClock returns the market clock.
func (c *Client) GetClock(ctx context.Context) (*model.Clock, error) {
	var clock model.Clock
	if err := c.do(ctx, http.MethodGet, "clock", nil, nil, &clock); err != nil {
		return nil, err
	}
	return &clock, nil
}

// ListPositions returns every open position.
func (c *Client) ListPositions(ctx context.Context) ([]model.Position, error) {
	var positions []model.Position
	if err := c.do(ctx, http.MethodGet, "positions", nil, nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// GetPosition returns the open position in symbol.
func (c *Client) GetPosition(ctx context.Context, symbol string) (*model.Position, error) {
	var position model.Position
	if err := c.do(ctx, http.MethodGet, "positions/"+url.PathEscape(symbol), nil, nil, &position); err != nil {
		return nil, err
	}
	return &position, nil
}

// ClosePosition liquidates the position in symbol and returns the closing order.
func (c *Client) ClosePosition(ctx context.Context, symbol string) (*model.Order, error) {
	var order model.Order
	if err := c.do(ctx, http.MethodDelete, "positions/"+url.PathEscape(symbol), nil, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ClosureAttempt is the outcome of closing one position in CloseAllPositions.
type ClosureAttempt struct {
	Symbol string       `json:"symbol"`
	Status int          `json:"status"`
	Body   *model.Order `json:"body"`
}

// CloseAllPositions liquidates every open position.
func (c *Client) CloseAllPositions(ctx context.Context, cancelOrders bool) ([]ClosureAttempt, error) {
	var q url.Values
	if cancelOrders {
		q = url.Values{"cancel_orders": {"true"}}
	}
	var attempts []ClosureAttempt
	if err := c.do(ctx, http.MethodDelete, "positions", q, nil, &attempts); err != nil {
		return nil, err
	}
	return attempts, nil
}
