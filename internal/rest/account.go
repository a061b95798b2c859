package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Overmuse/alpaca/internal/model"
	json "github.com/goccy/go-json"
)

// GetAccount returns the trading account.
func (c *Client) GetAccount(ctx context.Context) (*model.Account, error) {
	var account model.Account
	if err := c.do(ctx, http.MethodGet, "account", nil, nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// GetAccountConfigurations returns the account settings.
func (c *Client) GetAccountConfigurations(ctx context.Context) (*model.AccountConfigurations, error) {
	var cfg model.AccountConfigurations
	if err := c.do(ctx, http.MethodGet, "account/configurations", nil, nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// PatchAccountConfigurations replaces the account settings and returns them as stored.
func (c *Client) PatchAccountConfigurations(ctx context.Context, cfg model.AccountConfigurations) (*model.AccountConfigurations, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid account configurations: %w", err)
	}
	var out model.AccountConfigurations
	if err := c.do(ctx, http.MethodPatch, "account/configurations", nil, cfg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ActivitiesParams filters GetAccountActivities. Zero fields are not sent.
type ActivitiesParams struct {
	ActivityTypes []string
	Date          time.Time
	After         time.Time
	Until         time.Time
	Direction     string // asc or desc
	PageSize      int
	PageToken     string
}

func (p ActivitiesParams) query() url.Values {
	q := url.Values{}
	if len(p.ActivityTypes) > 0 {
		q.Set("activity_types", strings.Join(p.ActivityTypes, ","))
	}
	setDate(q, "date", p.Date)
	setTime(q, "after", p.After)
	setTime(q, "until", p.Until)
	if p.Direction != "" {
		q.Set("direction", p.Direction)
	}
	if p.PageSize > 0 {
		q.Set("page_size", fmt.Sprint(p.PageSize))
	}
	if p.PageToken != "" {
		q.Set("page_token", p.PageToken)
	}
	return q
}

// GetAccountActivities returns the activity feed. Each entry is a *model.TradeActivity
// or a *model.NonTradeActivity.
func (c *Client) GetAccountActivities(ctx context.Context, params ActivitiesParams) ([]model.Activity, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "account/activities", params.query(), nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return model.DecodeActivities(raw)
}

// HistoryParams selects the range of GetPortfolioHistory. Zero fields are not sent.
type HistoryParams struct {
	Period        string // e.g. 1D, 1W, 1M, 1A
	Timeframe     string // 1Min, 5Min, 15Min, 1H or 1D
	DateEnd       time.Time
	ExtendedHours bool
}

// GetPortfolioHistory returns the equity time series of the account.
func (c *Client) GetPortfolioHistory(ctx context.Context, params HistoryParams) (*model.PortfolioHistory, error) {
	q := url.Values{}
	if params.Period != "" {
		q.Set("period", params.Period)
	}
	if params.Timeframe != "" {
		q.Set("timeframe", params.Timeframe)
	}
	setDate(q, "date_end", params.DateEnd)
	if params.ExtendedHours {
		q.Set("extended_hours", "true")
	}

	var history model.PortfolioHistory
	if err := c.do(ctx, http.MethodGet, "account/portfolio/history", q, nil, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

func setTime(q url.Values, key string, t time.Time) {
	if !t.IsZero() {
		q.Set(key, t.UTC().Format(time.RFC3339))
	}
}

// setDate sends the calendar date of t in its own location.
func setDate(q url.Values, key string, t time.Time) {
	if !t.IsZero() {
		q.Set(key, t.Format(time.DateOnly))
	}
}
