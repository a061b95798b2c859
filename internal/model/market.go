package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Asset is a tradable instrument.
type Asset struct {
	ID           uuid.UUID `json:"id"`
	Class        string    `json:"class"`
	Exchange     string    `json:"exchange"`
	Symbol       string    `json:"symbol"`
	Name         string    `json:"name,omitempty"`
	Status       string    `json:"status"`
	Tradable     bool      `json:"tradable"`
	Marginable   bool      `json:"marginable"`
	Shortable    bool      `json:"shortable"`
	EasyToBorrow bool      `json:"easy_to_borrow"`
	Fractionable bool      `json:"fractionable"`
}

// Position is an open position in one asset.
type Position struct {
	AssetID                uuid.UUID       `json:"asset_id"`
	Symbol                 string          `json:"symbol"`
	Exchange               string          `json:"exchange"`
	AssetClass             string          `json:"asset_class"`
	AvgEntryPrice          decimal.Decimal `json:"avg_entry_price"`
	Qty                    decimal.Decimal `json:"qty"`
	Side                   string          `json:"side"`
	MarketValue            decimal.Decimal `json:"market_value"`
	CostBasis              decimal.Decimal `json:"cost_basis"`
	UnrealizedPL           decimal.Decimal `json:"unrealized_pl"`
	UnrealizedPLPC         decimal.Decimal `json:"unrealized_plpc"`
	UnrealizedIntradayPL   decimal.Decimal `json:"unrealized_intraday_pl"`
	UnrealizedIntradayPLPC decimal.Decimal `json:"unrealized_intraday_plpc"`
	CurrentPrice           decimal.Decimal `json:"current_price"`
	LastdayPrice           decimal.Decimal `json:"lastday_price"`
	ChangeToday            decimal.Decimal `json:"change_today"`
}

// Clock is the market clock.
type Clock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// Calendar is one trading day. Open and Close are wall-clock "15:04" times in the
// exchange's time zone.
type Calendar struct {
	Date  string `json:"date"`
	Open  string `json:"open"`
	Close string `json:"close"`
}

// Session returns the open and close instants of the day in loc.
func (c Calendar) Session(loc *time.Location) (time.Time, time.Time, error) {
	open, err := time.ParseInLocation("2006-01-02 15:04", c.Date+" "+c.Open, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("calendar %s open: %w", c.Date, err)
	}
	closing, err := time.ParseInLocation("2006-01-02 15:04", c.Date+" "+c.Close, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("calendar %s close: %w", c.Date, err)
	}
	return open, closing, nil
}

// PortfolioHistory is the equity time series returned by account/portfolio/history.
type PortfolioHistory struct {
	Timestamp     []int64           `json:"timestamp"`
	Equity        []decimal.Decimal `json:"equity"`
	ProfitLoss    []decimal.Decimal `json:"profit_loss"`
	ProfitLossPct []decimal.Decimal `json:"profit_loss_pct"`
	BaseValue     decimal.Decimal   `json:"base_value"`
	Timeframe     string            `json:"timeframe"`
}
