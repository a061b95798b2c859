package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountStatus is the onboarding state of a brokerage account.
type AccountStatus string

const (
	AccountOnboarding       AccountStatus = "ONBOARDING"
	AccountSubmissionFailed AccountStatus = "SUBMISSION_FAILED"
	AccountSubmitted        AccountStatus = "SUBMITTED"
	AccountUpdated          AccountStatus = "ACCOUNT_UPDATED"
	AccountApprovalPending  AccountStatus = "APPROVAL_PENDING"
	AccountActive           AccountStatus = "ACTIVE"
	AccountRejected         AccountStatus = "REJECTED"
)

// Account is the trading account returned by GET /account.
type Account struct {
	ID                    uuid.UUID       `json:"id"`
	AccountNumber         string          `json:"account_number"`
	Status                AccountStatus   `json:"status"`
	Currency              string          `json:"currency"`
	Cash                  decimal.Decimal `json:"cash"`
	PortfolioValue        decimal.Decimal `json:"portfolio_value"`
	PatternDayTrader      bool            `json:"pattern_day_trader"`
	TradeSuspendedByUser  bool            `json:"trade_suspended_by_user"`
	TradingBlocked        bool            `json:"trading_blocked"`
	TransfersBlocked      bool            `json:"transfers_blocked"`
	AccountBlocked        bool            `json:"account_blocked"`
	CreatedAt             time.Time       `json:"created_at"`
	ShortingEnabled       bool            `json:"shorting_enabled"`
	LongMarketValue       decimal.Decimal `json:"long_market_value"`
	ShortMarketValue      decimal.Decimal `json:"short_market_value"`
	Equity                decimal.Decimal `json:"equity"`
	LastEquity            decimal.Decimal `json:"last_equity"`
	Multiplier            decimal.Decimal `json:"multiplier"`
	BuyingPower           decimal.Decimal `json:"buying_power"`
	InitialMargin         decimal.Decimal `json:"initial_margin"`
	MaintenanceMargin     decimal.Decimal `json:"maintenance_margin"`
	SMA                   decimal.Decimal `json:"sma"`
	DaytradeCount         int             `json:"daytrade_count"`
	LastMaintenanceMargin decimal.Decimal `json:"last_maintenance_margin"`
	DaytradingBuyingPower decimal.Decimal `json:"daytrading_buying_power"`
	RegtBuyingPower       decimal.Decimal `json:"regt_buying_power"`
}

// DtbpCheck selects when day-trading buying power is checked.
type DtbpCheck string

const (
	DtbpBoth  DtbpCheck = "both"
	DtbpEntry DtbpCheck = "entry"
	DtbpExit  DtbpCheck = "exit"
)

// TradeConfirmEmail selects which fills trigger a confirmation email.
type TradeConfirmEmail string

const (
	ConfirmAll  TradeConfirmEmail = "all"
	ConfirmNone TradeConfirmEmail = "none"
)

// AccountConfigurations are the user-adjustable account settings.
type AccountConfigurations struct {
	DtbpCheck         DtbpCheck         `json:"dtbp_check" validate:"oneof=both entry exit"`
	TradeConfirmEmail TradeConfirmEmail `json:"trade_confirm_email" validate:"oneof=all none"`
	SuspendTrade      bool              `json:"suspend_trade"`
	NoShorting        bool              `json:"no_shorting"`
}

// NewAccountConfigurations returns the API defaults.
func NewAccountConfigurations() AccountConfigurations {
	return AccountConfigurations{
		DtbpCheck:         DtbpEntry,
		TradeConfirmEmail: ConfirmAll,
	}
}

// Validate checks enum fields before a PATCH.
func (c AccountConfigurations) Validate() error {
	return validate.Struct(c)
}
