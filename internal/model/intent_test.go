package model

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decimalPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestOrderIntent_Validate(t *testing.T) {
	tests := []struct {
		name        string
		intent      func() OrderIntent
		expectError bool
		errorMsg    string
	}{
		{
			name:   "default market order",
			intent: func() OrderIntent { return NewOrderIntent("AAPL") },
		},
		{
			name: "limit order with price",
			intent: func() OrderIntent {
				o := NewOrderIntent("AAPL")
				o.Type = Limit
				o.LimitPrice = decimalPtr("100")
				return o
			},
		},
		{
			name: "limit order without price",
			intent: func() OrderIntent {
				o := NewOrderIntent("AAPL")
				o.Type = Limit
				return o
			},
			expectError: true,
			errorMsg:    "LimitPrice",
		},
		{
			name: "stop limit missing stop price",
			intent: func() OrderIntent {
				o := NewOrderIntent("AAPL")
				o.Type = StopLimit
				o.LimitPrice = decimalPtr("100")
				return o
			},
			expectError: true,
			errorMsg:    "StopPrice",
		},
		{
			name: "zero quantity",
			intent: func() OrderIntent {
				o := NewOrderIntent("AAPL")
				o.Qty = 0
				return o
			},
			expectError: true,
			errorMsg:    "Qty",
		},
		{
			name: "missing symbol",
			intent: func() OrderIntent {
				return NewOrderIntent("")
			},
			expectError: true,
			errorMsg:    "Symbol",
		},
		{
			name: "trailing stop without trail",
			intent: func() OrderIntent {
				o := NewOrderIntent("AAPL")
				o.Type = TrailingStop
				return o
			},
			expectError: true,
			errorMsg:    "trail_price or trail_percent",
		},
		{
			name: "bracket without legs",
			intent: func() OrderIntent {
				o := NewOrderIntent("AAPL")
				o.OrderClass = Bracket
				o.TakeProfit = &TakeProfit{LimitPrice: decimal.NewFromInt(301)}
				return o
			},
			expectError: true,
			errorMsg:    "bracket",
		},
		{
			name: "complete bracket",
			intent: func() OrderIntent {
				o := NewOrderIntent("AAPL")
				o.OrderClass = Bracket
				o.TakeProfit = &TakeProfit{LimitPrice: decimal.NewFromInt(301)}
				o.StopLoss = &StopLoss{StopPrice: decimal.NewFromInt(299), LimitPrice: decimalPtr("298.5")}
				return o
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.intent().Validate()
			if tt.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errorMsg)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOrderIntent_Encoding(t *testing.T) {
	o := NewOrderIntent("AAPL")
	o.Qty = 123
	o.Type = Limit
	o.LimitPrice = decimalPtr("100")
	o.ClientOrderID = "TEST"

	data, err := json.Marshal(o)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "123", m["qty"])
	assert.Equal(t, "limit", m["type"])
	assert.Equal(t, "100", m["limit_price"])
	assert.Equal(t, "gtc", m["time_in_force"])
	assert.Equal(t, "TEST", m["client_order_id"])
	assert.NotContains(t, m, "stop_price")
	assert.NotContains(t, m, "take_profit")
}

func TestAccountConfigurations(t *testing.T) {
	c := NewAccountConfigurations()
	require.NoError(t, c.Validate())

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dtbp_check":"entry","trade_confirm_email":"all","suspend_trade":false,"no_shorting":false}`, string(data))

	c.DtbpCheck = "sometimes"
	assert.Error(t, c.Validate())
}
