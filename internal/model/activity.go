package model

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ActivityFill is the activity_type of trade executions. Every other type is a
// non-trade activity such as a dividend or a fee.
const ActivityFill = "FILL"

// Activity is one entry of the account activity feed: a *TradeActivity or a
// *NonTradeActivity.
type Activity interface {
	Kind() string
	isActivity()
}

// TradeActivity is an execution against one of the account's orders.
type TradeActivity struct {
	ActivityType    string          `json:"activity_type"`
	ID              string          `json:"id"`
	Qty             decimal.Decimal `json:"qty"`
	CumQty          decimal.Decimal `json:"cum_qty"`
	LeavesQty       decimal.Decimal `json:"leaves_qty"`
	Price           decimal.Decimal `json:"price"`
	Side            string          `json:"side"`
	Symbol          string          `json:"symbol"`
	TransactionTime time.Time       `json:"transaction_time"`
	OrderID         uuid.UUID       `json:"order_id"`
	FillType        string          `json:"type"`
}

// NonTradeActivity is a cash or position movement that is not an execution.
type NonTradeActivity struct {
	ActivityType   string              `json:"activity_type"`
	ID             string              `json:"id"`
	Date           string              `json:"date"`
	NetAmount      decimal.Decimal     `json:"net_amount"`
	Symbol         string              `json:"symbol,omitempty"`
	Qty            decimal.NullDecimal `json:"qty"`
	PerShareAmount decimal.NullDecimal `json:"per_share_amount"`
}

func (a *TradeActivity) Kind() string    { return a.ActivityType }
func (a *NonTradeActivity) Kind() string { return a.ActivityType }

func (*TradeActivity) isActivity()    {}
func (*NonTradeActivity) isActivity() {}

// DecodeActivities decodes an activity array, choosing the variant from activity_type.
func DecodeActivities(data []byte) ([]Activity, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode activities: %w", err)
	}

	out := make([]Activity, 0, len(raws))
	for i, raw := range raws {
		var head struct {
			ActivityType string `json:"activity_type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("decode activity %d: %w", i, err)
		}

		var a Activity
		if head.ActivityType == ActivityFill {
			a = &TradeActivity{}
		} else {
			a = &NonTradeActivity{}
		}
		if err := json.Unmarshal(raw, a); err != nil {
			return nil, fmt.Errorf("decode %s activity %d: %w", head.ActivityType, i, err)
		}
		out = append(out, a)
	}
	return out, nil
}
