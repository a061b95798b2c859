package model

import (
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ParseDecimal converts a numeric string such as "179.08" into a decimal.
// Unlike a zero default, an empty or non-numeric string is an error.
func ParseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q: %w", field, s, err)
	}
	return d, nil
}

// ParseQuantity converts an integer string such as "100" into an int64.
func ParseQuantity(field, s string) (int64, error) {
	q, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid quantity %q: %w", field, s, err)
	}
	return q, nil
}

// OptionalDecimal decodes a field that may be absent.
//
// A missing field, a JSON null, or any non-string value yields an invalid NullDecimal.
// Non-string values are logged at warn level since they indicate the server changed the
// field's encoding. A string that is not a number is still an error.
func OptionalDecimal(field string, raw json.RawMessage) (decimal.NullDecimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.NullDecimal{}, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		log.Warn().
			Str("field", field).
			Str("value", string(raw)).
			Msg("string expected but found something else")
		return decimal.NullDecimal{}, nil
	}

	d, err := ParseDecimal(field, s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(d), nil
}

// nullDecimalJSON renders an optional decimal the way the API does: a quoted string or null.
func nullDecimalJSON(d decimal.NullDecimal) json.RawMessage {
	if !d.Valid {
		return json.RawMessage("null")
	}
	return json.RawMessage(strconv.Quote(d.Decimal.String()))
}
