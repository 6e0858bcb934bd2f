package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/causewayhq/requestcore/pkg/money"
)

// Conventional field names for donation amounts. When both the gross and
// tip fields are normalized, the net field is recomputed from exact
// arithmetic so a float round-trip can never skew the split.
const (
	amountField = "amount"
	tipField    = "tip_amount"
	netField    = "net_amount"
)

// normalizeMoney converts the named payload fields through Money and
// projects them back to plain numbers at two decimal places. The currency
// comes from the payload's "currency" field, falling back to fallback.
// Currency and format errors propagate unwrapped so callers can match the
// money package's sentinel errors.
func normalizeMoney(values map[string]any, fields []string, fallback string) error {
	if len(fields) == 0 {
		return nil
	}

	currency := fallback
	if c, ok := values["currency"].(string); ok && c != "" {
		currency = c
	}

	amounts := make(map[string]money.Money, len(fields))
	for _, field := range fields {
		raw, ok := values[field]
		if !ok || raw == nil {
			continue
		}
		m, err := toMoney(raw, currency)
		if err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
		amounts[field] = m
		values[field] = m.ToFloat()
	}

	if gross, ok := amounts[amountField]; ok {
		if tip, ok := amounts[tipField]; ok {
			net, err := gross.Subtract(tip)
			if err != nil {
				return err
			}
			values[netField] = net.ToFloat()
		}
	}
	return nil
}

func toMoney(raw any, currency string) (money.Money, error) {
	switch v := raw.(type) {
	case string:
		return money.New(v, currency)
	case float64:
		return money.FromFloat(v, currency)
	case int:
		return money.FromFloat(float64(v), currency)
	case int64:
		return money.FromFloat(float64(v), currency)
	case json.Number:
		return money.New(v.String(), currency)
	default:
		return money.Money{}, fmt.Errorf("%w: unsupported amount type %T", money.ErrInvalidAmountFormat, raw)
	}
}
