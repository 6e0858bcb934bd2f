// Package money implements exact decimal arithmetic over currency-tagged
// amounts. All arithmetic is performed on integer minor units (cents) so
// results never accumulate binary floating-point error. Values are immutable;
// every operation returns a new Money.
package money

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCurrency indicates the currency code is not in the allow-list.
	ErrInvalidCurrency = errors.New("invalid currency")

	// ErrInvalidAmountFormat indicates the amount is not a valid decimal string.
	ErrInvalidAmountFormat = errors.New("invalid amount format")

	// ErrCurrencyMismatch indicates an operation over two different currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

// Precision is the number of decimal places amounts are normalized to.
const Precision = 2

// supportedCurrencies is the fixed allow-list of ISO-4217 codes the platform
// accepts donations in.
var supportedCurrencies = map[string]struct{}{
	"USD": {},
	"EUR": {},
	"GBP": {},
	"CAD": {},
	"AUD": {},
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"CAD": "CA$",
	"AUD": "A$",
}

var amountPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// Money is an immutable amount in a single currency, held as integer minor
// units at Precision decimal places.
type Money struct {
	units    int64
	currency string
}

// New parses amount as a decimal string, validates currency against the
// allow-list and normalizes the value to Precision decimal places
// (rounding half away from zero).
func New(amount, currency string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if _, ok := supportedCurrencies[currency]; !ok {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}

	amount = strings.TrimSpace(amount)
	if !amountPattern.MatchString(amount) {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmountFormat, amount)
	}

	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmountFormat, amount)
	}

	return Money{
		units:    d.Shift(Precision).Round(0).IntPart(),
		currency: currency,
	}, nil
}

// FromFloat converts a float64 into Money, rounding to Precision. Intended
// for ingesting amounts that arrive as JSON numbers; prefer New for strings.
func FromFloat(amount float64, currency string) (Money, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return Money{}, fmt.Errorf("%w: %v", ErrInvalidAmountFormat, amount)
	}
	return New(decimal.NewFromFloat(amount).StringFixed(Precision), currency)
}

// FromUnits builds Money directly from integer minor units.
func FromUnits(units int64, currency string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if _, ok := supportedCurrencies[currency]; !ok {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	return Money{units: units, currency: currency}, nil
}

// Currency returns the ISO-4217 code.
func (m Money) Currency() string {
	return m.currency
}

// Units returns the amount in integer minor units.
func (m Money) Units() int64 {
	return m.units
}

// Amount returns the canonical decimal string at Precision decimal places.
func (m Money) Amount() string {
	return decimal.New(m.units, -Precision).StringFixed(Precision)
}

// String implements fmt.Stringer, e.g. "12.34 USD".
func (m Money) String() string {
	return m.Amount() + " " + m.currency
}

// Add returns m + o. Fails if the operands differ in currency.
func (m Money) Add(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{units: m.units + o.units, currency: m.currency}, nil
}

// Subtract returns m - o. Fails if the operands differ in currency.
func (m Money) Subtract(o Money) (Money, error) {
	if err := m.sameCurrency(o); err != nil {
		return Money{}, err
	}
	return Money{units: m.units - o.units, currency: m.currency}, nil
}

// Multiply returns m scaled by factor, rounded half away from zero to
// Precision. The factor passes through exact decimal representation so a
// factor like 0.1 does not reintroduce float drift.
func (m Money) Multiply(factor float64) (Money, error) {
	if math.IsNaN(factor) || math.IsInf(factor, 0) {
		return Money{}, fmt.Errorf("%w: factor %v", ErrInvalidAmountFormat, factor)
	}
	units := decimal.NewFromInt(m.units).
		Mul(decimal.NewFromFloat(factor)).
		Round(0).
		IntPart()
	return Money{units: units, currency: m.currency}, nil
}

// Percentage returns pct percent of m, e.g. Percentage(5) is a 5% tip.
func (m Money) Percentage(pct float64) (Money, error) {
	return m.Multiply(pct / 100)
}

// Compare returns -1, 0 or 1 as m is less than, equal to or greater than o.
func (m Money) Compare(o Money) (int, error) {
	if err := m.sameCurrency(o); err != nil {
		return 0, err
	}
	switch {
	case m.units < o.units:
		return -1, nil
	case m.units > o.units:
		return 1, nil
	default:
		return 0, nil
	}
}

// Equals reports whether m and o are the same amount in the same currency.
func (m Money) Equals(o Money) (bool, error) {
	cmp, err := m.Compare(o)
	if err != nil {
		return false, err
	}
	return cmp == 0, nil
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.units < 0
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.units == 0
}

// ToFloat converts to float64 for display or storage. The result must not be
// fed back into Money arithmetic; it is an escape hatch only.
func (m Money) ToFloat() float64 {
	f, _ := decimal.New(m.units, -Precision).Float64()
	return f
}

// Format renders the amount with its currency symbol for display,
// e.g. "$12.34". Display only - never parse the result back.
func (m Money) Format() string {
	symbol, ok := currencySymbols[m.currency]
	if !ok {
		return m.String()
	}
	if m.units < 0 {
		return "-" + symbol + decimal.New(-m.units, -Precision).StringFixed(Precision)
	}
	return symbol + m.Amount()
}

// SupportedCurrencies returns the currency allow-list, sorted order not
// guaranteed.
func SupportedCurrencies() []string {
	codes := make([]string, 0, len(supportedCurrencies))
	for code := range supportedCurrencies {
		codes = append(codes, code)
	}
	return codes
}

// IsSupportedCurrency reports whether code is in the allow-list.
func IsSupportedCurrency(code string) bool {
	_, ok := supportedCurrencies[strings.ToUpper(strings.TrimSpace(code))]
	return ok
}

func (m Money) sameCurrency(o Money) error {
	if m.currency != o.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, o.currency)
	}
	return nil
}
