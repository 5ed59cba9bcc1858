// Package money implements exact currency amounts stored as a non-negative
// count of minor units (cents) tagged with an ISO-4217 currency code.
//
// All order totals and subtotals must be computed through this package; no
// floating point currency arithmetic is allowed anywhere else.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrNegativeAmount   = errors.New("money: amount must be a non-negative number of cents")
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
	ErrInvalidCurrency  = errors.New("money: invalid currency code")
	ErrInvalidFactor    = errors.New("money: factor must be a non-negative finite number")
	ErrInvalidDivisor   = errors.New("money: divisor must be a positive finite number")
	ErrOverflow         = errors.New("money: amount overflows int64 cents")
)

const DefaultCurrency = "USD"

var maxCents = decimal.NewFromInt(math.MaxInt64)

// Money is an immutable value; the zero value is not valid, use Zero.
type Money struct {
	cents    int64
	currency string
}

func FromCents(cents int64, currency string) (Money, error) {
	if err := validateCurrency(currency); err != nil {
		return Money{}, err
	}
	if cents < 0 {
		return Money{}, ErrNegativeAmount
	}

	return Money{cents: cents, currency: currency}, nil
}

// MustFromCents panics on invalid input. Intended for constants and tests.
func MustFromCents(cents int64, currency string) Money {
	m, err := FromCents(cents, currency)
	if err != nil {
		panic(err)
	}

	return m
}

// FromDecimal converts a major-unit amount (e.g. 15.99) to cents, rounding
// half away from zero.
func FromDecimal(amount decimal.Decimal, currency string) (Money, error) {
	return fromDecimalCents(amount.Shift(2), currency)
}

func ParseDecimal(amount string, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", amount, err)
	}

	return FromDecimal(d, currency)
}

func Zero(currency string) Money {
	return MustFromCents(0, currency)
}

func fromDecimalCents(cents decimal.Decimal, currency string) (Money, error) {
	rounded := cents.Round(0)
	if rounded.IsNegative() {
		return Money{}, ErrNegativeAmount
	}
	if rounded.GreaterThan(maxCents) {
		return Money{}, ErrOverflow
	}

	return FromCents(rounded.IntPart(), currency)
}

func (m Money) Cents() int64 {
	return m.cents
}

func (m Money) Currency() string {
	return m.currency
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.cents, -2)
}

func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	if m.cents > math.MaxInt64-other.cents {
		return Money{}, ErrOverflow
	}

	return Money{cents: m.cents + other.cents, currency: m.currency}, nil
}

func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	if other.cents > m.cents {
		return Money{}, fmt.Errorf("%w: %s - %s", ErrNegativeAmount, m, other)
	}

	return Money{cents: m.cents - other.cents, currency: m.currency}, nil
}

func (m Money) Multiply(factor float64) (Money, error) {
	if factor < 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return Money{}, ErrInvalidFactor
	}

	return fromDecimalCents(decimal.NewFromInt(m.cents).Mul(decimal.NewFromFloat(factor)), m.currency)
}

// MulInt multiplies by a whole quantity without any rounding.
func (m Money) MulInt(n int64) (Money, error) {
	if n < 0 {
		return Money{}, ErrInvalidFactor
	}
	if n != 0 && m.cents > math.MaxInt64/n {
		return Money{}, ErrOverflow
	}

	return Money{cents: m.cents * n, currency: m.currency}, nil
}

func (m Money) Divide(divisor float64) (Money, error) {
	if divisor <= 0 || math.IsNaN(divisor) || math.IsInf(divisor, 0) {
		return Money{}, ErrInvalidDivisor
	}

	return fromDecimalCents(decimal.NewFromInt(m.cents).Div(decimal.NewFromFloat(divisor)), m.currency)
}

// Compare returns -1, 0 or 1.
func (m Money) Compare(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}

	switch {
	case m.cents < other.cents:
		return -1, nil
	case m.cents > other.cents:
		return 1, nil
	default:
		return 0, nil
	}
}

func (m Money) Equal(other Money) bool {
	return m.cents == other.cents && m.currency == other.currency
}

func (m Money) GreaterThan(other Money) (bool, error) {
	c, err := m.Compare(other)
	return c > 0, err
}

func (m Money) GreaterThanOrEqual(other Money) (bool, error) {
	c, err := m.Compare(other)
	return c >= 0, err
}

func (m Money) LessThan(other Money) (bool, error) {
	c, err := m.Compare(other)
	return c < 0, err
}

func (m Money) IsZero() bool {
	return m.cents == 0
}

func (m Money) IsPositive() bool {
	return m.cents > 0
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.currency, m.Decimal().StringFixed(2))
}

type jsonMoney struct {
	Cents     int64  `json:"cents"`
	Currency  string `json:"currency"`
	Formatted string `json:"formatted,omitempty"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonMoney{
		Cents:     m.cents,
		Currency:  m.currency,
		Formatted: m.String(),
	})
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var raw jsonMoney
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	parsed, err := FromCents(raw.Cents, raw.Currency)
	if err != nil {
		return err
	}

	*m = parsed
	return nil
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}

	return nil
}

func validateCurrency(currency string) error {
	if len(currency) != 3 {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("%w: %q", ErrInvalidCurrency, currency)
		}
	}

	return nil
}
