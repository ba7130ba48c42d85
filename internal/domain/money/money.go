// Package money provides the fixed-point monetary value type used by all
// pricing computations. Amounts are decimal (never binary floats) and are
// rounded to 2 decimal places exactly once, at the end of a computation.
package money

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Places is the fixed-point precision for reported monetary amounts.
const Places = 2

// ErrEmptyCurrency is returned when a Money is constructed without a currency code.
var ErrEmptyCurrency = errors.New("currency code required")

// CurrencyMismatchError indicates arithmetic between two different currencies.
// Operands must be converted into a common currency first.
type CurrencyMismatchError struct {
	Left  string
	Right string
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch: %s vs %s", e.Left, e.Right)
}

// Money pairs a decimal amount with a 3-letter currency code.
// The zero value is not usable; construct via New or Zero.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// New creates a Money with the given amount and currency code.
func New(amount decimal.Decimal, currency string) (Money, error) {
	if currency == "" {
		return Money{}, ErrEmptyCurrency
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// Zero returns a zero amount in the given currency.
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// Add returns m + other. Both operands must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, &CurrencyMismatchError{Left: m.Currency, Right: other.Currency}
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other. Both operands must share a currency.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, &CurrencyMismatchError{Left: m.Currency, Right: other.Currency}
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// MulInt returns m multiplied by an integer quantity.
func (m Money) MulInt(n int) Money {
	return Money{Amount: m.Amount.Mul(decimal.NewFromInt(int64(n))), Currency: m.Currency}
}

// Mul returns m scaled by the given decimal factor (e.g. a rate or a percentage
// already divided by 100). The result is NOT rounded.
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor), Currency: m.Currency}
}

// Round returns m rounded half-up to the fixed-point precision. Callers apply
// it once per reported field, never to intermediate values.
func (m Money) Round() Money {
	return Money{Amount: m.Amount.Round(Places), Currency: m.Currency}
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.Amount.IsNegative()
}

// Equal reports whether amount and currency both match.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// String renders the amount at fixed precision followed by the currency code.
func (m Money) String() string {
	return m.Amount.StringFixed(Places) + " " + m.Currency
}

// Min returns the smaller of a and b, which must share a currency.
func Min(a, b Money) (Money, error) {
	if a.Currency != b.Currency {
		return Money{}, &CurrencyMismatchError{Left: a.Currency, Right: b.Currency}
	}
	if a.Amount.LessThan(b.Amount) {
		return a, nil
	}
	return b, nil
}
