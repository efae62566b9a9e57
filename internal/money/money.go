// Package money provides a fixed-point decimal type for every monetary and
// quantity-value computation in the OMS. No state-affecting path may use
// float64: binary floats cannot represent paise-exact prices and silently
// accumulate rounding error across thousands of fills.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money wraps decimal.Decimal. Zero value is a valid zero amount.
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{d: decimal.Zero}

// New builds a Money from an integer number of minor units (e.g. paise)
// and the number of decimal places that unit represents.
func New(units int64, exp int32) Money {
	return Money{d: decimal.New(units, -exp)}
}

// FromString parses a decimal string exactly, e.g. "2450.50". Returns an
// error rather than silently truncating on malformed input.
func FromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money: invalid decimal %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// FromInt builds a whole-number Money (e.g. a share price of exactly 100).
func FromInt(v int64) Money {
	return Money{d: decimal.NewFromInt(v)}
}

// MustFromString is FromString but panics on error; reserved for literal
// constants in tests and defaults, never for untrusted input.
func MustFromString(s string) Money {
	m, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money      { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money      { return Money{d: m.d.Sub(o.d)} }
func (m Money) Mul(o Money) Money      { return Money{d: m.d.Mul(o.d)} }
func (m Money) Neg() Money             { return Money{d: m.d.Neg()} }
func (m Money) Abs() Money             { return Money{d: m.d.Abs()} }
func (m Money) IsZero() bool           { return m.d.IsZero() }
func (m Money) IsNegative() bool       { return m.d.IsNegative() }
func (m Money) IsPositive() bool       { return m.d.IsPositive() }
func (m Money) GreaterThan(o Money) bool      { return m.d.GreaterThan(o.d) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.d.GreaterThanOrEqual(o.d) }
func (m Money) LessThan(o Money) bool         { return m.d.LessThan(o.d) }
func (m Money) LessThanOrEqual(o Money) bool  { return m.d.LessThanOrEqual(o.d) }
func (m Money) Equal(o Money) bool            { return m.d.Equal(o.d) }

// MulInt multiplies by a plain integer quantity (shares), avoiding a
// round-trip through decimal construction at every call site.
func (m Money) MulInt(qty int64) Money {
	return Money{d: m.d.Mul(decimal.NewFromInt(qty))}
}

// DivInt divides by a plain integer, with the division precision fixed at
// 8 fractional digits to keep ratio computations (risk/reward) stable.
func (m Money) DivInt(qty int64) Money {
	if qty == 0 {
		return Money{}
	}
	return Money{d: m.d.DivRound(decimal.NewFromInt(qty), 8)}
}

// Div divides two Money values, used for ratios (risk-reward, drawdown
// percentage) rather than currency amounts.
func (m Money) Div(o Money) Money {
	if o.d.IsZero() {
		return Money{}
	}
	return Money{d: m.d.DivRound(o.d, 8)}
}

// MulFloat scales by a plain ratio such as a leverage divisor or a
// percentage threshold read from configuration. Configuration constants
// (0.02, 0.06, ...) are the only place float64 is allowed to touch Money,
// since they originate as literal, human-authored ratios, not computed
// state.
func (m Money) MulFloat(f float64) Money {
	return Money{d: m.d.Mul(decimal.NewFromFloat(f))}
}

// Round4 rounds to 4 decimal places, the minimum intermediate precision
// the spec requires.
func (m Money) Round4() Money {
	return Money{d: m.d.Round(4)}
}

// RoundBank rounds to 2 decimal places using half-even (banker's)
// rounding, for monetary display per the spec's rounding rule.
func (m Money) RoundBank() Money {
	return Money{d: m.d.RoundBank(2)}
}

func (m Money) String() string { return m.d.StringFixed(4) }

// Float64 is for logging/telemetry only; never feed the result back into
// a state-affecting computation.
func (m Money) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

func (m Money) MarshalJSON() ([]byte, error) {
	return m.d.MarshalJSON()
}

func (m *Money) UnmarshalJSON(b []byte) error {
	return m.d.UnmarshalJSON(b)
}

// Value implements driver.Valuer so Money can be written directly as a
// NUMERIC column via pgx.
func (m Money) Value() (driver.Value, error) {
	return m.d.Value()
}

// Scan implements sql.Scanner so Money can be read directly from a
// NUMERIC column via pgx.
func (m *Money) Scan(src interface{}) error {
	return m.d.Scan(src)
}
