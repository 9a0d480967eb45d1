// Package money implements exact currency amounts in minor units.
package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places held by one major unit.
const Scale = 2

// Amount is a signed quantity of minor units (e.g., cents). No floats.
type Amount int64

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrPrecision     = errors.New("amount has more precision than minor units allow")
	ErrOverflow      = errors.New("amount out of range")
)

var (
	minAmount = decimal.NewFromInt(math.MinInt64)
	maxAmount = decimal.NewFromInt(math.MaxInt64)
)

// Parse converts a decimal string in major units ("125.99", "-3") into an Amount.
// Values with more than Scale fractional digits are rejected rather than rounded.
func Parse(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w %q: %v", ErrInvalidAmount, s, err)
	}
	return FromDecimal(d)
}

// MustParse is Parse for constants and tests; it panics on error.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromDecimal converts a major-unit decimal into an Amount without rounding.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	minor := d.Shift(Scale)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, ErrPrecision
	}
	return fromMinor(minor)
}

func fromMinor(minor decimal.Decimal) (Amount, error) {
	if minor.LessThan(minAmount) || minor.GreaterThan(maxAmount) {
		return 0, ErrOverflow
	}
	return Amount(minor.IntPart()), nil
}

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

// String formats the amount in major units with exactly Scale decimals.
func (a Amount) String() string {
	return a.Decimal().StringFixed(Scale)
}

func (a Amount) IsPositive() bool { return a > 0 }
func (a Amount) IsZero() bool     { return a == 0 }

// Neg returns -a.
func (a Amount) Neg() Amount { return -a }

// MulRate multiplies the amount by a decimal factor and rounds half away
// from zero to the nearest minor unit.
func (a Amount) MulRate(rate decimal.Decimal) (Amount, error) {
	return fromMinor(decimal.NewFromInt(int64(a)).Mul(rate).Round(0))
}

// Sum adds amounts exactly. Intermediate totals may leave the Amount range;
// only a final total outside it is ErrOverflow.
func Sum(amounts ...Amount) (Amount, error) {
	var (
		total Amount
		exact decimal.Decimal
		wide  bool
	)
	for _, a := range amounts {
		if !wide {
			next, err := Add(total, a)
			if err == nil {
				total = next
				continue
			}
			wide = true
			exact = decimal.NewFromInt(int64(total))
		}
		exact = exact.Add(decimal.NewFromInt(int64(a)))
	}
	if !wide {
		return total, nil
	}
	return fromMinor(exact)
}

// Add returns a+b or ErrOverflow.
func Add(a, b Amount) (Amount, error) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, ErrOverflow
	}
	return s, nil
}
