package models

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// minorUnitExp is the exponent of the smallest currency unit (cents)
const minorUnitExp = -2

var (
	maxMoney = decimal.NewFromInt(math.MaxInt64)
	minMoney = decimal.NewFromInt(math.MinInt64)
)

// Money is an amount in the currency's smallest unit
type Money int64

// NewMoneyFromDecimal converts a major-unit decimal (e.g. 12.50) to Money.
// Amounts with more precision than the smallest unit, or that do not fit in Money, are rejected.
func NewMoneyFromDecimal(d decimal.Decimal) (Money, error) {
	scaled := d.Shift(-minorUnitExp)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than %d decimal places", d.String(), -minorUnitExp)
	}
	if scaled.GreaterThan(maxMoney) || scaled.LessThan(minMoney) {
		return 0, fmt.Errorf("amount %s is out of range", d.String())
	}
	return Money(scaled.IntPart()), nil
}

// MustMoney parses a major-unit string such as "50" or "12.34". It panics on bad input
// and is intended for fixtures and tests.
func MustMoney(s string) Money {
	m, err := NewMoneyFromDecimal(decimal.RequireFromString(s))
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal returns the amount in major units
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), minorUnitExp)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(-minorUnitExp)
}

// MarshalJSON encodes the amount as a major-unit JSON number
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a major-unit JSON number or quoted string
func (m *Money) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("decode money: %w", err)
	}
	v, err := NewMoneyFromDecimal(d)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// MulRate multiplies the amount by a decimal rate, rounding half away from zero to the smallest unit
func (m Money) MulRate(rate decimal.Decimal) Money {
	return Money(decimal.NewFromInt(int64(m)).Mul(rate).Round(0).IntPart())
}
