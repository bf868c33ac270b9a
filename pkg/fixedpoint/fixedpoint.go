// Package fixedpoint is the arbitrary-precision arithmetic layer under the pricing engine.
// Token amounts are integer-valued decimals; weights and fee rates are fractional decimals.
// Nothing in here ever goes through float64.
package fixedpoint

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits kept by divisions and transcendental functions.
const Precision int32 = 40

var (
	ErrDivisionByZero  = errors.New("division by zero")
	ErrNonPositiveBase = errors.New("power base must be positive")
)

var maxExactExponent = decimal.NewFromInt(64)

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
	Two  = decimal.NewFromInt(2)
	half = decimal.New(5, -1)
)

// FromUint64 converts an on-chain unsigned amount without going through int64.
func FromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

// MustParse parses a decimal literal and panics on malformed input. Meant for constants and tests.
func MustParse(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Parse parses a decimal literal.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// IsInteger reports whether d has no fractional part.
func IsInteger(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(0))
}

// Floor rounds toward negative infinity to a whole unit. Used for amounts paid out.
func Floor(d decimal.Decimal) decimal.Decimal {
	return d.Floor()
}

// Ceil rounds toward positive infinity to a whole unit. Used for amounts charged.
func Ceil(d decimal.Decimal) decimal.Decimal {
	return d.Ceil()
}

// Div returns a/b rounded to Precision fractional digits.
func Div(a, b decimal.Decimal) (decimal.Decimal, error) {
	if b.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	return a.DivRound(b, Precision), nil
}

// MustDiv is Div for divisors already known to be non-zero.
func MustDiv(a, b decimal.Decimal) decimal.Decimal {
	q, err := Div(a, b)
	if err != nil {
		panic(err)
	}
	return q
}

// MulDivFloor returns floor(a*b/c) exactly, for non-negative operands.
func MulDivFloor(a, b, c decimal.Decimal) (decimal.Decimal, error) {
	if c.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	q, _ := a.Mul(b).QuoRem(c, 0)
	return q, nil
}

// MulDivCeil returns ceil(a*b/c) exactly, for non-negative operands.
func MulDivCeil(a, b, c decimal.Decimal) (decimal.Decimal, error) {
	if c.IsZero() {
		return decimal.Zero, ErrDivisionByZero
	}
	q, r := a.Mul(b).QuoRem(c, 0)
	if !r.IsZero() {
		q = q.Add(One)
	}
	return q, nil
}

// Pow returns base^exponent, rounded to Precision. Up to maxExactExponent the integer part of the
// exponent is multiplied out exactly and only the fraction goes through ln/exp; larger exponents
// go entirely through exp(exponent*ln(base)).
func Pow(base, exponent decimal.Decimal) (decimal.Decimal, error) {
	if base.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("pow(%s, %s): %w", base, exponent, ErrNonPositiveBase)
	}
	if exponent.IsZero() || base.Equal(One) {
		return One, nil
	}
	if exponent.Abs().LessThanOrEqual(maxExactExponent) {
		expMu.Lock()
		p, err := base.PowWithPrecision(exponent, guardPrecision)
		expMu.Unlock()
		if err != nil {
			return decimal.Zero, fmt.Errorf("pow(%s, %s): %w", base, exponent, err)
		}
		return p.Round(Precision), nil
	}
	lnBase, err := ln(base)
	if err != nil {
		return decimal.Zero, err
	}
	return Exp(lnBase.Mul(exponent)), nil
}
