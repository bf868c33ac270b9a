package fixedpoint

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// guardPrecision is the working precision of ln/exp; results are rounded back to Precision.
const guardPrecision = Precision + 10

// expMu serializes ExpTaylor, directly or through PowWithPrecision. It grows a package-level
// factorial cache without locking.
var expMu sync.Mutex

// eDigits is the precision of e itself, wide enough that e^n keeps guardPrecision digits.
const eDigits = guardPrecision + 20

// eValue is e at eDigits, filled on first use under expMu.
var eValue decimal.Decimal

// expUnderflow is the exponent below which e^y rounds to zero at Precision.
var expUnderflow = decimal.NewFromInt(-100)

// Ln returns the natural logarithm of x, rounded to Precision.
func Ln(x decimal.Decimal) (decimal.Decimal, error) {
	l, err := ln(x)
	if err != nil {
		return decimal.Zero, err
	}
	return l.Round(Precision), nil
}

func ln(x decimal.Decimal) (decimal.Decimal, error) {
	if x.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("ln(%s): %w", x, ErrNonPositiveBase)
	}
	if x.Equal(One) {
		return decimal.Zero, nil
	}
	l, err := x.Ln(guardPrecision)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ln(%s): %w", x, err)
	}
	return l, nil
}

// Exp returns e^y, rounded to Precision.
func Exp(y decimal.Decimal) decimal.Decimal {
	return exp(y).Round(Precision)
}

// exp splits y into n + f with |f| < 1 and returns e^n * e^f. ExpTaylor only ever sees f, where the
// series is short.
func exp(y decimal.Decimal) decimal.Decimal {
	if y.IsZero() {
		return One
	}
	if y.LessThan(expUnderflow) {
		return decimal.Zero
	}
	n := y.Truncate(0)
	f := y.Sub(n)

	expMu.Lock()
	defer expMu.Unlock()
	// ExpTaylor never fails for a finite argument.
	ef, _ := f.ExpTaylor(guardPrecision)
	if n.IsZero() {
		return ef
	}
	if eValue.IsZero() {
		eValue, _ = One.ExpTaylor(eDigits)
	}
	// n is a non-zero integer, so there is no 0^0 or fractional case to fail on
	en, _ := eValue.PowWithPrecision(n, eDigits)
	return en.Mul(ef).Round(guardPrecision)
}

// PowRatio returns (num/den)^exponent, rounded to Precision. The ratio is never formed: the power
// is taken in log space so a num many orders of magnitude below den still yields a positive result.
func PowRatio(num, den, exponent decimal.Decimal) (decimal.Decimal, error) {
	if num.Sign() <= 0 || den.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("pow(%s/%s, %s): %w", num, den, exponent, ErrNonPositiveBase)
	}
	if exponent.IsZero() || num.Equal(den) {
		return One, nil
	}
	lnNum, err := ln(num)
	if err != nil {
		return decimal.Zero, err
	}
	lnDen, err := ln(den)
	if err != nil {
		return decimal.Zero, err
	}
	return Exp(lnNum.Sub(lnDen).Mul(exponent)), nil
}
