package amm

import (
	"fmt"

	"github.com/composable-labs/pablox/pkg/fixedpoint"
	"github.com/shopspring/decimal"
)

func checkWeights(weightIn, weightOut decimal.Decimal) error {
	if weightIn.Sign() <= 0 || weightOut.Sign() <= 0 {
		return fmt.Errorf("weights %s/%s: %w", weightIn, weightOut, ErrInvalidWeight)
	}
	return nil
}

func checkBalances(balanceIn, balanceOut decimal.Decimal) error {
	if balanceIn.Sign() <= 0 || balanceOut.Sign() <= 0 {
		return fmt.Errorf("balances %s/%s: %w", balanceIn, balanceOut, ErrInsufficientLiquidity)
	}
	return nil
}

// OutGivenIn returns how much of the out asset a pool pays for amountIn of the in asset:
//
//	amountOut = balanceOut * (1 - (balanceIn / (balanceIn + amountIn)) ^ (weightIn / weightOut))
//
// The result is rounded down. amountIn must already be net of fees.
func OutGivenIn(balanceIn, balanceOut, amountIn, weightIn, weightOut decimal.Decimal) (decimal.Decimal, error) {
	if err := checkWeights(weightIn, weightOut); err != nil {
		return decimal.Zero, err
	}
	if err := checkBalances(balanceIn, balanceOut); err != nil {
		return decimal.Zero, err
	}
	if amountIn.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount in %s: %w", amountIn, ErrInvalidAmount)
	}
	if amountIn.IsZero() {
		return decimal.Zero, nil
	}

	var out decimal.Decimal
	if weightIn.Equal(weightOut) {
		// exponent is 1, the curve is x*y=k and the division can be done exactly
		q, err := fixedpoint.MulDivFloor(balanceOut, amountIn, balanceIn.Add(amountIn))
		if err != nil {
			return decimal.Zero, err
		}
		out = q
	} else {
		exponent, err := fixedpoint.Div(weightIn, weightOut)
		if err != nil {
			return decimal.Zero, err
		}
		p, err := fixedpoint.PowRatio(balanceIn, balanceIn.Add(amountIn), exponent)
		if err != nil {
			return decimal.Zero, err
		}
		// floor(B*(1-p)) = B - ceil(B*p), and p > 0 for any finite amountIn
		retained := fixedpoint.Ceil(balanceOut.Mul(p))
		if retained.LessThan(fixedpoint.One) {
			retained = fixedpoint.One
		}
		out = balanceOut.Sub(retained)
	}

	if out.IsNegative() {
		out = decimal.Zero
	}
	if out.GreaterThanOrEqual(balanceOut) {
		return decimal.Zero, fmt.Errorf("swap would drain %s of %s: %w", out, balanceOut, ErrInsufficientLiquidity)
	}
	return out, nil
}

// InGivenOut returns how much of the in asset a pool charges to pay out amountOut of the out asset:
//
//	amountIn = balanceIn * ((balanceOut / (balanceOut - amountOut)) ^ (weightOut / weightIn) - 1)
//
// The result is rounded up and excludes fees.
func InGivenOut(balanceIn, balanceOut, amountOut, weightIn, weightOut decimal.Decimal) (decimal.Decimal, error) {
	if err := checkWeights(weightIn, weightOut); err != nil {
		return decimal.Zero, err
	}
	if err := checkBalances(balanceIn, balanceOut); err != nil {
		return decimal.Zero, err
	}
	if amountOut.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount out %s: %w", amountOut, ErrInvalidAmount)
	}
	if amountOut.GreaterThanOrEqual(balanceOut) {
		return decimal.Zero, fmt.Errorf("requested %s of %s: %w", amountOut, balanceOut, ErrInsufficientLiquidity)
	}
	if amountOut.IsZero() {
		return decimal.Zero, nil
	}

	remaining := balanceOut.Sub(amountOut)
	if weightIn.Equal(weightOut) {
		return fixedpoint.MulDivCeil(balanceIn, amountOut, remaining)
	}

	exponent, err := fixedpoint.Div(weightOut, weightIn)
	if err != nil {
		return decimal.Zero, err
	}
	p, err := fixedpoint.PowRatio(balanceOut, remaining, exponent)
	if err != nil {
		return decimal.Zero, err
	}
	in := fixedpoint.Ceil(balanceIn.Mul(p.Sub(fixedpoint.One)))
	if in.IsNegative() {
		in = decimal.Zero
	}
	return in, nil
}

// SpotPrice is the marginal amount of the in asset paid per unit of the out asset, before fees.
func SpotPrice(balanceIn, balanceOut, weightIn, weightOut decimal.Decimal) (decimal.Decimal, error) {
	if err := checkWeights(weightIn, weightOut); err != nil {
		return decimal.Zero, err
	}
	if err := checkBalances(balanceIn, balanceOut); err != nil {
		return decimal.Zero, err
	}
	return fixedpoint.Div(balanceIn.Mul(weightOut), balanceOut.Mul(weightIn))
}
