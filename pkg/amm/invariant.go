package amm

import (
	"fmt"

	"github.com/composable-labs/pablox/pkg/fixedpoint"
	"github.com/shopspring/decimal"
)

// invariantTolerance is the relative decrease of B^wb*Q^wq still accepted after a swap.
var invariantTolerance = decimal.New(1, -24)

// weightedLog is wb*ln(B) + wq*ln(Q).
func weightedLog(base, quote, baseWeight, quoteWeight decimal.Decimal) (decimal.Decimal, error) {
	lnBase, err := fixedpoint.Ln(base)
	if err != nil {
		return decimal.Zero, err
	}
	lnQuote, err := fixedpoint.Ln(quote)
	if err != nil {
		return decimal.Zero, err
	}
	return lnBase.Mul(baseWeight).Add(lnQuote.Mul(quoteWeight)), nil
}

func weightedProduct(base, quote, baseWeight, quoteWeight decimal.Decimal) (decimal.Decimal, error) {
	if base.IsZero() || quote.IsZero() {
		return decimal.Zero, nil
	}
	l, err := weightedLog(base, quote, baseWeight, quoteWeight)
	if err != nil {
		return decimal.Zero, err
	}
	return fixedpoint.Exp(l), nil
}

// Invariant returns the weighted geometric product B^wb * Q^wq of the pool reserves.
func Invariant(pool Pool) (decimal.Decimal, error) {
	return weightedProduct(pool.BaseBalance, pool.QuoteBalance, pool.BaseWeight, pool.QuoteWeight)
}

// CheckSwap fails with ErrInvariantViolated when a swap took value out of the pool.
// The comparison runs in log space so it is relative to the pool size.
func CheckSwap(before, after Pool) error {
	if before.BaseBalance.Sign() <= 0 || before.QuoteBalance.Sign() <= 0 {
		return nil
	}
	if after.BaseBalance.Sign() <= 0 || after.QuoteBalance.Sign() <= 0 {
		return fmt.Errorf("pool %d drained to %s/%s: %w", after.ID, after.BaseBalance, after.QuoteBalance, ErrInvariantViolated)
	}
	lb, err := weightedLog(before.BaseBalance, before.QuoteBalance, before.BaseWeight, before.QuoteWeight)
	if err != nil {
		return err
	}
	la, err := weightedLog(after.BaseBalance, after.QuoteBalance, after.BaseWeight, after.QuoteWeight)
	if err != nil {
		return err
	}
	if delta := la.Sub(lb); delta.LessThan(invariantTolerance.Neg()) {
		return fmt.Errorf("pool %d log invariant moved by %s: %w", before.ID, delta, ErrInvariantViolated)
	}
	return nil
}

// CheckRatio fails with ErrRatioViolated when a proportional add or remove moved the reserve ratio
// by more than one unit of rounding: |B'*Q - B*Q'| must stay below max(B, Q).
func CheckRatio(before, after Pool) error {
	if before.BaseBalance.IsZero() || before.QuoteBalance.IsZero() {
		return nil
	}
	cross := after.BaseBalance.Mul(before.QuoteBalance).Sub(before.BaseBalance.Mul(after.QuoteBalance))
	bound := decimal.Max(before.BaseBalance, before.QuoteBalance)
	if cross.Abs().GreaterThanOrEqual(bound) {
		return fmt.Errorf("pool %d ratio %s/%s -> %s/%s: %w", before.ID,
			before.BaseBalance, before.QuoteBalance, after.BaseBalance, after.QuoteBalance, ErrRatioViolated)
	}
	return nil
}

// RatioDeviation is the relative change of the decimals-adjusted price between two snapshots.
func RatioDeviation(before, after Pool) (decimal.Decimal, error) {
	pb, err := before.DisplayPrice()
	if err != nil {
		return decimal.Zero, err
	}
	pa, err := after.DisplayPrice()
	if err != nil {
		return decimal.Zero, err
	}
	q, err := fixedpoint.Div(pa, pb)
	if err != nil {
		return decimal.Zero, err
	}
	return q.Sub(fixedpoint.One).Abs(), nil
}

// ExpectedMint is the LP amount a deposit of base/quote into before should mint.
func ExpectedMint(before Pool, base, quote decimal.Decimal) (decimal.Decimal, error) {
	if before.LPSupply.IsZero() || before.BaseBalance.IsZero() || before.QuoteBalance.IsZero() {
		return InitialLP(base, quote, before.BaseWeight, before.QuoteWeight)
	}
	return proportionalMint(before, base, quote)
}

// CheckLPMint fails with ErrMintViolated when minted is more than one unit away from ExpectedMint.
func CheckLPMint(before Pool, base, quote, minted decimal.Decimal) error {
	expected, err := ExpectedMint(before, base, quote)
	if err != nil {
		return err
	}
	if minted.Sub(expected).Abs().GreaterThan(fixedpoint.One) {
		return fmt.Errorf("pool %d minted %s, expected %s: %w", before.ID, minted, expected, ErrMintViolated)
	}
	return nil
}
