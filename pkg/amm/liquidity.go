package amm

import (
	"fmt"

	"github.com/composable-labs/pablox/pkg/fixedpoint"
	"github.com/shopspring/decimal"
)

// settlePrecision drops series noise from the initial mint before flooring it.
const settlePrecision int32 = 18

// LiquidityResult is a priced deposit or withdrawal.
// For deposits BaseAmount/QuoteAmount are what the pool actually takes, which may be less than offered.
type LiquidityResult struct {
	BaseAmount  decimal.Decimal `json:"baseAmount"`
	QuoteAmount decimal.Decimal `json:"quoteAmount"`
	LPAmount    decimal.Decimal `json:"lpAmount"`
	Remove      bool            `json:"remove"`
}

// InitialLP is the supply minted by the first deposit: floor(base^wb * quote^wq).
func InitialLP(base, quote, baseWeight, quoteWeight decimal.Decimal) (decimal.Decimal, error) {
	v, err := weightedProduct(base, quote, baseWeight, quoteWeight)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Round(settlePrecision).Floor(), nil
}

// AddLiquidity prices a deposit. Imbalanced contributions are re-proportioned to the pool ratio:
// the limiting side is taken whole and the other side is charged, rounded up, in proportion.
func AddLiquidity(pool Pool, base, quote decimal.Decimal) (LiquidityResult, error) {
	if base.IsNegative() || quote.IsNegative() {
		return LiquidityResult{}, fmt.Errorf("deposit %s/%s: %w", base, quote, ErrInvalidAmount)
	}

	if pool.LPSupply.IsZero() || pool.BaseBalance.IsZero() || pool.QuoteBalance.IsZero() {
		if base.IsZero() || quote.IsZero() {
			return LiquidityResult{}, fmt.Errorf("first deposit into pool %d needs both sides: %w", pool.ID, ErrInvalidAmount)
		}
		lp, err := InitialLP(base, quote, pool.BaseWeight, pool.QuoteWeight)
		if err != nil {
			return LiquidityResult{}, fmt.Errorf("pool %d: %w", pool.ID, err)
		}
		if lp.IsZero() {
			return LiquidityResult{}, fmt.Errorf("deposit %s/%s mints nothing: %w", base, quote, ErrInvalidAmount)
		}
		return LiquidityResult{BaseAmount: base, QuoteAmount: quote, LPAmount: lp}, nil
	}

	takeBase, takeQuote := base, quote
	quoteNeeded, err := fixedpoint.MulDivCeil(base, pool.QuoteBalance, pool.BaseBalance)
	if err != nil {
		return LiquidityResult{}, err
	}
	if quoteNeeded.LessThanOrEqual(quote) {
		takeQuote = quoteNeeded
	} else {
		if takeBase, err = fixedpoint.MulDivFloor(quote, pool.BaseBalance, pool.QuoteBalance); err != nil {
			return LiquidityResult{}, err
		}
	}
	if takeBase.IsZero() || takeQuote.IsZero() {
		return LiquidityResult{}, fmt.Errorf("deposit %s/%s into pool %d: %w", base, quote, pool.ID, ErrInvalidAmount)
	}

	lp, err := proportionalMint(pool, takeBase, takeQuote)
	if err != nil {
		return LiquidityResult{}, err
	}
	if lp.IsZero() {
		return LiquidityResult{}, fmt.Errorf("deposit %s/%s mints nothing: %w", takeBase, takeQuote, ErrInvalidAmount)
	}
	return LiquidityResult{BaseAmount: takeBase, QuoteAmount: takeQuote, LPAmount: lp}, nil
}

// proportionalMint is floor(S * min(b/B, q/Q)).
func proportionalMint(pool Pool, base, quote decimal.Decimal) (decimal.Decimal, error) {
	byBase, err := fixedpoint.MulDivFloor(pool.LPSupply, base, pool.BaseBalance)
	if err != nil {
		return decimal.Zero, err
	}
	byQuote, err := fixedpoint.MulDivFloor(pool.LPSupply, quote, pool.QuoteBalance)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.Min(byBase, byQuote), nil
}

// RemoveLiquidity prices burning lp tokens: each side pays out floor(balance*lp/S).
func RemoveLiquidity(pool Pool, lp decimal.Decimal) (LiquidityResult, error) {
	if lp.Sign() <= 0 {
		return LiquidityResult{}, fmt.Errorf("burn %s: %w", lp, ErrInvalidAmount)
	}
	if lp.GreaterThan(pool.LPSupply) {
		return LiquidityResult{}, fmt.Errorf("burn %s of %s in pool %d: %w", lp, pool.LPSupply, pool.ID, ErrInsufficientLiquidity)
	}
	base, err := fixedpoint.MulDivFloor(pool.BaseBalance, lp, pool.LPSupply)
	if err != nil {
		return LiquidityResult{}, err
	}
	quote, err := fixedpoint.MulDivFloor(pool.QuoteBalance, lp, pool.LPSupply)
	if err != nil {
		return LiquidityResult{}, err
	}
	return LiquidityResult{BaseAmount: base, QuoteAmount: quote, LPAmount: lp, Remove: true}, nil
}

// ApplyLiquidity returns pool after res settled.
func ApplyLiquidity(pool Pool, res LiquidityResult) Pool {
	if res.Remove {
		pool.BaseBalance = pool.BaseBalance.Sub(res.BaseAmount)
		pool.QuoteBalance = pool.QuoteBalance.Sub(res.QuoteAmount)
		pool.LPSupply = pool.LPSupply.Sub(res.LPAmount)
		return pool
	}
	pool.BaseBalance = pool.BaseBalance.Add(res.BaseAmount)
	pool.QuoteBalance = pool.QuoteBalance.Add(res.QuoteAmount)
	pool.LPSupply = pool.LPSupply.Add(res.LPAmount)
	return pool
}
