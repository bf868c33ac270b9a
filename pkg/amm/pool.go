// Package amm prices trades and liquidity operations against a two-asset weighted
// constant-product pool. Every function here is pure: callers pass a Pool snapshot in and get
// results (or a new snapshot) back, so the package is safe for concurrent use.
package amm

import (
	"fmt"
	"strconv"

	"github.com/composable-labs/pablox/pkg/fixedpoint"
	"github.com/shopspring/decimal"
)

// AssetID identifies a token on chain.
type AssetID uint64

func (a AssetID) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// Pool is a snapshot of a two-asset weighted pool.
// Balances and LPSupply are whole units; weights are fractions that sum to 1.
type Pool struct {
	ID            uint64          `json:"id"`
	Owner         string          `json:"owner,omitempty"`
	BaseAsset     AssetID         `json:"baseAsset"`
	QuoteAsset    AssetID         `json:"quoteAsset"`
	BaseBalance   decimal.Decimal `json:"baseBalance"`
	QuoteBalance  decimal.Decimal `json:"quoteBalance"`
	BaseWeight    decimal.Decimal `json:"baseWeight"`
	QuoteWeight   decimal.Decimal `json:"quoteWeight"`
	Fee           FeeConfig       `json:"fee"`
	LPSupply      decimal.Decimal `json:"lpSupply"`
	BaseDecimals  uint8           `json:"baseDecimals"`
	QuoteDecimals uint8           `json:"quoteDecimals"`
}

// NormalizeWeights turns raw weights (e.g. 5 and 5, or 80 and 20) into fractions summing exactly to 1.
func NormalizeWeights(base, quote decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if base.Sign() <= 0 || quote.Sign() <= 0 {
		return decimal.Zero, decimal.Zero, fmt.Errorf("weights %s/%s: %w", base, quote, ErrInvalidWeight)
	}
	wb, err := fixedpoint.Div(base, base.Add(quote))
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return wb, fixedpoint.One.Sub(wb), nil
}

// Validate checks the structural invariants of a pool configuration.
func (p Pool) Validate() error {
	if p.BaseAsset == p.QuoteAsset {
		return fmt.Errorf("pool %d pairs asset %s with itself: %w", p.ID, p.BaseAsset, ErrAssetNotFound)
	}
	if p.BaseWeight.Sign() <= 0 || p.QuoteWeight.Sign() <= 0 {
		return fmt.Errorf("pool %d weights %s/%s: %w", p.ID, p.BaseWeight, p.QuoteWeight, ErrInvalidWeight)
	}
	if !p.BaseWeight.Add(p.QuoteWeight).Equal(fixedpoint.One) {
		return fmt.Errorf("pool %d weights %s/%s do not sum to 1: %w", p.ID, p.BaseWeight, p.QuoteWeight, ErrInvalidWeight)
	}
	if p.BaseBalance.IsNegative() || p.QuoteBalance.IsNegative() || p.LPSupply.IsNegative() {
		return fmt.Errorf("pool %d has negative balance: %w", p.ID, ErrInvalidAmount)
	}
	if err := p.Fee.Validate(); err != nil {
		return fmt.Errorf("pool %d: %w", p.ID, err)
	}
	return nil
}

// HasAsset reports whether asset is one of the pool's two sides.
func (p Pool) HasAsset(asset AssetID) bool {
	return asset == p.BaseAsset || asset == p.QuoteAsset
}

// Balance returns the reserve held for asset.
func (p Pool) Balance(asset AssetID) (decimal.Decimal, error) {
	switch asset {
	case p.BaseAsset:
		return p.BaseBalance, nil
	case p.QuoteAsset:
		return p.QuoteBalance, nil
	}
	return decimal.Zero, fmt.Errorf("asset %s in pool %d: %w", asset, p.ID, ErrAssetNotFound)
}

type side struct {
	balanceIn, balanceOut decimal.Decimal
	weightIn, weightOut   decimal.Decimal
	inIsBase              bool
}

func (p Pool) sides(assetIn, assetOut AssetID) (side, error) {
	switch {
	case assetIn == p.BaseAsset && assetOut == p.QuoteAsset:
		return side{p.BaseBalance, p.QuoteBalance, p.BaseWeight, p.QuoteWeight, true}, nil
	case assetIn == p.QuoteAsset && assetOut == p.BaseAsset:
		return side{p.QuoteBalance, p.BaseBalance, p.QuoteWeight, p.BaseWeight, false}, nil
	}
	return side{}, fmt.Errorf("pair %s/%s in pool %d: %w", assetIn, assetOut, p.ID, ErrAssetNotFound)
}

// Price is the marginal quote units paid per base unit, in raw on-chain units.
func (p Pool) Price() (decimal.Decimal, error) {
	return SpotPrice(p.QuoteBalance, p.BaseBalance, p.QuoteWeight, p.BaseWeight)
}

// DisplayPrice is Price adjusted for the decimals of both assets.
func (p Pool) DisplayPrice() (decimal.Decimal, error) {
	price, err := p.Price()
	if err != nil {
		return decimal.Zero, err
	}
	shift := int32(p.BaseDecimals) - int32(p.QuoteDecimals)
	return price.Shift(shift).Round(fixedpoint.Precision), nil
}
