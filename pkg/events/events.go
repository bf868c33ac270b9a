package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/shopspring/decimal"
)

// Kind identifies a DEX settlement event.
type Kind string

const (
	KindPoolCreated      Kind = "PoolCreated"
	KindSwapped          Kind = "Swapped"
	KindLiquidityAdded   Kind = "LiquidityAdded"
	KindLiquidityRemoved Kind = "LiquidityRemoved"
	KindPoolDeleted      Kind = "PoolDeleted"
)

// CurrentLayoutVersion is the first runtime spec version emitting the current event layouts.
// Anything older is decoded with the legacy layouts.
const CurrentLayoutVersion uint32 = 2401

var (
	ErrUnknownEvent   = errors.New("unknown event")
	ErrMalformedEvent = errors.New("malformed event payload")
)

// RawEvent is a settlement event as the chain RPC returns it.
type RawEvent struct {
	Name        string          `json:"name"`
	SpecVersion uint32          `json:"specVersion"`
	Height      uint64          `json:"height"`
	Index       uint32          `json:"index"`
	Data        json.RawMessage `json:"data"`
}

// Event is a decoded settlement event. Exactly one payload pointer is set, matching Kind.
type Event struct {
	Kind    Kind   `json:"kind"`
	Height  uint64 `json:"height"`
	Index   uint32 `json:"index"`
	PoolID  uint64 `json:"poolId"`
	Account string `json:"account,omitempty"`
	// Legacy is set when the payload came from a pre-CurrentLayoutVersion runtime.
	Legacy bool `json:"legacy,omitempty"`

	PoolCreated      *PoolCreated      `json:"poolCreated,omitempty"`
	Swapped          *Swapped          `json:"swapped,omitempty"`
	LiquidityAdded   *LiquidityAdded   `json:"liquidityAdded,omitempty"`
	LiquidityRemoved *LiquidityRemoved `json:"liquidityRemoved,omitempty"`
	PoolDeleted      *PoolDeleted      `json:"poolDeleted,omitempty"`
}

// Key orders events within the chain.
func (e Event) Key() string {
	return fmt.Sprintf("%d-%d", e.Height, e.Index)
}

type PoolCreated struct {
	Pool amm.Pool `json:"pool"`
}

// Swapped is one settled trade. AmountIn is gross and the fee is paid in FeeAsset.
type Swapped struct {
	AssetIn   amm.AssetID      `json:"assetIn"`
	AssetOut  amm.AssetID      `json:"assetOut"`
	AmountIn  decimal.Decimal  `json:"amountIn"`
	AmountOut decimal.Decimal  `json:"amountOut"`
	Fee       amm.FeeBreakdown `json:"fee"`
	FeeAsset  amm.AssetID      `json:"feeAsset"`
	// FeeSplit is false when only the total fee was reported.
	FeeSplit bool `json:"feeSplit"`
	// Direction is empty when the event does not say which side was fixed.
	Direction amm.Direction `json:"direction,omitempty"`
}

// Result converts the event into the shape amm.ApplySwap consumes, splitting an
// unsplit fee with the pool's own configuration.
func (s Swapped) Result(pool amm.Pool) amm.SwapResult {
	fee := s.Fee
	if !s.FeeSplit {
		fee = pool.Fee.Split(s.Fee.Total)
	}
	return amm.SwapResult{
		AssetIn:   s.AssetIn,
		AssetOut:  s.AssetOut,
		AmountIn:  s.AmountIn,
		AmountOut: s.AmountOut,
		Fee:       fee,
		Direction: s.Direction,
	}
}

// PairAmounts holds the two sides of a liquidity movement. Current layouts key the amounts by
// asset, legacy layouts report them positionally as base then quote.
type PairAmounts struct {
	ByAsset     map[amm.AssetID]decimal.Decimal `json:"byAsset,omitempty"`
	BaseAmount  decimal.Decimal                 `json:"baseAmount"`
	QuoteAmount decimal.Decimal                 `json:"quoteAmount"`
}

// Resolve returns the base and quote amounts as seen by pool.
func (p PairAmounts) Resolve(pool amm.Pool) (base, quote decimal.Decimal, err error) {
	if p.ByAsset == nil {
		return p.BaseAmount, p.QuoteAmount, nil
	}
	for asset := range p.ByAsset {
		if !pool.HasAsset(asset) {
			return decimal.Zero, decimal.Zero, fmt.Errorf("asset %s in pool %d: %w", asset, pool.ID, amm.ErrAssetNotFound)
		}
	}
	return p.ByAsset[pool.BaseAsset], p.ByAsset[pool.QuoteAsset], nil
}

type LiquidityAdded struct {
	PairAmounts
	MintedLP decimal.Decimal `json:"mintedLp"`
}

// Result converts the event into the shape amm.ApplyLiquidity consumes.
func (l LiquidityAdded) Result(pool amm.Pool) (amm.LiquidityResult, error) {
	base, quote, err := l.Resolve(pool)
	if err != nil {
		return amm.LiquidityResult{}, err
	}
	return amm.LiquidityResult{BaseAmount: base, QuoteAmount: quote, LPAmount: l.MintedLP}, nil
}

type LiquidityRemoved struct {
	PairAmounts
	BurnedLP decimal.Decimal `json:"burnedLp"`
}

// Result converts the event into the shape amm.ApplyLiquidity consumes.
func (l LiquidityRemoved) Result(pool amm.Pool) (amm.LiquidityResult, error) {
	base, quote, err := l.Resolve(pool)
	if err != nil {
		return amm.LiquidityResult{}, err
	}
	return amm.LiquidityResult{BaseAmount: base, QuoteAmount: quote, LPAmount: l.BurnedLP, Remove: true}, nil
}

// PoolDeleted only exists in legacy runtimes.
type PoolDeleted struct {
	BaseAmount  decimal.Decimal `json:"baseAmount"`
	QuoteAmount decimal.Decimal `json:"quoteAmount"`
}
