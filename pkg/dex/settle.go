package dex

import (
	"fmt"

	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/composable-labs/pablox/pkg/events"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Swap sells amountIn of assetIn for as much assetOut as the pool pays, failing with
// ErrCannotRespectMinimumRequested when that is less than minReceive.
func (e *Exchange) Swap(account string, poolID uint64, assetIn, assetOut amm.AssetID, amountIn, minReceive decimal.Decimal) (events.Event, error) {
	return e.trade(account, poolID, amm.SwapRequest{
		Direction: amm.ExactIn,
		AssetIn:   assetIn,
		AssetOut:  assetOut,
		Amount:    amountIn,
	}, minReceive)
}

// Buy receives exactly amountOut of assetOut, paying whatever assetIn the pool charges plus the fee.
func (e *Exchange) Buy(account string, poolID uint64, assetIn, assetOut amm.AssetID, amountOut decimal.Decimal) (events.Event, error) {
	return e.trade(account, poolID, amm.SwapRequest{
		Direction: amm.ExactOut,
		AssetIn:   assetIn,
		AssetOut:  assetOut,
		Amount:    amountOut,
	}, decimal.Zero)
}

func (e *Exchange) trade(account string, poolID uint64, req amm.SwapRequest, minReceive decimal.Decimal) (events.Event, error) {
	en, err := e.lookup(poolID)
	if err != nil {
		return events.Event{}, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	res, err := amm.Quote(en.pool, req)
	if err != nil {
		return events.Event{}, err
	}
	if res.AmountOut.LessThan(minReceive) {
		return events.Event{}, fmt.Errorf("pool %d pays %s, minimum %s: %w", poolID, res.AmountOut, minReceive, ErrCannotRespectMinimumRequested)
	}
	after := amm.ApplySwap(en.pool, res)
	if err := amm.CheckSwap(en.pool, after); err != nil {
		return events.Event{}, err
	}
	en.pool = after

	ev := e.event(events.KindSwapped, poolID, account)
	ev.Swapped = &events.Swapped{
		AssetIn:   res.AssetIn,
		AssetOut:  res.AssetOut,
		AmountIn:  res.AmountIn,
		AmountOut: res.AmountOut,
		Fee:       res.Fee,
		FeeAsset:  res.AssetIn,
		FeeSplit:  true,
		Direction: res.Direction,
	}
	e.logger.Debug("swapped",
		zap.Uint64("pool_id", poolID),
		zap.String("account", account),
		zap.String("direction", string(res.Direction)),
		zap.String("amount_in", res.AmountIn.String()),
		zap.String("amount_out", res.AmountOut.String()),
		zap.String("fee", res.Fee.Total.String()),
	)
	return ev, nil
}

// AddLiquidity deposits up to base/quote, re-proportioned to the pool ratio, and credits the
// minted LP tokens to account.
func (e *Exchange) AddLiquidity(account string, poolID uint64, base, quote, minMint decimal.Decimal) (events.Event, error) {
	en, err := e.lookup(poolID)
	if err != nil {
		return events.Event{}, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	res, err := amm.AddLiquidity(en.pool, base, quote)
	if err != nil {
		return events.Event{}, err
	}
	if res.LPAmount.LessThan(minMint) {
		return events.Event{}, fmt.Errorf("pool %d mints %s, minimum %s: %w", poolID, res.LPAmount, minMint, ErrCannotRespectMinimumRequested)
	}
	after := amm.ApplyLiquidity(en.pool, res)
	if err := amm.CheckRatio(en.pool, after); err != nil {
		return events.Event{}, err
	}
	en.pool = after
	en.holders[account] = en.holders[account].Add(res.LPAmount)

	ev := e.event(events.KindLiquidityAdded, poolID, account)
	ev.LiquidityAdded = &events.LiquidityAdded{
		PairAmounts: pairAmounts(after, res),
		MintedLP:    res.LPAmount,
	}
	e.logger.Debug("liquidity added",
		zap.Uint64("pool_id", poolID),
		zap.String("account", account),
		zap.String("base", res.BaseAmount.String()),
		zap.String("quote", res.QuoteAmount.String()),
		zap.String("minted", res.LPAmount.String()),
	)
	return ev, nil
}

// RemoveLiquidity burns lp of account's tokens and pays out both sides pro rata.
func (e *Exchange) RemoveLiquidity(account string, poolID uint64, lp, minBase, minQuote decimal.Decimal) (events.Event, error) {
	en, err := e.lookup(poolID)
	if err != nil {
		return events.Event{}, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()

	held := en.holders[account]
	if held.LessThan(lp) {
		return events.Event{}, fmt.Errorf("%s holds %s of pool %d, burning %s: %w", account, held, poolID, lp, ErrNotEnoughLPTokens)
	}
	res, err := amm.RemoveLiquidity(en.pool, lp)
	if err != nil {
		return events.Event{}, err
	}
	if res.BaseAmount.LessThan(minBase) || res.QuoteAmount.LessThan(minQuote) {
		return events.Event{}, fmt.Errorf("pool %d pays %s/%s, minimum %s/%s: %w", poolID,
			res.BaseAmount, res.QuoteAmount, minBase, minQuote, ErrCannotRespectMinimumRequested)
	}
	after := amm.ApplyLiquidity(en.pool, res)
	if err := amm.CheckRatio(en.pool, after); err != nil {
		return events.Event{}, err
	}
	en.pool = after
	if left := held.Sub(lp); left.IsZero() {
		delete(en.holders, account)
	} else {
		en.holders[account] = left
	}

	ev := e.event(events.KindLiquidityRemoved, poolID, account)
	ev.LiquidityRemoved = &events.LiquidityRemoved{
		PairAmounts: pairAmounts(after, res),
		BurnedLP:    lp,
	}
	e.logger.Debug("liquidity removed",
		zap.Uint64("pool_id", poolID),
		zap.String("account", account),
		zap.String("base", res.BaseAmount.String()),
		zap.String("quote", res.QuoteAmount.String()),
		zap.String("burned", lp.String()),
	)
	return ev, nil
}

func pairAmounts(pool amm.Pool, res amm.LiquidityResult) events.PairAmounts {
	return events.PairAmounts{
		ByAsset: map[amm.AssetID]decimal.Decimal{
			pool.BaseAsset:  res.BaseAmount,
			pool.QuoteAsset: res.QuoteAmount,
		},
		BaseAmount:  res.BaseAmount,
		QuoteAmount: res.QuoteAmount,
	}
}
