package amm

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Direction says which side of a trade the caller fixes.
type Direction string

const (
	// ExactIn fixes the amount paid in; the fee is taken from it before pricing.
	ExactIn Direction = "exact-in"
	// ExactOut fixes the amount received; the fee is added on top of the priced input.
	ExactOut Direction = "exact-out"
)

// ParseDirection accepts "exact-in" and "exact-out". An empty string means exact-in.
func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case ExactIn, "":
		return ExactIn, nil
	case ExactOut:
		return ExactOut, nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidDirection)
}

type SwapRequest struct {
	Direction Direction       `json:"direction"`
	AssetIn   AssetID         `json:"assetIn"`
	AssetOut  AssetID         `json:"assetOut"`
	Amount    decimal.Decimal `json:"amount"`
}

// SwapResult is a priced trade. AmountIn is gross, fee included; the fee is denominated in AssetIn.
type SwapResult struct {
	AssetIn   AssetID         `json:"assetIn"`
	AssetOut  AssetID         `json:"assetOut"`
	AmountIn  decimal.Decimal `json:"amountIn"`
	AmountOut decimal.Decimal `json:"amountOut"`
	Fee       FeeBreakdown    `json:"fee"`
	Direction Direction       `json:"direction"`
}

// Quote prices req against pool without mutating it.
func Quote(pool Pool, req SwapRequest) (SwapResult, error) {
	s, err := pool.sides(req.AssetIn, req.AssetOut)
	if err != nil {
		return SwapResult{}, err
	}
	if req.Amount.IsNegative() {
		return SwapResult{}, fmt.Errorf("amount %s: %w", req.Amount, ErrInvalidAmount)
	}
	res := SwapResult{AssetIn: req.AssetIn, AssetOut: req.AssetOut, Direction: req.Direction}

	switch req.Direction {
	case ExactIn, "":
		res.Direction = ExactIn
		net, fee := ApplyFee(req.Amount, pool.Fee.FeeRate)
		out, err := OutGivenIn(s.balanceIn, s.balanceOut, net, s.weightIn, s.weightOut)
		if err != nil {
			return SwapResult{}, fmt.Errorf("pool %d: %w", pool.ID, err)
		}
		res.AmountIn = req.Amount
		res.AmountOut = out
		res.Fee = pool.Fee.Split(fee)
	case ExactOut:
		in, err := InGivenOut(s.balanceIn, s.balanceOut, req.Amount, s.weightIn, s.weightOut)
		if err != nil {
			return SwapResult{}, fmt.Errorf("pool %d: %w", pool.ID, err)
		}
		gross, fee, err := GrossUp(in, pool.Fee.FeeRate)
		if err != nil {
			return SwapResult{}, fmt.Errorf("pool %d: %w", pool.ID, err)
		}
		res.AmountIn = gross
		res.AmountOut = req.Amount
		res.Fee = pool.Fee.Split(fee)
	default:
		return SwapResult{}, fmt.Errorf("%q: %w", req.Direction, ErrInvalidDirection)
	}
	return res, nil
}

// ApplySwap returns pool after res settled. The LP fee stays in the pool, the protocol fee leaves it.
func ApplySwap(pool Pool, res SwapResult) Pool {
	kept := res.AmountIn.Sub(res.Fee.Protocol)
	if res.AssetIn == pool.BaseAsset {
		pool.BaseBalance = pool.BaseBalance.Add(kept)
		pool.QuoteBalance = pool.QuoteBalance.Sub(res.AmountOut)
	} else {
		pool.QuoteBalance = pool.QuoteBalance.Add(kept)
		pool.BaseBalance = pool.BaseBalance.Sub(res.AmountOut)
	}
	return pool
}
