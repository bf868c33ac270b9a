// Package oracle recomputes settlements reported by the chain and flags the ones the pricing
// engine disagrees with.
package oracle

import (
	"errors"
	"fmt"

	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/composable-labs/pablox/pkg/events"
	"github.com/composable-labs/pablox/pkg/fixedpoint"
	"github.com/shopspring/decimal"
)

// DefaultTolerance is the largest accepted difference, in whole units, between a reported amount
// and its recomputation.
var DefaultTolerance = fixedpoint.One

// Verdict is the outcome of checking one event against the pool state before it.
// Field, Expected, Reported and Deviation describe the first mismatch, or the primary amount when OK.
type Verdict struct {
	PoolID    uint64          `json:"poolId"`
	Height    uint64          `json:"height"`
	Index     uint32          `json:"index"`
	Kind      events.Kind     `json:"kind"`
	OK        bool            `json:"ok"`
	Field     string          `json:"field,omitempty"`
	Expected  decimal.Decimal `json:"expected"`
	Reported  decimal.Decimal `json:"reported"`
	Deviation decimal.Decimal `json:"deviation"`
	Reason    string          `json:"reason,omitempty"`
}

func newVerdict(ev events.Event) Verdict {
	return Verdict{PoolID: ev.PoolID, Height: ev.Height, Index: ev.Index, Kind: ev.Kind, OK: true}
}

func (v Verdict) fail(field, reason string) Verdict {
	v.OK = false
	v.Field = field
	v.Reason = reason
	return v
}

type Verifier struct {
	Tolerance decimal.Decimal
}

func NewVerifier(tolerance decimal.Decimal) Verifier {
	if tolerance.IsNegative() {
		tolerance = DefaultTolerance
	}
	return Verifier{Tolerance: tolerance}
}

// compare records field on v and fails it when reported is further than the tolerance from expected.
func (vf Verifier) compare(v Verdict, field string, expected, reported decimal.Decimal) Verdict {
	v.Field = field
	v.Expected = expected
	v.Reported = reported
	v.Deviation = reported.Sub(expected)
	if v.Deviation.Abs().GreaterThan(vf.Tolerance) {
		return v.fail(field, fmt.Sprintf("%s reported %s, recomputed %s", field, reported, expected))
	}
	return v
}

// VerifySwap recomputes a Swapped event. Events that do not say which side was fixed are
// checked as exact-in first and as exact-out when that does not match.
func (vf Verifier) VerifySwap(pre amm.Pool, ev events.Event) Verdict {
	v := newVerdict(ev)
	s := ev.Swapped
	if s == nil {
		return v.fail("", "missing swap payload")
	}

	switch s.Direction {
	case amm.ExactIn, amm.ExactOut:
		v = vf.verifyDirection(pre, *s, s.Direction, v)
	default:
		v = vf.verifyDirection(pre, *s, amm.ExactIn, v)
		if !v.OK {
			if out := vf.verifyDirection(pre, *s, amm.ExactOut, newVerdict(ev)); out.OK {
				v = out
			}
		}
	}
	if !v.OK {
		return v
	}
	return vf.verifyInvariant(pre, *s, v)
}

func (vf Verifier) verifyDirection(pre amm.Pool, s events.Swapped, dir amm.Direction, v Verdict) Verdict {
	req := amm.SwapRequest{Direction: dir, AssetIn: s.AssetIn, AssetOut: s.AssetOut}
	if dir == amm.ExactIn {
		req.Amount = s.AmountIn
	} else {
		req.Amount = s.AmountOut
	}
	res, err := amm.Quote(pre, req)
	if err != nil {
		return v.fail("", err.Error())
	}

	if dir == amm.ExactIn {
		v = vf.compare(v, "amountOut", res.AmountOut, s.AmountOut)
	} else {
		v = vf.compare(v, "amountIn", res.AmountIn, s.AmountIn)
	}
	if !v.OK {
		return v
	}
	primary := v

	if v = vf.compare(v, "fee", res.Fee.Total, s.Fee.Total); !v.OK {
		return v
	}
	if s.FeeSplit {
		if v = vf.compare(v, "protocolFee", res.Fee.Protocol, s.Fee.Protocol); !v.OK {
			return v
		}
		if v = vf.compare(v, "lpFee", res.Fee.LP, s.Fee.LP); !v.OK {
			return v
		}
	}
	return primary
}

// verifyInvariant applies the reported trade, forgiving the tolerance on the paid-out side,
// and fails when value still leaked out of the pool.
func (vf Verifier) verifyInvariant(pre amm.Pool, s events.Swapped, v Verdict) Verdict {
	res := s.Result(pre)
	res.AmountOut = decimal.Max(decimal.Zero, res.AmountOut.Sub(vf.Tolerance))
	if err := amm.CheckSwap(pre, amm.ApplySwap(pre, res)); err != nil {
		if errors.Is(err, amm.ErrInvariantViolated) {
			return v.fail("invariant", err.Error())
		}
		return v.fail("", err.Error())
	}
	return v
}

// VerifyLiquidityAdded checks the LP mint and that the deposit kept the pool ratio.
func (vf Verifier) VerifyLiquidityAdded(pre amm.Pool, ev events.Event) Verdict {
	v := newVerdict(ev)
	la := ev.LiquidityAdded
	if la == nil {
		return v.fail("", "missing liquidity payload")
	}
	res, err := la.Result(pre)
	if err != nil {
		return v.fail("", err.Error())
	}
	expected, err := amm.ExpectedMint(pre, res.BaseAmount, res.QuoteAmount)
	if err != nil {
		return v.fail("", err.Error())
	}
	if v = vf.compare(v, "mintedLp", expected, res.LPAmount); !v.OK {
		return v
	}
	primary := v

	after := amm.ApplyLiquidity(pre, res)
	if err := amm.CheckRatio(pre, after); err != nil {
		v = v.fail("ratio", err.Error())
		if dev, derr := amm.RatioDeviation(pre, after); derr == nil {
			v.Expected, v.Reported, v.Deviation = decimal.Zero, dev, dev
		}
		return v
	}
	return primary
}

// VerifyLiquidityRemoved checks both payouts against the burned LP share.
func (vf Verifier) VerifyLiquidityRemoved(pre amm.Pool, ev events.Event) Verdict {
	v := newVerdict(ev)
	lr := ev.LiquidityRemoved
	if lr == nil {
		return v.fail("", "missing liquidity payload")
	}
	reported, err := lr.Result(pre)
	if err != nil {
		return v.fail("", err.Error())
	}
	expected, err := amm.RemoveLiquidity(pre, reported.LPAmount)
	if err != nil {
		return v.fail("", err.Error())
	}
	if v = vf.compare(v, "baseAmount", expected.BaseAmount, reported.BaseAmount); !v.OK {
		return v
	}
	primary := v
	if v = vf.compare(v, "quoteAmount", expected.QuoteAmount, reported.QuoteAmount); !v.OK {
		return v
	}
	return primary
}

// Verify dispatches on the event kind. Events that are not settlements yield ok=false.
func (vf Verifier) Verify(pre amm.Pool, ev events.Event) (Verdict, bool) {
	switch ev.Kind {
	case events.KindSwapped:
		return vf.VerifySwap(pre, ev), true
	case events.KindLiquidityAdded:
		return vf.VerifyLiquidityAdded(pre, ev), true
	case events.KindLiquidityRemoved:
		return vf.VerifyLiquidityRemoved(pre, ev), true
	}
	return Verdict{}, false
}
