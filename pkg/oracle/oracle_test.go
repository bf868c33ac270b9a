package oracle

import (
	"testing"

	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/composable-labs/pablox/pkg/dex"
	"github.com/composable-labs/pablox/pkg/events"
	"github.com/composable-labs/pablox/pkg/fixedpoint"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const (
	pica amm.AssetID = 1
	usdt amm.AssetID = 130
)

func d(s string) decimal.Decimal { return fixedpoint.MustParse(s) }

// settled runs a short session on an exchange and returns every event it emitted.
func settled(t *testing.T) []events.Event {
	t.Helper()
	ex := dex.NewExchange(zaptest.NewLogger(t))
	var out []events.Event
	record := func(ev events.Event, err error) {
		t.Helper()
		require.NoError(t, err)
		out = append(out, ev)
	}
	record(ex.CreatePool(dex.CreatePoolParams{
		Owner: "alice", BaseAsset: pica, QuoteAsset: usdt,
		BaseWeight: d("5"), QuoteWeight: d("5"),
		FeeRate: d("0.003"), ProtocolShare: d("0.2"),
	}))
	id := out[0].PoolID
	record(ex.AddLiquidity("alice", id, d("10000000000000000"), d("100000000000"), decimal.Zero))
	record(ex.Swap("bob", id, usdt, pica, d("100000000"), decimal.Zero))
	record(ex.Buy("bob", id, pica, usdt, d("5000000")))
	record(ex.AddLiquidity("carol", id, d("100000000000000"), d("90000000000"), decimal.Zero))
	record(ex.RemoveLiquidity("alice", id, d("1000000000000"), decimal.Zero, decimal.Zero))
	return out
}

func TestBookReplaysHonestSession(t *testing.T) {
	book := NewBook(NewVerifier(DefaultTolerance), zaptest.NewLogger(t))
	evs := settled(t)

	verdicts := 0
	for _, ev := range evs {
		v, ok, err := book.Apply(ev)
		require.NoError(t, err)
		if !ok {
			continue
		}
		verdicts++
		assert.True(t, v.OK, "%s %s: %s", ev.Kind, v.Field, v.Reason)
		assert.Equal(t, ev.PoolID, v.PoolID)
		assert.Equal(t, ev.Kind, v.Kind)
	}
	assert.Equal(t, 5, verdicts)
	assert.Len(t, book.Pools(), 1)
}

func TestVerifySwapFlagsOverpayment(t *testing.T) {
	evs := settled(t)
	book := NewBook(NewVerifier(DefaultTolerance), nil)
	for _, ev := range evs[:2] {
		_, _, err := book.Apply(ev)
		require.NoError(t, err)
	}

	swap := evs[2]
	tampered := *swap.Swapped
	tampered.AmountOut = tampered.AmountOut.Add(d("2"))
	swap.Swapped = &tampered

	v, ok, err := book.Apply(swap)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, v.OK)
	assert.Equal(t, "amountOut", v.Field)
	assert.Equal(t, "2", v.Deviation.String())
	assert.Equal(t, "9960069810399", v.Expected.String())

	// the book follows what the chain reported
	pool, found := book.Pool(swap.PoolID)
	require.True(t, found)
	assert.Equal(t, d("10000000000000000").Sub(tampered.AmountOut).String(), pool.BaseBalance.String())
}

func TestVerifySwapToleratesOneUnit(t *testing.T) {
	evs := settled(t)
	book := NewBook(NewVerifier(DefaultTolerance), nil)
	for _, ev := range evs[:2] {
		_, _, err := book.Apply(ev)
		require.NoError(t, err)
	}
	pre, _ := book.Pool(evs[2].PoolID)

	swap := evs[2]
	s := *swap.Swapped
	s.AmountOut = s.AmountOut.Sub(d("1"))
	swap.Swapped = &s
	v := book.verifier.VerifySwap(pre, swap)
	assert.True(t, v.OK, v.Reason)
	assert.Equal(t, "-1", v.Deviation.String())
}

func TestVerifySwapFee(t *testing.T) {
	evs := settled(t)
	book := NewBook(NewVerifier(DefaultTolerance), nil)
	for _, ev := range evs[:2] {
		_, _, err := book.Apply(ev)
		require.NoError(t, err)
	}
	pre, _ := book.Pool(evs[2].PoolID)

	swap := evs[2]
	s := *swap.Swapped
	s.Fee.Protocol = s.Fee.Protocol.Add(d("10"))
	s.Fee.LP = s.Fee.LP.Sub(d("10"))
	swap.Swapped = &s
	v := book.verifier.VerifySwap(pre, swap)
	assert.False(t, v.OK)
	assert.Equal(t, "protocolFee", v.Field)
}

func TestVerifySwapWithoutDirection(t *testing.T) {
	evs := settled(t)
	book := NewBook(NewVerifier(DefaultTolerance), nil)
	for _, ev := range evs[:3] {
		_, _, err := book.Apply(ev)
		require.NoError(t, err)
	}
	pre, _ := book.Pool(evs[3].PoolID)

	buy := evs[3]
	s := *buy.Swapped
	s.Direction = ""
	buy.Swapped = &s
	v := book.verifier.VerifySwap(pre, buy)
	assert.True(t, v.OK, v.Reason)

	// paying far more than the pool charges is neither a valid exact-in nor exact-out trade
	s.AmountIn = s.AmountIn.Mul(d("2"))
	v = book.verifier.VerifySwap(pre, buy)
	assert.False(t, v.OK)
	assert.Equal(t, "amountOut", v.Field)
}

func TestVerifyLegacySwap(t *testing.T) {
	pool := amm.Pool{
		ID: 1, BaseAsset: pica, QuoteAsset: usdt,
		BaseBalance: d("10000000000000000"), QuoteBalance: d("100000000000"),
		BaseWeight: d("0.5"), QuoteWeight: d("0.5"),
		Fee:      amm.FeeConfig{FeeRate: d("0.003"), ProtocolShare: d("0")},
		LPSupply: d("31622776601683"),
	}
	ev, err := events.Decode(events.RawEvent{Name: "Swapped", SpecVersion: 2300, Height: 10, Data: []byte(`{
		"poolId": 1, "who": "bob", "baseAsset": 1, "quoteAsset": 130,
		"baseAmount": "9960069810399", "quoteAmount": "100000000", "fee": "300000"
	}`)})
	require.NoError(t, err)

	v := NewVerifier(DefaultTolerance).VerifySwap(pool, ev)
	assert.True(t, v.OK, v.Reason)
	assert.Equal(t, uint64(10), v.Height)
}

func TestVerifyLiquidity(t *testing.T) {
	evs := settled(t)
	book := NewBook(NewVerifier(DefaultTolerance), nil)
	for _, ev := range evs[:4] {
		_, _, err := book.Apply(ev)
		require.NoError(t, err)
	}
	pre, _ := book.Pool(evs[4].PoolID)
	vf := book.verifier

	t.Run("inflated mint", func(t *testing.T) {
		add := evs[4]
		la := *add.LiquidityAdded
		la.MintedLP = la.MintedLP.Add(d("5"))
		add.LiquidityAdded = &la
		v := vf.VerifyLiquidityAdded(pre, add)
		assert.False(t, v.OK)
		assert.Equal(t, "mintedLp", v.Field)
	})

	t.Run("skewed deposit", func(t *testing.T) {
		add := evs[4]
		la := *add.LiquidityAdded
		la.ByAsset = map[amm.AssetID]decimal.Decimal{
			pica: la.ByAsset[pica],
			usdt: la.ByAsset[usdt].Mul(d("2")),
		}
		add.LiquidityAdded = &la
		v := vf.VerifyLiquidityAdded(pre, add)
		assert.False(t, v.OK)
		assert.Equal(t, "ratio", v.Field)
		assert.True(t, v.Deviation.IsPositive())
	})

	t.Run("short payout", func(t *testing.T) {
		_, _, err := book.Apply(evs[4])
		require.NoError(t, err)
		pre, _ := book.Pool(evs[5].PoolID)

		rm := evs[5]
		lr := *rm.LiquidityRemoved
		lr.ByAsset = map[amm.AssetID]decimal.Decimal{
			pica: lr.ByAsset[pica],
			usdt: lr.ByAsset[usdt].Sub(d("3")),
		}
		rm.LiquidityRemoved = &lr
		v := vf.VerifyLiquidityRemoved(pre, rm)
		assert.False(t, v.OK)
		assert.Equal(t, "quoteAmount", v.Field)
		assert.Equal(t, "-3", v.Deviation.String())
	})
}

func TestBookUntrackedPoolAndDrift(t *testing.T) {
	evs := settled(t)
	book := NewBook(NewVerifier(DefaultTolerance), nil)

	_, _, err := book.Apply(evs[2])
	assert.ErrorIs(t, err, ErrPoolNotTracked)

	for _, ev := range evs {
		_, _, err := book.Apply(ev)
		require.NoError(t, err)
	}
	pool, _ := book.Pool(evs[0].PoolID)
	assert.Empty(t, book.Drift([]amm.Pool{pool}))

	live := pool
	live.BaseBalance = live.BaseBalance.Add(d("7"))
	live.LPSupply = live.LPSupply.Sub(d("1"))
	other := pool
	other.ID = 42

	drift := book.Drift([]amm.Pool{live, other})
	require.Len(t, drift, 3)
	assert.Equal(t, "baseBalance", drift[0].Field)
	assert.Equal(t, "7", drift[0].Delta.String())
	assert.Equal(t, "lpSupply", drift[1].Field)
	assert.Equal(t, "missing", drift[2].Field)
	assert.Equal(t, uint64(42), drift[2].PoolID)

	_, ok, err := book.Apply(events.Event{Kind: events.KindPoolDeleted, PoolID: pool.ID})
	require.NoError(t, err)
	assert.False(t, ok)
	_, found := book.Pool(pool.ID)
	assert.False(t, found)
}

func TestBookRestoreRollsBackApplied(t *testing.T) {
	book := NewBook(NewVerifier(DefaultTolerance), zaptest.NewLogger(t))
	evs := settled(t)
	for _, ev := range evs[:2] {
		_, _, err := book.Apply(ev)
		require.NoError(t, err)
	}
	id := evs[0].PoolID
	before, ok := book.Pool(id)
	require.True(t, ok)

	cp := book.Checkpoint(id, 99)
	for _, ev := range evs[2:4] {
		_, _, err := book.Apply(ev)
		require.NoError(t, err)
	}
	book.Seed(amm.Pool{ID: 99})
	moved, _ := book.Pool(id)
	require.False(t, moved.BaseBalance.Equal(before.BaseBalance))

	book.Restore(cp)
	after, ok := book.Pool(id)
	require.True(t, ok)
	assert.Equal(t, before, after)
	_, ok = book.Pool(99)
	assert.False(t, ok)

	// replaying the same events from the restored state verifies cleanly again
	for _, ev := range evs[2:4] {
		v, ok, err := book.Apply(ev)
		require.NoError(t, err)
		require.True(t, ok)
		assert.True(t, v.OK, "%s %s: %s", ev.Kind, v.Field, v.Reason)
	}
}
