package amm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddLiquidityFirstDeposit(t *testing.T) {
	pool := picaUsdt(t)
	pool.BaseBalance, pool.QuoteBalance, pool.LPSupply = d("0"), d("0"), d("0")

	res, err := AddLiquidity(pool, d("10000000000000000"), d("100000000000"))
	require.NoError(t, err)
	// floor(sqrt(1e16 * 1e11))
	assert.Equal(t, "31622776601683", res.LPAmount.String())
	assert.Equal(t, "10000000000000000", res.BaseAmount.String())
	assert.Equal(t, "100000000000", res.QuoteAmount.String())

	_, err = AddLiquidity(pool, d("100"), d("0"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAddLiquidityWeightedFirstDeposit(t *testing.T) {
	lp, err := InitialLP(d("1000000"), d("4000000"), d("0.8"), d("0.2"))
	require.NoError(t, err)
	assert.Equal(t, "1319507", lp.String())
}

func TestAddLiquidityProportional(t *testing.T) {
	pool := picaUsdt(t)

	res, err := AddLiquidity(pool, d("100000000000000"), d("1000000000"))
	require.NoError(t, err)
	assert.Equal(t, "100000000000000", res.BaseAmount.String())
	assert.Equal(t, "1000000000", res.QuoteAmount.String())
	assert.Equal(t, "316227766016", res.LPAmount.String())

	after := ApplyLiquidity(pool, res)
	require.NoError(t, CheckRatio(pool, after))
	require.NoError(t, CheckLPMint(pool, res.BaseAmount, res.QuoteAmount, res.LPAmount))
}

func TestAddLiquidityImbalanced(t *testing.T) {
	pool := picaUsdt(t)

	t.Run("too much quote", func(t *testing.T) {
		res, err := AddLiquidity(pool, d("100000000000000"), d("10000000000"))
		require.NoError(t, err)
		assert.Equal(t, "100000000000000", res.BaseAmount.String())
		assert.Equal(t, "1000000000", res.QuoteAmount.String())
		assert.Equal(t, "316227766016", res.LPAmount.String())
	})

	t.Run("too much base", func(t *testing.T) {
		res, err := AddLiquidity(pool, d("100000000000000"), d("500000000"))
		require.NoError(t, err)
		assert.Equal(t, "50000000000000", res.BaseAmount.String())
		assert.Equal(t, "500000000", res.QuoteAmount.String())
		assert.Equal(t, "158113883008", res.LPAmount.String())

		after := ApplyLiquidity(pool, res)
		require.NoError(t, CheckRatio(pool, after))
	})

	t.Run("dust", func(t *testing.T) {
		_, err := AddLiquidity(pool, d("1"), d("0"))
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestRemoveLiquidity(t *testing.T) {
	pool := picaUsdt(t)

	res, err := RemoveLiquidity(pool, d("3162277660168"))
	require.NoError(t, err)
	assert.True(t, res.Remove)
	assert.Equal(t, "999999999999905", res.BaseAmount.String())
	assert.Equal(t, "9999999999", res.QuoteAmount.String())

	after := ApplyLiquidity(pool, res)
	assert.Equal(t, "28460498941515", after.LPSupply.String())
	require.NoError(t, CheckRatio(pool, after))

	_, err = RemoveLiquidity(pool, pool.LPSupply.Add(d("1")))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, err = RemoveLiquidity(pool, d("0"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	all, err := RemoveLiquidity(pool, pool.LPSupply)
	require.NoError(t, err)
	assert.Equal(t, pool.BaseBalance.String(), all.BaseAmount.String())
	assert.Equal(t, pool.QuoteBalance.String(), all.QuoteAmount.String())
}
