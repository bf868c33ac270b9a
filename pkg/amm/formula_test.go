package amm

import (
	"testing"

	"github.com/composable-labs/pablox/pkg/fixedpoint"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return fixedpoint.MustParse(s) }

func TestOutGivenIn(t *testing.T) {
	tests := []struct {
		name                 string
		balanceIn, balanceOut string
		amountIn             string
		weightIn, weightOut  string
		want                 string
	}{
		{
			name:      "equal weights exact path",
			balanceIn: "100000000000", balanceOut: "10000000000000000",
			amountIn: "99700000", weightIn: "0.5", weightOut: "0.5",
			want: "9960069810399",
		},
		{
			name:      "equal weights unnormalized",
			balanceIn: "1000", balanceOut: "1000",
			amountIn: "1000", weightIn: "5", weightOut: "5",
			want: "500",
		},
		{
			name:      "80/20 pool",
			balanceIn: "1000000", balanceOut: "4000000",
			amountIn: "100000", weightIn: "0.8", weightOut: "0.2",
			want: "1267946",
		},
		{
			name:      "zero amount",
			balanceIn: "1000000", balanceOut: "4000000",
			amountIn: "0", weightIn: "0.8", weightOut: "0.2",
			want: "0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := OutGivenIn(d(tt.balanceIn), d(tt.balanceOut), d(tt.amountIn), d(tt.weightIn), d(tt.weightOut))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestOutGivenInMagnitudeGap(t *testing.T) {
	// balanceIn/(balanceIn+amountIn) is ~1e-51, far below the division precision
	out, err := OutGivenIn(d("1"), d("100000000000000000000"), d("1000000000000000000000000000000000000000000000000000"), d("0.2"), d("0.8"))
	require.NoError(t, err)
	assert.Equal(t, "99999999999982217205", out.String())

	// (1e-51)^4 underflows entirely; the pool still keeps a unit
	out, err = OutGivenIn(d("1"), d("100000000000000000000"), d("1000000000000000000000000000000000000000000000000000"), d("0.8"), d("0.2"))
	require.NoError(t, err)
	assert.Equal(t, "99999999999999999999", out.String())

	in, err := InGivenOut(d("1"), d("100000000000000000000"), d("99999999999982217205"), d("0.2"), d("0.8"))
	require.NoError(t, err)
	assert.True(t, in.IsPositive())
	assert.True(t, in.LessThanOrEqual(d("1000000000000000000000000000000000000000000000000000")), "in %s", in)
}

func TestOutGivenInErrors(t *testing.T) {
	_, err := OutGivenIn(d("0"), d("100"), d("1"), d("0.5"), d("0.5"))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, err = OutGivenIn(d("100"), d("100"), d("-1"), d("0.5"), d("0.5"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = OutGivenIn(d("100"), d("100"), d("1"), d("0"), d("1"))
	assert.ErrorIs(t, err, ErrInvalidWeight)

	_, err = OutGivenIn(d("100"), d("100"), d("1"), d("0.5"), d("-0.5"))
	assert.ErrorIs(t, err, ErrInvalidWeight)
}

func TestInGivenOut(t *testing.T) {
	in, err := InGivenOut(d("100000000000"), d("10000000000000000"), d("1000000000000000"), d("0.5"), d("0.5"))
	require.NoError(t, err)
	assert.Equal(t, "11111111112", in.String())

	in, err = InGivenOut(d("1000000"), d("4000000"), d("1267946"), d("0.8"), d("0.2"))
	require.NoError(t, err)
	assert.Equal(t, "100000", in.String())

	in, err = InGivenOut(d("1000000"), d("4000000"), d("0"), d("0.8"), d("0.2"))
	require.NoError(t, err)
	assert.True(t, in.IsZero())
}

func TestInGivenOutDrain(t *testing.T) {
	_, err := InGivenOut(d("1000"), d("500"), d("500"), d("0.5"), d("0.5"))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, err = InGivenOut(d("1000"), d("500"), d("501"), d("0.5"), d("0.5"))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, err = InGivenOut(d("1000"), d("500"), d("-1"), d("0.5"), d("0.5"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestSpotPrice(t *testing.T) {
	p, err := SpotPrice(d("100000000000"), d("10000000000000000"), d("0.5"), d("0.5"))
	require.NoError(t, err)
	assert.Equal(t, "0.00001", p.String())

	// 80/20: (1e6/0.8)/(4e6/0.2) = 0.0625
	p, err = SpotPrice(d("1000000"), d("4000000"), d("0.8"), d("0.2"))
	require.NoError(t, err)
	assert.Equal(t, "0.0625", p.String())

	_, err = SpotPrice(d("0"), d("1"), d("0.5"), d("0.5"))
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)
}
