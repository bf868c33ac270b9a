package amm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyFee(t *testing.T) {
	tests := []struct {
		amount, rate string
		net, fee     string
	}{
		{"100000000", "0.003", "99700000", "300000"},
		{"999", "0.003", "997", "2"},
		{"1", "0.003", "1", "0"},
		{"0", "0.003", "0", "0"},
		{"500", "0", "500", "0"},
		{"500", "1", "0", "500"},
	}
	for _, tt := range tests {
		t.Run(tt.amount+"@"+tt.rate, func(t *testing.T) {
			net, fee := ApplyFee(d(tt.amount), d(tt.rate))
			assert.Equal(t, tt.net, net.String())
			assert.Equal(t, tt.fee, fee.String())
		})
	}
}

func TestGrossUp(t *testing.T) {
	gross, fee, err := GrossUp(d("997"), d("0.003"))
	require.NoError(t, err)
	assert.Equal(t, "1000", gross.String())
	assert.Equal(t, "3", fee.String())

	gross, fee, err = GrossUp(d("11111111112"), d("0.003"))
	require.NoError(t, err)
	assert.Equal(t, "11144544747", gross.String())
	assert.Equal(t, "33433635", fee.String())
	net, _ := ApplyFee(gross, d("0.003"))
	assert.True(t, net.GreaterThanOrEqual(d("11111111112")))

	gross, fee, err = GrossUp(d("42"), d("0"))
	require.NoError(t, err)
	assert.Equal(t, "42", gross.String())
	assert.True(t, fee.IsZero())

	_, _, err = GrossUp(d("42"), d("1"))
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestFeeConfig(t *testing.T) {
	assert.NoError(t, FeeConfig{FeeRate: d("0.003"), ProtocolShare: d("0.2")}.Validate())
	assert.NoError(t, FeeConfig{FeeRate: d("0"), ProtocolShare: d("1")}.Validate())
	assert.ErrorIs(t, FeeConfig{FeeRate: d("1.25")}.Validate(), ErrInvalidFee)
	assert.ErrorIs(t, FeeConfig{FeeRate: d("-0.01")}.Validate(), ErrInvalidFee)
	assert.ErrorIs(t, FeeConfig{FeeRate: d("0.01"), ProtocolShare: d("2")}.Validate(), ErrInvalidFee)

	split := FeeConfig{FeeRate: d("0.003"), ProtocolShare: d("0.2")}.Split(d("7"))
	assert.Equal(t, "1", split.Protocol.String())
	assert.Equal(t, "6", split.LP.String())
	assert.Equal(t, "7", split.Total.String())
}
