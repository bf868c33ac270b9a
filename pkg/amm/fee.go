package amm

import (
	"fmt"

	"github.com/composable-labs/pablox/pkg/fixedpoint"
	"github.com/shopspring/decimal"
)

// FeeConfig is the fee part of a pool configuration.
// FeeRate is charged on every trade; ProtocolShare is the fraction of that fee leaving the pool.
type FeeConfig struct {
	FeeRate       decimal.Decimal `json:"feeRate"`
	ProtocolShare decimal.Decimal `json:"protocolShare"`
}

// FeeBreakdown splits a charged fee between liquidity providers and the protocol.
type FeeBreakdown struct {
	Total    decimal.Decimal `json:"fee"`
	LP       decimal.Decimal `json:"lpFee"`
	Protocol decimal.Decimal `json:"protocolFee"`
}

func inUnitInterval(d decimal.Decimal) bool {
	return !d.IsNegative() && d.LessThanOrEqual(fixedpoint.One)
}

// Validate rejects rates outside [0, 1].
func (c FeeConfig) Validate() error {
	if !inUnitInterval(c.FeeRate) {
		return fmt.Errorf("fee rate %s: %w", c.FeeRate, ErrInvalidFee)
	}
	if !inUnitInterval(c.ProtocolShare) {
		return fmt.Errorf("protocol share %s: %w", c.ProtocolShare, ErrInvalidFee)
	}
	return nil
}

// Split divides fee into its protocol part (rounded down) and the LP remainder.
func (c FeeConfig) Split(fee decimal.Decimal) FeeBreakdown {
	protocol := fixedpoint.Floor(fee.Mul(c.ProtocolShare))
	return FeeBreakdown{
		Total:    fee,
		LP:       fee.Sub(protocol),
		Protocol: protocol,
	}
}

// ApplyFee deducts floor(amount*feeRate) from amount. feeRate is trusted to be in [0, 1].
func ApplyFee(amount, feeRate decimal.Decimal) (net, fee decimal.Decimal) {
	fee = fixedpoint.Floor(amount.Mul(feeRate))
	return amount.Sub(fee), fee
}

// GrossUp returns the smallest gross amount whose ApplyFee net covers net, and the fee inside it.
// Exact-out trades use it to charge the fee on top of the formula result.
func GrossUp(net, feeRate decimal.Decimal) (gross, fee decimal.Decimal, err error) {
	if feeRate.IsZero() || net.IsZero() {
		return net, decimal.Zero, nil
	}
	gross, err = fixedpoint.MulDivCeil(net, fixedpoint.One, fixedpoint.One.Sub(feeRate))
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("gross up %s at rate %s: %w", net, feeRate, err)
	}
	return gross, gross.Sub(net), nil
}
