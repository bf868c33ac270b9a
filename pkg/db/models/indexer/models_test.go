package indexer

import (
	"testing"
	"time"

	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/composable-labs/pablox/pkg/events"
	"github.com/composable-labs/pablox/pkg/oracle"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var pool = amm.Pool{
	ID: 1, BaseAsset: 1, QuoteAsset: 130,
	BaseBalance: d("10000000000000000"), QuoteBalance: d("100000000000"),
	BaseWeight: d("0.5"), QuoteWeight: d("0.5"),
	Fee:      amm.FeeConfig{FeeRate: d("0.003"), ProtocolShare: d("0.2")},
	LPSupply: d("31622776601683"),
}

func TestNewSettlementSwap(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	ev := events.Event{
		Kind: events.KindSwapped, Height: 10, Index: 2, PoolID: 1, Account: "bob",
		Swapped: &events.Swapped{
			AssetIn: 130, AssetOut: 1,
			AmountIn: d("100000000"), AmountOut: d("9960069810399"),
			Fee: amm.FeeBreakdown{Total: d("300000"), LP: d("240000"), Protocol: d("60000")},
		},
	}
	s := NewSettlement(ev, pool, now)

	assert.Equal(t, "Swapped", s.Kind)
	assert.Equal(t, uint32(2), s.EventIndex)
	assert.Equal(t, uint64(130), s.AssetIn)
	assert.Equal(t, "9960069810399", s.AmountOut.String())
	assert.Equal(t, "60000", s.FeeProtocol.String())
	assert.True(t, s.LPAmount.IsZero())
	assert.Equal(t, uint8(0), s.Legacy)
	assert.Equal(t, now, s.IndexedAt)
}

func TestNewSettlementLiquidityByAsset(t *testing.T) {
	ev := events.Event{
		Kind: events.KindLiquidityAdded, PoolID: 1, Legacy: true,
		LiquidityAdded: &events.LiquidityAdded{
			PairAmounts: events.PairAmounts{ByAsset: map[amm.AssetID]decimal.Decimal{
				130: d("1000"), 1: d("100000000"),
			}},
			MintedLP: d("316227"),
		},
	}
	s := NewSettlement(ev, pool, time.Now())

	assert.Equal(t, "100000000", s.BaseAmount.String())
	assert.Equal(t, "1000", s.QuoteAmount.String())
	assert.Equal(t, "316227", s.LPAmount.String())
	assert.Equal(t, uint8(1), s.Legacy)

	ev.LiquidityAdded.ByAsset[4] = d("1")
	s = NewSettlement(ev, pool, time.Now())
	assert.True(t, s.BaseAmount.IsZero())
}

func TestNewVerification(t *testing.T) {
	v := NewVerification(oracle.Verdict{
		PoolID: 1, Height: 5, Index: 3, Kind: events.KindSwapped,
		Field: "amountOut", Expected: d("10"), Reported: d("12"), Deviation: d("2"),
		Reason: "amountOut deviates by 2",
	}, time.Now())

	assert.Equal(t, uint8(0), v.OK)
	assert.Equal(t, "amountOut", v.Field)
	assert.Equal(t, "2", v.Deviation)
	assert.Equal(t, "12", v.Reported)

	v = NewVerification(oracle.Verdict{OK: true, Kind: events.KindLiquidityAdded}, time.Now())
	assert.Equal(t, uint8(1), v.OK)
	assert.Equal(t, "0", v.Expected)
}

func TestNewPoolSnapshot(t *testing.T) {
	s := NewPoolSnapshot(pool, 99, SnapshotSourceRPC, time.Now())
	assert.Equal(t, "0.00001", s.SpotPrice)
	assert.Equal(t, "0.5", s.BaseWeight)
	assert.Equal(t, "rpc", s.Source)

	empty := pool
	empty.BaseBalance, empty.QuoteBalance = decimal.Zero, decimal.Zero
	s = NewPoolSnapshot(empty, 99, SnapshotSourceBook, time.Now())
	assert.Empty(t, s.SpotPrice)
}

func TestColumnDef(t *testing.T) {
	assert.Equal(t, "account String CODEC(ZSTD(1))", ColumnDef{Name: "account", Type: "String", Codec: "ZSTD(1)"}.SQL())
	assert.Error(t, ColumnDef{Name: "x"}.Validate())
	assert.Error(t, ValidateColumns([]ColumnDef{{Type: "UInt8"}}))
	assert.Equal(t, []string{"pool_id", "height"}, ColumnsToNameList(SettlementColumns[:2]))
}
