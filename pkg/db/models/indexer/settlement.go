package indexer

import (
	"time"

	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/composable-labs/pablox/pkg/events"
	"github.com/shopspring/decimal"
)

const SettlementsTableName = "settlements"

// SettlementColumns defines the schema for the settlements table.
var SettlementColumns = []ColumnDef{
	{Name: "pool_id", Type: "UInt64"},
	{Name: "height", Type: "UInt64", Codec: "Delta, ZSTD(3)"},
	{Name: "event_index", Type: "UInt32"},
	{Name: "kind", Type: "LowCardinality(String)"},
	{Name: "account", Type: "String", Codec: "ZSTD(1)"},
	{Name: "legacy", Type: "UInt8"},
	{Name: "asset_in", Type: "UInt64"},
	{Name: "asset_out", Type: "UInt64"},
	{Name: "amount_in", Type: amountType},
	{Name: "amount_out", Type: amountType},
	{Name: "fee_total", Type: amountType},
	{Name: "fee_lp", Type: amountType},
	{Name: "fee_protocol", Type: amountType},
	{Name: "base_amount", Type: amountType},
	{Name: "quote_amount", Type: amountType},
	{Name: "lp_amount", Type: amountType},
	{Name: "indexed_at", Type: "DateTime64(6)"},
}

// Settlement is one decoded DEX event. Swap columns are zero for liquidity events and the
// other way around. ReplacingMergeTree deduplicates by (pool_id, height, event_index) so a
// reindexed height overwrites its rows.
type Settlement struct {
	PoolID      uint64          `ch:"pool_id" json:"poolId"`
	Height      uint64          `ch:"height" json:"height"`
	EventIndex  uint32          `ch:"event_index" json:"index"`
	Kind        string          `ch:"kind" json:"kind"`
	Account     string          `ch:"account" json:"account"`
	Legacy      uint8           `ch:"legacy" json:"legacy"`
	AssetIn     uint64          `ch:"asset_in" json:"assetIn"`
	AssetOut    uint64          `ch:"asset_out" json:"assetOut"`
	AmountIn    decimal.Decimal `ch:"amount_in" json:"amountIn"`
	AmountOut   decimal.Decimal `ch:"amount_out" json:"amountOut"`
	FeeTotal    decimal.Decimal `ch:"fee_total" json:"fee"`
	FeeLP       decimal.Decimal `ch:"fee_lp" json:"lpFee"`
	FeeProtocol decimal.Decimal `ch:"fee_protocol" json:"protocolFee"`
	BaseAmount  decimal.Decimal `ch:"base_amount" json:"baseAmount"`
	QuoteAmount decimal.Decimal `ch:"quote_amount" json:"quoteAmount"`
	LPAmount    decimal.Decimal `ch:"lp_amount" json:"lpAmount"`
	IndexedAt   time.Time       `ch:"indexed_at" json:"indexedAt"`
}

// NewSettlement flattens ev into a row. Liquidity amounts keyed by asset are resolved against
// pool, the state the event settled on.
func NewSettlement(ev events.Event, pool amm.Pool, indexedAt time.Time) *Settlement {
	s := &Settlement{
		PoolID:      ev.PoolID,
		Height:      ev.Height,
		EventIndex:  ev.Index,
		Kind:        string(ev.Kind),
		Account:     ev.Account,
		AmountIn:    decimal.Zero,
		AmountOut:   decimal.Zero,
		FeeTotal:    decimal.Zero,
		FeeLP:       decimal.Zero,
		FeeProtocol: decimal.Zero,
		BaseAmount:  decimal.Zero,
		QuoteAmount: decimal.Zero,
		LPAmount:    decimal.Zero,
		IndexedAt:   indexedAt,
	}
	if ev.Legacy {
		s.Legacy = 1
	}

	pair := func(p events.PairAmounts) (decimal.Decimal, decimal.Decimal) {
		base, quote, err := p.Resolve(pool)
		if err != nil {
			return decimal.Zero, decimal.Zero
		}
		return base, quote
	}

	switch {
	case ev.Swapped != nil:
		sw := ev.Swapped
		s.AssetIn, s.AssetOut = uint64(sw.AssetIn), uint64(sw.AssetOut)
		s.AmountIn, s.AmountOut = sw.AmountIn, sw.AmountOut
		s.FeeTotal, s.FeeLP, s.FeeProtocol = sw.Fee.Total, sw.Fee.LP, sw.Fee.Protocol
	case ev.LiquidityAdded != nil:
		s.BaseAmount, s.QuoteAmount = pair(ev.LiquidityAdded.PairAmounts)
		s.LPAmount = ev.LiquidityAdded.MintedLP
	case ev.LiquidityRemoved != nil:
		s.BaseAmount, s.QuoteAmount = pair(ev.LiquidityRemoved.PairAmounts)
		s.LPAmount = ev.LiquidityRemoved.BurnedLP
	case ev.PoolCreated != nil:
		p := ev.PoolCreated.Pool
		s.AssetIn, s.AssetOut = uint64(p.BaseAsset), uint64(p.QuoteAsset)
		s.BaseAmount, s.QuoteAmount, s.LPAmount = p.BaseBalance, p.QuoteBalance, p.LPSupply
	}
	return s
}
