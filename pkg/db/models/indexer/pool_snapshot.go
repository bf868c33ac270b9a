package indexer

import (
	"time"

	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/shopspring/decimal"
)

const PoolSnapshotsTableName = "pool_snapshots"

// Snapshot sources.
const (
	SnapshotSourceBook = "book"
	SnapshotSourceRPC  = "rpc"
)

// PoolSnapshotColumns defines the schema for the pool_snapshots table.
var PoolSnapshotColumns = []ColumnDef{
	{Name: "pool_id", Type: "UInt64"},
	{Name: "height", Type: "UInt64", Codec: "Delta, ZSTD(3)"},
	{Name: "source", Type: "LowCardinality(String)"},
	{Name: "base_asset", Type: "UInt64"},
	{Name: "quote_asset", Type: "UInt64"},
	{Name: "base_balance", Type: amountType},
	{Name: "quote_balance", Type: amountType},
	{Name: "lp_supply", Type: amountType},
	{Name: "base_weight", Type: "String"},
	{Name: "quote_weight", Type: "String"},
	{Name: "fee_rate", Type: "String"},
	{Name: "protocol_share", Type: "String"},
	{Name: "spot_price", Type: "String"},
	{Name: "snapshot_at", Type: "DateTime64(6)"},
}

// PoolSnapshot stores pool state as seen by the book or the chain at a height.
//
// Query patterns:
//   - Latest state: SELECT * FROM pool_snapshots FINAL WHERE pool_id = ? ORDER BY height DESC LIMIT 1
//   - Drift history: SELECT * FROM pool_snapshots FINAL WHERE pool_id = ? ORDER BY height, source
type PoolSnapshot struct {
	PoolID        uint64          `ch:"pool_id" json:"poolId"`
	Height        uint64          `ch:"height" json:"height"`
	Source        string          `ch:"source" json:"source"`
	BaseAsset     uint64          `ch:"base_asset" json:"baseAsset"`
	QuoteAsset    uint64          `ch:"quote_asset" json:"quoteAsset"`
	BaseBalance   decimal.Decimal `ch:"base_balance" json:"baseBalance"`
	QuoteBalance  decimal.Decimal `ch:"quote_balance" json:"quoteBalance"`
	LPSupply      decimal.Decimal `ch:"lp_supply" json:"lpSupply"`
	BaseWeight    string          `ch:"base_weight" json:"baseWeight"`
	QuoteWeight   string          `ch:"quote_weight" json:"quoteWeight"`
	FeeRate       string          `ch:"fee_rate" json:"feeRate"`
	ProtocolShare string          `ch:"protocol_share" json:"protocolShare"`
	SpotPrice     string          `ch:"spot_price" json:"spotPrice"`
	SnapshotAt    time.Time       `ch:"snapshot_at" json:"snapshotAt"`
}

// NewPoolSnapshot captures pool. The spot price is left empty for an unfunded pool.
func NewPoolSnapshot(pool amm.Pool, height uint64, source string, at time.Time) *PoolSnapshot {
	s := &PoolSnapshot{
		PoolID:        pool.ID,
		Height:        height,
		Source:        source,
		BaseAsset:     uint64(pool.BaseAsset),
		QuoteAsset:    uint64(pool.QuoteAsset),
		BaseBalance:   pool.BaseBalance,
		QuoteBalance:  pool.QuoteBalance,
		LPSupply:      pool.LPSupply,
		BaseWeight:    pool.BaseWeight.String(),
		QuoteWeight:   pool.QuoteWeight.String(),
		FeeRate:       pool.Fee.FeeRate.String(),
		ProtocolShare: pool.Fee.ProtocolShare.String(),
		SnapshotAt:    at,
	}
	if price, err := pool.Price(); err == nil {
		s.SpotPrice = price.String()
	}
	return s
}
