package dex

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/composable-labs/pablox/pkg/db/models/indexer"
)

// InsertSettlements writes decoded events in one batch.
func (db *DB) InsertSettlements(ctx context.Context, rows []*indexer.Settlement) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := db.PrepareBatch(ctx, insertSQL(db.Name, tableByName(indexer.SettlementsTableName)))
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, s := range rows {
		err = batch.Append(
			s.PoolID,
			s.Height,
			s.EventIndex,
			s.Kind,
			s.Account,
			s.Legacy,
			s.AssetIn,
			s.AssetOut,
			s.AmountIn,
			s.AmountOut,
			s.FeeTotal,
			s.FeeLP,
			s.FeeProtocol,
			s.BaseAmount,
			s.QuoteAmount,
			s.LPAmount,
			s.IndexedAt,
		)
		if err != nil {
			return err
		}
	}
	return batch.Send()
}
