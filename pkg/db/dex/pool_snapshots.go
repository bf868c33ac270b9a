package dex

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/composable-labs/pablox/pkg/db/models/indexer"
)

// InsertPoolSnapshots writes pool states in one batch.
func (db *DB) InsertPoolSnapshots(ctx context.Context, rows []*indexer.PoolSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := db.PrepareBatch(ctx, insertSQL(db.Name, tableByName(indexer.PoolSnapshotsTableName)))
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, p := range rows {
		err = batch.Append(
			p.PoolID,
			p.Height,
			p.Source,
			p.BaseAsset,
			p.QuoteAsset,
			p.BaseBalance,
			p.QuoteBalance,
			p.LPSupply,
			p.BaseWeight,
			p.QuoteWeight,
			p.FeeRate,
			p.ProtocolShare,
			p.SpotPrice,
			p.SnapshotAt,
		)
		if err != nil {
			return err
		}
	}
	return batch.Send()
}
