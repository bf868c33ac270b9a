package dex

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/composable-labs/pablox/pkg/db/models/indexer"
)

const maxVerificationsLimit = 1000

// InsertVerifications writes verdicts in one batch.
func (db *DB) InsertVerifications(ctx context.Context, rows []*indexer.Verification) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := db.PrepareBatch(ctx, insertSQL(db.Name, tableByName(indexer.VerificationsTableName)))
	if err != nil {
		return err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, v := range rows {
		err = batch.Append(
			v.PoolID,
			v.Height,
			v.EventIndex,
			v.Kind,
			v.OK,
			v.Field,
			v.Expected,
			v.Reported,
			v.Deviation,
			v.Reason,
			v.VerifiedAt,
		)
		if err != nil {
			return err
		}
	}
	return batch.Send()
}

// Verifications returns the latest verdicts of a pool, newest first. failedOnly keeps violations.
func (db *DB) Verifications(ctx context.Context, poolID uint64, limit int, failedOnly bool) ([]indexer.Verification, error) {
	if limit <= 0 || limit > maxVerificationsLimit {
		limit = maxVerificationsLimit
	}
	filter := ""
	if failedOnly {
		filter = "AND ok = 0"
	}
	query := fmt.Sprintf(`
		SELECT pool_id, height, event_index, kind, ok, field, expected, reported, deviation, reason, verified_at
		FROM "%s"."%s" FINAL
		WHERE pool_id = ? %s
		ORDER BY height DESC, event_index DESC
		LIMIT ?
	`, db.Name, indexer.VerificationsTableName, filter)

	var rows []indexer.Verification
	if err := db.Select(ctx, &rows, query, poolID, limit); err != nil {
		return nil, fmt.Errorf("query verifications of pool %d: %w", poolID, err)
	}
	return rows, nil
}
