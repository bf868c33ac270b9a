package dex

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/composable-labs/pablox/pkg/db/models/indexer"
)

// RecordIndexed records a fully processed height.
func (db *DB) RecordIndexed(ctx context.Context, ip *indexer.IndexProgress) error {
	query := fmt.Sprintf(`
		INSERT INTO "%s"."%s" (height, events, verified, violations, indexed_at, indexing_time_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, db.Name, indexer.IndexProgressTableName)
	return db.Exec(ctx, query,
		ip.Height,
		ip.Events,
		ip.Verified,
		ip.Violations,
		ip.IndexedAt,
		ip.IndexingTimeMs,
	)
}

// LastIndexed returns the highest recorded height, or 0 before the first one.
func (db *DB) LastIndexed(ctx context.Context) (uint64, error) {
	var h uint64
	query := fmt.Sprintf(`SELECT max(height) FROM "%s"."%s"`, db.Name, indexer.IndexProgressTableName)
	if err := db.QueryRow(ctx, query).Scan(&h); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return h, nil
}
