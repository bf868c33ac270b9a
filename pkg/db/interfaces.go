package db

import (
	"context"

	"github.com/composable-labs/pablox/pkg/db/models/indexer"
)

// Store exposes the database operations used by the indexer and the query API.
type Store interface {
	InsertSettlements(ctx context.Context, rows []*indexer.Settlement) error
	InsertVerifications(ctx context.Context, rows []*indexer.Verification) error
	InsertPoolSnapshots(ctx context.Context, rows []*indexer.PoolSnapshot) error
	RecordIndexed(ctx context.Context, ip *indexer.IndexProgress) error
	LastIndexed(ctx context.Context) (uint64, error)
	Verifications(ctx context.Context, poolID uint64, limit int, failedOnly bool) ([]indexer.Verification, error)
	Ping(ctx context.Context) error
	Close() error
}
