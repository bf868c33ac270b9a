package rpc

import (
	"context"

	"github.com/composable-labs/pablox/pkg/events"
)

// Client captures the RPC calls the indexer and the query API make.
type Client interface {
	ChainHead(ctx context.Context) (uint64, error)
	EventsByHeight(ctx context.Context, height uint64) ([]events.RawEvent, error)
	PoolByID(ctx context.Context, id uint64) (*RpcPool, error)
	Pools(ctx context.Context, height uint64) ([]*RpcPool, error)
}

var _ Client = (*HTTPClient)(nil)
