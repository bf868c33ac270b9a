package indexer

import (
	"context"
	"errors"

	"github.com/composable-labs/pablox/app/indexer/types"
	"github.com/composable-labs/pablox/pkg/retry"
	"go.uber.org/zap"
)

var errNotBootstrapped = errors.New("pool book not bootstrapped")

// Bootstrap seeds the book with chain state right before the first height to index and
// returns that height: max(START_HEIGHT, last indexed + 1).
func (a *App) Bootstrap(ctx context.Context) (uint64, error) {
	var last uint64
	err := retry.WithBackoff(ctx, retry.RPCConfig(), a.Logger, "last_indexed", func() error {
		var err error
		last, err = a.Store.LastIndexed(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}

	from := max(a.Config.StartHeight, last+1, 1)
	a.mu.Lock()
	defer a.mu.Unlock()

	if from > 1 {
		pools, err := a.livePools(ctx, from-1)
		if err != nil {
			return 0, err
		}
		a.Book.Seed(pools...)
		a.Logger.Info("Seeded pool book", zap.Uint64("height", from-1), zap.Int("pools", len(pools)))
	}
	a.lastIndexed.Store(from - 1)
	a.ready.Store(true)
	return from, nil
}

// PlanHeights is the activity telling the head scan which heights are pending. The cursor
// lives with the book, so a head scan started by an earlier process resumes where this
// process's book is.
func (a *App) PlanHeights(ctx context.Context) (types.HeightPlan, error) {
	if !a.ready.Load() {
		return types.HeightPlan{}, errNotBootstrapped
	}
	head, err := a.RPC.ChainHead(ctx)
	if err != nil {
		return types.HeightPlan{}, err
	}
	a.head.Store(head)
	return types.HeightPlan{From: a.lastIndexed.Load() + 1, Head: head}, nil
}
