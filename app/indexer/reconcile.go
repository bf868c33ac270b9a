package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/composable-labs/pablox/pkg/db/models/indexer"
	"github.com/composable-labs/pablox/pkg/retry"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SetupScheduler sets up the cron scheduler running Reconcile.
func (a *App) SetupScheduler(ctx context.Context, logger cron.Logger, cronSpec string) error {
	// Seconds field, optional
	a.Cron = cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(logger)))

	_, err := a.Cron.AddFunc(cronSpec, func() {
		// keep each run bounded
		rctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if err := a.Reconcile(rctx); err != nil {
			a.Logger.Warn("Reconcile failed", zap.Error(err))
		}
	})
	return err
}

// StartCron starts the cron scheduler.
func (a *App) StartCron() {
	if a.Cron == nil {
		return
	}
	a.Cron.Start()
	a.Logger.Info("Reconcile cron started", zap.String("cronSpec", a.Config.CronSpec))
}

// StopCron stops the cron scheduler and waits for a running reconcile.
func (a *App) StopCron() {
	if a.Cron != nil {
		<-a.Cron.Stop().Done()
	}
}

// Reconcile compares the book with chain state at the last indexed height, logs every drift,
// stores snapshots of both sides and resyncs the book to the chain.
func (a *App) Reconcile(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	height := a.lastIndexed.Load()
	if height == 0 {
		return nil
	}
	live, err := a.livePools(ctx, height)
	if err != nil {
		return err
	}

	drift := a.Book.Drift(live)
	drifted := map[uint64]bool{}
	for _, d := range drift {
		drifted[d.PoolID] = true
		a.Logger.Warn("Pool book drifted from chain",
			zap.Uint64("pool_id", d.PoolID),
			zap.Uint64("height", height),
			zap.String("field", d.Field),
			zap.String("book", d.Book.String()),
			zap.String("live", d.Live.String()),
			zap.String("delta", d.Delta.String()))
	}

	now := time.Now().UTC()
	snapshots := make([]*indexer.PoolSnapshot, 0, len(live)+len(drifted))
	for _, p := range live {
		snapshots = append(snapshots, indexer.NewPoolSnapshot(p, height, indexer.SnapshotSourceRPC, now))
		if !drifted[p.ID] {
			continue
		}
		if bp, ok := a.Book.Pool(p.ID); ok {
			snapshots = append(snapshots, indexer.NewPoolSnapshot(bp, height, indexer.SnapshotSourceBook, now))
		}
	}
	err = retry.WithBackoff(ctx, retry.RPCConfig(), a.Logger, "persist_snapshots", func() error {
		return a.Store.InsertPoolSnapshots(ctx, snapshots)
	})
	if err != nil {
		return fmt.Errorf("persist snapshots at %d: %w", height, err)
	}

	a.Book.Seed(live...)
	a.Logger.Info("Reconciled pool book",
		zap.Uint64("height", height),
		zap.Int("pools", len(live)),
		zap.Int("drifted", len(drifted)))
	return nil
}

// livePools fetches and converts the chain's pools at height. Pools that fail validation are
// logged and left out.
func (a *App) livePools(ctx context.Context, height uint64) ([]amm.Pool, error) {
	var pools []amm.Pool
	err := retry.WithBackoff(ctx, retry.RPCConfig(), a.Logger, "fetch_pools", func() error {
		raw, err := a.RPC.Pools(ctx, height)
		if err != nil {
			return err
		}
		pools = make([]amm.Pool, 0, len(raw))
		for _, rp := range raw {
			p, err := rp.ToPool()
			if err != nil {
				a.Logger.Warn("Skipping invalid pool", zap.Uint64("pool_id", rp.ID), zap.Error(err))
				continue
			}
			pools = append(pools, p)
		}
		return nil
	})
	return pools, err
}
