package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/composable-labs/pablox/app/indexer/types"
	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/composable-labs/pablox/pkg/db/models/indexer"
	"github.com/composable-labs/pablox/pkg/events"
	"github.com/composable-labs/pablox/pkg/oracle"
	"github.com/composable-labs/pablox/pkg/redis"
	"github.com/composable-labs/pablox/pkg/retry"
	"github.com/go-jose/go-jose/v4/json"
	"go.uber.org/zap"
)

// poolEvents are the events of one pool at one height, in chain order.
type poolEvents struct {
	poolID uint64
	events []events.Event
}

type groupOutcome struct {
	settlements []*indexer.Settlement
	verdicts    []oracle.Verdict
	untracked   int
}

// IndexHeight fetches, verifies and persists every DEX event emitted at height. Pools are
// verified concurrently, the events of one pool strictly in order. A failed height leaves the
// book untouched and can be indexed again; a height already recorded is a no-op.
func (a *App) IndexHeight(ctx context.Context, height uint64) (types.HeightResult, error) {
	start := time.Now()
	res := types.HeightResult{Height: height}

	a.mu.Lock()
	defer a.mu.Unlock()

	if last := a.lastIndexed.Load(); last > 0 && height <= last {
		res.AlreadyIndexed = true
		return res, nil
	}

	var raws []events.RawEvent
	err := retry.WithBackoff(ctx, retry.RPCConfig(), a.Logger, "fetch_events", func() error {
		var fetchErr error
		raws, fetchErr = a.RPC.EventsByHeight(ctx, height)
		return fetchErr
	})
	if err != nil {
		return res, fmt.Errorf("height %d: %w", height, err)
	}

	decoded := a.decode(raws)
	res.Events = len(raws)
	res.Skipped = len(raws) - len(decoded)

	groups := groupByPool(decoded)
	outcomes := make([]groupOutcome, len(groups))
	now := time.Now().UTC()

	// the book only keeps what this height did once the height is recorded
	ids := make([]uint64, len(groups))
	for i, g := range groups {
		ids[i] = g.poolID
	}
	checkpoint := a.Book.Checkpoint(ids...)
	committed := false
	defer func() {
		if !committed {
			a.Book.Restore(checkpoint)
		}
	}()

	group := a.Pool.NewGroupContext(ctx)
	for i := range groups {
		idx := i
		group.Submit(func() {
			outcomes[idx] = a.verifyGroup(groups[idx], now)
		})
	}
	if err := group.Wait(); err != nil {
		return res, fmt.Errorf("verify height %d: %w", height, err)
	}

	var settlements []*indexer.Settlement
	var verdicts []oracle.Verdict
	for _, o := range outcomes {
		settlements = append(settlements, o.settlements...)
		verdicts = append(verdicts, o.verdicts...)
		res.Untracked += o.untracked
	}
	rows := make([]*indexer.Verification, 0, len(verdicts))
	for _, v := range verdicts {
		rows = append(rows, indexer.NewVerification(v, now))
		res.Verified++
		if !v.OK {
			res.Violations++
		}
	}

	err = retry.WithBackoff(ctx, retry.RPCConfig(), a.Logger, "persist_settlements", func() error {
		if err := a.Store.InsertSettlements(ctx, settlements); err != nil {
			return err
		}
		return a.Store.InsertVerifications(ctx, rows)
	})
	if err != nil {
		return res, fmt.Errorf("persist height %d: %w", height, err)
	}

	a.publish(ctx, verdicts)

	res.DurationMs = float64(time.Since(start).Microseconds()) / 1000.0
	err = retry.WithBackoff(ctx, retry.RPCConfig(), a.Logger, "record_indexed", func() error {
		return a.Store.RecordIndexed(ctx, &indexer.IndexProgress{
			Height:         height,
			Events:         uint32(res.Events),
			Verified:       uint32(res.Verified),
			Violations:     uint32(res.Violations),
			IndexedAt:      time.Now().UTC(),
			IndexingTimeMs: res.DurationMs,
		})
	})
	if err != nil {
		return res, fmt.Errorf("record height %d: %w", height, err)
	}
	committed = true
	a.lastIndexed.Store(height)

	if res.Events > 0 {
		a.Logger.Info("Indexed height",
			zap.Uint64("height", height),
			zap.Int("events", res.Events),
			zap.Int("skipped", res.Skipped),
			zap.Int("verified", res.Verified),
			zap.Int("violations", res.Violations),
			zap.Int("untracked", res.Untracked),
			zap.Float64("duration_ms", res.DurationMs),
		)
	}
	return res, nil
}

// decode keeps the settlement events of raws. Unknown events and legacy pool deletions are
// dropped, as are payloads that fail to decode.
func (a *App) decode(raws []events.RawEvent) []events.Event {
	out := make([]events.Event, 0, len(raws))
	for _, raw := range raws {
		ev, err := events.Decode(raw)
		switch {
		case errors.Is(err, events.ErrUnknownEvent):
			a.Logger.Debug("Skipping unknown event",
				zap.String("name", raw.Name),
				zap.Uint32("spec_version", raw.SpecVersion),
				zap.Uint64("height", raw.Height))
			continue
		case err != nil:
			a.Logger.Warn("Skipping undecodable event",
				zap.String("name", raw.Name),
				zap.Uint64("height", raw.Height),
				zap.Uint32("index", raw.Index),
				zap.Error(err))
			continue
		}
		if ev.Kind == events.KindPoolDeleted {
			a.Logger.Debug("Ignoring legacy pool deletion", zap.Uint64("pool_id", ev.PoolID), zap.String("event", ev.Key()))
			continue
		}
		out = append(out, ev)
	}
	return out
}

// groupByPool splits evs per pool, keeping both the order of first appearance and the event order.
func groupByPool(evs []events.Event) []poolEvents {
	var groups []poolEvents
	index := map[uint64]int{}
	for _, ev := range evs {
		i, ok := index[ev.PoolID]
		if !ok {
			i = len(groups)
			index[ev.PoolID] = i
			groups = append(groups, poolEvents{poolID: ev.PoolID})
		}
		groups[i].events = append(groups[i].events, ev)
	}
	return groups
}

// verifyGroup replays the events of one pool through the book.
func (a *App) verifyGroup(g poolEvents, at time.Time) groupOutcome {
	var out groupOutcome
	for _, ev := range g.events {
		var pre amm.Pool
		if ev.PoolCreated != nil {
			pre = ev.PoolCreated.Pool
		} else {
			pre, _ = a.Book.Pool(ev.PoolID)
		}
		out.settlements = append(out.settlements, indexer.NewSettlement(ev, pre, at))

		v, ok, err := a.Book.Apply(ev)
		if err != nil {
			if errors.Is(err, oracle.ErrPoolNotTracked) {
				out.untracked++
			}
			a.Logger.Warn("Cannot verify settlement",
				zap.Uint64("pool_id", ev.PoolID),
				zap.String("event", ev.Key()),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if !v.OK {
			a.Logger.Warn("Settlement deviates from recomputation",
				zap.Uint64("pool_id", v.PoolID),
				zap.String("event", ev.Key()),
				zap.String("kind", string(v.Kind)),
				zap.String("field", v.Field),
				zap.String("expected", v.Expected.String()),
				zap.String("reported", v.Reported.String()),
				zap.String("deviation", v.Deviation.String()),
				zap.String("reason", v.Reason))
		}
		out.verdicts = append(out.verdicts, v)
	}
	return out
}

// publish sends every verdict to its pool channel and the shared verdict stream.
func (a *App) publish(ctx context.Context, verdicts []oracle.Verdict) {
	if a.Publisher == nil {
		return
	}
	for _, v := range verdicts {
		payload, err := json.Marshal(types.VerdictMessage{Type: types.VerdictMessageType, Verdict: v})
		if err != nil {
			a.Logger.Warn("Failed to encode verdict", zap.Uint64("pool_id", v.PoolID), zap.Error(err))
			continue
		}
		a.Publisher.Publish(ctx, redis.VerdictChannel(v.PoolID), payload)
		a.Publisher.XAdd(ctx, redis.VerdictStream, map[string]interface{}{
			"poolId": v.PoolID,
			"height": v.Height,
			"data":   string(payload),
		})
	}
}
