package oracle

import (
	"errors"
	"fmt"
	"sort"

	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/composable-labs/pablox/pkg/events"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrPoolNotTracked = errors.New("pool not tracked")

// Book mirrors on-chain pools by replaying settlement events. Each event is verified against
// the snapshot before it, then the snapshot advances with the amounts the chain reported so the
// book keeps following the chain even when a settlement is flagged.
//
// Events of one pool must be applied in chain order; different pools may be applied concurrently.
type Book struct {
	verifier Verifier
	logger   *zap.Logger
	pools    *xsync.Map[uint64, amm.Pool]
}

func NewBook(verifier Verifier, logger *zap.Logger) *Book {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Book{
		verifier: verifier,
		logger:   logger,
		pools:    xsync.NewMap[uint64, amm.Pool](),
	}
}

// Seed replaces the snapshots of the given pools.
func (b *Book) Seed(pools ...amm.Pool) {
	for _, p := range pools {
		b.pools.Store(p.ID, p)
	}
}

func (b *Book) Pool(id uint64) (amm.Pool, bool) {
	return b.pools.Load(id)
}

// Checkpoint is the state of a set of pools at one point, taken before applying events that may
// have to be rolled back.
type Checkpoint struct {
	pools   map[uint64]amm.Pool
	missing []uint64
}

// Checkpoint captures the current snapshots of ids. Untracked ids are remembered as missing.
func (b *Book) Checkpoint(ids ...uint64) Checkpoint {
	cp := Checkpoint{pools: make(map[uint64]amm.Pool, len(ids))}
	for _, id := range ids {
		if p, found := b.pools.Load(id); found {
			cp.pools[id] = p
		} else {
			cp.missing = append(cp.missing, id)
		}
	}
	return cp
}

// Restore puts the pools of cp back as they were when it was taken.
func (b *Book) Restore(cp Checkpoint) {
	for id, p := range cp.pools {
		b.pools.Store(id, p)
	}
	for _, id := range cp.missing {
		b.pools.Delete(id)
	}
}

// Pools returns every tracked snapshot ordered by id.
func (b *Book) Pools() []amm.Pool {
	out := make([]amm.Pool, 0, b.pools.Size())
	b.pools.Range(func(_ uint64, p amm.Pool) bool {
		out = append(out, p)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Apply verifies ev against the current snapshot of its pool and advances the snapshot.
// ok is false for events that carry no settlement to verify (pool creation and deletion).
func (b *Book) Apply(ev events.Event) (verdict Verdict, ok bool, err error) {
	switch ev.Kind {
	case events.KindPoolCreated:
		if ev.PoolCreated == nil {
			return Verdict{}, false, fmt.Errorf("pool %d: %w", ev.PoolID, events.ErrMalformedEvent)
		}
		pool := ev.PoolCreated.Pool
		// events do not carry decimals, keep what a bootstrap already learnt
		if known, found := b.pools.Load(pool.ID); found {
			pool.BaseDecimals, pool.QuoteDecimals = known.BaseDecimals, known.QuoteDecimals
		}
		b.pools.Store(pool.ID, pool)
		return Verdict{}, false, nil
	case events.KindPoolDeleted:
		b.pools.Delete(ev.PoolID)
		return Verdict{}, false, nil
	}

	pre, found := b.pools.Load(ev.PoolID)
	if !found {
		return Verdict{}, false, fmt.Errorf("pool %d at %s: %w", ev.PoolID, ev.Key(), ErrPoolNotTracked)
	}
	verdict, ok = b.verifier.Verify(pre, ev)
	if !ok {
		return Verdict{}, false, nil
	}

	post, err := advance(pre, ev)
	if err != nil {
		// the snapshot stays where it was; a reconcile resyncs it from chain state
		b.logger.Warn("cannot advance pool snapshot",
			zap.Uint64("pool_id", ev.PoolID),
			zap.String("event", ev.Key()),
			zap.Error(err),
		)
		return verdict, true, nil
	}
	b.pools.Store(ev.PoolID, post)
	return verdict, true, nil
}

func advance(pre amm.Pool, ev events.Event) (amm.Pool, error) {
	switch {
	case ev.Swapped != nil:
		if !pre.HasAsset(ev.Swapped.AssetIn) || !pre.HasAsset(ev.Swapped.AssetOut) {
			return pre, fmt.Errorf("swap %s->%s: %w", ev.Swapped.AssetIn, ev.Swapped.AssetOut, amm.ErrAssetNotFound)
		}
		return amm.ApplySwap(pre, ev.Swapped.Result(pre)), nil
	case ev.LiquidityAdded != nil:
		res, err := ev.LiquidityAdded.Result(pre)
		if err != nil {
			return pre, err
		}
		return amm.ApplyLiquidity(pre, res), nil
	case ev.LiquidityRemoved != nil:
		res, err := ev.LiquidityRemoved.Result(pre)
		if err != nil {
			return pre, err
		}
		return amm.ApplyLiquidity(pre, res), nil
	}
	return pre, fmt.Errorf("%s without payload: %w", ev.Kind, events.ErrMalformedEvent)
}

// Drift is one field on which the book and live chain state disagree.
type Drift struct {
	PoolID uint64          `json:"poolId"`
	Field  string          `json:"field"`
	Book   decimal.Decimal `json:"book"`
	Live   decimal.Decimal `json:"live"`
	Delta  decimal.Decimal `json:"delta"`
}

// Drift compares the book against live pools. Pools the book does not track are reported under
// the field "missing".
func (b *Book) Drift(live []amm.Pool) []Drift {
	var out []Drift
	for _, lp := range live {
		bp, found := b.pools.Load(lp.ID)
		if !found {
			out = append(out, Drift{PoolID: lp.ID, Field: "missing", Live: lp.LPSupply, Delta: lp.LPSupply})
			continue
		}
		for _, f := range []struct {
			name       string
			book, live decimal.Decimal
		}{
			{"baseBalance", bp.BaseBalance, lp.BaseBalance},
			{"quoteBalance", bp.QuoteBalance, lp.QuoteBalance},
			{"lpSupply", bp.LPSupply, lp.LPSupply},
		} {
			if !f.book.Equal(f.live) {
				out = append(out, Drift{PoolID: lp.ID, Field: f.name, Book: f.book, Live: f.live, Delta: f.live.Sub(f.book)})
			}
		}
	}
	return out
}
