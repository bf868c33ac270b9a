// Package dex is an in-memory settlement engine with the caller-level semantics of the on-chain
// DEX: pool ids, slippage limits, LP token accounting and settlement events on top of pkg/amm.
// The query API runs simulations against it and the scenario tests exercise the full trade flow.
package dex

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/composable-labs/pablox/pkg/events"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrPoolNotFound                  = errors.New("pool not found")
	ErrCannotRespectMinimumRequested = errors.New("cannot respect minimum requested")
	ErrNotEnoughLPTokens             = errors.New("not enough lp tokens")
)

// entry is one pool plus its LP holders. mu serializes every settlement against the pool.
type entry struct {
	mu      sync.Mutex
	pool    amm.Pool
	holders map[string]decimal.Decimal
}

// Exchange holds pools keyed by id. Different pools settle concurrently.
type Exchange struct {
	logger *zap.Logger
	pools  *xsync.Map[uint64, *entry]
	nextID atomic.Uint64
	height atomic.Uint64
	seq    atomic.Uint32
}

func NewExchange(logger *zap.Logger) *Exchange {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exchange{
		logger: logger,
		pools:  xsync.NewMap[uint64, *entry](),
	}
}

// SetHeight stamps subsequent events with height h and restarts their index.
func (e *Exchange) SetHeight(h uint64) {
	e.height.Store(h)
	e.seq.Store(0)
}

func (e *Exchange) event(kind events.Kind, poolID uint64, account string) events.Event {
	return events.Event{
		Kind:    kind,
		Height:  e.height.Load(),
		Index:   e.seq.Add(1) - 1,
		PoolID:  poolID,
		Account: account,
	}
}

type CreatePoolParams struct {
	Owner      string
	BaseAsset  amm.AssetID
	QuoteAsset amm.AssetID
	// BaseWeight and QuoteWeight are raw, e.g. 5 and 5.
	BaseWeight    decimal.Decimal
	QuoteWeight   decimal.Decimal
	FeeRate       decimal.Decimal
	ProtocolShare decimal.Decimal
	BaseDecimals  uint8
	QuoteDecimals uint8
}

// CreatePool registers an empty pool under the next free id.
func (e *Exchange) CreatePool(p CreatePoolParams) (events.Event, error) {
	wb, wq, err := amm.NormalizeWeights(p.BaseWeight, p.QuoteWeight)
	if err != nil {
		return events.Event{}, err
	}
	pool := amm.Pool{
		Owner:         p.Owner,
		BaseAsset:     p.BaseAsset,
		QuoteAsset:    p.QuoteAsset,
		BaseBalance:   decimal.Zero,
		QuoteBalance:  decimal.Zero,
		BaseWeight:    wb,
		QuoteWeight:   wq,
		Fee:           amm.FeeConfig{FeeRate: p.FeeRate, ProtocolShare: p.ProtocolShare},
		LPSupply:      decimal.Zero,
		BaseDecimals:  p.BaseDecimals,
		QuoteDecimals: p.QuoteDecimals,
	}
	if err := pool.Validate(); err != nil {
		return events.Event{}, err
	}

	pool.ID = e.nextID.Add(1) - 1
	e.pools.Store(pool.ID, &entry{pool: pool, holders: map[string]decimal.Decimal{}})

	ev := e.event(events.KindPoolCreated, pool.ID, p.Owner)
	ev.PoolCreated = &events.PoolCreated{Pool: pool}
	e.logger.Debug("pool created",
		zap.Uint64("pool_id", pool.ID),
		zap.Stringer("base", pool.BaseAsset),
		zap.Stringer("quote", pool.QuoteAsset),
		zap.String("fee_rate", pool.Fee.FeeRate.String()),
	)
	return ev, nil
}

// Seed installs a pool snapshot, typically live chain state, together with known LP holders.
// Later CreatePool calls never reuse its id.
func (e *Exchange) Seed(pool amm.Pool, holders map[string]decimal.Decimal) error {
	if err := pool.Validate(); err != nil {
		return err
	}
	h := make(map[string]decimal.Decimal, len(holders))
	for account, lp := range holders {
		h[account] = lp
	}
	e.pools.Store(pool.ID, &entry{pool: pool, holders: h})
	for {
		next := e.nextID.Load()
		if pool.ID < next || e.nextID.CompareAndSwap(next, pool.ID+1) {
			break
		}
	}
	e.logger.Debug("pool seeded", zap.Uint64("pool_id", pool.ID), zap.Int("holders", len(h)))
	return nil
}

func (e *Exchange) lookup(poolID uint64) (*entry, error) {
	en, ok := e.pools.Load(poolID)
	if !ok {
		return nil, fmt.Errorf("pool %d: %w", poolID, ErrPoolNotFound)
	}
	return en, nil
}

// Pool returns a snapshot of pool poolID.
func (e *Exchange) Pool(poolID uint64) (amm.Pool, error) {
	en, err := e.lookup(poolID)
	if err != nil {
		return amm.Pool{}, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.pool, nil
}

// Pools returns snapshots of every pool ordered by id.
func (e *Exchange) Pools() []amm.Pool {
	out := make([]amm.Pool, 0, e.pools.Size())
	e.pools.Range(func(_ uint64, en *entry) bool {
		en.mu.Lock()
		out = append(out, en.pool)
		en.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LPBalance is the amount of LP tokens account holds in pool poolID.
func (e *Exchange) LPBalance(poolID uint64, account string) (decimal.Decimal, error) {
	en, err := e.lookup(poolID)
	if err != nil {
		return decimal.Zero, err
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.holders[account], nil
}
