package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/composable-labs/pablox/pkg/db/models/indexer"
	"github.com/composable-labs/pablox/pkg/events"
	"github.com/composable-labs/pablox/pkg/rpc"
	"github.com/stretchr/testify/require"
)

type fakeRPC struct {
	mu       sync.Mutex
	head     uint64
	events   map[uint64][]events.RawEvent
	pools    map[uint64][]*rpc.RpcPool
	failures int
	poolsAt  []uint64
}

func newFakeRPC() *fakeRPC {
	return &fakeRPC{events: map[uint64][]events.RawEvent{}, pools: map[uint64][]*rpc.RpcPool{}}
}

func (f *fakeRPC) ChainHead(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeRPC) EventsByHeight(_ context.Context, height uint64) ([]events.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("connection reset")
	}
	return f.events[height], nil
}

func (f *fakeRPC) PoolByID(_ context.Context, id uint64) (*rpc.RpcPool, error) {
	return nil, fmt.Errorf("pool %d not served", id)
}

func (f *fakeRPC) Pools(_ context.Context, height uint64) ([]*rpc.RpcPool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poolsAt = append(f.poolsAt, height)
	return f.pools[height], nil
}

type fakeStore struct {
	mu            sync.Mutex
	settlements   []*indexer.Settlement
	verifications []*indexer.Verification
	snapshots     []*indexer.PoolSnapshot
	progress      []*indexer.IndexProgress
	last          uint64
	insertErr     error
}

func (s *fakeStore) setInsertErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = err
}

func (s *fakeStore) InsertSettlements(_ context.Context, rows []*indexer.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.settlements = append(s.settlements, rows...)
	return nil
}

func (s *fakeStore) InsertVerifications(_ context.Context, rows []*indexer.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifications = append(s.verifications, rows...)
	return nil
}

func (s *fakeStore) InsertPoolSnapshots(_ context.Context, rows []*indexer.PoolSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, rows...)
	return nil
}

func (s *fakeStore) RecordIndexed(_ context.Context, ip *indexer.IndexProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, ip)
	s.last = max(s.last, ip.Height)
	return nil
}

func (s *fakeStore) LastIndexed(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

func (s *fakeStore) Verifications(context.Context, uint64, int, bool) ([]indexer.Verification, error) {
	return nil, nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }
func (s *fakeStore) Close() error              { return nil }

func (s *fakeStore) lastIndexed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type published struct {
	channel string
	payload []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	stream   []map[string]interface{}
}

func (p *fakePublisher) Publish(_ context.Context, channel string, message interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, published{channel: channel, payload: message.([]byte)})
}

func (p *fakePublisher) XAdd(_ context.Context, _ string, values map[string]interface{}) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stream = append(p.stream, values)
	return fmt.Sprintf("%d-0", len(p.stream))
}

// toRaw encodes ev in the current runtime layout.
func toRaw(t *testing.T, ev events.Event, index uint32) events.RawEvent {
	t.Helper()
	var data map[string]any
	switch ev.Kind {
	case events.KindPoolCreated:
		p := ev.PoolCreated.Pool
		data = map[string]any{
			"poolId": p.ID, "owner": p.Owner, "baseAsset": p.BaseAsset, "quoteAsset": p.QuoteAsset,
			"baseWeight": p.BaseWeight, "quoteWeight": p.QuoteWeight,
			"feeRate": p.Fee.FeeRate, "protocolShare": p.Fee.ProtocolShare,
		}
	case events.KindSwapped:
		s := ev.Swapped
		data = map[string]any{
			"poolId": ev.PoolID, "who": ev.Account, "assetIn": s.AssetIn, "assetOut": s.AssetOut,
			"amountIn": s.AmountIn, "amountOut": s.AmountOut, "direction": s.Direction,
			"fee": map[string]any{"fee": s.Fee.Total, "lpFee": s.Fee.LP, "protocolFee": s.Fee.Protocol, "assetId": s.FeeAsset},
		}
	case events.KindLiquidityAdded:
		data = map[string]any{
			"poolId": ev.PoolID, "who": ev.Account,
			"assets": ev.LiquidityAdded.ByAsset, "mintedLp": ev.LiquidityAdded.MintedLP,
		}
	case events.KindLiquidityRemoved:
		data = map[string]any{
			"poolId": ev.PoolID, "who": ev.Account,
			"assets": ev.LiquidityRemoved.ByAsset, "burnedLp": ev.LiquidityRemoved.BurnedLP,
		}
	default:
		t.Fatalf("cannot encode %s", ev.Kind)
	}
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return events.RawEvent{
		Name:        "pablo." + string(ev.Kind),
		SpecVersion: events.CurrentLayoutVersion,
		Height:      ev.Height,
		Index:       index,
		Data:        b,
	}
}

func toRPCPool(p amm.Pool) *rpc.RpcPool {
	return &rpc.RpcPool{
		ID: p.ID, Owner: p.Owner, BaseAsset: p.BaseAsset, QuoteAsset: p.QuoteAsset,
		BaseBalance: p.BaseBalance, QuoteBalance: p.QuoteBalance,
		BaseWeight: p.BaseWeight, QuoteWeight: p.QuoteWeight,
		FeeRate: p.Fee.FeeRate, ProtocolShare: p.Fee.ProtocolShare,
		LPSupply: p.LPSupply, BaseDecimals: p.BaseDecimals, QuoteDecimals: p.QuoteDecimals,
	}
}
