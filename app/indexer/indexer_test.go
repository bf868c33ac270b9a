package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/composable-labs/pablox/app/indexer/types"
	"github.com/composable-labs/pablox/pkg/amm"
	"github.com/composable-labs/pablox/pkg/dex"
	"github.com/composable-labs/pablox/pkg/events"
	"github.com/composable-labs/pablox/pkg/fixedpoint"
	"github.com/composable-labs/pablox/pkg/oracle"
	"github.com/composable-labs/pablox/pkg/redis"
	"github.com/composable-labs/pablox/pkg/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap/zaptest"
)

const (
	pica amm.AssetID = 1
	usdt amm.AssetID = 130
)

func d(s string) decimal.Decimal { return fixedpoint.MustParse(s) }

type harness struct {
	app   *App
	rpc   *fakeRPC
	store *fakeStore
	pub   *fakePublisher
	ex    *dex.Exchange
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		rpc:   newFakeRPC(),
		store: &fakeStore{},
		pub:   &fakePublisher{},
		ex:    dex.NewExchange(zaptest.NewLogger(t)),
	}
	logger := zaptest.NewLogger(t)
	h.app = New(cfg, logger, h.rpc, h.store, h.pub, oracle.NewBook(oracle.NewVerifier(oracle.DefaultTolerance), logger))
	t.Cleanup(h.app.Pool.StopAndWait)
	return h
}

// emit settles evs on the exchange at height and serves them from the fake RPC.
func (h *harness) emit(t *testing.T, height uint64, evs ...events.Event) {
	t.Helper()
	for _, ev := range evs {
		ev.Height = height
		h.rpc.events[height] = append(h.rpc.events[height], toRaw(t, ev, uint32(len(h.rpc.events[height]))))
	}
	h.rpc.head = max(h.rpc.head, height)
}

func must(t *testing.T) func(events.Event, error) events.Event {
	return func(ev events.Event, err error) events.Event {
		t.Helper()
		require.NoError(t, err)
		return ev
	}
}

// session settles a pool creation, a deposit, two trades and a tampered trade over three heights.
func (h *harness) session(t *testing.T) uint64 {
	ok := must(t)
	created := ok(h.ex.CreatePool(dex.CreatePoolParams{
		Owner: "alice", BaseAsset: pica, QuoteAsset: usdt,
		BaseWeight: d("5"), QuoteWeight: d("5"),
		FeeRate: d("0.003"), ProtocolShare: d("0.2"),
	}))
	id := created.PoolID
	h.emit(t, 1,
		created,
		ok(h.ex.AddLiquidity("alice", id, d("10000000000000000"), d("100000000000"), decimal.Zero)),
	)
	h.emit(t, 2,
		ok(h.ex.Swap("bob", id, usdt, pica, d("100000000"), decimal.Zero)),
		ok(h.ex.Buy("bob", id, pica, usdt, d("5000000"))),
	)

	tampered := ok(h.ex.Swap("carol", id, usdt, pica, d("200000000"), decimal.Zero))
	s := *tampered.Swapped
	s.AmountOut = s.AmountOut.Add(d("2"))
	tampered.Swapped = &s
	h.emit(t, 3, tampered)
	h.rpc.events[3] = append(h.rpc.events[3],
		events.RawEvent{Name: "balances.Transfer", SpecVersion: 2401, Height: 3, Index: 1, Data: []byte(`{}`)},
		events.RawEvent{Name: "PoolDeleted", SpecVersion: 2000, Height: 3, Index: 2, Data: []byte(`{"poolId": 0, "baseAmount": "1", "quoteAmount": "1"}`)},
	)
	return id
}

func TestIndexHeightVerifiesSettlements(t *testing.T) {
	h := newHarness(t, Config{StartHeight: 1, VerifyWorkers: 4})
	id := h.session(t)
	h.rpc.failures = 1
	ctx := context.Background()

	res, err := h.app.IndexHeight(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.HeightResult{Height: 1, Events: 2, Verified: 1, DurationMs: res.DurationMs}, res)

	res, err = h.app.IndexHeight(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Verified)
	assert.Zero(t, res.Violations)

	res, err = h.app.IndexHeight(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Events)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, res.Violations)

	// the book follows the reported amounts, so it matches the exchange except for the tampered output
	book, found := h.app.Book.Pool(id)
	require.True(t, found)
	live, err := h.ex.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, live.QuoteBalance.String(), book.QuoteBalance.String())
	assert.Equal(t, live.BaseBalance.Sub(d("2")).String(), book.BaseBalance.String())

	assert.Len(t, h.store.settlements, 5)
	assert.Equal(t, "PoolCreated", h.store.settlements[0].Kind)
	assert.Equal(t, "100000000000", h.store.settlements[1].QuoteAmount.String())
	require.Len(t, h.store.verifications, 4)
	last := h.store.verifications[3]
	assert.Equal(t, uint8(0), last.OK)
	assert.Equal(t, "amountOut", last.Field)
	assert.Equal(t, "2", last.Deviation)
	assert.Equal(t, uint64(3), h.store.lastIndexed())
	assert.Len(t, h.store.progress, 3)
	assert.Equal(t, uint32(1), h.store.progress[2].Violations)

	require.Len(t, h.pub.messages, 4)
	assert.Equal(t, redis.VerdictChannel(id), h.pub.messages[0].channel)
	var msg struct {
		Type    string         `json:"type"`
		Verdict oracle.Verdict `json:"verdict"`
	}
	require.NoError(t, json.Unmarshal(h.pub.messages[3].payload, &msg))
	assert.Equal(t, types.VerdictMessageType, msg.Type)
	assert.False(t, msg.Verdict.OK)
	assert.Equal(t, uint64(3), msg.Verdict.Height)
	assert.Len(t, h.pub.stream, 4)
}

func TestIndexHeightUntrackedPool(t *testing.T) {
	h := newHarness(t, Config{VerifyWorkers: 1})
	ok := must(t)
	created := ok(h.ex.CreatePool(dex.CreatePoolParams{
		Owner: "alice", BaseAsset: pica, QuoteAsset: usdt,
		BaseWeight: d("5"), QuoteWeight: d("5"), FeeRate: d("0.003"), ProtocolShare: d("0"),
	}))
	ok(h.ex.AddLiquidity("alice", created.PoolID, d("1000000"), d("1000000"), decimal.Zero))
	h.emit(t, 7, ok(h.ex.Swap("bob", created.PoolID, usdt, pica, d("1000"), decimal.Zero)))

	res, err := h.app.IndexHeight(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Untracked)
	assert.Zero(t, res.Verified)
	assert.Len(t, h.store.settlements, 1)
	assert.Empty(t, h.pub.messages)
}

func TestBootstrapSeedsBookBeforeStart(t *testing.T) {
	h := newHarness(t, Config{StartHeight: 1})
	h.store.last = 41
	pool := amm.Pool{
		ID: 9, BaseAsset: pica, QuoteAsset: usdt,
		BaseBalance: d("1000"), QuoteBalance: d("2000"),
		BaseWeight: d("0.8"), QuoteWeight: d("0.2"),
		Fee: amm.FeeConfig{FeeRate: d("0.003"), ProtocolShare: d("0")}, LPSupply: d("1148"),
	}
	h.rpc.pools[41] = []*rpc.RpcPool{toRPCPool(pool)}

	from, err := h.app.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), from)
	assert.Equal(t, []uint64{41}, h.rpc.poolsAt)
	seeded, found := h.app.Book.Pool(9)
	require.True(t, found)
	assert.Equal(t, "0.8", seeded.BaseWeight.String())

	h = newHarness(t, Config{StartHeight: 100})
	h.store.last = 41
	from, err = h.app.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), from)
	assert.Equal(t, []uint64{99}, h.rpc.poolsAt)

	h = newHarness(t, Config{})
	from, err = h.app.Bootstrap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), from)
	assert.Empty(t, h.rpc.poolsAt)
}

func TestReconcileResyncsDrift(t *testing.T) {
	h := newHarness(t, Config{StartHeight: 1, VerifyWorkers: 2})
	id := h.session(t)
	ctx := context.Background()
	for height := uint64(1); height <= 3; height++ {
		_, err := h.app.IndexHeight(ctx, height)
		require.NoError(t, err)
	}

	live, err := h.ex.Pool(id)
	require.NoError(t, err)
	h.rpc.pools[3] = []*rpc.RpcPool{toRPCPool(live)}

	require.NoError(t, h.app.Reconcile(ctx))
	require.Len(t, h.store.snapshots, 2)
	assert.Equal(t, "rpc", h.store.snapshots[0].Source)
	assert.Equal(t, "book", h.store.snapshots[1].Source)
	assert.Equal(t, uint64(3), h.store.snapshots[0].Height)

	book, _ := h.app.Book.Pool(id)
	assert.Equal(t, live.BaseBalance.String(), book.BaseBalance.String())
	assert.Empty(t, h.app.Book.Drift([]amm.Pool{live}))

	// nothing drifted any more, only the chain side is stored
	require.NoError(t, h.app.Reconcile(ctx))
	assert.Len(t, h.store.snapshots, 3)
}

func TestHeadScanWorkflowFollowsHead(t *testing.T) {
	h := newHarness(t, Config{StartHeight: 1, VerifyWorkers: 2})
	h.session(t)
	_, err := h.app.Bootstrap(context.Background())
	require.NoError(t, err)

	suite := testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	h.app.Register(env)

	// the chain moves on while the scan sleeps
	env.RegisterDelayedCallback(func() {
		h.rpc.mu.Lock()
		h.rpc.head = 4
		h.rpc.mu.Unlock()
	}, 2*time.Second)

	// plan, heights 1-3, plan and sleep, plan, height 4, plan and sleep
	env.ExecuteWorkflow(HeadScanWorkflowName, types.HeadScanInput{PollInterval: 5 * time.Second, MaxActivities: 8})

	require.True(t, env.IsWorkflowCompleted())
	assert.True(t, workflow.IsContinueAsNewError(env.GetWorkflowError()), "%v", env.GetWorkflowError())
	assert.Equal(t, uint64(4), h.store.lastIndexed())
	require.Len(t, h.store.progress, 4)
	assert.Equal(t, uint32(1), h.store.progress[2].Violations)
	assert.Len(t, h.store.verifications, 4)
}

func TestHeadScanWorkflowWaitsForBootstrap(t *testing.T) {
	h := newHarness(t, Config{StartHeight: 1})
	plan, err := h.app.PlanHeights(context.Background())
	assert.ErrorIs(t, err, errNotBootstrapped)
	assert.Zero(t, plan)

	h.rpc.head = 12
	h.store.last = 9
	_, err = h.app.Bootstrap(context.Background())
	require.NoError(t, err)
	plan, err = h.app.PlanHeights(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.HeightPlan{From: 10, Head: 12}, plan)
}

func TestIndexHeightRollsBackFailedHeight(t *testing.T) {
	h := newHarness(t, Config{StartHeight: 1, VerifyWorkers: 2})
	id := h.session(t)
	ctx := context.Background()

	_, err := h.app.IndexHeight(ctx, 1)
	require.NoError(t, err)
	before, _ := h.app.Book.Pool(id)

	h.store.setInsertErr(errors.New("clickhouse: connection refused"))
	failCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	_, err = h.app.IndexHeight(failCtx, 2)
	cancel()
	require.Error(t, err)
	after, _ := h.app.Book.Pool(id)
	assert.Equal(t, before, after)
	assert.Equal(t, uint64(1), h.store.lastIndexed())

	h.store.setInsertErr(nil)
	res, err := h.app.IndexHeight(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Verified)
	assert.Zero(t, res.Violations)

	res, err = h.app.IndexHeight(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Violations)
	book, _ := h.app.Book.Pool(id)
	live, err := h.ex.Pool(id)
	require.NoError(t, err)
	assert.Equal(t, live.QuoteBalance.String(), book.QuoteBalance.String())
	assert.Equal(t, live.BaseBalance.Sub(d("2")).String(), book.BaseBalance.String())

	// a recorded height is not applied twice
	res, err = h.app.IndexHeight(ctx, 2)
	require.NoError(t, err)
	assert.True(t, res.AlreadyIndexed)
	again, _ := h.app.Book.Pool(id)
	assert.Equal(t, book, again)
	assert.Len(t, h.store.progress, 3)
}

func TestRouter(t *testing.T) {
	h := newHarness(t, Config{})
	srv := httptest.NewServer(h.app.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, err = h.app.Bootstrap(context.Background())
	require.NoError(t, err)

	resp, err = http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var st status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.True(t, st.Ready)
	assert.Equal(t, uint64(0), st.LastIndexed)
}

func TestGroupByPoolKeepsOrder(t *testing.T) {
	evs := []events.Event{
		{PoolID: 2, Index: 0}, {PoolID: 1, Index: 1}, {PoolID: 2, Index: 2}, {PoolID: 1, Index: 3},
	}
	groups := groupByPool(evs)
	require.Len(t, groups, 2)
	assert.Equal(t, uint64(2), groups[0].poolID)
	assert.Equal(t, []uint32{0, 2}, []uint32{groups[0].events[0].Index, groups[0].events[1].Index})
	assert.Equal(t, uint32(3), groups[1].events[1].Index)
}
