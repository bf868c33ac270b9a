package indexer

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/composable-labs/pablox/app/indexer/types"
	"github.com/composable-labs/pablox/pkg/db"
	"github.com/composable-labs/pablox/pkg/db/clickhouse"
	dexdb "github.com/composable-labs/pablox/pkg/db/dex"
	"github.com/composable-labs/pablox/pkg/fixedpoint"
	"github.com/composable-labs/pablox/pkg/logging"
	"github.com/composable-labs/pablox/pkg/oracle"
	"github.com/composable-labs/pablox/pkg/redis"
	"github.com/composable-labs/pablox/pkg/rpc"
	"github.com/composable-labs/pablox/pkg/temporal"
	"github.com/composable-labs/pablox/pkg/utils"
	"github.com/robfig/cron/v3"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

// Config holds the indexer settings read from the environment.
type Config struct {
	StartHeight   uint64
	PollInterval  time.Duration
	VerifyWorkers int
	CronSpec      string
	Addr          string
}

// ConfigFromEnv reads START_HEIGHT, POLL_INTERVAL, VERIFY_WORKERS, RECONCILE_CRON and ADDR.
func ConfigFromEnv() Config {
	return Config{
		StartHeight:   utils.EnvUint64("START_HEIGHT", 1),
		PollInterval:  utils.EnvDuration("POLL_INTERVAL", 6*time.Second),
		VerifyWorkers: utils.EnvInt("VERIFY_WORKERS", 8),
		CronSpec:      utils.Env("RECONCILE_CRON", "0 */5 * * * *"),
		Addr:          utils.Env("ADDR", ":3002"),
	}
}

// App follows the chain head through a Temporal workflow, verifies every DEX settlement and
// persists the verdicts.
type App struct {
	Config Config
	Logger *zap.Logger
	RPC    rpc.Client
	Store  db.Store
	// Publisher is nil when Redis is disabled.
	Publisher types.Publisher
	Book      *oracle.Book

	// Pool runs the per-pool verification groups of a height.
	Pool pond.Pool
	// Cron triggers Reconcile according to Config.CronSpec.
	Cron *cron.Cron

	// TemporalClient and Worker run the head scan workflow. Both are nil in tests.
	TemporalClient *temporal.Client
	Worker         worker.Worker

	Server *http.Server

	// mu serializes IndexHeight and Reconcile, both of which move the book.
	mu          sync.Mutex
	lastIndexed atomic.Uint64
	head        atomic.Uint64
	ready       atomic.Bool

	closers []func() error
}

// New assembles an App from its dependencies. publisher may be nil.
func New(cfg Config, logger *zap.Logger, rpcClient rpc.Client, store db.Store, publisher types.Publisher, book *oracle.Book) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VerifyWorkers <= 0 {
		cfg.VerifyWorkers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 6 * time.Second
	}
	return &App{
		Config:    cfg,
		Logger:    logger,
		RPC:       rpcClient,
		Store:     store,
		Publisher: publisher,
		Book:      book,
		Pool:      pond.NewPool(cfg.VerifyWorkers),
	}
}

// Initialize wires the indexer from the environment.
func Initialize(ctx context.Context) *App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr
		panic(err)
	}
	cfg := ConfigFromEnv()

	store, err := dexdb.New(ctx, logger, utils.Env("CLICKHOUSE_DB", "pablox"), clickhouse.PoolConfigForComponent("indexer"))
	if err != nil {
		logger.Fatal("Unable to initialize database", zap.Error(err))
	}

	rpcClient := rpc.NewHTTPWithOpts(rpc.Opts{
		Endpoints:       utils.EnvList("RPC_ENDPOINTS", []string{"http://localhost:50002"}),
		RPS:             utils.EnvInt("RPC_RPS", 50),
		Burst:           utils.EnvInt("RPC_RPS", 50) * 2,
		BreakerFailures: 5,
		BreakerCooldown: 10 * time.Second,
		Logger:          logger.Named("rpc"),
	})

	tolerance := oracle.DefaultTolerance
	if raw := utils.Env("TOLERANCE", ""); raw != "" {
		if tolerance, err = fixedpoint.Parse(raw); err != nil || tolerance.IsNegative() {
			logger.Fatal("Invalid TOLERANCE", zap.String("value", raw), zap.Error(err))
		}
	}
	book := oracle.NewBook(oracle.NewVerifier(tolerance), logger.Named("book"))

	var publisher types.Publisher
	var redisClient *redis.Client
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - verdicts will not be published", zap.Error(err))
			redisClient = nil
		} else {
			publisher = redisClient
		}
	} else {
		logger.Info("Redis disabled - verdicts will not be published")
	}

	app := New(cfg, logger, rpcClient, store, publisher, book)
	app.closers = append(app.closers, store.Close)
	if redisClient != nil {
		app.closers = append(app.closers, redisClient.Close)
	}

	if err := app.SetupScheduler(ctx, cron.DefaultLogger, cfg.CronSpec); err != nil {
		logger.Fatal("Unable to set up reconcile scheduler", zap.Error(err), zap.String("cronSpec", cfg.CronSpec))
	}
	app.SetupServer()

	temporalClient, err := temporal.NewClient(ctx, logger)
	if err != nil {
		logger.Fatal("Unable to establish temporal connection", zap.Error(err))
	}
	// one book, one poller: heights must be indexed in order
	wkr := worker.New(
		temporalClient.TClient,
		temporalClient.IndexerQueue,
		worker.Options{
			MaxConcurrentWorkflowTaskPollers:       2,
			MaxConcurrentActivityTaskPollers:       2,
			MaxConcurrentActivityExecutionSize:     2,
			MaxConcurrentWorkflowTaskExecutionSize: 2,
			WorkerStopTimeout:                      1 * time.Minute,
		},
	)
	app.Register(wkr)
	app.TemporalClient = temporalClient
	app.Worker = wkr
	app.closers = append(app.closers, temporalClient.Close)

	return app
}

// Start bootstraps the book, starts the worker and makes sure the head scan workflow runs,
// then blocks until ctx is cancelled.
func (a *App) Start(ctx context.Context) {
	if a.Server != nil {
		go func() {
			if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.Logger.Error("Health server stopped", zap.Error(err))
			}
		}()
	}

	from, err := a.Bootstrap(ctx)
	if err != nil {
		a.Logger.Fatal("Unable to bootstrap pool book", zap.Error(err))
	}
	if err := a.Worker.Start(); err != nil {
		a.Logger.Fatal("Unable to start worker", zap.Error(err))
	}
	a.StartCron()

	run, err := a.TemporalClient.TClient.ExecuteWorkflow(ctx,
		client.StartWorkflowOptions{
			ID:                       a.TemporalClient.HeadScanWorkflowID,
			TaskQueue:                a.TemporalClient.IndexerQueue,
			WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
		},
		HeadScanWorkflowName,
		types.HeadScanInput{PollInterval: a.Config.PollInterval},
	)
	if err != nil {
		a.Logger.Fatal("Unable to start head scan", zap.Error(err))
	}
	a.Logger.Info("Head scan running",
		zap.String("workflowId", run.GetID()),
		zap.String("runId", run.GetRunID()),
		zap.Uint64("from", from))

	<-ctx.Done()
	a.Stop()
}

// Stop releases every resource the app holds.
func (a *App) Stop() {
	if a.Worker != nil {
		a.Worker.Stop()
	}
	a.StopCron()
	a.Pool.StopAndWait()
	if a.Server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.Server.Shutdown(shutdownCtx)
		cancel()
	}
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			a.Logger.Error("Failed to close resource", zap.Error(err))
		}
	}
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
