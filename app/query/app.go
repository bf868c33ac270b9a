package query

import (
	"context"

	"github.com/composable-labs/pablox/app/query/types"
	"github.com/composable-labs/pablox/pkg/db/clickhouse"
	dexdb "github.com/composable-labs/pablox/pkg/db/dex"
	"github.com/composable-labs/pablox/pkg/logging"
	"github.com/composable-labs/pablox/pkg/redis"
	"github.com/composable-labs/pablox/pkg/rpc"
	"github.com/composable-labs/pablox/pkg/utils"
	"go.uber.org/zap"
)

// Initialize initializes the application.
func Initialize(ctx context.Context) *types.App {
	logger, err := logging.New()
	if err != nil {
		// nothing else to do here, we'll just log to stderr'
		panic(err)
	}

	store, err := dexdb.New(ctx, logger, utils.Env("CLICKHOUSE_DB", "pablox"), clickhouse.PoolConfigForComponent("query"))
	if err != nil {
		logger.Fatal("Unable to initialize database", zap.Error(err))
	}

	client := rpc.NewHTTPWithOpts(rpc.Opts{
		Endpoints: utils.EnvList("RPC_ENDPOINTS", []string{"http://localhost:50002"}),
		RPS:       utils.EnvInt("RPC_RPS", 20),
		Logger:    logger,
	})

	// Initialize Redis client for real-time WebSocket verdicts (optional)
	var redisClient *redis.Client
	if utils.EnvBool("REDIS_ENABLED", false) {
		redisClient, err = redis.NewClient(ctx, logger)
		if err != nil {
			logger.Warn("Failed to initialize Redis client - WebSocket verdict feed will be disabled",
				zap.Error(err))
			redisClient = nil
		} else {
			logger.Info("Redis client initialized for WebSocket verdict feed")
		}
	} else {
		logger.Info("Redis disabled - WebSocket verdict feed will not be available")
	}

	return &types.App{
		RPC:         client,
		Store:       store,
		RedisClient: redisClient,
		Logger:      logger,
	}
}
