package types

import (
	"context"
	"net/http"
	"time"

	"github.com/composable-labs/pablox/pkg/db"
	"github.com/composable-labs/pablox/pkg/redis"
	"github.com/composable-labs/pablox/pkg/rpc"
	"go.uber.org/zap"
)

type App struct {
	// RPC serves live pool state.
	RPC rpc.Client
	// Store holds the indexed verdicts.
	Store db.Store
	// RedisClient feeds the websocket. Nil when Redis is disabled.
	RedisClient *redis.Client
	// Zap Logger
	Logger *zap.Logger
	// Server represents the HTTP server instance used to handle incoming client requests and manage HTTP routes.
	Server *http.Server
}

// Start starts the application.
func (a *App) Start(ctx context.Context) {
	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.Error("Server stopped", zap.Error(err))
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.Store.Close(); err != nil {
		a.Logger.Error("Failed to close database connection", zap.Error(err))
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}

	_ = a.Server.Shutdown(shutdownCtx)
	time.Sleep(200 * time.Millisecond)
	a.Logger.Info("さようなら!")
}
