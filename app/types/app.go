package types

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nguyenhuuduy6592/defituna-fees/pkg/aggregate"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/db/fees"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/ingest"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/redis"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/scheduler"
)

// IngestRunner is the trigger surface of the ingestion job controller.
type IngestRunner interface {
	Start(ctx context.Context, force bool) (*ingest.Result, error)
	Cancel() bool
}

// FeeAggregator recomputes and publishes the fee snapshot.
type FeeAggregator interface {
	Run(ctx context.Context) (*aggregate.Result, error)
}

// App aggregates the process-wide components. Everything here is constructed
// once in Initialize and injected into the HTTP layer.
type App struct {
	// Durable store (transfer ledger + process status)
	Store fees.Store

	// Ingestion job controller (single-flight)
	Runner IngestRunner

	// Aggregation + snapshot publication
	Aggregator FeeAggregator

	// Optional cron triggers
	Scheduler *scheduler.Scheduler

	// Redis Client (for WebSocket real-time job events, optional)
	RedisClient *redis.Client

	// Zap Logger
	Logger *zap.Logger

	// HTTP Server
	Server *http.Server
}

// Start runs the application until the context is cancelled, then shuts
// everything down in dependency order.
func (a *App) Start(ctx context.Context) {
	if a.Scheduler != nil {
		a.Scheduler.Start()
	}

	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	if a.Scheduler != nil {
		a.Logger.Info("Stopping scheduler")
		a.Scheduler.Stop()
	}

	if a.RedisClient != nil {
		a.Logger.Info("Closing redis connection")
		if err := a.RedisClient.Close(); err != nil {
			a.Logger.Error("Failed to close redis connection", zap.Error(err))
		}
	}

	if a.Store != nil {
		a.Logger.Info("Closing fee database connection")
		if err := a.Store.Close(); err != nil {
			a.Logger.Error("Failed to close database connection", zap.Error(err))
		}
	}

	a.Logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = a.Server.Shutdown(shutdownCtx)
}
