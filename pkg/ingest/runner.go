package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nguyenhuuduy6592/defituna-fees/pkg/db/fees"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/fetcher"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/redis"
)

// EventsChannel is the redis pub/sub channel carrying run lifecycle events
// for the dashboard's live stream.
const EventsChannel = "feesvc:jobs"

// StepFetching is the progress label recorded while the fetch phase runs.
const StepFetching = "Fetching fee data"

// Event is one run lifecycle notification.
type Event struct {
	Type      string `json:"type"` // running | completed | cancelled | error
	RunID     string `json:"runId"`
	Step      string `json:"step,omitempty"`
	Stored    int    `json:"stored,omitempty"`
	Fetched   int    `json:"fetched,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"` // unix ms
}

// Result is the outcome of one ingestion run.
type Result struct {
	RunID     string `json:"runId"`
	Stored    int    `json:"stored"`
	Fetched   int    `json:"fetched"`
	Cancelled bool   `json:"cancelled"`
}

// runHandle identifies one in-flight run's cancellation hook. Identity
// matters: a finished run may only clear its own handle, never one a
// superseding run has registered since.
type runHandle struct {
	cancel context.CancelFunc
}

// Runner enforces single-flight ingestion and drives the status machine
// (idle -> running -> completed|error). It is constructed once per process
// and injected into the HTTP layer: ingestion is a singleton background
// activity, and the active-run handle below is the only shared mutable state
// outside the store.
type Runner struct {
	mu     sync.Mutex
	active *runHandle

	store  fees.Store
	source fetcher.Source
	events *redis.Client // nil disables event publishing
	logger *zap.Logger
}

// NewRunner creates the process-wide ingestion runner.
func NewRunner(store fees.Store, source fetcher.Source, events *redis.Client, logger *zap.Logger) *Runner {
	return &Runner{
		store:  store,
		source: source,
		events: events,
		logger: logger,
	}
}

// Start executes one ingestion run. A new run always supersedes an in-flight
// one: the previous run's handle is cancelled synchronously before any state
// is touched, so two fetch loops never write concurrently. With force set,
// the ledger is cleared before the fetched transfers are restored.
func (r *Runner) Start(ctx context.Context, force bool) (*Result, error) {
	runID := uuid.NewString()
	logger := r.logger.With(zap.String("run_id", runID), zap.Bool("force", force))

	// Last-request-wins: cancel any in-flight run before proceeding.
	r.mu.Lock()
	if r.active != nil {
		logger.Info("Superseding in-flight ingestion run")
		r.active.cancel()
		r.active = nil
	}
	r.mu.Unlock()

	now := time.Now().UTC()
	if err := r.store.SetStatuses(ctx, map[string]string{
		fees.KeyProcessStatus:    fees.StatusRunning,
		fees.KeyCurrentStep:      StepFetching,
		fees.KeyLastRunStartTime: now.Format(time.RFC3339),
	}); err != nil {
		return nil, r.failRun(ctx, logger, runID, err)
	}
	r.publish(ctx, Event{Type: "running", RunID: runID, Step: StepFetching, Timestamp: now.UnixMilli()})

	var since *int64
	if !force {
		cursor, ok, err := r.store.LatestBlockTime(ctx)
		if err != nil {
			return nil, r.failRun(ctx, logger, runID, err)
		}
		if ok {
			since = &cursor
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	handle := &runHandle{cancel: cancel}
	r.mu.Lock()
	r.active = handle
	r.mu.Unlock()

	fetched, fetchErr := r.source.FetchSince(runCtx, since)

	// The run is no longer cancellable once the fetch returns. Clear only
	// this run's own handle: a superseding run may already have registered
	// its own, and that one must stay cancellable.
	r.mu.Lock()
	if r.active == handle {
		r.active = nil
	}
	r.mu.Unlock()
	cancel()

	if fetchErr != nil {
		return nil, r.failRun(ctx, logger, runID, fetchErr)
	}

	if force {
		logger.Info("Forced resync: clearing transfer ledger before restore")
		if err := r.store.ClearTransfers(ctx); err != nil {
			return nil, r.failRun(ctx, logger, runID, err)
		}
	}

	stored, err := r.store.InsertTransfers(ctx, fetched.Transfers)
	if err != nil {
		return nil, r.failRun(ctx, logger, runID, err)
	}

	end := time.Now().UTC()
	statuses := map[string]string{
		fees.KeyProcessStatus:     fees.StatusCompleted,
		fees.KeyCurrentStep:       "Completed",
		fees.KeyLastFetchCount:    strconv.Itoa(len(fetched.Transfers)),
		fees.KeyLastFetchTime:     end.Format(time.RFC3339),
		fees.KeyLastRunEndTime:    end.Format(time.RFC3339),
		fees.KeyLastSuccessfulRun: end.Format(time.RFC3339),
	}
	if fetched.Cancelled {
		statuses[fees.KeyCurrentStep] = "Completed (cancelled mid-fetch)"
	}
	if maxTime, ok := maxBlockTime(fetched); ok {
		statuses[fees.KeyLastSyncTime] = strconv.FormatInt(maxTime, 10)
	}
	if err := r.store.SetStatuses(ctx, statuses); err != nil {
		return nil, r.failRun(ctx, logger, runID, err)
	}

	eventType := "completed"
	if fetched.Cancelled {
		eventType = "cancelled"
	}
	r.publish(ctx, Event{
		Type:      eventType,
		RunID:     runID,
		Stored:    stored,
		Fetched:   len(fetched.Transfers),
		Timestamp: end.UnixMilli(),
	})

	logger.Info("Ingestion run finished",
		zap.Int("fetched", len(fetched.Transfers)),
		zap.Int("stored", stored),
		zap.Bool("cancelled", fetched.Cancelled))

	return &Result{
		RunID:     runID,
		Stored:    stored,
		Fetched:   len(fetched.Transfers),
		Cancelled: fetched.Cancelled,
	}, nil
}

// Cancel signals the active run, if any. Returns false when there is
// nothing to cancel; that is a defined negative result, not an error.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil {
		return false
	}

	r.logger.Info("Cancelling active ingestion run")
	r.active.cancel()
	r.active = nil
	return true
}

// failRun records the terminal error state so operators can observe the
// failure via a later status read, then returns the original error. Status
// write failures are logged, never allowed to mask the run error.
func (r *Runner) failRun(ctx context.Context, logger *zap.Logger, runID string, runErr error) error {
	now := time.Now().UTC()
	if err := r.store.SetStatuses(ctx, map[string]string{
		fees.KeyProcessStatus:  fees.StatusError,
		fees.KeyLastError:      runErr.Error(),
		fees.KeyLastErrorTime:  now.Format(time.RFC3339),
		fees.KeyLastRunEndTime: now.Format(time.RFC3339),
	}); err != nil {
		logger.Error("Failed to record error status", zap.Error(err))
	}

	r.publish(ctx, Event{Type: "error", RunID: runID, Error: runErr.Error(), Timestamp: now.UnixMilli()})

	logger.Error("Ingestion run failed", zap.Error(runErr))
	return runErr
}

// publish sends a lifecycle event, best effort.
func (r *Runner) publish(ctx context.Context, event Event) {
	if r.events == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		r.logger.Warn("Failed to marshal job event", zap.Error(err))
		return
	}
	r.events.Publish(ctx, EventsChannel, payload)
}

func maxBlockTime(res fetcher.Result) (int64, bool) {
	if len(res.Transfers) == 0 {
		return 0, false
	}
	max := res.Transfers[0].BlockTime
	for _, t := range res.Transfers[1:] {
		if t.BlockTime > max {
			max = t.BlockTime
		}
	}
	return max, true
}
