package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nguyenhuuduy6592/defituna-fees/pkg/aggregate"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/ingest"
)

// runTimeout bounds each scheduled trigger. A trigger that fires while the
// previous ingestion is still running simply supersedes it, per the
// runner's last-request-wins rule.
const runTimeout = 10 * time.Minute

// Scheduler drives optional periodic ingestion and aggregation triggers.
// Specs use the seconds-aware cron format.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// New creates a stopped scheduler.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		logger: logger,
	}
}

// AddIngest schedules non-forced ingestion runs.
func (s *Scheduler) AddIngest(ctx context.Context, spec string, runner *ingest.Runner) error {
	_, err := s.cron.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		if _, err := runner.Start(runCtx, false); err != nil {
			s.logger.Error("Scheduled ingestion failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	s.logger.Info("Ingestion schedule registered", zap.String("spec", spec))
	return nil
}

// AddAggregate schedules aggregation runs.
func (s *Scheduler) AddAggregate(ctx context.Context, spec string, aggregator *aggregate.Aggregator) error {
	_, err := s.cron.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		if _, err := aggregator.Run(runCtx); err != nil {
			s.logger.Error("Scheduled aggregation failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	s.logger.Info("Aggregation schedule registered", zap.String("spec", spec))
	return nil
}

// Start begins firing registered schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
