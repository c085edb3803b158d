package aggregate

import (
	"context"
	"errors"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/nguyenhuuduy6592/defituna-fees/pkg/db/fees"
	feesmodels "github.com/nguyenhuuduy6592/defituna-fees/pkg/db/models/fees"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/metadata"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/snapshot"
)

// metadataWorkers bounds the fan-out against the token registry. Metadata
// lookups are independent per mint, unlike the rate-limited history fetch.
const metadataWorkers = 8

// Result is the outcome of one aggregation run.
type Result struct {
	Tokens     int    `json:"tokens"`
	OutputPath string `json:"outputPath,omitempty"`
	Empty      bool   `json:"empty,omitempty"`
}

// Exporter publishes a snapshot document and reports the artifact path.
type Exporter interface {
	Write(ctx context.Context, doc *snapshot.Document) (string, error)
}

// Aggregator turns the ledger into the published snapshot: per-mint rollup
// from the store, metadata enrichment, atomic export.
type Aggregator struct {
	store    fees.Store
	resolver metadata.Resolver
	exporter Exporter
	logger   *zap.Logger
}

// New creates an Aggregator.
func New(store fees.Store, resolver metadata.Resolver, exporter Exporter, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		store:    store,
		resolver: resolver,
		exporter: exporter,
		logger:   logger,
	}
}

// Run recomputes the aggregate and publishes a fresh snapshot. An empty
// ledger is a defined no-op outcome, not an error. Failures are recorded to
// persisted status before being returned.
func (a *Aggregator) Run(ctx context.Context) (*Result, error) {
	aggregates, err := a.store.AggregateByMint(ctx)
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	if len(aggregates) == 0 {
		a.logger.Info("Aggregation skipped: transfer ledger is empty")
		return &Result{Tokens: 0, Empty: true}, nil
	}

	infos := a.resolveAll(ctx, aggregates)

	doc := &snapshot.Document{
		LastUpdatedTimestamp: time.Now().UTC().UnixMilli(),
		FeesByToken:          make([]snapshot.TokenFees, 0, len(aggregates)),
	}
	for i, agg := range aggregates {
		doc.FeesByToken = append(doc.FeesByToken, buildTokenFees(agg, infos[i]))
	}

	path, err := a.exporter.Write(ctx, doc)
	if err != nil {
		return nil, a.fail(ctx, err)
	}

	if err := a.store.SetStatus(ctx, fees.KeyLastGeneration, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, a.fail(ctx, err)
	}

	a.logger.Info("Aggregation complete",
		zap.Int("tokens", len(aggregates)),
		zap.String("path", path))

	return &Result{Tokens: len(aggregates), OutputPath: path}, nil
}

// resolveAll enriches every mint with symbol/decimals on a bounded worker
// pool. Mints with no resolvable metadata degrade to the UNKNOWN/0 fallback
// rather than being dropped: every observed mint stays in the snapshot.
func (a *Aggregator) resolveAll(ctx context.Context, aggregates []feesmodels.FeeAggregate) []metadata.TokenInfo {
	infos := make([]metadata.TokenInfo, len(aggregates))

	pool := pond.NewPool(metadataWorkers)
	group := pool.NewGroupContext(ctx)

	for i, agg := range aggregates {
		i, mint := i, agg.Mint
		group.Submit(func() {
			info, err := a.resolver.Resolve(ctx, mint)
			if err != nil {
				if !errors.Is(err, metadata.ErrNotFound) {
					a.logger.Warn("Metadata resolution failed, using fallback",
						zap.String("mint", mint),
						zap.Error(err))
				}
				info = metadata.TokenInfo{
					Mint:     mint,
					Symbol:   metadata.FallbackSymbol,
					Decimals: metadata.FallbackDecimals,
				}
			}
			infos[i] = info
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn("Some metadata tasks failed", zap.Error(err))
	}
	pool.StopAndWait()

	return infos
}

func buildTokenFees(agg feesmodels.FeeAggregate, info metadata.TokenInfo) snapshot.TokenFees {
	daily := make([]snapshot.DailyEntry, 0, len(agg.DailyFees))
	for _, d := range agg.DailyFees {
		daily = append(daily, snapshot.DailyEntry{
			Date:      d.Date,
			AmountRaw: d.AmountRaw,
			AmountUI:  snapshot.UIAmount(d.AmountRaw, info.Decimals),
		})
	}

	return snapshot.TokenFees{
		Mint:                agg.Mint,
		Symbol:              info.Symbol,
		Decimals:            info.Decimals,
		TotalAmountRaw:      agg.TotalAmountRaw,
		TotalAmountUI:       snapshot.UIAmount(agg.TotalAmountRaw, info.Decimals),
		LastTransactionTime: agg.LastTransactionTime * 1000,
		DailyFees:           daily,
	}
}

// fail records the failure so a later status read can observe it, then
// returns the original error.
func (a *Aggregator) fail(ctx context.Context, runErr error) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := a.store.SetStatuses(ctx, map[string]string{
		fees.KeyLastError:     runErr.Error(),
		fees.KeyLastErrorTime: now,
	}); err != nil {
		a.logger.Error("Failed to record aggregation error status", zap.Error(err))
	}

	a.logger.Error("Aggregation run failed", zap.Error(runErr))
	return runErr
}
