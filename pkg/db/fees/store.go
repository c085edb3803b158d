package fees

import (
	"context"

	feesmodels "github.com/nguyenhuuduy6592/defituna-fees/pkg/db/models/fees"
)

// Store describes the durable-store operations required by the ingestion
// runner and the aggregator. *DB implements it; tests use fakes.
type Store interface {
	DatabaseName() string
	Close() error

	// --- Transfer ledger

	LatestBlockTime(ctx context.Context) (int64, bool, error)
	InsertTransfers(ctx context.Context, transfers []feesmodels.FeeTransfer) (int, error)
	ClearTransfers(ctx context.Context) error
	CountTransfers(ctx context.Context) (uint64, error)
	AggregateByMint(ctx context.Context) ([]feesmodels.FeeAggregate, error)

	// --- Process status

	GetStatus(ctx context.Context, key string) (string, bool, error)
	SetStatus(ctx context.Context, key, value string) error
	SetStatuses(ctx context.Context, values map[string]string) error
}

var _ Store = (*DB)(nil)
