package fees

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/nguyenhuuduy6592/defituna-fees/pkg/db/clickhouse"
)

const (
	transfersTable = "fee_transfers"
	statusTable    = "process_status"
)

// DB is the durable store for raw fee transfers and process status. It is
// opened once per process; all access goes through the Store operations.
type DB struct {
	clickhouse.Client
	Name string
}

// New connects to ClickHouse and ensures the fee database and tables exist.
func New(ctx context.Context, logger *zap.Logger, dbName string) (*DB, error) {
	name := clickhouse.SanitizeName(dbName)

	client, err := clickhouse.New(ctx, logger.With(zap.String("db", name)), name, clickhouse.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}

	db := &DB{Client: client, Name: name}

	if err := db.InitializeDB(ctx); err != nil {
		return nil, err
	}

	return db, nil
}

// InitializeDB creates the database, the transfer ledger and the status table
// if they do not already exist.
func (db *DB) InitializeDB(ctx context.Context) error {
	if err := db.CreateDbIfNotExists(ctx, db.Name); err != nil {
		return fmt.Errorf("failed to create database %s: %w", db.Name, err)
	}

	if err := db.initTransfers(ctx); err != nil {
		return fmt.Errorf("init %s: %w", transfersTable, err)
	}

	if err := db.initStatus(ctx); err != nil {
		return fmt.Errorf("init %s: %w", statusTable, err)
	}

	db.Logger.Info("Fee database initialization complete", zap.String("database", db.Name))

	return nil
}

// initTransfers creates the append-only transfer ledger.
// ReplacingMergeTree ordered by signature enforces uniqueness at the storage
// layer: a re-inserted signature merges away instead of duplicating a row.
func (db *DB) initTransfers(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			signature String,
			mint String,
			amount_raw String,
			block_time Int64,
			ingested_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(ingested_at)
		ORDER BY signature
	`, db.Name, transfersTable)

	return db.Exec(ctx, query)
}

// initStatus creates the key/value status table. Each key is written as a
// single row; ReplacingMergeTree(updated_at) keeps last-write-wins semantics
// and reads use FINAL so a reader never sees more than one row per key.
func (db *DB) initStatus(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			key String,
			value String,
			updated_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY key
	`, db.Name, statusTable)

	return db.Exec(ctx, query)
}

// DatabaseName returns the ClickHouse database backing this store.
func (db *DB) DatabaseName() string {
	return db.Name
}

// Close terminates the underlying ClickHouse connection.
func (db *DB) Close() error {
	return db.Db.Close()
}
