package fees

import (
	"context"
	"fmt"

	"github.com/nguyenhuuduy6592/defituna-fees/pkg/db/clickhouse"
)

// Persisted status keys. Exactly one logical row exists per key;
// writes are last-write-wins.
const (
	KeyProcessStatus     = "processStatus"
	KeyCurrentStep       = "currentStep"
	KeyLastFetchCount    = "lastFetchCount"
	KeyLastFetchTime     = "lastFetchTime"
	KeyLastSyncTime      = "lastSyncTime"
	KeyLastRunStartTime  = "lastRunStartTime"
	KeyLastRunEndTime    = "lastRunEndTime"
	KeyLastSuccessfulRun = "lastSuccessfulRun"
	KeyLastError         = "lastError"
	KeyLastErrorTime     = "lastErrorTime"
	KeyLastGeneration    = "lastGeneration"
)

// Process status values: idle -> running -> {completed | error}.
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// GetStatus reads a single status key. The boolean is false when the key has
// never been written.
func (db *DB) GetStatus(ctx context.Context, key string) (string, bool, error) {
	query := fmt.Sprintf(`SELECT value FROM "%s"."%s" FINAL WHERE key = ?`, db.Name, statusTable)

	var value string
	if err := db.QueryRow(ctx, query, key).Scan(&value); err != nil {
		if clickhouse.IsNoRows(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get status %s: %w", key, err)
	}

	return value, true, nil
}

// SetStatus durably writes a single status key. Each key is a single atomic
// insert, so a concurrent reader may observe a stale value but never a
// corrupt one.
func (db *DB) SetStatus(ctx context.Context, key, value string) error {
	query := fmt.Sprintf(`INSERT INTO "%s"."%s" (key, value) VALUES (?, ?)`, db.Name, statusTable)
	if err := db.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("set status %s: %w", key, err)
	}
	return nil
}

// SetStatuses writes several keys, each as its own atomic statement.
func (db *DB) SetStatuses(ctx context.Context, values map[string]string) error {
	for key, value := range values {
		if err := db.SetStatus(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}
