package fees

import (
	"context"
	"fmt"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	feesmodels "github.com/nguyenhuuduy6592/defituna-fees/pkg/db/models/fees"
)

// existenceCheckChunk bounds the size of each IN (...) clause when filtering
// already-ingested signatures.
const existenceCheckChunk = 500

// LatestBlockTime returns the maximum block_time across stored transfers.
// The boolean is false when the ledger is empty. This is the incremental
// sync cursor.
func (db *DB) LatestBlockTime(ctx context.Context) (int64, bool, error) {
	query := fmt.Sprintf(`SELECT count() AS rows, max(block_time) AS latest FROM "%s"."%s"`, db.Name, transfersTable)

	var rows uint64
	var latest int64
	if err := db.QueryRow(ctx, query).Scan(&rows, &latest); err != nil {
		return 0, false, fmt.Errorf("latest block time: %w", err)
	}
	if rows == 0 {
		return 0, false, nil
	}

	return latest, true, nil
}

// InsertTransfers idempotently appends transfers to the ledger and returns
// the number of genuinely new rows. Signatures already present are silently
// skipped and not counted; duplicates inside the batch collapse to one row.
// Each chunk commits independently, so a crash mid-insert leaves earlier
// rows intact and the run resumable.
func (db *DB) InsertTransfers(ctx context.Context, transfers []feesmodels.FeeTransfer) (int, error) {
	if len(transfers) == 0 {
		return 0, nil
	}

	unique := dedupeTransfers(transfers)

	existing, err := db.existingSignatures(ctx, unique)
	if err != nil {
		return 0, err
	}

	fresh := dropExisting(unique, existing)
	if len(fresh) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`INSERT INTO "%s"."%s" (signature, mint, amount_raw, block_time) VALUES`, db.Name, transfersTable)
	batch, err := db.PrepareBatch(ctx, query)
	if err != nil {
		return 0, err
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, t := range fresh {
		if err := batch.Append(t.Signature, t.Mint, t.AmountRaw, t.BlockTime); err != nil {
			return 0, err
		}
	}

	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("insert transfers: %w", err)
	}

	return len(fresh), nil
}

// dedupeTransfers collapses in-batch duplicates, keeping the first
// occurrence of each signature.
func dedupeTransfers(transfers []feesmodels.FeeTransfer) []feesmodels.FeeTransfer {
	unique := make([]feesmodels.FeeTransfer, 0, len(transfers))
	seen := make(map[string]bool, len(transfers))
	for _, t := range transfers {
		if seen[t.Signature] {
			continue
		}
		seen[t.Signature] = true
		unique = append(unique, t)
	}
	return unique
}

// dropExisting filters out transfers whose signature is already in the
// ledger. The ReplacingMergeTree engine would merge duplicates away
// eventually, but the reported stored count must reflect only new rows
// regardless of merge timing.
func dropExisting(transfers []feesmodels.FeeTransfer, existing map[string]bool) []feesmodels.FeeTransfer {
	fresh := make([]feesmodels.FeeTransfer, 0, len(transfers))
	for _, t := range transfers {
		if !existing[t.Signature] {
			fresh = append(fresh, t)
		}
	}
	return fresh
}

// existingSignatures reports which of the given signatures are already
// stored, checked in bounded IN (...) chunks.
func (db *DB) existingSignatures(ctx context.Context, transfers []feesmodels.FeeTransfer) (map[string]bool, error) {
	existing := make(map[string]bool)

	for start := 0; start < len(transfers); start += existenceCheckChunk {
		end := start + existenceCheckChunk
		if end > len(transfers) {
			end = len(transfers)
		}
		chunk := transfers[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		query := fmt.Sprintf(`SELECT signature FROM "%s"."%s" WHERE signature IN (%s)`, db.Name, transfersTable, placeholders)

		args := make([]interface{}, len(chunk))
		for i, t := range chunk {
			args[i] = t.Signature
		}

		rows, err := db.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("check existing signatures: %w", err)
		}
		for rows.Next() {
			var sig string
			if err := rows.Scan(&sig); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan existing signature: %w", err)
			}
			existing[sig] = true
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}

	return existing, nil
}

// ClearTransfers empties the transfer ledger. Only used by a forced full
// resync, immediately before restoring from upstream.
func (db *DB) ClearTransfers(ctx context.Context) error {
	query := fmt.Sprintf(`TRUNCATE TABLE "%s"."%s"`, db.Name, transfersTable)
	if err := db.Exec(ctx, query); err != nil {
		return fmt.Errorf("clear transfers: %w", err)
	}
	return nil
}

// CountTransfers returns the number of distinct transfers in the ledger.
func (db *DB) CountTransfers(ctx context.Context) (uint64, error) {
	query := fmt.Sprintf(`SELECT uniqExact(signature) FROM "%s"."%s"`, db.Name, transfersTable)

	var count uint64
	if err := db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count transfers: %w", err)
	}
	return count, nil
}

// AggregateByMint loads the ledger and rolls it up per mint with
// arbitrary-precision sums and UTC daily buckets. FINAL guarantees rows
// racing the merge scheduler are not double counted.
func (db *DB) AggregateByMint(ctx context.Context) ([]feesmodels.FeeAggregate, error) {
	query := fmt.Sprintf(`
		SELECT signature, mint, amount_raw, block_time
		FROM "%s"."%s" FINAL
		ORDER BY block_time
	`, db.Name, transfersTable)

	var transfers []feesmodels.FeeTransfer
	if err := db.SelectWithFinal(ctx, &transfers, query); err != nil {
		return nil, fmt.Errorf("load transfers: %w", err)
	}

	return feesmodels.AggregateTransfers(transfers)
}
