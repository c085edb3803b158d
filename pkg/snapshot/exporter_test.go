package snapshot

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUIAmount(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals int
		want     float64
	}{
		{"whole units", "1000000", 6, 1.0},
		{"fractional", "355", 2, 3.55},
		{"half", "350", 2, 3.5},
		{"zero decimals", "42", 0, 42.0},
		{"zero amount", "0", 9, 0.0},
		{"unparsable raw", "garbage", 6, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, UIAmount(tt.raw, tt.decimals), 1e-9)
		})
	}
}

func TestWritePublishesAtomically(t *testing.T) {
	dir := t.TempDir()
	exporter := New(Opts{Dir: dir, Logger: zap.NewNop()})

	doc := &Document{
		LastUpdatedTimestamp: 1705312800000,
		FeesByToken: []TokenFees{
			{
				Mint:                "mintUSDC",
				Symbol:              "USDC",
				Decimals:            2,
				TotalAmountRaw:      "355",
				TotalAmountUI:       3.55,
				LastTransactionTime: 1705312800000,
				DailyFees:           []DailyEntry{{Date: "2024-01-15", AmountRaw: "355", AmountUI: 3.55}},
			},
		},
	}

	path, err := exporter.Write(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "fee-snapshot.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got Document
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, *doc, got)

	// No temp files may survive a successful publish.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fee-snapshot.json", entries[0].Name())
}

func TestWriteReplacesPreviousSnapshot(t *testing.T) {
	dir := t.TempDir()
	exporter := New(Opts{Dir: dir, Logger: zap.NewNop()})

	_, err := exporter.Write(context.Background(), &Document{LastUpdatedTimestamp: 1})
	require.NoError(t, err)

	path, err := exporter.Write(context.Background(), &Document{LastUpdatedTimestamp: 2})
	require.NoError(t, err)

	var got Document
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, int64(2), got.LastUpdatedTimestamp)
}

func TestWriteCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	exporter := New(Opts{Dir: dir, Logger: zap.NewNop()})

	path, err := exporter.Write(context.Background(), &Document{})
	require.NoError(t, err)
	assert.FileExists(t, path)
}
