package fees

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateTransfers(t *testing.T) {
	// 2024-01-15 and 2024-01-16 UTC
	day1 := int64(1705312800) // 2024-01-15 10:00:00 UTC
	day2 := int64(1705399200) // 2024-01-16 10:00:00 UTC

	tests := []struct {
		name      string
		transfers []FeeTransfer
		want      []FeeAggregate
		wantErr   string
	}{
		{
			name:      "empty ledger",
			transfers: nil,
			want:      []FeeAggregate{},
		},
		{
			name: "sums exactly with big integers",
			transfers: []FeeTransfer{
				{Signature: "sig1", Mint: "mintA", AmountRaw: "355", BlockTime: day1},
				{Signature: "sig2", Mint: "mintA", AmountRaw: "350", BlockTime: day1},
				{Signature: "sig3", Mint: "mintA", AmountRaw: "5", BlockTime: day1},
			},
			want: []FeeAggregate{
				{
					Mint:                "mintA",
					TotalAmountRaw:      "710",
					LastTransactionTime: day1,
					DailyFees:           []DailyFees{{Date: "2024-01-15", AmountRaw: "710"}},
				},
			},
		},
		{
			name: "amounts beyond float64 precision stay exact",
			transfers: []FeeTransfer{
				{Signature: "sig1", Mint: "mintA", AmountRaw: "92233720368547758070", BlockTime: day1},
				{Signature: "sig2", Mint: "mintA", AmountRaw: "1", BlockTime: day1},
			},
			want: []FeeAggregate{
				{
					Mint:                "mintA",
					TotalAmountRaw:      "92233720368547758071",
					LastTransactionTime: day1,
					DailyFees:           []DailyFees{{Date: "2024-01-15", AmountRaw: "92233720368547758071"}},
				},
			},
		},
		{
			name: "buckets by utc day and tracks latest block time",
			transfers: []FeeTransfer{
				{Signature: "sig1", Mint: "mintA", AmountRaw: "100", BlockTime: day2},
				{Signature: "sig2", Mint: "mintA", AmountRaw: "200", BlockTime: day1},
			},
			want: []FeeAggregate{
				{
					Mint:                "mintA",
					TotalAmountRaw:      "300",
					LastTransactionTime: day2,
					DailyFees: []DailyFees{
						{Date: "2024-01-15", AmountRaw: "200"},
						{Date: "2024-01-16", AmountRaw: "100"},
					},
				},
			},
		},
		{
			name: "orders mints by total descending, mint ascending on tie",
			transfers: []FeeTransfer{
				{Signature: "sig1", Mint: "mintC", AmountRaw: "10", BlockTime: day1},
				{Signature: "sig2", Mint: "mintA", AmountRaw: "10", BlockTime: day1},
				{Signature: "sig3", Mint: "mintB", AmountRaw: "999", BlockTime: day1},
			},
			want: []FeeAggregate{
				{
					Mint:                "mintB",
					TotalAmountRaw:      "999",
					LastTransactionTime: day1,
					DailyFees:           []DailyFees{{Date: "2024-01-15", AmountRaw: "999"}},
				},
				{
					Mint:                "mintA",
					TotalAmountRaw:      "10",
					LastTransactionTime: day1,
					DailyFees:           []DailyFees{{Date: "2024-01-15", AmountRaw: "10"}},
				},
				{
					Mint:                "mintC",
					TotalAmountRaw:      "10",
					LastTransactionTime: day1,
					DailyFees:           []DailyFees{{Date: "2024-01-15", AmountRaw: "10"}},
				},
			},
		},
		{
			name: "rejects non-numeric amounts",
			transfers: []FeeTransfer{
				{Signature: "sigX", Mint: "mintA", AmountRaw: "not-a-number", BlockTime: day1},
			},
			wantErr: "invalid raw amount",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AggregateTransfers(tt.transfers)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
