package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nguyenhuuduy6592/defituna-fees/pkg/retry"
)

const testRecipient = "treasury111111111111111111111111111111111111"

func testRetryConfig(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func feeTx(sig string, ts int64, mint, amount string) Transaction {
	return Transaction{
		Signature: sig,
		Timestamp: ts,
		TokenTransfers: []TokenTransfer{
			{
				Mint:          mint,
				ToUserAccount: testRecipient,
				RawTokenAmount: RawTokenAmount{
					TokenAmount: amount,
					Decimals:    6,
				},
			},
		},
	}
}

// pagedServer serves canned pages keyed by the before cursor.
func pagedServer(t *testing.T, pages map[string][]Transaction) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, fmt.Sprintf("/v0/addresses/%s/transactions", testRecipient), r.URL.Path)
		page, ok := pages[r.URL.Query().Get("before")]
		require.True(t, ok, "unexpected cursor %q", r.URL.Query().Get("before"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(page)
	}))
}

func newTestClient(endpoint string, pageLimit int) *Client {
	return New(Opts{
		Endpoint:  endpoint,
		Recipient: testRecipient,
		PageLimit: pageLimit,
		RPS:       1000,
		Retry:     testRetryConfig(3),
		Logger:    zap.NewNop(),
	})
}

func TestFetchSincePagesUntilHistoryEnd(t *testing.T) {
	server := pagedServer(t, map[string][]Transaction{
		"":     {feeTx("sig3", 300, "mintA", "30"), feeTx("sig2", 200, "mintA", "20")},
		"sig2": {feeTx("sig1", 100, "mintB", "10")},
	})
	defer server.Close()

	client := newTestClient(server.URL, 2)

	res, err := client.FetchSince(context.Background(), nil)
	require.NoError(t, err)

	assert.False(t, res.Cancelled)
	assert.Equal(t, 2, res.Pages)
	require.Len(t, res.Transfers, 3)
	assert.Equal(t, "sig3", res.Transfers[0].Signature)
	assert.Equal(t, "sig1", res.Transfers[2].Signature)
	assert.Equal(t, int64(100), res.Transfers[2].BlockTime)
}

func TestFetchSinceStopsStrictlyAtCursor(t *testing.T) {
	server := pagedServer(t, map[string][]Transaction{
		"": {
			feeTx("sig3", 300, "mintA", "30"),
			feeTx("sig2", 200, "mintA", "20"),
			feeTx("sig1", 100, "mintA", "10"),
		},
	})
	defer server.Close()

	client := newTestClient(server.URL, 10)

	since := int64(200)
	res, err := client.FetchSince(context.Background(), &since)
	require.NoError(t, err)

	// Strictly newer than the cursor: the transfer at blockTime 200 is the
	// cursor row itself and must not be re-fetched.
	require.Len(t, res.Transfers, 1)
	assert.Equal(t, "sig3", res.Transfers[0].Signature)
}

func TestFetchSinceSkipsTransactionsWithoutRecipientTransfer(t *testing.T) {
	noise := Transaction{
		Signature: "sig-noise",
		Timestamp: 250,
		TokenTransfers: []TokenTransfer{
			{Mint: "mintA", ToUserAccount: "someone-else", RawTokenAmount: RawTokenAmount{TokenAmount: "99"}},
		},
	}
	server := pagedServer(t, map[string][]Transaction{
		"": {feeTx("sig3", 300, "mintA", "30"), noise},
	})
	defer server.Close()

	client := newTestClient(server.URL, 10)

	res, err := client.FetchSince(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Transfers, 1)
	assert.Equal(t, "sig3", res.Transfers[0].Signature)
}

func TestFetchSinceRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode([]Transaction{feeTx("sig1", 100, "mintA", "10")})
	}))
	defer server.Close()

	client := newTestClient(server.URL, 10)

	res, err := client.FetchSince(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, res.Transfers, 1)
}

func TestFetchSincePersistentRateLimitFailsAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 10)

	_, err := client.FetchSince(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchSinceClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 10)

	_, err := client.FetchSince(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchSinceCancellationReturnsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Full first page forces a second request; cancel before it happens.
		cancel()
		_ = json.NewEncoder(w).Encode([]Transaction{
			feeTx("sig2", 200, "mintA", "20"),
			feeTx("sig1", 100, "mintA", "10"),
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, 2)

	res, err := client.FetchSince(ctx, nil)
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 1, res.Pages)
	require.Len(t, res.Transfers, 2)
}
