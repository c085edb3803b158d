package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestResolveCachesSuccessfulLookups(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/token/mintUSDC", r.URL.Path)
		_ = json.NewEncoder(w).Encode(TokenInfo{Mint: "mintUSDC", Symbol: "USDC", Decimals: 6})
	}))
	defer server.Close()

	resolver := NewHTTPResolver(server.URL, zap.NewNop())

	for i := 0; i < 3; i++ {
		info, err := resolver.Resolve(context.Background(), "mintUSDC")
		require.NoError(t, err)
		assert.Equal(t, "USDC", info.Symbol)
		assert.Equal(t, 6, info.Decimals)
	}

	assert.Equal(t, int32(1), calls.Load())
}

func TestResolveUnknownMintReturnsErrNotFound(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	resolver := NewHTTPResolver(server.URL, zap.NewNop())

	_, err := resolver.Resolve(context.Background(), "mintMystery")
	require.ErrorIs(t, err, ErrNotFound)

	// Misses are not cached: the registry may learn the mint later.
	_, err = resolver.Resolve(context.Background(), "mintMystery")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(2), calls.Load())
}

func TestResolveServerErrorIsNotErrNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	resolver := NewHTTPResolver(server.URL, zap.NewNop())

	_, err := resolver.Resolve(context.Background(), "mintA")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestResolveFillsMissingMintField(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"symbol": "TUNA", "decimals": 9})
	}))
	defer server.Close()

	resolver := NewHTTPResolver(server.URL, zap.NewNop())

	info, err := resolver.Resolve(context.Background(), "mintTUNA")
	require.NoError(t, err)
	assert.Equal(t, "mintTUNA", info.Mint)
	assert.Equal(t, "TUNA", info.Symbol)
}
