package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/nguyenhuuduy6592/defituna-fees/pkg/utils"
)

// ErrNotFound reports a mint with no resolvable metadata. Callers degrade to
// the UNKNOWN/0-decimals fallback instead of failing the aggregation.
var ErrNotFound = errors.New("token metadata not found")

// Fallback metadata for mints the registry does not know. Every observed
// mint must still be represented in the snapshot.
const (
	FallbackSymbol   = "UNKNOWN"
	FallbackDecimals = 0
)

// TokenInfo is the resolved metadata for a mint.
type TokenInfo struct {
	Mint     string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// Resolver resolves token metadata by mint address.
type Resolver interface {
	Resolve(ctx context.Context, mint string) (TokenInfo, error)
}

// HTTPResolver resolves metadata from a token-registry HTTP API
// (GET {endpoint}/token/{mint}) with an in-process concurrent cache.
// Only successful lookups are cached, so registry gaps can heal on a later
// aggregation run.
type HTTPResolver struct {
	endpoint string
	client   *http.Client
	cache    *xsync.Map[string, TokenInfo]
	logger   *zap.Logger
}

// NewHTTPResolver creates a resolver against the given registry endpoint.
func NewHTTPResolver(endpoint string, logger *zap.Logger) *HTTPResolver {
	return &HTTPResolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		cache:    xsync.NewMap[string, TokenInfo](),
		logger:   logger,
	}
}

var _ Resolver = (*HTTPResolver)(nil)

// Resolve returns the symbol and decimals for a mint, hitting the cache
// first.
func (r *HTTPResolver) Resolve(ctx context.Context, mint string) (TokenInfo, error) {
	if info, ok := r.cache.Load(mint); ok {
		return info, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/token/%s", r.endpoint, mint), nil)
	if err != nil {
		return TokenInfo{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return TokenInfo{}, fmt.Errorf("resolve metadata for %s: %w", mint, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		_ = utils.DrainAndClose(resp.Body)
		return TokenInfo{}, fmt.Errorf("mint %s: %w", mint, ErrNotFound)
	}
	if resp.StatusCode >= 300 {
		_ = utils.DrainAndClose(resp.Body)
		return TokenInfo{}, fmt.Errorf("resolve metadata for %s: http %d", mint, resp.StatusCode)
	}

	var info TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		_ = utils.DrainAndClose(resp.Body)
		return TokenInfo{}, fmt.Errorf("decode metadata for %s: %w", mint, err)
	}
	if err := utils.DrainAndClose(resp.Body); err != nil {
		return TokenInfo{}, err
	}

	if info.Mint == "" {
		info.Mint = mint
	}
	r.cache.Store(mint, info)

	r.logger.Debug("Resolved token metadata",
		zap.String("mint", mint),
		zap.String("symbol", info.Symbol),
		zap.Int("decimals", info.Decimals))

	return info, nil
}
