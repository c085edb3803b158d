package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	feesmodels "github.com/nguyenhuuduy6592/defituna-fees/pkg/db/models/fees"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/retry"
	"github.com/nguyenhuuduy6592/defituna-fees/pkg/utils"
)

// Source produces the fee transfers to append to the ledger for one
// ingestion run. *Client implements it; tests use fakes.
type Source interface {
	FetchSince(ctx context.Context, since *int64) (Result, error)
}

// Client pages through the upstream transaction-history source for a single
// recipient address. Calls are sequential: the upstream rate limit applies
// per address, so parallel fan-out would only increase throttling.
type Client struct {
	endpoint  string
	apiKey    string
	recipient string
	pageLimit int
	limiter   *rate.Limiter
	retryCfg  retry.Config
	client    *http.Client
	logger    *zap.Logger
}

// Opts is the set of options for a new Client.
type Opts struct {
	Endpoint   string
	APIKey     string
	Recipient  string
	PageLimit  int
	RPS        int
	Timeout    time.Duration
	Retry      retry.Config
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// New creates a transaction-history client with the given options.
func New(o Opts) *Client {
	if o.PageLimit <= 0 {
		o.PageLimit = 100
	}
	if o.RPS <= 0 {
		o.RPS = 10
	}
	if o.Timeout <= 0 {
		o.Timeout = 15 * time.Second
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = retry.DefaultConfig()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}

	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: o.Timeout}
	} else if client.Timeout == 0 {
		client.Timeout = o.Timeout
	}

	return &Client{
		endpoint:  o.Endpoint,
		apiKey:    o.APIKey,
		recipient: o.Recipient,
		pageLimit: o.PageLimit,
		limiter:   rate.NewLimiter(rate.Limit(o.RPS), o.RPS),
		retryCfg:  o.Retry,
		client:    client,
		logger:    o.Logger,
	}
}

var _ Source = (*Client)(nil)

// FetchSince streams transfer history for the recipient, newest first,
// stopping at data at or before the cursor (incremental mode, strict
// blockTime > since) or at the upstream's earliest available data (full
// mode, since == nil). Cancellation is polled between pages and inside
// retry sleeps; a cancelled run returns what was accumulated so far with
// Cancelled set, not an error.
func (c *Client) FetchSince(ctx context.Context, since *int64) (Result, error) {
	var transfers []feesmodels.FeeTransfer
	before := ""
	pages := 0

	for {
		if ctx.Err() != nil {
			c.logger.Info("Fetch cancelled between pages",
				zap.Int("pages", pages),
				zap.Int("transfers", len(transfers)))
			return Result{Transfers: transfers, Cancelled: true, Pages: pages}, nil
		}

		page, err := c.fetchPage(ctx, before)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("Fetch cancelled during page retry",
					zap.Int("pages", pages),
					zap.Int("transfers", len(transfers)))
				return Result{Transfers: transfers, Cancelled: true, Pages: pages}, nil
			}
			return Result{}, fmt.Errorf("fetch page %d: %w", pages+1, err)
		}
		pages++

		if len(page) == 0 {
			break
		}

		reachedCursor := false
		for _, tx := range page {
			if since != nil && tx.Timestamp <= *since {
				reachedCursor = true
				break
			}
			if t, ok := c.extractFeeTransfer(tx); ok {
				transfers = append(transfers, t)
			}
		}
		if reachedCursor {
			break
		}

		before = page[len(page)-1].Signature
		if len(page) < c.pageLimit {
			break
		}
	}

	c.logger.Info("Fetch complete",
		zap.Int("pages", pages),
		zap.Int("transfers", len(transfers)))

	return Result{Transfers: transfers, Cancelled: false, Pages: pages}, nil
}

// fetchPage retrieves one page, retrying rate-limited and transient upstream
// failures with exponential backoff up to the configured attempt bound.
func (c *Client) fetchPage(ctx context.Context, before string) ([]Transaction, error) {
	var page []Transaction

	err := retry.WithBackoff(ctx, c.retryCfg, c.logger, "fetch_transactions_page", func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return &retry.Permanent{Err: err}
		}
		return c.doPage(ctx, before, &page)
	})
	if err != nil {
		return nil, err
	}

	return page, nil
}

func (c *Client) doPage(ctx context.Context, before string, out *[]Transaction) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(before), nil)
	if err != nil {
		return &retry.Permanent{Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		_ = utils.DrainAndClose(resp.Body)
		return fmt.Errorf("upstream rate limited (429)")
	case resp.StatusCode >= 500:
		_ = utils.DrainAndClose(resp.Body)
		return fmt.Errorf("upstream server error (%d)", resp.StatusCode)
	case resp.StatusCode >= 300:
		_ = utils.DrainAndClose(resp.Body)
		return &retry.Permanent{Err: fmt.Errorf("upstream http %d", resp.StatusCode)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		_ = utils.DrainAndClose(resp.Body)
		return &retry.Permanent{Err: fmt.Errorf("decode transactions page: %w", err)}
	}

	return utils.DrainAndClose(resp.Body)
}

func (c *Client) pageURL(before string) string {
	q := url.Values{}
	if c.apiKey != "" {
		q.Set("api-key", c.apiKey)
	}
	q.Set("limit", fmt.Sprintf("%d", c.pageLimit))
	if before != "" {
		q.Set("before", before)
	}
	return fmt.Sprintf("%s/v0/addresses/%s/transactions?%s", c.endpoint, c.recipient, q.Encode())
}

// extractFeeTransfer keeps the first token transfer credited to the
// recipient. The ledger is unique by signature, so multiple treasury-bound
// movements inside one transaction collapse to a single entry.
func (c *Client) extractFeeTransfer(tx Transaction) (feesmodels.FeeTransfer, bool) {
	for _, tt := range tx.TokenTransfers {
		if tt.ToUserAccount != c.recipient || tt.RawTokenAmount.TokenAmount == "" {
			continue
		}
		return feesmodels.FeeTransfer{
			Signature: tx.Signature,
			Mint:      tt.Mint,
			AmountRaw: tt.RawTokenAmount.TokenAmount,
			BlockTime: tx.Timestamp,
		}, true
	}
	return feesmodels.FeeTransfer{}, false
}
