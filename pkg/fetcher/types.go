package fetcher

import (
	feesmodels "github.com/nguyenhuuduy6592/defituna-fees/pkg/db/models/fees"
)

// Transaction is one entry of the upstream enhanced transaction-history API,
// newest first within a page.
type Transaction struct {
	Signature      string          `json:"signature"`
	Timestamp      int64           `json:"timestamp"`
	TokenTransfers []TokenTransfer `json:"tokenTransfers"`
}

// TokenTransfer is a parsed SPL token movement inside a transaction.
type TokenTransfer struct {
	Mint            string         `json:"mint"`
	FromUserAccount string         `json:"fromUserAccount"`
	ToUserAccount   string         `json:"toUserAccount"`
	RawTokenAmount  RawTokenAmount `json:"rawTokenAmount"`
}

// RawTokenAmount carries the amount in smallest units as an integer string,
// preserving precision beyond float range.
type RawTokenAmount struct {
	TokenAmount string `json:"tokenAmount"`
	Decimals    int    `json:"decimals"`
}

// Result is the outcome of one fetch run. Cancelled is a defined
// partial-success outcome, not an error: Transfers holds everything
// accumulated before the cancellation point.
type Result struct {
	Transfers []feesmodels.FeeTransfer
	Cancelled bool
	Pages     int
}
