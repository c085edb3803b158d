package fees

import (
	"fmt"
	"math/big"
	"sort"
	"time"
)

// DateLayout is the UTC calendar-day granularity used for daily fee buckets.
const DateLayout = "2006-01-02"

// FeeTransfer is one on-chain transfer of a fee payment to the protocol
// treasury. The ledger is unique by Signature; rows are never mutated.
type FeeTransfer struct {
	Signature string `ch:"signature" json:"signature"`
	Mint      string `ch:"mint" json:"mint"`
	AmountRaw string `ch:"amount_raw" json:"amountRaw"`
	BlockTime int64  `ch:"block_time" json:"blockTime"`
}

// DailyFees is one UTC calendar-day bucket of summed raw amounts.
type DailyFees struct {
	Date      string `json:"date"`
	AmountRaw string `json:"amountRaw"`
}

// FeeAggregate is the per-mint rollup derived from the ledger. It is
// recomputed on demand, never persisted.
type FeeAggregate struct {
	Mint                string      `json:"mint"`
	TotalAmountRaw      string      `json:"totalAmountRaw"`
	LastTransactionTime int64       `json:"lastTransactionTime"` // unix seconds
	DailyFees           []DailyFees `json:"dailyFees"`
}

// AggregateTransfers groups transfers by mint, summing raw amounts with
// arbitrary-precision integers and bucketing by UTC calendar day. Output is
// ordered by total amount descending (mint ascending on ties); daily buckets
// are ordered by date ascending.
func AggregateTransfers(transfers []FeeTransfer) ([]FeeAggregate, error) {
	type mintAcc struct {
		total    *big.Int
		lastTime int64
		days     map[string]*big.Int
	}

	byMint := make(map[string]*mintAcc)
	for _, t := range transfers {
		amount, ok := new(big.Int).SetString(t.AmountRaw, 10)
		if !ok {
			return nil, fmt.Errorf("transfer %s: invalid raw amount %q", t.Signature, t.AmountRaw)
		}

		acc := byMint[t.Mint]
		if acc == nil {
			acc = &mintAcc{total: new(big.Int), days: make(map[string]*big.Int)}
			byMint[t.Mint] = acc
		}

		acc.total.Add(acc.total, amount)
		if t.BlockTime > acc.lastTime {
			acc.lastTime = t.BlockTime
		}

		day := time.Unix(t.BlockTime, 0).UTC().Format(DateLayout)
		if existing := acc.days[day]; existing != nil {
			existing.Add(existing, amount)
		} else {
			acc.days[day] = amount
		}
	}

	out := make([]FeeAggregate, 0, len(byMint))
	for mint, acc := range byMint {
		daily := make([]DailyFees, 0, len(acc.days))
		for day, sum := range acc.days {
			daily = append(daily, DailyFees{Date: day, AmountRaw: sum.String()})
		}
		sort.Slice(daily, func(i, j int) bool { return daily[i].Date < daily[j].Date })

		out = append(out, FeeAggregate{
			Mint:                mint,
			TotalAmountRaw:      acc.total.String(),
			LastTransactionTime: acc.lastTime,
			DailyFees:           daily,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		a, _ := new(big.Int).SetString(out[i].TotalAmountRaw, 10)
		b, _ := new(big.Int).SetString(out[j].TotalAmountRaw, 10)
		switch a.Cmp(b) {
		case 1:
			return true
		case -1:
			return false
		default:
			return out[i].Mint < out[j].Mint
		}
	})

	return out, nil
}
