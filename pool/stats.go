/*
stats.go - Statistics & transparency reader

PURPOSE:
  Read-only aggregation over pool state and ledger history for member
  transparency: profitability rate, lifetime totals, and a paginated
  transaction listing. Never mutates anything.
*/
package pool

import (
	"context"

	"github.com/shopspring/decimal"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// StatsReader serves the transparency views.
type StatsReader struct {
	Store  Store
	Ledger Ledger
}

func NewStatsReader(store Store, ledger Ledger) *StatsReader {
	return &StatsReader{Store: store, Ledger: ledger}
}

// Statistics returns the pool snapshot plus derived rates. Fails with
// ErrPoolNotFound when the route has no surplus activity yet.
func (r *StatsReader) Statistics(ctx context.Context, tenant TenantID, route RouteID) (Statistics, error) {
	p, err := r.Store.Get(ctx, tenant, route)
	if err != nil {
		return Statistics{}, err
	}

	rate := decimal.Zero
	if p.TotalServicesRun > 0 {
		rate = decimal.NewFromInt(p.TotalProfitableServices).
			Mul(hundred).
			Div(decimal.NewFromInt(p.TotalServicesRun)).
			Round(2)
	}

	return Statistics{Pool: p, ProfitabilityRate: rate}, nil
}

// Transactions returns one ledger page, most recent first. limit is
// clamped to [1, 200] with a default of 50; a negative offset reads from
// the start.
func (r *StatsReader) Transactions(ctx context.Context, tenant TenantID, route RouteID, limit, offset int) (TransactionPage, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}

	txs, count, err := r.Ledger.Transactions(ctx, tenant, route, limit, offset)
	if err != nil {
		return TransactionPage{}, err
	}
	return TransactionPage{Transactions: txs, Limit: limit, Offset: offset, Count: count}, nil
}
