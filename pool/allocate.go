/*
allocate.go - Allocation engine (mutating)

PURPOSE:
  Takes a profitable service run's gross surplus and splits it across
  reserve/business/dividend/pool-available buckets, updating the pool
  and appending a surplus_added ledger entry in one atomic unit.

FLOW:
  1. Validate gross surplus and the percentage split
  2. Get-or-create the pool (first allocation initializes the route)
  3. Compute the four-way breakdown (remainder to the subsidy bucket)
  4. Apply the mutated snapshot + ledger entry atomically
  5. On version conflict, reload and retry (bounded)

A failed validation aborts with no mutation. A conflict that survives
the retry budget surfaces as ErrConflict.

SEE ALSO:
  - types.go: SplitSurplus, AllocationBreakdown
  - subsidy.go: The debiting counterpart
*/
package pool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// maxApplyAttempts bounds the optimistic retry loop of both engines.
// Each retry reloads the pool, so an attempt only fails when another
// writer committed in the window between load and apply.
const maxApplyAttempts = 10

var txSeq atomic.Int64

func newTransactionID() TransactionID {
	return TransactionID(fmt.Sprintf("stx-%d-%d", time.Now().UnixNano(), txSeq.Add(1)))
}

// =============================================================================
// ALLOCATION ENGINE
// =============================================================================

// AllocationInput describes one profitable service run to post.
type AllocationInput struct {
	Tenant  TenantID
	Route   RouteID
	Service ServiceRef

	// GrossSurplus must be positive; zero or loss-making runs are not
	// allocations (they go through the subsidy path or are skipped).
	GrossSurplus decimal.Decimal

	// Split overrides the default 20/20/60 distribution when non-nil.
	Split *AllocationSplit

	// Optional lifetime rollups from the originating cost record. Zero
	// values leave the rollups untouched.
	TotalRevenue decimal.Decimal
	TotalCost    decimal.Decimal
}

// AllocationResult reports the committed breakdown and the new pool state.
type AllocationResult struct {
	Breakdown   AllocationBreakdown
	Transaction SurplusTransaction
	Pool        SurplusPool
}

// AllocationEngine posts surpluses into pools.
type AllocationEngine struct {
	Store Store

	now func() time.Time
}

func NewAllocationEngine(store Store) *AllocationEngine {
	return &AllocationEngine{Store: store, now: time.Now}
}

// WithClock overrides the clock for testing.
func (e *AllocationEngine) WithClock(clock func() time.Time) *AllocationEngine {
	e.now = clock
	return e
}

// Allocate splits in.GrossSurplus into the pool. The pool is created on
// the route's first allocation.
func (e *AllocationEngine) Allocate(ctx context.Context, in AllocationInput) (AllocationResult, error) {
	if !in.GrossSurplus.IsPositive() {
		return AllocationResult{}, &InvalidInputError{Field: "gross_surplus", Reason: "must be positive"}
	}
	split := DefaultSplit()
	if in.Split != nil {
		split = *in.Split
	}
	if err := split.Validate(); err != nil {
		return AllocationResult{}, err
	}

	breakdown := SplitSurplus(in.GrossSurplus, split)

	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		p, err := e.Store.GetOrCreate(ctx, in.Tenant, in.Route)
		if err != nil {
			return AllocationResult{}, err
		}

		now := e.now().UTC()
		before := p.AvailableForSubsidy

		p.ReservedForReserves = p.ReservedForReserves.Add(breakdown.ToReserves)
		p.ReservedForBusiness = p.ReservedForBusiness.Add(breakdown.ToBusiness)
		p.TotalDistributedDividends = p.TotalDistributedDividends.Add(breakdown.ToDividends)
		p.AvailableForSubsidy = p.AvailableForSubsidy.Add(breakdown.ToPool)
		p.AccumulatedSurplus = p.AccumulatedSurplus.Add(in.GrossSurplus)
		p.LifetimeGrossSurplus = p.LifetimeGrossSurplus.Add(in.GrossSurplus)
		p.LifetimeTotalRevenue = p.LifetimeTotalRevenue.Add(in.TotalRevenue)
		p.LifetimeTotalCosts = p.LifetimeTotalCosts.Add(in.TotalCost)
		p.TotalServicesRun++
		p.TotalProfitableServices++
		p.UpdatedAt = now

		tx := SurplusTransaction{
			ID:            newTransactionID(),
			PoolID:        p.ID,
			Type:          TxSurplusAdded,
			Amount:        breakdown.ToPool,
			BalanceBefore: before,
			BalanceAfter:  p.AvailableForSubsidy,
			TimetableID:   in.Service.TimetableID,
			ServiceDate:   in.Service.ServiceDate,
			CostID:        in.Service.CostID,
			CreatedAt:     now,
		}

		err = e.Store.Apply(ctx, p, tx)
		if IsRetryable(err) {
			continue
		}
		if err != nil {
			return AllocationResult{}, err
		}
		return AllocationResult{Breakdown: breakdown, Transaction: tx, Pool: p}, nil
	}

	return AllocationResult{}, fmt.Errorf("allocate surplus for %s/%s: %w", in.Tenant, in.Route, ErrConflict)
}
