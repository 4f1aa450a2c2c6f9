/*
settle.go - Settlement pass over pending cost records

PURPOSE:
  Walks pending ServiceCostRecords in arrival order and posts each to
  the pool: positive net surplus goes through the allocation engine,
  negative net surplus draws a capped subsidy, break-even runs are
  skipped. Designed to run nightly (see api scheduler) and to be safe
  to re-run: only pending records are touched.

SUBSIDY SIZING:
  A loss-making run requests min(capped preview, its actual shortfall).
  When the pool cannot cover that amount (or the route has no pool yet)
  the record is skipped with a note rather than partially subsidized.
*/
package costing

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/coopfleet/surplus-engine/pool"
)

// Settler posts pending cost records to the surplus pool.
type Settler struct {
	Costs      Store
	Pools      pool.Store
	Allocation *pool.AllocationEngine
	Subsidy    *pool.SubsidyEngine
	Caps       pool.Caps

	// Split overrides the default surplus distribution when non-nil.
	Split *pool.AllocationSplit
}

func NewSettler(costs Store, pools pool.Store, alloc *pool.AllocationEngine, subsidy *pool.SubsidyEngine) *Settler {
	return &Settler{
		Costs:      costs,
		Pools:      pools,
		Allocation: alloc,
		Subsidy:    subsidy,
		Caps:       pool.DefaultCaps(),
	}
}

// Summary reports one settlement pass.
type Summary struct {
	Processed  int
	Allocated  int
	Subsidized int
	Skipped    int
	Failed     int
}

// Settle processes every pending record. Individual record failures are
// logged and counted, not fatal: one bad record must not block the rest
// of the nightly run.
func (s *Settler) Settle(ctx context.Context) (Summary, error) {
	pending, err := s.Costs.ListPending(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list pending cost records: %w", err)
	}

	var sum Summary
	for _, rec := range pending {
		sum.Processed++
		if err := s.settleOne(ctx, rec, &sum); err != nil {
			sum.Failed++
			log.Printf("[Settle] record %s: %v", rec.ID, err)
		}
	}
	return sum, nil
}

func (s *Settler) settleOne(ctx context.Context, rec ServiceCostRecord, sum *Summary) error {
	switch {
	case rec.NetSurplus.IsPositive():
		_, err := s.Allocation.Allocate(ctx, pool.AllocationInput{
			Tenant:       rec.TenantID,
			Route:        rec.RouteID,
			Service:      rec.Ref(),
			GrossSurplus: rec.NetSurplus,
			Split:        s.Split,
			TotalRevenue: rec.TotalRevenue,
			TotalCost:    rec.TotalCost,
		})
		if err != nil {
			return err
		}
		sum.Allocated++
		return s.Costs.MarkSettled(ctx, rec.ID, StatusSettled, "surplus allocated")

	case rec.NetSurplus.IsNegative():
		return s.settleLoss(ctx, rec, sum)

	default:
		sum.Skipped++
		return s.Costs.MarkSettled(ctx, rec.ID, StatusSkipped, "break-even")
	}
}

func (s *Settler) settleLoss(ctx context.Context, rec ServiceCostRecord, sum *Summary) error {
	p, err := s.Pools.Get(ctx, rec.TenantID, rec.RouteID)
	if pool.IsNotFound(err) {
		sum.Skipped++
		return s.Costs.MarkSettled(ctx, rec.ID, StatusSkipped, "no pool for route yet")
	}
	if err != nil {
		return err
	}

	quote, err := pool.CalculateSubsidy(p, rec.TotalCost, s.Caps, nil)
	if err != nil {
		return err
	}

	// Draw no more than the actual shortfall.
	amount := quote.SubsidyApplied
	if shortfall := rec.NetSurplus.Neg(); shortfall.LessThan(amount) {
		amount = shortfall
	}
	if !amount.IsPositive() {
		sum.Skipped++
		return s.Costs.MarkSettled(ctx, rec.ID, StatusSkipped, "pool cannot fund subsidy")
	}

	_, err = s.Subsidy.Apply(ctx, pool.SubsidyInput{
		Tenant:         rec.TenantID,
		Route:          rec.RouteID,
		Service:        rec.Ref(),
		SubsidyAmount:  amount,
		PassengerCount: rec.PassengerCount,
		ServiceCost:    rec.TotalCost,
		TotalRevenue:   rec.TotalRevenue,
	})
	if errors.Is(err, pool.ErrInsufficientBalance) {
		// Quote went stale under concurrent draws. Skip, never partial.
		sum.Skipped++
		return s.Costs.MarkSettled(ctx, rec.ID, StatusSkipped, "insufficient pool balance")
	}
	if err != nil {
		return err
	}
	sum.Subsidized++
	return s.Costs.MarkSettled(ctx, rec.ID, StatusSettled,
		fmt.Sprintf("subsidy of %s applied", amount.StringFixed(2)))
}
