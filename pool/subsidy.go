/*
subsidy.go - Subsidy application engine (mutating)

PURPOSE:
  Atomically debits a pool's available-for-subsidy balance to cover a
  loss-making service run. This is the ONLY path that ever decreases
  the balance, and it never applies a partial subsidy: either the full
  amount is available or the call fails with ErrInsufficientBalance.

DOUBLE-SPEND SAFETY:
  Two concurrent applications whose combined amount exceeds the balance
  must never both succeed. The balance check runs against the snapshot
  whose version guards the Apply; a racing writer invalidates the
  version, forcing a reload that observes the reduced balance.

CAP RE-VALIDATION:
  The calculator's caps are advisory at apply time by default (the
  documented contract is the raw balance check). Setting EnforceCaps
  re-validates both caps here, rejecting oversized requests with
  ErrInvalidInput before touching the pool.

SEE ALSO:
  - calculator.go: The non-mutating preview
  - allocate.go: The crediting counterpart
*/
package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SUBSIDY APPLICATION ENGINE
// =============================================================================

// SubsidyInput describes one loss-making service run to subsidize.
type SubsidyInput struct {
	Tenant  TenantID
	Route   RouteID
	Service ServiceRef

	SubsidyAmount decimal.Decimal

	// Audit context from the service run. Revenue (when positive) rolls
	// into the pool's lifetime revenue; ServiceCost into lifetime costs.
	PassengerCount int64
	ServiceCost    decimal.Decimal
	TotalRevenue   decimal.Decimal
}

// SubsidyResult confirms the committed debit.
type SubsidyResult struct {
	Transaction SurplusTransaction
	Pool        SurplusPool
}

// SubsidyEngine debits pools to cover loss-making runs.
type SubsidyEngine struct {
	Store Store

	// EnforceCaps re-validates the calculator caps at apply time.
	EnforceCaps bool
	Caps        Caps

	now func() time.Time
}

func NewSubsidyEngine(store Store) *SubsidyEngine {
	return &SubsidyEngine{Store: store, Caps: DefaultCaps(), now: time.Now}
}

// WithClock overrides the clock for testing.
func (e *SubsidyEngine) WithClock(clock func() time.Time) *SubsidyEngine {
	e.now = clock
	return e
}

// Apply debits in.SubsidyAmount from the route's pool. Fails with
// ErrPoolNotFound if the route has never generated surplus, and with
// ErrInsufficientBalance if the pool cannot cover the full amount.
func (e *SubsidyEngine) Apply(ctx context.Context, in SubsidyInput) (SubsidyResult, error) {
	if !in.SubsidyAmount.IsPositive() {
		return SubsidyResult{}, &InvalidInputError{Field: "subsidy_amount", Reason: "must be positive"}
	}
	if in.PassengerCount < 0 {
		return SubsidyResult{}, &InvalidInputError{Field: "passenger_count", Reason: "must not be negative"}
	}

	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		p, err := e.Store.Get(ctx, in.Tenant, in.Route)
		if err != nil {
			return SubsidyResult{}, err
		}

		if e.EnforceCaps && in.ServiceCost.IsPositive() {
			maxDraw := e.Caps.MaxDraw(p.AvailableForSubsidy, in.ServiceCost)
			if in.SubsidyAmount.GreaterThan(maxDraw) {
				return SubsidyResult{}, &InvalidInputError{
					Field:  "subsidy_amount",
					Reason: fmt.Sprintf("exceeds cap of %s", maxDraw.StringFixed(2)),
				}
			}
		}

		if p.AvailableForSubsidy.LessThan(in.SubsidyAmount) {
			return SubsidyResult{}, &InsufficientBalanceError{
				PoolID:    p.ID,
				Available: p.AvailableForSubsidy.StringFixed(2),
				Requested: in.SubsidyAmount.StringFixed(2),
				Shortfall: in.SubsidyAmount.Sub(p.AvailableForSubsidy).StringFixed(2),
			}
		}

		now := e.now().UTC()
		before := p.AvailableForSubsidy

		// AccumulatedSurplus partitions into the four buckets, so the debit
		// reduces it in step with the balance. LifetimeGrossSurplus keeps
		// the monotone lifetime view.
		p.AvailableForSubsidy = p.AvailableForSubsidy.Sub(in.SubsidyAmount)
		p.AccumulatedSurplus = p.AccumulatedSurplus.Sub(in.SubsidyAmount)
		p.LifetimeTotalCosts = p.LifetimeTotalCosts.Add(in.ServiceCost)
		p.LifetimeTotalRevenue = p.LifetimeTotalRevenue.Add(in.TotalRevenue)
		p.TotalServicesRun++
		p.TotalSubsidizedServices++
		p.UpdatedAt = now

		tx := SurplusTransaction{
			ID:            newTransactionID(),
			PoolID:        p.ID,
			Type:          TxSubsidyApplied,
			Amount:        in.SubsidyAmount,
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
			return SubsidyResult{}, err
		}
		return SubsidyResult{Transaction: tx, Pool: p}, nil
	}

	return SubsidyResult{}, fmt.Errorf("apply subsidy for %s/%s: %w", in.Tenant, in.Route, ErrConflict)
}
