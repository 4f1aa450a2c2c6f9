/*
Package pool implements the route surplus pool and subsidy ledger.

PURPOSE:
  A cooperative transport route cross-subsidizes its own loss-making
  service runs using the surplus generated by its profitable runs. This
  package owns the financial state of that mechanism: one SurplusPool
  per (tenant, route) split across reserve/business/dividend/subsidy
  purposes, and an append-only SurplusTransaction ledger recording every
  balance-changing event with before/after balances.

KEY CONCEPTS IN THIS FILE (types.go):
  - SurplusPool: The mutable pool row, with lifetime rollups and counters
  - SurplusTransaction: An immutable ledger entry
  - AllocationSplit / AllocationBreakdown: Percentage split of a surplus
  - SubsidyQuote: Non-mutating preview of a possible subsidy
  - Tenant/Route/Pool/Transaction IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Conservation: accumulated surplus always equals the sum of the four
     purpose buckets; breakdowns are computed by subtraction, never by
     summing independently rounded parts
  2. Precision: decimal.Decimal everywhere, no floating point money
  3. Immutability: ledger entries are never modified or deleted
  4. Append-only history: the pool's lifetime fields only grow

SEE ALSO:
  - store.go: Persistence contracts and the atomic Apply unit
  - allocate.go / subsidy.go: The only two mutating operations
  - calculator.go: Pure subsidy preview
*/
package pool

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type RouteID string
type PoolID string
type TransactionID string

// =============================================================================
// MONEY HELPERS
// =============================================================================

var hundred = decimal.NewFromInt(100)

// Money builds a decimal amount from a float (API boundary only; internal
// arithmetic stays in decimal).
func Money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// MustParseDecimal parses s, panicking on malformed input. For literals
// and other trusted sources; persisted values go through error-returning
// parses in the stores.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("malformed decimal %q: %v", s, err))
	}
	return d
}

// Percent applies pct (0-100) to amount, rounded to cents.
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred).Round(2)
}

// =============================================================================
// SURPLUS POOL - One mutable row per (tenant, route)
// =============================================================================

// SurplusPool holds the cross-subsidy funds of a single route.
//
// INVARIANTS:
//   - AccumulatedSurplus == AvailableForSubsidy + ReservedForReserves +
//     ReservedForBusiness + TotalDistributedDividends
//   - AvailableForSubsidy >= 0
//   - All Lifetime* fields and Total* counters are non-decreasing
//
// Pools are created lazily on a route's first allocation and never deleted.
// All mutations go through the allocation and subsidy engines; direct field
// writes would bypass the invariants.
type SurplusPool struct {
	ID       PoolID
	TenantID TenantID
	RouteID  RouteID

	// Purpose buckets. AccumulatedSurplus is the total currently held
	// across all purposes; the four buckets below partition it exactly.
	AccumulatedSurplus        decimal.Decimal
	AvailableForSubsidy       decimal.Decimal
	ReservedForReserves       decimal.Decimal
	ReservedForBusiness       decimal.Decimal
	TotalDistributedDividends decimal.Decimal

	// Lifetime rollups across every service run posted to this pool.
	LifetimeTotalRevenue decimal.Decimal
	LifetimeTotalCosts   decimal.Decimal
	LifetimeGrossSurplus decimal.Decimal

	TotalServicesRun        int64
	TotalProfitableServices int64
	TotalSubsidizedServices int64

	// Version guards the atomic read-modify-write cycle. Apply rejects a
	// snapshot whose version no longer matches the stored row.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSurplusPool returns an empty pool for a route. Stores call this on
// first GetOrCreate; callers never construct pools directly.
func NewSurplusPool(tenant TenantID, route RouteID, now time.Time) SurplusPool {
	return SurplusPool{
		ID:                        PoolIDFor(tenant, route),
		TenantID:                  tenant,
		RouteID:                   route,
		AccumulatedSurplus:        decimal.Zero,
		AvailableForSubsidy:       decimal.Zero,
		ReservedForReserves:       decimal.Zero,
		ReservedForBusiness:       decimal.Zero,
		TotalDistributedDividends: decimal.Zero,
		LifetimeTotalRevenue:      decimal.Zero,
		LifetimeTotalCosts:        decimal.Zero,
		LifetimeGrossSurplus:      decimal.Zero,
		Version:                   1,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	}
}

// PoolIDFor derives the deterministic pool identifier for a route.
func PoolIDFor(tenant TenantID, route RouteID) PoolID {
	return PoolID("pool-" + string(tenant) + "-" + string(route))
}

// ConservationHolds reports whether the four purpose buckets still sum to
// the accumulated surplus.
func (p SurplusPool) ConservationHolds() bool {
	sum := p.AvailableForSubsidy.
		Add(p.ReservedForReserves).
		Add(p.ReservedForBusiness).
		Add(p.TotalDistributedDividends)
	return sum.Equal(p.AccumulatedSurplus)
}

// =============================================================================
// SURPLUS TRANSACTION - Immutable ledger entry
// =============================================================================

type TransactionType string

const (
	TxSurplusAdded   TransactionType = "surplus_added"   // allocation credited the pool
	TxSubsidyApplied TransactionType = "subsidy_applied" // subsidy debited the pool
)

// SurplusTransaction records one change to a pool's available-for-subsidy
// balance. Amount is always positive; the type carries the sign.
//
// INVARIANT: BalanceAfter == BalanceBefore + Amount (surplus_added)
//            BalanceAfter == BalanceBefore - Amount (subsidy_applied)
type SurplusTransaction struct {
	ID     TransactionID
	PoolID PoolID
	Type   TransactionType
	Amount decimal.Decimal

	// AvailableForSubsidy observed immediately before/after this entry.
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal

	// Reference to the originating service run.
	TimetableID string
	ServiceDate time.Time
	CostID      string

	CreatedAt time.Time
}

// =============================================================================
// ALLOCATION SPLIT - Percentage distribution of a gross surplus
// =============================================================================

// AllocationSplit names the three earmarked percentages. The remainder
// (100 - reserves - business - dividends) flows to available-for-subsidy.
type AllocationSplit struct {
	ReservesPercent decimal.Decimal
	BusinessPercent decimal.Decimal
	DividendPercent decimal.Decimal
}

// DefaultSplit is the cooperative's standard 20/20/60 distribution, which
// leaves nothing in the subsidy bucket unless the caller overrides it.
func DefaultSplit() AllocationSplit {
	return AllocationSplit{
		ReservesPercent: decimal.NewFromInt(20),
		BusinessPercent: decimal.NewFromInt(20),
		DividendPercent: decimal.NewFromInt(60),
	}
}

// Validate checks each percentage is non-negative and the sum is at most 100.
func (s AllocationSplit) Validate() error {
	for _, pct := range []decimal.Decimal{s.ReservesPercent, s.BusinessPercent, s.DividendPercent} {
		if pct.IsNegative() {
			return &InvalidInputError{Field: "percentages", Reason: "percentage must not be negative"}
		}
	}
	if s.ReservesPercent.Add(s.BusinessPercent).Add(s.DividendPercent).GreaterThan(hundred) {
		return &InvalidInputError{Field: "percentages", Reason: "percentages must sum to at most 100"}
	}
	return nil
}

// AllocationBreakdown is the exact four-way split of one gross surplus.
// ToPool is computed by subtraction so the parts always sum to the input.
type AllocationBreakdown struct {
	ToReserves  decimal.Decimal
	ToBusiness  decimal.Decimal
	ToDividends decimal.Decimal
	ToPool      decimal.Decimal
}

// SplitSurplus distributes grossSurplus per the split. The three named
// parts are rounded to cents; the pool remainder absorbs rounding so that
// ToReserves+ToBusiness+ToDividends+ToPool == grossSurplus exactly.
func SplitSurplus(grossSurplus decimal.Decimal, split AllocationSplit) AllocationBreakdown {
	b := AllocationBreakdown{
		ToReserves:  Percent(grossSurplus, split.ReservesPercent),
		ToBusiness:  Percent(grossSurplus, split.BusinessPercent),
		ToDividends: Percent(grossSurplus, split.DividendPercent),
	}
	b.ToPool = grossSurplus.Sub(b.ToReserves).Sub(b.ToBusiness).Sub(b.ToDividends)
	return b
}

// =============================================================================
// SERVICE RUN REFERENCE - Shared input of both engines
// =============================================================================

// ServiceRef identifies the service run an engine call originates from.
// The costing collaborator owns the underlying record; the pool only keeps
// the reference for the audit trail.
type ServiceRef struct {
	TimetableID string
	ServiceDate time.Time
	CostID      string
}

// =============================================================================
// SUBSIDY QUOTE - Output of the pure calculator
// =============================================================================

// SubsidyQuote is a planning preview: how much a loss-making service could
// draw from the pool under the configured caps, and what the service
// economics look like after the draw. Producing a quote never mutates the
// pool, so quotes go stale the moment another operation commits.
type SubsidyQuote struct {
	ServiceCost      decimal.Decimal
	AvailableSubsidy decimal.Decimal
	SubsidyApplied   decimal.Decimal
	EffectiveCost    decimal.Decimal

	// Derived from the route's per-seat revenue model.
	MinimumPassengersNeeded int64
	BreakEvenFare           decimal.Decimal

	SubsidySource PoolID
}

// SeatRevenueModel derives passenger economics from a service's effective
// (post-subsidy) cost. Route configuration supplies the model; the
// calculator treats it as opaque.
type SeatRevenueModel func(effectiveCost decimal.Decimal) (minimumPassengers int64, breakEvenFare decimal.Decimal)

// FlatFareModel is the default model: a fixed expected fare per passenger
// and a fixed seat capacity per service run.
func FlatFareModel(expectedFare decimal.Decimal, seatCapacity int64) SeatRevenueModel {
	return func(effectiveCost decimal.Decimal) (int64, decimal.Decimal) {
		var minPassengers int64
		if expectedFare.IsPositive() && effectiveCost.IsPositive() {
			minPassengers = effectiveCost.Div(expectedFare).Ceil().IntPart()
		}
		breakEven := decimal.Zero
		if seatCapacity > 0 {
			breakEven = effectiveCost.Div(decimal.NewFromInt(seatCapacity)).Round(2)
		}
		return minPassengers, breakEven
	}
}

// =============================================================================
// STATISTICS - Read-only transparency view
// =============================================================================

// Statistics is the transparency snapshot served to members: the pool
// state plus derived rates.
type Statistics struct {
	Pool SurplusPool

	// ProfitabilityRate is TotalProfitableServices / TotalServicesRun * 100,
	// zero when the route has never run a service.
	ProfitabilityRate decimal.Decimal
}

// TransactionPage is one page of ledger history, most recent first.
type TransactionPage struct {
	Transactions []SurplusTransaction
	Limit        int
	Offset       int
	Count        int // total entries for the pool, not the page size
}
