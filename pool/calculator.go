/*
calculator.go - Pure subsidy preview

PURPOSE:
  Answers "how much could this loss-making service draw from the pool?"
  without touching the pool. Planners call this any number of times
  before committing to a subsidized timetable slot; the quote is
  advisory and goes stale as soon as another operation commits.

CAPS:
  Two caps bound a single service's draw:
  - MaxSurplusPercent: fraction of the pool balance usable for one service
  - MaxServicePercent: fraction of the service's own cost eligible
  The preview takes the minimum of the two.

SEE ALSO:
  - subsidy.go: The mutating counterpart (balance check always enforced,
    cap re-validation optional)
*/
package pool

import "github.com/shopspring/decimal"

// =============================================================================
// CAPS
// =============================================================================

// Caps bound how much of the pool a single service run may draw.
type Caps struct {
	MaxSurplusPercent decimal.Decimal
	MaxServicePercent decimal.Decimal
}

// DefaultCaps: at most half the pool, at most 30% of the service's cost.
func DefaultCaps() Caps {
	return Caps{
		MaxSurplusPercent: decimal.NewFromInt(50),
		MaxServicePercent: decimal.NewFromInt(30),
	}
}

func (c Caps) Validate() error {
	for _, pct := range []decimal.Decimal{c.MaxSurplusPercent, c.MaxServicePercent} {
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return &InvalidInputError{Field: "caps", Reason: "cap percentage must be between 0 and 100"}
		}
	}
	return nil
}

// MaxDraw is the largest subsidy the caps allow for serviceCost against the
// given pool balance.
func (c Caps) MaxDraw(available, serviceCost decimal.Decimal) decimal.Decimal {
	fromPool := Percent(available, c.MaxSurplusPercent)
	fromService := Percent(serviceCost, c.MaxServicePercent)
	if fromService.LessThan(fromPool) {
		return fromService
	}
	return fromPool
}

// =============================================================================
// CALCULATOR
// =============================================================================

// CalculateSubsidy previews the subsidy a service could draw from the pool.
// serviceCost must be positive. model may be nil when the caller does not
// need passenger economics.
func CalculateSubsidy(p SurplusPool, serviceCost decimal.Decimal, caps Caps, model SeatRevenueModel) (SubsidyQuote, error) {
	if !serviceCost.IsPositive() {
		return SubsidyQuote{}, &InvalidInputError{Field: "service_cost", Reason: "must be positive"}
	}
	if err := caps.Validate(); err != nil {
		return SubsidyQuote{}, err
	}

	// The quote's available subsidy IS the capped minimum, and the full
	// quoted amount is what a commit would apply.
	available := caps.MaxDraw(p.AvailableForSubsidy, serviceCost)

	quote := SubsidyQuote{
		ServiceCost:      serviceCost,
		AvailableSubsidy: available,
		SubsidyApplied:   available,
		EffectiveCost:    serviceCost.Sub(available),
		SubsidySource:    p.ID,
	}
	if model != nil {
		quote.MinimumPassengersNeeded, quote.BreakEvenFare = model(quote.EffectiveCost)
	}
	return quote, nil
}
