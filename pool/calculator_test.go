package pool_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopfleet/surplus-engine/pool"
)

// =============================================================================
// SUBSIDY CALCULATOR
// =============================================================================

func TestCalculateSubsidy_ServiceCapBinds(t *testing.T) {
	// GIVEN: 200 available, a 100 service cost, default caps (50%/30%)
	// WHEN: Quoting a subsidy
	// THEN: min(200*50%, 100*30%) = 30, effective cost 70

	p := pool.NewSurplusPool(testTenant, testRoute, testTime())
	p.AvailableForSubsidy = dec(200)
	p.AccumulatedSurplus = dec(200)

	quote, err := pool.CalculateSubsidy(p, dec(100), pool.DefaultCaps(), nil)
	require.NoError(t, err)

	assert.True(t, quote.AvailableSubsidy.Equal(dec(30)), "available: %s", quote.AvailableSubsidy)
	assert.True(t, quote.SubsidyApplied.Equal(quote.AvailableSubsidy), "applied equals available")
	assert.True(t, quote.EffectiveCost.Equal(dec(70)))
	assert.Equal(t, p.ID, quote.SubsidySource)
}

func TestCalculateSubsidy_PoolCapBinds(t *testing.T) {
	// GIVEN: Only 40 available against a 1000 service cost
	// THEN: The pool-percentage cap binds: 40*50% = 20

	p := pool.NewSurplusPool(testTenant, testRoute, testTime())
	p.AvailableForSubsidy = dec(40)
	p.AccumulatedSurplus = dec(40)

	quote, err := pool.CalculateSubsidy(p, dec(1000), pool.DefaultCaps(), nil)
	require.NoError(t, err)

	assert.True(t, quote.SubsidyApplied.Equal(dec(20)))
	assert.True(t, quote.EffectiveCost.Equal(dec(980)))
}

func TestCalculateSubsidy_EmptyPool(t *testing.T) {
	// An empty pool quotes a zero subsidy, not an error.
	p := pool.NewSurplusPool(testTenant, testRoute, testTime())

	quote, err := pool.CalculateSubsidy(p, dec(100), pool.DefaultCaps(), nil)
	require.NoError(t, err)

	assert.True(t, quote.SubsidyApplied.IsZero())
	assert.True(t, quote.EffectiveCost.Equal(dec(100)))
}

func TestCalculateSubsidy_NonPositiveCost(t *testing.T) {
	p := pool.NewSurplusPool(testTenant, testRoute, testTime())

	_, err := pool.CalculateSubsidy(p, decimal.Zero, pool.DefaultCaps(), nil)
	assert.ErrorIs(t, err, pool.ErrInvalidInput)

	_, err = pool.CalculateSubsidy(p, dec(-10), pool.DefaultCaps(), nil)
	assert.ErrorIs(t, err, pool.ErrInvalidInput)
}

func TestCalculateSubsidy_SeatModel(t *testing.T) {
	// GIVEN: A 2.50 flat fare with 16 seats and an effective cost of 70
	// THEN: 28 passengers break even; break-even fare is 70/16 = 4.38

	p := pool.NewSurplusPool(testTenant, testRoute, testTime())
	p.AvailableForSubsidy = dec(200)
	p.AccumulatedSurplus = dec(200)

	model := pool.FlatFareModel(pool.MustParseDecimal("2.50"), 16)
	quote, err := pool.CalculateSubsidy(p, dec(100), pool.DefaultCaps(), model)
	require.NoError(t, err)

	assert.Equal(t, int64(28), quote.MinimumPassengersNeeded)
	assert.True(t, quote.BreakEvenFare.Equal(pool.MustParseDecimal("4.38")), "fare: %s", quote.BreakEvenFare)
}

func TestCaps_Validate(t *testing.T) {
	assert.NoError(t, pool.DefaultCaps().Validate())

	bad := pool.Caps{MaxSurplusPercent: dec(-1), MaxServicePercent: dec(30)}
	assert.ErrorIs(t, bad.Validate(), pool.ErrInvalidInput)

	bad = pool.Caps{MaxSurplusPercent: dec(50), MaxServicePercent: dec(101)}
	assert.ErrorIs(t, bad.Validate(), pool.ErrInvalidInput)
}

func TestMustParseDecimal(t *testing.T) {
	assert.True(t, pool.MustParseDecimal("33.33").Equal(decimal.NewFromFloat(33.33)))
	assert.Panics(t, func() { pool.MustParseDecimal("not a number") })
}

func TestFlatFareModel_Edges(t *testing.T) {
	// A zero effective cost needs no passengers; a zero fare yields none.
	model := pool.FlatFareModel(pool.MustParseDecimal("2.50"), 16)

	minPassengers, breakEven := model(decimal.Zero)
	assert.Equal(t, int64(0), minPassengers)
	assert.True(t, breakEven.IsZero())

	zeroFare := pool.FlatFareModel(decimal.Zero, 16)
	minPassengers, _ = zeroFare(dec(100))
	assert.Equal(t, int64(0), minPassengers)
}
