package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopfleet/surplus-engine/costing"
	"github.com/coopfleet/surplus-engine/pool"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	testTenant = pool.TenantID("coop-1")
	testRoute  = pool.RouteID("route-7")
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// commitAllocation writes one surplus_added entry through the optimistic
// Apply path, the way the allocation engine does.
func commitAllocation(t *testing.T, store *Store, amount decimal.Decimal, costID string) pool.SurplusPool {
	t.Helper()
	ctx := context.Background()

	p, err := store.GetOrCreate(ctx, testTenant, testRoute)
	require.NoError(t, err)

	before := p.AvailableForSubsidy
	p.AvailableForSubsidy = p.AvailableForSubsidy.Add(amount)
	p.AccumulatedSurplus = p.AccumulatedSurplus.Add(amount)
	p.LifetimeGrossSurplus = p.LifetimeGrossSurplus.Add(amount)
	p.TotalServicesRun++
	p.TotalProfitableServices++
	p.UpdatedAt = time.Now().UTC()

	err = store.Apply(ctx, p, pool.SurplusTransaction{
		ID:            pool.TransactionID("stx-" + costID),
		PoolID:        p.ID,
		Type:          pool.TxSurplusAdded,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  p.AvailableForSubsidy,
		CostID:        costID,
		CreatedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)
	return p
}

// =============================================================================
// POOL STORE
// =============================================================================

func TestGetOrCreate_Idempotent(t *testing.T) {
	// GIVEN: A brand-new route
	// WHEN: GetOrCreate runs twice
	// THEN: Both calls see the same empty row

	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, testTenant, testRoute)
	require.NoError(t, err)
	assert.Equal(t, pool.PoolIDFor(testTenant, testRoute), first.ID)
	assert.True(t, first.AvailableForSubsidy.IsZero())
	assert.Equal(t, int64(1), first.Version)

	second, err := store.GetOrCreate(ctx, testTenant, testRoute)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Version, second.Version)
}

func TestGet_UnknownRoute(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), testTenant, "route-ghost")
	assert.ErrorIs(t, err, pool.ErrPoolNotFound)
}

func TestApply_PersistsPoolAndLedgerTogether(t *testing.T) {
	// The committed pool row and its ledger entry must both be visible
	// after Apply returns.

	store := newTestStore(t)
	ctx := context.Background()

	commitAllocation(t, store, dec(100), "cost-1")

	p, err := store.Get(ctx, testTenant, testRoute)
	require.NoError(t, err)
	assert.True(t, p.AvailableForSubsidy.Equal(dec(100)))
	assert.Equal(t, int64(2), p.Version, "version advanced by Apply")
	assert.Equal(t, int64(1), p.TotalServicesRun)
	assert.True(t, p.ConservationHolds())

	txs, count, err := store.Transactions(ctx, testTenant, testRoute, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, txs, 1)
	assert.Equal(t, pool.TxSurplusAdded, txs[0].Type)
	assert.True(t, txs[0].BalanceBefore.IsZero())
	assert.True(t, txs[0].BalanceAfter.Equal(dec(100)))
	assert.Equal(t, "cost-1", txs[0].CostID)
}

func TestApply_StaleVersionConflicts(t *testing.T) {
	// GIVEN: Two snapshots of the same pool row
	// WHEN: Both try to Apply
	// THEN: The second one fails with ErrConflict and leaves no ledger entry

	store := newTestStore(t)
	ctx := context.Background()

	snapA, err := store.GetOrCreate(ctx, testTenant, testRoute)
	require.NoError(t, err)
	snapB := snapA

	snapA.AvailableForSubsidy = dec(10)
	snapA.AccumulatedSurplus = dec(10)
	err = store.Apply(ctx, snapA, pool.SurplusTransaction{
		ID: "stx-a", PoolID: snapA.ID, Type: pool.TxSurplusAdded,
		Amount: dec(10), BalanceAfter: dec(10), CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	snapB.AvailableForSubsidy = dec(20)
	err = store.Apply(ctx, snapB, pool.SurplusTransaction{
		ID: "stx-b", PoolID: snapB.ID, Type: pool.TxSurplusAdded,
		Amount: dec(20), BalanceAfter: dec(20), CreatedAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, pool.ErrConflict)

	// The losing write rolled back in full.
	p, err := store.Get(ctx, testTenant, testRoute)
	require.NoError(t, err)
	assert.True(t, p.AvailableForSubsidy.Equal(dec(10)))

	_, count, err := store.Transactions(ctx, testTenant, testRoute, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTransactions_PaginationAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	commitAllocation(t, store, dec(10), "cost-1")
	commitAllocation(t, store, dec(20), "cost-2")
	commitAllocation(t, store, dec(30), "cost-3")

	txs, count, err := store.Transactions(ctx, testTenant, testRoute, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.Len(t, txs, 2)
	assert.Equal(t, "cost-3", txs[0].CostID, "newest first")
	assert.Equal(t, "cost-2", txs[1].CostID)

	txs, count, err = store.Transactions(ctx, testTenant, testRoute, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	require.Len(t, txs, 1)
	assert.Equal(t, "cost-1", txs[0].CostID)
}

func TestPools_CorruptDecimalColumnSurfacesError(t *testing.T) {
	// A corrupt money column must come back as an error, not a silent
	// zero balance.

	store := newTestStore(t)
	ctx := context.Background()

	commitAllocation(t, store, dec(100), "cost-1")

	_, err := store.db.ExecContext(ctx,
		"UPDATE surplus_pools SET available_for_subsidy = 'garbage' WHERE tenant_id = ?", testTenant)
	require.NoError(t, err)

	_, err = store.Get(ctx, testTenant, testRoute)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available_for_subsidy")
}

func TestPools_DecimalRoundTrip(t *testing.T) {
	// Money is stored as text; awkward cents must survive a round trip.
	store := newTestStore(t)
	ctx := context.Background()

	amount := pool.MustParseDecimal("33.33")
	commitAllocation(t, store, amount, "cost-1")

	p, err := store.Get(ctx, testTenant, testRoute)
	require.NoError(t, err)
	assert.True(t, p.AvailableForSubsidy.Equal(amount), "got %s", p.AvailableForSubsidy)
}

// =============================================================================
// SERVICE COST STORE
// =============================================================================

func TestCostRecords_Lifecycle(t *testing.T) {
	// GIVEN: A saved pending record
	// WHEN: Settling it
	// THEN: It leaves the pending queue and carries the settlement note

	store := newTestStore(t)
	ctx := context.Background()

	rec := costing.NewRecord(testTenant, testRoute, "tt-0800",
		time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC),
		pool.MustParseDecimal("80"), pool.MustParseDecimal("100"), 32)
	require.NoError(t, store.Save(ctx, rec))

	loaded, err := store.Find(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, costing.StatusPending, loaded.Status)
	assert.True(t, loaded.NetSurplus.Equal(pool.MustParseDecimal("20")))
	assert.Equal(t, int64(32), loaded.PassengerCount)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.MarkSettled(ctx, rec.ID, costing.StatusSettled, "surplus allocated"))

	pending, err = store.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	settled, err := store.Find(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, costing.StatusSettled, settled.Status)
	assert.Equal(t, "surplus allocated", settled.Note)
	assert.NotNil(t, settled.SettledAt)
}

func TestCostRecords_ListByRouteNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC)

	first := costing.NewRecord(testTenant, testRoute, "tt-0800", day, dec(80), dec(100), 30)
	second := costing.NewRecord(testTenant, testRoute, "tt-1700", day, dec(90), dec(70), 12)
	require.NoError(t, store.Save(ctx, first))
	require.NoError(t, store.Save(ctx, second))

	recs, err := store.ListByRoute(ctx, testTenant, testRoute)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, second.ID, recs[0].ID)
	assert.Equal(t, first.ID, recs[1].ID)
}

func TestMarkSettled_UnknownRecord(t *testing.T) {
	store := newTestStore(t)

	err := store.MarkSettled(context.Background(), "cost-missing", costing.StatusSettled, "")
	assert.ErrorIs(t, err, costing.ErrRecordNotFound)
}

func TestReset_ClearsEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	commitAllocation(t, store, dec(50), "cost-1")
	rec := costing.NewRecord(testTenant, testRoute, "tt-0800",
		time.Now().UTC(), dec(80), dec(100), 30)
	require.NoError(t, store.Save(ctx, rec))

	require.NoError(t, store.Reset(ctx))

	_, err := store.Find(ctx, rec.ID)
	assert.ErrorIs(t, err, costing.ErrRecordNotFound)

	_, err = store.Get(ctx, testTenant, testRoute)
	assert.ErrorIs(t, err, pool.ErrPoolNotFound)

	_, count, err := store.Transactions(ctx, testTenant, testRoute, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}
