package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopfleet/surplus-engine/api"
	"github.com/coopfleet/surplus-engine/config"
	"github.com/coopfleet/surplus-engine/costing"
	"github.com/coopfleet/surplus-engine/pool/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const routeBase = "/api/tenants/coop-1/routes/route-7"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg, err := config.Load("nonexistent.yaml") // defaults
	require.NoError(t, err)

	pools := store.NewMemory()
	costs := costing.NewMemoryStore()
	handler := api.NewHandler(pools, pools, costs, cfg)

	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func getJSON(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// =============================================================================
// POOL ENDPOINTS
// =============================================================================

func TestInitializePool_Idempotent(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, routeBase+"/pool", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[api.PoolDTO](t, resp)
	assert.Equal(t, "pool-coop-1-route-7", first.ID)
	assert.Equal(t, 0.0, first.AvailableForSubsidy)

	resp = postJSON(t, srv, routeBase+"/pool", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decode[api.PoolDTO](t, resp)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetPool_NotFound(t *testing.T) {
	srv := newTestServer(t)

	resp := getJSON(t, srv, routeBase+"/pool")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "pool_not_found", body.Code)
}

// =============================================================================
// ALLOCATE -> STATISTICS -> TRANSACTIONS FLOW
// =============================================================================

func TestAllocateStatisticsTransactionsFlow(t *testing.T) {
	// GIVEN: A fresh route
	// WHEN: Allocating 100 with a 20/20/40 split
	// THEN: 20 lands in the pool, statistics and the ledger reflect it

	srv := newTestServer(t)
	pct := func(v float64) *float64 { return &v }

	resp := postJSON(t, srv, routeBase+"/surplus/allocate", api.AllocateSurplusRequest{
		TimetableID:     "tt-0800",
		ServiceDate:     "2026-03-10",
		GrossSurplus:    100,
		ReservesPercent: pct(20),
		BusinessPercent: pct(20),
		DividendPercent: pct(40),
		TotalRevenue:    300,
		TotalCost:       200,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	alloc := decode[api.AllocationResultDTO](t, resp)
	assert.Equal(t, 20.0, alloc.ToReserves)
	assert.Equal(t, 40.0, alloc.ToDividends)
	assert.Equal(t, 20.0, alloc.ToPool)
	assert.Equal(t, 100.0, alloc.Pool.AccumulatedSurplus)
	assert.Equal(t, 20.0, alloc.Pool.AvailableForSubsidy)

	resp = getJSON(t, srv, routeBase+"/statistics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stats := decode[api.StatisticsDTO](t, resp)
	assert.Equal(t, 100.0, stats.ProfitabilityRate)
	assert.Equal(t, int64(1), stats.Pool.TotalServicesRun)
	assert.Equal(t, 300.0, stats.Pool.LifetimeTotalRevenue)

	resp = getJSON(t, srv, routeBase+"/transactions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[api.TransactionPageDTO](t, resp)
	assert.Equal(t, 1, page.Count)
	assert.Equal(t, 50, page.Limit, "default limit echoed")
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, "surplus_added", page.Transactions[0].Type)
	assert.Equal(t, 20.0, page.Transactions[0].Amount, "ledger records the pool-credited remainder")
	assert.Equal(t, "2026-03-10", page.Transactions[0].ServiceDate)
}

func TestAllocate_InvalidSurplus(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, routeBase+"/surplus/allocate", api.AllocateSurplusRequest{
		GrossSurplus: -10,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "invalid_input", body.Code)
}

func TestAllocate_BadServiceDate(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, routeBase+"/surplus/allocate", api.AllocateSurplusRequest{
		GrossSurplus: 10,
		ServiceDate:  "10/03/2026",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// SUBSIDY ENDPOINTS
// =============================================================================

// fundRoute puts the full surplus into the subsidy bucket.
func fundRoute(t *testing.T, srv *httptest.Server, amount float64) {
	t.Helper()
	pct := func(v float64) *float64 { return &v }
	resp := postJSON(t, srv, routeBase+"/surplus/allocate", api.AllocateSurplusRequest{
		TimetableID:     "tt-seed",
		GrossSurplus:    amount,
		ReservesPercent: pct(0),
		BusinessPercent: pct(0),
		DividendPercent: pct(0),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestPreviewSubsidy(t *testing.T) {
	// GIVEN: 200 available and default caps/fare from config
	// THEN: The preview quotes min(200*50%, 100*30%) = 30

	srv := newTestServer(t)
	fundRoute(t, srv, 200)

	resp := postJSON(t, srv, routeBase+"/subsidy/preview", api.CalculateSubsidyRequest{
		ServiceCost: 100,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	quote := decode[api.SubsidyQuoteDTO](t, resp)
	assert.Equal(t, 30.0, quote.AvailableSubsidy, "min(200*50%, 100*30%)")
	assert.Equal(t, 30.0, quote.SubsidyApplied)
	assert.Equal(t, 70.0, quote.EffectiveCost)
	assert.Equal(t, int64(28), quote.MinimumPassengersNeeded, "70 / 2.50 fare")
	assert.Equal(t, 4.38, quote.BreakEvenFare, "70 / 16 seats")
	assert.Equal(t, "pool-coop-1-route-7", quote.SubsidySource)
}

func TestPreviewSubsidy_CapOverrides(t *testing.T) {
	srv := newTestServer(t)
	fundRoute(t, srv, 200)
	pct := func(v float64) *float64 { return &v }

	resp := postJSON(t, srv, routeBase+"/subsidy/preview", api.CalculateSubsidyRequest{
		ServiceCost:       100,
		MaxSurplusPercent: pct(10),
		MaxServicePercent: pct(90),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	quote := decode[api.SubsidyQuoteDTO](t, resp)
	assert.Equal(t, 20.0, quote.SubsidyApplied, "pool cap 200*10% binds")
}

func TestApplySubsidy_Success(t *testing.T) {
	srv := newTestServer(t)
	fundRoute(t, srv, 50)

	resp := postJSON(t, srv, routeBase+"/subsidy/apply", api.ApplySubsidyRequest{
		TimetableID:    "tt-2200",
		ServiceDate:    "2026-03-10",
		SubsidyAmount:  30,
		PassengerCount: 4,
		ServiceCost:    80,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result := decode[api.SubsidyResultDTO](t, resp)
	assert.Equal(t, 20.0, result.Pool.AvailableForSubsidy)
	assert.Equal(t, "subsidy_applied", result.Transaction.Type)
	assert.Equal(t, 50.0, result.Transaction.BalanceBefore)
	assert.Equal(t, 20.0, result.Transaction.BalanceAfter)
}

func TestApplySubsidy_Insufficient(t *testing.T) {
	srv := newTestServer(t)
	fundRoute(t, srv, 10)

	resp := postJSON(t, srv, routeBase+"/subsidy/apply", api.ApplySubsidyRequest{
		SubsidyAmount: 30,
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "insufficient_pool_balance", body.Code)
}

func TestApplySubsidy_UnknownRoute(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, routeBase+"/subsidy/apply", api.ApplySubsidyRequest{
		SubsidyAmount: 30,
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[api.ErrorResponse](t, resp)
	assert.Equal(t, "pool_not_found", body.Code)
}

// =============================================================================
// COSTING & SETTLEMENT ENDPOINTS
// =============================================================================

func TestSubmitCostAndSettle(t *testing.T) {
	// GIVEN: One profitable and one loss-making cost record
	// WHEN: A settlement pass runs
	// THEN: The surplus is allocated and the loss draws a subsidy

	srv := newTestServer(t)
	fundRoute(t, srv, 200)

	resp := postJSON(t, srv, routeBase+"/costs", api.SubmitCostRequest{
		TimetableID:    "tt-0800",
		ServiceDate:    "2026-03-10",
		TotalCost:      80,
		TotalRevenue:   100,
		PassengerCount: 32,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rec := decode[api.CostRecordDTO](t, resp)
	assert.Equal(t, 20.0, rec.NetSurplus)
	assert.Equal(t, "pending", rec.Status)

	resp = postJSON(t, srv, routeBase+"/costs", api.SubmitCostRequest{
		TimetableID:    "tt-2200",
		ServiceDate:    "2026-03-10",
		TotalCost:      100,
		TotalRevenue:   50,
		PassengerCount: 6,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv, "/api/settlement/run", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	summary := decode[api.SettlementSummaryDTO](t, resp)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Allocated)
	assert.Equal(t, 1, summary.Subsidized)
	assert.Equal(t, 0, summary.Failed)

	resp = getJSON(t, srv, routeBase+"/costs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	recs := decode[[]api.CostRecordDTO](t, resp)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, "settled", r.Status)
	}
}

func TestSubmitCost_Validation(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, routeBase+"/costs", api.SubmitCostRequest{
		ServiceDate: "2026-03-10", TotalCost: 80, TotalRevenue: 100,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing timetable_id")

	resp = postJSON(t, srv, routeBase+"/costs", api.SubmitCostRequest{
		TimetableID: "tt-0800", TotalCost: -1,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "negative cost")
}

// =============================================================================
// PAGINATION & ADMIN
// =============================================================================

func TestListTransactions_PaginationEcho(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 3; i++ {
		fundRoute(t, srv, 10)
	}

	resp := getJSON(t, srv, fmt.Sprintf("%s/transactions?limit=%d&offset=%d", routeBase, 2, 1))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[api.TransactionPageDTO](t, resp)
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, 1, page.Offset)
	assert.Equal(t, 3, page.Count)
	assert.Len(t, page.Transactions, 2)

	resp = getJSON(t, srv, routeBase+"/transactions?limit=9999")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decode[api.TransactionPageDTO](t, resp)
	assert.Equal(t, 200, page.Limit, "limit clamped to maximum")
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp := getJSON(t, srv, "/api/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestReset_UnavailableWithoutResetter(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv, "/api/reset", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
