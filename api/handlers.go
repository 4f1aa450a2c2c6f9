/*
handlers.go - HTTP API handlers for the surplus pool engine

PURPOSE:
  Exposes the pool engines via REST. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Pool:
    POST /api/tenants/{tenant}/routes/{route}/pool         Initialize (idempotent)
    GET  /api/tenants/{tenant}/routes/{route}/pool         Pool snapshot

  Subsidy:
    POST /api/tenants/{tenant}/routes/{route}/subsidy/preview  Pure preview
    POST /api/tenants/{tenant}/routes/{route}/subsidy/apply    Debit the pool

  Surplus:
    POST /api/tenants/{tenant}/routes/{route}/surplus/allocate Post a surplus

  Transparency:
    GET  /api/tenants/{tenant}/routes/{route}/statistics    Rates + lifetime totals
    GET  /api/tenants/{tenant}/routes/{route}/transactions  Paginated ledger

  Costing:
    POST /api/tenants/{tenant}/routes/{route}/costs         Submit cost record
    GET  /api/tenants/{tenant}/routes/{route}/costs         List cost records
    POST /api/settlement/run                                Manual settlement pass

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: ErrInvalidInput (fix your input)
  - 404: ErrPoolNotFound (route not initialized yet)
  - 409: ErrInsufficientBalance (try a smaller amount)
  - 503: ErrConflict (retry budget exhausted under contention)
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/coopfleet/surplus-engine/config"
	"github.com/coopfleet/surplus-engine/costing"
	"github.com/coopfleet/surplus-engine/pool"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter is implemented by stores that can wipe all data (dev only).
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Pools   pool.Store
	Ledger  pool.Ledger
	Stats   *pool.StatsReader
	Alloc   *pool.AllocationEngine
	Subsidy *pool.SubsidyEngine
	Costs   costing.Store
	Settler *costing.Settler

	DefaultSplit pool.AllocationSplit
	DefaultCaps  pool.Caps
	FareModel    pool.SeatRevenueModel

	// Resetter is nil in production; the reset endpoint then 404s.
	Resetter Resetter
}

// NewHandler wires the engines over the given stores using cfg defaults.
func NewHandler(pools pool.Store, ledger pool.Ledger, costs costing.Store, cfg *config.Config) *Handler {
	split := pool.AllocationSplit{
		ReservesPercent: decimal.NewFromFloat(cfg.Pool.ReservesPercent),
		BusinessPercent: decimal.NewFromFloat(cfg.Pool.BusinessPercent),
		DividendPercent: decimal.NewFromFloat(cfg.Pool.DividendPercent),
	}
	caps := pool.Caps{
		MaxSurplusPercent: decimal.NewFromFloat(cfg.Pool.MaxSurplusPercent),
		MaxServicePercent: decimal.NewFromFloat(cfg.Pool.MaxServicePercent),
	}

	alloc := pool.NewAllocationEngine(pools)
	subsidy := pool.NewSubsidyEngine(pools)
	subsidy.EnforceCaps = cfg.Pool.EnforceCaps
	subsidy.Caps = caps

	settler := costing.NewSettler(costs, pools, alloc, subsidy)
	settler.Caps = caps
	settler.Split = &split

	return &Handler{
		Pools:        pools,
		Ledger:       ledger,
		Stats:        pool.NewStatsReader(pools, ledger),
		Alloc:        alloc,
		Subsidy:      subsidy,
		Costs:        costs,
		Settler:      settler,
		DefaultSplit: split,
		DefaultCaps:  caps,
		FareModel:    pool.FlatFareModel(decimal.NewFromFloat(cfg.Fare.ExpectedFare), cfg.Fare.SeatCapacity),
	}
}

func routeParams(r *http.Request) (pool.TenantID, pool.RouteID) {
	return pool.TenantID(chi.URLParam(r, "tenant")), pool.RouteID(chi.URLParam(r, "route"))
}

// =============================================================================
// POOL HANDLERS
// =============================================================================

// InitializePool lazily creates the pool for a route. Idempotent: calling
// it again returns the existing pool unchanged.
func (h *Handler) InitializePool(w http.ResponseWriter, r *http.Request) {
	tenant, route := routeParams(r)

	p, err := h.Pools.GetOrCreate(r.Context(), tenant, route)
	if err != nil {
		writeDomainError(w, "Failed to initialize pool", err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolDTO(p))
}

// GetPool returns the pool snapshot.
func (h *Handler) GetPool(w http.ResponseWriter, r *http.Request) {
	tenant, route := routeParams(r)

	p, err := h.Pools.Get(r.Context(), tenant, route)
	if err != nil {
		writeDomainError(w, "Failed to get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, toPoolDTO(p))
}

// =============================================================================
// SUBSIDY HANDLERS
// =============================================================================

// PreviewSubsidy runs the pure calculator against the current pool state.
func (h *Handler) PreviewSubsidy(w http.ResponseWriter, r *http.Request) {
	tenant, route := routeParams(r)

	var req CalculateSubsidyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Pools.Get(r.Context(), tenant, route)
	if err != nil {
		writeDomainError(w, "Failed to get pool", err)
		return
	}

	caps := h.DefaultCaps
	if req.MaxSurplusPercent != nil {
		caps.MaxSurplusPercent = decimal.NewFromFloat(*req.MaxSurplusPercent)
	}
	if req.MaxServicePercent != nil {
		caps.MaxServicePercent = decimal.NewFromFloat(*req.MaxServicePercent)
	}

	quote, err := pool.CalculateSubsidy(p, decimal.NewFromFloat(req.ServiceCost), caps, h.FareModel)
	if err != nil {
		writeDomainError(w, "Failed to calculate subsidy", err)
		return
	}

	writeJSON(w, http.StatusOK, SubsidyQuoteDTO{
		ServiceCost:             f64(quote.ServiceCost),
		AvailableSubsidy:        f64(quote.AvailableSubsidy),
		SubsidyApplied:          f64(quote.SubsidyApplied),
		EffectiveCost:           f64(quote.EffectiveCost),
		MinimumPassengersNeeded: quote.MinimumPassengersNeeded,
		BreakEvenFare:           f64(quote.BreakEvenFare),
		SubsidySource:           string(quote.SubsidySource),
	})
}

// ApplySubsidy debits the pool for a loss-making run.
func (h *Handler) ApplySubsidy(w http.ResponseWriter, r *http.Request) {
	tenant, route := routeParams(r)

	var req ApplySubsidyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	serviceDate, ok := parseServiceDate(w, req.ServiceDate)
	if !ok {
		return
	}

	result, err := h.Subsidy.Apply(r.Context(), pool.SubsidyInput{
		Tenant: tenant,
		Route:  route,
		Service: pool.ServiceRef{
			TimetableID: req.TimetableID,
			ServiceDate: serviceDate,
			CostID:      req.CostID,
		},
		SubsidyAmount:  decimal.NewFromFloat(req.SubsidyAmount),
		PassengerCount: req.PassengerCount,
		ServiceCost:    decimal.NewFromFloat(req.ServiceCost),
	})
	if err != nil {
		writeDomainError(w, "Failed to apply subsidy", err)
		return
	}

	writeJSON(w, http.StatusOK, SubsidyResultDTO{
		Transaction: toTransactionDTO(result.Transaction),
		Pool:        toPoolDTO(result.Pool),
	})
}

// =============================================================================
// ALLOCATION HANDLER
// =============================================================================

// AllocateSurplus posts a profitable run's gross surplus into the pool.
func (h *Handler) AllocateSurplus(w http.ResponseWriter, r *http.Request) {
	tenant, route := routeParams(r)

	var req AllocateSurplusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	serviceDate, ok := parseServiceDate(w, req.ServiceDate)
	if !ok {
		return
	}

	split := h.DefaultSplit
	if req.ReservesPercent != nil || req.BusinessPercent != nil || req.DividendPercent != nil {
		split = pool.AllocationSplit{}
		if req.ReservesPercent != nil {
			split.ReservesPercent = decimal.NewFromFloat(*req.ReservesPercent)
		}
		if req.BusinessPercent != nil {
			split.BusinessPercent = decimal.NewFromFloat(*req.BusinessPercent)
		}
		if req.DividendPercent != nil {
			split.DividendPercent = decimal.NewFromFloat(*req.DividendPercent)
		}
	}

	result, err := h.Alloc.Allocate(r.Context(), pool.AllocationInput{
		Tenant: tenant,
		Route:  route,
		Service: pool.ServiceRef{
			TimetableID: req.TimetableID,
			ServiceDate: serviceDate,
			CostID:      req.CostID,
		},
		GrossSurplus: decimal.NewFromFloat(req.GrossSurplus),
		Split:        &split,
		TotalRevenue: decimal.NewFromFloat(req.TotalRevenue),
		TotalCost:    decimal.NewFromFloat(req.TotalCost),
	})
	if err != nil {
		writeDomainError(w, "Failed to allocate surplus", err)
		return
	}

	writeJSON(w, http.StatusOK, AllocationResultDTO{
		ToReserves:  f64(result.Breakdown.ToReserves),
		ToBusiness:  f64(result.Breakdown.ToBusiness),
		ToDividends: f64(result.Breakdown.ToDividends),
		ToPool:      f64(result.Breakdown.ToPool),
		Transaction: toTransactionDTO(result.Transaction),
		Pool:        toPoolDTO(result.Pool),
	})
}

// =============================================================================
// TRANSPARENCY HANDLERS
// =============================================================================

// GetStatistics returns the pool snapshot plus derived rates.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	tenant, route := routeParams(r)

	stats, err := h.Stats.Statistics(r.Context(), tenant, route)
	if err != nil {
		writeDomainError(w, "Failed to get statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, StatisticsDTO{
		Pool:              toPoolDTO(stats.Pool),
		ProfitabilityRate: f64(stats.ProfitabilityRate),
	})
}

// ListTransactions returns one page of ledger history, most recent first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	tenant, route := routeParams(r)

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	page, err := h.Stats.Transactions(r.Context(), tenant, route, limit, offset)
	if err != nil {
		writeDomainError(w, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionPageDTO{
		Transactions: toTransactionDTOs(page.Transactions),
		Limit:        page.Limit,
		Offset:       page.Offset,
		Count:        page.Count,
	})
}

// =============================================================================
// COSTING HANDLERS
// =============================================================================

// SubmitCost receives one ServiceCostRecord from the costing collaborator.
func (h *Handler) SubmitCost(w http.ResponseWriter, r *http.Request) {
	tenant, route := routeParams(r)

	var req SubmitCostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	serviceDate, ok := parseServiceDate(w, req.ServiceDate)
	if !ok {
		return
	}
	if req.TimetableID == "" {
		writeError(w, http.StatusBadRequest, "timetable_id is required", nil)
		return
	}
	if req.TotalCost < 0 || req.TotalRevenue < 0 {
		writeError(w, http.StatusBadRequest, "cost and revenue must not be negative", nil)
		return
	}

	rec := costing.NewRecord(tenant, route, req.TimetableID, serviceDate,
		decimal.NewFromFloat(req.TotalCost), decimal.NewFromFloat(req.TotalRevenue), req.PassengerCount)
	if err := h.Costs.Save(r.Context(), rec); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save cost record", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCostRecordDTO(rec))
}

// ListCosts returns all cost records for a route, newest first.
func (h *Handler) ListCosts(w http.ResponseWriter, r *http.Request) {
	tenant, route := routeParams(r)

	recs, err := h.Costs.ListByRoute(r.Context(), tenant, route)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list cost records", err)
		return
	}
	dtos := make([]CostRecordDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = toCostRecordDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RunSettlement triggers one settlement pass over pending cost records.
func (h *Handler) RunSettlement(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Settler.Settle(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Settlement failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SettlementSummaryDTO{
		Processed:  summary.Processed,
		Allocated:  summary.Allocated,
		Subsidized: summary.Subsidized,
		Skipped:    summary.Skipped,
		Failed:     summary.Failed,
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ResetDatabase wipes all data. Only wired when the store supports it.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if h.Resetter == nil {
		writeError(w, http.StatusNotFound, "Reset not available", nil)
		return
	}
	if err := h.Resetter.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func parseServiceDate(w http.ResponseWriter, s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, true
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid service_date format (use YYYY-MM-DD)", err)
		return time.Time{}, false
	}
	return t, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Error = message + ": " + err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps pool errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, pool.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_input"})
	case errors.Is(err, pool.ErrPoolNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "pool_not_found"})
	case errors.Is(err, pool.ErrInsufficientBalance):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "insufficient_pool_balance"})
	case errors.Is(err, pool.ErrConflict):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "conflict"})
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
