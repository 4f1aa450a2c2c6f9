/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model (decimal.Decimal everywhere) from the external
  API contract, which speaks plain JSON numbers.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in the domain engines, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - pool/types.go: The domain model these mirror
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coopfleet/surplus-engine/costing"
	"github.com/coopfleet/surplus-engine/pool"
)

// =============================================================================
// POOL
// =============================================================================

// PoolDTO represents a surplus pool in API responses.
type PoolDTO struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	RouteID  string `json:"route_id"`

	AccumulatedSurplus        float64 `json:"accumulated_surplus"`
	AvailableForSubsidy       float64 `json:"available_for_subsidy"`
	ReservedForReserves       float64 `json:"reserved_for_reserves"`
	ReservedForBusiness       float64 `json:"reserved_for_business"`
	TotalDistributedDividends float64 `json:"total_distributed_dividends"`

	LifetimeTotalRevenue float64 `json:"lifetime_total_revenue"`
	LifetimeTotalCosts   float64 `json:"lifetime_total_costs"`
	LifetimeGrossSurplus float64 `json:"lifetime_gross_surplus"`

	TotalServicesRun        int64 `json:"total_services_run"`
	TotalProfitableServices int64 `json:"total_profitable_services"`
	TotalSubsidizedServices int64 `json:"total_subsidized_services"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// =============================================================================
// SUBSIDY
// =============================================================================

// CalculateSubsidyRequest previews a subsidy. Caps fall back to the server
// defaults when omitted.
type CalculateSubsidyRequest struct {
	ServiceCost       float64  `json:"service_cost"`
	MaxSurplusPercent *float64 `json:"max_surplus_percent,omitempty"`
	MaxServicePercent *float64 `json:"max_service_percent,omitempty"`
}

// SubsidyQuoteDTO is the calculator's preview.
type SubsidyQuoteDTO struct {
	ServiceCost             float64 `json:"service_cost"`
	AvailableSubsidy        float64 `json:"available_subsidy"`
	SubsidyApplied          float64 `json:"subsidy_applied"`
	EffectiveCost           float64 `json:"effective_cost"`
	MinimumPassengersNeeded int64   `json:"minimum_passengers_needed"`
	BreakEvenFare           float64 `json:"break_even_fare"`
	SubsidySource           string  `json:"subsidy_source"`
}

// ApplySubsidyRequest debits the pool for a loss-making run.
type ApplySubsidyRequest struct {
	TimetableID    string  `json:"timetable_id"`
	ServiceDate    string  `json:"service_date"` // YYYY-MM-DD
	CostID         string  `json:"cost_id"`
	SubsidyAmount  float64 `json:"subsidy_amount"`
	PassengerCount int64   `json:"passenger_count"`
	ServiceCost    float64 `json:"service_cost"`
}

// SubsidyResultDTO confirms the committed debit.
type SubsidyResultDTO struct {
	Transaction TransactionDTO `json:"transaction"`
	Pool        PoolDTO        `json:"pool"`
}

// =============================================================================
// ALLOCATION
// =============================================================================

// AllocateSurplusRequest posts a profitable run's surplus. Percentages fall
// back to the server's default split when all three are omitted.
type AllocateSurplusRequest struct {
	TimetableID     string   `json:"timetable_id"`
	ServiceDate     string   `json:"service_date"` // YYYY-MM-DD
	CostID          string   `json:"cost_id"`
	GrossSurplus    float64  `json:"gross_surplus"`
	ReservesPercent *float64 `json:"reserves_percent,omitempty"`
	BusinessPercent *float64 `json:"business_percent,omitempty"`
	DividendPercent *float64 `json:"dividend_percent,omitempty"`
	TotalRevenue    float64  `json:"total_revenue,omitempty"`
	TotalCost       float64  `json:"total_cost,omitempty"`
}

// AllocationResultDTO reports the committed breakdown and new pool state.
type AllocationResultDTO struct {
	ToReserves  float64        `json:"to_reserves"`
	ToBusiness  float64        `json:"to_business"`
	ToDividends float64        `json:"to_dividends"`
	ToPool      float64        `json:"to_pool"`
	Transaction TransactionDTO `json:"transaction"`
	Pool        PoolDTO        `json:"pool"`
}

// =============================================================================
// LEDGER & STATISTICS
// =============================================================================

// TransactionDTO represents a ledger entry.
type TransactionDTO struct {
	ID            string  `json:"id"`
	PoolID        string  `json:"pool_id"`
	Type          string  `json:"type"`
	Amount        float64 `json:"amount"`
	BalanceBefore float64 `json:"balance_before"`
	BalanceAfter  float64 `json:"balance_after"`
	TimetableID   string  `json:"timetable_id,omitempty"`
	ServiceDate   string  `json:"service_date,omitempty"`
	CostID        string  `json:"cost_id,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// TransactionPageDTO is one page of ledger history.
type TransactionPageDTO struct {
	Transactions []TransactionDTO `json:"transactions"`
	Limit        int              `json:"limit"`
	Offset       int              `json:"offset"`
	Count        int              `json:"count"`
}

// StatisticsDTO is the member transparency view.
type StatisticsDTO struct {
	Pool              PoolDTO `json:"pool"`
	ProfitabilityRate float64 `json:"profitability_rate"`
}

// =============================================================================
// COST RECORDS & SETTLEMENT
// =============================================================================

// SubmitCostRequest delivers one ServiceCostRecord from the costing
// collaborator.
type SubmitCostRequest struct {
	TimetableID    string  `json:"timetable_id"`
	ServiceDate    string  `json:"service_date"` // YYYY-MM-DD
	TotalCost      float64 `json:"total_cost"`
	TotalRevenue   float64 `json:"total_revenue"`
	PassengerCount int64   `json:"passenger_count"`
}

// CostRecordDTO represents a stored cost record.
type CostRecordDTO struct {
	ID             string  `json:"id"`
	TenantID       string  `json:"tenant_id"`
	RouteID        string  `json:"route_id"`
	TimetableID    string  `json:"timetable_id"`
	ServiceDate    string  `json:"service_date"`
	TotalCost      float64 `json:"total_cost"`
	TotalRevenue   float64 `json:"total_revenue"`
	NetSurplus     float64 `json:"net_surplus"`
	PassengerCount int64   `json:"passenger_count"`
	Status         string  `json:"status"`
	Note           string  `json:"note,omitempty"`
	CreatedAt      string  `json:"created_at"`
	SettledAt      string  `json:"settled_at,omitempty"`
}

// SettlementSummaryDTO reports one settlement pass.
type SettlementSummaryDTO struct {
	Processed  int `json:"processed"`
	Allocated  int `json:"allocated"`
	Subsidized int `json:"subsidized"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func f64(d decimal.Decimal) float64 {
	v, _ := d.Float64()
	return v
}

func toPoolDTO(p pool.SurplusPool) PoolDTO {
	return PoolDTO{
		ID:                        string(p.ID),
		TenantID:                  string(p.TenantID),
		RouteID:                   string(p.RouteID),
		AccumulatedSurplus:        f64(p.AccumulatedSurplus),
		AvailableForSubsidy:       f64(p.AvailableForSubsidy),
		ReservedForReserves:       f64(p.ReservedForReserves),
		ReservedForBusiness:       f64(p.ReservedForBusiness),
		TotalDistributedDividends: f64(p.TotalDistributedDividends),
		LifetimeTotalRevenue:      f64(p.LifetimeTotalRevenue),
		LifetimeTotalCosts:        f64(p.LifetimeTotalCosts),
		LifetimeGrossSurplus:      f64(p.LifetimeGrossSurplus),
		TotalServicesRun:          p.TotalServicesRun,
		TotalProfitableServices:   p.TotalProfitableServices,
		TotalSubsidizedServices:   p.TotalSubsidizedServices,
		CreatedAt:                 p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:                 p.UpdatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTO(tx pool.SurplusTransaction) TransactionDTO {
	dto := TransactionDTO{
		ID:            string(tx.ID),
		PoolID:        string(tx.PoolID),
		Type:          string(tx.Type),
		Amount:        f64(tx.Amount),
		BalanceBefore: f64(tx.BalanceBefore),
		BalanceAfter:  f64(tx.BalanceAfter),
		TimetableID:   tx.TimetableID,
		CostID:        tx.CostID,
		CreatedAt:     tx.CreatedAt.Format(time.RFC3339Nano),
	}
	if !tx.ServiceDate.IsZero() {
		dto.ServiceDate = tx.ServiceDate.Format("2006-01-02")
	}
	return dto
}

func toTransactionDTOs(txs []pool.SurplusTransaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toCostRecordDTO(rec costing.ServiceCostRecord) CostRecordDTO {
	dto := CostRecordDTO{
		ID:             rec.ID,
		TenantID:       string(rec.TenantID),
		RouteID:        string(rec.RouteID),
		TimetableID:    rec.TimetableID,
		ServiceDate:    rec.ServiceDate.Format("2006-01-02"),
		TotalCost:      f64(rec.TotalCost),
		TotalRevenue:   f64(rec.TotalRevenue),
		NetSurplus:     f64(rec.NetSurplus),
		PassengerCount: rec.PassengerCount,
		Status:         string(rec.Status),
		Note:           rec.Note,
		CreatedAt:      rec.CreatedAt.Format(time.RFC3339),
	}
	if rec.SettledAt != nil {
		dto.SettledAt = rec.SettledAt.Format(time.RFC3339)
	}
	return dto
}
