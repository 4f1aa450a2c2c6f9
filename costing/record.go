/*
Package costing stores per-service-run cost records and settles them
against the surplus pool.

PURPOSE:
  The costing collaborator (an external reconciliation job) computes
  total cost, total revenue, and net surplus for each completed service
  run and delivers a ServiceCostRecord here. This package never computes
  those figures itself; it only receives, stores, and settles them:
  profitable runs are posted to the allocation engine, loss-making runs
  draw a subsidy, and break-even runs are skipped.

RECORD LIFECYCLE:
  pending -> settled   (posted to the pool as allocation or subsidy)
  pending -> skipped   (break-even, or pool could not cover a subsidy)

SEE ALSO:
  - settle.go: The settlement pass over pending records
  - pool: The engines records are settled against
*/
package costing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coopfleet/surplus-engine/pool"
)

// =============================================================================
// SERVICE COST RECORD
// =============================================================================

type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusSkipped Status = "skipped"
)

var ErrRecordNotFound = errors.New("service cost record not found")

// ServiceCostRecord is the external costing collaborator's output for one
// (route, timetable slot, date). NetSurplus is always revenue minus cost.
type ServiceCostRecord struct {
	ID          string
	TenantID    pool.TenantID
	RouteID     pool.RouteID
	TimetableID string
	ServiceDate time.Time

	TotalCost      decimal.Decimal
	TotalRevenue   decimal.Decimal
	NetSurplus     decimal.Decimal
	PassengerCount int64

	Status    Status
	Note      string
	CreatedAt time.Time
	SettledAt *time.Time
}

// NewRecord builds a pending record, deriving NetSurplus and the ID.
func NewRecord(tenant pool.TenantID, route pool.RouteID, timetableID string, serviceDate time.Time, totalCost, totalRevenue decimal.Decimal, passengers int64) ServiceCostRecord {
	now := time.Now().UTC()
	return ServiceCostRecord{
		// Tenant-qualified: two tenants may run the same route/timetable
		// names without their records colliding.
		ID:             fmt.Sprintf("cost-%s-%s-%s-%s", tenant, route, timetableID, serviceDate.Format("2006-01-02")),
		TenantID:       tenant,
		RouteID:        route,
		TimetableID:    timetableID,
		ServiceDate:    serviceDate,
		TotalCost:      totalCost,
		TotalRevenue:   totalRevenue,
		NetSurplus:     totalRevenue.Sub(totalCost),
		PassengerCount: passengers,
		Status:         StatusPending,
		CreatedAt:      now,
	}
}

// Ref is the audit reference the pool ledger keeps for this record.
func (r ServiceCostRecord) Ref() pool.ServiceRef {
	return pool.ServiceRef{
		TimetableID: r.TimetableID,
		ServiceDate: r.ServiceDate,
		CostID:      r.ID,
	}
}

// =============================================================================
// STORE - Persistence for cost records
// =============================================================================

// Store persists cost records. Unlike the pool ledger, records are
// status-mutable: settlement marks them settled or skipped.
type Store interface {
	// Save inserts or replaces a record keyed by ID.
	Save(ctx context.Context, rec ServiceCostRecord) error

	// Find returns a record by ID, or ErrRecordNotFound.
	Find(ctx context.Context, id string) (ServiceCostRecord, error)

	// ListByRoute returns all records for a route, newest first.
	ListByRoute(ctx context.Context, tenant pool.TenantID, route pool.RouteID) ([]ServiceCostRecord, error)

	// ListPending returns all pending records across routes, oldest first,
	// so settlement replays them in arrival order.
	ListPending(ctx context.Context) ([]ServiceCostRecord, error)

	// MarkSettled transitions a record out of pending.
	MarkSettled(ctx context.Context, id string, status Status, note string) error
}

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]ServiceCostRecord
	order   []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]ServiceCostRecord)}
}

func (m *MemoryStore) Save(_ context.Context, rec ServiceCostRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; !ok {
		m.order = append(m.order, rec.ID)
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *MemoryStore) Find(_ context.Context, id string) (ServiceCostRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return ServiceCostRecord{}, ErrRecordNotFound
	}
	return rec, nil
}

func (m *MemoryStore) ListByRoute(_ context.Context, tenant pool.TenantID, route pool.RouteID) ([]ServiceCostRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ServiceCostRecord
	for i := len(m.order) - 1; i >= 0; i-- {
		rec := m.records[m.order[i]]
		if rec.TenantID == tenant && rec.RouteID == route {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListPending(_ context.Context) ([]ServiceCostRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ServiceCostRecord
	for _, id := range m.order {
		if rec := m.records[id]; rec.Status == StatusPending {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkSettled(_ context.Context, id string, status Status, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrRecordNotFound
	}
	now := time.Now().UTC()
	rec.Status = status
	rec.Note = note
	rec.SettledAt = &now
	m.records[id] = rec
	return nil
}
