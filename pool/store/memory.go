// Package store provides pool.Store implementations.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/coopfleet/surplus-engine/pool"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	pools   map[key]pool.SurplusPool
	ledgers map[key][]pool.SurplusTransaction
}

type key struct {
	Tenant pool.TenantID
	Route  pool.RouteID
}

func NewMemory() *Memory {
	return &Memory{
		pools:   make(map[key]pool.SurplusPool),
		ledgers: make(map[key][]pool.SurplusTransaction),
	}
}

// GetOrCreate returns the pool, creating the empty row under the write
// lock so racing first callers converge on one entry.
func (m *Memory) GetOrCreate(_ context.Context, tenant pool.TenantID, route pool.RouteID) (pool.SurplusPool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{Tenant: tenant, Route: route}
	if p, ok := m.pools[k]; ok {
		return p, nil
	}
	p := pool.NewSurplusPool(tenant, route, time.Now().UTC())
	m.pools[k] = p
	return p, nil
}

func (m *Memory) Get(_ context.Context, tenant pool.TenantID, route pool.RouteID) (pool.SurplusPool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pools[key{Tenant: tenant, Route: route}]
	if !ok {
		return pool.SurplusPool{}, &pool.PoolNotFoundError{TenantID: tenant, RouteID: route}
	}
	return p, nil
}

// Apply commits the snapshot and its ledger entry iff the stored version
// still matches. Both writes happen under one lock acquisition, so no
// reader ever observes the pool without its ledger entry.
func (m *Memory) Apply(_ context.Context, p pool.SurplusPool, tx pool.SurplusTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{Tenant: p.TenantID, Route: p.RouteID}
	stored, ok := m.pools[k]
	if !ok {
		return &pool.PoolNotFoundError{TenantID: p.TenantID, RouteID: p.RouteID}
	}
	if stored.Version != p.Version {
		return pool.ErrConflict
	}

	p.Version++
	m.pools[k] = p
	m.ledgers[k] = append(m.ledgers[k], tx)
	return nil
}

// Transactions returns one page, most recent first (insertion order
// reversed), plus the total count.
func (m *Memory) Transactions(_ context.Context, tenant pool.TenantID, route pool.RouteID, limit, offset int) ([]pool.SurplusTransaction, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	k := key{Tenant: tenant, Route: route}
	all := m.ledgers[k]
	count := len(all)

	// Tolerate out-of-range offsets the way the sqlite store does.
	if offset < 0 {
		offset = 0
	}

	var page []pool.SurplusTransaction
	for i := count - 1 - offset; i >= 0 && len(page) < limit; i-- {
		page = append(page, all[i])
	}
	return page, count, nil
}
