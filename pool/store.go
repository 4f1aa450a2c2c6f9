/*
store.go - Persistence contracts for pools and the ledger

PURPOSE:
  Defines the interface between the engines and the database. The pool
  row for a (tenant, route) is shared mutable state targeted by
  concurrent end-of-day postings; the Store contract makes the
  read-modify-write cycle explicit instead of leaving it to ad hoc
  read-then-write calls.

ATOMIC APPLY:
  Apply persists a mutated pool snapshot TOGETHER with the ledger entry
  that explains it, in one atomic unit, guarded by the snapshot's
  version: if the stored row's version no longer matches, nothing is
  written and ErrConflict is returned. The engines own the bounded
  retry loop around this.

APPEND-ONLY LEDGER:
  SurplusTransaction rows are written only inside Apply. There is no
  update or delete path; the ledger is the permanent audit record.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite store
  - pool/store: In-memory store for tests and dev

SEE ALSO:
  - allocate.go / subsidy.go: The only callers of Apply
  - stats.go: Read-only consumers
*/
package pool

import "context"

// Store persists SurplusPool rows with an optimistic concurrency contract.
type Store interface {
	// GetOrCreate returns the pool for (tenant, route), creating the empty
	// row if this is the route's first surplus activity. Idempotent and
	// race-safe: concurrent first callers converge on one logical row.
	GetOrCreate(ctx context.Context, tenant TenantID, route RouteID) (SurplusPool, error)

	// Get returns the pool, or ErrPoolNotFound.
	Get(ctx context.Context, tenant TenantID, route RouteID) (SurplusPool, error)

	// Apply atomically persists the mutated pool snapshot and appends its
	// ledger entry, iff the stored row still carries pool.Version. On a
	// version mismatch nothing is written and ErrConflict is returned.
	// This is the ONLY write path for pools and the ledger.
	Apply(ctx context.Context, pool SurplusPool, tx SurplusTransaction) error
}

// Ledger reads the append-only transaction history.
type Ledger interface {
	// Transactions returns one page for the route, most recent first,
	// plus the total entry count for pagination.
	Transactions(ctx context.Context, tenant TenantID, route RouteID, limit, offset int) ([]SurplusTransaction, int, error)
}
