/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements pool.Store, pool.Ledger, and costing.Store using SQLite.
  In production the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

ATOMIC APPLY:
  pool.Store.Apply runs the pool UPDATE and the ledger INSERT inside one
  database transaction. The UPDATE is guarded by
  "WHERE id = ? AND version = ?"; zero rows affected means another
  writer committed first and the whole unit rolls back with
  pool.ErrConflict. The engines retry around this.

IDEMPOTENT POOL CREATION:
  GetOrCreate relies on a UNIQUE(tenant_id, route_id) index and
  INSERT ... ON CONFLICT DO NOTHING, so two callers racing to allocate
  on a brand-new route converge on one row without error.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for surplus_transactions. Ledger
  rows are written only inside Apply.

MONEY COLUMNS:
  Decimal amounts are stored as TEXT (decimal.Decimal.String) to avoid
  floating-point drift, mirroring how quantities travel everywhere else
  in this codebase.

CONCURRENCY:
  WAL mode plus a sync.Mutex around writers. The version check, not the
  mutex, is what the correctness argument rests on; the mutex keeps
  SQLite's single-writer model from surfacing busy errors.

USAGE:
  store, err := sqlite.New("./data/surplus.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - pool/store.go: Interface contracts
  - pool/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/coopfleet/surplus-engine/costing"
	"github.com/coopfleet/surplus-engine/pool"
)

// parseDecimal surfaces a corrupt money column as an error rather than a
// silent zero balance.
func parseDecimal(column, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("corrupt decimal in %s: %w", column, err)
	}
	return d, nil
}

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- One pool per (tenant, route); the UNIQUE index makes lazy creation
	-- idempotent under concurrency.
	CREATE TABLE IF NOT EXISTS surplus_pools (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		route_id TEXT NOT NULL,
		accumulated_surplus TEXT NOT NULL,
		available_for_subsidy TEXT NOT NULL,
		reserved_for_reserves TEXT NOT NULL,
		reserved_for_business TEXT NOT NULL,
		total_distributed_dividends TEXT NOT NULL,
		lifetime_total_revenue TEXT NOT NULL,
		lifetime_total_costs TEXT NOT NULL,
		lifetime_gross_surplus TEXT NOT NULL,
		total_services_run INTEGER NOT NULL DEFAULT 0,
		total_profitable_services INTEGER NOT NULL DEFAULT 0,
		total_subsidized_services INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_pools_tenant_route
		ON surplus_pools(tenant_id, route_id);

	-- Append-only ledger. rowid preserves insertion order per pool.
	CREATE TABLE IF NOT EXISTS surplus_transactions (
		id TEXT PRIMARY KEY,
		pool_id TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		timetable_id TEXT,
		service_date TEXT,
		cost_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_surplus_tx_pool
		ON surplus_transactions(pool_id, created_at DESC);

	-- Service cost records delivered by the costing collaborator.
	CREATE TABLE IF NOT EXISTS service_costs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		route_id TEXT NOT NULL,
		timetable_id TEXT NOT NULL,
		service_date TEXT NOT NULL,
		total_cost TEXT NOT NULL,
		total_revenue TEXT NOT NULL,
		net_surplus TEXT NOT NULL,
		passenger_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		note TEXT,
		created_at TEXT NOT NULL,
		settled_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_service_costs_route
		ON service_costs(tenant_id, route_id);
	CREATE INDEX IF NOT EXISTS idx_service_costs_status
		ON service_costs(status);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// POOL STORE (pool.Store interface)
// =============================================================================

const poolColumns = `id, tenant_id, route_id, accumulated_surplus, available_for_subsidy,
	reserved_for_reserves, reserved_for_business, total_distributed_dividends,
	lifetime_total_revenue, lifetime_total_costs, lifetime_gross_surplus,
	total_services_run, total_profitable_services, total_subsidized_services,
	version, created_at, updated_at`

// GetOrCreate returns the pool for (tenant, route), inserting the empty row
// on first use. ON CONFLICT DO NOTHING makes racing creators converge.
func (s *Store) GetOrCreate(ctx context.Context, tenant pool.TenantID, route pool.RouteID) (pool.SurplusPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fresh := pool.NewSurplusPool(tenant, route, time.Now().UTC())
	query := `
		INSERT INTO surplus_pools (` + poolColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, route_id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		fresh.ID, fresh.TenantID, fresh.RouteID,
		fresh.AccumulatedSurplus.String(), fresh.AvailableForSubsidy.String(),
		fresh.ReservedForReserves.String(), fresh.ReservedForBusiness.String(),
		fresh.TotalDistributedDividends.String(),
		fresh.LifetimeTotalRevenue.String(), fresh.LifetimeTotalCosts.String(),
		fresh.LifetimeGrossSurplus.String(),
		fresh.TotalServicesRun, fresh.TotalProfitableServices, fresh.TotalSubsidizedServices,
		fresh.Version,
		fresh.CreatedAt.Format(time.RFC3339), fresh.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return pool.SurplusPool{}, fmt.Errorf("failed to create pool: %w", err)
	}

	return s.getLocked(ctx, tenant, route)
}

// Get returns the pool, or pool.ErrPoolNotFound.
func (s *Store) Get(ctx context.Context, tenant pool.TenantID, route pool.RouteID) (pool.SurplusPool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, tenant, route)
}

func (s *Store) getLocked(ctx context.Context, tenant pool.TenantID, route pool.RouteID) (pool.SurplusPool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+poolColumns+` FROM surplus_pools WHERE tenant_id = ? AND route_id = ?`,
		tenant, route,
	)
	p, err := scanPool(row)
	if err == sql.ErrNoRows {
		return pool.SurplusPool{}, &pool.PoolNotFoundError{TenantID: tenant, RouteID: route}
	}
	if err != nil {
		return pool.SurplusPool{}, fmt.Errorf("failed to load pool: %w", err)
	}
	return p, nil
}

// Apply commits the mutated pool snapshot and its ledger entry in one
// database transaction, guarded by the snapshot's version.
func (s *Store) Apply(ctx context.Context, p pool.SurplusPool, tx pool.SurplusTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE surplus_pools SET
			accumulated_surplus = ?,
			available_for_subsidy = ?,
			reserved_for_reserves = ?,
			reserved_for_business = ?,
			total_distributed_dividends = ?,
			lifetime_total_revenue = ?,
			lifetime_total_costs = ?,
			lifetime_gross_surplus = ?,
			total_services_run = ?,
			total_profitable_services = ?,
			total_subsidized_services = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`,
		p.AccumulatedSurplus.String(), p.AvailableForSubsidy.String(),
		p.ReservedForReserves.String(), p.ReservedForBusiness.String(),
		p.TotalDistributedDividends.String(),
		p.LifetimeTotalRevenue.String(), p.LifetimeTotalCosts.String(),
		p.LifetimeGrossSurplus.String(),
		p.TotalServicesRun, p.TotalProfitableServices, p.TotalSubsidizedServices,
		p.UpdatedAt.Format(time.RFC3339),
		p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update pool: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return pool.ErrConflict
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO surplus_transactions
		(id, pool_id, tx_type, amount, balance_before, balance_after,
		 timetable_id, service_date, cost_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, tx.PoolID, tx.Type,
		tx.Amount.String(), tx.BalanceBefore.String(), tx.BalanceAfter.String(),
		nullString(tx.TimetableID),
		nullTime(tx.ServiceDate),
		nullString(tx.CostID),
		tx.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}

	return sqlTx.Commit()
}

func scanPool(row *sql.Row) (pool.SurplusPool, error) {
	var (
		p                                                     pool.SurplusPool
		accumulated, available, reserves, business, dividends string
		revenue, costs, gross                                 string
		createdAt, updatedAt                                  string
	)
	err := row.Scan(
		&p.ID, &p.TenantID, &p.RouteID,
		&accumulated, &available, &reserves, &business, &dividends,
		&revenue, &costs, &gross,
		&p.TotalServicesRun, &p.TotalProfitableServices, &p.TotalSubsidizedServices,
		&p.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return p, err
	}

	for _, f := range []struct {
		column string
		raw    string
		dst    *decimal.Decimal
	}{
		{"accumulated_surplus", accumulated, &p.AccumulatedSurplus},
		{"available_for_subsidy", available, &p.AvailableForSubsidy},
		{"reserved_for_reserves", reserves, &p.ReservedForReserves},
		{"reserved_for_business", business, &p.ReservedForBusiness},
		{"total_distributed_dividends", dividends, &p.TotalDistributedDividends},
		{"lifetime_total_revenue", revenue, &p.LifetimeTotalRevenue},
		{"lifetime_total_costs", costs, &p.LifetimeTotalCosts},
		{"lifetime_gross_surplus", gross, &p.LifetimeGrossSurplus},
	} {
		d, err := parseDecimal(f.column, f.raw)
		if err != nil {
			return p, err
		}
		*f.dst = d
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return p, nil
}

// =============================================================================
// LEDGER (pool.Ledger interface)
// =============================================================================

// Transactions returns one page for the route, most recent first, plus the
// total entry count.
func (s *Store) Transactions(ctx context.Context, tenant pool.TenantID, route pool.RouteID, limit, offset int) ([]pool.SurplusTransaction, int, error) {
	poolID := pool.PoolIDFor(tenant, route)

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM surplus_transactions WHERE pool_id = ?", poolID,
	).Scan(&count)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pool_id, tx_type, amount, balance_before, balance_after,
		       timetable_id, service_date, cost_id, created_at
		FROM surplus_transactions
		WHERE pool_id = ?
		ORDER BY rowid DESC
		LIMIT ? OFFSET ?
	`, poolID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []pool.SurplusTransaction
	for rows.Next() {
		var (
			tx                               pool.SurplusTransaction
			amount, before, after, createdAt string
			timetableID, serviceDate, costID sql.NullString
		)
		if err := rows.Scan(&tx.ID, &tx.PoolID, &tx.Type, &amount, &before, &after,
			&timetableID, &serviceDate, &costID, &createdAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if tx.Amount, err = parseDecimal("amount", amount); err != nil {
			return nil, 0, err
		}
		if tx.BalanceBefore, err = parseDecimal("balance_before", before); err != nil {
			return nil, 0, err
		}
		if tx.BalanceAfter, err = parseDecimal("balance_after", after); err != nil {
			return nil, 0, err
		}
		tx.TimetableID = timetableID.String
		tx.CostID = costID.String
		if serviceDate.Valid {
			tx.ServiceDate, _ = time.Parse(time.RFC3339, serviceDate.String)
		}
		tx.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		txs = append(txs, tx)
	}
	return txs, count, rows.Err()
}

// =============================================================================
// SERVICE COST STORE (costing.Store interface)
// =============================================================================

const costColumns = `id, tenant_id, route_id, timetable_id, service_date,
	total_cost, total_revenue, net_surplus, passenger_count, status, note,
	created_at, settled_at`

// Save inserts or replaces a cost record.
func (s *Store) Save(ctx context.Context, rec costing.ServiceCostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO service_costs (` + costColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			total_cost = excluded.total_cost,
			total_revenue = excluded.total_revenue,
			net_surplus = excluded.net_surplus,
			passenger_count = excluded.passenger_count,
			status = excluded.status,
			note = excluded.note,
			settled_at = excluded.settled_at
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.TenantID, rec.RouteID, rec.TimetableID,
		rec.ServiceDate.Format(time.RFC3339),
		rec.TotalCost.String(), rec.TotalRevenue.String(), rec.NetSurplus.String(),
		rec.PassengerCount, rec.Status, nullString(rec.Note),
		rec.CreatedAt.Format(time.RFC3339), nullTimePtr(rec.SettledAt),
	)
	return err
}

// Find returns a record by ID, or costing.ErrRecordNotFound.
func (s *Store) Find(ctx context.Context, id string) (costing.ServiceCostRecord, error) {
	recs, err := s.queryCosts(ctx,
		`SELECT `+costColumns+` FROM service_costs WHERE id = ?`, id)
	if err != nil {
		return costing.ServiceCostRecord{}, err
	}
	if len(recs) == 0 {
		return costing.ServiceCostRecord{}, costing.ErrRecordNotFound
	}
	return recs[0], nil
}

// ListByRoute returns all records for a route, newest first.
func (s *Store) ListByRoute(ctx context.Context, tenant pool.TenantID, route pool.RouteID) ([]costing.ServiceCostRecord, error) {
	return s.queryCosts(ctx, `
		SELECT `+costColumns+` FROM service_costs
		WHERE tenant_id = ? AND route_id = ?
		ORDER BY rowid DESC
	`, tenant, route)
}

// ListPending returns pending records across routes, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]costing.ServiceCostRecord, error) {
	return s.queryCosts(ctx, `
		SELECT `+costColumns+` FROM service_costs
		WHERE status = 'pending'
		ORDER BY rowid ASC
	`)
}

// MarkSettled transitions a record out of pending.
func (s *Store) MarkSettled(ctx context.Context, id string, status costing.Status, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE service_costs SET status = ?, note = ?, settled_at = ?
		WHERE id = ?
	`, status, note, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return costing.ErrRecordNotFound
	}
	return nil
}

func (s *Store) queryCosts(ctx context.Context, query string, args ...any) ([]costing.ServiceCostRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost records: %w", err)
	}
	defer rows.Close()

	var recs []costing.ServiceCostRecord
	for rows.Next() {
		var (
			rec                                 costing.ServiceCostRecord
			serviceDate, cost, revenue, surplus string
			createdAt                           string
			note, settledAt                     sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.RouteID, &rec.TimetableID,
			&serviceDate, &cost, &revenue, &surplus, &rec.PassengerCount,
			&rec.Status, &note, &createdAt, &settledAt); err != nil {
			return nil, fmt.Errorf("failed to scan cost record: %w", err)
		}
		rec.ServiceDate, _ = time.Parse(time.RFC3339, serviceDate)
		if rec.TotalCost, err = parseDecimal("total_cost", cost); err != nil {
			return nil, err
		}
		if rec.TotalRevenue, err = parseDecimal("total_revenue", revenue); err != nil {
			return nil, err
		}
		if rec.NetSurplus, err = parseDecimal("net_surplus", surplus); err != nil {
			return nil, err
		}
		rec.Note = note.String
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		if settledAt.Valid {
			t, _ := time.Parse(time.RFC3339, settledAt.String)
			rec.SettledAt = &t
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"surplus_transactions", "surplus_pools", "service_costs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}
