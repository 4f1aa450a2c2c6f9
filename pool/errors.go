/*
errors.go - Centralized error types for the pool engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers distinguish three recoverable outcomes: fix your input
  (ErrInvalidInput), route not initialized yet (ErrPoolNotFound), and
  insufficient funds (ErrInsufficientBalance). Version conflicts are
  retried inside the engines and only escape as ErrConflict when the
  retry budget is exhausted.

USAGE:
  if errors.Is(err, pool.ErrInsufficientBalance) {
      // tell the caller to request a smaller subsidy
  }

SEE ALSO:
  - allocate.go / subsidy.go: Producers of these errors
  - api/handlers.go: HTTP status mapping
*/
package pool

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for non-positive amounts and malformed
	// or out-of-range percentage splits. Rejected before any mutation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPoolNotFound is returned when statistics or subsidy application
	// target a route that has never generated surplus.
	ErrPoolNotFound = errors.New("surplus pool not found")

	// ErrInsufficientBalance is returned when a subsidy request exceeds
	// the pool's available-for-subsidy balance. Never partially applied.
	ErrInsufficientBalance = errors.New("insufficient pool balance")

	// ErrConflict is returned when the optimistic version check failed.
	// Engines retry this internally; callers only see it once the retry
	// budget is exhausted.
	ErrConflict = errors.New("concurrent pool modification")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidInputError names the offending field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// InsufficientBalanceError reports the shortage in full.
type InsufficientBalanceError struct {
	PoolID    PoolID
	Available string
	Requested string
	Shortfall string
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient pool balance on %s: available %s, requested %s, shortfall %s",
		e.PoolID, e.Available, e.Requested, e.Shortfall)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// PoolNotFoundError identifies the missing pool.
type PoolNotFoundError struct {
	TenantID TenantID
	RouteID  RouteID
}

func (e *PoolNotFoundError) Error() string {
	return fmt.Sprintf("no surplus pool for tenant %s route %s", e.TenantID, e.RouteID)
}

func (e *PoolNotFoundError) Unwrap() error { return ErrPoolNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInsufficientBalance)
}

// IsNotFound returns true if the error indicates a missing pool.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPoolNotFound)
}
