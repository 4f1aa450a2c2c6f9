/*
scheduler.go - Automated settlement scheduler

PURPOSE:
  Runs the costing settlement pass on a cron schedule (nightly by
  default), so end-of-day cost records posted by the costing
  collaborator are settled into the pool without operator action.

DESIGN:
  - robfig/cron drives the schedule; the spec string comes from config
  - Each tick runs one Settle pass; pending-only semantics make a
    missed or doubled tick harmless
  - Stop drains the in-flight pass before returning

USAGE:
  scheduler, err := NewSettlementScheduler(handler.Settler, "0 2 * * *")
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - costing/settle.go: The settlement pass
  - handlers.go: RunSettlement endpoint (manual trigger)
*/
package api

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/coopfleet/surplus-engine/costing"
)

// SettlementScheduler runs settlement passes on a cron schedule.
type SettlementScheduler struct {
	Settler *costing.Settler

	cron *cron.Cron
	spec string
}

// NewSettlementScheduler validates the cron spec and prepares the scheduler.
func NewSettlementScheduler(settler *costing.Settler, spec string) (*SettlementScheduler, error) {
	s := &SettlementScheduler{
		Settler: settler,
		cron:    cron.New(),
		spec:    spec,
	}
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("invalid settlement cron spec %q: %w", spec, err)
	}
	return s, nil
}

// Start begins the scheduler.
func (s *SettlementScheduler) Start() {
	s.cron.Start()
	log.Printf("[Scheduler] Settlement scheduled: %s", s.spec)
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (s *SettlementScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("[Scheduler] Stopped")
}

func (s *SettlementScheduler) runOnce() {
	summary, err := s.Settler.Settle(context.Background())
	if err != nil {
		log.Printf("[Scheduler] Settlement pass failed: %v", err)
		return
	}
	log.Printf("[Scheduler] Settlement pass: processed=%d allocated=%d subsidized=%d skipped=%d failed=%d",
		summary.Processed, summary.Allocated, summary.Subsidized, summary.Skipped, summary.Failed)
}
