package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coopfleet/surplus-engine/api"
	"github.com/coopfleet/surplus-engine/costing"
	"github.com/coopfleet/surplus-engine/pool"
	"github.com/coopfleet/surplus-engine/pool/store"
)

func newScheduledSettler() *costing.Settler {
	pools := store.NewMemory()
	return costing.NewSettler(costing.NewMemoryStore(), pools,
		pool.NewAllocationEngine(pools), pool.NewSubsidyEngine(pools))
}

func TestNewSettlementScheduler_ValidSpec(t *testing.T) {
	scheduler, err := api.NewSettlementScheduler(newScheduledSettler(), "0 2 * * *")
	require.NoError(t, err)

	scheduler.Start()
	scheduler.Stop()
}

func TestNewSettlementScheduler_InvalidSpec(t *testing.T) {
	_, err := api.NewSettlementScheduler(newScheduledSettler(), "every now and then")
	assert.Error(t, err)
}
