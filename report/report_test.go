package report_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/genrouter"
	"github.com/ineyio/genrouter/report"
)

var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)

func testPool(t *testing.T) *genrouter.AccountPool {
	t.Helper()
	specs := []genrouter.ProviderSpec{
		{Name: "kling", CostModel: genrouter.CostModel{CreditsPerUnit: 10, UnitDuration: 5 * time.Second}},
		{Name: "pollinations", CostModel: genrouter.CostModel{Volume: true}},
	}
	accounts := []genrouter.AccountConfig{
		{ID: "k1", Provider: "kling", Capabilities: []string{"kling-2"}, InitialCredits: 500, CreditFloor: 20},
		{ID: "k2", Provider: "kling", Capabilities: []string{"kling-2"}, InitialCredits: 15, CreditFloor: 20},
		{ID: "p1", Provider: "pollinations", Capabilities: []string{"flux"}},
	}
	pool, err := genrouter.NewAccountPool(specs, accounts, genrouter.WithPoolClock(func() time.Time { return noon }))
	require.NoError(t, err)
	return pool
}

func TestCapacity(t *testing.T) {
	pool := testPool(t)
	ledger := genrouter.NewUsageLedger(genrouter.WithLedgerClock(func() time.Time { return noon }))
	for range 6 {
		ledger.Record(context.Background(), genrouter.UsageRecord{Provider: "kling", Model: "kling-2", Tier: genrouter.TierStandard})
	}

	rep := report.Capacity(pool, ledger, noon)
	require.Len(t, rep.Providers, 2)

	kling := rep.Providers[0]
	assert.Equal(t, "kling", kling.Provider)
	assert.Equal(t, 2, kling.Accounts)
	assert.Equal(t, 1, kling.HealthyAccounts, "k2 is below its floor")
	assert.Equal(t, 515.0, kling.Credits)
	assert.Equal(t, 480.0, kling.UsableCredits)
	assert.Equal(t, 10.0, kling.CreditsPerGeneration)
	assert.Equal(t, 48, kling.GenerationsLeft)

	free := rep.Providers[1]
	assert.True(t, free.Free)
	assert.Equal(t, -1, free.GenerationsLeft)

	// Six generations by noon project to twelve a day.
	assert.InDelta(t, 12.0, rep.Projection.Daily[genrouter.TierStandard], 1e-9)
	assert.InDelta(t, 360.0, rep.Projection.TotalMonthly, 1e-9)
}

func TestCapacity_Emergency(t *testing.T) {
	pool := testPool(t)
	require.NoError(t, pool.EnterEmergencyMode("kling"))

	rep := report.Capacity(pool, nil, noon)
	assert.True(t, rep.Providers[0].Emergency)
	assert.False(t, rep.Providers[1].Emergency)
}

func TestCapacity_WithFailovers(t *testing.T) {
	state := genrouter.NewRouterState()
	state.Activate("kling", "runway")

	rep := report.Capacity(testPool(t), nil, noon).WithFailovers(state)
	assert.Equal(t, []genrouter.FailoverPair{{Primary: "kling", Alternate: "runway"}}, rep.Failovers)
}

func TestStats(t *testing.T) {
	ledger := genrouter.NewUsageLedger()
	ctx := context.Background()
	ledger.Record(ctx, genrouter.UsageRecord{Provider: "veo", Model: "veo-3", Credits: 40})
	ledger.Record(ctx, genrouter.UsageRecord{Provider: "kling", Model: "kling-2", Credits: 10})
	ledger.RecordFailure("kling", "kling-2")

	rep := report.Stats(ledger)
	assert.Equal(t, 3, rep.TotalRequests)
	assert.InDelta(t, 2.0/3.0, rep.SuccessRate, 1e-9)
	require.Len(t, rep.Models, 2)
	assert.Equal(t, "kling:kling-2", rep.Models[0].Key)
	assert.InDelta(t, 0.5, rep.Models[0].SuccessRate, 1e-9)
	assert.Equal(t, "veo:veo-3", rep.Models[1].Key)
	assert.Equal(t, 40.0, rep.Models[1].Credits)
}

func TestAccounts(t *testing.T) {
	pool := testPool(t)
	_, ok := pool.GetAccount("kling", "kling-2", false)
	require.True(t, ok)

	rows := report.Accounts(pool)
	require.Len(t, rows, 3)
	assert.Equal(t, "k1", rows[0].ID)
	assert.NotNil(t, rows[0].LastUsed)
	assert.Equal(t, 1, rows[0].RequestsToday)
	assert.Equal(t, genrouter.StatusLowCredits, rows[1].Status)
	assert.Nil(t, rows[1].LastUsed)
	assert.Equal(t, "p1", rows[2].ID)
}
