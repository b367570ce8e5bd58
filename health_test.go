package genrouter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gr "github.com/ineyio/genrouter"
	"github.com/ineyio/genrouter/provider/mock"
)

func healthPool(t *testing.T) *gr.AccountPool {
	return newPool(t, []gr.AccountConfig{
		{ID: "k1", Provider: "kling", Capabilities: []string{"kling-2"}, InitialCredits: 500},
		{ID: "p1", Provider: "pollinations", Capabilities: []string{"flux"}},
	})
}

func TestHealth_StartsHealthy(t *testing.T) {
	h := gr.NewHealthMonitor(healthPool(t))

	v := h.Snapshot()
	assert.Len(t, v, 2)
	assert.True(t, v.Healthy("kling"))
	assert.True(t, v.Healthy("pollinations"))
	assert.True(t, v.Healthy("never-seen"))

	list := v.List()
	require.Len(t, list, 2)
	assert.Equal(t, "kling", list[0].Provider)
	assert.Equal(t, "pollinations", list[1].Provider)
}

func TestHealth_FailureThreshold(t *testing.T) {
	h := gr.NewHealthMonitor(healthPool(t))

	h.RecordFailure("kling")
	h.RecordFailure("kling")
	assert.True(t, h.Snapshot().Healthy("kling"))

	h.RecordFailure("kling")
	assert.False(t, h.Snapshot().Healthy("kling"))
	assert.Equal(t, 3, h.Snapshot()["kling"].ConsecutiveFailures)

	h.RecordSuccess("kling")
	assert.True(t, h.Snapshot().Healthy("kling"))
	assert.Zero(t, h.Snapshot()["kling"].ConsecutiveFailures)
}

func TestHealth_RefreshIsRateLimited(t *testing.T) {
	clk := newClock()
	probe := &mock.Pinger{}
	h := gr.NewHealthMonitor(healthPool(t),
		gr.WithPinger("kling", probe),
		gr.WithRefreshInterval(2*time.Minute),
		gr.WithHealthClock(clk.Now),
	)
	ctx := context.Background()

	assert.True(t, h.Refresh(ctx))
	for range 100 {
		assert.False(t, h.Refresh(ctx))
	}
	assert.Equal(t, 1, probe.Calls())

	clk.Advance(2 * time.Minute)
	assert.True(t, h.Refresh(ctx))
	assert.Equal(t, 2, probe.Calls())
}

func TestHealth_PingerFailures(t *testing.T) {
	probe := &mock.Pinger{}
	h := gr.NewHealthMonitor(healthPool(t), gr.WithPinger("kling", probe), gr.WithRefreshInterval(0))
	ctx := context.Background()

	probe.SetError(errors.New("dial tcp: connection refused"))
	h.Refresh(ctx)
	h.Refresh(ctx)
	assert.True(t, h.Snapshot().Healthy("kling"))
	h.Refresh(ctx)
	assert.False(t, h.Snapshot().Healthy("kling"))
	assert.True(t, h.Snapshot().Healthy("pollinations"))

	probe.SetError(nil)
	h.Refresh(ctx)
	assert.True(t, h.Snapshot().Healthy("kling"))
}

func TestHealth_RecoveryWindowWithoutPinger(t *testing.T) {
	clk := newClock()
	h := gr.NewHealthMonitor(healthPool(t),
		gr.WithHealthClock(clk.Now),
		gr.WithRefreshInterval(0),
		gr.WithRecoveryWindow(5*time.Minute),
	)
	ctx := context.Background()

	for range 3 {
		h.RecordFailure("kling")
	}
	h.Refresh(ctx)
	assert.False(t, h.Snapshot().Healthy("kling"))

	clk.Advance(4 * time.Minute)
	h.Refresh(ctx)
	assert.False(t, h.Snapshot().Healthy("kling"))

	clk.Advance(time.Minute)
	h.Refresh(ctx)
	assert.True(t, h.Snapshot().Healthy("kling"))
}

func TestHealth_NoAvailableAccounts(t *testing.T) {
	pool := healthPool(t)
	h := gr.NewHealthMonitor(pool, gr.WithRefreshInterval(0))
	ctx := context.Background()

	pool.MarkRateLimited("k1", time.Now().Add(time.Hour))
	h.Refresh(ctx)
	assert.False(t, h.Snapshot().Healthy("kling"))
	assert.Zero(t, h.Snapshot()["kling"].ConsecutiveFailures)
}

func TestHealth_RefreshRecoversPoolAccounts(t *testing.T) {
	clk := newClock()
	pool := newPool(t, []gr.AccountConfig{
		{ID: "k1", Provider: "kling", Capabilities: []string{"kling-2"}, InitialCredits: 500},
	}, gr.WithPoolClock(clk.Now), gr.WithAccountRecovery(5*time.Minute))
	h := gr.NewHealthMonitor(pool, gr.WithHealthClock(clk.Now), gr.WithRefreshInterval(time.Minute))
	ctx := context.Background()

	for range 3 {
		require.NoError(t, pool.UpdateAfterUse("k1", false, 0))
	}
	require.True(t, h.Refresh(ctx))
	assert.Equal(t, gr.StatusDegraded, status(t, pool, "k1"))
	assert.False(t, h.Snapshot().Healthy("kling"))

	clk.Advance(5 * time.Minute)
	require.True(t, h.Refresh(ctx))
	assert.Equal(t, gr.StatusHealthy, status(t, pool, "k1"))
	assert.True(t, h.Snapshot().Healthy("kling"))
}
