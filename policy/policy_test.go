package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/genrouter"
	"github.com/ineyio/genrouter/policy"
)

func cand(id string, priority int, credits float64, free bool) genrouter.Candidate {
	return genrouter.Candidate{
		Account: genrouter.Account{ID: id, Priority: priority, Credits: credits},
		Free:    free,
	}
}

func TestPriority_RankBeatsCredits(t *testing.T) {
	p := &policy.Priority{}
	eligible := []genrouter.Candidate{
		cand("B", 2, 5000, false),
		cand("A", 1, 500, false),
	}
	for range 10 {
		assert.Equal(t, "A", p.Select(eligible).Account.ID)
	}
}

func TestPriority_TieGoesToMostCredits(t *testing.T) {
	p := &policy.Priority{}
	got := p.Select([]genrouter.Candidate{
		cand("low", 1, 100, false),
		cand("high", 1, 900, false),
	})
	assert.Equal(t, "high", got.Account.ID)
}

func TestCostOptimized_NeverPaidOverFree(t *testing.T) {
	p := &policy.CostOptimized{}
	eligible := []genrouter.Candidate{
		cand("paid-rich", 1, 10000, false),
		cand("free-poor", 5, 0, true),
		cand("paid", 1, 300, false),
	}
	assert.Equal(t, "free-poor", p.Select(eligible).Account.ID)
}

func TestCostOptimized_MostCreditsAmongPaid(t *testing.T) {
	p := &policy.CostOptimized{}
	got := p.Select([]genrouter.Candidate{
		cand("a", 1, 100, false),
		cand("b", 1, 700, false),
		cand("c", 1, 300, false),
	})
	assert.Equal(t, "b", got.Account.ID)
}

func TestCostOptimized_DoesNotReorderInput(t *testing.T) {
	p := &policy.CostOptimized{}
	eligible := []genrouter.Candidate{cand("a", 1, 1, false), cand("b", 1, 2, true)}
	p.Select(eligible)
	assert.Equal(t, "a", eligible[0].Account.ID)
}

func TestRoundRobin(t *testing.T) {
	p := &policy.RoundRobin{}
	eligible := []genrouter.Candidate{cand("a", 0, 1, false), cand("b", 0, 1, false), cand("c", 0, 1, false)}

	var got []string
	for range 4 {
		got = append(got, p.Select(eligible).Account.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "a"}, got)
}

func TestLeastUsed(t *testing.T) {
	p := &policy.LeastUsed{}
	a := cand("a", 0, 1, false)
	a.Account.RequestsToday = 4
	b := cand("b", 0, 1, false)
	b.Account.RequestsToday = 2
	c := cand("c", 0, 1, false)
	c.Account.RequestsToday = 2

	assert.Equal(t, "b", p.Select([]genrouter.Candidate{a, c, b}).Account.ID)
}

func TestRandom(t *testing.T) {
	p := &policy.Random{Intn: func(n int) int { return n - 1 }}
	eligible := []genrouter.Candidate{cand("a", 0, 1, false), cand("b", 0, 1, false)}
	assert.Equal(t, "b", p.Select(eligible).Account.ID)

	def := &policy.Random{}
	for range 20 {
		id := def.Select(eligible).Account.ID
		assert.Contains(t, []string{"a", "b"}, id)
	}
}

func TestByName(t *testing.T) {
	tests := []struct {
		name string
		want genrouter.Selector
	}{
		{"", &policy.RoundRobin{}},
		{policy.NameRoundRobin, &policy.RoundRobin{}},
		{policy.NameLeastUsed, &policy.LeastUsed{}},
		{policy.NamePriority, &policy.Priority{}},
		{policy.NameRandom, &policy.Random{}},
		{policy.NameCostOptimized, &policy.CostOptimized{}},
	}
	for _, tt := range tests {
		got, err := policy.ByName(tt.name)
		require.NoError(t, err)
		assert.IsType(t, tt.want, got)
	}

	_, err := policy.ByName("cheapest")
	assert.Error(t, err)
}
