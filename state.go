package genrouter

import (
	"sort"
	"sync"
)

// FailoverPair is a (primary, alternate) provider pair.
type FailoverPair struct {
	Primary   string `json:"primary"`
	Alternate string `json:"alternate"`
}

// RouterState holds the failover flags of one Router. Each pair is either
// NORMAL or FAILOVER_ACTIVE; Activate and Restore report only real edges so
// counters move once per transition.
type RouterState struct {
	mu     sync.Mutex
	active map[FailoverPair]bool
}

// NewRouterState creates a state with every pair NORMAL.
func NewRouterState() *RouterState {
	return &RouterState{active: make(map[FailoverPair]bool)}
}

// Activate moves the pair to FAILOVER_ACTIVE. It returns true only if the
// pair was NORMAL.
func (s *RouterState) Activate(primary, alternate string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := FailoverPair{Primary: primary, Alternate: alternate}
	if s.active[p] {
		return false
	}
	s.active[p] = true
	return true
}

// Restore moves every active pair whose primary is provider back to NORMAL
// and returns those pairs.
func (s *RouterState) Restore(provider string) []FailoverPair {
	s.mu.Lock()
	defer s.mu.Unlock()

	var restored []FailoverPair
	for p := range s.active {
		if p.Primary == provider {
			delete(s.active, p)
			restored = append(restored, p)
		}
	}
	sortPairs(restored)
	return restored
}

// Active returns the pairs currently in FAILOVER_ACTIVE.
func (s *RouterState) Active() []FailoverPair {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]FailoverPair, 0, len(s.active))
	for p := range s.active {
		out = append(out, p)
	}
	sortPairs(out)
	return out
}

func sortPairs(ps []FailoverPair) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Primary != ps[j].Primary {
			return ps[i].Primary < ps[j].Primary
		}
		return ps[i].Alternate < ps[j].Alternate
	})
}
