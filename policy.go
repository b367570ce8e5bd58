package genrouter

// Selector picks one account out of an eligible set.
type Selector interface {
	// Select returns the chosen account from eligible, which is never empty.
	// Implementations must not retain or mutate the slice.
	Select(eligible []Candidate) Candidate
}

// Candidate is an eligible account together with the routing facts a selector
// needs to rank it.
type Candidate struct {
	Account    Account
	Capability string
	Free       bool // capability costs no credits on this provider
}

// selectionRoundRobin is the selection the default pool implements itself.
const selectionRoundRobin = "round_robin"

// defaultRoundRobin is an inline round-robin selector to avoid import cycles.
type defaultRoundRobin struct {
	next int
}

// Select is called with the pool lock held.
func (s *defaultRoundRobin) Select(eligible []Candidate) Candidate {
	c := eligible[s.next%len(eligible)]
	s.next++
	return c
}
