package policy

import (
	"sync"

	"github.com/ineyio/genrouter"
)

// RoundRobin rotates through the eligible set. The index is shared across
// calls, so successive selections over a stable set visit every account.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

var _ genrouter.Selector = (*RoundRobin)(nil)

func (p *RoundRobin) Select(eligible []genrouter.Candidate) genrouter.Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()

	c := eligible[p.next%len(eligible)]
	p.next++
	return c
}
