package policy

import (
	"math/rand/v2"

	"github.com/ineyio/genrouter"
)

// Random picks a uniformly random eligible account.
type Random struct {
	// Intn overrides the random source, used by tests.
	Intn func(n int) int
}

var _ genrouter.Selector = (*Random)(nil)

func (p *Random) Select(eligible []genrouter.Candidate) genrouter.Candidate {
	intn := p.Intn
	if intn == nil {
		intn = rand.IntN
	}
	return eligible[intn(len(eligible))]
}
