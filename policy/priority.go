package policy

import (
	"sort"

	"github.com/ineyio/genrouter"
)

// Priority picks the highest-ranked account. Priority 1 ranks first; ties
// go to the account with the most credits. Credits never outrank priority.
type Priority struct{}

var _ genrouter.Selector = (*Priority)(nil)

func (p *Priority) Select(eligible []genrouter.Candidate) genrouter.Candidate {
	ordered := make([]genrouter.Candidate, len(eligible))
	copy(ordered, eligible)

	sort.SliceStable(ordered, func(i, j int) bool {
		ai, aj := ordered[i].Account, ordered[j].Account
		if ai.Priority != aj.Priority {
			return ai.Priority < aj.Priority
		}
		return ai.Credits > aj.Credits
	})

	return ordered[0]
}
