package policy

import (
	"sort"

	"github.com/ineyio/genrouter"
)

// CostOptimized prefers accounts that serve the capability for free, then
// the account with the most credits.
type CostOptimized struct{}

var _ genrouter.Selector = (*CostOptimized)(nil)

// Select returns the first candidate after ordering free before paid and,
// within each group, by credits descending.
func (p *CostOptimized) Select(eligible []genrouter.Candidate) genrouter.Candidate {
	ordered := make([]genrouter.Candidate, len(eligible))
	copy(ordered, eligible)

	sort.SliceStable(ordered, func(i, j int) bool {
		ci, cj := ordered[i], ordered[j]

		// Free before paid.
		if ci.Free != cj.Free {
			return ci.Free
		}
		return ci.Account.Credits > cj.Account.Credits
	})

	return ordered[0]
}
