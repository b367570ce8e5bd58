package policy

import "github.com/ineyio/genrouter"

// LeastUsed picks the account with the fewest requests today. Ties go to the
// lowest account id so the choice is deterministic.
type LeastUsed struct{}

var _ genrouter.Selector = (*LeastUsed)(nil)

func (p *LeastUsed) Select(eligible []genrouter.Candidate) genrouter.Candidate {
	best := eligible[0]
	for _, c := range eligible[1:] {
		switch {
		case c.Account.RequestsToday < best.Account.RequestsToday:
			best = c
		case c.Account.RequestsToday == best.Account.RequestsToday && c.Account.ID < best.Account.ID:
			best = c
		}
	}
	return best
}
