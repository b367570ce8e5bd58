package genrouter

// eligibleCandidates filters accounts of one provider down to those that may
// serve capability: HEALTHY, declaring the capability, and either free for it
// or funded at or above their floor. Accounts listed in skip are excluded.
func eligibleCandidates(accounts []*Account, spec ProviderSpec, capability string, skip map[string]bool) []Candidate {
	var out []Candidate
	for _, a := range accounts {
		if skip[a.ID] {
			continue
		}
		if a.Status != StatusHealthy {
			continue
		}
		if !a.Supports(capability) {
			continue
		}
		free := a.IsFree(spec, capability)
		if !free && !a.funded() {
			continue
		}
		out = append(out, Candidate{
			Account:    a.snapshot(),
			Capability: capability,
			Free:       free,
		})
	}
	return out
}

// preferFree narrows candidates to the free ones when any exist.
func preferFree(candidates []Candidate) []Candidate {
	var free []Candidate
	for _, c := range candidates {
		if c.Free {
			free = append(free, c)
		}
	}
	if len(free) == 0 {
		return candidates
	}
	return free
}
