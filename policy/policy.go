// Package policy provides the account selection strategies of an
// AccountPool.
package policy

import (
	"fmt"

	"github.com/ineyio/genrouter"
)

// Selection strategy names accepted by ByName.
const (
	NameRoundRobin    = "round_robin"
	NameLeastUsed     = "least_used"
	NamePriority      = "priority"
	NameRandom        = "random"
	NameCostOptimized = "cost_optimized"
)

// ByName returns a fresh selector for a configuration name. An empty name
// selects round robin.
func ByName(name string) (genrouter.Selector, error) {
	switch name {
	case "", NameRoundRobin:
		return &RoundRobin{}, nil
	case NameLeastUsed:
		return &LeastUsed{}, nil
	case NamePriority:
		return &Priority{}, nil
	case NameRandom:
		return &Random{}, nil
	case NameCostOptimized:
		return &CostOptimized{}, nil
	default:
		return nil, fmt.Errorf("genrouter: unknown selection strategy %q", name)
	}
}
