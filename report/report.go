// Package report builds read-only views over a router's account pool and
// usage ledger for dashboards and the HTTP API.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/ineyio/genrouter"
)

// ProviderCapacity is the remaining capacity of one provider.
type ProviderCapacity struct {
	Provider        string  `json:"provider"`
	Accounts        int     `json:"accounts"`
	HealthyAccounts int     `json:"healthy_accounts"`
	Credits         float64 `json:"credits"`

	// UsableCredits is the sum, over funded accounts, of the credits left
	// above each account's floor.
	UsableCredits float64 `json:"usable_credits"`

	// CreditsPerGeneration is the price of one billing unit.
	CreditsPerGeneration float64 `json:"credits_per_generation"`

	// GenerationsLeft is UsableCredits over CreditsPerGeneration, or -1 when
	// the provider is free.
	GenerationsLeft int  `json:"generations_left"`
	Free            bool `json:"free"`
	Emergency       bool `json:"emergency"`
}

// CapacityReport combines per-provider capacity with the usage projection.
type CapacityReport struct {
	At         time.Time                `json:"at"`
	Providers  []ProviderCapacity       `json:"providers"`
	Projection genrouter.Projection     `json:"projection"`
	Failovers  []genrouter.FailoverPair `json:"active_failovers,omitempty"`
}

// Capacity reports the remaining credits of every provider in pool and
// projects today's generation counts from ledger to a day and a month.
func Capacity(pool *genrouter.AccountPool, ledger *genrouter.UsageLedger, now time.Time) CapacityReport {
	rep := CapacityReport{At: now}
	for _, name := range pool.Providers() {
		spec, _ := pool.Spec(name)
		pc := ProviderCapacity{
			Provider:             name,
			CreditsPerGeneration: spec.Credits(0),
			Free:                 spec.Volume,
			Emergency:            pool.InEmergencyMode(name),
		}
		for _, a := range pool.AccountsFor(name) {
			pc.Accounts++
			if a.Status == genrouter.StatusHealthy {
				pc.HealthyAccounts++
			}
			pc.Credits += a.Credits
			if a.Credits > 0 && a.Credits >= a.CreditFloor {
				pc.UsableCredits += a.Credits - a.CreditFloor
			}
		}
		pc.GenerationsLeft = generationsLeft(pc)
		rep.Providers = append(rep.Providers, pc)
	}
	if ledger != nil {
		rep.Projection = ledger.Projection(now)
	}
	return rep
}

func generationsLeft(pc ProviderCapacity) int {
	if pc.Free || pc.CreditsPerGeneration <= 0 {
		return -1
	}
	return int(math.Floor(pc.UsableCredits / pc.CreditsPerGeneration))
}

// WithFailovers attaches the router's active failover pairs.
func (r CapacityReport) WithFailovers(state *genrouter.RouterState) CapacityReport {
	if state != nil {
		r.Failovers = state.Active()
	}
	return r
}

// ModelRow is one line of the usage statistics table.
type ModelRow struct {
	Key string `json:"key"`
	genrouter.ModelStats
	SuccessRate float64 `json:"success_rate"`
}

// StatsReport is the ledger snapshot with derived rates.
type StatsReport struct {
	genrouter.GenerationStats
	SuccessRate float64    `json:"success_rate"`
	Models      []ModelRow `json:"models"`
}

// Stats returns the ledger counters with per-model success rates, sorted by
// model key.
func Stats(ledger *genrouter.UsageLedger) StatsReport {
	snap := ledger.Snapshot()
	rep := StatsReport{
		GenerationStats: snap,
		SuccessRate:     snap.SuccessRate(),
	}
	for key, s := range snap.ByModel {
		row := ModelRow{Key: key, ModelStats: s}
		if s.Requests > 0 {
			row.SuccessRate = float64(s.Successes) / float64(s.Requests)
		}
		rep.Models = append(rep.Models, row)
	}
	sort.Slice(rep.Models, func(i, j int) bool { return rep.Models[i].Key < rep.Models[j].Key })
	return rep
}

// AccountRow is the public view of an account. Credentials never appear.
type AccountRow struct {
	ID                string                  `json:"id"`
	Provider          string                  `json:"provider"`
	Status            genrouter.AccountStatus `json:"status"`
	Credits           float64                 `json:"credits"`
	CreditFloor       float64                 `json:"credit_floor"`
	Priority          int                     `json:"priority"`
	Capabilities      []string                `json:"capabilities"`
	ConsecutiveErrors int                     `json:"consecutive_errors"`
	RequestsToday     int                     `json:"requests_today"`
	LastUsed          *time.Time              `json:"last_used,omitempty"`
	LastError         string                  `json:"last_error,omitempty"`
}

// Accounts lists every account in pool, sorted by provider then id.
func Accounts(pool *genrouter.AccountPool) []AccountRow {
	accs := pool.Accounts()
	out := make([]AccountRow, 0, len(accs))
	for _, a := range accs {
		row := AccountRow{
			ID:                a.ID,
			Provider:          a.Provider,
			Status:            a.Status,
			Credits:           a.Credits,
			CreditFloor:       a.CreditFloor,
			Priority:          a.Priority,
			Capabilities:      a.ActiveCapabilities,
			ConsecutiveErrors: a.ConsecutiveErrors,
			RequestsToday:     a.RequestsToday,
			LastError:         a.LastError,
		}
		if !a.LastUsed.IsZero() {
			t := a.LastUsed
			row.LastUsed = &t
		}
		out = append(out, row)
	}
	return out
}
