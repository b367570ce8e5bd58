package genrouter

import "time"

const (
	daysPerMonth = 30

	// minProjectionWindow is the smallest elapsed time a projection scales by.
	minProjectionWindow = time.Hour
)

// Projection extrapolates today's per-tier generation counts.
type Projection struct {
	At      time.Time        `json:"at"`
	Elapsed time.Duration    `json:"elapsed"`
	Today   map[Tier]int     `json:"today"`
	Daily   map[Tier]float64 `json:"daily"`
	Monthly map[Tier]float64 `json:"monthly"`

	TotalDaily   float64 `json:"total_daily"`
	TotalMonthly float64 `json:"total_monthly"`
}

// Projection scales today's per-tier counts by the elapsed fraction of the
// local day into a daily estimate, and multiplies that by 30 for a monthly one.
func (l *UsageLedger) Projection(now time.Time) Projection {
	l.mu.Lock()
	l.maybeResetDay(now)
	today := make(map[Tier]int, len(l.tierToday))
	for t, n := range l.tierToday {
		today[t] = n
	}
	l.mu.Unlock()

	return projectCounts(today, now)
}

func projectCounts(today map[Tier]int, now time.Time) Projection {
	elapsed := now.Sub(midnight(now))
	window := max(elapsed, minProjectionWindow)
	scale := float64(24*time.Hour) / float64(window)

	p := Projection{
		At:      now,
		Elapsed: elapsed,
		Today:   today,
		Daily:   make(map[Tier]float64, len(today)),
		Monthly: make(map[Tier]float64, len(today)),
	}
	for t, n := range today {
		daily := float64(n) * scale
		p.Daily[t] = daily
		p.Monthly[t] = daily * daysPerMonth
		p.TotalDaily += daily
	}
	p.TotalMonthly = p.TotalDaily * daysPerMonth
	return p
}
