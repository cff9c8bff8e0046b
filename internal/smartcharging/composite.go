package smartcharging

import (
	"sort"
	"time"

	"cpms/internal/models"
)

// CompositePeriod is a stretch of time with a single effective limit. A nil
// Limit means the charger is unconstrained during [Start, End).
type CompositePeriod struct {
	Start time.Time
	End   time.Time
	Limit *models.EffectiveLimit
}

// Composite resolves scope over [from, from+window) and returns consecutive,
// non-overlapping periods covering the whole window. Neighbouring periods
// with the same winning profile and schedule period are merged.
func Composite(candidates []models.ChargingProfile, scope models.Scope, from time.Time, window time.Duration) []CompositePeriod {
	if window <= 0 {
		return nil
	}
	to := from.Add(window)

	var matching []models.ChargingProfile
	for _, p := range candidates {
		if Matches(p, scope) {
			matching = append(matching, p)
		}
	}

	points := []time.Time{from}
	add := func(t time.Time) {
		if t.After(from) && t.Before(to) {
			points = append(points, t)
		}
	}
	for _, p := range matching {
		for _, t := range breakpoints(p, from, to, scope.ActivatedAt) {
			add(t)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })

	var out []CompositePeriod
	for i, t := range points {
		if i > 0 && t.Equal(points[i-1]) {
			continue
		}
		var limit *models.EffectiveLimit
		if l, ok := Resolve(matching, scope, t); ok {
			limit = &l
		}
		if n := len(out); n > 0 && sameWinner(out[n-1].Limit, limit) {
			continue
		}
		if n := len(out); n > 0 {
			out[n-1].End = t
		}
		out = append(out, CompositePeriod{Start: t, End: to, Limit: limit})
	}
	return out
}

// breakpoints lists the instants in [from, to) at which the active period
// of p may change.
func breakpoints(p models.ChargingProfile, from, to time.Time, activation *time.Time) []time.Time {
	var out []time.Time
	if p.ValidFrom != nil {
		out = append(out, *p.ValidFrom)
	}
	if p.ValidTo != nil {
		out = append(out, *p.ValidTo)
	}
	switch p.Kind {
	case models.KindAbsolute:
		if p.StartSchedule != nil {
			out = append(out, periodStarts(*p.StartSchedule, p.Periods)...)
		}
	case models.KindRelative:
		if activation != nil && p.DurationSeconds != nil {
			out = append(out, periodStarts(*activation, p.Periods)...)
			// First whole second past the run; skipped when beyond the window.
			if end := int64(*p.DurationSeconds) + 1; end <= elapsedSeconds(*activation, to) {
				out = append(out, activation.Add(time.Duration(end)*time.Second))
			}
		}
	case models.KindRecurring:
		if p.StartSchedule == nil || p.RecurrencyKind == nil {
			break
		}
		cycle, ok := cycleSeconds(*p.RecurrencyKind)
		if !ok {
			break
		}
		first := floorDiv(elapsedSeconds(*p.StartSchedule, from), cycle)
		last := floorDiv(elapsedSeconds(*p.StartSchedule, to), cycle)
		for k := first; k <= last; k++ {
			origin := p.StartSchedule.Add(time.Duration(k*cycle) * time.Second)
			out = append(out, periodStarts(origin, p.Periods)...)
		}
	}
	return out
}

func periodStarts(origin time.Time, periods []models.SchedulePeriod) []time.Time {
	out := make([]time.Time, 0, len(periods))
	for _, sp := range periods {
		out = append(out, origin.Add(time.Duration(sp.StartPeriodSeconds)*time.Second))
	}
	return out
}

func sameWinner(a, b *models.EffectiveLimit) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ProfileId == b.ProfileId && a.PeriodIndex == b.PeriodIndex
}
