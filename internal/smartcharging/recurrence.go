package smartcharging

import (
	"sort"
	"time"

	"cpms/internal/models"
)

const (
	secondsPerDay  = 24 * 60 * 60
	secondsPerWeek = 7 * secondsPerDay
)

// ActivePeriod is the schedule period in force and the offset into the
// schedule it was selected for.
type ActivePeriod struct {
	Offset int64
	Index  int
	Period models.SchedulePeriod
}

// ActiveOffset returns the period of p that is in force at now. activation
// anchors Relative profiles and is ignored for the other kinds.
func ActiveOffset(p models.ChargingProfile, now time.Time, activation *time.Time) (ActivePeriod, bool) {
	if !withinValidity(p, now) {
		return ActivePeriod{}, false
	}
	offset, ok := scheduleOffset(p, now, activation)
	if !ok {
		return ActivePeriod{}, false
	}
	idx := periodAt(p.Periods, offset)
	if idx < 0 {
		return ActivePeriod{}, false
	}
	return ActivePeriod{Offset: offset, Index: idx, Period: p.Periods[idx]}, true
}

// withinValidity applies the [validFrom, validTo) window.
func withinValidity(p models.ChargingProfile, now time.Time) bool {
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidTo != nil && !now.Before(*p.ValidTo) {
		return false
	}
	return true
}

func scheduleOffset(p models.ChargingProfile, now time.Time, activation *time.Time) (int64, bool) {
	switch p.Kind {
	case models.KindAbsolute:
		if p.StartSchedule == nil {
			return 0, false
		}
		elapsed := elapsedSeconds(*p.StartSchedule, now)
		if elapsed < 0 {
			return 0, false
		}
		return elapsed, true
	case models.KindRelative:
		if activation == nil || p.DurationSeconds == nil {
			return 0, false
		}
		// The run ends once elapsed exceeds the duration, so the instant
		// activation+duration still resolves.
		elapsed := elapsedSeconds(*activation, now)
		if elapsed < 0 || elapsed > int64(*p.DurationSeconds) {
			return 0, false
		}
		return elapsed, true
	case models.KindRecurring:
		if p.StartSchedule == nil || p.RecurrencyKind == nil {
			return 0, false
		}
		cycle, ok := cycleSeconds(*p.RecurrencyKind)
		if !ok {
			return 0, false
		}
		return floorMod(elapsedSeconds(*p.StartSchedule, now), cycle), true
	}
	return 0, false
}

func cycleSeconds(rk models.RecurrencyKind) (int64, bool) {
	switch rk {
	case models.RecurrencyDaily:
		return secondsPerDay, true
	case models.RecurrencyWeekly:
		return secondsPerWeek, true
	}
	return 0, false
}

// periodAt returns the index of the last period whose start is <= offset,
// or -1 when none has started.
func periodAt(periods []models.SchedulePeriod, offset int64) int {
	n := sort.Search(len(periods), func(i int) bool {
		return int64(periods[i].StartPeriodSeconds) > offset
	})
	return n - 1
}

// elapsedSeconds is floor((to - from) / 1s), so instants a fraction of a
// second before from count as -1.
func elapsedSeconds(from, to time.Time) int64 {
	return floorDiv(int64(to.Sub(from)), int64(time.Second))
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// floorMod is always in [0, m) for positive m.
func floorMod(a, m int64) int64 {
	r := a % m
	if r < 0 {
		r += m
	}
	return r
}
