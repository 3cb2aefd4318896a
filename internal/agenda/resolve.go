package agenda

import (
	"time"

	"hpvcal/internal/model"
)

// DefaultMaxSkips bounds how many excepted instants next-only resolution will
// step over before treating the series as exhausted.
const DefaultMaxSkips = 20

// Window is an inclusive time range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies in [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// ResolveWindow returns the scheduled (pre-override) instants of def that fall
// inside w. Excepted instants are removed. The result is not sorted.
func ResolveWindow(def model.EventDefinition, w Window) []time.Time {
	if !def.IsRecurring() {
		if def.Start.IsZero() || !w.Contains(def.Start) {
			return nil
		}
		return []time.Time{def.Start}
	}

	// Unparsable RRULE: the series contributes nothing.
	if def.Rule == nil {
		return nil
	}

	ex := exceptionSet(def.ExDates)
	var out []time.Time
	for _, t := range def.Rule.Between(w.Start, w.End, true) {
		if ex.has(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// ResolveNext returns the earliest scheduled instant of def strictly after
// now. For a series it steps over at most maxSkips excepted instants; running
// out of skips, or out of instants, yields false.
func ResolveNext(def model.EventDefinition, now time.Time, maxSkips int) (time.Time, bool) {
	if !def.IsRecurring() {
		if def.Start.IsZero() || !def.Start.After(now) {
			return time.Time{}, false
		}
		return def.Start, true
	}

	if def.Rule == nil {
		return time.Time{}, false
	}
	if maxSkips < 0 {
		maxSkips = DefaultMaxSkips
	}

	ex := exceptionSet(def.ExDates)
	cand := def.Rule.After(now, false)
	for skipped := 0; ; skipped++ {
		if cand.IsZero() {
			return time.Time{}, false
		}
		if !ex.has(cand) {
			return cand, true
		}
		if skipped >= maxSkips {
			return time.Time{}, false
		}
		cand = def.Rule.After(cand, false)
	}
}

// instantSet matches instants by absolute time at nanosecond precision,
// independent of the time.Location they carry.
type instantSet map[int64]struct{}

func exceptionSet(ts []time.Time) instantSet {
	if len(ts) == 0 {
		return nil
	}
	s := make(instantSet, len(ts))
	for _, t := range ts {
		s[t.UnixNano()] = struct{}{}
	}
	return s
}

func (s instantSet) has(t time.Time) bool {
	_, ok := s[t.UnixNano()]
	return ok
}
