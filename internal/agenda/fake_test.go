package agenda_test

import (
	"time"
)

// stepRule is an endless series start, start+step, start+2*step, ...
type stepRule struct {
	start time.Time
	step  time.Duration
}

func (r stepRule) Between(after, before time.Time, inclusive bool) []time.Time {
	var out []time.Time
	for t := r.start; !t.After(before); t = t.Add(r.step) {
		if t.Before(after) || (!inclusive && (t.Equal(after) || t.Equal(before))) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (r stepRule) After(t time.Time, inclusive bool) time.Time {
	for c := r.start; ; c = c.Add(r.step) {
		if c.After(t) || (inclusive && c.Equal(t)) {
			return c
		}
	}
}

// listRule is a finite series.
type listRule []time.Time

func (r listRule) Between(after, before time.Time, inclusive bool) []time.Time {
	var out []time.Time
	for _, t := range r {
		in := t.After(after) && t.Before(before)
		if inclusive && (t.Equal(after) || t.Equal(before)) {
			in = true
		}
		if in {
			out = append(out, t)
		}
	}
	return out
}

func (r listRule) After(t time.Time, inclusive bool) time.Time {
	for _, c := range r {
		if c.After(t) || (inclusive && c.Equal(t)) {
			return c
		}
	}
	return time.Time{}
}

var refNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }
