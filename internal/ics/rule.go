package ics

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"hpvcal/internal/model"
)

// ParseRule builds a recurrence from an RRULE value anchored at dtstart.
// The returned *rrule.RRule satisfies model.Recurrence.
func ParseRule(raw string, dtstart time.Time) (*rrule.RRule, error) {
	if dtstart.IsZero() {
		return nil, errors.New("rrule: series has no DTSTART")
	}
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return nil, fmt.Errorf("rrule %q: %w", raw, err)
	}
	// Instants are generated in DTSTART's zone so that wall-clock times stay
	// fixed across DST changes.
	opt.Dtstart = dtstart
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("rrule %q: %w", raw, err)
	}
	return r, nil
}

var _ model.Recurrence = (*rrule.RRule)(nil)
