package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "hpvcal/internal/log"
	"hpvcal/internal/model"
)

// ErrEmptyBody is returned by ParseICS for an empty payload.
var ErrEmptyBody = errors.New("empty ICS body")

// ParseICS parses a single ICS payload into event definitions tagged with
// src.Kind.
//
//   - DTSTART relies on the library's TZID handling.
//   - EXDATE and RECURRENCE-ID honor their own TZID/VALUE parameters and fall
//     back to DTSTART's zone for floating values.
//   - RRULE is parsed here; a rule that fails to parse is kept as RawRRule
//     with a nil Rule so the series resolves to nothing.
//
// A VEVENT that cannot be read is logged and skipped; only an unreadable
// calendar fails the whole feed.
func ParseICS(src Source, body []byte) ([]model.EventDefinition, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "kind", src.Kind, "url", RedactURL(src.URL))
		return nil, fmt.Errorf("parse %s: %w", src.Kind, err)
	}

	events := make([]model.EventDefinition, 0)
	for _, ve := range cal.Events() {
		events = append(events, parseVEvent(src, ve))
	}

	appLog.Debug("ics parse completed", "kind", src.Kind, "url", RedactURL(src.URL), "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) model.EventDefinition {
	out := model.EventDefinition{Feed: src.Kind}

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = strings.TrimSpace(p.Value)
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	// Missing or unreadable DTSTART leaves Start zero; the engine skips it.
	if start, err := ve.GetStartAt(); err == nil {
		out.Start = start
	}
	zone := time.Local
	if !out.Start.IsZero() {
		zone = out.Start.Location()
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && strings.TrimSpace(p.Value) != "" {
		out.RawRRule = strings.TrimSpace(p.Value)
		rule, err := ParseRule(out.RawRRule, out.Start)
		if err != nil {
			appLog.Error("ics rrule rejected", err, "kind", src.Kind, "uid", out.UID, "rrule", out.RawRRule)
		} else {
			out.Rule = rule
		}
	}

	// EXDATE can appear multiple times, each with a comma-separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parsePropertyTime(part, p.ICalParameters, zone); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, err := parsePropertyTime(p.Value, p.ICalParameters, zone); err == nil {
			out.RecurrenceID = &t
		}
	}

	return out
}

// parsePropertyTime parses an ICS DATE or DATE-TIME value. UTC values ("Z")
// ignore TZID; otherwise TZID wins over the fallback zone.
func parsePropertyTime(v string, params map[string][]string, fallback *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	loc := fallback
	if loc == nil {
		loc = time.Local
	}
	if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
		if l, err := time.LoadLocation(tzs[0]); err == nil {
			loc = l
		}
	}

	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
