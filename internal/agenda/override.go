package agenda

import (
	"time"

	"hpvcal/internal/model"
)

// OverrideIndex maps a series UID and the originally scheduled instant of one
// of its occurrences to the record that replaces that occurrence.
type OverrideIndex map[string]map[int64]model.EventDefinition

// BuildOverrideIndex collects the override instances (RECURRENCE-ID) among
// defs. Overrides without a UID cannot be matched to a series and are skipped.
func BuildOverrideIndex(defs []model.EventDefinition) OverrideIndex {
	idx := make(OverrideIndex)
	for _, d := range defs {
		if !d.IsOverride() || d.UID == "" {
			continue
		}
		byInstant, ok := idx[d.UID]
		if !ok {
			byInstant = make(map[int64]model.EventDefinition)
			idx[d.UID] = byInstant
		}
		byInstant[d.RecurrenceID.UnixNano()] = d
	}
	return idx
}

// Lookup returns the override for the occurrence of uid originally scheduled
// at original.
func (idx OverrideIndex) Lookup(uid string, original time.Time) (model.EventDefinition, bool) {
	byInstant, ok := idx[uid]
	if !ok {
		return model.EventDefinition{}, false
	}
	ov, ok := byInstant[original.UnixNano()]
	return ov, ok
}

// Merged holds the display fields of one occurrence after override
// substitution.
type Merged struct {
	Start       time.Time
	Title       string
	Description string
	Location    string
	Overridden  bool
}

// Merge applies the override (if any) registered for master's occurrence at
// original. Fields the override leaves empty keep the master's value; an
// override without a usable start keeps the scheduled instant.
func (idx OverrideIndex) Merge(master model.EventDefinition, original time.Time) Merged {
	m := Merged{
		Start:       original,
		Title:       master.Summary,
		Description: master.Description,
		Location:    master.Location,
	}

	ov, ok := idx.Lookup(master.Key(), original)
	if !ok {
		return m
	}
	m.Overridden = true
	if !ov.Start.IsZero() {
		m.Start = ov.Start
	}
	if ov.Summary != "" {
		m.Title = ov.Summary
	}
	if ov.Description != "" {
		m.Description = ov.Description
	}
	if ov.Location != "" {
		m.Location = ov.Location
	}
	return m
}
