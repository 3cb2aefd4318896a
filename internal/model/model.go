package model

import "time"

// Recurrence is the narrow view of a recurrence rule the agenda engine needs.
// *rrule.RRule (github.com/teambition/rrule-go) satisfies it as-is; tests use
// hand-written fakes.
type Recurrence interface {
	// Between returns all instants in [after, before] (or (after, before)
	// when inclusive is false).
	Between(after, before time.Time, inclusive bool) []time.Time
	// After returns the first instant after t, or the zero time if the
	// series has no further instants.
	After(t time.Time, inclusive bool) time.Time
}

// EventDefinition is a single VEVENT as defined by the source feed, before
// recurrence expansion.
type EventDefinition struct {
	// Feed is the kind of the feed that carried this record (e.g. "salibandy").
	Feed string

	UID string

	// Summary is the raw title; it usually carries a "Label: " prefix.
	Summary     string
	Description string
	Location    string

	// Start is DTSTART. The zero value means the feed did not provide a
	// usable start.
	Start time.Time

	// RawRRule is the RRULE value as found in the feed. A non-empty value
	// marks the definition as a repeating series even when Rule is nil.
	RawRRule string
	// Rule is the parsed form of RawRRule; nil if it could not be parsed.
	Rule Recurrence

	ExDates []time.Time

	// RecurrenceID is set only on override instances: the originally
	// scheduled instant of the occurrence this record replaces.
	RecurrenceID *time.Time
}

// IsRecurring reports whether the definition describes a repeating series.
func (d EventDefinition) IsRecurring() bool {
	return d.RawRRule != "" || d.Rule != nil
}

// IsOverride reports whether the definition replaces a single instance of
// another series.
func (d EventDefinition) IsOverride() bool {
	return d.RecurrenceID != nil
}

// Key returns the UID, or a key derived from title and start when the feed
// omitted the UID.
func (d EventDefinition) Key() string {
	if d.UID != "" {
		return d.UID
	}
	start := ""
	if !d.Start.IsZero() {
		start = d.Start.UTC().Format(time.RFC3339Nano)
	}
	return d.Summary + "-" + start
}

// EventType is the coarse classification of an occurrence.
type EventType string

const (
	EventTypeMatch EventType = "match"
	EventTypeOther EventType = "other"
)

// SubType refines EventType.
type SubType string

const (
	SubTypeMatch      SubType = "match"
	SubTypeTournament SubType = "tournament"
	SubTypePractice   SubType = "practice"
	SubTypeSocial     SubType = "social"
	SubTypeOther      SubType = "other"
)

// MatchInfo is the home/away structure parsed from a match title.
type MatchInfo struct {
	HomeTeam      string
	AwayTeam      string
	HomeIsOwnClub bool
	Opponent      string
}

// Occurrence represents a single resolved, classified instance of an event.
type Occurrence struct {
	Feed string
	UID  string

	Start time.Time

	// Title is the raw (possibly overridden) summary; VisibleTitle has the
	// "Label: " prefix removed.
	Title        string
	VisibleTitle string
	Description  string
	Location     string

	EventType   EventType
	SubType     SubType
	IsRecurring bool

	// Match is set only for match occurrences whose title could be parsed
	// into home/away teams.
	Match *MatchInfo
}
