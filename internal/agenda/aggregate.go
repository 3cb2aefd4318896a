package agenda

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"hpvcal/internal/model"
)

// Mode selects how occurrences are retrieved.
type Mode string

const (
	// ModeWindowed returns every occurrence in [now, now+window].
	ModeWindowed Mode = "windowed"
	// ModeNext returns only the next occurrence of each event after now.
	ModeNext Mode = "next"
)

// ParseMode accepts the API spellings of a Mode. Empty input is windowed.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "windowed", "window":
		return ModeWindowed, nil
	case "next", "next-only", "seuraava":
		return ModeNext, nil
	default:
		return "", fmt.Errorf("agenda: unknown mode %q", s)
	}
}

// TypeFilter restricts the output by EventType.
type TypeFilter string

const (
	FilterAll   TypeFilter = "all"
	FilterMatch TypeFilter = "match"
	FilterOther TypeFilter = "other"
)

// ParseTypeFilter accepts English and Finnish filter names. Empty or unknown
// input yields FilterAll, matching the API's lenient query handling.
func ParseTypeFilter(s string) TypeFilter {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "match", "matches", "matchonly", "ottelut", "ottelu":
		return FilterMatch
	case "other", "others", "otheronly", "muut", "muu":
		return FilterOther
	default:
		return FilterAll
	}
}

func (f TypeFilter) keep(t model.EventType) bool {
	switch f {
	case FilterMatch:
		return t == model.EventTypeMatch
	case FilterOther:
		return t == model.EventTypeOther
	default:
		return true
	}
}

// Feed is the fully parsed content of one calendar feed.
type Feed struct {
	Kind   string
	Events []model.EventDefinition
}

// Request describes one aggregation pass.
type Request struct {
	Feeds  []Feed
	Now    time.Time
	Window time.Duration
	Mode   Mode
	Filter TypeFilter
}

// Aggregator turns parsed feeds into a sorted list of classified occurrences.
// It holds no state between calls and is safe for concurrent use.
type Aggregator struct {
	classifier *Classifier
	teams      *TeamParser
	maxSkips   int
}

// NewAggregator builds an Aggregator. maxSkips <= 0 selects DefaultMaxSkips.
func NewAggregator(rules ClubRules, maxSkips int) *Aggregator {
	if maxSkips <= 0 {
		maxSkips = DefaultMaxSkips
	}
	return &Aggregator{
		classifier: NewClassifier(rules),
		teams:      NewTeamParser(rules),
		maxSkips:   maxSkips,
	}
}

// Aggregate resolves, classifies, filters and sorts the occurrences of all
// feeds in req.
func (a *Aggregator) Aggregate(req Request) []model.Occurrence {
	win := Window{Start: req.Now, End: req.Now.Add(req.Window)}
	mode := req.Mode
	if mode == "" {
		mode = ModeWindowed
	}

	out := make([]model.Occurrence, 0)
	for _, feed := range req.Feeds {
		overrides := BuildOverrideIndex(feed.Events)

		for _, def := range feed.Events {
			if def.IsOverride() {
				continue
			}

			var scheduled []time.Time
			if mode == ModeNext {
				if t, ok := ResolveNext(def, req.Now, a.maxSkips); ok {
					scheduled = []time.Time{t}
				}
			} else {
				scheduled = ResolveWindow(def, win)
			}

			for _, original := range scheduled {
				m := overrides.Merge(def, original)
				if mode == ModeNext {
					if !m.Start.After(req.Now) {
						continue
					}
				} else if !win.Contains(m.Start) {
					continue
				}

				occ := a.occurrence(feed.Kind, def, m)
				if !req.Filter.keep(occ.EventType) {
					continue
				}
				out = append(out, occ)
			}
		}
	}

	if mode == ModeNext {
		out = earliestPerUID(out)
	}
	sortOccurrences(out)
	return out
}

func (a *Aggregator) occurrence(kind string, def model.EventDefinition, m Merged) model.Occurrence {
	if def.Feed != "" {
		kind = def.Feed
	}
	visible := VisibleTitle(m.Title)
	et, st := a.classifier.Classify(visible)

	occ := model.Occurrence{
		Feed:         kind,
		UID:          def.Key(),
		Start:        m.Start,
		Title:        m.Title,
		VisibleTitle: visible,
		Description:  m.Description,
		Location:     m.Location,
		EventType:    et,
		SubType:      st,
		IsRecurring:  def.IsRecurring(),
	}
	if et == model.EventTypeMatch {
		if info, ok := a.teams.Parse(visible); ok {
			occ.Match = &info
		}
	}
	return occ
}

func earliestPerUID(occs []model.Occurrence) []model.Occurrence {
	best := make(map[string]int, len(occs))
	out := make([]model.Occurrence, 0, len(occs))
	for _, o := range occs {
		i, seen := best[o.UID]
		if !seen {
			best[o.UID] = len(out)
			out = append(out, o)
			continue
		}
		if compareOccurrences(o, out[i]) < 0 {
			out[i] = o
		}
	}
	return out
}

func sortOccurrences(occs []model.Occurrence) {
	slices.SortStableFunc(occs, compareOccurrences)
}

func compareOccurrences(a, b model.Occurrence) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	return cmp.Or(
		strings.Compare(a.Title, b.Title),
		strings.Compare(a.UID, b.UID),
		strings.Compare(a.Feed, b.Feed),
	)
}
