package agenda_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"hpvcal/internal/agenda"
	"hpvcal/internal/model"
)

func weekly(t *testing.T, start time.Time) *rrule.RRule {
	t.Helper()
	r, err := rrule.NewRRule(rrule.ROption{Freq: rrule.WEEKLY, Dtstart: start})
	require.NoError(t, err)
	return r
}

func TestAggregateEndToEnd(t *testing.T) {
	seriesStart := refNow.Add(-days(7))
	feed := agenda.Feed{
		Kind: "salibandy",
		Events: []model.EventDefinition{
			{
				UID:      "match-1",
				Summary:  "HPV Salibandy: HPV - Lions",
				Location: "Kontula",
				Start:    refNow.Add(days(3)),
			},
			{
				UID:      "practice",
				Summary:  "Team: Weekly Practice",
				Start:    seriesStart,
				RawRRule: "FREQ=WEEKLY",
				Rule:     weekly(t, seriesStart),
				ExDates:  []time.Time{refNow.Add(days(7))},
			},
		},
	}

	agg := agenda.NewAggregator(agenda.DefaultClubRules(), 0)
	got := agg.Aggregate(agenda.Request{
		Feeds:  []agenda.Feed{feed},
		Now:    refNow,
		Window: days(14),
		Mode:   agenda.ModeWindowed,
		Filter: agenda.FilterAll,
	})

	require.Len(t, got, 3)

	assert.Equal(t, refNow, got[0].Start)
	assert.Equal(t, "Weekly Practice", got[0].VisibleTitle)
	assert.Equal(t, model.EventTypeOther, got[0].EventType)
	assert.Equal(t, model.SubTypePractice, got[0].SubType)
	assert.True(t, got[0].IsRecurring)
	assert.Nil(t, got[0].Match)

	assert.Equal(t, refNow.Add(days(3)), got[1].Start)
	assert.Equal(t, "HPV Salibandy: HPV - Lions", got[1].Title)
	assert.Equal(t, "HPV - Lions", got[1].VisibleTitle)
	assert.Equal(t, model.EventTypeMatch, got[1].EventType)
	assert.Equal(t, model.SubTypeMatch, got[1].SubType)
	assert.False(t, got[1].IsRecurring)
	assert.Equal(t, "salibandy", got[1].Feed)
	require.NotNil(t, got[1].Match)
	assert.Equal(t, model.MatchInfo{HomeTeam: "HPV", AwayTeam: "Lions", HomeIsOwnClub: true, Opponent: "Lions"}, *got[1].Match)

	assert.Equal(t, refNow.Add(days(14)), got[2].Start)
	assert.Equal(t, model.SubTypePractice, got[2].SubType)
}

func TestAggregateTypeFilter(t *testing.T) {
	feed := agenda.Feed{Kind: "k", Events: []model.EventDefinition{
		{UID: "m", Summary: "X: Lions - HPV", Start: refNow.Add(days(1))},
		{UID: "p", Summary: "X: Treenit", Start: refNow.Add(days(2))},
		{UID: "s", Summary: "X: Saunailta", Start: refNow.Add(days(3))},
	}}
	agg := agenda.NewAggregator(agenda.DefaultClubRules(), 0)

	run := func(f agenda.TypeFilter) []string {
		var uids []string
		for _, o := range agg.Aggregate(agenda.Request{Feeds: []agenda.Feed{feed}, Now: refNow, Window: days(30), Filter: f}) {
			uids = append(uids, o.UID)
		}
		return uids
	}

	assert.Equal(t, []string{"m", "p", "s"}, run(agenda.FilterAll))
	assert.Equal(t, []string{"m"}, run(agenda.FilterMatch))
	assert.Equal(t, []string{"p", "s"}, run(agenda.FilterOther))
	assert.Equal(t, []string{"m", "p", "s"}, run(""))
}

func TestAggregateOverrideMovesAndDrops(t *testing.T) {
	first := refNow.Add(days(1))
	second := refNow.Add(days(8))
	feed := agenda.Feed{Kind: "k", Events: []model.EventDefinition{
		{UID: "s", Summary: "T: Treenit", Location: "Hall A", Start: first, RawRRule: "FREQ=WEEKLY", Rule: listRule{first, second}},
		// Moves the first practice two hours later and renames it.
		{UID: "s", Summary: "T: Treenit (siirretty)", Start: first.Add(2 * time.Hour), RecurrenceID: ptr(first)},
		// Moves the second practice beyond the window.
		{UID: "s", Summary: "T: Treenit", Start: refNow.Add(days(20)), RecurrenceID: ptr(second)},
		// Override for a series this feed does not have.
		{UID: "ghost", Summary: "T: Ghost", Start: refNow.Add(days(2)), RecurrenceID: ptr(refNow.Add(days(2)))},
	}}

	agg := agenda.NewAggregator(agenda.DefaultClubRules(), 0)
	got := agg.Aggregate(agenda.Request{Feeds: []agenda.Feed{feed}, Now: refNow, Window: days(14)})

	require.Len(t, got, 1)
	assert.Equal(t, first.Add(2*time.Hour), got[0].Start)
	assert.Equal(t, "Treenit (siirretty)", got[0].VisibleTitle)
	assert.Equal(t, "Hall A", got[0].Location)
}

func TestAggregateOverrideCanMoveIntoPast(t *testing.T) {
	next := refNow.Add(days(1))
	feed := agenda.Feed{Kind: "k", Events: []model.EventDefinition{
		{UID: "s", Summary: "T: Treenit", Start: next, Rule: listRule{next, next.Add(days(7))}},
		{UID: "s", Start: refNow.Add(-time.Hour), RecurrenceID: ptr(next)},
	}}
	agg := agenda.NewAggregator(agenda.DefaultClubRules(), 0)

	got := agg.Aggregate(agenda.Request{Feeds: []agenda.Feed{feed}, Now: refNow, Mode: agenda.ModeNext})
	assert.Empty(t, got, "displaced next occurrence is dropped, not replaced")
}

func TestAggregateNextOnly(t *testing.T) {
	feedA := agenda.Feed{Kind: "a", Events: []model.EventDefinition{
		{UID: "series", Summary: "A: Treenit", Rule: stepRule{start: refNow.Add(-days(30) + time.Hour), step: days(7)}, ExDates: []time.Time{refNow.Add(-days(2) + time.Hour)}},
		{UID: "past", Summary: "A: HPV - Old", Start: refNow.Add(-days(1))},
		{UID: "single", Summary: "A: HPV - Lions", Start: refNow.Add(days(4))},
	}}
	feedB := agenda.Feed{Kind: "b", Events: []model.EventDefinition{
		// Same UID published in a second feed, earlier.
		{UID: "single", Summary: "B: HPV - Lions", Start: refNow.Add(days(2))},
	}}

	agg := agenda.NewAggregator(agenda.DefaultClubRules(), 0)
	got := agg.Aggregate(agenda.Request{
		Feeds:  []agenda.Feed{feedA, feedB},
		Now:    refNow,
		Window: days(1),
		Mode:   agenda.ModeNext,
	})

	require.Len(t, got, 2)
	seen := map[string]bool{}
	for i, o := range got {
		assert.False(t, seen[o.UID], "duplicate uid %s", o.UID)
		seen[o.UID] = true
		assert.True(t, o.Start.After(refNow))
		if i > 0 {
			assert.False(t, o.Start.Before(got[i-1].Start))
		}
	}

	assert.Equal(t, "single", got[0].UID)
	assert.Equal(t, "b", got[0].Feed)
	assert.Equal(t, refNow.Add(days(2)), got[0].Start)

	// Window length does not apply to next-only mode.
	assert.Equal(t, "series", got[1].UID)
	assert.Equal(t, refNow.Add(days(5)+time.Hour), got[1].Start)
}

func TestAggregateSynthesizedUID(t *testing.T) {
	start := refNow.Add(days(1))
	feed := agenda.Feed{Kind: "k", Events: []model.EventDefinition{
		{Summary: "X: Saunailta", Start: start},
	}}
	agg := agenda.NewAggregator(agenda.DefaultClubRules(), 0)

	a := agg.Aggregate(agenda.Request{Feeds: []agenda.Feed{feed}, Now: refNow, Window: days(7)})
	b := agg.Aggregate(agenda.Request{Feeds: []agenda.Feed{feed}, Now: refNow, Window: days(7), Mode: agenda.ModeNext})

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, "X: Saunailta-"+start.Format(time.RFC3339Nano), a[0].UID)
	assert.Equal(t, a[0].UID, b[0].UID)
}

func TestAggregateSortsDeterministically(t *testing.T) {
	at := refNow.Add(days(1))
	feed := agenda.Feed{Kind: "k", Events: []model.EventDefinition{
		{UID: "3", Summary: "X: C", Start: refNow.Add(days(3))},
		{UID: "2", Summary: "X: B", Start: at},
		{UID: "1", Summary: "X: A", Start: at},
		{UID: "0", Summary: "X: Z", Start: refNow.Add(days(2)), Rule: listRule{refNow.Add(days(2)), refNow.Add(-days(1))}},
	}}
	agg := agenda.NewAggregator(agenda.DefaultClubRules(), 0)

	got := agg.Aggregate(agenda.Request{Feeds: []agenda.Feed{feed}, Now: refNow, Window: days(7)})

	var titles []string
	for _, o := range got {
		titles = append(titles, o.VisibleTitle)
	}
	assert.Equal(t, []string{"A", "B", "Z", "C"}, titles)
}

func TestAggregateMatchWithoutStructure(t *testing.T) {
	feed := agenda.Feed{Kind: "k", Events: []model.EventDefinition{
		{UID: "m", Summary: "X: Lions - Tigers (HPV)", Start: refNow.Add(days(1))},
	}}
	agg := agenda.NewAggregator(agenda.DefaultClubRules(), 0)

	got := agg.Aggregate(agenda.Request{Feeds: []agenda.Feed{feed}, Now: refNow, Window: days(7), Filter: agenda.FilterMatch})

	require.Len(t, got, 1)
	assert.Equal(t, model.EventTypeMatch, got[0].EventType)
	assert.Nil(t, got[0].Match)
}

func TestParseModeAndFilter(t *testing.T) {
	m, err := agenda.ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, agenda.ModeWindowed, m)

	m, err = agenda.ParseMode("Next")
	require.NoError(t, err)
	assert.Equal(t, agenda.ModeNext, m)

	_, err = agenda.ParseMode("sometimes")
	assert.Error(t, err)

	assert.Equal(t, agenda.FilterMatch, agenda.ParseTypeFilter("ottelut"))
	assert.Equal(t, agenda.FilterOther, agenda.ParseTypeFilter("muut"))
	assert.Equal(t, agenda.FilterAll, agenda.ParseTypeFilter("kaikki"))
	assert.Equal(t, agenda.FilterAll, agenda.ParseTypeFilter("bogus"))
}
