package agenda_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hpvcal/internal/agenda"
	"hpvcal/internal/model"
)

func TestResolveWindowSingle(t *testing.T) {
	w := agenda.Window{Start: refNow, End: refNow.Add(days(14))}

	tests := []struct {
		name  string
		start time.Time
		want  int
	}{
		{name: "inside", start: refNow.Add(days(3)), want: 1},
		{name: "at window start", start: refNow, want: 1},
		{name: "at window end", start: refNow.Add(days(14)), want: 1},
		{name: "before", start: refNow.Add(-time.Minute), want: 0},
		{name: "after", start: refNow.Add(days(14) + time.Second), want: 0},
		{name: "missing start", start: time.Time{}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := agenda.ResolveWindow(model.EventDefinition{UID: "x", Start: tt.start}, w)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestResolveWindowRecurringHonorsBoundsAndExceptions(t *testing.T) {
	w := agenda.Window{Start: refNow, End: refNow.Add(days(30))}
	rule := stepRule{start: refNow.Add(-days(10) + time.Hour), step: days(2)}
	excepted := []time.Time{
		refNow.Add(days(2) + time.Hour),
		// Same instant in another zone still counts as excepted.
		refNow.Add(days(6) + time.Hour).In(time.FixedZone("EEST", 3*3600)),
	}
	def := model.EventDefinition{UID: "s", RawRRule: "FREQ=DAILY;INTERVAL=2", Rule: rule, ExDates: excepted}

	got := agenda.ResolveWindow(def, w)

	assert.NotEmpty(t, got)
	for _, inst := range got {
		assert.True(t, w.Contains(inst), "instant %s outside window", inst)
		for _, ex := range excepted {
			assert.False(t, inst.Equal(ex), "excepted instant %s returned", inst)
		}
	}
	assert.Len(t, got, 13)
}

func TestResolveWindowExceptionNeedsExactInstant(t *testing.T) {
	w := agenda.Window{Start: refNow, End: refNow.Add(days(7))}
	inst := refNow.Add(days(1))
	def := model.EventDefinition{
		UID:     "s",
		Rule:    listRule{inst},
		ExDates: []time.Time{inst.Add(time.Second)},
	}

	assert.Equal(t, []time.Time{inst}, agenda.ResolveWindow(def, w))
}

func TestResolveWindowMalformedRule(t *testing.T) {
	w := agenda.Window{Start: refNow, End: refNow.Add(days(7))}
	def := model.EventDefinition{UID: "s", Start: refNow.Add(days(1)), RawRRule: "FREQ=SOMETIMES"}

	assert.Empty(t, agenda.ResolveWindow(def, w))
	_, ok := agenda.ResolveNext(def, refNow, agenda.DefaultMaxSkips)
	assert.False(t, ok)
}

func TestResolveNextSingle(t *testing.T) {
	future := model.EventDefinition{UID: "f", Start: refNow.Add(time.Hour)}
	got, ok := agenda.ResolveNext(future, refNow, agenda.DefaultMaxSkips)
	assert.True(t, ok)
	assert.Equal(t, future.Start, got)

	_, ok = agenda.ResolveNext(model.EventDefinition{UID: "n", Start: refNow}, refNow, agenda.DefaultMaxSkips)
	assert.False(t, ok, "start equal to now is not strictly after")

	_, ok = agenda.ResolveNext(model.EventDefinition{UID: "p", Start: refNow.Add(-time.Hour)}, refNow, agenda.DefaultMaxSkips)
	assert.False(t, ok)
}

func TestResolveNextSkipsExceptions(t *testing.T) {
	rule := stepRule{start: refNow.Add(-days(3) + time.Hour), step: days(1)}
	def := model.EventDefinition{
		UID:     "s",
		Rule:    rule,
		ExDates: []time.Time{refNow.Add(time.Hour), refNow.Add(days(1) + time.Hour)},
	}

	got, ok := agenda.ResolveNext(def, refNow, agenda.DefaultMaxSkips)
	assert.True(t, ok)
	assert.Equal(t, refNow.Add(days(2)+time.Hour), got)
}

func TestResolveNextSkipBound(t *testing.T) {
	rule := stepRule{start: refNow.Add(time.Hour), step: days(1)}

	exceptions := func(n int) []time.Time {
		out := make([]time.Time, n)
		for i := range out {
			out[i] = refNow.Add(days(i) + time.Hour)
		}
		return out
	}

	def := model.EventDefinition{UID: "s", Rule: rule, ExDates: exceptions(20)}
	got, ok := agenda.ResolveNext(def, refNow, 20)
	assert.True(t, ok)
	assert.Equal(t, refNow.Add(days(20)+time.Hour), got)

	def.ExDates = exceptions(21)
	_, ok = agenda.ResolveNext(def, refNow, 20)
	assert.False(t, ok, "more exceptions than the skip bound means exhausted")
}

func TestResolveNextExhaustedSeries(t *testing.T) {
	def := model.EventDefinition{UID: "s", Rule: listRule{refNow.Add(-days(7)), refNow.Add(-days(1))}}
	_, ok := agenda.ResolveNext(def, refNow, agenda.DefaultMaxSkips)
	assert.False(t, ok)
}
