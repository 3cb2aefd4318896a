package agenda_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hpvcal/internal/agenda"
	"hpvcal/internal/model"
)

func TestClassify(t *testing.T) {
	c := agenda.NewClassifier(agenda.DefaultClubRules())

	tests := []struct {
		title string
		et    model.EventType
		st    model.SubType
	}{
		{"HPV - Lions", model.EventTypeMatch, model.SubTypeMatch},
		{"Lions – hpv", model.EventTypeMatch, model.SubTypeMatch},
		{"HPV-turnaus - Espoo", model.EventTypeMatch, model.SubTypeMatch},
		{"HPV vs Lions", model.EventTypeOther, model.SubTypeOther},
		{"Kevään turnaus", model.EventTypeOther, model.SubTypeTournament},
		{"Weekly Practice", model.EventTypeOther, model.SubTypePractice},
		{"Jäätreenit", model.EventTypeOther, model.SubTypePractice},
		{"Harkat", model.EventTypeOther, model.SubTypePractice},
		{"Oheisharjoitukset", model.EventTypeOther, model.SubTypePractice},
		{"Turnaustreeni", model.EventTypeOther, model.SubTypeTournament},
		{"Saunailta", model.EventTypeOther, model.SubTypeSocial},
		{"Ruotsinlaiva", model.EventTypeOther, model.SubTypeSocial},
		{"Kauden päätös", model.EventTypeOther, model.SubTypeOther},
		{"Hiccup", model.EventTypeOther, model.SubTypeOther},
		{"Occupational safety briefing", model.EventTypeOther, model.SubTypeOther},
		{"", model.EventTypeOther, model.SubTypeOther},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			et, st := c.Classify(tt.title)
			assert.Equal(t, tt.et, et)
			assert.Equal(t, tt.st, st)

			et2, st2 := c.Classify(tt.title)
			assert.Equal(t, et, et2)
			assert.Equal(t, st, st2)
		})
	}
}

func TestClassifyCustomRules(t *testing.T) {
	c := agenda.NewClassifier(agenda.ClubRules{
		Anchor:         "Kiekko",
		SocialKeywords: []string{"Grilli"},
	})

	et, st := c.Classify("kiekko - Jokerit")
	assert.Equal(t, model.EventTypeMatch, et)
	assert.Equal(t, model.SubTypeMatch, st)

	_, st = c.Classify("Kesägrilli")
	assert.Equal(t, model.SubTypeSocial, st)

	_, st = c.Classify("HPV - Lions")
	assert.Equal(t, model.SubTypeOther, st)
}

func TestVisibleTitle(t *testing.T) {
	assert.Equal(t, "HPV - Lions", agenda.VisibleTitle("HPV Salibandy: HPV - Lions"))
	assert.Equal(t, "Weekly Practice", agenda.VisibleTitle("Team:Weekly Practice"))
	assert.Equal(t, "No label", agenda.VisibleTitle("No label"))
	assert.Equal(t, "Klo 18: treenit", agenda.VisibleTitle("Team: Klo 18: treenit"))
}
