package agenda

import (
	"regexp"
	"strings"

	"hpvcal/internal/model"
)

// ClubRules configures title classification and team parsing for one club.
type ClubRules struct {
	// Anchor is the club's own short name as it appears in match titles
	// (e.g. "HPV"). Matching is case-insensitive.
	Anchor string
	// Name is the display name used for the club's side of a parsed match.
	// Defaults to Anchor.
	Name string

	TournamentKeywords []string
	PracticeKeywords   []string
	SocialKeywords     []string
}

// DefaultClubRules returns the rules used by the HPV feeds, covering the
// Finnish stems the scheduling provider uses plus English equivalents.
func DefaultClubRules() ClubRules {
	return ClubRules{
		Anchor:             "HPV",
		Name:               "HPV",
		TournamentKeywords: []string{"turnaus", "tournament"},
		PracticeKeywords:   []string{"treeni", "reeni", "harjoit", "harkat", "harkka", "practice", "training"},
		SocialKeywords:     []string{"sauna", "laiva", "risteily", "virkistys", "trip", "cruise", "recreation"},
	}
}

// Classifier maps visible titles to (EventType, SubType).
type Classifier struct {
	anchor     string
	tournament []string
	practice   []string
	social     []string
}

// NewClassifier builds a Classifier from rules. Keywords are matched as
// lowercase substrings.
func NewClassifier(rules ClubRules) *Classifier {
	return &Classifier{
		anchor:     strings.ToLower(strings.TrimSpace(rules.Anchor)),
		tournament: lowerAll(rules.TournamentKeywords),
		practice:   lowerAll(rules.PracticeKeywords),
		social:     lowerAll(rules.SocialKeywords),
	}
}

// Classify returns the classification of a visible title. It never fails:
// titles matching no rule are (other, other).
//
// The match rule is a plain substring check (anchor plus any dash) and is
// looser than TeamParser: a title may classify as a match and still have no
// parseable team structure.
func (c *Classifier) Classify(visibleTitle string) (model.EventType, model.SubType) {
	t := strings.ToLower(visibleTitle)

	switch {
	case c.anchor != "" && strings.Contains(t, c.anchor) && strings.ContainsAny(t, "-–—"):
		return model.EventTypeMatch, model.SubTypeMatch
	case containsAny(t, c.tournament):
		return model.EventTypeOther, model.SubTypeTournament
	case containsAny(t, c.practice):
		return model.EventTypeOther, model.SubTypePractice
	case containsAny(t, c.social):
		return model.EventTypeOther, model.SubTypeSocial
	default:
		return model.EventTypeOther, model.SubTypeOther
	}
}

var labelPrefix = regexp.MustCompile(`^[^:]+:\s*`)

// VisibleTitle strips the leading "Label: " prefix the scheduling provider
// adds to every summary ("HPV Salibandy: HPV - Lions" -> "HPV - Lions").
func VisibleTitle(summary string) string {
	return labelPrefix.ReplaceAllString(summary, "")
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func lowerAll(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
