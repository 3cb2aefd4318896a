package agenda

import (
	"regexp"
	"strings"

	"hpvcal/internal/model"
)

var (
	dashes     = strings.NewReplacer("–", "-", "—", "-")
	spaceRun   = regexp.MustCompile(`\s+`)
	vsSplitter = regexp.MustCompile(`(?i)\s(?:vs|v)\s`)
)

// TeamParser extracts home/away structure from match titles, oriented on the
// club's anchor token.
type TeamParser struct {
	anchor   string
	name     string
	anchorRe *regexp.Regexp
}

// NewTeamParser builds a TeamParser for rules.Anchor. With an empty anchor
// the parser never finds structure.
func NewTeamParser(rules ClubRules) *TeamParser {
	anchor := strings.TrimSpace(rules.Anchor)
	name := strings.TrimSpace(rules.Name)
	if name == "" {
		name = anchor
	}
	p := &TeamParser{anchor: anchor, name: name}
	if anchor != "" {
		// Whole word: bounded by start/end or by a rune that is neither a
		// letter nor a digit in any script.
		p.anchorRe = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(` + regexp.QuoteMeta(anchor) + `)(?:[^\p{L}\p{N}]|$)`)
	}
	return p
}

// NormalizeTitle unifies en/em dashes to '-', collapses whitespace runs and
// trims the result.
func NormalizeTitle(s string) string {
	s = dashes.Replace(s)
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Parse returns the team structure of title, or false when the title does not
// have the shape "<opponent> - <anchor>", "<anchor> - <opponent>",
// "<anchor> vs <opponent>" or "<opponent> vs <anchor>".
func (p *TeamParser) Parse(title string) (model.MatchInfo, bool) {
	if p.anchorRe == nil {
		return model.MatchInfo{}, false
	}
	title = NormalizeTitle(title)
	if title == "" {
		return model.MatchInfo{}, false
	}

	loc := p.anchorRe.FindStringSubmatchIndex(title)
	if loc == nil {
		return model.MatchInfo{}, false
	}
	start, end := loc[2], loc[3]

	if i := dashBefore(title, start); i >= 0 {
		return p.awayAgainst(strings.TrimSpace(title[:i]))
	}
	if i := dashAfter(title, end); i >= 0 {
		return p.homeAgainst(strings.TrimSpace(title[i+1:]))
	}

	parts := vsSplitter.Split(title, -1)
	if len(parts) != 2 {
		return model.MatchInfo{}, false
	}
	left, right := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if left == "" || right == "" {
		return model.MatchInfo{}, false
	}
	leftIsUs := strings.EqualFold(left, p.anchor)
	rightIsUs := strings.EqualFold(right, p.anchor)
	switch {
	case leftIsUs && !rightIsUs:
		return p.homeAgainst(right)
	case rightIsUs && !leftIsUs:
		return p.awayAgainst(left)
	default:
		return model.MatchInfo{}, false
	}
}

func (p *TeamParser) homeAgainst(opponent string) (model.MatchInfo, bool) {
	if opponent == "" {
		return model.MatchInfo{}, false
	}
	return model.MatchInfo{
		HomeTeam:      p.name,
		AwayTeam:      opponent,
		HomeIsOwnClub: true,
		Opponent:      opponent,
	}, true
}

func (p *TeamParser) awayAgainst(opponent string) (model.MatchInfo, bool) {
	if opponent == "" {
		return model.MatchInfo{}, false
	}
	return model.MatchInfo{
		HomeTeam:      opponent,
		AwayTeam:      p.name,
		HomeIsOwnClub: false,
		Opponent:      opponent,
	}, true
}

// dashBefore returns the index of a '-' directly left of pos, allowing one
// space in between, or -1.
func dashBefore(s string, pos int) int {
	i := pos - 1
	if i >= 0 && s[i] == ' ' {
		i--
	}
	if i >= 0 && s[i] == '-' {
		return i
	}
	return -1
}

// dashAfter is the mirror of dashBefore for the text right of pos.
func dashAfter(s string, pos int) int {
	i := pos
	if i < len(s) && s[i] == ' ' {
		i++
	}
	if i < len(s) && s[i] == '-' {
		return i
	}
	return -1
}
