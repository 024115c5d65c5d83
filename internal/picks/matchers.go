package picks

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Kind tags what a matcher recognised.
type Kind int

const (
	KindNone Kind = iota
	KindSpread
	KindTotal
	KindMoneyline
)

func (k Kind) String() string {
	switch k {
	case KindSpread:
		return "spread"
	case KindTotal:
		return "total"
	case KindMoneyline:
		return "moneyline"
	default:
		return "none"
	}
}

// Match is one recognised recommendation inside a verdict line.
type Match struct {
	Kind Kind
	Side string
	Line *float64
	// Pos is the byte offset in the line, used to keep source order.
	Pos int
}

// Matcher recognises one family of recommendation.
type Matcher interface {
	Kind() Kind
	Find(line string) []Match
}

// DefaultMatchers returns the matchers in evaluation order.
func DefaultMatchers() []Matcher {
	return []Matcher{spreadMatcher{}, totalMatcher{}, moneylineMatcher{}}
}

// teamWord is one word of a team name. A leading digit run is allowed
// ("76ers", "49ers") but the word must contain a letter, so a bare line
// such as "4.5" is never taken for a team.
const teamWord = `\d*[A-Za-z][A-Za-z0-9.'&]*`

const teamWords = `(` + teamWord + `(?:\s+` + teamWord + `){0,2})`

var (
	passPattern      = regexp.MustCompile(`(?i)verdict\s*[:\-]\s*pass\b`)
	emphasisChars    = strings.NewReplacer("*", "", "_", "", "~", "", "`", "")
	spreadPattern    = regexp.MustCompile(`\b` + teamWords + `\s+([+-]\d{1,2}(?:\.\d)?)(?:\b|$)`)
	totalPattern     = regexp.MustCompile(`(?i)\b(over|under)\s+(\d{2,3}(?:\.\d)?)\b`)
	moneylinePattern = regexp.MustCompile(`(?i)\b` + teamWords + `\s+(?:ML|moneyline)\b(?:\s*\(?([+-]\d{3,4})\)?)?`)
	overUnderWord    = regexp.MustCompile(`(?i)\b(over|under)\b`)
	moneylineWord    = regexp.MustCompile(`(?i)\b(ml|moneyline)\b`)
)

// fillerWords are dropped from the front of a captured team name.
var fillerWords = map[string]bool{
	"take": true, "the": true, "bet": true, "on": true, "play": true, "back": true,
	"and": true, "lean": true, "with": true, "hammer": true, "i": true, "like": true,
	"go": true, "a": true, "pick": true, "plus": true,
}

// IsPass reports whether text carries a "verdict: pass" marker in any case
// and with any markdown emphasis.
func IsPass(text string) bool {
	return passPattern.MatchString(emphasisChars.Replace(text))
}

type spreadMatcher struct{}

func (spreadMatcher) Kind() Kind { return KindSpread }

func (spreadMatcher) Find(line string) []Match {
	var out []Match
	for _, idx := range spreadPattern.FindAllStringSubmatchIndex(line, -1) {
		whole := line[idx[0]:idx[1]]
		if overUnderWord.MatchString(whole) || moneylineWord.MatchString(whole) {
			continue
		}
		side := cleanTeam(line[idx[2]:idx[3]])
		if side == "" {
			continue
		}
		v, err := strconv.ParseFloat(line[idx[4]:idx[5]], 64)
		if err != nil {
			continue
		}
		out = append(out, Match{Kind: KindSpread, Side: side, Line: &v, Pos: idx[0]})
	}
	return out
}

type totalMatcher struct{}

func (totalMatcher) Kind() Kind { return KindTotal }

func (totalMatcher) Find(line string) []Match {
	var out []Match
	for _, idx := range totalPattern.FindAllStringSubmatchIndex(line, -1) {
		v, err := strconv.ParseFloat(line[idx[4]:idx[5]], 64)
		if err != nil {
			continue
		}
		out = append(out, Match{
			Kind: KindTotal,
			Side: strings.ToUpper(line[idx[2]:idx[3]]),
			Line: &v,
			Pos:  idx[0],
		})
	}
	return out
}

type moneylineMatcher struct{}

func (moneylineMatcher) Kind() Kind { return KindMoneyline }

func (moneylineMatcher) Find(line string) []Match {
	var out []Match
	for _, idx := range moneylinePattern.FindAllStringSubmatchIndex(line, -1) {
		team := line[idx[2]:idx[3]]
		if overUnderWord.MatchString(team) {
			continue
		}
		side := cleanTeam(team)
		if side == "" {
			continue
		}
		m := Match{Kind: KindMoneyline, Side: side, Pos: idx[0]}
		if idx[4] >= 0 {
			if v, err := strconv.ParseFloat(line[idx[4]:idx[5]], 64); err == nil {
				m.Line = &v
			}
		}
		out = append(out, m)
	}
	return out
}

// cleanTeam drops leading filler words and any trailing ML marker.
func cleanTeam(s string) string {
	words := strings.Fields(s)
	for len(words) > 0 && fillerWords[strings.ToLower(words[0])] {
		words = words[1:]
	}
	for len(words) > 0 && moneylineWord.MatchString(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

// matchLine runs every matcher over line and returns matches in source order.
func matchLine(matchers []Matcher, line string) []Match {
	var all []Match
	for _, m := range matchers {
		all = append(all, m.Find(line)...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Pos < all[j].Pos })
	return all
}
