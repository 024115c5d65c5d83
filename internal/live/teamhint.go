package live

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"courtside/internal/logging"
	"courtside/internal/store"
	"courtside/internal/types"
)

// MinHintLen is the shortest token considered as a team hint. Shorter tokens
// ("vs", "the", "nba") produce too many false matches.
const MinHintLen = 4

// liveKeywords signal that a query is about an in-progress game.
var liveKeywords = []string{
	"live", "score", "quarter", "half", "halftime", "period", "inning",
	"q1", "q2", "q3", "q4", "ot", "overtime", "right now", "in-game", "in game",
	"currently", "leading", "trailing", "up by", "down by",
}

// HasLiveIntent reports whether the query mentions any live-intent keyword.
// Single-word keywords must match a whole token.
func HasLiveIntent(query string) bool {
	q := strings.ToLower(query)
	tokens := make(map[string]bool)
	for _, tok := range tokenize(q) {
		tokens[tok] = true
	}
	for _, kw := range liveKeywords {
		if strings.ContainsAny(kw, " -") {
			if strings.Contains(q, kw) {
				return true
			}
			continue
		}
		if tokens[kw] {
			return true
		}
	}
	return false
}

// DetectHint returns the search hint for a free-text query: the longest
// alphanumeric token of at least MinHintLen characters, lower-cased. The
// first such token wins ties. ok is false when the query has no live intent
// or no qualifying token.
//
// The heuristic can pick a non-team word ("quarter") when it is the longest
// token. That is a known limitation.
func DetectHint(query string) (hint string, ok bool) {
	if !HasLiveIntent(query) {
		return "", false
	}
	best := ""
	for _, tok := range tokenize(strings.ToLower(query)) {
		if len([]rune(tok)) < MinHintLen {
			continue
		}
		if len([]rune(tok)) > len([]rune(best)) {
			best = tok
		}
	}
	return best, best != ""
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// MatchFinder looks up an in-progress match by a fuzzy team-name hint.
type MatchFinder interface {
	FindInProgressMatch(ctx context.Context, hint string) (*types.LiveGameSnapshot, error)
}

// Resolution is the outcome of resolving a query to a match.
type Resolution struct {
	Hint  string
	Match *types.LiveGameSnapshot
}

// Resolver turns a query into a match when no explicit context is supplied.
type Resolver struct {
	finder MatchFinder
}

// NewResolver creates a Resolver.
func NewResolver(finder MatchFinder) *Resolver {
	return &Resolver{finder: finder}
}

// Resolve detects a hint in query and looks up the matching in-progress
// game. A nil Match with a nil error means nothing was resolved.
func (r *Resolver) Resolve(ctx context.Context, query string) (Resolution, error) {
	hint, ok := DetectHint(query)
	if !ok {
		return Resolution{}, nil
	}
	res := Resolution{Hint: hint}

	match, err := r.finder.FindInProgressMatch(ctx, hint)
	if errors.Is(err, store.ErrNotFound) {
		logging.ContextDebug("Team hint %q matched no in-progress game", hint)
		return res, nil
	}
	if err != nil {
		return res, err
	}
	res.Match = match
	logging.Context("Team hint %q resolved to match %s (%s vs %s)", hint, match.MatchID, match.HomeTeam, match.AwayTeam)
	return res, nil
}
