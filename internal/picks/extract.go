// Package picks derives structured recommendations from a finalized answer.
// Zero picks is a valid outcome: either the answer passed explicitly or no
// verdict line matched any known form.
package picks

import (
	"fmt"
	"regexp"
	"strings"

	"courtside/internal/logging"
	"courtside/internal/types"
)

// MaxReasoningChars caps the reasoning summary stored with each pick.
const MaxReasoningChars = 280

var verdictLine = regexp.MustCompile(`(?im)^\s*(?:[-*>#]+\s*)?(?:final\s+)?(?:verdict|pick|play|best\s+bet|recommendation)s?\s*[:\-]\s*(.+)$`)

// Input is what the extractor reads.
type Input struct {
	Text    string
	Thought string
	MatchID string
	RunID   string
}

// Result is the extraction outcome.
type Result struct {
	Picks []types.Pick
	// Pass is true when the answer explicitly declined to play.
	Pass bool
}

// Extractor applies an ordered set of matchers.
type Extractor struct {
	matchers []Matcher
}

// NewExtractor creates an Extractor. No matchers means DefaultMatchers.
func NewExtractor(matchers ...Matcher) *Extractor {
	if len(matchers) == 0 {
		matchers = DefaultMatchers()
	}
	return &Extractor{matchers: matchers}
}

// Extract runs once over a finalized answer.
func Extract(in Input) Result {
	return NewExtractor().Extract(in)
}

// Extract derives picks from in. A pass marker anywhere in the answer or
// thought trace short-circuits to an empty result.
func (e *Extractor) Extract(in Input) Result {
	combined := in.Text + "\n" + in.Thought
	if IsPass(combined) || IsPass(StripMarkdown(combined)) {
		logging.PicksDebug("Run %s passed; no picks extracted", in.RunID)
		return Result{Pass: true, Picks: []types.Pick{}}
	}

	plain := StripMarkdown(in.Text)
	confidence := inferConfidence(plain, StripMarkdown(in.Thought))
	summary := summarize(plain)

	picks := []types.Pick{}
	seen := make(map[string]bool)
	for _, m := range verdictLine.FindAllStringSubmatch(plain, -1) {
		for _, match := range matchLine(e.matchers, m[1]) {
			p := types.Pick{
				MatchID:          in.MatchID,
				Type:             pickType(match.Kind),
				Side:             match.Side,
				Line:             match.Line,
				Confidence:       confidence,
				ReasoningSummary: summary,
				RunID:            in.RunID,
			}
			key := dedupeKey(p)
			if seen[key] {
				continue
			}
			seen[key] = true
			picks = append(picks, p)
		}
	}

	logging.Picks("Extracted %d picks for run %s (confidence %s)", len(picks), in.RunID, confidence)
	return Result{Picks: picks}
}

func pickType(k Kind) types.PickType {
	switch k {
	case KindTotal:
		return types.PickTotal
	case KindMoneyline:
		return types.PickMoneyline
	default:
		return types.PickSpread
	}
}

func dedupeKey(p types.Pick) string {
	line := "nil"
	if p.Line != nil {
		line = fmt.Sprintf("%g", *p.Line)
	}
	return strings.ToLower(string(p.Type) + "|" + p.Side + "|" + line)
}

// inferConfidence reads the first explicit phrase, answer before thought.
func inferConfidence(texts ...string) types.Confidence {
	for _, t := range texts {
		lower := strings.ToLower(t)
		hi := strings.Index(lower, "high confidence")
		lo := strings.Index(lower, "low confidence")
		switch {
		case hi >= 0 && (lo < 0 || hi < lo):
			return types.ConfidenceHigh
		case lo >= 0:
			return types.ConfidenceLow
		}
	}
	return types.ConfidenceMedium
}

// summarize returns the answer without verdict lines, collapsed to one line
// and capped at MaxReasoningChars.
func summarize(plain string) string {
	body := verdictLine.ReplaceAllString(plain, "")
	body = strings.Join(strings.Fields(body), " ")
	if len([]rune(body)) <= MaxReasoningChars {
		return body
	}
	r := []rune(body)[:MaxReasoningChars]
	if i := strings.LastIndex(string(r), " "); i > MaxReasoningChars/2 {
		return string(r)[:i] + "..."
	}
	return string(r) + "..."
}
