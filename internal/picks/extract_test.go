package picks

import (
	"testing"

	"courtside/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func line(v float64) *float64 { return &v }

func TestPassShortCircuits(t *testing.T) {
	inputs := []string{
		"Verdict: PASS",
		"verdict: pass",
		"**Verdict: PASS**",
		"**Verdict:** *Pass*",
		"Lakers -4.5 looks tempting.\n\nVerdict: Lakers -4.5\n\n_Verdict_: pass on everything else",
	}
	for _, text := range inputs {
		t.Run(text, func(t *testing.T) {
			res := Extract(Input{Text: text, RunID: "r"})
			assert.True(t, res.Pass)
			assert.NotNil(t, res.Picks)
			assert.Empty(t, res.Picks)
		})
	}

	res := Extract(Input{Text: "Verdict: Lakers -4.5", Thought: "honestly, Verdict: PASS"})
	assert.True(t, res.Pass, "thought trace counts toward the pass marker")
}

func TestSpreadPick(t *testing.T) {
	res := Extract(Input{Text: "Verdict: Lakers -4.5", MatchID: "m1", RunID: "r1"})
	require.Len(t, res.Picks, 1)
	assert.Equal(t, types.Pick{
		MatchID:          "m1",
		Type:             types.PickSpread,
		Side:             "Lakers",
		Line:             line(-4.5),
		Confidence:       types.ConfidenceMedium,
		ReasoningSummary: "",
		RunID:            "r1",
	}, res.Picks[0])
}

func TestSpreadPickTeamNames(t *testing.T) {
	cases := []struct {
		text string
		side string
		line float64
	}{
		{"Verdict: 76ers -3.5", "76ers", -3.5},
		{"Verdict: Philadelphia 76ers +2", "Philadelphia 76ers", 2},
		{"Verdict: Take the 49ers -7", "49ers", -7},
		{"Verdict: Trail Blazers +11.5", "Trail Blazers", 11.5},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			res := Extract(Input{Text: tc.text})
			require.Len(t, res.Picks, 1)
			assert.Equal(t, types.PickSpread, res.Picks[0].Type)
			assert.Equal(t, tc.side, res.Picks[0].Side)
			assert.Equal(t, tc.line, *res.Picks[0].Line)
		})
	}

	res := Extract(Input{Text: "Verdict: Lakers -4.5 -10"})
	require.Len(t, res.Picks, 1, "a bare number is not a team")
	assert.Equal(t, "Lakers", res.Picks[0].Side)
}

func TestTotalPick(t *testing.T) {
	res := Extract(Input{Text: "Verdict: Over 212.5"})
	require.Len(t, res.Picks, 1)
	assert.Equal(t, types.PickTotal, res.Picks[0].Type)
	assert.Equal(t, "OVER", res.Picks[0].Side)
	assert.Equal(t, 212.5, *res.Picks[0].Line)
}

func TestMoneylinePick(t *testing.T) {
	res := Extract(Input{Text: "Verdict: Knicks ML +130"})
	require.Len(t, res.Picks, 1)
	assert.Equal(t, types.PickMoneyline, res.Picks[0].Type)
	assert.Equal(t, "Knicks", res.Picks[0].Side)
	assert.Equal(t, 130.0, *res.Picks[0].Line)

	res = Extract(Input{Text: "Verdict: Take the Knicks moneyline"})
	require.Len(t, res.Picks, 1)
	assert.Equal(t, "Knicks", res.Picks[0].Side)
	assert.Nil(t, res.Picks[0].Line)
}

func TestMultiplePicksAndConfidence(t *testing.T) {
	text := `## Breakdown
Boston's bench has carried them; New York is on a back-to-back.

- **Verdict:** Boston Celtics -6.5
- **Verdict:** Under 221.5

High confidence on the side, the total is a lean.`

	res := Extract(Input{Text: text, RunID: "r"})
	require.Len(t, res.Picks, 2)
	assert.Equal(t, types.PickSpread, res.Picks[0].Type)
	assert.Equal(t, "Boston Celtics", res.Picks[0].Side)
	assert.Equal(t, -6.5, *res.Picks[0].Line)
	assert.Equal(t, types.PickTotal, res.Picks[1].Type)
	assert.Equal(t, "UNDER", res.Picks[1].Side)
	for _, p := range res.Picks {
		assert.Equal(t, types.ConfidenceHigh, p.Confidence)
		assert.Contains(t, p.ReasoningSummary, "back-to-back")
		assert.NotContains(t, p.ReasoningSummary, "Verdict")
	}
}

func TestSameLineHoldsSeveralFamilies(t *testing.T) {
	res := Extract(Input{Text: "Verdict: Lakers -4.5 and Over 212.5, low confidence"})
	require.Len(t, res.Picks, 2)
	assert.Equal(t, "Lakers", res.Picks[0].Side)
	assert.Equal(t, "OVER", res.Picks[1].Side)
	assert.Equal(t, types.ConfidenceLow, res.Picks[0].Confidence)
}

func TestNoVerdictYieldsNoPicks(t *testing.T) {
	res := Extract(Input{Text: "The Lakers -4.5 line moved from -3 overnight."})
	assert.False(t, res.Pass)
	assert.Empty(t, res.Picks, "lines outside a verdict are analysis, not picks")
}

func TestDuplicateVerdictsCollapse(t *testing.T) {
	res := Extract(Input{Text: "Verdict: Lakers -4.5\n\nFinal verdict: Lakers -4.5"})
	assert.Len(t, res.Picks, 1)
}

func TestMatchersIndependently(t *testing.T) {
	tests := []struct {
		name    string
		matcher Matcher
		line    string
		want    []Match
	}{
		{"spread", spreadMatcher{}, "Lakers -4.5", []Match{{Kind: KindSpread, Side: "Lakers", Line: line(-4.5)}}},
		{"spread plus", spreadMatcher{}, "Hornets +11", []Match{{Kind: KindSpread, Side: "Hornets", Line: line(11)}}},
		{"spread ignores totals", spreadMatcher{}, "Under -110", nil},
		{"spread ignores odds", spreadMatcher{}, "Knicks ML +130", nil},
		{"total", totalMatcher{}, "under 45", []Match{{Kind: KindTotal, Side: "UNDER", Line: line(45)}}},
		{"total needs a number", totalMatcher{}, "over the top", nil},
		{"moneyline", moneylineMatcher{}, "Heat ML", []Match{{Kind: KindMoneyline, Side: "Heat"}}},
		{"moneyline not over", moneylineMatcher{}, "Over ML", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.matcher.Find(tt.line)
			for i := range got {
				got[i].Pos = 0
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKindNames(t *testing.T) {
	assert.Equal(t, "spread", spreadMatcher{}.Kind().String())
	assert.Equal(t, "total", totalMatcher{}.Kind().String())
	assert.Equal(t, "moneyline", moneylineMatcher{}.Kind().String())
	assert.Equal(t, "none", KindNone.String())
}

func TestStripMarkdown(t *testing.T) {
	got := StripMarkdown("# Title\n\n**Bold** and _em_ with [a link](https://x.y)\n\n- item one\n- item two")
	assert.Equal(t, "Title\nBold and em with a link\nitem one\nitem two", got)
}
