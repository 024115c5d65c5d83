package prompt

import (
	"fmt"
	"strings"
	"time"

	"courtside/internal/injuries"
	"courtside/internal/live"
	"courtside/internal/types"
)

// FreshnessUnknown is the literal statement placed in the live section
// whenever a snapshot is missing, unreadable or stale.
const FreshnessUnknown = "freshness unknown"

const identityText = `You are Courtside, a sports betting analyst. You answer questions about games, lines and matchups using the live facts provided here and, when available, web search.

Rules:
- Never invent scores, clocks, lines or injuries. If a fact is not in this context or a cited source, say you do not know it.
- Cite web sources inline with bracketed numbers like [1], [2] in the order the sources were used.
- Keep analysis tight: matchup, market, risk.`

const verdictText = `Close every answer with exactly one verdict line per recommendation, using one of these forms:
Verdict: <Team> <signed spread>      e.g. Verdict: Lakers -4.5
Verdict: Over <total> / Verdict: Under <total>
Verdict: <Team> ML [odds]            e.g. Verdict: Knicks ML +130
Verdict: PASS                        when there is no play
State conviction with the phrase "high confidence" or "low confidence" when it is not medium.`

func renderLive(fr *live.Freshness, match *types.GameContext) string {
	if fr == nil {
		if match == nil {
			return "No specific match was identified. Live state: not applicable."
		}
		return fmt.Sprintf("Match %s: live state %s (no snapshot requested).", matchLabel(match), FreshnessUnknown)
	}

	if !fr.Fresh {
		var detail string
		switch fr.Reason {
		case live.ReasonMissing:
			detail = "no live snapshot exists for this match"
		case live.ReasonReadError:
			detail = "the live snapshot could not be read"
		case live.ReasonStale:
			detail = fmt.Sprintf("the last snapshot is %s old", humanAge(fr.Age))
		default:
			detail = string(fr.Reason)
		}
		return fmt.Sprintf("Live state for %s: %s (%s). Do not state a current score, clock or live line as fact.",
			matchLabelOr(match, fr.MatchID), FreshnessUnknown, detail)
	}

	s := fr.Snapshot
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (home) vs %s (away), match %s\n", s.HomeTeam, s.AwayTeam, s.MatchID)
	fmt.Fprintf(&sb, "Status: %s", s.Status)
	if s.Period > 0 {
		fmt.Fprintf(&sb, ", period %d", s.Period)
	}
	if s.Clock != "" {
		fmt.Fprintf(&sb, ", clock %s", s.Clock)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Score: %s %d, %s %d\n", s.HomeTeam, s.Scores.Home, s.AwayTeam, s.Scores.Away)
	if odds := renderOdds(s.Odds); odds != "" {
		fmt.Fprintf(&sb, "Market: %s\n", odds)
	}
	fmt.Fprintf(&sb, "Snapshot age: %s (as of %s)", humanAge(fr.Age), s.UpdatedAt.UTC().Format(time.RFC3339))
	return sb.String()
}

func renderOdds(o types.Odds) string {
	var parts []string
	if o.Spread != nil {
		parts = append(parts, fmt.Sprintf("spread %+.1f (home)", *o.Spread))
	}
	if o.Total != nil {
		parts = append(parts, fmt.Sprintf("total %.1f", *o.Total))
	}
	if o.MoneylineHome != nil {
		parts = append(parts, fmt.Sprintf("home ML %+d", *o.MoneylineHome))
	}
	if o.MoneylineAway != nil {
		parts = append(parts, fmt.Sprintf("away ML %+d", *o.MoneylineAway))
	}
	return strings.Join(parts, ", ")
}

func renderAuxiliary(pair *injuries.PairResult, match *types.GameContext) string {
	if pair == nil {
		return ""
	}
	home, away := "Home", "Away"
	if match != nil {
		if match.HomeTeam != "" {
			home = match.HomeTeam
		}
		if match.AwayTeam != "" {
			away = match.AwayTeam
		}
	}

	var sb strings.Builder
	writeSide(&sb, home, pair.Home)
	sb.WriteString("\n")
	writeSide(&sb, away, pair.Away)
	return sb.String()
}

func writeSide(sb *strings.Builder, team string, side injuries.SideResult) {
	if !side.OK() {
		if side.Reason == injuries.ReasonNoTeam {
			fmt.Fprintf(sb, "%s: no team id, injury report not requested.", team)
			return
		}
		fmt.Fprintf(sb, "%s: injury report unavailable (%s). Do not guess at availability.", team, side.Reason)
		return
	}
	if len(side.Entry.Items) == 0 {
		fmt.Fprintf(sb, "%s: no reported injuries.", team)
		return
	}
	fmt.Fprintf(sb, "%s:", team)
	for _, it := range side.Entry.Items {
		line := fmt.Sprintf("\n- %s: %s", it.Player, it.Status)
		if it.Detail != "" {
			line += " (" + it.Detail + ")"
		}
		sb.WriteString(line)
	}
}

func renderPriors(priors []types.BlowoutPrior) string {
	if len(priors) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Rates of blowouts by game state (share of games, season noted):")
	for _, p := range priors {
		fmt.Fprintf(&sb, "\n- %s %s: leading %s, trailing %s, baseline %s",
			p.TeamAbbr, p.Season, pct(p.Leading), pct(p.Trailing), pct(p.Baseline))
	}
	return sb.String()
}

func pct(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.0f%%", *v*100)
}

func humanAge(d time.Duration) string {
	if d >= time.Duration(1<<63-1) {
		return "of unknown age"
	}
	if d < time.Minute {
		return d.Round(time.Second).String()
	}
	return d.Round(time.Minute).String()
}

func matchLabel(m *types.GameContext) string {
	if m.HomeTeam != "" || m.AwayTeam != "" {
		return fmt.Sprintf("%s vs %s", m.HomeTeam, m.AwayTeam)
	}
	return m.MatchID
}

func matchLabelOr(m *types.GameContext, id string) string {
	if m == nil {
		return id
	}
	return matchLabel(m)
}
