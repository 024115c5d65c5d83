package prompt

import (
	"fmt"
	"strings"
	"time"

	"courtside/internal/live"
	"courtside/internal/types"
)

// Phase is the market phase of the match under discussion.
type Phase string

const (
	PhasePregame Phase = "pregame"
	PhaseLive    Phase = "live"
	PhaseFinal   Phase = "final"
	PhaseUnknown Phase = "unknown"
)

// DetectPhase derives the market phase. A fresh snapshot is authoritative.
// Without one, only a start time in the future proves the game is pregame;
// anything else is unknown.
func DetectPhase(now, startsAt time.Time, fr *live.Freshness) Phase {
	if fr != nil && fr.Fresh && fr.Snapshot != nil {
		switch fr.Snapshot.Status {
		case types.GameStatusInProgress:
			return PhaseLive
		case types.GameStatusFinal:
			return PhaseFinal
		case types.GameStatusScheduled:
			return PhasePregame
		}
	}
	if !startsAt.IsZero() && now.Before(startsAt) {
		return PhasePregame
	}
	return PhaseUnknown
}

func renderPhase(phase Phase, now time.Time, loc *time.Location, startsAt time.Time) string {
	var sb strings.Builder
	local := now.In(loc)
	fmt.Fprintf(&sb, "Current time: %s (%s).\n", local.Format("Mon Jan 2 2006 3:04 PM MST"), loc)
	if !startsAt.IsZero() {
		fmt.Fprintf(&sb, "Scheduled tip/start: %s.\n", startsAt.In(loc).Format("Mon Jan 2 3:04 PM MST"))
	}
	fmt.Fprintf(&sb, "Market phase: %s.\n", phase)

	switch phase {
	case PhasePregame:
		sb.WriteString("Treat all lines as pregame numbers. Do not describe in-game events; the game has not started.")
	case PhaseLive:
		sb.WriteString("The game is in progress. Lines move with every possession; anchor any live recommendation to the snapshot below and say how old it is.")
	case PhaseFinal:
		sb.WriteString("The game is final. Do not recommend a play on this match; summarize what happened instead and answer with Verdict: PASS.")
	default:
		sb.WriteString("The phase of this game is not confirmed. Do not assume it is live or finished; if you search, prefer sources dated today.")
	}
	return sb.String()
}
