// Package prompt assembles the model's system instruction from live facts,
// auxiliary signals and market-phase framing. Every data section is capped
// independently so one verbose source cannot crowd out the others.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"courtside/internal/injuries"
	"courtside/internal/live"
	"courtside/internal/logging"
	"courtside/internal/types"
)

// SectionID names a section of the instruction payload.
type SectionID string

const (
	SectionIdentity SectionID = "identity"
	SectionVerdict  SectionID = "verdict"
	SectionPhase    SectionID = "phase"
	SectionLive     SectionID = "live"
	SectionAux      SectionID = "auxiliary"
	SectionPriors   SectionID = "priors"
)

// sectionOrder is the sequence in the final payload: fixed instructions
// first, then the capped data sections.
var sectionOrder = []SectionID{
	SectionIdentity,
	SectionVerdict,
	SectionPhase,
	SectionLive,
	SectionAux,
	SectionPriors,
}

func sectionHeader(id SectionID) string {
	switch id {
	case SectionPhase:
		return "## Timing and market phase"
	case SectionLive:
		return "## Live game state"
	case SectionAux:
		return "## Injury and status report"
	case SectionPriors:
		return "## Team tendency priors"
	case SectionVerdict:
		return "## Verdict format"
	default:
		return ""
	}
}

// Limits caps each data section and the whole payload, in characters.
type Limits struct {
	PhaseChars  int
	LiveChars   int
	AuxChars    int
	PriorsChars int
	TotalChars  int
}

// DefaultLimits returns the default caps.
func DefaultLimits() Limits {
	return Limits{
		PhaseChars:  1200,
		LiveChars:   2000,
		AuxChars:    2400,
		PriorsChars: 800,
		TotalChars:  24000,
	}
}

func (l Limits) capFor(id SectionID) int {
	switch id {
	case SectionPhase:
		return l.PhaseChars
	case SectionLive:
		return l.LiveChars
	case SectionAux:
		return l.AuxChars
	case SectionPriors:
		return l.PriorsChars
	default:
		return 0
	}
}

// Input is everything the assembler may draw from. All fields are optional
// except Now.
type Input struct {
	Now      time.Time
	Match    *types.GameContext
	Live     *live.Freshness
	Injuries *injuries.PairResult
	Priors   []types.BlowoutPrior
}

// SectionStat records how one section was rendered.
type SectionStat struct {
	ID        SectionID
	Chars     int
	Truncated bool
}

// Payload is the assembled instruction.
type Payload struct {
	Text     string
	Phase    Phase
	Sections []SectionStat
}

// Assembler builds instruction payloads.
type Assembler struct {
	limits   Limits
	location *time.Location
}

// NewAssembler creates an Assembler. A nil location means UTC.
func NewAssembler(limits Limits, loc *time.Location) *Assembler {
	if loc == nil {
		loc = time.UTC
	}
	return &Assembler{limits: limits, location: loc}
}

// Limits returns the active caps.
func (a *Assembler) Limits() Limits {
	return a.limits
}

// Assemble renders the payload for in.
func (a *Assembler) Assemble(in Input) Payload {
	timer := logging.StartTimer(logging.CategoryContext, "Assembler.Assemble")
	defer timer.Stop()

	startsAt := time.Time{}
	if in.Match != nil {
		startsAt = in.Match.StartsAt
	}
	if in.Live != nil && in.Live.Snapshot != nil && startsAt.IsZero() {
		startsAt = in.Live.Snapshot.StartsAt
	}
	phase := DetectPhase(in.Now, startsAt, in.Live)

	bodies := map[SectionID]string{
		SectionIdentity: identityText,
		SectionVerdict:  verdictText,
		SectionPhase:    renderPhase(phase, in.Now, a.location, startsAt),
		SectionLive:     renderLive(in.Live, in.Match),
		SectionAux:      renderAuxiliary(in.Injuries, in.Match),
		SectionPriors:   renderPriors(in.Priors),
	}

	var (
		parts []string
		stats []SectionStat
	)
	for _, id := range sectionOrder {
		body := strings.TrimSpace(bodies[id])
		if body == "" {
			continue
		}
		truncated := false
		if limit := a.limits.capFor(id); limit > 0 && len(body) > limit {
			body = truncateSection(body, limit)
			truncated = true
		}
		if h := sectionHeader(id); h != "" {
			body = h + "\n" + body
		}
		parts = append(parts, body)
		stats = append(stats, SectionStat{ID: id, Chars: len(body), Truncated: truncated})
	}

	text := minifyWhitespace(strings.Join(parts, "\n\n"))
	if a.limits.TotalChars > 0 {
		text = Truncate(text, a.limits.TotalChars)
	}

	logging.ContextDebug("Assembled instruction: phase=%s sections=%d chars=%d", phase, len(stats), len(text))
	return Payload{Text: text, Phase: phase, Sections: stats}
}

const truncationMarker = "\n[truncated]"

// truncateSection cuts body to at most limit bytes, preferring a line
// boundary in the second half, and appends a marker.
func truncateSection(body string, limit int) string {
	if len(body) <= limit {
		return body
	}
	room := limit - len(truncationMarker)
	if room <= 0 {
		return safePrefix(body, limit)
	}
	cut := safePrefix(body, room)
	if nl := strings.LastIndex(cut, "\n"); nl > room/2 {
		cut = cut[:nl]
	}
	return cut + truncationMarker
}

// Truncate cuts content to at most maxLen bytes at a paragraph boundary
// where possible. Used for the whole payload and by the retry ladder.
func Truncate(content string, maxLen int) string {
	if maxLen <= 0 || len(content) <= maxLen {
		return content
	}
	const marker = "\n\n[Context truncated due to length limits]"
	room := maxLen - len(marker)
	if room <= 0 {
		return safePrefix(content, maxLen)
	}
	cut := safePrefix(content, room)
	if para := strings.LastIndex(cut, "\n\n"); para > room/2 {
		cut = cut[:para]
	}
	return cut + marker
}

// safePrefix returns the longest prefix of s no longer than n bytes that
// does not split a UTF-8 sequence.
func safePrefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// minifyWhitespace collapses runs of blank lines and trims trailing spaces.
func minifyWhitespace(content string) string {
	for strings.Contains(content, "\n\n\n") {
		content = strings.ReplaceAll(content, "\n\n\n", "\n\n")
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// String summarizes a payload for logs.
func (p Payload) String() string {
	return fmt.Sprintf("phase=%s chars=%d sections=%d", p.Phase, len(p.Text), len(p.Sections))
}
