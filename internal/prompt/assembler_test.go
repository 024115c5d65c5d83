package prompt

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"courtside/internal/injuries"
	"courtside/internal/live"
	"courtside/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)

func freshSnapshot(status string) *live.Freshness {
	spread := -6.5
	return &live.Freshness{
		MatchID: "bos-nyk",
		Fresh:   true,
		Reason:  live.ReasonFresh,
		Age:     40 * time.Second,
		Snapshot: &types.LiveGameSnapshot{
			MatchID: "bos-nyk", HomeTeam: "Boston Celtics", AwayTeam: "New York Knicks",
			Scores: types.Scores{Home: 71, Away: 64}, Clock: "4:12", Period: 3,
			Status: status, Odds: types.Odds{Spread: &spread}, UpdatedAt: testNow.Add(-40 * time.Second),
		},
	}
}

func stat(p Payload, id SectionID) (SectionStat, bool) {
	for _, s := range p.Sections {
		if s.ID == id {
			return s, true
		}
	}
	return SectionStat{}, false
}

func TestDetectPhase(t *testing.T) {
	tests := []struct {
		name     string
		startsAt time.Time
		fr       *live.Freshness
		want     Phase
	}{
		{"fresh in progress", time.Time{}, freshSnapshot(types.GameStatusInProgress), PhaseLive},
		{"fresh final", time.Time{}, freshSnapshot(types.GameStatusFinal), PhaseFinal},
		{"fresh scheduled", time.Time{}, freshSnapshot(types.GameStatusScheduled), PhasePregame},
		{"future start no snapshot", testNow.Add(time.Hour), nil, PhasePregame},
		{"past start stale snapshot", testNow.Add(-time.Hour), &live.Freshness{Reason: live.ReasonStale}, PhaseUnknown},
		{"nothing", time.Time{}, nil, PhaseUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectPhase(testNow, tt.startsAt, tt.fr))
		})
	}
}

func TestAssembleFreshLive(t *testing.T) {
	a := NewAssembler(DefaultLimits(), nil)
	p := a.Assemble(Input{Now: testNow, Live: freshSnapshot(types.GameStatusInProgress)})

	assert.Equal(t, PhaseLive, p.Phase)
	assert.Contains(t, p.Text, "Score: Boston Celtics 71, New York Knicks 64")
	assert.Contains(t, p.Text, "spread -6.5 (home)")
	assert.Contains(t, p.Text, "Snapshot age: 40s")
	assert.NotContains(t, p.Text, FreshnessUnknown)
	assert.Contains(t, p.Text, "Verdict: PASS")
}

func TestAssembleStatesFreshnessUnknown(t *testing.T) {
	match := &types.GameContext{MatchID: "bos-nyk", HomeTeam: "Boston Celtics", AwayTeam: "New York Knicks"}
	for _, fr := range []*live.Freshness{
		{MatchID: "bos-nyk", Reason: live.ReasonMissing},
		{MatchID: "bos-nyk", Reason: live.ReasonReadError},
		{MatchID: "bos-nyk", Reason: live.ReasonStale, Age: 9 * time.Minute},
	} {
		t.Run(string(fr.Reason), func(t *testing.T) {
			p := NewAssembler(DefaultLimits(), time.UTC).Assemble(Input{Now: testNow, Match: match, Live: fr})
			assert.Contains(t, p.Text, FreshnessUnknown)
			assert.NotContains(t, p.Text, "Score:")
			assert.Equal(t, PhaseUnknown, p.Phase)
		})
	}
}

func TestAssembleAuxiliaryPerSide(t *testing.T) {
	pair := &injuries.PairResult{
		Home: injuries.SideResult{Reason: injuries.ReasonOK, Entry: &types.AuxiliarySignalEntry{
			Items: []types.AuxiliaryItem{{Player: "Jayson Tatum", Status: "Out", Detail: "Achilles"}},
		}},
		Away: injuries.SideResult{Reason: injuries.ReasonTimeout},
	}
	match := &types.GameContext{HomeTeam: "Celtics", AwayTeam: "Knicks"}
	p := NewAssembler(DefaultLimits(), nil).Assemble(Input{Now: testNow, Match: match, Injuries: pair})

	assert.Contains(t, p.Text, "- Jayson Tatum: Out (Achilles)")
	assert.Contains(t, p.Text, "Knicks: injury report unavailable (timeout)")
}

func TestSectionsAreCappedIndependently(t *testing.T) {
	var items []types.AuxiliaryItem
	for i := 0; i < 500; i++ {
		items = append(items, types.AuxiliaryItem{Player: strings.Repeat("P", 20), Status: "Questionable", Detail: "knee soreness"})
	}
	pair := &injuries.PairResult{
		Home: injuries.SideResult{Reason: injuries.ReasonOK, Entry: &types.AuxiliarySignalEntry{Items: items}},
		Away: injuries.SideResult{Reason: injuries.ReasonOK, Entry: &types.AuxiliarySignalEntry{Items: items}},
	}
	limits := DefaultLimits()
	p := NewAssembler(limits, nil).Assemble(Input{
		Now:      testNow,
		Live:     freshSnapshot(types.GameStatusInProgress),
		Injuries: pair,
	})

	aux, ok := stat(p, SectionAux)
	require.True(t, ok)
	assert.True(t, aux.Truncated)
	assert.LessOrEqual(t, aux.Chars, limits.AuxChars+len(sectionHeader(SectionAux))+1)

	liveStat, ok := stat(p, SectionLive)
	require.True(t, ok)
	assert.False(t, liveStat.Truncated, "a huge injury list must not crowd out live state")
	assert.Contains(t, p.Text, "Score: Boston Celtics 71")
}

func TestTotalCapApplies(t *testing.T) {
	limits := DefaultLimits()
	limits.TotalChars = 600
	p := NewAssembler(limits, nil).Assemble(Input{Now: testNow})
	assert.LessOrEqual(t, len(p.Text), 600)
	assert.Contains(t, p.Text, "[Context truncated")
}

func TestTruncateKeepsUTF8(t *testing.T) {
	s := strings.Repeat("é", 100)
	out := Truncate(s, 61)
	assert.LessOrEqual(t, len(out), 61)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, "short", Truncate("short", 100))
}

func TestPriorsSection(t *testing.T) {
	lead, trail := 0.21, 0.08
	p := NewAssembler(DefaultLimits(), nil).Assemble(Input{Now: testNow, Priors: []types.BlowoutPrior{
		{TeamAbbr: "BOS", Season: "2025", Leading: &lead, Trailing: &trail},
	}})
	assert.Contains(t, p.Text, "BOS 2025: leading 21%, trailing 8%, baseline n/a")
}
