package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"courtside/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fp(v float64) *float64 { return &v }

func TestNewLocalStoreCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "courtside.db")
	s, err := NewLocalStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.FileExists(t, path)
}

func TestLiveSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	updated := time.Date(2026, 3, 1, 20, 15, 0, 0, time.UTC)

	snap := types.LiveGameSnapshot{
		MatchID:    "m1",
		SportKey:   "basketball_nba",
		HomeTeam:   "Boston Celtics",
		AwayTeam:   "New York Knicks",
		HomeTeamID: "2",
		AwayTeamID: "18",
		Scores:     types.Scores{Home: 71, Away: 64},
		Clock:      "4:12",
		Status:     types.GameStatusInProgress,
		Period:     3,
		Odds:       types.Odds{Spread: fp(-6.5), Total: fp(221.5)},
		UpdatedAt:  updated,
	}
	require.NoError(t, s.UpsertLiveSnapshot(ctx, snap))

	got, err := s.GetLiveSnapshot(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, snap.Scores, got.Scores)
	assert.Equal(t, updated, got.UpdatedAt)
	require.NotNil(t, got.Odds.Spread)
	assert.Equal(t, -6.5, *got.Odds.Spread)
	assert.Nil(t, got.Odds.MoneylineHome)

	// upsert replaces
	snap.Scores.Home = 80
	require.NoError(t, s.UpsertLiveSnapshot(ctx, snap))
	got, err = s.GetLiveSnapshot(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, 80, got.Scores.Home)

	_, err = s.GetLiveSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindInProgressMatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertLiveSnapshot(ctx, types.LiveGameSnapshot{
		MatchID: "old", HomeTeam: "Boston Celtics", AwayTeam: "Miami Heat",
		Status: types.GameStatusInProgress, UpdatedAt: base,
	}))
	require.NoError(t, s.UpsertLiveSnapshot(ctx, types.LiveGameSnapshot{
		MatchID: "new", HomeTeam: "New York Knicks", AwayTeam: "Boston Celtics",
		Status: types.GameStatusInProgress, UpdatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, s.UpsertLiveSnapshot(ctx, types.LiveGameSnapshot{
		MatchID: "done", HomeTeam: "Denver Nuggets", AwayTeam: "Utah Jazz",
		Status: types.GameStatusFinal, UpdatedAt: base.Add(time.Hour),
	}))

	got, err := s.FindInProgressMatch(ctx, "CELTICS")
	require.NoError(t, err)
	assert.Equal(t, "new", got.MatchID, "most recently updated match wins")

	_, err = s.FindInProgressMatch(ctx, "nuggets")
	assert.ErrorIs(t, err, ErrNotFound, "final games are not in progress")

	_, err = s.FindInProgressMatch(ctx, "%")
	assert.ErrorIs(t, err, ErrNotFound, "wildcards are escaped")

	_, err = s.FindInProgressMatch(ctx, "  ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplaceAndListPicks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	picks := []types.Pick{
		{MatchID: "m1", Type: types.PickSpread, Side: "Lakers", Line: fp(-4.5), Confidence: types.ConfidenceHigh, ReasoningSummary: "pace", RunID: "r1"},
		{MatchID: "m1", Type: types.PickMoneyline, Side: "Lakers", Confidence: types.ConfidenceMedium, RunID: "r1"},
	}
	require.NoError(t, s.ReplacePicks(ctx, "c1", "r1", picks))
	require.NoError(t, s.ReplacePicks(ctx, "c1", "r1", picks))

	got, err := s.ListPicks(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, picks, got, "rewriting a run leaves one copy")

	require.NoError(t, s.ReplacePicks(ctx, "c1", "r1", nil))
	got, err = s.ListPicks(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.Error(t, s.ReplacePicks(ctx, "c1", "", picks))
}

func TestUpsertRunNeverDowngradesCompleted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	done := types.RunRecord{ConversationID: "c1", RunID: "r1", AttemptNumber: 1, Status: types.RunStatusCompleted}
	require.NoError(t, s.UpsertRun(ctx, done))
	require.NoError(t, s.UpsertRun(ctx, types.RunRecord{ConversationID: "c1", RunID: "r1", AttemptNumber: 3, Status: types.RunStatusFailed}))

	got, err := s.GetRun(ctx, "c1", "r1")
	require.NoError(t, err)
	assert.Equal(t, done, *got)
}

func TestUpsertRunIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := types.RunRecord{ConversationID: "c1", RunID: "r1", AttemptNumber: 1, Status: types.RunStatusStreaming}
	require.NoError(t, s.UpsertRun(ctx, rec))

	rec.Status = types.RunStatusCompleted
	rec.AttemptNumber = 2
	rec.Metadata = map[string]any{"picks": float64(2)}
	require.NoError(t, s.UpsertRun(ctx, rec))
	require.NoError(t, s.UpsertRun(ctx, rec))

	n, err := s.CountRuns(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetRun(ctx, "c1", "r1")
	require.NoError(t, err)
	assert.Equal(t, rec, *got)

	_, err = s.GetRun(ctx, "c1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.UpsertRun(ctx, types.RunRecord{RunID: "r"}))
}

func TestAppendTurnsKeepsMostRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateConversation(ctx, "sess")
	require.NoError(t, err)
	ok, err := s.ConversationExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	for i := 0; i < 5; i++ {
		turns := []types.ConversationTurn{
			{ID: fmt.Sprintf("u%d", i), Role: types.RoleUser, Content: "q"},
			{ID: fmt.Sprintf("a%d", i), Role: types.RoleAssistant, Content: "a"},
		}
		require.NoError(t, s.AppendTurns(ctx, id, turns, 4))
	}

	got, err := s.LoadTurns(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "u3", got[0].ID)
	assert.Equal(t, "a4", got[3].ID)

	_, err = s.LoadTurns(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendTurnsCreatesMissingConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendTurns(ctx, "given-id", []types.ConversationTurn{{ID: "u", Role: types.RoleUser}}, 40))
	got, err := s.LoadTurns(ctx, "given-id")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestBlowoutPriors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.UpsertBlowoutPriors(ctx, []types.BlowoutPrior{
		{League: "NBA", Season: "2024", TeamAbbr: "bos", Leading: fp(0.1)},
		{League: "nba", Season: "2025", TeamAbbr: "BOS", Leading: fp(0.2), Meta: map[string]any{"games": float64(40)}},
		{League: "nba", Season: "2025", TeamAbbr: "NYK", Trailing: fp(0.3)},
		{League: "nba", Season: "", TeamAbbr: "LAL"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := s.GetBlowoutPriors(ctx, "nba", "bos", "nyk", "lal")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2025", got[0].Season, "latest season wins")
	assert.Equal(t, 0.2, *got[0].Leading)
	assert.Equal(t, float64(40), got[0].Meta["games"])
	assert.Nil(t, got[1].Leading)
	assert.Equal(t, 0.3, *got[1].Trailing)
}
