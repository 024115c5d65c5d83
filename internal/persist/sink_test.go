package persist

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"courtside/internal/store"
	"courtside/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore wraps the real store and fails selected writes.
type flakyStore struct {
	*store.LocalStore
	failPicks bool
	failRun   bool
	failTurns bool
}

func (f *flakyStore) ReplacePicks(ctx context.Context, id, runID string, picks []types.Pick) error {
	if f.failPicks {
		return errors.New("picks down")
	}
	return f.LocalStore.ReplacePicks(ctx, id, runID, picks)
}

func (f *flakyStore) UpsertRun(ctx context.Context, rec types.RunRecord) error {
	if f.failRun {
		return errors.New("runs down")
	}
	return f.LocalStore.UpsertRun(ctx, rec)
}

func (f *flakyStore) AppendTurns(ctx context.Context, id string, turns []types.ConversationTurn, keep int) error {
	if f.failTurns {
		return errors.New("turns down")
	}
	return f.LocalStore.AppendTurns(ctx, id, turns, keep)
}

func newStore(t *testing.T) *store.LocalStore {
	t.Helper()
	s, err := store.NewLocalStore(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func completion(convID string) Completion {
	spread := -4.5
	return Completion{
		ConversationID: convID,
		RunID:          "run-1",
		Attempt:        1,
		Status:         types.RunStatusCompleted,
		Turns: []types.ConversationTurn{
			{ID: "u1", Role: types.RoleUser, Content: "Lakers?"},
			{ID: "a1", Role: types.RoleAssistant, Content: "Verdict: Lakers -4.5"},
		},
		Picks: []types.Pick{{Type: types.PickSpread, Side: "Lakers", Line: &spread, Confidence: types.ConfidenceMedium, RunID: "run-1"}},
	}
}

func TestCompleteWritesAllThree(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sink := NewSink(s, 0)

	id, err := sink.EnsureConversation(ctx, "", "sess")
	require.NoError(t, err)

	rep := sink.Complete(ctx, completion(id))
	require.NoError(t, rep.Err())
	assert.Equal(t, 1, rep.PicksWritten)

	picks, err := s.ListPicks(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, picks, 1)

	run, err := s.GetRun(ctx, id, "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusCompleted, run.Status)

	turns, err := s.LoadTurns(ctx, id)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestCompleteIsIdempotentPerRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sink := NewSink(s, 0)

	c := completion("conv")
	first := sink.Complete(ctx, c)
	require.NoError(t, first.Err())
	assert.False(t, first.Repeat)

	c.Attempt = 2
	second := sink.Complete(ctx, c)
	require.NoError(t, second.Err())
	assert.True(t, second.Repeat)

	n, err := s.CountRuns(ctx, "conv")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	run, err := s.GetRun(ctx, "conv", "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, run.AttemptNumber, "second upsert overwrites")

	picks, err := s.ListPicks(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, picks, 1)

	turns, err := s.LoadTurns(ctx, "conv")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestRepeatedCompletionReplacesPicks(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sink := NewSink(s, 0)

	c := completion("conv")
	require.NoError(t, sink.Complete(ctx, c).Err())

	total := 212.5
	c.Picks = []types.Pick{{Type: types.PickTotal, Side: "OVER", Line: &total, Confidence: types.ConfidenceLow, RunID: "run-1"}}
	require.NoError(t, sink.Complete(ctx, c).Err())

	picks, err := s.ListPicks(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, picks, 1)
	assert.Equal(t, types.PickTotal, picks[0].Type)
}

func TestFailureAfterCompletionKeepsRecord(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sink := NewSink(s, 0)

	require.NoError(t, sink.Complete(ctx, completion("conv")).Err())

	failed := completion("conv")
	failed.Attempt = 3
	failed.Status = types.RunStatusFailed
	rep := sink.Complete(ctx, failed)
	require.NoError(t, rep.Err())
	assert.True(t, rep.Repeat)

	run, err := s.GetRun(ctx, "conv", "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.AttemptNumber)

	picks, err := s.ListPicks(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, picks, 1)
}

func TestFailedThenCompletedRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sink := NewSink(s, 0)

	failed := completion("conv")
	failed.Status = types.RunStatusFailed
	require.NoError(t, sink.Complete(ctx, failed).Err())

	c := completion("conv")
	c.Attempt = 2
	rep := sink.Complete(ctx, c)
	require.NoError(t, rep.Err())
	assert.False(t, rep.Repeat, "a failed run may still complete once")

	run, err := s.GetRun(ctx, "conv", "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusCompleted, run.Status)

	turns, err := s.LoadTurns(ctx, "conv")
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestWritesAreIndependent(t *testing.T) {
	ctx := context.Background()

	t.Run("picks failure keeps run and turns", func(t *testing.T) {
		s := newStore(t)
		sink := NewSink(&flakyStore{LocalStore: s, failPicks: true}, 0)
		rep := sink.Complete(ctx, completion("c1"))
		assert.Error(t, rep.PicksErr)
		assert.NoError(t, rep.RunErr)
		assert.NoError(t, rep.TurnsErr)

		turns, err := s.LoadTurns(ctx, "c1")
		require.NoError(t, err)
		assert.Len(t, turns, 2)
	})

	t.Run("run failure keeps picks and turns", func(t *testing.T) {
		s := newStore(t)
		sink := NewSink(&flakyStore{LocalStore: s, failRun: true}, 0)
		rep := sink.Complete(ctx, completion("c2"))
		assert.NoError(t, rep.PicksErr)
		assert.Error(t, rep.RunErr)
		assert.NoError(t, rep.TurnsErr)

		picks, err := s.ListPicks(ctx, "run-1")
		require.NoError(t, err)
		assert.Len(t, picks, 1)
	})

	t.Run("turns failure keeps picks and run", func(t *testing.T) {
		s := newStore(t)
		sink := NewSink(&flakyStore{LocalStore: s, failTurns: true}, 0)
		rep := sink.Complete(ctx, completion("c3"))
		assert.NoError(t, rep.PicksErr)
		assert.NoError(t, rep.RunErr)
		assert.Error(t, rep.TurnsErr)
		assert.Error(t, rep.Err())

		_, err := s.GetRun(ctx, "c3", "run-1")
		assert.NoError(t, err)
	})
}

func TestFailedRunOnlyRecordsStatus(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sink := NewSink(s, 0)

	c := completion("c")
	c.Status = types.RunStatusFailed
	require.NoError(t, sink.Complete(ctx, c).Err())

	run, err := s.GetRun(ctx, "c", "run-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatusFailed, run.Status)

	picks, err := s.ListPicks(ctx, "run-1")
	require.NoError(t, err)
	assert.Empty(t, picks)

	_, err = s.LoadTurns(ctx, "c")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestEnsureConversation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sink := NewSink(s, 0)

	id, err := sink.EnsureConversation(ctx, "client-chosen", "sess")
	require.NoError(t, err)
	assert.Equal(t, "client-chosen", id)
	ok, err := s.ConversationExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	again, err := sink.EnsureConversation(ctx, id, "sess")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	fresh, err := sink.EnsureConversation(ctx, "", "sess")
	require.NoError(t, err)
	assert.NotEqual(t, id, fresh)
}

func TestLogIsBounded(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	sink := NewSink(s, 4)

	for i := 0; i < 5; i++ {
		c := completion("c")
		c.RunID = fmt.Sprintf("run-%d", i)
		c.Picks = nil
		require.NoError(t, sink.Complete(ctx, c).Err())
	}
	turns, err := s.LoadTurns(ctx, "c")
	require.NoError(t, err)
	assert.Len(t, turns, 4)
}
