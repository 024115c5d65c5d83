// Package persist writes the outcome of a finished run: extracted picks,
// the run record and the conversation log. The three writes are independent;
// a failure in one never prevents the others. Completing the same run again
// rewrites its picks and record but never appends its turns a second time.
package persist

import (
	"context"
	"errors"
	"fmt"

	"courtside/internal/logging"
	"courtside/internal/store"
	"courtside/internal/types"
)

// DefaultMaxTurns bounds the stored conversation log.
const DefaultMaxTurns = 40

// Store is the keyed collaborator the sink writes to.
type Store interface {
	CreateConversation(ctx context.Context, sessionID string) (string, error)
	ConversationExists(ctx context.Context, id string) (bool, error)
	ReplacePicks(ctx context.Context, conversationID, runID string, picks []types.Pick) error
	GetRun(ctx context.Context, conversationID, runID string) (*types.RunRecord, error)
	UpsertRun(ctx context.Context, rec types.RunRecord) error
	AppendTurns(ctx context.Context, id string, turns []types.ConversationTurn, keep int) error
}

// Completion describes a finished run.
type Completion struct {
	ConversationID string
	RunID          string
	Attempt        int
	Status         types.RunStatus
	// Turns are appended to the log in order, typically the user turn
	// followed by the finalized assistant turn.
	Turns    []types.ConversationTurn
	Picks    []types.Pick
	Metadata map[string]any
}

// Report collects the outcome of each write.
type Report struct {
	PicksWritten int
	// Repeat is set when the run had already completed; its turns were
	// not appended again.
	Repeat   bool
	PicksErr error
	RunErr   error
	TurnsErr error
}

// Err joins every write error, or nil when all succeeded.
func (r Report) Err() error {
	return errors.Join(r.PicksErr, r.RunErr, r.TurnsErr)
}

// Sink is the persistence writer.
type Sink struct {
	store    Store
	maxTurns int
}

// NewSink creates a Sink. A non-positive maxTurns uses DefaultMaxTurns.
func NewSink(store Store, maxTurns int) *Sink {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Sink{store: store, maxTurns: maxTurns}
}

// EnsureConversation returns id when it names an existing conversation and
// otherwise creates one for sessionID. A caller-supplied id that does not
// exist yet is kept so clients can choose their own ids.
func (s *Sink) EnsureConversation(ctx context.Context, id, sessionID string) (string, error) {
	if id != "" {
		ok, err := s.store.ConversationExists(ctx, id)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
		if err := s.store.AppendTurns(ctx, id, nil, s.maxTurns); err != nil {
			return "", fmt.Errorf("failed to create conversation %s: %w", id, err)
		}
		logging.Persist("Created conversation %s on first submission", id)
		return id, nil
	}
	created, err := s.store.CreateConversation(ctx, sessionID)
	if err != nil {
		return "", err
	}
	logging.Persist("Created conversation %s on first submission", created)
	return created, nil
}

// Complete runs the three completion writes. A failed run only records the
// run status. When the run already completed, its picks and record are
// rewritten, its turns are left alone and a non-completed outcome is dropped.
func (s *Sink) Complete(ctx context.Context, c Completion) Report {
	timer := logging.StartTimer(logging.CategoryPersist, "Sink.Complete")
	defer timer.Stop()

	var rep Report
	log := logging.Get(logging.CategoryPersist).With("conversation_id", c.ConversationID, "run_id", c.RunID)

	status := c.Status
	if status == "" {
		status = types.RunStatusCompleted
	}

	prior, err := s.store.GetRun(ctx, c.ConversationID, c.RunID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn("Failed to read prior run state: %v", err)
	}
	if prior != nil && prior.Status == types.RunStatusCompleted {
		rep.Repeat = true
		if status != types.RunStatusCompleted {
			log.Info("Run already completed; ignoring %s outcome", status)
			return rep
		}
	}

	if status == types.RunStatusCompleted {
		if err := s.store.ReplacePicks(ctx, c.ConversationID, c.RunID, c.Picks); err != nil {
			rep.PicksErr = fmt.Errorf("picks: %w", err)
			log.Error("Failed to write %d picks: %v", len(c.Picks), err)
		} else {
			rep.PicksWritten = len(c.Picks)
		}
	}

	if err := s.store.UpsertRun(ctx, types.RunRecord{
		ConversationID: c.ConversationID,
		RunID:          c.RunID,
		AttemptNumber:  c.Attempt,
		Status:         status,
		Metadata:       c.Metadata,
	}); err != nil {
		rep.RunErr = fmt.Errorf("run: %w", err)
		log.Error("Failed to upsert run record: %v", err)
	}

	if status == types.RunStatusCompleted && !rep.Repeat && len(c.Turns) > 0 {
		if err := s.store.AppendTurns(ctx, c.ConversationID, c.Turns, s.maxTurns); err != nil {
			rep.TurnsErr = fmt.Errorf("turns: %w", err)
			log.Error("Failed to append %d turns: %v", len(c.Turns), err)
		}
	}

	if err := rep.Err(); err != nil {
		logging.PersistError("Run %s persisted partially: %v", c.RunID, err)
	} else {
		log.Info("Run persisted: status=%s picks=%d turns=%d repeat=%v", status, rep.PicksWritten, len(c.Turns), rep.Repeat)
	}
	return rep
}
