package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"courtside/internal/logging"
	"courtside/internal/types"
)

// =============================================================================
// PICKS
// =============================================================================

// ReplacePicks sets the picks recorded for one run of a conversation.
// Earlier rows of the same run are removed in the same transaction, so
// writing a run twice leaves one copy. An empty slice clears the run.
func (s *LocalStore) ReplacePicks(ctx context.Context, conversationID, runID string, picks []types.Pick) error {
	if conversationID == "" || runID == "" {
		return fmt.Errorf("picks require conversation and run ids")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin picks transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM picks WHERE conversation_id = ? AND run_id = ?`, conversationID, runID); err != nil {
		return fmt.Errorf("failed to clear picks for run %s: %w", runID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO picks (conversation_id, run_id, match_id, pick_type, side, line, confidence, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare picks insert: %w", err)
	}
	defer stmt.Close()

	now := millis(s.now())
	for _, p := range picks {
		var line sql.NullFloat64
		if p.Line != nil {
			line = sql.NullFloat64{Float64: *p.Line, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, conversationID, runID, p.MatchID, string(p.Type), p.Side,
			line, string(p.Confidence), p.ReasoningSummary, now); err != nil {
			return fmt.Errorf("failed to insert pick: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit picks: %w", err)
	}
	logging.StoreDebug("Stored %d picks for run %s/%s", len(picks), conversationID, runID)
	return nil
}

// ListPicks returns the picks recorded for a run in insertion order.
func (s *LocalStore) ListPicks(ctx context.Context, runID string) ([]types.Pick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, match_id, pick_type, side, line, confidence, COALESCE(reasoning, '')
		FROM picks WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query picks: %w", err)
	}
	defer rows.Close()

	var out []types.Pick
	for rows.Next() {
		var (
			p          types.Pick
			pickType   string
			confidence string
			line       sql.NullFloat64
		)
		if err := rows.Scan(&p.RunID, &p.MatchID, &pickType, &p.Side, &line, &confidence, &p.ReasoningSummary); err != nil {
			return nil, fmt.Errorf("failed to scan pick: %w", err)
		}
		p.Type = types.PickType(pickType)
		p.Confidence = types.Confidence(confidence)
		if line.Valid {
			v := line.Float64
			p.Line = &v
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// RUNS
// =============================================================================

// UpsertRun writes a run record keyed on (conversation_id, run_id).
// Repeating the call with the same key overwrites the row, except that a
// completed row is never replaced by a non-completed one.
func (s *LocalStore) UpsertRun(ctx context.Context, rec types.RunRecord) error {
	if rec.ConversationID == "" || rec.RunID == "" {
		return fmt.Errorf("run record requires conversation and run ids")
	}

	var meta []byte
	if rec.Metadata != nil {
		b, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode run metadata: %w", err)
		}
		meta = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (conversation_id, run_id, attempt, status, metadata, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, run_id) DO UPDATE SET
			attempt = excluded.attempt,
			status = excluded.status,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
		WHERE runs.status != 'completed' OR excluded.status = 'completed'`,
		rec.ConversationID, rec.RunID, rec.AttemptNumber, string(rec.Status), nullString(meta), millis(s.now()),
	)
	if err != nil {
		logging.StoreError("Failed to upsert run %s/%s: %v", rec.ConversationID, rec.RunID, err)
		return fmt.Errorf("failed to upsert run: %w", err)
	}
	return nil
}

// GetRun reads one run record. Returns ErrNotFound when absent.
func (s *LocalStore) GetRun(ctx context.Context, conversationID, runID string) (*types.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		rec    = types.RunRecord{ConversationID: conversationID, RunID: runID}
		status string
		meta   sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT attempt, status, metadata FROM runs WHERE conversation_id = ? AND run_id = ?`,
		conversationID, runID,
	).Scan(&rec.AttemptNumber, &status, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run: %w", err)
	}
	rec.Status = types.RunStatus(status)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode run metadata: %w", err)
		}
	}
	return &rec, nil
}

// CountRuns returns the number of run rows for a conversation.
func (s *LocalStore) CountRuns(ctx context.Context, conversationID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE conversation_id = ?`, conversationID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return n, nil
}

func nullString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
