package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"courtside/internal/logging"
	"courtside/internal/types"

	"github.com/google/uuid"
)

// =============================================================================
// CONVERSATIONS
// =============================================================================

// CreateConversation allocates a new conversation row and returns its id.
func (s *LocalStore) CreateConversation(ctx context.Context, sessionID string) (string, error) {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := millis(s.now())
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, session_id, turns, created_at, updated_at)
		VALUES (?, ?, '[]', ?, ?)`, id, sessionID, now, now); err != nil {
		return "", fmt.Errorf("failed to create conversation: %w", err)
	}
	logging.StoreDebug("Created conversation %s for session %q", id, sessionID)
	return id, nil
}

// ConversationExists reports whether a conversation row exists.
func (s *LocalStore) ConversationExists(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check conversation: %w", err)
	}
	return true, nil
}

// AppendTurns appends turns to a conversation log, keeping only the most
// recent keep entries. A missing conversation is created with the given id.
func (s *LocalStore) AppendTurns(ctx context.Context, id string, turns []types.ConversationTurn, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin conversation transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT turns FROM conversations WHERE id = ?`, id).Scan(&raw)
	existing := []types.ConversationTurn{}
	switch {
	case errors.Is(err, sql.ErrNoRows):
		now := millis(s.now())
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, turns, created_at, updated_at) VALUES (?, '[]', ?, ?)`,
			id, now, now); err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read conversation: %w", err)
	default:
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return fmt.Errorf("failed to decode conversation turns: %w", err)
		}
	}

	merged := append(existing, turns...)
	if keep > 0 && len(merged) > keep {
		merged = merged[len(merged)-keep:]
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to encode conversation turns: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET turns = ?, updated_at = ? WHERE id = ?`,
		string(data), millis(s.now()), id); err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}
	logging.StoreDebug("Conversation %s now holds %d turns", id, len(merged))
	return nil
}

// LoadTurns returns the stored turn log. Returns ErrNotFound when the
// conversation does not exist.
func (s *LocalStore) LoadTurns(ctx context.Context, id string) ([]types.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT turns FROM conversations WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}
	var turns []types.ConversationTurn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("failed to decode conversation turns: %w", err)
	}
	return turns, nil
}
