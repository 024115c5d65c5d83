package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"courtside/internal/logging"
	"courtside/internal/types"
)

// =============================================================================
// LIVE SNAPSHOTS
// =============================================================================

const liveColumns = `match_id, sport_key, home_team, away_team, home_team_id, away_team_id,
	home_score, away_score, clock, status, period, odds, starts_at, updated_at`

// UpsertLiveSnapshot writes the authoritative row for a match.
// The server only reads these rows; the ingester and tests write them.
func (s *LocalStore) UpsertLiveSnapshot(ctx context.Context, snap types.LiveGameSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	odds, err := json.Marshal(snap.Odds)
	if err != nil {
		return fmt.Errorf("failed to encode odds: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO live_games (`+liveColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(match_id) DO UPDATE SET
			sport_key = excluded.sport_key,
			home_team = excluded.home_team,
			away_team = excluded.away_team,
			home_team_id = excluded.home_team_id,
			away_team_id = excluded.away_team_id,
			home_score = excluded.home_score,
			away_score = excluded.away_score,
			clock = excluded.clock,
			status = excluded.status,
			period = excluded.period,
			odds = excluded.odds,
			starts_at = excluded.starts_at,
			updated_at = excluded.updated_at`,
		snap.MatchID, snap.SportKey, snap.HomeTeam, snap.AwayTeam, snap.HomeTeamID, snap.AwayTeamID,
		snap.Scores.Home, snap.Scores.Away, snap.Clock, snap.Status, snap.Period, string(odds),
		millis(snap.StartsAt), millis(snap.UpdatedAt),
	)
	if err != nil {
		logging.StoreError("Failed to upsert live snapshot %s: %v", snap.MatchID, err)
		return fmt.Errorf("failed to upsert live snapshot: %w", err)
	}
	return nil
}

// GetLiveSnapshot reads the snapshot for matchID. Returns ErrNotFound when
// no row exists.
func (s *LocalStore) GetLiveSnapshot(ctx context.Context, matchID string) (*types.LiveGameSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+liveColumns+` FROM live_games WHERE match_id = ?`, matchID)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read live snapshot %s: %w", matchID, err)
	}
	return snap, nil
}

// FindInProgressMatch returns the in-progress match whose home or away team
// name contains hint (case-insensitive). Ties go to the most recently updated row.
func (s *LocalStore) FindInProgressMatch(ctx context.Context, hint string) (*types.LiveGameSnapshot, error) {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return nil, ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern := "%" + escapeLike(hint) + "%"
	row := s.db.QueryRowContext(ctx, `
		SELECT `+liveColumns+` FROM live_games
		WHERE status = ?
		  AND (lower(home_team) LIKE ? ESCAPE '\' OR lower(away_team) LIKE ? ESCAPE '\')
		ORDER BY updated_at DESC
		LIMIT 1`,
		types.GameStatusInProgress, pattern, pattern,
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search live games for %q: %w", hint, err)
	}
	logging.StoreDebug("Resolved hint %q to match %s", hint, snap.MatchID)
	return snap, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(row rowScanner) (*types.LiveGameSnapshot, error) {
	var (
		snap      types.LiveGameSnapshot
		odds      sql.NullString
		startsAt  sql.NullInt64
		updatedAt int64
	)
	err := row.Scan(
		&snap.MatchID, &snap.SportKey, &snap.HomeTeam, &snap.AwayTeam, &snap.HomeTeamID, &snap.AwayTeamID,
		&snap.Scores.Home, &snap.Scores.Away, &snap.Clock, &snap.Status, &snap.Period,
		&odds, &startsAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if odds.Valid && odds.String != "" {
		if err := json.Unmarshal([]byte(odds.String), &snap.Odds); err != nil {
			logging.StoreDebug("Ignoring malformed odds for %s: %v", snap.MatchID, err)
		}
	}
	snap.StartsAt = fromMillis(startsAt.Int64)
	snap.UpdatedAt = fromMillis(updatedAt)
	return &snap, nil
}
