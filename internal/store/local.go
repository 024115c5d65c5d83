package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"courtside/internal/logging"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a keyed read finds no row.
var ErrNotFound = errors.New("not found")

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// LocalStore is the keyed read/write collaborator backed by SQLite.
// Tables:
//   - live_games: authoritative live snapshots written by the ingester
//   - picks: extracted recommendations, tagged by run
//   - runs: run tracking, unique on (conversation_id, run_id)
//   - conversations: bounded turn log per conversation
//   - team_blowout_priors: offline tendency priors, unique on (league, season, team_abbr)
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	now    func() time.Time
}

// NewLocalStore initializes the SQLite database at the given path.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	if path != MemoryPath {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.StoreError("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if path != MemoryPath {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
		}
		if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
			logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
		}
	}

	s := &LocalStore{db: db, dbPath: path, now: time.Now}
	if err := s.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}

	logging.Store("LocalStore initialization complete")
	return s, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	liveTable := `
	CREATE TABLE IF NOT EXISTS live_games (
		match_id TEXT PRIMARY KEY,
		sport_key TEXT NOT NULL DEFAULT '',
		home_team TEXT NOT NULL,
		away_team TEXT NOT NULL,
		home_team_id TEXT NOT NULL DEFAULT '',
		away_team_id TEXT NOT NULL DEFAULT '',
		home_score INTEGER NOT NULL DEFAULT 0,
		away_score INTEGER NOT NULL DEFAULT 0,
		clock TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		period INTEGER NOT NULL DEFAULT 0,
		odds TEXT,
		starts_at INTEGER,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_live_games_status ON live_games(status, updated_at);
	`

	picksTable := `
	CREATE TABLE IF NOT EXISTS picks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		match_id TEXT NOT NULL DEFAULT '',
		pick_type TEXT NOT NULL,
		side TEXT NOT NULL,
		line REAL,
		confidence TEXT NOT NULL,
		reasoning TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_picks_run ON picks(run_id);
	`

	// UNIQUE(conversation_id, run_id) makes the completion upsert idempotent
	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		conversation_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		status TEXT NOT NULL,
		metadata TEXT,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY(conversation_id, run_id)
	);
	`

	conversationsTable := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		turns TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_session ON conversations(session_id);
	`

	priorsTable := `
	CREATE TABLE IF NOT EXISTS team_blowout_priors (
		league TEXT NOT NULL,
		season TEXT NOT NULL,
		team_abbr TEXT NOT NULL,
		leading REAL,
		trailing REAL,
		baseline REAL,
		meta TEXT,
		PRIMARY KEY(league, season, team_abbr)
	);
	`

	for _, ddl := range []string{liveTable, picksTable, runsTable, conversationsTable, priorsTable} {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *LocalStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
