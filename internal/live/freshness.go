// Package live reads authoritative game snapshots and gates them on age.
// A snapshot older than the freshness window is reported as stale and never
// used as if it were current.
package live

import (
	"context"
	"errors"
	"time"

	"courtside/internal/logging"
	"courtside/internal/store"
	"courtside/internal/types"
)

// DefaultWindow is the age beyond which a snapshot stops being authoritative.
const DefaultWindow = 5 * time.Minute

// Reason explains the outcome of a freshness check.
type Reason string

const (
	ReasonFresh     Reason = "fresh"
	ReasonMissing   Reason = "missing"
	ReasonReadError Reason = "read_error"
	ReasonStale     Reason = "stale"
)

// SnapshotReader is the subset of the store the fetcher needs.
type SnapshotReader interface {
	GetLiveSnapshot(ctx context.Context, matchID string) (*types.LiveGameSnapshot, error)
}

// Freshness is the result of a gated snapshot read. Snapshot is only set
// when Fresh is true.
type Freshness struct {
	MatchID  string
	Snapshot *types.LiveGameSnapshot
	Fresh    bool
	Reason   Reason
	Age      time.Duration
	Err      error
}

// Fetcher reads live snapshots through the freshness gate.
type Fetcher struct {
	reader SnapshotReader
	window time.Duration
	now    func() time.Time
}

// NewFetcher creates a Fetcher. A non-positive window uses DefaultWindow.
func NewFetcher(reader SnapshotReader, window time.Duration) *Fetcher {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Fetcher{reader: reader, window: window, now: time.Now}
}

// WithClock replaces the time source. Used by tests.
func (f *Fetcher) WithClock(now func() time.Time) *Fetcher {
	f.now = now
	return f
}

// Window returns the configured freshness window.
func (f *Fetcher) Window() time.Duration {
	return f.window
}

// Fetch reads the snapshot for matchID and applies the freshness gate.
// It never returns an error; failures are reported in the result.
func (f *Fetcher) Fetch(ctx context.Context, matchID string) Freshness {
	res := Freshness{MatchID: matchID}

	snap, err := f.reader.GetLiveSnapshot(ctx, matchID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		res.Reason = ReasonMissing
		logging.LiveDebug("No live snapshot for match %s", matchID)
		return res
	case err != nil:
		res.Reason = ReasonReadError
		res.Err = err
		logging.LiveWarn("Live snapshot read failed for %s: %v", matchID, err)
		return res
	case snap == nil:
		res.Reason = ReasonMissing
		return res
	}

	res.Age = Age(f.now(), snap.UpdatedAt)
	if !IsFresh(res.Age, f.window) {
		res.Reason = ReasonStale
		logging.Live("Live snapshot for %s is stale (age %v > %v)", matchID, res.Age.Round(time.Second), f.window)
		return res
	}

	res.Fresh = true
	res.Reason = ReasonFresh
	res.Snapshot = snap
	return res
}

// Age returns now-updatedAt. Clock skew that puts updatedAt in the future
// counts as zero age. A zero updatedAt is treated as infinitely old.
func Age(now, updatedAt time.Time) time.Duration {
	if updatedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	age := now.Sub(updatedAt)
	if age < 0 {
		return 0
	}
	return age
}

// IsFresh reports whether age is within window (inclusive).
func IsFresh(age, window time.Duration) bool {
	return age <= window
}
