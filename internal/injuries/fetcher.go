package injuries

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"courtside/internal/logging"
	"courtside/internal/types"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultTimeout bounds each side of a pair fetch.
	DefaultTimeout = 3 * time.Second
	// DefaultTTL is how long a team's entry is served from cache.
	DefaultTTL = 5 * time.Minute

	maxBodyBytes = 2 << 20
)

// Reason describes how one side of a pair fetch ended.
type Reason string

const (
	ReasonOK          Reason = "ok"
	ReasonCached      Reason = "cached"
	ReasonTimeout     Reason = "timeout"
	ReasonHTTPError   Reason = "http_error"
	ReasonDecodeError Reason = "decode_error"
	ReasonNoTeam      Reason = "no_team"
	ReasonFailed      Reason = "failed"
)

// Key identifies one cached team entry.
type Key struct {
	Sport  string
	TeamID string
}

// SideResult is the outcome for one team. Entry is nil unless Reason is
// ReasonOK or ReasonCached.
type SideResult struct {
	Key    Key
	Entry  *types.AuxiliarySignalEntry
	Reason Reason
	Err    error
}

// OK reports whether the side produced an entry.
func (r SideResult) OK() bool {
	return r.Entry != nil
}

// Cached reports whether the entry came from cache.
func (r SideResult) Cached() bool {
	return r.Reason == ReasonCached
}

// PairResult holds both sides of a match fetch.
type PairResult struct {
	Home SideResult
	Away SideResult
}

// Fetcher retrieves injury lists for both teams of a match in parallel.
type Fetcher struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	cache      *TTLCache[Key, *types.AuxiliarySignalEntry]
	now        func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.httpClient = c }
}

// WithCache injects the cache. Callers that share a cache across fetchers
// pass the same instance.
func WithCache(c *TTLCache[Key, *types.AuxiliarySignalEntry]) Option {
	return func(f *Fetcher) { f.cache = c }
}

// WithClock replaces the time source used for FetchedAt.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// NewFetcher creates a Fetcher for the feed rooted at baseURL.
func NewFetcher(baseURL string, timeout, ttl time.Duration, opts ...Option) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	f := &Fetcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    timeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.cache == nil {
		f.cache = NewTTLCache[Key, *types.AuxiliarySignalEntry](ttl)
	}
	return f
}

// Close releases idle connections.
func (f *Fetcher) Close() {
	f.httpClient.CloseIdleConnections()
}

// FetchPair fetches both teams in parallel. Each side has its own timeout
// and a failure on one side never affects the other.
func (f *Fetcher) FetchPair(ctx context.Context, sportKey, homeID, awayID string) PairResult {
	timer := logging.StartTimer(logging.CategoryInjuries, "FetchPair")
	defer timer.StopWithThreshold(f.timeout)

	var res PairResult
	var g errgroup.Group
	g.Go(func() error {
		res.Home = f.fetchSide(ctx, sportKey, homeID)
		return nil
	})
	g.Go(func() error {
		res.Away = f.fetchSide(ctx, sportKey, awayID)
		return nil
	})
	_ = g.Wait()
	return res
}

func (f *Fetcher) fetchSide(ctx context.Context, sportKey, teamID string) SideResult {
	key := Key{Sport: sportKey, TeamID: teamID}
	if teamID == "" {
		return SideResult{Key: key, Reason: ReasonNoTeam}
	}
	if entry, ok := f.cache.Get(key); ok {
		logging.InjuriesDebug("Cache hit for %s/%s", sportKey, teamID)
		return SideResult{Key: key, Entry: entry, Reason: ReasonCached}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	items, reason, err := f.request(ctx, sportKey, teamID)
	if err != nil {
		logging.InjuriesWarn("Injury fetch for %s/%s failed (%s): %v", sportKey, teamID, reason, err)
		return SideResult{Key: key, Reason: reason, Err: err}
	}

	entry := &types.AuxiliarySignalEntry{
		TeamKey:   sportKey + ":" + teamID,
		Items:     items,
		FetchedAt: f.now(),
	}
	f.cache.Set(key, entry)
	logging.InjuriesDebug("Fetched %d injury lines for %s/%s", len(items), sportKey, teamID)
	return SideResult{Key: key, Entry: entry, Reason: ReasonOK}
}

func (f *Fetcher) request(ctx context.Context, sportKey, teamID string) ([]types.AuxiliaryItem, Reason, error) {
	url, err := f.teamURL(sportKey, teamID)
	if err != nil {
		return nil, ReasonFailed, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, ReasonFailed, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ReasonTimeout, fmt.Errorf("injury feed timed out after %v", f.timeout)
		}
		return nil, ReasonFailed, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, ReasonHTTPError, fmt.Errorf("injury feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ReasonTimeout, fmt.Errorf("injury feed timed out after %v", f.timeout)
		}
		return nil, ReasonFailed, fmt.Errorf("failed to read body: %w", err)
	}

	items, err := ParseInjuries(body)
	if err != nil {
		return nil, ReasonDecodeError, err
	}
	return items, ReasonOK, nil
}

// teamURL builds {base}/{sport}/{league}/teams/{id}/injuries from a sport
// key such as "basketball_nba".
func (f *Fetcher) teamURL(sportKey, teamID string) (string, error) {
	sport, league, ok := strings.Cut(sportKey, "_")
	if !ok || sport == "" || league == "" {
		return "", fmt.Errorf("unsupported sport key %q", sportKey)
	}
	return fmt.Sprintf("%s/%s/%s/teams/%s/injuries", f.baseURL, sport, league, teamID), nil
}

// ParseInjuries decodes the feed body into items. An object without an
// injuries array is an empty list; a non-JSON body is an error.
func ParseInjuries(body []byte) ([]types.AuxiliaryItem, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("injury feed returned invalid JSON")
	}

	var items []types.AuxiliaryItem
	gjson.GetBytes(body, "injuries").ForEach(func(_, inj gjson.Result) bool {
		item := types.AuxiliaryItem{
			Player: inj.Get("athlete.displayName").String(),
			Status: inj.Get("status").String(),
			Detail: inj.Get("shortComment").String(),
		}
		if item.Detail == "" {
			item.Detail = inj.Get("details.type").String()
		}
		if item.Player != "" {
			items = append(items, item)
		}
		return true
	})
	return items, nil
}
