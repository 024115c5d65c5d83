// Package types provides the shared data model used across courtside packages.
// It is the only package imported by both the server pipeline and the client,
// so it carries the wire contract (WireEvent) alongside the stored records.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// CONVERSATION
// =============================================================================

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// GroundingSource is one web reference returned by the search tool.
type GroundingSource struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// ConversationTurn is one entry of a conversation log.
// An assistant turn is mutated in place while IsStreaming is true and is
// immutable once IsStreaming flips to false.
type ConversationTurn struct {
	ID               string            `json:"id"`
	Role             Role              `json:"role"`
	Content          string            `json:"content"`
	GroundingSources []GroundingSource `json:"groundingSources,omitempty"`
	ThoughtTrace     string            `json:"thoughtTrace,omitempty"`
	IsStreaming      bool              `json:"isStreaming"`
	Timestamp        time.Time         `json:"timestamp"`
}

// Message is the minimal role/content pair carried by inbound requests.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// =============================================================================
// RUN TRACKING
// =============================================================================

// RunStatus is the lifecycle state of a RunRecord.
type RunStatus string

const (
	RunStatusStreaming RunStatus = "streaming"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunRecord tracks a single generation run. (ConversationID, RunID) is the
// idempotency key: repeated upserts overwrite the same logical row.
type RunRecord struct {
	ConversationID string         `json:"conversationId"`
	RunID          string         `json:"runId"`
	AttemptNumber  int            `json:"attemptNumber"`
	Status         RunStatus      `json:"status"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// =============================================================================
// LIVE STATE
// =============================================================================

// GameStatus values as written by the live ingester.
const (
	GameStatusScheduled  = "scheduled"
	GameStatusInProgress = "in_progress"
	GameStatusFinal      = "final"
)

// Scores holds the current score line.
type Scores struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// Odds holds the current market. Nil fields are unknown.
type Odds struct {
	Spread        *float64 `json:"spread,omitempty"`
	Total         *float64 `json:"total,omitempty"`
	MoneylineHome *int     `json:"moneylineHome,omitempty"`
	MoneylineAway *int     `json:"moneylineAway,omitempty"`
}

// LiveGameSnapshot is the authoritative game state row for one match.
// It is only authoritative while now-UpdatedAt is inside the freshness window.
type LiveGameSnapshot struct {
	MatchID    string    `json:"matchId"`
	SportKey   string    `json:"sportKey"`
	HomeTeam   string    `json:"homeTeam"`
	AwayTeam   string    `json:"awayTeam"`
	HomeTeamID string    `json:"homeTeamId"`
	AwayTeamID string    `json:"awayTeamId"`
	Scores     Scores    `json:"scores"`
	Clock      string    `json:"clock"`
	Status     string    `json:"status"`
	Period     int       `json:"period"`
	Odds       Odds      `json:"odds"`
	StartsAt   time.Time `json:"startsAt,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// GameContext is the explicit match context a client may attach to a turn.
type GameContext struct {
	MatchID    string    `json:"match_id,omitempty"`
	SportKey   string    `json:"sport_key,omitempty"`
	HomeTeam   string    `json:"home_team,omitempty"`
	AwayTeam   string    `json:"away_team,omitempty"`
	HomeTeamID string    `json:"home_team_id,omitempty"`
	AwayTeamID string    `json:"away_team_id,omitempty"`
	HomeAbbr   string    `json:"home_abbr,omitempty"`
	AwayAbbr   string    `json:"away_abbr,omitempty"`
	StartsAt   time.Time `json:"starts_at,omitempty"`
}

// League returns the league half of a sport key such as "basketball_nba".
func (g *GameContext) League() string {
	if _, league, ok := strings.Cut(g.SportKey, "_"); ok {
		return league
	}
	return g.SportKey
}

// Context returns the game context described by a snapshot.
func (s *LiveGameSnapshot) Context() *GameContext {
	return &GameContext{
		MatchID:    s.MatchID,
		SportKey:   s.SportKey,
		HomeTeam:   s.HomeTeam,
		AwayTeam:   s.AwayTeam,
		HomeTeamID: s.HomeTeamID,
		AwayTeamID: s.AwayTeamID,
		StartsAt:   s.StartsAt,
	}
}

// AuxiliaryItem is one injury/status line for a team.
type AuxiliaryItem struct {
	Player string `json:"player"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// AuxiliarySignalEntry is a cached injury/status fetch for one team.
type AuxiliarySignalEntry struct {
	TeamKey   string          `json:"teamKey"`
	Items     []AuxiliaryItem `json:"items"`
	FetchedAt time.Time       `json:"fetchedAt"`
}

// BlowoutPrior is a per-team tendency row imported from offline analysis.
type BlowoutPrior struct {
	League   string         `json:"league"`
	Season   string         `json:"season"`
	TeamAbbr string         `json:"team"`
	Leading  *float64       `json:"leading,omitempty"`
	Trailing *float64       `json:"trailing,omitempty"`
	Baseline *float64       `json:"baseline,omitempty"`
	Meta     map[string]any `json:"meta,omitempty"`
}

// =============================================================================
// PICKS
// =============================================================================

// PickType is the market a pick was made in.
type PickType string

const (
	PickSpread    PickType = "spread"
	PickTotal     PickType = "total"
	PickMoneyline PickType = "moneyline"
)

// Confidence is the stated conviction of a pick.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Pick is one structured recommendation derived from a finalized answer.
// Line is nil for moneyline picks without quoted odds.
type Pick struct {
	MatchID          string     `json:"matchId"`
	Type             PickType   `json:"type"`
	Side             string     `json:"side"`
	Line             *float64   `json:"line,omitempty"`
	Confidence       Confidence `json:"confidence"`
	ReasoningSummary string     `json:"reasoningSummary"`
	RunID            string     `json:"runId"`
}

// =============================================================================
// RETRY LADDER
// =============================================================================

// RetryStep is one rung of the degrading retry ladder.
type RetryStep struct {
	AttemptNumber       int  `json:"attemptNumber" yaml:"-"`
	MaxEvidenceTurns    int  `json:"maxEvidenceTurns" yaml:"max_evidence_turns"`
	MaxInstructionChars int  `json:"maxInstructionChars" yaml:"max_instruction_chars"`
	UseSearchTool       bool `json:"useSearchTool" yaml:"use_search_tool"`
}

// =============================================================================
// WIRE PROTOCOL
// =============================================================================

// EventType is the discriminator of a WireEvent.
type EventType string

const (
	EventText      EventType = "text"
	EventThought   EventType = "thought"
	EventGrounding EventType = "grounding"
	EventError     EventType = "error"
	EventDone      EventType = "done"
)

// Done reasons carried in EventMetadata.Reason.
const (
	DoneComplete  = "complete"
	DoneCancelled = "cancelled"
	DoneFailed    = "failed"
)

// EventMetadata carries the structured part of a WireEvent.
type EventMetadata struct {
	Sources        []GroundingSource `json:"sources,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	RunID          string            `json:"run_id,omitempty"`
	Attempt        int               `json:"attempt,omitempty"`
	Picks          int               `json:"picks,omitempty"`
	Final          bool              `json:"final,omitempty"`
	Reason         string            `json:"reason,omitempty"`
}

// WireEvent is the only contract crossing the network boundary.
type WireEvent struct {
	Type     EventType      `json:"type"`
	Content  string         `json:"content,omitempty"`
	Metadata *EventMetadata `json:"metadata,omitempty"`
}

// IsTerminal reports whether the event ends a stream on its own.
func (e WireEvent) IsTerminal() bool {
	return e.Type == EventDone || (e.Metadata != nil && e.Metadata.Final)
}

// =============================================================================
// INBOUND REQUEST
// =============================================================================

// ErrInvalidRequest is returned for malformed inbound request shapes.
var ErrInvalidRequest = errors.New("invalid request")

// ChatRequest is the inbound request body.
type ChatRequest struct {
	Messages       []Message    `json:"messages"`
	SessionID      string       `json:"session_id,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
	GameContext    *GameContext `json:"gameContext,omitempty"`
	RunID          string       `json:"run_id,omitempty"`
	Attempt        int          `json:"attempt,omitempty"`
}

// Validate checks the request shape. It is the only check that rejects a
// request before streaming starts.
func (r *ChatRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages must not be empty", ErrInvalidRequest)
	}
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("%w: messages[%d] has unknown role %q", ErrInvalidRequest, i, m.Role)
		}
	}
	last := r.Messages[len(r.Messages)-1]
	if last.Role != RoleUser {
		return fmt.Errorf("%w: last message must be from the user", ErrInvalidRequest)
	}
	if strings.TrimSpace(last.Content) == "" {
		return fmt.Errorf("%w: last message is empty", ErrInvalidRequest)
	}
	if r.Attempt < 0 {
		return fmt.Errorf("%w: attempt must be positive", ErrInvalidRequest)
	}
	return nil
}

// LastUserMessage returns the content of the final (user) message.
func (r *ChatRequest) LastUserMessage() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1].Content
}
