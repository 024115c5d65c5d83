package server

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"courtside/internal/generation"
	"courtside/internal/injuries"
	"courtside/internal/live"
	"courtside/internal/logging"
	"courtside/internal/persist"
	"courtside/internal/picks"
	"courtside/internal/prompt"
	"courtside/internal/types"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// FailureMessage is the error event content shown when every step failed.
const FailureMessage = "The analysis service is unavailable right now. Please try again in a moment."

// InjuryFetcher fetches both sides of a match.
type InjuryFetcher interface {
	FetchPair(ctx context.Context, sportKey, homeID, awayID string) injuries.PairResult
}

// PriorsReader reads blowout priors for a set of teams.
type PriorsReader interface {
	GetBlowoutPriors(ctx context.Context, league string, teams ...string) ([]types.BlowoutPrior, error)
}

// Generator starts a model stream.
type Generator interface {
	Start(ctx context.Context, req generation.Request) *generation.Stream
}

// Deps are the collaborators of a Pipeline. Injuries and Priors are optional.
type Deps struct {
	Resolver    *live.Resolver
	Live        *live.Fetcher
	Injuries    InjuryFetcher
	Priors      PriorsReader
	Assembler   *prompt.Assembler
	Ladder      *generation.Ladder
	Generator   Generator
	Extractor   *picks.Extractor
	Sink        *persist.Sink
	StepBackoff time.Duration
	Now         func() time.Time
}

// RunRequest is one chat submission with its attempt number made explicit.
type RunRequest struct {
	Chat types.ChatRequest
	// Attempt selects the ladder step; values outside the ladder use step 1.
	Attempt int
}

// Outcome summarises a finished run.
type Outcome struct {
	ConversationID string
	RunID          string
	Hint           string
	MatchID        string
	Phase          prompt.Phase
	Step           int
	Status         types.RunStatus
	Reason         string
	Picks          []types.Pick
	Persist        persist.Report
	Err            error
}

// Pipeline runs a chat request from context assembly to persistence.
type Pipeline struct {
	resolver    *live.Resolver
	live        *live.Fetcher
	injuries    InjuryFetcher
	priors      PriorsReader
	assembler   atomic.Pointer[prompt.Assembler]
	ladder      *generation.Ladder
	generator   Generator
	extractor   *picks.Extractor
	sink        *persist.Sink
	stepBackoff time.Duration
	now         func() time.Time
}

// NewPipeline validates deps and creates a Pipeline.
func NewPipeline(d Deps) (*Pipeline, error) {
	switch {
	case d.Resolver == nil:
		return nil, errors.New("pipeline: resolver is required")
	case d.Live == nil:
		return nil, errors.New("pipeline: live fetcher is required")
	case d.Ladder == nil:
		return nil, errors.New("pipeline: ladder is required")
	case d.Generator == nil:
		return nil, errors.New("pipeline: generator is required")
	case d.Sink == nil:
		return nil, errors.New("pipeline: sink is required")
	}
	p := &Pipeline{
		resolver:    d.Resolver,
		live:        d.Live,
		injuries:    d.Injuries,
		priors:      d.Priors,
		ladder:      d.Ladder,
		generator:   d.Generator,
		extractor:   d.Extractor,
		sink:        d.Sink,
		stepBackoff: d.StepBackoff,
		now:         d.Now,
	}
	if p.extractor == nil {
		p.extractor = picks.NewExtractor()
	}
	if p.now == nil {
		p.now = time.Now
	}
	a := d.Assembler
	if a == nil {
		a = prompt.NewAssembler(prompt.DefaultLimits(), time.UTC)
	}
	p.assembler.Store(a)
	return p, nil
}

// SetAssembler swaps the assembler used by later requests.
func (p *Pipeline) SetAssembler(a *prompt.Assembler) {
	p.assembler.Store(a)
	logging.Server("Assembler limits updated: %+v", a.Limits())
}

// Assembler returns the active assembler.
func (p *Pipeline) Assembler() *prompt.Assembler {
	return p.assembler.Load()
}

// gathered is the evidence collected before generation.
type gathered struct {
	hint     string
	match    *types.GameContext
	live     *live.Freshness
	injuries *injuries.PairResult
	priors   []types.BlowoutPrior
}

// gather resolves the match and fetches live, auxiliary and prior evidence
// concurrently. Every failure degrades to missing evidence.
func (p *Pipeline) gather(ctx context.Context, chat *types.ChatRequest) gathered {
	timer := logging.StartTimer(logging.CategoryContext, "Pipeline.gather")
	defer timer.StopWithThreshold(500 * time.Millisecond)

	g := gathered{match: chat.GameContext}
	if g.match == nil || g.match.MatchID == "" {
		res, err := p.resolver.Resolve(ctx, chat.LastUserMessage())
		if err != nil {
			logging.ServerWarn("Team hint lookup failed: %v", err)
		}
		g.hint = res.Hint
		if res.Match != nil {
			g.match = mergeContext(res.Match.Context(), chat.GameContext)
		}
	}
	if g.match == nil {
		return g
	}
	m := g.match

	var eg errgroup.Group
	if m.MatchID != "" {
		eg.Go(func() error {
			fr := p.live.Fetch(ctx, m.MatchID)
			g.live = &fr
			return nil
		})
	}
	if p.injuries != nil && m.SportKey != "" && (m.HomeTeamID != "" || m.AwayTeamID != "") {
		eg.Go(func() error {
			pr := p.injuries.FetchPair(ctx, m.SportKey, m.HomeTeamID, m.AwayTeamID)
			g.injuries = &pr
			return nil
		})
	}
	if p.priors != nil && m.SportKey != "" && (m.HomeAbbr != "" || m.AwayAbbr != "") {
		eg.Go(func() error {
			priors, err := p.priors.GetBlowoutPriors(ctx, m.League(), m.HomeAbbr, m.AwayAbbr)
			if err != nil {
				logging.ServerWarn("Blowout priors unavailable for %s: %v", m.MatchID, err)
				return nil
			}
			g.priors = priors
			return nil
		})
	}
	_ = eg.Wait()
	return g
}

// mergeContext fills the resolved context with client fields it lacks.
func mergeContext(resolved, client *types.GameContext) *types.GameContext {
	if client == nil {
		return resolved
	}
	if resolved.HomeAbbr == "" {
		resolved.HomeAbbr = client.HomeAbbr
	}
	if resolved.AwayAbbr == "" {
		resolved.AwayAbbr = client.AwayAbbr
	}
	if resolved.StartsAt.IsZero() {
		resolved.StartsAt = client.StartsAt
	}
	return resolved
}

// forwarder passes events to the client until the first write error.
type forwarder struct {
	w   EventWriter
	err error
}

func (f *forwarder) write(ev types.WireEvent) error {
	if f.err != nil {
		return f.err
	}
	if err := f.w.WriteEvent(ev); err != nil {
		f.err = fmt.Errorf("client write: %w", err)
	}
	return f.err
}

// Run executes one request and writes its events to w. It always finishes
// with exactly one done event and exactly one completion write.
func (p *Pipeline) Run(ctx context.Context, req RunRequest, w EventWriter) Outcome {
	timer := logging.StartTimer(logging.CategoryServer, "Pipeline.Run")
	defer timer.Stop()

	chat := req.Chat
	out := Outcome{RunID: chat.RunID}
	if out.RunID == "" {
		out.RunID = uuid.NewString()
	}
	// Persistence outlives a disconnected client.
	persistCtx := context.WithoutCancel(ctx)

	convID, err := p.sink.EnsureConversation(persistCtx, chat.ConversationID, chat.SessionID)
	if err != nil {
		logging.ServerWarn("Conversation lookup failed, continuing unsaved: %v", err)
		convID = chat.ConversationID
		if convID == "" {
			convID = uuid.NewString()
		}
	}
	out.ConversationID = convID
	log := logging.Get(logging.CategoryServer).With("conversation_id", convID, "run_id", out.RunID)

	ev := p.gather(ctx, &chat)
	out.Hint = ev.hint
	if ev.match != nil {
		out.MatchID = ev.match.MatchID
	}
	payload := p.assembler.Load().Assemble(prompt.Input{
		Now:      p.now(),
		Match:    ev.match,
		Live:     ev.live,
		Injuries: ev.injuries,
		Priors:   ev.priors,
	})
	out.Phase = payload.Phase
	log.Debug("Context assembled: phase=%s chars=%d hint=%q match=%s", payload.Phase, len(payload.Text), ev.hint, out.MatchID)

	fw := &forwarder{w: w}
	var result generation.Result
	final := p.ladder.Walk(ctx, req.Attempt, p.stepBackoff, func(ctx context.Context, step types.RetryStep) generation.Attempt {
		attemptCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream := p.generator.Start(attemptCtx, generation.Request{
			Instruction: payload.Text,
			History:     chat.Messages,
			Step:        step,
		})
		for e := range stream.Events() {
			if err := fw.write(e); err != nil {
				cancel()
			}
		}
		res, err := stream.Wait()
		result = res
		if err == nil {
			err = fw.err
		}
		return generation.Attempt{Step: step, Emitted: res.Emitted, Err: err}
	})
	out.Step = final.Step.AttemptNumber
	out.Err = final.Err

	switch {
	case final.Err == nil:
		out.Status, out.Reason = types.RunStatusCompleted, types.DoneComplete
	case ctx.Err() != nil || fw.err != nil:
		out.Status, out.Reason = types.RunStatusFailed, types.DoneCancelled
		log.Info("Run cancelled at step %d after %d events", out.Step, result.Emitted)
	default:
		out.Status, out.Reason = types.RunStatusFailed, types.DoneFailed
		log.Error("Run failed at step %d: %v", out.Step, final.Err)
		_ = fw.write(types.WireEvent{Type: types.EventError, Content: FailureMessage})
	}

	completion := persist.Completion{
		ConversationID: convID,
		RunID:          out.RunID,
		Attempt:        out.Step,
		Status:         out.Status,
		Metadata: map[string]any{
			"requested_attempt": req.Attempt,
			"phase":             string(payload.Phase),
			"reason":            out.Reason,
			"sources":           len(result.Sources),
		},
	}
	if ev.live != nil {
		completion.Metadata["live"] = string(ev.live.Reason)
	}
	if out.Err != nil {
		completion.Metadata["error"] = out.Err.Error()
	}
	if out.Status == types.RunStatusCompleted {
		extracted := p.extractor.Extract(picks.Input{
			Text:    result.Text,
			Thought: result.Thought,
			MatchID: out.MatchID,
			RunID:   out.RunID,
		})
		out.Picks = extracted.Picks
		completion.Picks = extracted.Picks
		completion.Metadata["pass"] = extracted.Pass
		completion.Turns = p.turns(chat.LastUserMessage(), result)
	}
	out.Persist = p.sink.Complete(persistCtx, completion)

	_ = fw.write(types.WireEvent{
		Type: types.EventDone,
		Metadata: &types.EventMetadata{
			ConversationID: convID,
			RunID:          out.RunID,
			Attempt:        out.Step,
			Picks:          len(out.Picks),
			Final:          true,
			Reason:         out.Reason,
		},
	})
	log.Info("Run finished: status=%s step=%d picks=%d", out.Status, out.Step, len(out.Picks))
	return out
}

func (p *Pipeline) turns(question string, res generation.Result) []types.ConversationTurn {
	now := p.now()
	return []types.ConversationTurn{
		{ID: uuid.NewString(), Role: types.RoleUser, Content: question, Timestamp: now},
		{
			ID:               uuid.NewString(),
			Role:             types.RoleAssistant,
			Content:          res.Text,
			GroundingSources: res.Sources,
			ThoughtTrace:     res.Thought,
			Timestamp:        now,
		},
	}
}
