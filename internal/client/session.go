package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"courtside/internal/logging"
	"courtside/internal/types"

	"github.com/google/uuid"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	SessionID string
	// State is optional; without it the conversation id lives in memory.
	State          *State
	Hydrator       *CitationHydrator
	RedrawInterval time.Duration
	// MaxHistory bounds the finalized turns sent with each request.
	MaxHistory int
	// OnRedraw runs after each coalesced patch.
	OnRedraw func(*MessageStore)
}

// Reply is the outcome of one Send.
type Reply struct {
	Turn           types.ConversationTurn
	ConversationID string
	RunID          string
	Attempt        int
	Picks          int
	Reason         string
	Err            error
}

// Session owns one conversation widget: its message store and the single
// in-flight request. Starting a request cancels the previous one first.
type Session struct {
	client   *Client
	store    *MessageStore
	hydrator *CitationHydrator
	opts     SessionOptions

	mu             sync.Mutex
	conversationID string
	cancel         context.CancelFunc
	inflight       chan struct{}
	// raw holds the model text of finalized assistant turns. The store keeps
	// the hydrated text for display; history sends raw text back.
	raw map[string]string
}

// NewSession creates a Session and restores its conversation id.
func NewSession(c *Client, opts SessionOptions) (*Session, error) {
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}
	if opts.Hydrator == nil {
		opts.Hydrator = NewCitationHydrator(DefaultCitationCacheSize)
	}
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = 12
	}
	s := &Session{client: c, store: NewMessageStore(), hydrator: opts.Hydrator, opts: opts, raw: make(map[string]string)}
	if opts.State != nil {
		id, err := opts.State.ConversationID(opts.SessionID)
		if err != nil {
			return nil, err
		}
		s.conversationID = id
	}
	return s, nil
}

// Store returns the session's message store.
func (s *Session) Store() *MessageStore {
	return s.store
}

// ConversationID returns the current conversation id, if any.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Cancel aborts the in-flight request, if any.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Send submits question and blocks until its reply is finalized. A request
// already in flight is cancelled and wound down before this one starts.
func (s *Session) Send(ctx context.Context, question string, game *types.GameContext) Reply {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	finished := make(chan struct{})
	defer close(finished)

	s.mu.Lock()
	prevCancel, prevDone := s.cancel, s.inflight
	s.cancel, s.inflight = cancel, finished
	s.mu.Unlock()
	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}

	history := s.history()
	now := time.Now()
	user := types.ConversationTurn{ID: uuid.NewString(), Role: types.RoleUser, Content: question, Timestamp: now}
	assistant := types.ConversationTurn{ID: uuid.NewString(), Role: types.RoleAssistant, IsStreaming: true, Timestamp: now}
	s.store.Append(user, assistant)

	reply := Reply{RunID: uuid.NewString()}
	req := types.ChatRequest{
		Messages:       append(history, types.Message{Role: types.RoleUser, Content: question}),
		SessionID:      s.opts.SessionID,
		ConversationID: s.ConversationID(),
		GameContext:    game,
		RunID:          reply.RunID,
	}

	coalesceCtx, stopCoalescer := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		RunCoalescer(coalesceCtx, s.store, s.opts.RedrawInterval, func() {
			if s.opts.OnRedraw != nil {
				s.opts.OnRedraw(s.store)
			}
		})
	}()

	var errorText string
	stream := s.client.Stream(ctx, req)
	for ev := range stream.Events() {
		switch ev.Type {
		case types.EventText:
			s.store.QueueDelta(assistant.ID, Delta{Text: ev.Content})
		case types.EventThought:
			s.store.QueueDelta(assistant.ID, Delta{Thought: ev.Content})
		case types.EventGrounding:
			if ev.Metadata != nil {
				s.store.QueueDelta(assistant.ID, Delta{Sources: ev.Metadata.Sources})
			}
		case types.EventError:
			errorText = ev.Content
		case types.EventDone:
			s.applyDone(&reply, ev.Metadata)
		}
	}
	reply.Err = stream.Wait()
	stopCoalescer()
	wg.Wait()

	if errors.Is(reply.Err, context.Canceled) {
		reply.Err = nil
		reply.Reason = types.DoneCancelled
	}
	s.store.Finalize(assistant.ID, func(t *types.ConversationTurn) {
		raw := t.Content
		s.mu.Lock()
		s.raw[t.ID] = raw
		s.mu.Unlock()
		if strings.TrimSpace(raw) == "" && errorText != "" {
			t.Content = errorText
			return
		}
		t.Content = s.hydrator.Hydrate(raw, t.GroundingSources)
	})
	reply.Turn, _ = s.store.Get(assistant.ID)
	logging.Client("Reply finalized: reason=%s attempt=%d picks=%d chars=%d", reply.Reason, reply.Attempt, reply.Picks, len(reply.Turn.Content))
	return reply
}

func (s *Session) applyDone(reply *Reply, md *types.EventMetadata) {
	if md == nil {
		return
	}
	reply.Reason = md.Reason
	reply.Attempt = md.Attempt
	reply.Picks = md.Picks
	if md.RunID != "" {
		reply.RunID = md.RunID
	}
	if md.ConversationID == "" {
		reply.ConversationID = s.ConversationID()
		return
	}
	reply.ConversationID = md.ConversationID

	s.mu.Lock()
	changed := s.conversationID != md.ConversationID
	s.conversationID = md.ConversationID
	s.mu.Unlock()
	if changed && s.opts.State != nil {
		if err := s.opts.State.SetConversationID(s.opts.SessionID, md.ConversationID); err != nil {
			logging.ClientWarn("Failed to save conversation id: %v", err)
		}
	}
}

// history returns the last finalized turns as request messages. Assistant
// turns carry the model's own text, without hydrated links or error notices.
func (s *Session) history() []types.Message {
	turns := s.store.Turns()
	s.mu.Lock()
	var msgs []types.Message
	for _, t := range turns {
		if t.IsStreaming {
			continue
		}
		content := t.Content
		if raw, ok := s.raw[t.ID]; ok {
			content = raw
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		msgs = append(msgs, types.Message{Role: t.Role, Content: content})
	}
	s.mu.Unlock()
	if len(msgs) > s.opts.MaxHistory {
		msgs = msgs[len(msgs)-s.opts.MaxHistory:]
	}
	return msgs
}
