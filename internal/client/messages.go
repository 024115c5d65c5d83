package client

import (
	"context"
	"sync"
	"time"

	"courtside/internal/types"
)

// Delta is a streaming change to one assistant turn.
type Delta struct {
	Text    string
	Thought string
	Sources []types.GroundingSource
}

func (d *Delta) merge(o Delta) {
	d.Text += o.Text
	d.Thought += o.Thought
	d.Sources = append(d.Sources, o.Sources...)
}

// MessageStore holds the ordered turn list with an id index for point
// updates. Streaming deltas are queued and applied together by Flush so the
// update rate follows the redraw cadence, not the network.
type MessageStore struct {
	mu      sync.Mutex
	turns   []types.ConversationTurn
	index   map[string]int
	pending map[string]*Delta
	// order keeps the first-queued order of pending turn ids.
	order   []string
	patches int
	version uint64
}

// NewMessageStore creates an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		index:   make(map[string]int),
		pending: make(map[string]*Delta),
	}
}

// Append adds turns in order and rebuilds the index.
func (m *MessageStore) Append(turns ...types.ConversationTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turns...)
	m.rebuild()
	m.version++
}

// Clear removes every turn and pending delta.
func (m *MessageStore) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
	m.pending = make(map[string]*Delta)
	m.order = nil
	m.rebuild()
	m.version++
}

func (m *MessageStore) rebuild() {
	m.index = make(map[string]int, len(m.turns))
	for i, t := range m.turns {
		m.index[t.ID] = i
	}
}

// Get returns a copy of the turn with id.
func (m *MessageStore) Get(id string) (types.ConversationTurn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return types.ConversationTurn{}, false
	}
	return m.turns[i], true
}

// Turns returns a copy of the turn list.
func (m *MessageStore) Turns() []types.ConversationTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ConversationTurn(nil), m.turns...)
}

// Len returns the number of turns.
func (m *MessageStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

// Version increases on every applied change.
func (m *MessageStore) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// Patches returns how many coalesced patches Flush has applied.
func (m *MessageStore) Patches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patches
}

// Update applies fn to the turn with id. Finalized turns are immutable.
func (m *MessageStore) Update(id string, fn func(*types.ConversationTurn)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok || !m.turns[i].IsStreaming {
		return false
	}
	fn(&m.turns[i])
	m.version++
	return true
}

// QueueDelta buffers d for the streaming turn id until the next Flush.
func (m *MessageStore) QueueDelta(id string, d Delta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pending[id]; ok {
		p.merge(d)
		return
	}
	cp := d
	cp.Sources = append([]types.GroundingSource(nil), d.Sources...)
	m.pending[id] = &cp
	m.order = append(m.order, id)
}

// Flush applies every queued delta as one patch per turn and returns how
// many turns changed.
func (m *MessageStore) Flush() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked("")
}

// flushLocked applies pending deltas; a non-empty only limits it to one turn.
func (m *MessageStore) flushLocked(only string) int {
	applied := 0
	keep := m.order[:0]
	for _, id := range m.order {
		if only != "" && id != only {
			keep = append(keep, id)
			continue
		}
		d := m.pending[id]
		delete(m.pending, id)
		i, ok := m.index[id]
		if !ok || !m.turns[i].IsStreaming {
			continue
		}
		t := &m.turns[i]
		t.Content += d.Text
		t.ThoughtTrace += d.Thought
		t.GroundingSources = mergeSources(t.GroundingSources, d.Sources)
		applied++
	}
	m.order = keep
	if applied > 0 {
		m.patches++
		m.version++
	}
	return applied
}

// Finalize applies any pending delta for id, lets fn make a last edit, and
// marks the turn as no longer streaming. It returns false if the turn is
// unknown or was already finalized.
func (m *MessageStore) Finalize(id string, fn func(*types.ConversationTurn)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok || !m.turns[i].IsStreaming {
		return false
	}
	m.flushLocked(id)
	if fn != nil {
		fn(&m.turns[i])
	}
	m.turns[i].IsStreaming = false
	m.version++
	return true
}

// mergeSources appends sources not already present, by URI.
func mergeSources(have, add []types.GroundingSource) []types.GroundingSource {
	if len(add) == 0 {
		return have
	}
	seen := make(map[string]bool, len(have))
	for _, s := range have {
		seen[s.URI] = true
	}
	for _, s := range add {
		if s.URI == "" || seen[s.URI] {
			continue
		}
		seen[s.URI] = true
		have = append(have, s)
	}
	return have
}

// RunCoalescer flushes store every interval until ctx is done, calling
// redraw after each flush that changed something. A last flush runs on exit.
func RunCoalescer(ctx context.Context, store *MessageStore, interval time.Duration, redraw func()) {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	flush := func() {
		if store.Flush() > 0 && redraw != nil {
			redraw()
		}
	}
	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case <-ticker.C:
			flush()
		}
	}
}
