package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"courtside/internal/config"
	"courtside/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder notes the attempt header and body of every request.
type recorder struct {
	mu       sync.Mutex
	attempts []string
	bodies   []types.ChatRequest
}

func (r *recorder) note(req *http.Request) {
	var body types.ChatRequest
	data, _ := io.ReadAll(req.Body)
	_ = json.Unmarshal(data, &body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, req.Header.Get("X-Attempt-Number"))
	r.bodies = append(r.bodies, body)
}

func (r *recorder) snapshot() ([]string, []types.ChatRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.attempts...), append([]types.ChatRequest(nil), r.bodies...)
}

func writeFrames(w http.ResponseWriter, frames ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, f := range frames {
		fmt.Fprintf(w, "data: %s\n\n", f)
		w.(http.Flusher).Flush()
	}
}

func newTestClient(t *testing.T, url string, retries int) *Client {
	t.Helper()
	c := New(Options{
		BaseURL:  url,
		Timeouts: config.ClientTimeouts{MaxRetries: retries},
		Backoff:  &Backoff{},
	})
	t.Cleanup(c.Close)
	return c
}

func drain(s *Stream) []types.WireEvent {
	var out []types.WireEvent
	for ev := range s.Events() {
		out = append(out, ev)
	}
	return out
}

func ask(q string) types.ChatRequest {
	return types.ChatRequest{Messages: []types.Message{{Role: types.RoleUser, Content: q}}, RunID: "run-1"}
}

func TestRetriesUntilSuccessWithAttemptHeader(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.note(r)
		if attempts, _ := rec.snapshot(); len(attempts) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		writeFrames(w,
			`{"type":"text","content":"Verdict: PASS"}`,
			`{"type":"done","metadata":{"attempt":3,"final":true,"reason":"complete"}}`)
	}))
	defer srv.Close()

	s := newTestClient(t, srv.URL, 3).Stream(context.Background(), ask("Lakers?"))
	events := drain(s)
	require.NoError(t, s.Wait())
	assert.Equal(t, 3, s.Attempts())

	require.Len(t, events, 2)
	assert.Equal(t, types.EventDone, events[1].Type)

	attempts, bodies := rec.snapshot()
	assert.Equal(t, []string{"1", "2", "3"}, attempts)
	for _, b := range bodies {
		assert.Equal(t, "run-1", b.RunID, "the run id is stable across retries")
	}
}

func TestRetriesExhausted(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.note(r)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	s := newTestClient(t, srv.URL, 2).Stream(context.Background(), ask("Lakers?"))
	events := drain(s)
	err := s.Wait()

	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, 3, s.Attempts())
	require.Len(t, events, 2)
	assert.Equal(t, types.EventError, events[0].Type)
	assert.Equal(t, UnavailableMessage, events[0].Content)
	assert.Equal(t, types.DoneFailed, events[1].Metadata.Reason)
}

func TestCancellationIsNotRetried(t *testing.T) {
	rec := &recorder{}
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.note(r)
		writeFrames(w, `{"type":"text","content":"thinking"}`)
		started <- struct{}{}
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	s := newTestClient(t, srv.URL, 3).Stream(ctx, ask("Lakers?"))

	var events []types.WireEvent
	for ev := range s.Events() {
		events = append(events, ev)
		if ev.Type == types.EventText {
			<-started
			cancel()
		}
	}
	assert.ErrorIs(t, s.Wait(), context.Canceled)
	assert.Equal(t, 1, s.Attempts())

	require.Len(t, events, 2)
	assert.Equal(t, types.EventDone, events[1].Type)
	assert.Equal(t, types.DoneCancelled, events[1].Metadata.Reason)
	for _, ev := range events {
		assert.NotEqual(t, types.EventError, ev.Type, "cancellation shows no error")
	}
}

func TestCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Options{
		BaseURL:  srv.URL,
		Timeouts: config.ClientTimeouts{MaxRetries: 5},
		Backoff:  &Backoff{Base: time.Hour},
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s := c.Stream(ctx, ask("Lakers?"))
	events := drain(s)
	assert.ErrorIs(t, s.Wait(), context.DeadlineExceeded)
	require.Len(t, events, 1)
	assert.Equal(t, types.DoneCancelled, events[0].Metadata.Reason)
}

func TestStreamBreakAfterOutputIsNotRetried(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.note(r)
		writeFrames(w, `{"type":"text","content":"Partial"}`)
		panic(http.ErrAbortHandler)
	}))
	defer srv.Close()

	s := newTestClient(t, srv.URL, 3).Stream(context.Background(), ask("Lakers?"))
	events := drain(s)
	assert.Error(t, s.Wait())
	assert.Equal(t, 1, s.Attempts())

	kinds := make([]types.EventType, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Type)
	}
	assert.Equal(t, []types.EventType{types.EventText, types.EventError, types.EventDone}, kinds)
}

func TestStreamWithoutDoneIsFlushed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w, `{"type":"text","content":"a"}`, `{"type":"text","content":"b"}`)
	}))
	defer srv.Close()

	s := newTestClient(t, srv.URL, 0).Stream(context.Background(), ask("Lakers?"))
	events := drain(s)
	require.NoError(t, s.Wait())
	require.Len(t, events, 3)
	assert.Equal(t, ReasonStreamEnded, events[2].Metadata.Reason)
}

func TestFinalFrameWithoutNewlineIsDelivered(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.note(r)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"type":"text","content":"hello"}`)
	}))
	defer srv.Close()

	s := newTestClient(t, srv.URL, 2).Stream(context.Background(), ask("Lakers?"))
	events := drain(s)
	require.NoError(t, s.Wait())
	assert.Equal(t, 1, s.Attempts())

	require.Len(t, events, 2)
	assert.Equal(t, types.EventText, events[0].Type)
	assert.Equal(t, "hello", events[0].Content)
	assert.Equal(t, ReasonStreamEnded, events[1].Metadata.Reason)

	attempts, _ := rec.snapshot()
	assert.Equal(t, []string{"1"}, attempts)
}

func TestEmptyBodyIsRetried(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.note(r)
		w.Header().Set("Content-Type", "text/event-stream")
		if attempts, _ := rec.snapshot(); len(attempts) == 1 {
			fmt.Fprint(w, ": keep-alive\n")
			return
		}
		writeFrames(w, `{"type":"done","metadata":{"final":true,"reason":"complete"}}`)
	}))
	defer srv.Close()

	s := newTestClient(t, srv.URL, 2).Stream(context.Background(), ask("Lakers?"))
	events := drain(s)
	require.NoError(t, s.Wait())
	assert.Equal(t, 2, s.Attempts())
	require.Len(t, events, 1)
	assert.Equal(t, types.DoneComplete, events[0].Metadata.Reason)
}
