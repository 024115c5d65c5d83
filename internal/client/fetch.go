// Package client is the consumer side of the chat stream: a retrying fetch
// client, the frame parser, a coalescing message store and a citation cache.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"courtside/internal/config"
	"courtside/internal/logging"
	"courtside/internal/types"
)

// ErrRetriesExhausted is returned when every attempt failed before any event
// arrived.
var ErrRetriesExhausted = errors.New("retries exhausted")

// UnavailableMessage is the error event content after retries are exhausted.
const UnavailableMessage = "Couldn't reach the analysis service. Please try again."

// InterruptedMessage is the error event content when a stream breaks after
// output started.
const InterruptedMessage = "The answer was interrupted. Please try again."

// StatusError is a non-success HTTP response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d", e.Code)
	}
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Body)
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeouts   config.ClientTimeouts
	// Backoff overrides the delay schedule derived from Timeouts.
	Backoff *Backoff
}

// Client posts chat requests and streams the reply, retrying transient
// failures that happen before the first event.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    Backoff
}

// New creates a Client.
func New(opts Options) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: opts.HTTPClient,
		maxRetries: opts.Timeouts.MaxRetries,
		backoff:    NewBackoff(opts.Timeouts),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if opts.Backoff != nil {
		c.backoff = *opts.Backoff
	}
	return c
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// Stream is one in-flight request. Events yields every event in order and
// always ends with exactly one done event before it is closed. Consumers must
// drain Events; cancel the context passed to Client.Stream to stop early.
type Stream struct {
	events   chan types.WireEvent
	finished chan struct{}
	err      error
	attempts int
}

// Events returns the event channel.
func (s *Stream) Events() <-chan types.WireEvent {
	return s.events
}

// Wait blocks until the stream is closed. It returns nil on completion,
// the context error on cancellation, and an error wrapping
// ErrRetriesExhausted when no attempt got through.
func (s *Stream) Wait() error {
	<-s.finished
	return s.err
}

// Attempts returns how many requests were made. Valid after Wait.
func (s *Stream) Attempts() int {
	<-s.finished
	return s.attempts
}

// Stream posts req and returns the reply stream.
func (c *Client) Stream(ctx context.Context, req types.ChatRequest) *Stream {
	s := &Stream{
		events:   make(chan types.WireEvent),
		finished: make(chan struct{}),
	}
	go func() {
		defer close(s.finished)
		defer close(s.events)
		s.err = c.run(ctx, req, s)
	}()
	return s
}

func (c *Client) run(ctx context.Context, req types.ChatRequest, s *Stream) error {
	body, err := json.Marshal(req)
	if err != nil {
		s.events <- terminal(types.DoneFailed)
		return fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		s.attempts = attempt
		delivered, err := c.once(ctx, body, attempt, s.events)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			logging.ClientDebug("Request cancelled on attempt %d after %d events", attempt, delivered)
			s.events <- terminal(types.DoneCancelled)
			return ctx.Err()
		}
		if delivered > 0 {
			logging.ClientWarn("Stream broke after %d events: %v", delivered, err)
			s.events <- types.WireEvent{Type: types.EventError, Content: InterruptedMessage}
			s.events <- terminal(types.DoneFailed)
			return fmt.Errorf("stream interrupted: %w", err)
		}

		lastErr = err
		if attempt > c.maxRetries {
			break
		}
		delay := c.backoff.Delay(attempt - 1)
		logging.ClientWarn("Attempt %d failed: %v; retrying in %v", attempt, err, delay)
		if err := sleep(ctx, delay); err != nil {
			s.events <- terminal(types.DoneCancelled)
			return err
		}
	}

	s.events <- types.WireEvent{Type: types.EventError, Content: UnavailableMessage}
	s.events <- terminal(types.DoneFailed)
	return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, s.attempts, lastErr)
}

// once performs one request and forwards its events. It reports how many
// events were delivered so the caller knows whether a retry is safe.
func (c *Client) once(ctx context.Context, body []byte, attempt int, out chan<- types.WireEvent) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Attempt-Number", strconv.Itoa(attempt))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	parser := NewFrameParser()
	buf := make([]byte, 4096)
	delivered := 0
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			for _, ev := range parser.Feed(buf[:n]) {
				out <- ev
				delivered++
			}
			if parser.Done() {
				return delivered, nil
			}
		}
		if errors.Is(rerr, io.EOF) {
			if ctx.Err() != nil {
				return delivered, ctx.Err()
			}
			tail := parser.Flush()
			if delivered == 0 && onlyStreamEnded(tail) {
				return 0, io.ErrUnexpectedEOF
			}
			for _, ev := range tail {
				out <- ev
				delivered++
			}
			return delivered, nil
		}
		if rerr != nil {
			return delivered, rerr
		}
	}
}

// onlyStreamEnded reports whether a flush produced nothing but the
// synthetic done, meaning the body carried no frame at all.
func onlyStreamEnded(events []types.WireEvent) bool {
	return len(events) == 1 && events[0].Type == types.EventDone &&
		events[0].Metadata != nil && events[0].Metadata.Reason == ReasonStreamEnded
}

func terminal(reason string) types.WireEvent {
	return types.WireEvent{
		Type:     types.EventDone,
		Metadata: &types.EventMetadata{Final: true, Reason: reason},
	}
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
