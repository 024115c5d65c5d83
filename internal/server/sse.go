package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"courtside/internal/types"
)

// ErrStreamingUnsupported is returned when the response cannot be flushed.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// DoneSentinel is the optional terminal line some clients expect after done.
const DoneSentinel = "[DONE]"

// SetSSEHeaders prepares w for an event stream.
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// EventWriter receives wire events in order.
type EventWriter interface {
	WriteEvent(ev types.WireEvent) error
}

// SSEWriter frames events as "data: <json>" lines and flushes each one.
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	written int
}

// NewSSEWriter wraps w. It fails when w cannot flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent writes one event frame and flushes it.
func (s *SSEWriter) WriteEvent(ev types.WireEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}
	return s.writeData(data)
}

// WriteSentinel writes the [DONE] line.
func (s *SSEWriter) WriteSentinel() error {
	return s.writeData([]byte(DoneSentinel))
}

// Written returns how many frames have been written.
func (s *SSEWriter) Written() int {
	return s.written
}

func (s *SSEWriter) writeData(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	s.written++
	return nil
}
