package client

import (
	"bytes"
	"encoding/json"

	"courtside/internal/logging"
	"courtside/internal/types"
)

// ReasonStreamEnded marks a done event synthesized because the stream
// closed without a terminal marker.
const ReasonStreamEnded = "stream_ended"

var (
	dataPrefix = []byte("data:")
	sentinel   = []byte("[DONE]")
)

// FrameParser decodes a line-framed event stream. Partial lines are kept
// across Feed calls. Exactly one done event is produced per parser, whether
// it comes from a done frame, a final-flagged event, the [DONE] sentinel or
// Flush at end of stream. Input after done is ignored.
type FrameParser struct {
	buf     []byte
	done    bool
	skipped int
}

// NewFrameParser creates an empty parser.
func NewFrameParser() *FrameParser {
	return &FrameParser{}
}

// Done reports whether the done event has been produced.
func (p *FrameParser) Done() bool {
	return p.done
}

// Skipped returns how many malformed payloads were ignored.
func (p *FrameParser) Skipped() int {
	return p.skipped
}

// Feed consumes chunk and returns the events completed by it.
func (p *FrameParser) Feed(chunk []byte) []types.WireEvent {
	if p.done {
		return nil
	}
	p.buf = append(p.buf, chunk...)

	var out []types.WireEvent
	for !p.done {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := p.buf[:i]
		p.buf = p.buf[i+1:]
		out = p.line(line, out)
	}
	if p.done {
		p.buf = nil
	}
	return out
}

// Flush parses any trailing partial line and produces the done event if the
// stream did not carry one.
func (p *FrameParser) Flush() []types.WireEvent {
	if p.done {
		return nil
	}
	var out []types.WireEvent
	if len(p.buf) > 0 {
		out = p.line(p.buf, out)
		p.buf = nil
	}
	if !p.done {
		p.done = true
		out = append(out, types.WireEvent{
			Type:     types.EventDone,
			Metadata: &types.EventMetadata{Final: true, Reason: ReasonStreamEnded},
		})
	}
	return out
}

func (p *FrameParser) line(raw []byte, out []types.WireEvent) []types.WireEvent {
	line := bytes.TrimSpace(raw)
	if len(line) == 0 || line[0] == ':' || !bytes.HasPrefix(line, dataPrefix) {
		return out
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if bytes.Equal(payload, sentinel) {
		p.done = true
		return append(out, types.WireEvent{
			Type:     types.EventDone,
			Metadata: &types.EventMetadata{Final: true, Reason: types.DoneComplete},
		})
	}

	var ev types.WireEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Type == "" {
		p.skipped++
		logging.ClientDebug("Ignoring malformed frame (%d bytes)", len(payload))
		return out
	}
	out = append(out, ev)
	if !ev.IsTerminal() {
		return out
	}
	p.done = true
	if ev.Type != types.EventDone {
		out = append(out, types.WireEvent{
			Type:     types.EventDone,
			Metadata: &types.EventMetadata{Final: true, Reason: types.DoneComplete},
		})
	}
	return out
}
