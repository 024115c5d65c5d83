package generation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"courtside/internal/logging"
	"courtside/internal/prompt"
	"courtside/internal/types"

	"google.golang.org/genai"
)

// ErrEmptyHistory is returned when a request carries no usable messages.
var ErrEmptyHistory = errors.New("conversation history is empty")

// ContentStreamer is the streaming surface of the hosted model.
// *genai.Models satisfies it.
type ContentStreamer interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// NewGeminiStreamer connects to the Gemini API.
func NewGeminiStreamer(ctx context.Context, apiKey string) (ContentStreamer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return client.Models, nil
}

// Options configures the adapter.
type Options struct {
	Model          string
	EnableThinking bool
	Temperature    float32
}

// Adapter turns a model stream into wire events.
type Adapter struct {
	models ContentStreamer
	opts   Options
}

// NewAdapter creates an Adapter.
func NewAdapter(models ContentStreamer, opts Options) *Adapter {
	return &Adapter{models: models, opts: opts}
}

// Request is one generation call.
type Request struct {
	Instruction string
	History     []types.Message
	Step        types.RetryStep
}

// Result accumulates what a run produced.
type Result struct {
	Text    string
	Thought string
	Sources []types.GroundingSource
	Emitted int
}

// Stream is a running generation. Events is closed exactly once, after the
// last event; Wait returns once it is closed.
type Stream struct {
	events chan types.WireEvent
	done   chan struct{}
	result Result
	err    error
}

// Events returns the event channel. Consumers must drain it or cancel the
// context passed to Start.
func (s *Stream) Events() <-chan types.WireEvent {
	return s.events
}

// Wait blocks until the stream ends and returns the accumulated result.
func (s *Stream) Wait() (Result, error) {
	<-s.done
	return s.result, s.err
}

// Start begins streaming req. Each model unit is forwarded as soon as it
// arrives; the channel is unbuffered so nothing queues beyond the consumer.
func (a *Adapter) Start(ctx context.Context, req Request) *Stream {
	s := &Stream{
		events: make(chan types.WireEvent),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.events)
		s.result, s.err = a.run(ctx, req, s.events)
	}()
	return s
}

func (a *Adapter) run(ctx context.Context, req Request, out chan<- types.WireEvent) (Result, error) {
	var res Result

	contents, err := buildContents(req.History, req.Step.MaxEvidenceTurns)
	if err != nil {
		return res, err
	}
	instruction := prompt.Truncate(req.Instruction, req.Step.MaxInstructionChars)
	config := a.buildConfig(instruction, req.Step.UseSearchTool)

	logging.GenerationDebug("Streaming model=%s step=%d turns=%d instruction_chars=%d search=%v",
		a.opts.Model, req.Step.AttemptNumber, len(contents), len(instruction), req.Step.UseSearchTool)

	var (
		text    strings.Builder
		thought strings.Builder
		seen    = make(map[string]bool)
	)
	emit := func(ev types.WireEvent) error {
		select {
		case out <- ev:
			res.Emitted++
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for resp, err := range a.models.GenerateContentStream(ctx, a.opts.Model, contents, config) {
		if err != nil {
			res.Text, res.Thought = text.String(), thought.String()
			return res, fmt.Errorf("model stream failed: %w", err)
		}
		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
			continue
		}
		cand := resp.Candidates[0]

		if cand.Content != nil {
			for _, part := range cand.Content.Parts {
				if part == nil || part.Text == "" {
					continue
				}
				ev := types.WireEvent{Type: types.EventText, Content: part.Text}
				if part.Thought {
					ev.Type = types.EventThought
					thought.WriteString(part.Text)
				} else {
					text.WriteString(part.Text)
				}
				if err := emit(ev); err != nil {
					res.Text, res.Thought = text.String(), thought.String()
					return res, err
				}
			}
		}

		if fresh := newSources(cand.GroundingMetadata, seen); len(fresh) > 0 {
			res.Sources = append(res.Sources, fresh...)
			if err := emit(types.WireEvent{
				Type:     types.EventGrounding,
				Metadata: &types.EventMetadata{Sources: fresh},
			}); err != nil {
				res.Text, res.Thought = text.String(), thought.String()
				return res, err
			}
		}
	}

	res.Text, res.Thought = text.String(), thought.String()
	if err := ctx.Err(); err != nil {
		return res, err
	}
	logging.Generation("Stream complete: step=%d text=%d thought=%d sources=%d",
		req.Step.AttemptNumber, len(res.Text), len(res.Thought), len(res.Sources))
	return res, nil
}

func (a *Adapter) buildConfig(instruction string, search bool) *genai.GenerateContentConfig {
	temp := a.opts.Temperature
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: instruction}}},
		Temperature:       &temp,
	}
	if a.opts.EnableThinking {
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
	}
	if search {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return config
}

// newSources returns grounding sources not yet in seen, marking them seen.
func newSources(gm *genai.GroundingMetadata, seen map[string]bool) []types.GroundingSource {
	if gm == nil {
		return nil
	}
	var out []types.GroundingSource
	for _, chunk := range gm.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		if seen[chunk.Web.URI] {
			continue
		}
		seen[chunk.Web.URI] = true
		out = append(out, types.GroundingSource{URI: chunk.Web.URI, Title: chunk.Web.Title})
	}
	return out
}

// buildContents keeps the last maxTurns messages, drops leading assistant
// turns so the window opens on a user turn, and converts roles.
func buildContents(history []types.Message, maxTurns int) ([]*genai.Content, error) {
	if maxTurns < 1 {
		maxTurns = 1
	}
	window := history
	if len(window) > maxTurns {
		window = window[len(window)-maxTurns:]
	}
	for len(window) > 0 && window[0].Role != types.RoleUser {
		window = window[1:]
	}
	if len(window) == 0 {
		return nil, ErrEmptyHistory
	}

	contents := make([]*genai.Content, 0, len(window))
	for _, m := range window {
		role := genai.RoleUser
		if m.Role == types.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}
	return contents, nil
}
