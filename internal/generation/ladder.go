// Package generation selects a retry step for each attempt and streams the
// hosted model's output as wire events.
package generation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"courtside/internal/logging"
	"courtside/internal/types"
)

// ErrLadderExhausted indicates every remaining ladder step failed.
var ErrLadderExhausted = errors.New("retry ladder exhausted")

// Ladder is the ordered, degrading list of retry steps. Steps are numbered
// from 1; the last step never uses the search tool.
type Ladder struct {
	steps []types.RetryStep
}

// NewLadder validates steps and numbers them in order.
func NewLadder(steps []types.RetryStep) (*Ladder, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("ladder needs at least one step")
	}
	if steps[len(steps)-1].UseSearchTool {
		return nil, fmt.Errorf("last ladder step must not use the search tool")
	}
	out := make([]types.RetryStep, len(steps))
	for i, s := range steps {
		if s.MaxEvidenceTurns < 1 {
			s.MaxEvidenceTurns = 1
		}
		s.AttemptNumber = i + 1
		out[i] = s
	}
	return &Ladder{steps: out}, nil
}

// Len returns the number of steps.
func (l *Ladder) Len() int {
	return len(l.steps)
}

// Step returns the step for a 1-based attempt number. Attempts outside the
// ladder (including 0 and negatives) fall back to the first step.
func (l *Ladder) Step(attempt int) types.RetryStep {
	if attempt < 1 || attempt > len(l.steps) {
		return l.steps[0]
	}
	return l.steps[attempt-1]
}

// Last returns the fail-closed step.
func (l *Ladder) Last() types.RetryStep {
	return l.steps[len(l.steps)-1]
}

// Steps returns a copy of all steps.
func (l *Ladder) Steps() []types.RetryStep {
	out := make([]types.RetryStep, len(l.steps))
	copy(out, l.steps)
	return out
}

// Attempt is the outcome of running one step.
type Attempt struct {
	Step types.RetryStep
	// Emitted is the number of events already delivered downstream. Once
	// anything has been delivered the run cannot move to another step.
	Emitted int
	Err     error
}

// TryFunc runs one ladder step.
type TryFunc func(ctx context.Context, step types.RetryStep) Attempt

// Walk runs try starting at the step for attempt and moves down the ladder
// while a step fails before emitting anything. It pauses between steps with
// exponential backoff starting at base. The returned Attempt is the last one
// run; its Err wraps ErrLadderExhausted when the final step failed too.
func (l *Ladder) Walk(ctx context.Context, attempt int, base time.Duration, try TryFunc) Attempt {
	start := l.Step(attempt).AttemptNumber

	var last Attempt
	for n := start; n <= len(l.steps); n++ {
		step := l.steps[n-1]
		last = try(ctx, step)
		if last.Err == nil {
			if n > start {
				logging.Generation("Ladder step %d succeeded after degrading from step %d", n, start)
			}
			return last
		}
		if last.Emitted > 0 || ctx.Err() != nil {
			return last
		}
		if n == len(l.steps) {
			last.Err = fmt.Errorf("%w: %v", ErrLadderExhausted, last.Err)
			logging.GenerationError("Ladder exhausted at step %d: %v", n, last.Err)
			return last
		}

		backoff := stepBackoff(base, n-start)
		logging.GenerationWarn("Ladder step %d failed before output: %v; degrading to step %d in %v", n, last.Err, n+1, backoff)
		select {
		case <-ctx.Done():
			last.Err = ctx.Err()
			return last
		case <-time.After(backoff):
		}
	}
	return last
}

// stepBackoff is base * 2^i, capped at 8 * base.
func stepBackoff(base time.Duration, i int) time.Duration {
	if base <= 0 {
		return 0
	}
	backoff := float64(base) * math.Pow(2, float64(i))
	if limit := float64(8 * base); backoff > limit {
		backoff = limit
	}
	return time.Duration(backoff)
}
