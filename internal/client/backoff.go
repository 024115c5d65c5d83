package client

import (
	"math"
	"math/rand/v2"
	"time"

	"courtside/internal/config"
)

// Backoff computes retry delays: Base doubled per retry, capped at Max, then
// scaled by a random factor in [1-Jitter, 1+Jitter].
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	// rand returns a value in [0, 1).
	rand func() float64
}

// NewBackoff builds a Backoff from client timeouts.
func NewBackoff(t config.ClientTimeouts) Backoff {
	return Backoff{Base: t.BaseDelay, Max: t.MaxDelay, Jitter: t.Jitter, rand: rand.Float64}
}

// Delay returns the wait before retry number n, counting from 0.
func (b Backoff) Delay(n int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	d := float64(b.Base) * math.Pow(2, float64(n))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		r := b.rand
		if r == nil {
			r = rand.Float64
		}
		d *= 1 + b.Jitter*(2*r()-1)
	}
	return time.Duration(d)
}
