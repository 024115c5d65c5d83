package config

import "time"

// ClientTimeouts centralizes the client retry schedule.
//
// KEY INSIGHT: the backoff delay is itself a suspension point and must stay
// cancellable, so these values only bound the wait; the caller's context can
// always cut it short.
type ClientTimeouts struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry. It doubles per attempt.
	BaseDelay time.Duration

	// MaxDelay caps the doubled delay before jitter is applied.
	MaxDelay time.Duration

	// Jitter is the multiplicative jitter fraction applied in both directions
	// (0.2 means the delay lands in [0.8d, 1.2d]).
	Jitter float64

	// RedrawInterval is the coalescing cadence for streaming text patches.
	RedrawInterval time.Duration
}

// DefaultClientTimeouts returns the defaults used when config is absent.
func DefaultClientTimeouts() ClientTimeouts {
	return ClientTimeouts{
		MaxRetries:     3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       8 * time.Second,
		Jitter:         0.2,
		RedrawInterval: 16 * time.Millisecond,
	}
}

// GetClientTimeouts resolves the client section into concrete durations.
func (c *Config) GetClientTimeouts() ClientTimeouts {
	def := DefaultClientTimeouts()
	t := ClientTimeouts{
		MaxRetries:     c.Client.MaxRetries,
		BaseDelay:      parseDuration(c.Client.BaseDelay, def.BaseDelay),
		MaxDelay:       parseDuration(c.Client.MaxDelay, def.MaxDelay),
		Jitter:         c.Client.Jitter,
		RedrawInterval: parseDuration(c.Client.RedrawInterval, def.RedrawInterval),
	}
	if t.MaxRetries < 0 {
		t.MaxRetries = 0
	}
	if t.Jitter < 0 || t.Jitter >= 1 {
		t.Jitter = def.Jitter
	}
	if t.MaxDelay < t.BaseDelay {
		t.MaxDelay = t.BaseDelay
	}
	return t
}
