package infra

import (
	"math/rand/v2"
	"sync"
	"time"
)

const (
	DefaultBackoffMultiplier = 2.0
	DefaultBackoffJitter     = 0.2
	MaxBackoffJitter         = 0.5
)

// Backoff computes exponentially growing waits bounded by [minDelay, maxDelay].
// Each wait is the base delay spread by a uniform jitter of ±jitter*base.
// Safe for concurrent use.
type Backoff struct {
	mu         sync.Mutex
	minDelay   time.Duration
	maxDelay   time.Duration
	multiplier float64
	jitter     float64
	random     func() float64
	current    time.Duration
	attempts   int
}

type BackoffOption func(*Backoff)

// WithMultiplier sets the growth factor. Values below 1 keep the delay flat.
func WithMultiplier(m float64) BackoffOption {
	return func(b *Backoff) {
		b.multiplier = max(m, 1)
	}
}

// WithJitter sets the jitter fraction, clamped to [0, MaxBackoffJitter]
func WithJitter(fraction float64) BackoffOption {
	return func(b *Backoff) {
		b.jitter = min(max(fraction, 0), MaxBackoffJitter)
	}
}

// WithRandom replaces the [0, 1) source used for jitter
func WithRandom(fn func() float64) BackoffOption {
	return func(b *Backoff) {
		if fn != nil {
			b.random = fn
		}
	}
}

func NewBackoff(minDelay, maxDelay time.Duration, opts ...BackoffOption) *Backoff {
	b := &Backoff{
		minDelay:   minDelay,
		maxDelay:   max(maxDelay, minDelay),
		multiplier: DefaultBackoffMultiplier,
		jitter:     DefaultBackoffJitter,
		random:     rand.Float64,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.current = minDelay
	return b
}

// Next returns the wait before the next attempt and grows the base delay
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attempts++

	spread := (b.random()*2 - 1) * b.jitter
	wait := max(b.current+time.Duration(spread*float64(b.current)), b.minDelay)

	b.current = min(time.Duration(float64(b.current)*b.multiplier), b.maxDelay)
	return wait
}

// Peek returns the unjittered base of the next wait
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Saturated reports whether the base delay has reached maxDelay
func (b *Backoff) Saturated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts > 0 && b.current >= b.maxDelay
}

// Reset returns to minDelay after a successful attempt
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.minDelay
	b.attempts = 0
}

// Attempts counts Next calls since the last Reset
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
