package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Backoff constants.
const (
	// DefaultBackoffBase is the initial reconnection delay ceiling.
	DefaultBackoffBase = 1 * time.Second

	// DefaultBackoffCap is the maximum reconnection delay ceiling.
	DefaultBackoffCap = 60 * time.Second

	// DefaultMaxAttempts is the number of consecutive failed
	// reconnection attempts before giving up.
	DefaultMaxAttempts = 10
)

// BackoffConfig configures reconnection pacing.
type BackoffConfig struct {
	// Base is the delay ceiling for the first attempt.
	Base time.Duration

	// Cap bounds the delay ceiling growth.
	Cap time.Duration

	// MaxAttempts limits consecutive failures. Zero applies
	// DefaultMaxAttempts; negative means unlimited.
	MaxAttempts int
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Base <= 0 {
		c.Base = DefaultBackoffBase
	}
	if c.Cap <= 0 {
		c.Cap = DefaultBackoffCap
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	return c
}

// Backoff produces reconnection delays with full jitter: each delay is
// drawn uniformly from [0, ceiling), where the ceiling doubles per
// attempt up to the cap. Full jitter spreads simultaneous reconnects
// from many clients across the whole window.
type Backoff struct {
	mu       sync.Mutex
	config   BackoffConfig
	attempts int
	rng      *rand.Rand
}

// NewBackoff creates a backoff calculator.
func NewBackoff(config BackoffConfig) *Backoff {
	return &Backoff{
		config: config.withDefaults(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the delay before the next attempt and advances the
// attempt counter.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	ceiling := Ceiling(b.config, b.attempts)
	b.attempts++

	if ceiling <= 0 {
		return 0
	}
	return time.Duration(b.rng.Int63n(int64(ceiling)))
}

// Attempts returns the number of attempts since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Exhausted reports whether the attempt limit is spent.
func (b *Backoff) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.MaxAttempts > 0 && b.attempts >= b.config.MaxAttempts
}

// Reset clears the attempt counter. Call after a fully successful
// reconnect so a later failure starts from the base delay again.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}

// Ceiling returns the deterministic delay ceiling for an attempt
// (zero-based), before jitter.
func Ceiling(config BackoffConfig, attempt int) time.Duration {
	config = config.withDefaults()

	ceiling := config.Base
	for i := 0; i < attempt; i++ {
		ceiling *= 2
		if ceiling >= config.Cap || ceiling <= 0 {
			return config.Cap
		}
	}
	if ceiling > config.Cap {
		return config.Cap
	}
	return ceiling
}
