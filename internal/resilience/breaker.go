// Package resilience provides a circuit breaker for best-effort outbound
// calls such as notification webhooks.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned while the breaker is rejecting calls.
var ErrCircuitOpen = errors.New("circuit open")

// Breaker trips after a run of consecutive failures and rejects calls until
// a cool-down elapses. The first call after the cool-down is a probe: its
// outcome decides whether the circuit closes again or re-trips.
type Breaker struct {
	mu       sync.Mutex
	failures int
	retryAt  time.Time
	probing  bool

	maxFailures int
	cooldown    time.Duration
	now         func() time.Time // for testing
}

// NewBreaker creates a breaker that opens after maxFailures consecutive
// failures and allows a probe call after cooldown.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{maxFailures: maxFailures, cooldown: cooldown, now: time.Now}
}

// Execute runs fn unless the circuit is open, in which case it returns
// ErrCircuitOpen without calling fn.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	if !b.retryAt.IsZero() {
		if b.now().Before(b.retryAt) {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		b.probing = true
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if b.probing || b.failures >= b.maxFailures {
			b.retryAt = b.now().Add(b.cooldown)
		}
		b.probing = false
		return err
	}

	b.failures = 0
	b.retryAt = time.Time{}
	b.probing = false
	return nil
}
