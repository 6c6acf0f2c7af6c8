// Package retry provides the redelivery backoff schedule for the event bus.
package retry

import (
	"math/rand/v2"
	"time"
)

// Backoff computes exponential redelivery delays with full jitter.
//
// Unlike an in-process retry loop, bus redeliveries are stateless on the
// consumer side: each attempt needs delay(n) computed from the delivery count
// alone, so this is a pure mapping rather than a stateful iterator.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff matches the documented schedule: base 2s doubling up to a
// 5 minute ceiling.
func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Cap: 5 * time.Minute}
}

// Delay returns the requeue delay after the attempt-th delivery failed
// (attempt is 1-based). The result is uniformly jittered in (0, d] to avoid
// synchronized retry storms.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			d = b.Cap
			break
		}
	}
	if d > b.Cap {
		d = b.Cap
	}
	return rand.N(d) + 1
}

// Max returns the un-jittered ceiling for the attempt-th retry, useful for
// deriving transport ack-wait windows.
func (b Backoff) Max(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Cap {
			return b.Cap
		}
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}
