package tunnel

import (
	"math/rand"
	"time"
)

const (
	initialDelay = 1000 * time.Millisecond
	maxDelay     = 30000 * time.Millisecond
	maxJitter    = 500 * time.Millisecond
)

// backoff schedules reconnect delays: 1s doubling up to 30s, plus a random
// [0, 500ms) jitter so a fleet of clients does not reconnect in lockstep.
// Only the manager goroutine touches it.
type backoff struct {
	attempt int
	delay   time.Duration
	jitter  func() time.Duration
}

func newBackoff() *backoff {
	return &backoff{
		delay:  initialDelay,
		jitter: func() time.Duration { return time.Duration(rand.Int63n(int64(maxJitter))) },
	}
}

// next returns the delay to wait before the upcoming attempt and advances
// the doubling for the one after.
func (b *backoff) next() time.Duration {
	d := b.delay
	if d > maxDelay {
		d = maxDelay
	}
	b.attempt++
	b.delay *= 2
	if b.delay > maxDelay {
		b.delay = maxDelay
	}
	return d + b.jitter()
}

// reset restores the initial state; called on every successful registration.
func (b *backoff) reset() {
	b.attempt = 0
	b.delay = initialDelay
}
