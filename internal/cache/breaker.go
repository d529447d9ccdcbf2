package cache

import (
	"sync"
	"time"
)

// breakerState mirrors the teacher's circuit breaker states.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// breaker is the teacher's internal/store/redis circuit breaker, unchanged
// in shape: count consecutive failures, open after a threshold, and after a
// cooldown go half-open, letting calls through until the next recorded
// result closes or reopens it. Gates the Gateway's calls so that a down
// cache degrades reads to memory rather than blocking the pipeline.
type breaker struct {
	mu           sync.Mutex
	state        breakerState
	failures     int
	maxFailures  int
	resetTimeout time.Duration
	openedAt     time.Time

	OnStateChange func(from, to breakerState)
}

func newBreaker(maxFailures int, resetTimeout time.Duration) *breaker {
	return &breaker{maxFailures: maxFailures, resetTimeout: resetTimeout}
}

// allow reports whether a call should be attempted right now.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if time.Since(b.openedAt) >= b.resetTimeout {
			b.transition(stateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	if b.state != stateClosed {
		b.transition(stateClosed)
	}
}

func (b *breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = time.Now()
		b.transition(stateOpen)
	}
}

func (b *breaker) transition(to breakerState) {
	from := b.state
	b.state = to
	if b.OnStateChange != nil && from != to {
		b.OnStateChange(from, to)
	}
}

func (b *breaker) currentState() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
