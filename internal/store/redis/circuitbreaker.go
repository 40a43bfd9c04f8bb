package redis

import (
	"context"
	"errors"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"stock-sentinel/internal/model"
)

// State is the breaker position. The numeric values are exported as the
// sentinel_redis_circuit_breaker_state gauge.
type State int

const (
	StateClosed   State = 0
	StateOpen     State = 1
	StateHalfOpen State = 2
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned while Redis calls are short-circuited. It
// matches model.ErrUpstreamUnavailable.
var ErrCircuitOpen = model.Upstream("redis", errors.New("circuit breaker is open"))

// CircuitBreaker guards every Redis collaborator call. threshold
// consecutive failures open it; after cooldown a single trial call is let
// through, closing the breaker on success and reopening it on failure.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     State
	streak    int // consecutive failures
	threshold int
	cooldown  time.Duration
	openedAt  time.Time
	probing   bool
	now       func() time.Time

	// OnStateChange runs on every transition, under the breaker lock.
	OnStateChange func(from, to State)
}

// NewCircuitBreaker creates a closed breaker. threshold <= 0 means 5.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// Execute runs fn unless the breaker is open. A miss (redis.Nil) and
// caller cancellation are passed through without counting as failures.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

// allow reports whether a call may proceed, moving an open breaker whose
// cooldown elapsed to half-open and claiming the single trial slot.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) <= cb.cooldown {
			return false
		}
		cb.transition(StateHalfOpen)
	case StateHalfOpen:
		if cb.probing {
			return false
		}
	default:
		return true
	}
	cb.probing = true
	return true
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false

	if err != nil && countsAsFailure(err) {
		cb.streak++
		if cb.state == StateHalfOpen || cb.streak >= cb.threshold {
			cb.openedAt = cb.now()
			cb.transition(StateOpen)
		}
		return
	}
	cb.streak = 0
	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
	}
}

// Do runs a Redis command through the breaker and wraps real failures as
// upstream errors naming op.
func (cb *CircuitBreaker) Do(op string, fn func() error) error {
	err := cb.Execute(fn)
	switch {
	case err == nil, errors.Is(err, goredis.Nil), errors.Is(err, model.ErrUpstreamUnavailable):
		return err
	default:
		return model.Upstream("redis "+op, err)
	}
}

// CurrentState returns the breaker position.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == StateClosed {
		cb.streak = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}

// countsAsFailure excludes misses and caller cancellation; neither says
// anything about Redis health.
func countsAsFailure(err error) bool {
	return !errors.Is(err, goredis.Nil) && !errors.Is(err, context.Canceled)
}
