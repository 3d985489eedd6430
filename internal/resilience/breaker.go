// Package resilience provides reliability patterns for external service calls.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// Breaker protects calls to one execution provider. It counts consecutive
// failures and opens after a threshold, rejecting calls until a timeout
// elapses. Cancellations are the caller giving up and do not count.
type Breaker struct {
	mu          sync.Mutex
	state       state
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	now         func() time.Time // for testing
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for the given timeout before transitioning to half-open.
func NewBreaker(maxFailures int, timeout time.Duration) *Breaker {
	return &Breaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
	}
}

// Execute runs fn if the circuit is closed or half-open.
// Returns ErrCircuitOpen if the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if errors.Is(err, context.Canceled) {
		if b.state == stateHalfOpen {
			b.state = stateOpen
		}
		return err
	}
	if err != nil {
		b.onFailure()
		return err
	}

	b.onSuccess()
	return nil
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.state = stateHalfOpen
			return true
		}
		return false
	case stateHalfOpen:
		return true
	}
	return false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.state = stateOpen
		b.openedAt = b.now()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.state = stateClosed
}

// Open reports whether calls are currently being rejected.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen && b.now().Sub(b.openedAt) < b.timeout
}

// Group holds one breaker per key so a failing provider does not reject
// calls to the others.
type Group struct {
	mu          sync.Mutex
	breakers    map[string]*Breaker
	maxFailures int
	timeout     time.Duration
}

// NewGroup creates a Group whose breakers share the given settings.
func NewGroup(maxFailures int, timeout time.Duration) *Group {
	return &Group{
		breakers:    make(map[string]*Breaker),
		maxFailures: maxFailures,
		timeout:     timeout,
	}
}

// Get returns the breaker for key, creating it on first use.
func (g *Group) Get(key string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.breakers[key]
	if !ok {
		b = NewBreaker(g.maxFailures, g.timeout)
		g.breakers[key] = b
	}
	return b
}

// Execute runs fn through the breaker for key.
func (g *Group) Execute(key string, fn func() error) error {
	return g.Get(key).Execute(fn)
}
