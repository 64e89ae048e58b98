package llm

import (
	"sync"
	"time"
)

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	DefaultFailureThreshold = 3
	DefaultResetTimeout     = 60 * time.Second
)

type BreakerSettings struct {
	FailureThreshold int
	ResetTimeout     time.Duration
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.FailureThreshold < 1 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = DefaultResetTimeout
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// CircuitBreakerState is a point-in-time copy of a breaker.
// OpenedAt is non-nil only while State is CircuitOpen.
type CircuitBreakerState struct {
	State         CircuitState
	FailureCount  int
	LastFailureAt *time.Time
	LastSuccessAt *time.Time
	OpenedAt      *time.Time
}

// CircuitBreaker guards one backend. The Open to HalfOpen transition is
// evaluated when the state is read, there is no background timer.
type CircuitBreaker struct {
	mu            sync.Mutex
	settings      BreakerSettings
	state         CircuitState
	failureCount  int
	lastFailureAt time.Time
	lastSuccessAt time.Time
	openedAt      time.Time
	trialInFlight bool
}

func NewCircuitBreaker(settings BreakerSettings) *CircuitBreaker {
	return &CircuitBreaker{settings: settings.withDefaults()}
}

// advanceLocked moves Open to HalfOpen once the reset timeout has elapsed.
func (b *CircuitBreaker) advanceLocked() {
	if b.state != CircuitOpen {
		return
	}
	if b.settings.Now().Sub(b.openedAt) >= b.settings.ResetTimeout {
		b.state = CircuitHalfOpen
		b.openedAt = time.Time{}
		b.trialInFlight = false
	}
}

// Allow reports whether a call may go through now. In HalfOpen only one
// trial call is admitted until its outcome is recorded.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advanceLocked()
	switch b.state {
	case CircuitOpen:
		return false
	case CircuitHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return true
	}
}

func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSuccessAt = b.settings.Now()
	b.failureCount = 0
	b.state = CircuitClosed
	b.openedAt = time.Time{}
	b.trialInFlight = false
}

func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.settings.Now()
	b.lastFailureAt = now
	b.failureCount++
	b.trialInFlight = false

	switch b.state {
	case CircuitHalfOpen:
		b.state = CircuitOpen
		b.openedAt = now
	case CircuitClosed:
		if b.failureCount >= b.settings.FailureThreshold {
			b.state = CircuitOpen
			b.openedAt = now
		}
	}
}

// Release gives back a HalfOpen trial slot without recording an outcome,
// used when the caller abandoned the call.
func (b *CircuitBreaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

func (b *CircuitBreaker) Snapshot() CircuitBreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advanceLocked()
	out := CircuitBreakerState{
		State:        b.state,
		FailureCount: b.failureCount,
	}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		out.LastFailureAt = &t
	}
	if !b.lastSuccessAt.IsZero() {
		t := b.lastSuccessAt
		out.LastSuccessAt = &t
	}
	if b.state == CircuitOpen {
		t := b.openedAt
		out.OpenedAt = &t
	}
	return out
}
