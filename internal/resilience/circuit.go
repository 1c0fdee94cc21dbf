package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls immediately after repeated failures.
	CircuitOpen
	// CircuitHalfOpen allows a probe call to test recovery.
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

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a probe is
	// allowed. Default: 30s.
	ResetTimeout time.Duration

	// OnStateChange is called when the circuit transitions between states.
	OnStateChange func(from, to CircuitState)
}

// Breaker implements the circuit breaker pattern for a single service.
// The verification API client wraps its calls in one so that a dead or
// quota-starved provider degrades the verifier to heuristics quickly
// instead of stalling every candidate on timeouts.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    CircuitState
	failures int
	openedAt time.Time

	nowFunc func() time.Time
}

// NewBreaker creates a circuit breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{cfg: cfg, nowFunc: time.Now}
}

// State returns the current circuit state, applying the open→half-open
// transition if the reset timeout has elapsed.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() CircuitState {
	if b.state == CircuitOpen && b.nowFunc().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.transition(CircuitHalfOpen)
	}
	return b.state
}

// Execute runs fn if the circuit allows it. In half-open state a single
// success closes the circuit; a failure re-opens it.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	b.mu.Lock()
	if b.stateLocked() == CircuitOpen {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	b.mu.Unlock()

	err := fn(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		if b.state != CircuitClosed {
			b.transition(CircuitClosed)
		}
		return nil
	}

	// Context cancellation is the caller's doing, not the service's.
	if ctx.Err() != nil {
		return err
	}

	b.failures++
	if b.state == CircuitHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.nowFunc()
		b.transition(CircuitOpen)
	}
	return err
}

func (b *Breaker) transition(to CircuitState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}
