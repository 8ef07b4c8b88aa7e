package ai

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/ielts-writing-coach/internal/adapter/observability"
	"github.com/fairyhunter13/ielts-writing-coach/internal/domain"
)

// ErrCircuitOpen is returned while a provider is being skipped after
// consecutive failures.
var ErrCircuitOpen = errors.New("provider circuit open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	// CircuitClosed lets calls through.
	CircuitClosed CircuitState = iota
	// CircuitOpen fails calls fast until the recovery timeout passes.
	CircuitOpen
	// CircuitHalfOpen lets one probe call through.
	CircuitHalfOpen
)

// String returns a string representation of the circuit state
func (cs CircuitState) String() string {
	switch cs {
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

// CircuitBreaker wraps a ChatProvider and stops calling it after
// FailureThreshold consecutive failures. While open, calls fail with the last
// provider error joined with ErrCircuitOpen, so callers still see whether the
// account ran out of credit.
type CircuitBreaker struct {
	next             domain.ChatProvider
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	now              func() time.Time

	mu           sync.Mutex
	state        CircuitState
	failureCount int
	openedAt     time.Time
	lastErr      error
	probing      bool
}

// NewCircuitBreaker wraps next. Non-positive settings fall back to 3 failures
// and 30 seconds.
func NewCircuitBreaker(name string, next domain.ChatProvider, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		next:             next,
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// Complete implements domain.ChatProvider.
func (cb *CircuitBreaker) Complete(ctx domain.Context, msgs []domain.Message) (domain.Completion, error) {
	if err := cb.before(); err != nil {
		return domain.Completion{}, err
	}
	comp, err := cb.next.Complete(ctx, msgs)
	if err != nil && ctx.Err() != nil {
		// the caller gave up; say nothing about the provider
		cb.release()
		return comp, err
	}
	cb.after(err)
	return comp, err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.recoveryTimeout {
			return fmt.Errorf("op=ai.CircuitBreaker: %w", errors.Join(ErrCircuitOpen, cb.lastErr))
		}
		cb.setState(CircuitHalfOpen)
		cb.probing = true
		return nil
	case CircuitHalfOpen:
		if cb.probing {
			return fmt.Errorf("op=ai.CircuitBreaker: %w", errors.Join(ErrCircuitOpen, cb.lastErr))
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) release() {
	cb.mu.Lock()
	cb.probing = false
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.probing = false
	if err == nil {
		cb.failureCount = 0
		cb.lastErr = nil
		if cb.state != CircuitClosed {
			slog.Info("circuit breaker closed after successful recovery", slog.String("provider", cb.name))
			cb.setState(CircuitClosed)
		}
		return
	}
	cb.failureCount++
	cb.lastErr = err
	if cb.state == CircuitHalfOpen || cb.failureCount >= cb.failureThreshold {
		if cb.state != CircuitOpen {
			slog.Warn("circuit breaker opened",
				slog.String("provider", cb.name),
				slog.Int("failure_count", cb.failureCount),
				slog.Any("error", err))
		}
		cb.openedAt = cb.now()
		cb.setState(CircuitOpen)
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(s CircuitState) {
	cb.state = s
	observability.ObserveCircuit(cb.name, int(s))
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
