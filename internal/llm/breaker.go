package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/raine/telegram-nutrition-bot/internal/estimate"
	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
	"github.com/rs/zerolog/log"
)

// ErrBreakerOpen is returned while a breaker rejects calls. It matches
// nutrition.ErrService.
var ErrBreakerOpen = fmt.Errorf("inference temporarily disabled after repeated failures: %w", nutrition.ErrService)

type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker opens after threshold consecutive failures. Once cooldown
// has passed it goes half-open and admits one trial call at a time; other
// callers are rejected until that call is recorded or released.
type CircuitBreaker struct {
	mu          sync.Mutex
	name        string
	state       BreakerState
	failures    int
	threshold   int
	cooldown    time.Duration
	lastFailure time.Time
	trial       bool
	now         func() time.Time
}

func NewCircuitBreaker(name string, threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateClosed,
		now:       time.Now,
	}
}

func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailure) < cb.cooldown {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.trial = true
		return true
	case StateHalfOpen:
		if cb.trial {
			return false
		}
		cb.trial = true
		return true
	default:
		return true
	}
}

// Release ends a half-open trial whose outcome says nothing about the
// provider, leaving the state unchanged so the next caller can try again.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trial = false
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.trial = false
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()
	cb.trial = false

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.threshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	cb.state = to
	log.Warn().
		Str("breaker", cb.name).
		Stringer("from", from).
		Stringer("to", to).
		Int("failures", cb.failures).
		Int("threshold", cb.threshold).
		Dur("cooldown", cb.cooldown).
		Msg("circuit breaker state change")
}

// BreakerClient guards an inference client with a circuit breaker. Only
// transport and service failures count; a photo that is not food says nothing
// about the health of the provider.
type BreakerClient struct {
	next    estimate.InferenceClient
	breaker *CircuitBreaker
}

func NewBreakerClient(next estimate.InferenceClient, breaker *CircuitBreaker) *BreakerClient {
	return &BreakerClient{next: next, breaker: breaker}
}

func (b *BreakerClient) Invoke(ctx context.Context, prompt string, image nutrition.Image) (string, error) {
	if !b.breaker.Allow() {
		return "", ErrBreakerOpen
	}

	raw, err := b.next.Invoke(ctx, prompt, image)
	switch {
	case err == nil:
		b.breaker.RecordSuccess()
	case errors.Is(err, nutrition.ErrTransport), errors.Is(err, nutrition.ErrService):
		b.breaker.RecordFailure()
	default:
		b.breaker.Release()
	}
	return raw, err
}
