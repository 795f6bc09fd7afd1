package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	defaultBreakerFailures = 3
	defaultBreakerCooldown = 2 * time.Minute
)

// Breaker wraps a Client and stops calling it after consecutive failures
// until a cooldown has passed.
type Breaker struct {
	client      Client
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu        sync.Mutex
	failures  int
	openUntil time.Time
}

func NewBreaker(client Client, maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = defaultBreakerFailures
	}
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	return &Breaker{
		client:      client,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

func (b *Breaker) Complete(ctx context.Context, req Request) (string, error) {
	if b == nil || b.client == nil {
		return "", ErrUnavailable
	}
	if b.circuitOpen() {
		return "", ErrCircuitOpen
	}
	out, err := b.client.Complete(ctx, req)
	if err != nil {
		// The caller giving up is not a provider failure.
		if !errors.Is(err, context.Canceled) {
			b.recordFailure()
		}
		return "", err
	}
	b.resetFailures()
	return out, nil
}

// Open reports whether calls are currently short-circuited.
func (b *Breaker) Open() bool {
	return b.circuitOpen()
}

func (b *Breaker) circuitOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if b.now().After(b.openUntil) {
		b.openUntil = time.Time{}
		b.failures = 0
		return false
	}
	return true
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.maxFailures {
		b.openUntil = b.now().Add(b.cooldown)
	}
}

func (b *Breaker) resetFailures() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

var _ Client = (*Breaker)(nil)
