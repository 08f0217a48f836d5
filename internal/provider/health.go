package provider

import (
	"log/slog"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
)

// HealthTracker manages one circuit breaker per provider.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]circuitbreaker.CircuitBreaker[any]

	failureThreshold      uint
	recoveryProbeInterval time.Duration
}

// NewHealthTracker creates a health tracker with the given circuit breaker config.
func NewHealthTracker(failureThreshold int, recoveryProbeInterval time.Duration) *HealthTracker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	return &HealthTracker{
		breakers:              make(map[string]circuitbreaker.CircuitBreaker[any]),
		failureThreshold:      uint(failureThreshold),
		recoveryProbeInterval: recoveryProbeInterval,
	}
}

// breaker returns (or lazily creates) the circuit breaker for a provider.
func (ht *HealthTracker) breaker(provider string) circuitbreaker.CircuitBreaker[any] {
	ht.mu.RLock()
	cb, ok := ht.breakers[provider]
	ht.mu.RUnlock()
	if ok {
		return cb
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	if cb, ok := ht.breakers[provider]; ok {
		return cb
	}
	cb = circuitbreaker.NewBuilder[any]().
		WithFailureThreshold(ht.failureThreshold).
		WithDelay(ht.recoveryProbeInterval).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("provider circuit state change",
				"provider", provider,
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
		}).
		Build()
	ht.breakers[provider] = cb
	return cb
}

// Allow acquires a permit for one call to the provider. Every permitted call
// must be followed by RecordSuccess or RecordFailure.
func (ht *HealthTracker) Allow(provider string) bool {
	return ht.breaker(provider).TryAcquirePermit()
}

// IsOpen reports whether the provider is currently rejecting calls.
func (ht *HealthTracker) IsOpen(provider string) bool {
	return ht.breaker(provider).IsOpen()
}

func (ht *HealthTracker) RecordSuccess(provider string) {
	ht.breaker(provider).RecordSuccess()
}

func (ht *HealthTracker) RecordFailure(provider string) {
	ht.breaker(provider).RecordFailure()
}
