package transport

import (
	"strings"
	"sync"
	"time"
)

// breaker opens after threshold consecutive failures and stays open for the
// recovery window. A success closes it.
type breaker struct {
	mu           sync.Mutex
	threshold    int
	recovery     time.Duration
	failureCount int
	openUntil    time.Time
	lastError    string
	tripCount    int
}

func newBreaker(threshold int, recovery time.Duration) *breaker {
	return &breaker{threshold: threshold, recovery: recovery}
}

func (b *breaker) enabled() bool {
	return b != nil && b.threshold > 0
}

func (b *breaker) remaining(now time.Time) time.Duration {
	if !b.enabled() {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() || !now.Before(b.openUntil) {
		return 0
	}
	return b.openUntil.Sub(now)
}

func (b *breaker) recordSuccess() {
	if !b.enabled() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.openUntil = time.Time{}
	b.lastError = ""
}

// recordFailure reports whether this failure tripped the breaker.
func (b *breaker) recordFailure(now time.Time, errorText string) bool {
	if !b.enabled() {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.lastError = compactSingleLine(errorText, 240)
	if b.failureCount < b.threshold {
		return false
	}
	b.tripCount++
	b.failureCount = 0
	b.openUntil = now.Add(max(time.Second, b.recovery))
	return true
}

// BreakerStatus is a snapshot of the circuit breaker.
type BreakerStatus struct {
	Open      bool
	Remaining time.Duration
	TripCount int
	LastError string
}

func (b *breaker) status(now time.Time) BreakerStatus {
	remaining := b.remaining(now)
	if !b.enabled() {
		return BreakerStatus{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStatus{
		Open:      remaining > 0,
		Remaining: remaining,
		TripCount: b.tripCount,
		LastError: b.lastError,
	}
}

func compactSingleLine(text string, limit int) string {
	compact := strings.Join(strings.Fields(text), " ")
	if len(compact) <= limit {
		return compact
	}
	if limit <= 3 {
		return compact[:limit]
	}
	return compact[:limit-3] + "..."
}
