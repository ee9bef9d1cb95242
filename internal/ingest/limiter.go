package ingest

// limiter.go implements concurrency control for parse engines.
//
// The limiter uses a semaphore pattern to cap the number of engines
// running at once. Controllers call TryAcquire before starting an engine;
// a refused acquire surfaces to the user as a creation failure rather
// than queueing, since a parse is interactive and waiting silently would
// look like a hang.
//
// WaitForDrain supports graceful shutdown: it blocks until every live
// engine has released its slot.

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxConcurrentParses is the default cap on simultaneous engines.
const DefaultMaxConcurrentParses = 4

// ParseLimiter restricts how many parse engines may run in parallel.
type ParseLimiter struct {
	semaphore chan struct{}

	mu     sync.RWMutex
	active int
}

// NewParseLimiter creates a limiter allowing at most maxConcurrent
// simultaneous engines.
func NewParseLimiter(maxConcurrent int) *ParseLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentParses
	}
	return &ParseLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
	}
}

// TryAcquire claims an engine slot without blocking.
// Returns true if a slot was acquired, false otherwise.
// The caller MUST call Release() exactly once per successful acquire.
func (l *ParseLimiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release returns a previously acquired slot.
func (l *ParseLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of engines currently holding a slot.
func (l *ParseLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxConcurrent returns the configured cap.
func (l *ParseLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// WaitForDrain blocks until all engine slots are released or ctx is
// cancelled. Used during shutdown so in-flight parses finish first.
func (l *ParseLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.ActiveCount() == 0 {
				return nil
			}
		}
	}
}

// LimiterStatus is a point-in-time view of the limiter for monitoring.
type LimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status reports the limiter's current state.
func (l *ParseLimiter) Status() LimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return LimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}
