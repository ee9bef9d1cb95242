package ingest

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestParseLimiter_TryAcquireRelease(t *testing.T) {
	limiter := NewParseLimiter(2)

	// Initial state
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("initial ActiveCount = %d, want 0", got)
	}

	if !limiter.TryAcquire() {
		t.Fatal("first TryAcquire should succeed")
	}
	if got := limiter.ActiveCount(); got != 1 {
		t.Errorf("after first TryAcquire, ActiveCount = %d, want 1", got)
	}

	if !limiter.TryAcquire() {
		t.Fatal("second TryAcquire should succeed")
	}
	if got := limiter.ActiveCount(); got != 2 {
		t.Errorf("after second TryAcquire, ActiveCount = %d, want 2", got)
	}

	// Third acquire must fail immediately, no blocking
	start := time.Now()
	if limiter.TryAcquire() {
		t.Error("third TryAcquire should fail")
		limiter.Release()
	}
	if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
		t.Errorf("TryAcquire blocked for %v", elapsed)
	}

	limiter.Release()
	if got := limiter.ActiveCount(); got != 1 {
		t.Errorf("after Release, ActiveCount = %d, want 1", got)
	}

	if !limiter.TryAcquire() {
		t.Error("TryAcquire after Release should succeed")
	}
	limiter.Release()
	limiter.Release()

	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("final ActiveCount = %d, want 0", got)
	}
}

func TestParseLimiter_ConcurrentAccess(t *testing.T) {
	const maxConcurrent = 3
	const totalAttempts = 20

	limiter := NewParseLimiter(maxConcurrent)

	var wg sync.WaitGroup
	var mu sync.Mutex
	maxObserved := 0

	for i := 0; i < totalAttempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			if !limiter.TryAcquire() {
				// Fully occupied, which is a valid outcome under contention
				return
			}
			defer limiter.Release()

			mu.Lock()
			if current := limiter.ActiveCount(); current > maxObserved {
				maxObserved = current
			}
			mu.Unlock()

			time.Sleep(10 * time.Millisecond)
		}()
	}

	wg.Wait()

	if maxObserved > maxConcurrent {
		t.Errorf("exceeded max concurrent: observed %d, max %d", maxObserved, maxConcurrent)
	}
	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("final ActiveCount = %d, want 0", got)
	}
}

func TestParseLimiter_WaitForDrain(t *testing.T) {
	limiter := NewParseLimiter(2)

	limiter.TryAcquire()
	limiter.TryAcquire()

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- limiter.WaitForDrain(context.Background())
	}()

	// Ensure WaitForDrain is blocked
	select {
	case <-drainDone:
		t.Error("WaitForDrain returned too early")
	case <-time.After(50 * time.Millisecond):
		// Expected - still waiting
	}

	limiter.Release()

	// Still should be waiting (one active)
	select {
	case <-drainDone:
		t.Error("WaitForDrain returned with one active")
	case <-time.After(50 * time.Millisecond):
		// Expected
	}

	limiter.Release()

	select {
	case err := <-drainDone:
		if err != nil {
			t.Errorf("WaitForDrain returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("WaitForDrain did not complete after all released")
	}
}

func TestParseLimiter_WaitForDrain_ContextCancelled(t *testing.T) {
	limiter := NewParseLimiter(1)
	limiter.TryAcquire()

	cancelCtx, cancel := context.WithCancel(context.Background())

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- limiter.WaitForDrain(cancelCtx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-drainDone:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("WaitForDrain did not return after context cancellation")
	}

	limiter.Release()
}

func TestParseLimiter_Status(t *testing.T) {
	limiter := NewParseLimiter(3)

	status := limiter.Status()
	if status.Active != 0 {
		t.Errorf("initial Active = %d, want 0", status.Active)
	}
	if status.Available != 3 {
		t.Errorf("initial Available = %d, want 3", status.Available)
	}
	if status.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", status.MaxConcurrent)
	}

	limiter.TryAcquire()
	limiter.TryAcquire()

	status = limiter.Status()
	if status.Active != 2 {
		t.Errorf("Active = %d, want 2", status.Active)
	}
	if status.Available != 1 {
		t.Errorf("Available = %d, want 1", status.Available)
	}

	limiter.Release()
	limiter.Release()
}

func TestParseLimiter_DefaultValues(t *testing.T) {
	// Invalid cap falls back to the default
	limiter := NewParseLimiter(0)

	if got := limiter.MaxConcurrent(); got != DefaultMaxConcurrentParses {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentParses)
	}
}
