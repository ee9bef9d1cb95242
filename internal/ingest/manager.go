package ingest

// manager.go tracks ingestion slots across callers.
//
// Each browser session that opens the upload dialog gets a slot: one
// Controller plus bookkeeping for idle expiry. Slots that go untouched
// for the TTL are cancelled and removed by a background janitor so an
// abandoned tab cannot pin an engine slot or a parsed payload in memory.

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSlotTTL is how long an untouched slot survives before the
// janitor reclaims it.
const DefaultSlotTTL = 30 * time.Minute

// DefaultJanitorInterval is how often the janitor sweeps for idle slots.
const DefaultJanitorInterval = time.Minute

type slot struct {
	controller *Controller
	lastTouch  time.Time
}

// Manager owns the slot registry. All methods are safe for concurrent use.
type Manager struct {
	limiter *ParseLimiter
	ttl     time.Duration

	mu    sync.Mutex
	slots map[string]*slot
}

// NewManager creates an empty registry whose controllers share the given
// limiter. ttl <= 0 selects DefaultSlotTTL.
func NewManager(limiter *ParseLimiter, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultSlotTTL
	}
	return &Manager{
		limiter: limiter,
		ttl:     ttl,
		slots:   make(map[string]*slot),
	}
}

// Create allocates a fresh slot and returns its ID.
func (m *Manager) Create() string {
	id := uuid.NewString()

	m.mu.Lock()
	m.slots[id] = &slot{
		controller: NewController(m.limiter),
		lastTouch:  time.Now(),
	}
	m.mu.Unlock()

	return id
}

// Get returns the controller for a slot and refreshes its idle clock.
// Returns false if the slot does not exist or was already reclaimed.
func (m *Manager) Get(id string) (*Controller, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok {
		return nil, false
	}
	s.lastTouch = time.Now()
	return s.controller, true
}

// Delete cancels and removes a slot. Removing an unknown slot is a no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	s, ok := m.slots[id]
	if ok {
		delete(m.slots, id)
	}
	m.mu.Unlock()

	if ok {
		s.controller.Cancel()
	}
}

// Count returns the number of live slots.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

// StartJanitor runs the idle-slot sweeper until ctx is cancelled. A slot
// still parsing is never reclaimed mid-task; it becomes eligible once its
// task resolves and the TTL lapses without another touch.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	slog.Info("slot janitor started", "ttl", m.ttl.String(), "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("slot janitor stopped")
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	var expired []*slot
	for id, s := range m.slots {
		if s.lastTouch.Before(cutoff) && !s.controller.IsBusy() {
			delete(m.slots, id)
			expired = append(expired, s)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.controller.Cancel()
	}
	if len(expired) > 0 {
		slog.Info("reclaimed idle slots", "count", len(expired))
	}
}
