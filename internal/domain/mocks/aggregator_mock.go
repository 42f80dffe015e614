package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/hczdngr/xinchat-eventlog/internal/domain"
)

// MockAggregator is an in-memory implementation of domain.Aggregator for
// testing. Its rate counters behave like the shared Redis counter, so two
// logger instances sharing one MockAggregator observe one logical window.
type MockAggregator struct {
	mu sync.Mutex

	IncrCalls      map[string]int64
	AppendedEvents []domain.EventRecord
	RateCounts     map[string]int64

	// Unavailable makes every operation report ok=false / disconnected.
	Unavailable bool
	// LockHeld simulates another instance holding the rotation lock.
	LockHeld bool

	SnapshotResult domain.GlobalSnapshot
	LockAcquires   int
	LockReleases   int
}

func NewMockAggregator() *MockAggregator {
	return &MockAggregator{
		IncrCalls:  make(map[string]int64),
		RateCounts: make(map[string]int64),
	}
}

func (m *MockAggregator) IncrStat(ctx context.Context, field string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unavailable {
		return
	}
	m.IncrCalls[field] += delta
}

func (m *MockAggregator) AppendEvent(ctx context.Context, event domain.EventRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unavailable {
		return
	}
	m.AppendedEvents = append(m.AppendedEvents, event)
}

func (m *MockAggregator) AllowRate(ctx context.Context, key string, window time.Duration, max int64) (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unavailable {
		return true, false
	}
	m.RateCounts[key]++
	return m.RateCounts[key] <= max, true
}

func (m *MockAggregator) AcquireRotationLock(ctx context.Context, ttl time.Duration) (string, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unavailable {
		return "", false, false
	}
	m.LockAcquires++
	if m.LockHeld {
		return "", false, true
	}
	return "mock-token", true, true
}

func (m *MockAggregator) ReleaseRotationLock(ctx context.Context, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LockReleases++
}

func (m *MockAggregator) Snapshot(ctx context.Context) domain.GlobalSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unavailable {
		return domain.GlobalSnapshot{Connected: false}
	}
	return m.SnapshotResult
}

func (m *MockAggregator) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.Unavailable
}

// Events returns a copy of the appended stream.
func (m *MockAggregator) Events() []domain.EventRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventRecord, len(m.AppendedEvents))
	copy(out, m.AppendedEvents)
	return out
}

// Incr returns the pushed total for one stat field.
func (m *MockAggregator) Incr(field string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.IncrCalls[field]
}
