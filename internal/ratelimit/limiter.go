// Package ratelimit provides fixed-window admission control keyed by event
// type, actor, path, and target. When a distributed aggregator is configured
// its shared counter is authoritative; on aggregator failure the check fails
// open and the local window acts as a secondary bound.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hczdngr/xinchat-eventlog/internal/domain"
)

// defaultPruneAbove is the local map size beyond which stale windows are
// swept out.
const defaultPruneAbove = 20000

// Key builds the composite admission key for an event.
func Key(eventType domain.EventType, actorUID int64, path string, targetUID int64) string {
	return fmt.Sprintf("%s|%d|%s|%d", eventType, actorUID, path, targetUID)
}

type window struct {
	start time.Time
	count int64
}

// Limiter is a dual-mode fixed-window rate limiter.
type Limiter struct {
	window time.Duration
	max    int64
	agg    domain.Aggregator // nil in local-only mode

	mu         sync.Mutex
	windows    map[string]*window
	pruneAbove int
	now        func() time.Time
}

// New creates a Limiter. agg may be nil for local-only operation.
func New(windowDur time.Duration, max int64, agg domain.Aggregator) *Limiter {
	return &Limiter{
		window:     windowDur,
		max:        max,
		agg:        agg,
		windows:    make(map[string]*window),
		pruneAbove: defaultPruneAbove,
		now:        time.Now,
	}
}

// Allow reports whether one more event may pass for key. The local window is
// always advanced so it holds usable state if the aggregator drops out
// mid-window.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	localAllowed := l.allowLocal(key)
	if l.agg != nil {
		if allowed, ok := l.agg.AllowRate(ctx, key, l.window, l.max); ok {
			return allowed
		}
	}
	return localAllowed
}

func (l *Limiter) allowLocal(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.windows[key]
	if w == nil || now.Sub(w.start) >= l.window {
		if len(l.windows) >= l.pruneAbove {
			l.pruneLocked(now)
		}
		l.windows[key] = &window{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= l.max
}

// pruneLocked removes windows at least two window durations stale.
func (l *Limiter) pruneLocked(now time.Time) {
	stale := 2 * l.window
	for k, w := range l.windows {
		if now.Sub(w.start) >= stale {
			delete(l.windows, k)
		}
	}
}

// Len reports the number of tracked local windows.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
