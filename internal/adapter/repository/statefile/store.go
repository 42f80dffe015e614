// Package statefile persists the local counter set across process restarts
// so dashboards do not reset to zero on every deploy.
package statefile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hczdngr/xinchat-eventlog/internal/domain"
)

// State is the on-disk shape, overwritten atomically as one JSON object.
type State struct {
	UpdatedAt  string       `json:"updatedAt"`
	InstanceID string       `json:"instanceId"`
	Stats      domain.Stats `json:"stats"`
}

// Store debounces counter snapshots into serialized, atomic writes of a
// small JSON state file.
type Store struct {
	path       string
	instanceID string
	debounce   time.Duration
	logger     *slog.Logger

	mu      sync.Mutex // guards pending + timer
	pending *domain.Stats
	timer   *time.Timer

	wmu sync.Mutex // serializes actual file writes
}

// NewStore creates a Store. The directory is created eagerly so later writes
// only touch the file.
func NewStore(path, instanceID string, debounce time.Duration, logger *slog.Logger) *Store {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Warn("failed to create state directory", "dir", dir, "error", err)
		}
	}
	return &Store{
		path:       path,
		instanceID: instanceID,
		debounce:   debounce,
		logger:     logger.With("component", "state_store"),
	}
}

// Load reads the persisted counters. Any failure (missing file, corrupt
// JSON) yields a zeroed snapshot; this path never fails.
func (s *Store) Load() domain.Stats {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return domain.Stats{}
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("state file unreadable, starting from zero", "error", err)
		return domain.Stats{}
	}
	return st.Stats
}

// Save schedules a debounced write. Calls within the debounce window
// collapse into a single write carrying the latest snapshot.
func (s *Store) Save(stats domain.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &stats
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.flushPending)
	}
}

// Flush writes any pending snapshot immediately.
func (s *Store) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()
	s.flushPending()
}

func (s *Store) flushPending() {
	s.mu.Lock()
	stats := s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	if stats == nil {
		return
	}
	if err := s.write(*stats); err != nil {
		s.logger.Warn("failed to persist state file", "error", err)
	}
}

// write is serialized by wmu so two writes never interleave, and uses a
// temp-file-then-rename so a crash never leaves a partial file behind.
func (s *Store) write(stats domain.Stats) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	st := State{
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
		InstanceID: s.instanceID,
		Stats:      stats,
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
