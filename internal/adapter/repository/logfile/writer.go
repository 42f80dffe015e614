// Package logfile appends normalized event records to an NDJSON log file and
// rotates it into a timestamped archive when it grows past a byte threshold.
package logfile

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hczdngr/xinchat-eventlog/internal/domain"
)

const filePerm = 0644

// Options configures a Writer.
type Options struct {
	Path          string
	ArchiveDir    string
	RotateEnabled bool
	MaxBytes      int64
	MaxArchives   int
	CheckInterval time.Duration
	InstanceID    string
	Locker        domain.RotationLocker // optional distributed lock
	LockTTL       time.Duration
	Logger        *slog.Logger
	Now           func() time.Time // defaults to time.Now
}

// Writer owns the live log file for one process. All writes go through a
// mutex, so batches land strictly ordered.
type Writer struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	f         *os.File
	size      int64
	lastCheck time.Time
}

// NewWriter opens (or creates) the live log file and the archive directory.
func NewWriter(opts Options) (*Writer, error) {
	if dir := filepath.Dir(opts.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}
	if opts.RotateEnabled {
		if err := os.MkdirAll(opts.ArchiveDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create archive directory %s: %w", opts.ArchiveDir, err)
		}
	}

	w := &Writer{
		opts:   opts,
		logger: opts.Logger.With("component", "logfile_writer"),
		now:    opts.Now,
	}
	if w.now == nil {
		w.now = time.Now
	}
	if err := w.openLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

// WriteBatch appends the payload as a single ordered write, rotating first if
// the size threshold would be crossed. rotated reports whether a rotation
// happened on this call.
func (w *Writer) WriteBatch(ctx context.Context, payload []byte) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		if err := w.openLocked(); err != nil {
			return false, err
		}
	}

	rotated := w.maybeRotateLocked(ctx, int64(len(payload)))

	n, err := w.f.Write(payload)
	w.size += int64(n)
	if err != nil {
		return rotated, fmt.Errorf("failed to append to log file: %w", err)
	}
	return rotated, nil
}

// Size reports the tracked size of the live file.
func (w *Writer) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Close closes the live file. Further writes reopen it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

func (w *Writer) openLocked() error {
	f, err := os.OpenFile(w.opts.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", w.opts.Path, err)
	}
	w.f = f
	w.size = 0
	if stat, err := f.Stat(); err == nil {
		w.size = stat.Size()
	}
	return nil
}

// maybeRotateLocked rotates the live file when it would grow past MaxBytes.
// Checks are throttled to CheckInterval so a stat() does not happen per
// batch; the stat refreshes the tracked size in case another process touched
// the shared file.
func (w *Writer) maybeRotateLocked(ctx context.Context, incoming int64) bool {
	if !w.opts.RotateEnabled || w.opts.MaxBytes <= 0 {
		return false
	}
	now := w.now()
	if now.Sub(w.lastCheck) < w.opts.CheckInterval {
		return false
	}
	w.lastCheck = now

	if stat, err := os.Stat(w.opts.Path); err == nil {
		w.size = stat.Size()
	}
	if w.size+incoming <= w.opts.MaxBytes {
		return false
	}

	if w.opts.Locker != nil {
		token, acquired, ok := w.opts.Locker.AcquireRotationLock(ctx, w.opts.LockTTL)
		if ok && !acquired {
			// Another instance is rotating; skip this cycle.
			return false
		}
		if ok {
			defer w.opts.Locker.ReleaseRotationLock(ctx, token)
		}
	}

	if err := w.rotateLocked(now); err != nil {
		w.logger.Warn("log rotation failed, continuing on live file", "error", err)
		return false
	}
	w.pruneArchivesLocked()
	return true
}

func (w *Writer) rotateLocked(now time.Time) error {
	if w.f != nil {
		if err := w.f.Close(); err != nil {
			w.logger.Warn("failed to close log file before rotation", "error", err)
		}
		w.f = nil
	}

	name := fmt.Sprintf("%s-%s-%d-%s.ndjson",
		now.UTC().Format("20060102T150405"), w.opts.InstanceID, os.Getpid(), randomSuffix())
	target := filepath.Join(w.opts.ArchiveDir, name)
	if err := os.Rename(w.opts.Path, target); err != nil {
		// Reopen whatever is there so writes keep landing somewhere.
		if openErr := w.openLocked(); openErr != nil {
			return fmt.Errorf("rename failed (%v) and reopen failed: %w", err, openErr)
		}
		return fmt.Errorf("failed to archive log file: %w", err)
	}

	if err := w.openLocked(); err != nil {
		return err
	}
	w.logger.Info("rotated log file", "archive", target)
	return nil
}

// pruneArchivesLocked deletes archived files beyond MaxArchives, oldest
// first by modification time.
func (w *Writer) pruneArchivesLocked() {
	if w.opts.MaxArchives <= 0 {
		return
	}
	entries, err := os.ReadDir(w.opts.ArchiveDir)
	if err != nil {
		w.logger.Warn("failed to scan archive directory", "error", err)
		return
	}

	type archive struct {
		path string
		mod  time.Time
	}
	var archives []archive
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".ndjson") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		archives = append(archives, archive{filepath.Join(w.opts.ArchiveDir, entry.Name()), info.ModTime()})
	}
	if len(archives) <= w.opts.MaxArchives {
		return
	}

	sort.Slice(archives, func(i, j int) bool { return archives[i].mod.Before(archives[j].mod) })
	for _, a := range archives[:len(archives)-w.opts.MaxArchives] {
		if err := os.Remove(a.path); err != nil {
			w.logger.Warn("failed to prune archived log file", "path", a.path, "error", err)
		}
	}
}

func randomSuffix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b)
}
