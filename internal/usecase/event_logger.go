// Package usecase wires admission, buffering, and flushing for the unified
// event log. One EventLogger instance owns one log file; tests construct an
// isolated instance per run.
package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hczdngr/xinchat-eventlog/internal/adapter/metrics"
	"github.com/hczdngr/xinchat-eventlog/internal/adapter/repository/statefile"
	"github.com/hczdngr/xinchat-eventlog/internal/domain"
	"github.com/hczdngr/xinchat-eventlog/internal/ratelimit"
)

const (
	defaultQueueCapacity  = 5000
	defaultFlushInterval  = 400 * time.Millisecond
	defaultFlushBatchSize = 500
	defaultWriteTimeout   = 5 * time.Second
	defaultWriteRetries   = 3
	defaultRetryBackoff   = 250 * time.Millisecond
	defaultRateWindow     = 60 * time.Second
	defaultRateMax        = 120

	// writeWarnEvery throttles the write-failure warning so a dead disk
	// produces one warning per interval, not one per batch.
	writeWarnEvery = 30 * time.Second
)

// Options configures an EventLogger. Zero values fall back to safe defaults.
type Options struct {
	// Gate resolves whether event logging is active. Defaults to
	// always-enabled when nil.
	Gate func() bool

	InstanceID     string
	QueueCapacity  int
	FlushInterval  time.Duration
	FlushBatchSize int
	WriteTimeout   time.Duration
	WriteRetries   int
	RetryBackoff   time.Duration
	RateWindow     time.Duration
	RateMax        int64

	// Reported through the stats surface only; rotation itself is owned by
	// the writer.
	RotateMaxBytes  int64
	ArchiveMaxFiles int
}

func (o *Options) applyDefaults() {
	if o.Gate == nil {
		o.Gate = func() bool { return true }
	}
	if o.InstanceID == "" {
		o.InstanceID = DefaultInstanceID()
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = defaultQueueCapacity
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = defaultFlushInterval
	}
	if o.FlushBatchSize <= 0 {
		o.FlushBatchSize = defaultFlushBatchSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.WriteRetries < 0 {
		o.WriteRetries = defaultWriteRetries
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = defaultRetryBackoff
	}
	if o.RateWindow <= 0 {
		o.RateWindow = defaultRateWindow
	}
	if o.RateMax <= 0 {
		o.RateMax = defaultRateMax
	}
}

// DefaultInstanceID is the stable per-process identity used to attribute
// writes in multi-instance deployments.
func DefaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// EventLogger accepts events from many request handlers, buffers them in a
// bounded queue, and flushes them to the log file from a single worker
// goroutine. Submit never blocks on disk I/O and never returns an error.
type EventLogger struct {
	opts    Options
	writer  domain.LogWriter
	store   *statefile.Store
	agg     domain.Aggregator // nil in local-only mode
	limiter *ratelimit.Limiter
	metrics *metrics.EventLogMetrics // nil when metrics are not wired
	logger  *slog.Logger

	counters domain.Counters
	queue    chan domain.EventRecord
	flushReq chan chan error
	flushing atomic.Bool
	warnRate *rate.Limiter
	now      func() time.Time

	// Worker-owned; never touched off the Run goroutine.
	pending    []domain.EventRecord
	lastPushed domain.Stats
}

// NewEventLogger creates an EventLogger, reloading persisted counters from
// the state store. Call Run on its own goroutine to start flushing; agg and
// m may be nil.
func NewEventLogger(writer domain.LogWriter, store *statefile.Store, agg domain.Aggregator, m *metrics.EventLogMetrics, logger *slog.Logger, opts Options) *EventLogger {
	opts.applyDefaults()

	l := &EventLogger{
		opts:     opts,
		writer:   writer,
		store:    store,
		agg:      agg,
		limiter:  ratelimit.New(opts.RateWindow, opts.RateMax, agg),
		metrics:  m,
		logger:   logger.With("component", "event_logger"),
		queue:    make(chan domain.EventRecord, opts.QueueCapacity),
		flushReq: make(chan chan error),
		warnRate: rate.NewLimiter(rate.Every(writeWarnEvery), 1),
		now:      time.Now,
	}

	restored := store.Load()
	l.counters.Restore(restored)
	l.lastPushed = l.counters.Snapshot()
	return l
}

// Submit runs the admission pipeline: gate, normalize, rate limit, enqueue.
// The only network the admission path may touch is the distributed rate
// counter, which fails open under a short timeout.
func (l *EventLogger) Submit(ctx context.Context, in domain.EventInput) domain.SubmitResult {
	if !l.opts.Gate() {
		return l.drop(domain.DropDisabled, &l.counters.DroppedDisabled)
	}

	rec, ok := l.normalize(in)
	if !ok {
		return l.drop(domain.DropInvalidEvent, &l.counters.DroppedInvalid)
	}

	key := ratelimit.Key(rec.EventType, rec.ActorUID, rec.Path, rec.TargetUID)
	if !l.limiter.Allow(ctx, key) {
		return l.drop(domain.DropRateLimited, &l.counters.DroppedRateLimited)
	}

	select {
	case l.queue <- rec:
	default:
		return l.drop(domain.DropQueueOverflow, &l.counters.DroppedQueueOverflow)
	}

	l.counters.Accepted.Add(1)
	l.counters.MarkAccepted(l.now())
	if l.metrics != nil {
		l.metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
		l.metrics.QueueLength.Set(float64(len(l.queue)))
	}
	l.store.Save(l.counters.Snapshot())
	return domain.SubmitResult{Accepted: true, ID: rec.ID}
}

func (l *EventLogger) drop(reason domain.DropReason, counter *atomic.Int64) domain.SubmitResult {
	counter.Add(1)
	if l.metrics != nil {
		l.metrics.SubmissionsTotal.WithLabelValues(string(reason)).Inc()
	}
	l.store.Save(l.counters.Snapshot())
	return domain.SubmitResult{Accepted: false, Reason: reason}
}

// Run owns the queue and all file I/O. Start it once, on its own goroutine;
// it drains the queue a final time and persists state before returning when
// ctx is cancelled.
func (l *EventLogger) Run(ctx context.Context) {
	ticker := time.NewTicker(l.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), l.opts.WriteTimeout)
			if err := l.flushAll(drainCtx); err != nil {
				l.logger.Warn("final drain incomplete", "error", err, "remaining", len(l.queue)+len(l.pending))
			}
			l.pushGlobalDeltas(drainCtx)
			cancel()
			l.store.Flush()
			return
		case done := <-l.flushReq:
			err := l.flushAll(ctx)
			l.pushGlobalDeltas(ctx)
			done <- err
		case <-ticker.C:
			// Re-arm immediately while a backlog remains; back off to the
			// next tick on write failure.
			_ = l.flushAll(ctx)
			l.pushGlobalDeltas(ctx)
		}
	}
}

// Flush forces a full drain of the queue and blocks until the flush worker
// has completed it.
func (l *EventLogger) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case l.flushReq <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the merged read surface: local truth plus the advisory
// global view when an aggregator is configured.
func (l *EventLogger) Stats(ctx context.Context) domain.StatsSnapshot {
	snap := domain.StatsSnapshot{
		Enabled:     l.opts.Gate(),
		InstanceID:  l.opts.InstanceID,
		QueueLength: len(l.queue),
		Flushing:    l.flushing.Load(),
		Limits: domain.LimitsSnapshot{
			QueueCapacity:   l.opts.QueueCapacity,
			FlushInterval:   l.opts.FlushInterval,
			FlushBatchSize:  l.opts.FlushBatchSize,
			RateWindow:      l.opts.RateWindow,
			RateMax:         l.opts.RateMax,
			RotateMaxBytes:  l.opts.RotateMaxBytes,
			ArchiveMaxFiles: l.opts.ArchiveMaxFiles,
		},
		Local: l.counters.Snapshot(),
	}
	if l.agg != nil {
		g := l.agg.Snapshot(ctx)
		snap.Global = &g
	}
	return snap
}

// flushAll drains queue and pending until both are empty or a write fails.
func (l *EventLogger) flushAll(ctx context.Context) error {
	for {
		if err := l.flushOnce(ctx); err != nil {
			return err
		}
		if len(l.queue) == 0 && len(l.pending) == 0 {
			return nil
		}
	}
}

// flushOnce writes one batch: the previously failed batch first (preserving
// admission order), topped up from the queue to the batch size.
func (l *EventLogger) flushOnce(ctx context.Context) error {
	l.flushing.Store(true)
	defer l.flushing.Store(false)

	batch := l.pending
	l.pending = nil
collect:
	for len(batch) < l.opts.FlushBatchSize {
		select {
		case rec := <-l.queue:
			batch = append(batch, rec)
		default:
			break collect
		}
	}
	if l.metrics != nil {
		l.metrics.QueueLength.Set(float64(len(l.queue)))
	}
	if len(batch) == 0 {
		return nil
	}

	payload, batch := l.encode(batch)
	if len(batch) == 0 {
		l.store.Save(l.counters.Snapshot())
		return nil
	}
	if err := l.writeWithRetry(ctx, payload); err != nil {
		// Requeue at the front: the next flush retries this batch before
		// anything newer, so the file never reorders.
		l.pending = batch
		l.counters.WriteErrors.Add(1)
		if l.metrics != nil {
			l.metrics.WriteErrorsTotal.Inc()
		}
		if l.warnRate.Allow() {
			l.logger.Warn("log write failing, batch retained for retry", "error", err, "batch_size", len(batch))
		}
		l.store.Save(l.counters.Snapshot())
		return err
	}

	l.counters.Flushed.Add(int64(len(batch)))
	l.counters.MarkFlushed(l.now())
	if l.metrics != nil {
		l.metrics.FlushedTotal.Add(float64(len(batch)))
	}
	if l.agg != nil {
		for _, rec := range batch {
			l.agg.AppendEvent(ctx, rec)
		}
	}
	l.store.Save(l.counters.Snapshot())
	return nil
}

// encode serializes the batch to NDJSON. Records that fail to marshal are
// counted as logger errors and removed from the batch entirely, so a later
// requeue cannot re-count them.
func (l *EventLogger) encode(batch []domain.EventRecord) ([]byte, []domain.EventRecord) {
	var buf bytes.Buffer
	kept := batch[:0]
	for _, rec := range batch {
		line, err := json.Marshal(rec)
		if err != nil {
			l.counters.LoggerErrors.Add(1)
			l.logger.Warn("failed to marshal event record, skipping", "event_id", rec.ID, "error", err)
			continue
		}
		buf.Write(line)
		buf.WriteByte('\n')
		kept = append(kept, rec)
	}
	return buf.Bytes(), kept
}

func (l *EventLogger) writeWithRetry(ctx context.Context, payload []byte) error {
	var lastErr error
	backoff := l.opts.RetryBackoff
	for attempt := 0; attempt <= l.opts.WriteRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		writeCtx, cancel := context.WithTimeout(ctx, l.opts.WriteTimeout)
		rotated, err := l.writer.WriteBatch(writeCtx, payload)
		cancel()

		if rotated {
			l.counters.Rotations.Add(1)
			if l.metrics != nil {
				l.metrics.RotationsTotal.Inc()
			}
		}
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

// pushGlobalDeltas forwards counter growth since the last push to the
// aggregator as atomic hash increments. Batched here, off the admission
// path, so a slow backend never delays callers.
func (l *EventLogger) pushGlobalDeltas(ctx context.Context) {
	if l.agg == nil {
		return
	}
	snap := l.counters.Snapshot()
	deltas := []struct {
		field     string
		cur, prev int64
	}{
		{domain.StatAccepted, snap.Accepted, l.lastPushed.Accepted},
		{domain.StatDroppedDisabled, snap.DroppedDisabled, l.lastPushed.DroppedDisabled},
		{domain.StatDroppedInvalid, snap.DroppedInvalid, l.lastPushed.DroppedInvalid},
		{domain.StatDroppedRateLimited, snap.DroppedRateLimited, l.lastPushed.DroppedRateLimited},
		{domain.StatDroppedQueueOverflow, snap.DroppedQueueOverflow, l.lastPushed.DroppedQueueOverflow},
		{domain.StatFlushed, snap.Flushed, l.lastPushed.Flushed},
		{domain.StatWriteErrors, snap.WriteErrors, l.lastPushed.WriteErrors},
		{domain.StatLoggerErrors, snap.LoggerErrors, l.lastPushed.LoggerErrors},
		{domain.StatRotations, snap.Rotations, l.lastPushed.Rotations},
	}
	for _, d := range deltas {
		if n := d.cur - d.prev; n > 0 {
			l.agg.IncrStat(ctx, d.field, n)
		}
	}
	l.lastPushed = snap

	if l.metrics != nil {
		up := 0.0
		if l.agg.Connected() {
			up = 1.0
		}
		l.metrics.AggregatorUp.Set(up)
	}
}
