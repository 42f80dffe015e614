// Package redis implements the optional cluster-wide aggregation layer:
// shared counters, a replicated event stream, the distributed rotation lock,
// and the distributed rate-limit counter. Every operation runs under a short
// timeout and degrades to "unavailable" instead of surfacing errors; the
// subsystem stays fully functional without it.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hczdngr/xinchat-eventlog/internal/domain"
)

const (
	statsKeySuffix  = ":stats"
	streamKeySuffix = ":events"
	lockKeySuffix   = ":rotate:lock"
	rateKeyInfix    = ":rl:"

	updatedAtField = "updatedAt"
)

// releaseScript deletes the rotation lock only if the caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// rateScript increments the fixed-window counter, arming the expiry when the
// window opens.
var rateScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n`)

// Options configures an Aggregator.
type Options struct {
	KeyPrefix    string
	OpTimeout    time.Duration
	Cooldown     time.Duration // delay before re-probing after an outage
	StreamMaxLen int64
}

// Aggregator implements domain.Aggregator on a shared Redis.
type Aggregator struct {
	client *redis.Client
	opts   Options
	logger *slog.Logger

	available atomic.Bool
	retryAt   atomic.Int64 // unix nanos; ops are skipped before this
}

var _ domain.Aggregator = (*Aggregator)(nil)

// NewAggregator creates an Aggregator. It assumes the backend is reachable
// until the first failed operation proves otherwise.
func NewAggregator(client *redis.Client, opts Options, logger *slog.Logger) *Aggregator {
	a := &Aggregator{
		client: client,
		opts:   opts,
		logger: logger.With("component", "redis_aggregator"),
	}
	a.available.Store(true)
	return a
}

// Connected reports whether the last operation found the backend healthy.
func (a *Aggregator) Connected() bool { return a.available.Load() }

// IncrStat atomically increments one cluster-wide counter field and stamps
// the update time.
func (a *Aggregator) IncrStat(ctx context.Context, field string, delta int64) {
	if !a.usable() {
		return
	}
	opCtx, cancel := a.opCtx(ctx)
	defer cancel()

	pipe := a.client.Pipeline()
	pipe.HIncrBy(opCtx, a.statsKey(), field, delta)
	pipe.HSet(opCtx, a.statsKey(), updatedAtField, time.Now().UTC().Format(time.RFC3339))
	if _, err := pipe.Exec(opCtx); err != nil {
		a.fail("incr_stat", err)
		return
	}
	a.recover()
}

// AppendEvent pushes an accepted event onto the replicated stream,
// fire-and-forget. The stream is capped so it cannot grow without bound.
func (a *Aggregator) AppendEvent(ctx context.Context, event domain.EventRecord) {
	if !a.usable() {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		a.logger.Warn("failed to marshal event for stream", "event_id", event.ID, "error", err)
		return
	}

	opCtx, cancel := a.opCtx(ctx)
	defer cancel()

	args := &redis.XAddArgs{
		Stream: a.streamKey(),
		MaxLen: a.opts.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := a.client.XAdd(opCtx, args).Err(); err != nil {
		a.fail("append_event", err)
		return
	}
	a.recover()
}

// AllowRate runs the shared fixed-window check. ok is false when the backend
// could not answer; callers fail open.
func (a *Aggregator) AllowRate(ctx context.Context, key string, window time.Duration, max int64) (bool, bool) {
	if !a.usable() {
		return true, false
	}
	opCtx, cancel := a.opCtx(ctx)
	defer cancel()

	n, err := rateScript.Run(opCtx, a.client, []string{a.rateKey(key)}, window.Milliseconds()).Int64()
	if err != nil {
		a.fail("allow_rate", err)
		return true, false
	}
	a.recover()
	return n <= max, true
}

// AcquireRotationLock takes the cross-instance rotation lock via
// set-if-not-exists with an expiry.
func (a *Aggregator) AcquireRotationLock(ctx context.Context, ttl time.Duration) (string, bool, bool) {
	if !a.usable() {
		return "", false, false
	}
	opCtx, cancel := a.opCtx(ctx)
	defer cancel()

	token := uuid.NewString()
	acquired, err := a.client.SetNX(opCtx, a.lockKey(), token, ttl).Result()
	if err != nil {
		a.fail("acquire_lock", err)
		return "", false, false
	}
	a.recover()
	return token, acquired, true
}

// ReleaseRotationLock releases the lock if token still owns it
// (compare-and-delete, so an expired lock taken by another instance is left
// alone).
func (a *Aggregator) ReleaseRotationLock(ctx context.Context, token string) {
	if token == "" || !a.usable() {
		return
	}
	opCtx, cancel := a.opCtx(ctx)
	defer cancel()

	if err := releaseScript.Run(opCtx, a.client, []string{a.lockKey()}, token).Err(); err != nil {
		a.fail("release_lock", err)
	}
}

// Snapshot reads the cluster-wide counters and stream length. On failure it
// reports a disconnected snapshot with no stats.
func (a *Aggregator) Snapshot(ctx context.Context) domain.GlobalSnapshot {
	if !a.usable() {
		return domain.GlobalSnapshot{Connected: false}
	}
	opCtx, cancel := a.opCtx(ctx)
	defer cancel()

	fields, err := a.client.HGetAll(opCtx, a.statsKey()).Result()
	if err != nil {
		a.fail("snapshot", err)
		return domain.GlobalSnapshot{Connected: false}
	}
	a.recover()

	snap := domain.GlobalSnapshot{Connected: true}
	stats := statsFromHash(fields)
	snap.Stats = &stats
	snap.UpdatedAt = fields[updatedAtField]

	length, err := a.client.XLen(opCtx, a.streamKey()).Result()
	if err != nil {
		a.logger.Warn("failed to read stream length", "error", err)
	} else {
		snap.StreamLength = length
	}
	return snap
}

// usable reports whether an operation should be attempted at all. During an
// outage, attempts resume only after the cooldown elapses.
func (a *Aggregator) usable() bool {
	if a.available.Load() {
		return true
	}
	return time.Now().UnixNano() >= a.retryAt.Load()
}

// fail records an outage. The warning is logged only on the transition so a
// dead backend does not storm the logs. Non-network errors (bad script, type
// mismatch) still back off but are logged individually since they indicate a
// bug rather than an outage.
func (a *Aggregator) fail(op string, err error) {
	a.retryAt.Store(time.Now().Add(a.opts.Cooldown).UnixNano())
	if !isNetworkError(err) {
		a.logger.Warn("aggregator operation failed", "op", op, "error", err)
		a.available.Store(false)
		return
	}
	if a.available.CompareAndSwap(true, false) {
		a.logger.Warn("aggregator unavailable, continuing local-only", "op", op, "error", err)
	}
}

func (a *Aggregator) recover() {
	if a.available.CompareAndSwap(false, true) {
		a.logger.Info("aggregator connection recovered")
	}
}

func (a *Aggregator) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.opts.OpTimeout)
}

func (a *Aggregator) statsKey() string  { return a.opts.KeyPrefix + statsKeySuffix }
func (a *Aggregator) streamKey() string { return a.opts.KeyPrefix + streamKeySuffix }
func (a *Aggregator) lockKey() string   { return a.opts.KeyPrefix + lockKeySuffix }
func (a *Aggregator) rateKey(key string) string {
	return a.opts.KeyPrefix + rateKeyInfix + key
}

func statsFromHash(fields map[string]string) domain.Stats {
	get := func(name string) int64 {
		n, _ := strconv.ParseInt(fields[name], 10, 64)
		return n
	}
	return domain.Stats{
		Accepted:             get(domain.StatAccepted),
		DroppedDisabled:      get(domain.StatDroppedDisabled),
		DroppedInvalid:       get(domain.StatDroppedInvalid),
		DroppedRateLimited:   get(domain.StatDroppedRateLimited),
		DroppedQueueOverflow: get(domain.StatDroppedQueueOverflow),
		Flushed:              get(domain.StatFlushed),
		WriteErrors:          get(domain.StatWriteErrors),
		LoggerErrors:         get(domain.StatLoggerErrors),
		Rotations:            get(domain.StatRotations),
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, redis.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
