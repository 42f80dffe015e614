package domain

import (
	"context"
	"time"
)

// LogWriter is the durable sink for flushed batches. A payload is one or more
// newline-terminated JSON records written as a single ordered write.
type LogWriter interface {
	// WriteBatch appends the payload to the live log file, rotating first if
	// the size threshold would be crossed. rotated reports whether a rotation
	// happened on this call.
	WriteBatch(ctx context.Context, payload []byte) (rotated bool, err error)
}

// RotationLocker is the cross-instance mutual exclusion used when several
// processes share one storage backend.
type RotationLocker interface {
	// AcquireRotationLock attempts the distributed lock and returns a release
	// token. acquired is false when another instance holds the lock; ok is
	// false when the locking backend is unavailable.
	AcquireRotationLock(ctx context.Context, ttl time.Duration) (token string, acquired, ok bool)

	// ReleaseRotationLock releases the lock if token still owns it.
	ReleaseRotationLock(ctx context.Context, token string)
}

// Aggregator is the optional distributed layer shared by all instances.
// Every method is best-effort: implementations apply their own timeouts and
// report unavailability instead of blocking or returning errors. The
// subsystem must be fully functional with a nil Aggregator.
type Aggregator interface {
	RotationLocker

	// IncrStat atomically increments one cluster-wide counter field.
	IncrStat(ctx context.Context, field string, delta int64)

	// AppendEvent pushes an accepted event onto the replicated stream,
	// fire-and-forget.
	AppendEvent(ctx context.Context, event EventRecord)

	// AllowRate runs the distributed fixed-window check for key. ok reports
	// whether the backend could answer at all; callers fail open when false.
	AllowRate(ctx context.Context, key string, window time.Duration, max int64) (allowed, ok bool)

	// Snapshot reads the cluster-wide counters and stream length.
	Snapshot(ctx context.Context) GlobalSnapshot

	// Connected reports whether the last operation found the backend healthy.
	Connected() bool
}
