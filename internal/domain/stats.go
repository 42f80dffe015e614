package domain

import (
	"sync/atomic"
	"time"
)

// Stat field names, shared between the local counter set and the global
// aggregator's hash fields.
const (
	StatAccepted             = "accepted"
	StatDroppedDisabled      = "droppedDisabled"
	StatDroppedInvalid       = "droppedInvalid"
	StatDroppedRateLimited   = "droppedRateLimited"
	StatDroppedQueueOverflow = "droppedQueueOverflow"
	StatFlushed              = "flushed"
	StatWriteErrors          = "writeErrors"
	StatLoggerErrors         = "loggerErrors"
	StatRotations            = "rotations"
)

// Stats is the flat monotonic counter set persisted to the state file and
// reported through the stats surface.
type Stats struct {
	Accepted             int64  `json:"accepted"`
	DroppedDisabled      int64  `json:"droppedDisabled"`
	DroppedInvalid       int64  `json:"droppedInvalid"`
	DroppedRateLimited   int64  `json:"droppedRateLimited"`
	DroppedQueueOverflow int64  `json:"droppedQueueOverflow"`
	Flushed              int64  `json:"flushed"`
	WriteErrors          int64  `json:"writeErrors"`
	LoggerErrors         int64  `json:"loggerErrors"`
	Rotations            int64  `json:"rotations"`
	LastAcceptedAt       string `json:"lastAcceptedAt,omitempty"`
	LastFlushedAt        string `json:"lastFlushedAt,omitempty"`
}

// Counters is the live view of Stats. Admission runs on caller goroutines
// while flushing runs on the worker, so every field is an atomic rather than
// a mutex-guarded struct.
type Counters struct {
	Accepted             atomic.Int64
	DroppedDisabled      atomic.Int64
	DroppedInvalid       atomic.Int64
	DroppedRateLimited   atomic.Int64
	DroppedQueueOverflow atomic.Int64
	Flushed              atomic.Int64
	WriteErrors          atomic.Int64
	LoggerErrors         atomic.Int64
	Rotations            atomic.Int64

	lastAcceptedAt atomic.Int64 // unix nanos, 0 = never
	lastFlushedAt  atomic.Int64
}

// MarkAccepted stamps the last-accepted timestamp.
func (c *Counters) MarkAccepted(t time.Time) { c.lastAcceptedAt.Store(t.UnixNano()) }

// MarkFlushed stamps the last-flushed timestamp.
func (c *Counters) MarkFlushed(t time.Time) { c.lastFlushedAt.Store(t.UnixNano()) }

// Snapshot returns a point-in-time copy of all counters.
func (c *Counters) Snapshot() Stats {
	return Stats{
		Accepted:             c.Accepted.Load(),
		DroppedDisabled:      c.DroppedDisabled.Load(),
		DroppedInvalid:       c.DroppedInvalid.Load(),
		DroppedRateLimited:   c.DroppedRateLimited.Load(),
		DroppedQueueOverflow: c.DroppedQueueOverflow.Load(),
		Flushed:              c.Flushed.Load(),
		WriteErrors:          c.WriteErrors.Load(),
		LoggerErrors:         c.LoggerErrors.Load(),
		Rotations:            c.Rotations.Load(),
		LastAcceptedAt:       formatStamp(c.lastAcceptedAt.Load()),
		LastFlushedAt:        formatStamp(c.lastFlushedAt.Load()),
	}
}

// Restore seeds the counters from a persisted snapshot. Used once, at
// startup, before any concurrent access.
func (c *Counters) Restore(s Stats) {
	c.Accepted.Store(s.Accepted)
	c.DroppedDisabled.Store(s.DroppedDisabled)
	c.DroppedInvalid.Store(s.DroppedInvalid)
	c.DroppedRateLimited.Store(s.DroppedRateLimited)
	c.DroppedQueueOverflow.Store(s.DroppedQueueOverflow)
	c.Flushed.Store(s.Flushed)
	c.WriteErrors.Store(s.WriteErrors)
	c.LoggerErrors.Store(s.LoggerErrors)
	c.Rotations.Store(s.Rotations)
	c.lastAcceptedAt.Store(parseStamp(s.LastAcceptedAt))
	c.lastFlushedAt.Store(parseStamp(s.LastFlushedAt))
}

func formatStamp(nanos int64) string {
	if nanos == 0 {
		return ""
	}
	return time.Unix(0, nanos).UTC().Format(time.RFC3339)
}

func parseStamp(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0
	}
	return t.UnixNano()
}

// GlobalSnapshot is the advisory cluster-wide view read from the aggregator.
// Stats is nil when the aggregator could not be reached.
type GlobalSnapshot struct {
	Stats        *Stats `json:"stats"`
	StreamLength int64  `json:"streamLength"`
	Connected    bool   `json:"connected"`
	UpdatedAt    string `json:"updatedAt,omitempty"`
}

// LimitsSnapshot reports the configured thresholds through the stats surface.
type LimitsSnapshot struct {
	QueueCapacity   int           `json:"queueCapacity"`
	FlushInterval   time.Duration `json:"flushInterval"`
	FlushBatchSize  int           `json:"flushBatchSize"`
	RateWindow      time.Duration `json:"rateWindow"`
	RateMax         int64         `json:"rateMax"`
	RotateMaxBytes  int64         `json:"rotateMaxBytes"`
	ArchiveMaxFiles int           `json:"archiveMaxFiles"`
}

// StatsSnapshot is the merged read surface for operators: local truth plus
// the advisory global view.
type StatsSnapshot struct {
	Enabled     bool            `json:"enabled"`
	InstanceID  string          `json:"instanceId"`
	QueueLength int             `json:"queueLength"`
	Flushing    bool            `json:"flushing"`
	Limits      LimitsSnapshot  `json:"limits"`
	Local       Stats           `json:"local"`
	Global      *GlobalSnapshot `json:"global,omitempty"`
}
