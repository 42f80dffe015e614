package usecase

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hczdngr/xinchat-eventlog/internal/domain"
	"github.com/hczdngr/xinchat-eventlog/internal/sanitize"
)

// Field caps keep individual log lines bounded regardless of what callers
// send.
const (
	maxTextLen      = 256
	maxListItems    = 16
	maxListItemLen  = 128
	maxMethodLen    = 16
	maxIPLen        = 64
	maxUserAgentLen = 256
)

// normalize shapes untrusted input into a canonical record. ok is false when
// the event type is not in the closed set; everything else is coerced or
// truncated rather than rejected.
func (l *EventLogger) normalize(in domain.EventInput) (domain.EventRecord, bool) {
	eventType, ok := domain.ParseEventType(in.EventType)
	if !ok {
		return domain.EventRecord{}, false
	}

	rec := domain.EventRecord{
		ID:         uuid.NewString(),
		EventType:  eventType,
		ActorUID:   coerceUID(in.ActorUID),
		TargetUID:  coerceUID(in.TargetUID),
		TargetType: sanitize.Truncate(in.TargetType, maxTextLen),
		Reason:     sanitize.Truncate(in.Reason, maxTextLen),
		Evidence:   sanitize.Strings(in.Evidence, maxListItems, maxListItemLen),
		Tags:       sanitize.Strings(in.Tags, maxListItems, maxListItemLen),
		Metadata:   sanitize.Map(in.Metadata),
		Source:     sanitize.Truncate(in.Source, maxTextLen),
		RequestID:  sanitize.Truncate(in.RequestID, maxTextLen),
		Method:     strings.ToUpper(sanitize.Truncate(in.Method, maxMethodLen)),
		Path:       sanitize.Truncate(in.Path, maxTextLen),
		IP:         sanitize.Truncate(in.IP, maxIPLen),
		UserAgent:  sanitize.Truncate(in.UserAgent, maxUserAgentLen),
		Timestamp:  normalizeTimestamp(in.Timestamp, l.now()),
		InstanceID: l.opts.InstanceID,
	}
	return rec, true
}

// coerceUID treats anything that is not a positive integer as "absent".
func coerceUID(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// normalizeTimestamp keeps a parseable caller timestamp (re-encoded in UTC)
// and defaults to admission time otherwise.
func normalizeTimestamp(s string, now time.Time) string {
	s = strings.TrimSpace(s)
	if s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return now.UTC().Format(time.RFC3339)
}
