package domain

import "strings"

// EventType identifies one of the closed set of loggable behaviors.
type EventType string

const (
	EventImpression EventType = "impression"
	EventClick      EventType = "click"
	EventReply      EventType = "reply"
	EventMute       EventType = "mute"
	EventReport     EventType = "report"
	EventRiskHit    EventType = "risk_hit"
)

var knownEventTypes = map[EventType]bool{
	EventImpression: true,
	EventClick:      true,
	EventReply:      true,
	EventMute:       true,
	EventReport:     true,
	EventRiskHit:    true,
}

// ParseEventType normalizes a caller-supplied type string and reports whether
// it belongs to the closed set.
func ParseEventType(s string) (EventType, bool) {
	t := EventType(strings.ToLower(strings.TrimSpace(s)))
	return t, knownEventTypes[t]
}

// EventInput is the raw, untrusted payload handed to Submit. Every field is
// optional; normalization decides what survives.
type EventInput struct {
	EventType  string         `json:"eventType"`
	ActorUID   int64          `json:"actorUid"`
	TargetUID  int64          `json:"targetUid"`
	TargetType string         `json:"targetType"`
	Reason     string         `json:"reason"`
	Evidence   []string       `json:"evidence"`
	Tags       []string       `json:"tags"`
	Metadata   map[string]any `json:"metadata"`
	Source     string         `json:"source"`
	RequestID  string         `json:"requestId"`
	Method     string         `json:"method"`
	Path       string         `json:"path"`
	IP         string         `json:"ip"`
	UserAgent  string         `json:"userAgent"`
	Timestamp  string         `json:"timestamp"`
}

// EventRecord is the canonical unit written to the log. A record is immutable
// once admitted; nothing mutates it after it has been queued.
type EventRecord struct {
	ID         string         `json:"id"`
	EventType  EventType      `json:"eventType"`
	ActorUID   int64          `json:"actorUid"`
	TargetUID  int64          `json:"targetUid"`
	TargetType string         `json:"targetType,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Evidence   []string       `json:"evidence,omitempty"`
	Tags       []string       `json:"tags,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Source     string         `json:"source,omitempty"`
	RequestID  string         `json:"requestId,omitempty"`
	Method     string         `json:"method,omitempty"`
	Path       string         `json:"path,omitempty"`
	IP         string         `json:"ip,omitempty"`
	UserAgent  string         `json:"userAgent,omitempty"`
	Timestamp  string         `json:"timestamp"`
	InstanceID string         `json:"instanceId"`
}

// DropReason enumerates the non-exceptional outcomes of a submission. Drops
// are counted, never logged as errors.
type DropReason string

const (
	DropDisabled      DropReason = "disabled"
	DropInvalidEvent  DropReason = "invalid_event"
	DropRateLimited   DropReason = "rate_limited"
	DropQueueOverflow DropReason = "queue_overflow"
	DropLoggerError   DropReason = "logger_error"
)

// SubmitResult is the always-resolving outcome of Submit.
type SubmitResult struct {
	Accepted bool       `json:"accepted"`
	ID       string     `json:"id,omitempty"`
	Reason   DropReason `json:"reason,omitempty"`
}
