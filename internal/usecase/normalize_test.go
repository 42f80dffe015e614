package usecase

import (
	"strings"
	"testing"
	"time"

	"github.com/hczdngr/xinchat-eventlog/internal/domain"
)

func normalizer() *EventLogger {
	return &EventLogger{
		opts: Options{InstanceID: "norm-test"},
		now:  time.Now,
	}
}

func TestNormalize(t *testing.T) {
	l := normalizer()

	t.Run("Event Type Is Case Insensitive", func(t *testing.T) {
		rec, ok := l.normalize(domain.EventInput{EventType: "  REPLY "})
		if !ok {
			t.Fatal("expected trimmed, lowercased type to validate")
		}
		if rec.EventType != domain.EventReply {
			t.Errorf("expected reply, got %q", rec.EventType)
		}
	})

	t.Run("Unknown Type Rejected", func(t *testing.T) {
		if _, ok := l.normalize(domain.EventInput{EventType: "telemetry"}); ok {
			t.Error("unknown event types must be rejected")
		}
		if _, ok := l.normalize(domain.EventInput{}); ok {
			t.Error("empty event type must be rejected")
		}
	})

	t.Run("Negative UIDs Become Absent", func(t *testing.T) {
		rec, _ := l.normalize(domain.EventInput{EventType: "click", ActorUID: -5, TargetUID: -1})
		if rec.ActorUID != 0 || rec.TargetUID != 0 {
			t.Errorf("expected coerced uids, got actor=%d target=%d", rec.ActorUID, rec.TargetUID)
		}
	})

	t.Run("Free Text Is Truncated", func(t *testing.T) {
		rec, _ := l.normalize(domain.EventInput{
			EventType: "report",
			Reason:    strings.Repeat("r", 1000),
			UserAgent: strings.Repeat("u", 1000),
		})
		if len(rec.Reason) != maxTextLen {
			t.Errorf("expected reason capped at %d, got %d", maxTextLen, len(rec.Reason))
		}
		if len(rec.UserAgent) != maxUserAgentLen {
			t.Errorf("expected user agent capped at %d, got %d", maxUserAgentLen, len(rec.UserAgent))
		}
	})

	t.Run("Lists Are Deduplicated And Capped", func(t *testing.T) {
		evidence := make([]string, 40)
		for i := range evidence {
			evidence[i] = "item"
		}
		rec, _ := l.normalize(domain.EventInput{EventType: "report", Evidence: evidence, Tags: []string{"a", "a", "b"}})
		if len(rec.Evidence) != 1 {
			t.Errorf("expected duplicates collapsed, got %v", rec.Evidence)
		}
		if len(rec.Tags) != 2 {
			t.Errorf("expected deduped tags, got %v", rec.Tags)
		}
	})

	t.Run("Valid Timestamp Preserved In UTC", func(t *testing.T) {
		rec, _ := l.normalize(domain.EventInput{EventType: "mute", Timestamp: "2026-01-02T03:04:05+02:00"})
		if rec.Timestamp != "2026-01-02T01:04:05Z" {
			t.Errorf("expected UTC re-encoding, got %q", rec.Timestamp)
		}
	})

	t.Run("Bad Timestamp Defaults To Admission Time", func(t *testing.T) {
		fixed := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
		l := normalizer()
		l.now = func() time.Time { return fixed }
		rec, _ := l.normalize(domain.EventInput{EventType: "mute", Timestamp: "yesterday-ish"})
		if rec.Timestamp != "2026-08-31T12:00:00Z" {
			t.Errorf("expected admission time, got %q", rec.Timestamp)
		}
	})

	t.Run("Method Uppercased And Instance Stamped", func(t *testing.T) {
		rec, _ := l.normalize(domain.EventInput{EventType: "impression", Method: "post"})
		if rec.Method != "POST" {
			t.Errorf("expected POST, got %q", rec.Method)
		}
		if rec.InstanceID != "norm-test" {
			t.Errorf("expected instance id stamped, got %q", rec.InstanceID)
		}
		if rec.ID == "" {
			t.Error("expected generated id")
		}
	})
}
