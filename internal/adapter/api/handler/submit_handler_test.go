package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hczdngr/xinchat-eventlog/internal/adapter/repository/logfile"
	"github.com/hczdngr/xinchat-eventlog/internal/adapter/repository/statefile"
	"github.com/hczdngr/xinchat-eventlog/internal/domain"
	"github.com/hczdngr/xinchat-eventlog/internal/usecase"
)

func newTestEventLogger(t *testing.T) (*usecase.EventLogger, string) {
	t.Helper()
	dir := t.TempDir()
	logPath := filepath.Join(dir, "events.ndjson")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w, err := logfile.NewWriter(logfile.Options{
		Path:       logPath,
		ArchiveDir: filepath.Join(dir, "archive"),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to create writer: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	store := statefile.NewStore(filepath.Join(dir, "state.json"), "handler-test", 5*time.Millisecond, logger)
	el := usecase.NewEventLogger(w, store, nil, nil, logger, usecase.Options{
		InstanceID:    "handler-test",
		FlushInterval: 20 * time.Millisecond,
	})
	return el, logPath
}

func TestSubmitHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("Accepts Valid Event", func(t *testing.T) {
		el, _ := newTestEventLogger(t)
		h := NewSubmitHandler(el, logger, 1<<16)

		req := httptest.NewRequest("POST", "/v1/events", strings.NewReader(`{"eventType":"click","actorUid":7}`))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != 200 {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
		var res domain.SubmitResult
		if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
			t.Fatalf("bad response body: %v", err)
		}
		if !res.Accepted || res.ID == "" {
			t.Errorf("expected acceptance with id, got %+v", res)
		}
	})

	t.Run("Malformed Body Counts As Invalid", func(t *testing.T) {
		el, _ := newTestEventLogger(t)
		h := NewSubmitHandler(el, logger, 1<<16)

		req := httptest.NewRequest("POST", "/v1/events", strings.NewReader("{not json"))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if rr.Code != 200 {
			t.Fatalf("submission must always resolve, got %d", rr.Code)
		}
		var res domain.SubmitResult
		if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
			t.Fatalf("bad response body: %v", err)
		}
		if res.Accepted || res.Reason != domain.DropInvalidEvent {
			t.Errorf("expected invalid_event, got %+v", res)
		}
	})

	t.Run("Fills Provenance From Request", func(t *testing.T) {
		el, logPath := newTestEventLogger(t)
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			el.Run(ctx)
			close(done)
		}()
		defer func() {
			cancel()
			<-done
		}()

		h := NewSubmitHandler(el, logger, 1<<16)
		req := httptest.NewRequest("POST", "/v1/events", strings.NewReader(`{"eventType":"reply","actorUid":1002,"path":"/send"}`))
		req.Header.Set("User-Agent", "test-agent")
		req.Header.Set("X-Request-ID", "req-123")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if err := el.Flush(context.Background()); err != nil {
			t.Fatalf("flush failed: %v", err)
		}

		data, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatalf("failed to read log: %v", err)
		}
		var rec domain.EventRecord
		line := strings.TrimSpace(string(data))
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		if rec.UserAgent != "test-agent" || rec.RequestID != "req-123" || rec.Method != "POST" {
			t.Errorf("provenance not filled: %+v", rec)
		}
		// Caller-supplied path wins over the transport path.
		if rec.Path != "/send" {
			t.Errorf("expected caller path preserved, got %q", rec.Path)
		}
		if rec.IP == "" {
			t.Error("expected client ip recorded")
		}
	})
}

func TestStatsHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	el, _ := newTestEventLogger(t)
	h := NewStatsHandler(el, logger)

	req := httptest.NewRequest("GET", "/v1/stats", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var snap domain.StatsSnapshot
	if err := json.Unmarshal(rr.Body.Bytes(), &snap); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if !snap.Enabled || snap.InstanceID != "handler-test" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}
