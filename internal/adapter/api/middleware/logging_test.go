package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLogging(t *testing.T) {
	t.Run("Records Status And Size", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("missing"))
		}))

		req := httptest.NewRequest("GET", "/v1/nope", nil)
		req.Header.Set("X-Request-ID", "req-9")
		h.ServeHTTP(httptest.NewRecorder(), req)

		line := buf.String()
		for _, want := range []string{"status=404", "bytes=7", "request_id=req-9", "path=/v1/nope"} {
			if !strings.Contains(line, want) {
				t.Errorf("access log missing %q: %s", want, line)
			}
		}
	})

	t.Run("Implicit OK Without WriteHeader", func(t *testing.T) {
		var buf bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&buf, nil))

		h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))

		if !strings.Contains(buf.String(), "status=200") {
			t.Errorf("expected implicit 200 logged: %s", buf.String())
		}
	})
}
