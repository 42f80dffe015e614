package handler

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/hczdngr/xinchat-eventlog/internal/domain"
	"github.com/hczdngr/xinchat-eventlog/internal/usecase"
)

// SubmitHandler accepts event submissions over HTTP. It mirrors the
// submission contract: the response is always a SubmitResult, never an
// error status for a gated drop.
type SubmitHandler struct {
	eventLogger  *usecase.EventLogger
	logger       *slog.Logger
	maxEventSize int64
}

// NewSubmitHandler creates a SubmitHandler.
func NewSubmitHandler(el *usecase.EventLogger, logger *slog.Logger, maxEventSize int64) *SubmitHandler {
	return &SubmitHandler{
		eventLogger:  el,
		logger:       logger,
		maxEventSize: maxEventSize,
	}
}

// ServeHTTP decodes the payload, fills provenance from the request where the
// caller left it blank, and submits.
func (h *SubmitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxEventSize)

	var in domain.EventInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		// An unreadable payload goes through the same pipeline as any other
		// invalid event; the empty input fails type validation and is
		// counted as an invalid drop.
		h.logger.Debug("undecodable event payload", "error", err)
		in = domain.EventInput{}
	}

	if in.IP == "" {
		in.IP = clientIP(r)
	}
	if in.UserAgent == "" {
		in.UserAgent = r.UserAgent()
	}
	if in.RequestID == "" {
		in.RequestID = r.Header.Get("X-Request-ID")
	}
	if in.Method == "" {
		in.Method = r.Method
	}
	if in.Path == "" {
		in.Path = r.URL.Path
	}

	result := h.eventLogger.Submit(r.Context(), in)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		h.logger.Warn("failed to write submit response", "error", err)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
