package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/hczdngr/xinchat-eventlog/internal/usecase"
)

// StatsHandler serves the merged local/global stats snapshot.
type StatsHandler struct {
	eventLogger *usecase.EventLogger
	logger      *slog.Logger
}

// NewStatsHandler creates a StatsHandler.
func NewStatsHandler(el *usecase.EventLogger, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{eventLogger: el, logger: logger}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := h.eventLogger.Stats(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		h.logger.Warn("failed to write stats response", "error", err)
	}
}
