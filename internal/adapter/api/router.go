package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hczdngr/xinchat-eventlog/internal/adapter/api/handler"
	"github.com/hczdngr/xinchat-eventlog/internal/usecase"
)

// NewRouter creates the HTTP surface for the event log daemon.
func NewRouter(el *usecase.EventLogger, logger *slog.Logger, maxEventSize int64) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /v1/events", handler.NewSubmitHandler(el, logger, maxEventSize))
	mux.Handle("GET /v1/stats", handler.NewStatsHandler(el, logger))
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return mux
}
