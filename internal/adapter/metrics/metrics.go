package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventLogMetrics holds all Prometheus metrics for the event log subsystem.
type EventLogMetrics struct {
	SubmissionsTotal *prometheus.CounterVec
	FlushedTotal     prometheus.Counter
	WriteErrorsTotal prometheus.Counter
	RotationsTotal   prometheus.Counter
	QueueLength      prometheus.Gauge
	AggregatorUp     prometheus.Gauge
}

// NewEventLogMetrics initializes and registers the metrics on the default
// registry. Register once per process.
func NewEventLogMetrics() *EventLogMetrics {
	return &EventLogMetrics{
		SubmissionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "eventlog",
			Subsystem: "submit",
			Name:      "submissions_total",
			Help:      "Total submissions by result.",
		}, []string{"result"}), // result: accepted, disabled, invalid_event, rate_limited, queue_overflow
		FlushedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "eventlog",
			Subsystem: "flush",
			Name:      "events_flushed_total",
			Help:      "Total events durably written to the log file.",
		}),
		WriteErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "eventlog",
			Subsystem: "flush",
			Name:      "write_errors_total",
			Help:      "Total batch write failures after retries.",
		}),
		RotationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "eventlog",
			Subsystem: "rotate",
			Name:      "rotations_total",
			Help:      "Total log file rotations.",
		}),
		QueueLength: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventlog",
			Subsystem: "queue",
			Name:      "length",
			Help:      "Events currently buffered in the queue.",
		}),
		AggregatorUp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventlog",
			Subsystem: "aggregator",
			Name:      "up",
			Help:      "Whether the distributed aggregator is reachable (1 or 0).",
		}),
	}
}
