package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks RFQ lifecycle transitions by resulting status.
	RfqTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_transitions_total",
			Help: "Total number of RFQ state transitions (by target status).",
		},
		[]string{"status"}, // OPEN | FILLED | EXPIRED | CANCELLED
	)

	// Tracks quote submissions by outcome.
	QuotesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_quotes_total",
			Help: "Total number of maker quotes received (by result).",
		},
		[]string{"result"}, // accepted | <rejection reason>
	)

	// Tracks fill attempts by outcome.
	FillsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_fills_total",
			Help: "Total number of fill attempts (by result).",
		},
		[]string{"result"}, // success | rejected
	)

	// Gauges the number of authenticated maker connections.
	ConnectedMakers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rfq_connected_makers",
			Help: "Number of currently authenticated maker connections.",
		},
	)

	// Tracks outbound maker messages by type and result.
	MakerMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_maker_messages_total",
			Help: "Outbound messages to makers (by type and result).",
		},
		[]string{"type", "result"}, // result = "queued" | "dropped"
	)

	// Tracks security log entries.
	SecurityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_security_events_total",
			Help: "Security events recorded (by type and level).",
		},
		[]string{"type", "level"},
	)

	// Measures lifecycle event sink publish latency.
	SinkLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rfq_sink_publish_duration_seconds",
			Help:    "Time taken to deliver a lifecycle event to a sink.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"sink"},
	)

	// Counts lifecycle events delivered to each sink.
	SinkEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_sink_events_total",
			Help: "Lifecycle events handed to downstream sinks by result.",
		},
		[]string{"sink", "event_type", "result"},
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rfq_router_errors_total",
			Help: "Count of router-level errors by component.",
		},
		[]string{"component", "reason"},
	)
)

// ObserveDuration records the time elapsed since start on a histogram.
func ObserveDuration(h *prometheus.HistogramVec, start time.Time, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}

func IncTransition(status string) {
	RfqTransitions.WithLabelValues(status).Inc()
}

func IncQuote(result string) {
	QuotesTotal.WithLabelValues(result).Inc()
}

func IncFill(result string) {
	FillsTotal.WithLabelValues(result).Inc()
}

func IncMakerMessage(msgType, result string) {
	MakerMessages.WithLabelValues(msgType, result).Inc()
}

func IncSecurityEvent(eventType, level string) {
	SecurityEvents.WithLabelValues(eventType, level).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func SetConnectedMakers(n int) {
	ConnectedMakers.Set(float64(n))
}

func IncSinkEvent(sink, eventType, result string) {
	SinkEvents.WithLabelValues(sink, eventType, result).Inc()
}
