package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	WAIncomingMessages  *prometheus.CounterVec
	WAOutgoingMessages  *prometheus.CounterVec
	SessionEvents       *prometheus.CounterVec
	SessionReconnects   prometheus.Counter
	GateDecisions       *prometheus.CounterVec
	BroadcastRecipients *prometheus.CounterVec
	GeminiRequests      *prometheus.CounterVec
	GeminiLatency       *prometheus.HistogramVec
	Errors              *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			WAIncomingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wa_incoming_messages_total",
				Help:      "Total incoming WhatsApp messages processed.",
			}, []string{"type"}),
			WAOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wa_outgoing_messages_total",
				Help:      "Total outgoing WhatsApp messages sent.",
			}, []string{"type"}),
			SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_events_total",
				Help:      "Session lifecycle events by kind.",
			}, []string{"event"}),
			SessionReconnects: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_reconnect_attempts_total",
				Help:      "Reconnection attempts scheduled after unexpected closes.",
			}),
			GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "send_gate_decisions_total",
				Help:      "Send gate outcomes by decision.",
			}, []string{"decision"}),
			BroadcastRecipients: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "broadcast_recipients_total",
				Help:      "Broadcast recipient outcomes.",
			}, []string{"outcome"}),
			GeminiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gemini_requests_total",
				Help:      "Total Gemini API requests by outcome.",
			}, []string{"status"}),
			GeminiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gemini_request_duration_seconds",
				Help:      "Latency distribution for Gemini API calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.WAIncomingMessages,
			metricsInstance.WAOutgoingMessages,
			metricsInstance.SessionEvents,
			metricsInstance.SessionReconnects,
			metricsInstance.GateDecisions,
			metricsInstance.BroadcastRecipients,
			metricsInstance.GeminiRequests,
			metricsInstance.GeminiLatency,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
