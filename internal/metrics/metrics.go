package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		RelayRequests, DedupSuppressed,
		StreamDuration, SlackUpdates,
		KnowledgeDocuments,
	)
}

// RelayRequests counts handled questions by outcome.
var RelayRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relay_requests_total",
		Help: "Questions relayed to Dify, by outcome",
	},
	[]string{"outcome"}, // answered | failed | form
)

var DedupSuppressed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "relay_dedup_suppressed_total",
		Help: "Slack events dropped as duplicate deliveries",
	},
)

var StreamDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "relay_stream_duration_seconds",
		Help:    "Time from question to final answer",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
	},
)

var SlackUpdates = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "relay_slack_updates_total",
		Help: "chat.update calls made while streaming answers",
	},
)

var KnowledgeDocuments = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "knowledge_documents_total",
		Help: "Dataset document operations, by action",
	},
	[]string{"action"}, // created | skipped | deleted | failed
)

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}
