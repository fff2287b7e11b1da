package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgpt_http_requests_total",
			Help: "Total number of HTTP requests by matched route.",
		},
		[]string{"method", "route", "status"},
	)
	// Process and refine wait on the language model, so the buckets run
	// well past the client defaults.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlgpt_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"method", "route", "status"},
	)

	llmCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgpt_llm_calls_total",
			Help: "Total number of LLM completion calls by pipeline stage and outcome.",
		},
		[]string{"stage", "outcome"},
	)
	llmCallLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlgpt_llm_call_latency_seconds",
			Help:    "LLM completion latency including retries.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 120},
		},
		[]string{"stage"},
	)
	llmRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgpt_llm_retries_total",
			Help: "Total number of retried LLM attempts after a transient failure.",
		},
		[]string{"stage"},
	)
	statementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgpt_statements_total",
			Help: "Total number of executed SQL statements by query type and outcome.",
		},
		[]string{"query_type", "outcome"},
	)
	statementLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlgpt_statement_latency_ms",
			Help:    "SQL statement execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
	)
	scriptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgpt_deployment_scripts_total",
			Help: "Total number of generated deployment scripts by layout.",
		},
		[]string{"layout"},
	)
	archivedObjectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgpt_archived_objects_total",
			Help: "Total number of objects written to the archive store by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlgpt_auth_failures_total",
			Help: "Total number of rejected API requests by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		llmCallsTotal,
		llmCallLatencySeconds,
		llmRetriesTotal,
		statementsTotal,
		statementLatencyMs,
		scriptsTotal,
		archivedObjectsTotal,
		authFailuresTotal,
	)
}

func ObserveLLMCall(stage, outcome string, elapsed time.Duration) {
	llmCallsTotal.WithLabelValues(stage, outcome).Inc()
	llmCallLatencySeconds.WithLabelValues(stage).Observe(elapsed.Seconds())
}

func IncrementLLMRetry(stage string) {
	llmRetriesTotal.WithLabelValues(stage).Inc()
}

func ObserveStatement(queryType, outcome string, elapsed time.Duration) {
	statementsTotal.WithLabelValues(queryType, outcome).Inc()
	statementLatencyMs.Observe(float64(elapsed.Milliseconds()))
}

func IncrementDeploymentScript(layout string) {
	scriptsTotal.WithLabelValues(layout).Inc()
}

func IncrementArchivedObject(kind, outcome string) {
	archivedObjectsTotal.WithLabelValues(kind, outcome).Inc()
}

// IncrementAuthFailure counts a rejected request. reason is one of
// missing_key, invalid_key or forbidden.
func IncrementAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}
