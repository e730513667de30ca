package metrics

import "github.com/prometheus/client_golang/prometheus"

// Read- and write-path pipeline metrics.
var (
	IngestedChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jarvis",
			Name:      "ingested_chunks_total",
			Help:      "Total chunks ingested into the index",
		},
		[]string{"status"}, // "ok" / "error"
	)

	RetrievalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jarvis",
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval (embed + search + rerank) duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"model"},
	)

	RetrievalResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jarvis",
			Name:      "retrieval_results_total",
			Help:      "Retrieval outcomes by kind",
		},
		[]string{"outcome"}, // "hit" / "empty" / "error"
	)

	GenerationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jarvis",
			Name:      "generation_requests_total",
			Help:      "Total language-model generation requests",
		},
		[]string{"model", "status"},
	)

	GenerationRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jarvis",
			Name:      "generation_request_duration_seconds",
			Help:      "Language-model generation duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)

	GenerationRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jarvis",
			Name:      "generation_retries_total",
			Help:      "Transient generation failures that were retried",
		},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers ingestion, retrieval, and generation
// metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(IngestedChunksTotal)
	prometheus.MustRegister(RetrievalDuration)
	prometheus.MustRegister(RetrievalResultsTotal)
	prometheus.MustRegister(GenerationRequestsTotal)
	prometheus.MustRegister(GenerationRequestDuration)
	prometheus.MustRegister(GenerationRetriesTotal)
	pipelineMetricsRegistered = true
}
