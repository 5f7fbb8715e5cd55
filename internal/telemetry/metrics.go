package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status label values.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

var (
	pipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_pipeline_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"status"},
	)

	pipelineDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "council_pipeline_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"},
	)

	stageExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_stage_executions_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage", "status"},
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "council_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	backendCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_backend_calls_total",
			Help: "Total number of generation backend calls",
		},
		[]string{"backend", "model", "mode", "status"},
	)

	backendDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "council_backend_duration_seconds",
			Help:    "Generation backend call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"backend", "model"},
	)

	conversationTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "council_conversation_turns_total",
			Help: "Total number of conversation turns by mode",
		},
		[]string{"mode", "status"},
	)

	runsStoredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "council_runs_stored_total",
			Help: "Total number of completed runs written to the run log",
		},
	)
)

// RecordPipelineRun records the outcome of one pipeline run.
func RecordPipelineRun(status string, d time.Duration) {
	pipelineRunsTotal.WithLabelValues(status).Inc()
	pipelineDurationSeconds.WithLabelValues(status).Observe(d.Seconds())
}

// RecordStage records one stage execution.
func RecordStage(stage, status string, d time.Duration) {
	stageExecutionsTotal.WithLabelValues(stage, status).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordBackendCall records one generation backend call. mode is "generate"
// or "stream".
func RecordBackendCall(backend, model, mode, status string, d time.Duration) {
	backendCallsTotal.WithLabelValues(backend, model, mode, status).Inc()
	backendDurationSeconds.WithLabelValues(backend, model).Observe(d.Seconds())
}

// RecordConversationTurn records a routed conversation turn.
func RecordConversationTurn(mode, status string) {
	conversationTurnsTotal.WithLabelValues(mode, status).Inc()
}

// RecordRunStored counts a run written to the run log.
func RecordRunStored() {
	runsStoredTotal.Inc()
}

// MetricsHandler exposes the default Prometheus registry.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
