// Package metrics exposes the Prometheus collectors recorded by the engine.
// Collectors are registered on the default registry at init time.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn metrics
	TurnsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "markgraph_turns_started_total",
			Help: "Total number of turns started",
		},
	)

	TurnsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markgraph_turns_completed_total",
			Help: "Total number of turns finished, by final status",
		},
		[]string{"status"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "markgraph_turn_duration_seconds",
			Help:    "Turn execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Graph metrics
	NodeExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markgraph_node_executions_total",
			Help: "Total number of graph node executions",
		},
		[]string{"node", "status"},
	)

	// Tool metrics
	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markgraph_tool_calls_total",
			Help: "Total number of tool invocations",
		},
		[]string{"tool", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "markgraph_tool_duration_seconds",
			Help:    "Tool execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markgraph_tool_cache_hits_total",
			Help: "Total number of tool calls served from the result cache",
		},
		[]string{"tool"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markgraph_tool_cache_misses_total",
			Help: "Total number of tool calls not found in the result cache",
		},
		[]string{"tool"},
	)

	Evictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markgraph_tool_result_evictions_total",
			Help: "Total number of oversized tool results replaced by a preview",
		},
		[]string{"tool"},
	)

	// Guard metrics
	LoopDetections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "markgraph_loop_detections_total",
			Help: "Total number of suppressed repeated tool batches",
		},
	)

	Approvals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markgraph_approvals_total",
			Help: "Approval gate outcomes",
		},
		[]string{"outcome"}, // requested, approved, rejected
	)

	// Model metrics
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markgraph_model_calls_total",
			Help: "Total number of model invocations",
		},
		[]string{"agent", "status"},
	)

	ModelRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markgraph_model_retries_total",
			Help: "Total number of model call retries after transient failures",
		},
		[]string{"agent"},
	)

	// Checkpoint metrics
	CheckpointErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "markgraph_checkpoint_errors_total",
			Help: "Total number of failed checkpoint operations",
		},
		[]string{"operation"},
	)
)

// RecordToolCall records the outcome and latency of one tool execution.
func RecordToolCall(tool string, failed bool, d time.Duration) {
	status := "success"
	if failed {
		status = "error"
	}
	ToolCalls.WithLabelValues(tool, status).Inc()
	ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// RecordNode records one graph node execution.
func RecordNode(node string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	NodeExecutions.WithLabelValues(node, status).Inc()
}

// RecordTurn records the end of a turn.
func RecordTurn(status string, d time.Duration) {
	TurnsCompleted.WithLabelValues(status).Inc()
	TurnDuration.Observe(d.Seconds())
}
