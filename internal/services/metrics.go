package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Chat metrics
	ChatRequests       prometheus.Counter
	ChatRequestLatency prometheus.Histogram
	ChatErrors         *prometheus.CounterVec

	// Tool loop metrics
	ToolExecutions *prometheus.CounterVec
	LoopIterations prometheus.Histogram

	// Prompt cache metrics
	CacheBreakpoints *prometheus.CounterVec
}

var globalMetrics *Metrics

// InitMetrics initializes the Prometheus metrics
func InitMetrics() *Metrics {
	metrics := &Metrics{
		ChatRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "companion_chat_requests_total",
			Help: "Total number of chat requests processed",
		}),

		ChatRequestLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_chat_request_duration_seconds",
			Help:    "Chat request latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}, // up to 2 minutes for LLM responses
		}),

		ChatErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_chat_errors_total",
			Help: "Total number of chat errors by type",
		}, []string{"error_type"}),

		ToolExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_tool_executions_total",
			Help: "Total number of tool executions by tool name and status",
		}, []string{"tool", "status"}),

		LoopIterations: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "companion_tool_loop_iterations",
			Help:    "Number of model iterations per chat request",
			Buckets: []float64{1, 2, 3},
		}),

		CacheBreakpoints: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "companion_cache_breakpoints_total",
			Help: "Cache breakpoint decisions by outcome (reused, minted, skipped)",
		}, []string{"outcome"}),
	}

	globalMetrics = metrics
	return metrics
}

// GetMetrics returns the global metrics instance (nil if not initialized)
func GetMetrics() *Metrics {
	return globalMetrics
}
