package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	validatorOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_validator_outcomes_total",
			Help: "Validator evaluations by validator and result (pass, warn, fail).",
		},
		[]string{"validator", "result"},
	)
	repairCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_repair_calls_total",
			Help: "Repair requests sent to the language model by category and result.",
		},
		[]string{"category", "result"},
	)
	fallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sqlpilot_fallbacks_total",
			Help: "Fallback query substitutions by reason.",
		},
		[]string{"reason"},
	)
	refinementAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlpilot_refinement_attempts",
			Help:    "Repair attempts consumed per refinement call.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 8},
		},
		[]string{"category"},
	)
	llmCallLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sqlpilot_llm_call_latency_ms",
			Help:    "Language model call latency in milliseconds by purpose.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 5000, 10000, 30000},
		},
		[]string{"purpose", "result"},
	)
	queryExecutionLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sqlpilot_query_execution_latency_ms",
			Help:    "Validated query execution latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2000, 5000, 10000},
		},
	)
	queryExecutionFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sqlpilot_query_execution_failures_total",
			Help: "Total number of queries that failed at execution after validation.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		validatorOutcomesTotal,
		repairCallsTotal,
		fallbacksTotal,
		refinementAttempts,
		llmCallLatencyMs,
		queryExecutionLatencyMs,
		queryExecutionFailuresTotal,
	)
}

func ObserveValidatorOutcome(validator string, valid bool, diagnostic string) {
	result := "pass"
	switch {
	case !valid:
		result = "fail"
	case diagnostic != "":
		result = "warn"
	}
	validatorOutcomesTotal.WithLabelValues(validator, result).Inc()
}

func ObserveRepairCall(category string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	repairCallsTotal.WithLabelValues(category, result).Inc()
}

func IncrementFallback(reason string) {
	fallbacksTotal.WithLabelValues(reason).Inc()
}

func ObserveRefinementAttempts(category string, attempts int) {
	if attempts < 0 {
		attempts = 0
	}
	refinementAttempts.WithLabelValues(category).Observe(float64(attempts))
}

func ObserveLLMCall(purpose string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	llmCallLatencyMs.WithLabelValues(purpose, result).Observe(float64(elapsed.Milliseconds()))
}

func ObserveQueryExecution(elapsed time.Duration, err error) {
	if err != nil {
		queryExecutionFailuresTotal.Inc()
		return
	}
	queryExecutionLatencyMs.Observe(float64(elapsed.Milliseconds()))
}
