package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - WebhookFront accept latency and outcome
//   - Dispatcher queue depth and drops across its three pools
//   - Shaper events produced and Matcher runs created
//   - Run/RunStep outcomes and retry attempts
//   - LLM request performance, token usage, and cost
//   - Tool execution patterns and latencies
//   - HTTP and database call latency for the Control API and Store
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.WebhookAccepted(202, time.Since(start))
//	defer metrics.LLMRequestDuration("anthropic", "claude-3-opus").Observe(time.Since(start).Seconds())
type Metrics struct {
	// WebhookAcceptedTotal counts WebhookFront responses by status code.
	// Labels: status
	WebhookAcceptedTotal *prometheus.CounterVec

	// WebhookAcceptDuration measures time from request receipt to 202/400.
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s
	WebhookAcceptDuration *prometheus.HistogramVec

	// DispatcherQueueDepth tracks current queued-job count per pool.
	// Labels: pool (shaper|matcher|runtime)
	DispatcherQueueDepth *prometheus.GaugeVec

	// DispatcherDropped counts tasks dropped under backpressure.
	// Labels: pool (shaper|matcher|runtime)
	DispatcherDropped *prometheus.CounterVec

	// EventsShaped counts Events produced by Shaper.
	// Labels: source
	EventsShaped *prometheus.CounterVec

	// RunsCreated counts Runs created by Matcher.
	// Labels: unit_id
	RunsCreated *prometheus.CounterVec

	// RunAttempts counts run attempts by outcome (for retry tracking).
	// Labels: status (completed|failed|paused)
	RunAttempts *prometheus.CounterVec

	// RunStepDuration measures a single RunStep's execution time.
	// Labels: action_kind
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	RunStepDuration *prometheus.HistogramVec

	// RunStepOutcome counts RunSteps by action kind and final status.
	// Labels: action_kind, status
	RunStepOutcome *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider (anthropic|openai), model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostUSD tracks estimated cost in USD.
	// Labels: provider, model
	LLMCostUSD *prometheus.CounterVec

	// LLMCacheOutcome counts semantic-cache lookups by outcome.
	// Labels: outcome (hit|miss)
	LLMCacheOutcome *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: provider, tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: provider, tool_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolExecutionDuration *prometheus.HistogramVec

	// ErrorCounter tracks errors by component and classified kind.
	// Labels: component, kind
	ErrorCounter *prometheus.CounterVec

	// HTTPRequestDuration measures Control API request latency.
	// Labels: method, path, status_code
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	HTTPRequestDuration *prometheus.HistogramVec

	// HTTPRequestCounter counts Control API requests.
	// Labels: method, path, status_code
	HTTPRequestCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures Store query latency.
	// Labels: operation (select|insert|update|delete), table
	// Buckets: 0.001s, 0.005s, 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s
	DatabaseQueryDuration *prometheus.HistogramVec

	// DatabaseQueryCounter counts Store queries.
	// Labels: operation, table, status (success|error)
	DatabaseQueryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		WebhookAcceptedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_webhook_accepted_total",
				Help: "Total number of WebhookFront responses by status code",
			},
			[]string{"status"},
		),

		WebhookAcceptDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortex_webhook_accept_duration_seconds",
				Help:    "Duration from webhook receipt to response in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"status"},
		),

		DispatcherQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cortex_dispatcher_queue_depth",
				Help: "Current queued job count per dispatcher pool",
			},
			[]string{"pool"},
		),

		DispatcherDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_dispatcher_dropped_total",
				Help: "Total number of tasks dropped under backpressure, by pool",
			},
			[]string{"pool"},
		),

		EventsShaped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_events_shaped_total",
				Help: "Total number of Events produced by Shaper, by source",
			},
			[]string{"source"},
		),

		RunsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_runs_created_total",
				Help: "Total number of Runs created by Matcher, by unit",
			},
			[]string{"unit_id"},
		),

		RunAttempts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_run_attempts_total",
				Help: "Total number of run attempts by final status",
			},
			[]string{"status"},
		),

		RunStepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortex_run_step_duration_seconds",
				Help:    "Duration of a single RunStep's execution in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"action_kind"},
		),

		RunStepOutcome: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_run_step_outcome_total",
				Help: "Total number of RunSteps by action kind and final status",
			},
			[]string{"action_kind", "status"},
		),

		LLMRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortex_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_llm_cost_usd_total",
				Help: "Estimated LLM API cost in USD",
			},
			[]string{"provider", "model"},
		),

		LLMCacheOutcome: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_llm_cache_outcome_total",
				Help: "Total number of semantic/response cache lookups by outcome",
			},
			[]string{"outcome"},
		),

		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_tool_executions_total",
				Help: "Total number of tool executions by provider, tool name, and status",
			},
			[]string{"provider", "tool_name", "status"},
		),

		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortex_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"provider", "tool_name"},
		),

		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_errors_total",
				Help: "Total number of errors by component and classified kind",
			},
			[]string{"component", "kind"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortex_http_request_duration_seconds",
				Help:    "Duration of Control API requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path", "status_code"},
		),

		HTTPRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_http_requests_total",
				Help: "Total number of Control API requests",
			},
			[]string{"method", "path", "status_code"},
		),

		DatabaseQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cortex_database_query_duration_seconds",
				Help:    "Duration of Store queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),

		DatabaseQueryCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cortex_database_queries_total",
				Help: "Total number of Store queries",
			},
			[]string{"operation", "table", "status"},
		),
	}
}

// WebhookAccepted records a WebhookFront response (spec §4.1: always
// 202 or 400, never 5xx).
func (m *Metrics) WebhookAccepted(status int, durationSeconds float64) {
	label := statusLabel(status)
	m.WebhookAcceptedTotal.WithLabelValues(label).Inc()
	m.WebhookAcceptDuration.WithLabelValues(label).Observe(durationSeconds)
}

func statusLabel(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// SetDispatcherQueueDepth records a pool's current queue depth.
//
// Example:
//
//	metrics.SetDispatcherQueueDepth("shaper", 12)
func (m *Metrics) SetDispatcherQueueDepth(pool string, depth int) {
	m.DispatcherQueueDepth.WithLabelValues(pool).Set(float64(depth))
}

// DispatcherTaskDropped records a pool dropping a task under
// backpressure (spec §5: "drops with a metric — never 5xx").
func (m *Metrics) DispatcherTaskDropped(pool string) {
	m.DispatcherDropped.WithLabelValues(pool).Inc()
}

// RecordEventsShaped records the Events a single Shaper.Process call
// produced for source.
func (m *Metrics) RecordEventsShaped(source string, n int) {
	if n <= 0 {
		return
	}
	m.EventsShaped.WithLabelValues(source).Add(float64(n))
}

// RecordRunsCreated records the Runs a single Matcher.Match call
// created for unitID.
func (m *Metrics) RecordRunsCreated(unitID string, n int) {
	if n <= 0 {
		return
	}
	m.RunsCreated.WithLabelValues(unitID).Add(float64(n))
}

// RecordRunAttempt records a Run's final status.
//
// Example:
//
//	metrics.RecordRunAttempt("completed")
//	metrics.RecordRunAttempt("failed")
func (m *Metrics) RecordRunAttempt(status string) {
	m.RunAttempts.WithLabelValues(status).Inc()
}

// RecordRunStep records one RunStep's execution time and outcome.
func (m *Metrics) RecordRunStep(actionKind, status string, durationSeconds float64) {
	m.RunStepDuration.WithLabelValues(actionKind).Observe(durationSeconds)
	m.RunStepOutcome.WithLabelValues(actionKind, status).Inc()
}

// RecordLLMRequest records metrics for an LLM API request.
//
// Example:
//
//	start := time.Now()
//	// ... make LLM request ...
//	metrics.RecordLLMRequest("anthropic", "claude-3-opus", "success", time.Since(start).Seconds(), 100, 500)
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordLLMCost records estimated API cost.
func (m *Metrics) RecordLLMCost(provider, model string, costUSD float64) {
	m.LLMCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordLLMCacheOutcome records a semantic/response cache lookup.
//
// Example:
//
//	metrics.RecordLLMCacheOutcome("hit")
//	metrics.RecordLLMCacheOutcome("miss")
func (m *Metrics) RecordLLMCacheOutcome(outcome string) {
	m.LLMCacheOutcome.WithLabelValues(outcome).Inc()
}

// RecordToolExecution records metrics for a tool execution.
//
// Example:
//
//	start := time.Now()
//	// ... execute tool ...
//	metrics.RecordToolExecution("salesforce", "update_lead", "success", time.Since(start).Seconds())
func (m *Metrics) RecordToolExecution(provider, toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(provider, toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(provider, toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a given component and
// classified errs.Kind.
//
// Example:
//
//	metrics.RecordError("runtime", "transient")
//	metrics.RecordError("compiler", "validation")
func (m *Metrics) RecordError(component, kind string) {
	m.ErrorCounter.WithLabelValues(component, kind).Inc()
}

// RecordHTTPRequest records metrics for a Control API request.
//
// Example:
//
//	start := time.Now()
//	// ... handle HTTP request ...
//	metrics.RecordHTTPRequest("GET", "/runs", "200", time.Since(start).Seconds())
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, durationSeconds float64) {
	m.HTTPRequestCounter.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
}

// RecordDatabaseQuery records metrics for a Store query.
//
// Example:
//
//	start := time.Now()
//	// ... execute database query ...
//	metrics.RecordDatabaseQuery("select", "runs", "success", time.Since(start).Seconds())
func (m *Metrics) RecordDatabaseQuery(operation, table, status string, durationSeconds float64) {
	m.DatabaseQueryCounter.WithLabelValues(operation, table, status).Inc()
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}
