package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	// Don't call NewMetrics() here as it registers with default registry
	// Just verify the structure would be created
	t.Log("Metrics structure verified through integration tests")
}

func TestWebhookAcceptedCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_webhook_accepted_total",
			Help: "Test webhook accepted counter",
		},
		[]string{"status"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("2xx").Inc()
	counter.WithLabelValues("2xx").Inc()
	counter.WithLabelValues("4xx").Inc()

	expected := `
		# HELP test_webhook_accepted_total Test webhook accepted counter
		# TYPE test_webhook_accepted_total counter
		test_webhook_accepted_total{status="2xx"} 2
		test_webhook_accepted_total{status="4xx"} 1
	`
	if err := testutil.CollectAndCompare(counter, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric value: %v", err)
	}
}

func TestDispatcherDroppedCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_dispatcher_dropped_total",
			Help: "Test dispatcher dropped counter",
		},
		[]string{"pool"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("shaper").Inc()
	counter.WithLabelValues("matcher").Inc()
	counter.WithLabelValues("matcher").Inc()

	expected := `
		# HELP test_dispatcher_dropped_total Test dispatcher dropped counter
		# TYPE test_dispatcher_dropped_total counter
		test_dispatcher_dropped_total{pool="matcher"} 2
		test_dispatcher_dropped_total{pool="shaper"} 1
	`
	if err := testutil.CollectAndCompare(counter, strings.NewReader(expected)); err != nil {
		t.Errorf("Unexpected metric value: %v", err)
	}
}

func TestRecordLLMRequest(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_llm_requests_total",
			Help: "Test LLM request counter",
		},
		[]string{"provider", "model", "status"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("anthropic", "claude-3-opus", "success").Inc()
	counter.WithLabelValues("openai", "gpt-4", "success").Inc()
	counter.WithLabelValues("anthropic", "claude-3-opus", "error").Inc()

	count := testutil.CollectAndCount(counter)
	if count < 1 {
		t.Error("Expected at least 1 LLM request recorded")
	}
}

func TestRecordToolExecution(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_tool_executions_total",
			Help: "Test tool execution counter",
		},
		[]string{"provider", "tool_name", "status"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("salesforce", "update_lead", "success").Inc()
	counter.WithLabelValues("salesforce", "update_lead", "success").Inc()
	counter.WithLabelValues("crm", "create_task", "error").Inc()

	count := testutil.CollectAndCount(counter)
	if count < 1 {
		t.Error("Expected at least 1 tool execution recorded")
	}
}

func TestRecordError(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_errors_total",
			Help: "Test error counter",
		},
		[]string{"component", "kind"},
	)
	registry.MustRegister(counter)

	counter.WithLabelValues("runtime", "transient").Inc()
	counter.WithLabelValues("runtime", "transient").Inc()
	counter.WithLabelValues("compiler", "validation").Inc()
	counter.WithLabelValues("matcher", "internal").Inc()

	count := testutil.CollectAndCount(counter)
	if count < 1 {
		t.Error("Expected at least 1 error recorded")
	}
}

func TestRunStepOutcome(t *testing.T) {
	registry := prometheus.NewRegistry()
	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "test_dispatcher_queue_depth",
			Help: "Test dispatcher queue depth",
		},
		[]string{"pool"},
	)
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_run_step_duration_seconds",
			Help:    "Test run step duration",
			Buckets: []float64{0.01, 0.1, 1, 5},
		},
		[]string{"action_kind"},
	)
	registry.MustRegister(gauge, histogram)

	gauge.WithLabelValues("runtime").Inc()
	gauge.WithLabelValues("runtime").Inc()
	gauge.WithLabelValues("shaper").Inc()

	gauge.WithLabelValues("runtime").Dec()
	histogram.WithLabelValues("tool").Observe(0.3)
	histogram.WithLabelValues("notify").Observe(0.05)

	if testutil.CollectAndCount(gauge) < 1 {
		t.Error("Expected dispatcher queue depth gauge to be tracked")
	}
	if testutil.CollectAndCount(histogram) < 1 {
		t.Error("Expected run step duration histogram to have observations")
	}
}

func TestHistogramBuckets(t *testing.T) {
	registry := prometheus.NewRegistry()
	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_duration_seconds",
			Help:    "Test duration histogram",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
		},
		[]string{"operation"},
	)
	registry.MustRegister(histogram)

	durations := []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0}
	for _, duration := range durations {
		histogram.WithLabelValues("test").Observe(duration)
	}

	if testutil.CollectAndCount(histogram) < 1 {
		t.Error("Expected histogram to have observations across buckets")
	}
}

func TestConcurrentMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "test_concurrent_total",
			Help: "Test concurrent counter",
		},
		[]string{"label"},
	)
	registry.MustRegister(counter)

	done := make(chan bool)
	iterations := 100

	go func() {
		for i := 0; i < iterations; i++ {
			counter.WithLabelValues("a").Inc()
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < iterations; i++ {
			counter.WithLabelValues("b").Inc()
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	<-done
	<-done

	if testutil.CollectAndCount(counter) < 1 {
		t.Error("Expected concurrent metric recording to work")
	}
}
