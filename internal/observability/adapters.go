package observability

import (
	"time"

	"github.com/cortexflow/cortex/pkg/models"
)

// WebhookMetrics adapts *Metrics to webhook.Metrics.
type WebhookMetrics struct{ m *Metrics }

// NewWebhookMetrics wraps m for internal/webhook's Handler.
func NewWebhookMetrics(m *Metrics) WebhookMetrics { return WebhookMetrics{m: m} }

func (w WebhookMetrics) WebhookAccepted(status int, duration time.Duration) {
	w.m.WebhookAccepted(status, duration.Seconds())
}

// DispatcherMetrics adapts *Metrics to dispatcher.Metrics, attributing
// source/unit cardinality at the Shaper/Matcher call site rather than
// inside the gauge itself (the dispatcher.Metrics interface is
// deliberately unlabeled; EventsShaped/RunsCreated's per-source/unit
// breakdown is recorded separately via RecordEventsShaped/
// RecordRunsCreated from within internal/shaper and internal/matcher's
// own callers).
type DispatcherMetrics struct{ m *Metrics }

// NewDispatcherMetrics wraps m for internal/dispatcher's Dispatcher.
func NewDispatcherMetrics(m *Metrics) DispatcherMetrics { return DispatcherMetrics{m: m} }

func (d DispatcherMetrics) ShaperDropped()  { d.m.DispatcherTaskDropped("shaper") }
func (d DispatcherMetrics) MatcherDropped() { d.m.DispatcherTaskDropped("matcher") }
func (d DispatcherMetrics) RuntimeDropped() { d.m.DispatcherTaskDropped("runtime") }

func (d DispatcherMetrics) EventsShaped(n int) { d.m.RecordEventsShaped("", n) }
func (d DispatcherMetrics) RunsCreated(n int)  { d.m.RecordRunsCreated("", n) }

func (d DispatcherMetrics) RunFinished(status models.RunStatus) {
	d.m.RecordRunAttempt(string(status))
}
