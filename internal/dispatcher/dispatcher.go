// Package dispatcher implements Dispatcher (spec §4.10 / §5): three
// bounded worker pools (ShaperPool, MatcherPool, RuntimePool) that drive
// the Shaper → Matcher → Runtime pipeline off WebhookFront's non-blocking
// enqueue, generalizing the teacher's internal/jobs queued/running job
// lifecycle from a single job store into three typed task queues built
// on internal/infra's generic WorkerPool.
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/cortexflow/cortex/internal/infra"
	"github.com/cortexflow/cortex/internal/shaper"
	"github.com/cortexflow/cortex/pkg/models"
)

// Shaper is the subset of *shaper.Shaper the ShaperPool drives.
type Shaper interface {
	Process(ctx context.Context, userID string, batch shaper.Batch) ([]*models.Event, error)
}

// Matcher is the subset of *matcher.Matcher the MatcherPool drives.
type Matcher interface {
	Match(ctx context.Context, event *models.Event) ([]*models.Run, error)
}

// Runtime is the subset of *runtime.Runtime the RuntimePool drives.
type Runtime interface {
	Execute(ctx context.Context, run *models.Run) error
}

// Metrics receives dispatcher observability signals (spec's ambient
// metrics stack: dispatcher queue depth/drops). Implementations should
// be cheap and non-blocking; a nil Metrics is a no-op.
type Metrics interface {
	ShaperDropped()
	MatcherDropped()
	RuntimeDropped()
	EventsShaped(n int)
	RunsCreated(n int)
	RunFinished(status models.RunStatus)
}

type noopMetrics struct{}

func (noopMetrics) ShaperDropped()               {}
func (noopMetrics) MatcherDropped()              {}
func (noopMetrics) RuntimeDropped()              {}
func (noopMetrics) EventsShaped(int)             {}
func (noopMetrics) RunsCreated(int)              {}
func (noopMetrics) RunFinished(models.RunStatus) {}

// Config sizes the three pools and the webhook-path backpressure budget.
type Config struct {
	ShaperWorkers     int
	ShaperQueueDepth  int
	MatcherWorkers    int
	MatcherQueueDepth int
	RuntimeWorkers    int
	RuntimeQueueDepth int

	// EnqueueBudget bounds how long WebhookFront's enqueue will retry a
	// full ShaperPool queue before dropping the task (spec §5: "blocks
	// its enqueue up to a small budget (<=50ms) and then drops with a
	// metric — never 5xx").
	EnqueueBudget time.Duration

	// SoftDeadline bounds Shaper+Matcher processing per task (spec §5:
	// "soft processing deadline of 60s for Shaper+Matcher").
	SoftDeadline time.Duration
}

func (c *Config) setDefaults() {
	if c.ShaperWorkers <= 0 {
		c.ShaperWorkers = 4
	}
	if c.ShaperQueueDepth <= 0 {
		c.ShaperQueueDepth = 256
	}
	if c.MatcherWorkers <= 0 {
		c.MatcherWorkers = 8
	}
	if c.MatcherQueueDepth <= 0 {
		c.MatcherQueueDepth = 256
	}
	if c.RuntimeWorkers <= 0 {
		c.RuntimeWorkers = 32
	}
	if c.RuntimeQueueDepth <= 0 {
		c.RuntimeQueueDepth = 512
	}
	if c.EnqueueBudget <= 0 {
		c.EnqueueBudget = 50 * time.Millisecond
	}
	if c.SoftDeadline <= 0 {
		c.SoftDeadline = 60 * time.Second
	}
}

// ShaperTask is one webhook delivery's worth of record deltas, scoped to
// the user the connectionId resolved to.
type ShaperTask struct {
	UserID string
	Batch  shaper.Batch
}

// Dispatcher owns the three bounded worker pools and wires their output
// into each other: ShaperPool's Events feed MatcherPool, MatcherPool's
// Runs feed RuntimePool. Actions inside a single Run stay sequential
// because Runtime.Execute itself is sequential (spec §5); only distinct
// Runs run in parallel across RuntimePool's workers.
type Dispatcher struct {
	shaper  Shaper
	matcher Matcher
	runtime Runtime
	metrics Metrics
	logger  *slog.Logger
	config  Config

	shaperPool  *infra.WorkerPool[ShaperTask, struct{}]
	matcherPool *infra.WorkerPool[*models.Event, struct{}]
	runtimePool *infra.WorkerPool[*models.Run, struct{}]
}

// New builds and starts a Dispatcher. Stop must be called to drain the
// pools on shutdown.
func New(shaperStage Shaper, matcherStage Matcher, runtimeStage Runtime, metrics Metrics, logger *slog.Logger, config Config) *Dispatcher {
	config.setDefaults()
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		shaper:  shaperStage,
		matcher: matcherStage,
		runtime: runtimeStage,
		metrics: metrics,
		logger:  logger,
		config:  config,
	}

	d.runtimePool = infra.NewWorkerPool(infra.WorkerPoolConfig[*models.Run, struct{}]{
		Workers:   config.RuntimeWorkers,
		QueueSize: config.RuntimeQueueDepth,
		Processor: d.processRun,
	})
	d.matcherPool = infra.NewWorkerPool(infra.WorkerPoolConfig[*models.Event, struct{}]{
		Workers:   config.MatcherWorkers,
		QueueSize: config.MatcherQueueDepth,
		Processor: d.processEvent,
	})
	d.shaperPool = infra.NewWorkerPool(infra.WorkerPoolConfig[ShaperTask, struct{}]{
		Workers:   config.ShaperWorkers,
		QueueSize: config.ShaperQueueDepth,
		Processor: d.processBatch,
	})

	d.runtimePool.Start()
	d.matcherPool.Start()
	d.shaperPool.Start()

	// The pools' Processor functions deliver output via side effects
	// (submitting to the next pool, persisting the Run), not via the
	// result returned to callers, so nothing ever calls SubmitWait or
	// Results() for these three. WorkerPool still unconditionally posts
	// every completion to its results channel, so it must be drained or
	// the channel fills after QueueSize jobs and every worker wedges on
	// the send.
	go drainResults(d.shaperPool.Results())
	go drainResults(d.matcherPool.Results())
	go drainResults(d.runtimePool.Results())

	return d
}

// drainResults discards pool completions nobody consumes. It returns once
// Stop closes the results channel.
func drainResults[T, R any](results <-chan infra.JobResult[T, R]) {
	for range results {
	}
}

// Stop drains and stops all three pools. In-flight Runs are not
// cancelled by Stop; callers that need a hard deadline should cancel the
// context passed to EnqueueWebhook's descendants instead.
func (d *Dispatcher) Stop() {
	d.shaperPool.Stop()
	d.matcherPool.Stop()
	d.runtimePool.Stop()
}

// EnqueueWebhook submits a ShaperTask, retrying the non-blocking Submit
// for up to Config.EnqueueBudget before giving up. It never blocks
// longer than that budget, matching spec §4.1/§5's fast-return contract:
// the caller (WebhookFront) must still return 202 regardless of outcome.
func (d *Dispatcher) EnqueueWebhook(ctx context.Context, task ShaperTask) bool {
	if d.submitWithBudget(ctx, d.config.EnqueueBudget, func() bool {
		return d.shaperPool.Submit(infra.Job[ShaperTask]{ID: task.UserID + "/" + task.Batch.ProviderKey, Data: task, Context: d.taskContext(ctx)})
	}) {
		return true
	}
	d.metrics.ShaperDropped()
	d.logger.Warn("dispatcher: dropped shaper task, queue full", "user_id", task.UserID, "provider", task.Batch.ProviderKey)
	return false
}

// EnqueueRun submits a Run straight to RuntimePool, bypassing
// Shaper/Matcher entirely. Used by the Control API's rerun operation
// (spec §4.5, §6), where the Run already targets an existing eventId
// and re-matching would be redundant.
func (d *Dispatcher) EnqueueRun(ctx context.Context, run *models.Run) bool {
	if d.runtimePool.Submit(infra.Job[*models.Run]{ID: run.ID, Data: run, Context: context.Background()}) {
		return true
	}
	d.metrics.RuntimeDropped()
	d.logger.Warn("dispatcher: dropped rerun, runtime queue full", "run_id", run.ID)
	return false
}

// taskContext detaches a task from the inbound request context (which
// is cancelled the instant WebhookFront returns) while still honoring
// the soft Shaper+Matcher processing deadline of spec §5. Runtime work
// is not bound by this deadline (spec §4.5 names per-action timeouts
// instead), so it is applied only around Shaper/Matcher processing, not
// stored on the task itself.
func (d *Dispatcher) taskContext(context.Context) context.Context {
	return context.Background()
}

func (d *Dispatcher) submitWithBudget(ctx context.Context, budget time.Duration, submit func() bool) bool {
	deadline := time.Now().Add(budget)
	const retryInterval = 2 * time.Millisecond
	for {
		if submit() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(retryInterval):
		}
	}
}

func (d *Dispatcher) processBatch(ctx context.Context, task ShaperTask) (struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.SoftDeadline)
	defer cancel()

	events, err := d.shaper.Process(ctx, task.UserID, task.Batch)
	if err != nil {
		d.logger.Error("dispatcher: shaper failed", "user_id", task.UserID, "error", err)
		return struct{}{}, err
	}
	d.metrics.EventsShaped(len(events))
	for _, ev := range events {
		if !d.submitWithBudget(ctx, d.config.EnqueueBudget, func() bool {
			return d.matcherPool.Submit(infra.Job[*models.Event]{ID: ev.ID, Data: ev})
		}) {
			d.metrics.MatcherDropped()
			d.logger.Warn("dispatcher: dropped event, matcher queue full", "event_id", ev.ID)
		}
	}
	return struct{}{}, nil
}

func (d *Dispatcher) processEvent(ctx context.Context, event *models.Event) (struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.SoftDeadline)
	defer cancel()

	runs, err := d.matcher.Match(ctx, event)
	if err != nil {
		d.logger.Error("dispatcher: matcher failed", "event_id", event.ID, "error", err)
		return struct{}{}, err
	}
	d.metrics.RunsCreated(len(runs))
	for _, run := range runs {
		if !d.runtimePool.Submit(infra.Job[*models.Run]{ID: run.ID, Data: run, Context: context.Background()}) {
			d.metrics.RuntimeDropped()
			d.logger.Warn("dispatcher: dropped run, runtime queue full", "run_id", run.ID)
		}
	}
	return struct{}{}, nil
}

func (d *Dispatcher) processRun(ctx context.Context, run *models.Run) (struct{}, error) {
	if err := d.runtime.Execute(ctx, run); err != nil {
		d.logger.Error("dispatcher: runtime failed", "run_id", run.ID, "error", err)
		d.metrics.RunFinished(models.RunStatusFailed)
		return struct{}{}, err
	}
	d.metrics.RunFinished(run.Status)
	return struct{}{}, nil
}
