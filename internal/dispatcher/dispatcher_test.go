package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cortexflow/cortex/internal/shaper"
	"github.com/cortexflow/cortex/pkg/models"
)

type fakeShaper struct {
	events []*models.Event
	err    error
}

func (f *fakeShaper) Process(ctx context.Context, userID string, batch shaper.Batch) ([]*models.Event, error) {
	return f.events, f.err
}

type fakeMatcher struct {
	mu   sync.Mutex
	runs []*models.Run
	err  error
}

func (f *fakeMatcher) Match(ctx context.Context, event *models.Event) ([]*models.Run, error) {
	return f.runs, f.err
}

type fakeRuntime struct {
	mu       sync.Mutex
	executed []string
	done     chan struct{}
}

func (f *fakeRuntime) Execute(ctx context.Context, run *models.Run) error {
	f.mu.Lock()
	f.executed = append(f.executed, run.ID)
	f.mu.Unlock()
	run.Status = models.RunStatusCompleted
	if f.done != nil {
		f.done <- struct{}{}
	}
	return nil
}

func TestDispatcherDrivesShaperMatcherRuntimePipeline(t *testing.T) {
	event := &models.Event{ID: "e1", UserID: "u1", Source: "email", Type: "email_received"}
	run := &models.Run{ID: "r1", UnitID: "unit1", UserID: "u1", EventID: "e1", Status: models.RunStatusPending}

	rt := &fakeRuntime{done: make(chan struct{}, 1)}
	d := New(&fakeShaper{events: []*models.Event{event}}, &fakeMatcher{runs: []*models.Run{run}}, rt, nil, nil, Config{})
	t.Cleanup(d.Stop)

	ok := d.EnqueueWebhook(context.Background(), ShaperTask{UserID: "u1", Batch: shaper.Batch{ProviderKey: "GmailEmail"}})
	if !ok {
		t.Fatal("expected enqueue to succeed")
	}

	select {
	case <-rt.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for runtime to execute the run produced by the pipeline")
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if len(rt.executed) != 1 || rt.executed[0] != "r1" {
		t.Fatalf("executed = %v, want [r1]", rt.executed)
	}
}

func TestEnqueueWebhookDropsWhenShaperPoolFull(t *testing.T) {
	rt := &fakeRuntime{}
	d := New(&blockingShaper{unblock: make(chan struct{})}, &fakeMatcher{}, rt, nil, nil, Config{
		ShaperWorkers: 1, ShaperQueueDepth: 1, EnqueueBudget: 10 * time.Millisecond,
	})
	t.Cleanup(func() {
		close(d.shaper.(*blockingShaper).unblock)
		d.Stop()
	})

	// First task occupies the single worker; second fills the depth-1
	// queue; third must be dropped within the enqueue budget.
	for i := 0; i < 2; i++ {
		if !d.EnqueueWebhook(context.Background(), ShaperTask{UserID: "u1"}) {
			t.Fatalf("enqueue %d should have succeeded", i)
		}
	}
	if d.EnqueueWebhook(context.Background(), ShaperTask{UserID: "u1"}) {
		t.Fatal("third enqueue should have been dropped once the pool and its queue are full")
	}
}

type blockingShaper struct {
	unblock chan struct{}
}

func (b *blockingShaper) Process(ctx context.Context, userID string, batch shaper.Batch) ([]*models.Event, error) {
	<-b.unblock
	return nil, nil
}
