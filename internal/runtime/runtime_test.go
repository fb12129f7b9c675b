package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cortexflow/cortex/internal/errs"
	"github.com/cortexflow/cortex/internal/llm"
	"github.com/cortexflow/cortex/internal/store"
	"github.com/cortexflow/cortex/pkg/models"
)

type fakeTools struct {
	calls   int
	results []map[string]any
	errs    []error
}

func (f *fakeTools) Execute(ctx context.Context, userID, provider, toolName string, inputs map[string]any) (map[string]any, error) {
	idx := f.calls
	f.calls++
	var err error
	if idx < len(f.errs) {
		err = f.errs[idx]
	}
	var out map[string]any
	if idx < len(f.results) {
		out = f.results[idx]
	}
	return out, err
}

type fakeNotifier struct {
	notified []map[string]any
}

func (f *fakeNotifier) Notify(ctx context.Context, userID string, payload map[string]any) error {
	f.notified = append(f.notified, payload)
	return nil
}

type fakeLLM struct {
	reply string
}

func (f *fakeLLM) Complete(ctx context.Context, messages []llm.Message, temperature float64) (string, error) {
	return f.reply, nil
}

func (f *fakeLLM) CompleteJSON(ctx context.Context, messages []llm.Message, schema json.RawMessage, temperature float64) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func seed(t *testing.T, s store.Store, unit *models.Unit, event *models.Event, run *models.Run) {
	t.Helper()
	if err := s.SaveUnit(context.Background(), unit); err != nil {
		t.Fatal(err)
	}
	if _, err := s.WriteEvent(context.Background(), event); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}
}

func TestExecuteNotifyStepCompletesRun(t *testing.T) {
	s := store.NewMemoryStore()
	notifier := &fakeNotifier{}
	rt := New(s, s, s, &fakeLLM{}, &fakeTools{}, notifier, Config{})

	unit := &models.Unit{ID: "u1", UserID: "user1", Status: models.UnitStatusActive,
		Actions: []models.Action{{Kind: models.ActionKindNotify, Params: map[string]any{"channel": "X", "subject": "{{event.payload.subject}}"}}},
	}
	event := &models.Event{ID: "e1", UserID: "user1", Payload: json.RawMessage(`{"subject":"Q3"}`), DedupKey: "dk1"}
	run := &models.Run{ID: "r1", UnitID: "u1", UserID: "user1", EventID: "e1", Status: models.RunStatusPending, CreatedAt: time.Now()}
	seed(t, s, unit, event, run)

	if err := rt.Execute(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("run status = %v, want completed", run.Status)
	}
	if len(notifier.notified) != 1 || notifier.notified[0]["subject"] != "Q3" {
		t.Fatalf("notifier called with %+v, want subject rendered from event payload", notifier.notified)
	}
}

func TestExecuteToolTransientFailureThenSuccessCompletesStep(t *testing.T) {
	s := store.NewMemoryStore()
	tools := &fakeTools{
		errs:    []error{errs.Transient("t", errors.New("503")), errs.Transient("t", errors.New("503")), nil},
		results: []map[string]any{nil, nil, {"ok": true}},
	}
	rt := New(s, s, s, &fakeLLM{}, tools, &fakeNotifier{}, Config{MaxAttempts: 3, ToolTimeout: time.Second})

	unit := &models.Unit{ID: "u1", UserID: "user1", Status: models.UnitStatusActive,
		Actions: []models.Action{{Kind: models.ActionKindTool, Provider: "crm", ToolName: "update", Params: map[string]any{}}},
	}
	event := &models.Event{ID: "e1", UserID: "user1", Payload: json.RawMessage(`{}`), DedupKey: "dk1"}
	run := &models.Run{ID: "r1", UnitID: "u1", UserID: "user1", EventID: "e1", Status: models.RunStatusPending, CreatedAt: time.Now()}
	seed(t, s, unit, event, run)

	if err := rt.Execute(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("run status = %v, want completed", run.Status)
	}
	steps, err := s.ListSteps(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 1 || steps[0].Attempts != 3 {
		t.Fatalf("steps = %+v, want one step with 3 attempts", steps)
	}
}

func TestExecutePermanentToolFailureFailsRunAndSkipsRest(t *testing.T) {
	s := store.NewMemoryStore()
	tools := &fakeTools{errs: []error{errs.Permanent("t", errors.New("400 bad request"))}}
	rt := New(s, s, s, &fakeLLM{}, tools, &fakeNotifier{}, Config{MaxAttempts: 3, ToolTimeout: time.Second})

	unit := &models.Unit{ID: "u1", UserID: "user1", Status: models.UnitStatusActive,
		Actions: []models.Action{
			{Kind: models.ActionKindTool, Provider: "crm", ToolName: "update"},
			{Kind: models.ActionKindNoop},
		},
	}
	event := &models.Event{ID: "e1", UserID: "user1", Payload: json.RawMessage(`{}`), DedupKey: "dk1"}
	run := &models.Run{ID: "r1", UnitID: "u1", UserID: "user1", EventID: "e1", Status: models.RunStatusPending, CreatedAt: time.Now()}
	seed(t, s, unit, event, run)

	if err := rt.Execute(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	if run.Status != models.RunStatusFailed {
		t.Fatalf("run status = %v, want failed", run.Status)
	}
	steps, err := s.ListSteps(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 || steps[0].Status != models.RunStepStatusFailed || steps[1].Status != models.RunStepStatusSkipped {
		t.Fatalf("steps = %+v, want [failed, skipped]", steps)
	}
}

func TestExecuteUndefinedTemplatePathFailsStep(t *testing.T) {
	s := store.NewMemoryStore()
	rt := New(s, s, s, &fakeLLM{}, &fakeTools{}, &fakeNotifier{}, Config{})

	unit := &models.Unit{ID: "u1", UserID: "user1", Status: models.UnitStatusActive,
		Actions: []models.Action{{Kind: models.ActionKindNotify, Params: map[string]any{"subject": "{{event.payload.missing}}"}}},
	}
	event := &models.Event{ID: "e1", UserID: "user1", Payload: json.RawMessage(`{"subject":"Q3"}`), DedupKey: "dk1"}
	run := &models.Run{ID: "r1", UnitID: "u1", UserID: "user1", EventID: "e1", Status: models.RunStatusPending, CreatedAt: time.Now()}
	seed(t, s, unit, event, run)

	if err := rt.Execute(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	if run.Status != models.RunStatusFailed {
		t.Fatalf("run status = %v, want failed for an undefined template path", run.Status)
	}
}

func TestExecuteFailingCheckSkipsRestWithoutFailingRun(t *testing.T) {
	s := store.NewMemoryStore()
	rt := New(s, s, s, &fakeLLM{}, &fakeTools{}, &fakeNotifier{}, Config{})

	unit := &models.Unit{ID: "u1", UserID: "user1", Status: models.UnitStatusActive,
		Actions: []models.Action{
			{Kind: models.ActionKindCheck, Params: map[string]any{"operator": "eq", "actual": "{{event.payload.status}}", "expected": "closed"}},
			{Kind: models.ActionKindNoop},
		},
	}
	event := &models.Event{ID: "e1", UserID: "user1", Payload: json.RawMessage(`{"status":"open"}`), DedupKey: "dk1"}
	run := &models.Run{ID: "r1", UnitID: "u1", UserID: "user1", EventID: "e1", Status: models.RunStatusPending, CreatedAt: time.Now()}
	seed(t, s, unit, event, run)

	if err := rt.Execute(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	if run.Status != models.RunStatusCompleted {
		t.Fatalf("run status = %v, want completed (a false check is not a failure)", run.Status)
	}
	steps, err := s.ListSteps(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(steps) != 2 || steps[0].Status != models.RunStepStatusSkipped || steps[1].Status != models.RunStepStatusSkipped {
		t.Fatalf("steps = %+v, want [skipped, skipped]", steps)
	}
}
