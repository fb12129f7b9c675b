// Package runtime implements Runtime (spec §4.5): sequential execution
// of a Run's compiled action chain, one action kind at a time, with
// per-kind timeouts, Transient-only retry, and a template interpreter
// that refuses to silently swallow undefined references.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cortexflow/cortex/internal/errs"
	"github.com/cortexflow/cortex/internal/llm"
	"github.com/cortexflow/cortex/internal/matcher"
	"github.com/cortexflow/cortex/internal/retry"
	"github.com/cortexflow/cortex/internal/store"
	"github.com/cortexflow/cortex/pkg/models"
)

// ToolExecutor is the façade Runtime calls for "tool" actions; the
// concrete implementation lives in internal/toolexecutor.
type ToolExecutor interface {
	Execute(ctx context.Context, userID, provider, toolName string, inputs map[string]any) (map[string]any, error)
}

// Notifier delivers "notify" actions to the user.
type Notifier interface {
	Notify(ctx context.Context, userID string, payload map[string]any) error
}

// Config bounds each action kind's timeout and retry policy (spec §4.5).
type Config struct {
	ToolTimeout time.Duration
	LLMTimeout  time.Duration
	MaxWait     time.Duration
	MaxAttempts int
}

// Runtime executes Runs to completion.
type Runtime struct {
	runs   store.RunStore
	units  store.UnitStore
	events store.EventStore

	llmClient llm.Client
	tools     ToolExecutor
	notifier  Notifier

	config Config
}

func New(runs store.RunStore, units store.UnitStore, events store.EventStore, llmClient llm.Client, tools ToolExecutor, notifier Notifier, config Config) *Runtime {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.ToolTimeout <= 0 {
		config.ToolTimeout = 30 * time.Second
	}
	if config.LLMTimeout <= 0 {
		config.LLMTimeout = 60 * time.Second
	}
	if config.MaxWait <= 0 {
		config.MaxWait = 15 * time.Minute
	}
	return &Runtime{runs: runs, units: units, events: events, llmClient: llmClient, tools: tools, notifier: notifier, config: config}
}

// Execute runs run.UnitID's action chain against run.EventID to
// completion, persisting every RunStep as it finishes (spec §8
// invariant 5: terminal steps always form a contiguous prefix 0..k).
func (rt *Runtime) Execute(ctx context.Context, run *models.Run) error {
	unit, err := rt.units.GetUnit(ctx, run.UnitID)
	if err != nil {
		return err
	}
	event, err := rt.events.GetEvent(ctx, run.EventID)
	if err != nil {
		return err
	}

	var eventPayload map[string]any
	if len(event.Payload) > 0 {
		_ = json.Unmarshal(event.Payload, &eventPayload)
	}
	if eventPayload == nil {
		eventPayload = map[string]any{}
	}

	now := time.Now()
	run.StartedAt = &now
	if err := rt.runs.SetRunStatus(ctx, run.ID, models.RunStatusRunning); err != nil {
		return err
	}

	steps := make([]models.RunStep, 0, len(unit.Actions))
	runFailed := false
	terminated := false
	var runErr string

	for idx, action := range unit.Actions {
		if runFailed || terminated {
			step := skippedStep(run.ID, idx, action.Kind)
			_ = rt.runs.AppendStep(ctx, &step)
			steps = append(steps, step)
			continue
		}

		step := models.RunStep{RunID: run.ID, Index: idx, ActionKind: action.Kind, Status: models.RunStepStatusRunning}
		start := time.Now()
		step.StartedAt = &start
		_ = rt.runs.AppendStep(ctx, &step)

		rendered, err := RenderParams(action.Params, renderContext{eventPayload: eventPayload, steps: steps})
		if err != nil {
			rt.failStep(&step, err)
		} else {
			step.Input = rendered
			rt.runAction(ctx, run.UserID, action, &step)
		}

		completed := time.Now()
		step.CompletedAt = &completed
		step.DurationMs = completed.Sub(start).Milliseconds()
		_ = rt.runs.FinishStep(ctx, &step)
		steps = append(steps, step)

		if action.Kind == models.ActionKindCheck && step.Status == models.RunStepStatusSkipped {
			// spec §4.5: a failing check terminates subsequent steps as
			// skipped but is not itself a Run failure.
			terminated = true
			continue
		}
		if step.Status == models.RunStepStatusFailed && !action.ContinueOnError {
			runFailed = true
			runErr = step.Error
		}
	}

	completedAt := time.Now()
	if len(steps) > 0 && steps[len(steps)-1].CompletedAt != nil {
		completedAt = *steps[len(steps)-1].CompletedAt
	}
	run.CompletedAt = &completedAt
	if runFailed {
		run.Status = models.RunStatusFailed
		run.Error = runErr
	} else {
		run.Status = models.RunStatusCompleted
	}
	return rt.runs.FinishRun(ctx, run)
}

func skippedStep(runID string, idx int, kind models.ActionKind) models.RunStep {
	now := time.Now()
	return models.RunStep{
		RunID: runID, Index: idx, ActionKind: kind,
		Status: models.RunStepStatusSkipped, StartedAt: &now, CompletedAt: &now,
	}
}

func (rt *Runtime) failStep(step *models.RunStep, err error) {
	step.Status = models.RunStepStatusFailed
	step.Error = err.Error()
}

// runAction dispatches one action kind, applying its timeout and (for
// tool actions) its retry policy, and records the outcome on step.
func (rt *Runtime) runAction(ctx context.Context, userID string, action models.Action, step *models.RunStep) {
	var output map[string]any
	var err error

	switch action.Kind {
	case models.ActionKindTool:
		output, err = rt.runTool(ctx, userID, action, step)
	case models.ActionKindLLM:
		output, err = rt.runLLM(ctx, action, step)
	case models.ActionKindWait:
		output, err = rt.runWait(ctx, action)
	case models.ActionKindCheck:
		var passed bool
		passed, output, err = rt.runCheck(step)
		if err == nil && !passed {
			step.Status = models.RunStepStatusSkipped
			step.Output = output
			return
		}
	case models.ActionKindNotify:
		err = rt.notifier.Notify(ctx, userID, step.Input)
		output = map[string]any{"notified": err == nil}
	case models.ActionKindNoop:
		output = map[string]any{}
	default:
		err = fmt.Errorf("runtime: unknown action kind %q", action.Kind)
	}

	if err != nil {
		step.Status = models.RunStepStatusFailed
		step.Error = err.Error()
		return
	}
	step.Status = models.RunStepStatusCompleted
	step.Output = output
}

func (rt *Runtime) runTool(ctx context.Context, userID string, action models.Action, step *models.RunStep) (map[string]any, error) {
	toolCtx, cancel := context.WithTimeout(ctx, rt.config.ToolTimeout)
	defer cancel()

	cfg := retry.Exponential(rt.config.MaxAttempts, 200*time.Millisecond, 5*time.Second)
	var output map[string]any
	result := retry.WithAttemptNumber(toolCtx, cfg, func(attempt int) error {
		step.Attempts = attempt
		out, err := rt.tools.Execute(toolCtx, userID, action.Provider, action.ToolName, step.Input)
		if err != nil {
			if !errs.Retryable(err) {
				return retry.Permanent(err)
			}
			return err
		}
		output = out
		return nil
	})
	return output, result.Err
}

func (rt *Runtime) runLLM(ctx context.Context, action models.Action, step *models.RunStep) (map[string]any, error) {
	llmCtx, cancel := context.WithTimeout(ctx, rt.config.LLMTimeout)
	defer cancel()

	prompt, _ := step.Input["prompt"].(string)
	messages := []llm.Message{{Role: llm.RoleUser, Content: prompt}}
	text, err := rt.llmClient.Complete(llmCtx, messages, 0.3)
	if err != nil {
		return nil, err
	}
	return map[string]any{"result": text}, nil
}

func (rt *Runtime) runWait(ctx context.Context, action models.Action) (map[string]any, error) {
	seconds, _ := action.Params["seconds"].(float64)
	d := time.Duration(seconds) * time.Second
	if d > rt.config.MaxWait {
		d = rt.config.MaxWait
	}
	select {
	case <-time.After(d):
		return map[string]any{"waited_seconds": d.Seconds()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// runCheck evaluates an immediate assertion against already-rendered
// input: {"operator": "...", "actual": "{{...}}", "expected": "..."}.
// Per spec §4.5, a false check does not fail the step: the caller marks
// it skipped and terminates subsequent steps as skipped, without failing
// the Run.
func (rt *Runtime) runCheck(step *models.RunStep) (bool, map[string]any, error) {
	op, _ := step.Input["operator"].(string)
	ok, err := matcher.Evaluate(models.Operator(op), step.Input["actual"], step.Input["expected"])
	if err != nil {
		return false, nil, err
	}
	return ok, map[string]any{"passed": ok}, nil
}
