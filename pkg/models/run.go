package models

import "time"

// RunStatus tracks a Run's lifecycle.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusPaused    RunStatus = "paused"
)

// Run is a single attempted execution of a Unit for an Event.
type Run struct {
	ID          string     `json:"id"`
	UnitID      string     `json:"unit_id"`
	UserID      string     `json:"user_id"`
	EventID     string     `json:"event_id"`
	Status      RunStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	RetryOfRun  string     `json:"retry_of_run_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// RunStepStatus tracks a single action's lifecycle within a Run.
type RunStepStatus string

const (
	RunStepStatusPending   RunStepStatus = "pending"
	RunStepStatusRunning   RunStepStatus = "running"
	RunStepStatusCompleted RunStepStatus = "completed"
	RunStepStatusFailed    RunStepStatus = "failed"
	RunStepStatusSkipped   RunStepStatus = "skipped"
)

// RunStep is one executed action within a Run.
type RunStep struct {
	RunID       string         `json:"run_id"`
	Index       int            `json:"index"`
	ActionKind  ActionKind     `json:"action_kind"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Status      RunStepStatus  `json:"status"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	DurationMs  int64          `json:"duration_ms"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}
