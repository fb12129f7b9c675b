// Package store defines the persistent relational Store contract (spec
// §4.7) and its implementations. ShaperState, the dedup set, and the LLM
// cache live in the separate internal/kv fast tier; Store here owns only
// durable rows: Connections, Units, Runs, RunSteps, Events.
package store

import (
	"context"
	"errors"

	"github.com/cortexflow/cortex/pkg/models"
)

// ErrNotFound and ErrAlreadyExists mirror the teacher's storage sentinel
// pattern (internal/storage.ErrNotFound/ErrAlreadyExists).
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// WriteOutcome reports whether a write created a new row or found an
// existing one under the relevant unique constraint (spec §4.7).
type WriteOutcome string

const (
	OutcomeCreated   WriteOutcome = "created"
	OutcomeDuplicate WriteOutcome = "duplicate"
)

// ConnectionStore persists Connection rows.
type ConnectionStore interface {
	SaveConnection(ctx context.Context, conn *models.Connection) error
	LookupUserIDByConnection(ctx context.Context, connectionID, provider string) (string, error)
	GetConnection(ctx context.Context, userID, provider string) (*models.Connection, error)
	ListConnections(ctx context.Context, userID string) ([]*models.Connection, error)
	DeleteConnection(ctx context.Context, userID, provider string) error
}

// UnitStore persists Unit rows.
type UnitStore interface {
	SaveUnit(ctx context.Context, unit *models.Unit) error
	GetUnit(ctx context.Context, id string) (*models.Unit, error)
	ListActiveUnits(ctx context.Context, userID, source, eventType string) ([]*models.Unit, error)
	ListUnits(ctx context.Context, userID string) ([]*models.Unit, error)
	SetUnitStatus(ctx context.Context, id string, status models.UnitStatus) error
	DeleteUnit(ctx context.Context, id string) error
}

// EventStore persists immutable Event rows.
type EventStore interface {
	// WriteEvent inserts event under the unique (userId, dedupKey)
	// constraint. Duplicates are not an error.
	WriteEvent(ctx context.Context, event *models.Event) (WriteOutcome, error)
	GetEvent(ctx context.Context, id string) (*models.Event, error)
}

// RunStore persists Run rows and their RunSteps.
type RunStore interface {
	// CreateRun inserts a Run under the unique (unitId, eventId)
	// constraint. Duplicates are not an error.
	CreateRun(ctx context.Context, run *models.Run) (WriteOutcome, error)
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, userID string, limit int) ([]*models.Run, error)
	AppendStep(ctx context.Context, step *models.RunStep) error
	FinishStep(ctx context.Context, step *models.RunStep) error
	ListSteps(ctx context.Context, runID string) ([]*models.RunStep, error)
	FinishRun(ctx context.Context, run *models.Run) error
	SetRunStatus(ctx context.Context, id string, status models.RunStatus) error
}

// ShaperStateStore persists ShaperState snapshots with optimistic
// concurrency on Version (spec §4.7, §5).
type ShaperStateStore interface {
	LoadShaperState(ctx context.Context, userID, source string) (*models.ShaperState, error)
	// SaveShaperState writes state only if the stored version still
	// matches expectedVersion, returning false on conflict so the caller
	// retries the diff against a freshly loaded state.
	SaveShaperState(ctx context.Context, state *models.ShaperState, expectedVersion int64) (bool, error)
}

// Store groups every persistence dependency Cortex's components need,
// mirroring the teacher's StoreSet grouping pattern.
type Store interface {
	ConnectionStore
	UnitStore
	EventStore
	RunStore
	ShaperStateStore
	Close() error
}
