package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cortexflow/cortex/pkg/models"
)

// MemoryStore keeps every entity in per-kind maps guarded by one mutex,
// generalizing the teacher's MemoryAgentStore/MemoryChannelConnectionStore
// split-by-entity pattern (internal/storage/memory.go) into a single
// struct since Cortex's entities are more cross-referential (Runs key off
// Units and Events).
type MemoryStore struct {
	mu sync.RWMutex

	connections map[string]*models.Connection // key: userID+"/"+provider
	units       map[string]*models.Unit
	events      map[string]*models.Event
	eventDedup  map[string]string // userID+"/"+dedupKey -> eventID
	runs        map[string]*models.Run
	runDedup    map[string]string // unitID+"/"+eventID -> runID
	steps       map[string][]*models.RunStep // runID -> steps
	shaperState map[string]*models.ShaperState // userID+"/"+source
}

// NewMemoryStore returns an empty in-memory Store, used for local
// development and in package tests.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		connections: make(map[string]*models.Connection),
		units:       make(map[string]*models.Unit),
		events:      make(map[string]*models.Event),
		eventDedup:  make(map[string]string),
		runs:        make(map[string]*models.Run),
		runDedup:    make(map[string]string),
		steps:       make(map[string][]*models.RunStep),
		shaperState: make(map[string]*models.ShaperState),
	}
}

func (s *MemoryStore) Close() error { return nil }

func connKey(userID, provider string) string { return userID + "/" + provider }

func (s *MemoryStore) SaveConnection(ctx context.Context, conn *models.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *conn
	s.connections[connKey(conn.UserID, conn.Provider)] = &clone
	return nil
}

func (s *MemoryStore) LookupUserIDByConnection(ctx context.Context, connectionID, provider string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.connections {
		if c.Provider == provider && c.ExternalConnection == connectionID {
			return c.UserID, nil
		}
	}
	return "", ErrNotFound
}

func (s *MemoryStore) GetConnection(ctx context.Context, userID, provider string) (*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[connKey(userID, provider)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (s *MemoryStore) ListConnections(ctx context.Context, userID string) ([]*models.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Connection
	for _, c := range s.connections {
		if c.UserID == userID {
			clone := *c
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *MemoryStore) DeleteConnection(ctx context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.connections, connKey(userID, provider))
	return nil
}

func (s *MemoryStore) SaveUnit(ctx context.Context, unit *models.Unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *unit
	s.units[unit.ID] = &clone
	return nil
}

func (s *MemoryStore) GetUnit(ctx context.Context, id string) (*models.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.units[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (s *MemoryStore) ListActiveUnits(ctx context.Context, userID, source, eventType string) ([]*models.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Unit
	for _, u := range s.units {
		if u.Status != models.UnitStatusActive {
			continue
		}
		if u.UserID != userID || u.Trigger.Source != source || u.Trigger.Type != eventType {
			continue
		}
		clone := *u
		out = append(out, &clone)
	}
	return out, nil
}

func (s *MemoryStore) ListUnits(ctx context.Context, userID string) ([]*models.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Unit
	for _, u := range s.units {
		if u.UserID == userID {
			clone := *u
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SetUnitStatus(ctx context.Context, id string, status models.UnitStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteUnit(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[id]; !ok {
		return ErrNotFound
	}
	delete(s.units, id)
	return nil
}

func (s *MemoryStore) WriteEvent(ctx context.Context, event *models.Event) (WriteOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dk := event.UserID + "/" + event.DedupKey
	if _, exists := s.eventDedup[dk]; exists {
		return OutcomeDuplicate, nil
	}
	clone := *event
	s.events[event.ID] = &clone
	s.eventDedup[dk] = event.ID
	return OutcomeCreated, nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *e
	return &clone, nil
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *models.Run) (WriteOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Mirrors the partial unique index on (unit_id, event_id) in the
	// Postgres schema, which only applies WHERE retry_of_run_id IS NULL:
	// reruns are exempt from dedup so a unit/event pair can be replayed.
	if run.RetryOfRun == "" {
		rk := run.UnitID + "/" + run.EventID
		if _, exists := s.runDedup[rk]; exists {
			return OutcomeDuplicate, nil
		}
		s.runDedup[rk] = run.ID
	}
	clone := *run
	s.runs[run.ID] = &clone
	return OutcomeCreated, nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *r
	return &clone, nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, userID string, limit int) ([]*models.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Run
	for _, r := range s.runs {
		if r.UserID == userID {
			clone := *r
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendStep(ctx context.Context, step *models.RunStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *step
	s.steps[step.RunID] = append(s.steps[step.RunID], &clone)
	return nil
}

func (s *MemoryStore) FinishStep(ctx context.Context, step *models.RunStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := s.steps[step.RunID]
	for i, existing := range steps {
		if existing.Index == step.Index {
			clone := *step
			steps[i] = &clone
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) ListSteps(ctx context.Context, runID string) ([]*models.RunStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	steps := s.steps[runID]
	out := make([]*models.RunStep, len(steps))
	for i, st := range steps {
		clone := *st
		out[i] = &clone
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryStore) FinishRun(ctx context.Context, run *models.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; !ok {
		return ErrNotFound
	}
	clone := *run
	s.runs[run.ID] = &clone
	return nil
}

func (s *MemoryStore) SetRunStatus(ctx context.Context, id string, status models.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	return nil
}

func shaperKey(userID, source string) string { return userID + "/" + source }

func (s *MemoryStore) LoadShaperState(ctx context.Context, userID, source string) (*models.ShaperState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.shaperState[shaperKey(userID, source)]
	if !ok {
		return &models.ShaperState{
			UserID:   userID,
			Source:   source,
			Records:  map[string]map[string]any{},
			LastSeen: map[string]time.Time{},
			Version:  0,
		}, nil
	}
	clone := st.Clone()
	return &clone, nil
}

func (s *MemoryStore) SaveShaperState(ctx context.Context, state *models.ShaperState, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := shaperKey(state.UserID, state.Source)
	current, exists := s.shaperState[key]
	currentVersion := int64(0)
	if exists {
		currentVersion = current.Version
	}
	if currentVersion != expectedVersion {
		return false, nil
	}
	clone := state.Clone()
	clone.Version = expectedVersion + 1
	clone.UpdatedAt = time.Now()
	s.shaperState[key] = &clone
	return true, nil
}
