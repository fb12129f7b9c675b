// Package matcher implements Matcher (spec §4.4): evaluating each
// active Unit whose trigger matches an Event's (source, type), in
// parallel across Units, sequentially and short-circuiting within a
// Unit's own conditions, and creating at most one Run per
// (unitId, eventId).
package matcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cortexflow/cortex/internal/infra"
	"github.com/cortexflow/cortex/internal/kv"
	"github.com/cortexflow/cortex/internal/llm"
	"github.com/cortexflow/cortex/internal/store"
	"github.com/cortexflow/cortex/pkg/models"
)

// Matcher evaluates Events against Units and creates Runs.
type Matcher struct {
	units store.UnitStore
	runs  store.RunStore

	llmClient     llm.Client
	semanticCache kv.Store

	workers int
}

// New builds a Matcher. workers bounds the per-Event parallel Unit
// evaluation pool (spec §5's Matcher parallelism).
func New(units store.UnitStore, runs store.RunStore, llmClient llm.Client, semanticCache kv.Store, workers int) *Matcher {
	if workers <= 0 {
		workers = 8
	}
	return &Matcher{units: units, runs: runs, llmClient: llmClient, semanticCache: semanticCache, workers: workers}
}

// matchOutcome is the per-Unit result of evaluation, kept out of the
// return channel until every Unit has finished so Match can create Runs
// sequentially against the Store (the Store itself dedupes concurrent
// creates, but this keeps the call pattern simple and auditable).
type matchOutcome struct {
	unit    *models.Unit
	matched bool
}

// Match evaluates event against every active Unit subscribed to its
// (source, type) and creates a Run for each match, returning the Runs
// that were newly created (duplicates, per spec §8 invariant 2, are
// collapsed silently and not returned as an error).
func (m *Matcher) Match(ctx context.Context, event *models.Event) ([]*models.Run, error) {
	units, err := m.units.ListActiveUnits(ctx, event.UserID, event.Source, event.Type)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, nil
	}

	var payload map[string]any
	if len(event.Payload) > 0 {
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			payload = map[string]any{}
		}
	} else {
		payload = map[string]any{}
	}

	outcomes, errs := infra.ParallelProcess(ctx, units, m.workers, func(ctx context.Context, unit *models.Unit) (matchOutcome, error) {
		matched, err := m.evaluateUnit(ctx, unit, event, payload)
		return matchOutcome{unit: unit, matched: matched}, err
	})

	var runs []*models.Run
	for i, outcome := range outcomes {
		if errs[i] != nil {
			// A failed condition evaluation (e.g. a semantic-condition LLM
			// error) must not block other Units; it simply produces no Run.
			continue
		}
		if !outcome.matched {
			continue
		}
		run := &models.Run{
			ID:        uuid.NewString(),
			UnitID:    outcome.unit.ID,
			UserID:    outcome.unit.UserID,
			EventID:   event.ID,
			Status:    models.RunStatusPending,
			CreatedAt: time.Now(),
		}
		created, err := m.runs.CreateRun(ctx, run)
		if err != nil {
			return runs, err
		}
		if created == store.OutcomeCreated {
			runs = append(runs, run)
		}
	}
	return runs, nil
}

// evaluateUnit evaluates a single Unit's conditions sequentially,
// short-circuiting on the first false or erroring condition.
func (m *Matcher) evaluateUnit(ctx context.Context, unit *models.Unit, event *models.Event, payload map[string]any) (bool, error) {
	for i, cond := range unit.Conditions {
		var ok bool
		var err error
		switch cond.Kind {
		case models.ConditionKindRule:
			ok, err = Evaluate(cond.Operator, fieldValue(payload, cond.Field), cond.Value)
		case models.ConditionKindSemantic:
			ok, err = m.evaluateSemantic(ctx, unit, i, cond, event, payload)
		}
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
