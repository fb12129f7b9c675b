package store

import (
	"context"
	"testing"
	"time"

	"github.com/cortexflow/cortex/pkg/models"
)

func TestCreateRunAtMostOnePerUnitEvent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	run := &models.Run{ID: "r1", UnitID: "u1", EventID: "e1", UserID: "user1", Status: models.RunStatusPending, CreatedAt: time.Now()}

	outcome, err := s.CreateRun(ctx, run)
	if err != nil || outcome != OutcomeCreated {
		t.Fatalf("first create = %v, %v", outcome, err)
	}

	dup := &models.Run{ID: "r2", UnitID: "u1", EventID: "e1", UserID: "user1", Status: models.RunStatusPending, CreatedAt: time.Now()}
	outcome, err = s.CreateRun(ctx, dup)
	if err != nil || outcome != OutcomeDuplicate {
		t.Fatalf("second create = %v, %v, want duplicate", outcome, err)
	}

	if _, err := s.GetRun(ctx, "r2"); err != ErrNotFound {
		t.Fatalf("duplicate run should not have been persisted, got err=%v", err)
	}
}

func TestCreateRunRerunExemptFromUnitEventDedup(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	run := &models.Run{ID: "r1", UnitID: "u1", EventID: "e1", UserID: "user1", Status: models.RunStatusFailed, CreatedAt: time.Now()}
	if outcome, err := s.CreateRun(ctx, run); err != nil || outcome != OutcomeCreated {
		t.Fatalf("original create = %v, %v", outcome, err)
	}

	retry := &models.Run{ID: "r2", UnitID: "u1", EventID: "e1", UserID: "user1", Status: models.RunStatusPending, RetryOfRun: "r1", CreatedAt: time.Now()}
	outcome, err := s.CreateRun(ctx, retry)
	if err != nil || outcome != OutcomeCreated {
		t.Fatalf("rerun create = %v, %v, want created despite matching (unit_id, event_id)", outcome, err)
	}
	if _, err := s.GetRun(ctx, "r2"); err != nil {
		t.Fatalf("rerun should have been persisted: %v", err)
	}
}

func TestWriteEventDedupKeyScopedPerUser(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	e1 := &models.Event{ID: "e1", UserID: "userA", DedupKey: "dk1", ReceivedAt: time.Now()}
	e2 := &models.Event{ID: "e2", UserID: "userB", DedupKey: "dk1", ReceivedAt: time.Now()}

	if outcome, _ := s.WriteEvent(ctx, e1); outcome != OutcomeCreated {
		t.Fatalf("expected created for userA")
	}
	if outcome, _ := s.WriteEvent(ctx, e2); outcome != OutcomeCreated {
		t.Fatalf("same dedupKey for a different user should still be created")
	}

	dup := &models.Event{ID: "e3", UserID: "userA", DedupKey: "dk1", ReceivedAt: time.Now()}
	if outcome, _ := s.WriteEvent(ctx, dup); outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate for repeated (userA, dk1)")
	}
}

func TestListActiveUnitsFiltersStatusAndTrigger(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	active := &models.Unit{ID: "u1", UserID: "user1", Status: models.UnitStatusActive, Trigger: models.Trigger{Source: "email", Type: "email_received"}}
	paused := &models.Unit{ID: "u2", UserID: "user1", Status: models.UnitStatusPaused, Trigger: models.Trigger{Source: "email", Type: "email_received"}}
	otherTrigger := &models.Unit{ID: "u3", UserID: "user1", Status: models.UnitStatusActive, Trigger: models.Trigger{Source: "crm", Type: "lead_created"}}

	for _, u := range []*models.Unit{active, paused, otherTrigger} {
		if err := s.SaveUnit(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	units, err := s.ListActiveUnits(ctx, "user1", "email", "email_received")
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 || units[0].ID != "u1" {
		t.Fatalf("ListActiveUnits = %+v, want only u1", units)
	}
}

func TestSaveShaperStateOptimisticConcurrency(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	state, err := s.LoadShaperState(ctx, "user1", "crm")
	if err != nil {
		t.Fatal(err)
	}
	if state.Version != 0 {
		t.Fatalf("initial version = %d, want 0", state.Version)
	}

	state.Records["opp1"] = map[string]any{"StageName": "Negotiation"}
	ok, err := s.SaveShaperState(ctx, state, 0)
	if err != nil || !ok {
		t.Fatalf("first save: ok=%v err=%v", ok, err)
	}

	// Stale write using the old version must be rejected.
	ok, err = s.SaveShaperState(ctx, state, 0)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected version conflict on stale save")
	}

	reloaded, err := s.LoadShaperState(ctx, "user1", "crm")
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Version != 1 {
		t.Fatalf("version after successful save = %d, want 1", reloaded.Version)
	}
}
