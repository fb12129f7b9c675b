package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cortexflow/cortex/internal/compiler"
	"github.com/cortexflow/cortex/internal/connections"
	"github.com/cortexflow/cortex/internal/dispatcher"
	"github.com/cortexflow/cortex/internal/kv"
	"github.com/cortexflow/cortex/internal/store"
	"github.com/cortexflow/cortex/pkg/models"
)

type fakeDispatcher struct {
	webhooks []dispatcher.ShaperTask
	reruns   []*models.Run
	accept   bool
}

func newFakeDispatcher() *fakeDispatcher { return &fakeDispatcher{accept: true} }

func (f *fakeDispatcher) EnqueueWebhook(ctx context.Context, task dispatcher.ShaperTask) bool {
	f.webhooks = append(f.webhooks, task)
	return f.accept
}

func (f *fakeDispatcher) EnqueueRun(ctx context.Context, run *models.Run) bool {
	f.reruns = append(f.reruns, run)
	return f.accept
}

type fakeCompiler struct {
	unit          *models.Unit
	clarification *compiler.ClarificationNeeded
	err           error
}

func (f *fakeCompiler) Compile(ctx context.Context, userID, rawPrompt string) (*models.Unit, *compiler.ClarificationNeeded, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	if f.clarification != nil {
		return nil, f.clarification, nil
	}
	u := *f.unit
	u.UserID = userID
	u.RawPrompt = rawPrompt
	return &u, nil, nil
}

func newTestHandler(disp *fakeDispatcher, comp *fakeCompiler) (*Handler, store.Store) {
	s := store.NewMemoryStore()
	cache := kv.NewMemoryStore(1000)
	conns := connections.New(s, cache, 0)
	return New(Config{
		Connections: conns,
		Dispatcher:  disp,
		Compiler:    comp,
		Units:       s,
		Runs:        s,
	}), s
}

func TestHandleSyncRejectsMalformedPayload(t *testing.T) {
	h, _ := newTestHandler(newFakeDispatcher(), &fakeCompiler{})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sync", bytes.NewBufferString(`{"connectionId":""}`))
	w := httptest.NewRecorder()

	h.handleSync(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleSyncUnresolvedConnectionStillAccepts(t *testing.T) {
	h, _ := newTestHandler(newFakeDispatcher(), &fakeCompiler{})
	body := `{"type":"sync","connectionId":"c1","providerConfigKey":"gmail","model":"GmailEmail","responseResults":{}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sync", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.handleSync(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 even for an unrecognized connection (spec: never 5xx)", w.Code)
	}
}

func TestHandleSyncEnqueuesForResolvedConnection(t *testing.T) {
	disp := newFakeDispatcher()
	h, s := newTestHandler(disp, &fakeCompiler{})

	conn := &models.Connection{UserID: "user1", Provider: "gmail", ExternalConnection: "c1", Enabled: true}
	if err := s.SaveConnection(context.Background(), conn); err != nil {
		t.Fatal(err)
	}

	body := `{"type":"sync","connectionId":"c1","providerConfigKey":"gmail","model":"GmailEmail","responseResults":{"added":[{"id":"m1"}]}}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/sync", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	h.handleSync(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	if len(disp.webhooks) != 1 || disp.webhooks[0].UserID != "user1" {
		t.Fatalf("webhooks = %+v, want one task for user1", disp.webhooks)
	}
}

func TestHandleCreateUnitPersistsCompiledUnit(t *testing.T) {
	comp := &fakeCompiler{unit: &models.Unit{Name: "draft", Trigger: models.Trigger{Source: "gmail", Type: "email_received"}}}
	h, s := newTestHandler(newFakeDispatcher(), comp)

	req := httptest.NewRequest(http.MethodPost, "/units", bytes.NewBufferString(`{"prompt":"when I get an email then notify me"}`))
	req.Header.Set("Authorization", "Bearer user1")
	w := httptest.NewRecorder()

	h.authed(h.handleCreateUnit).ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", w.Code, w.Body.String())
	}
	units, err := s.ListUnits(context.Background(), "user1")
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 1 || units[0].Status != models.UnitStatusActive {
		t.Fatalf("units = %+v, want one active unit", units)
	}
}

func TestHandleCreateUnitReturnsClarificationAsOK(t *testing.T) {
	comp := &fakeCompiler{clarification: &compiler.ClarificationNeeded{Ambiguity: "time window", Question: "how often?"}}
	h, _ := newTestHandler(newFakeDispatcher(), comp)

	req := httptest.NewRequest(http.MethodPost, "/units", bytes.NewBufferString(`{"prompt":"notify me sometimes"}`))
	req.Header.Set("Authorization", "Bearer user1")
	w := httptest.NewRecorder()

	h.authed(h.handleCreateUnit).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a clarification response", w.Code)
	}
	var decoded map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["clarification"] == nil {
		t.Fatalf("body = %s, want a clarification field", w.Body.String())
	}
}

func TestAuthedRejectsMissingBearerToken(t *testing.T) {
	h, _ := newTestHandler(newFakeDispatcher(), &fakeCompiler{})
	req := httptest.NewRequest(http.MethodGet, "/units", nil)
	w := httptest.NewRecorder()

	h.authed(h.handleListUnits).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestHandleRerunCreatesNewRunTargetingSameEvent(t *testing.T) {
	disp := newFakeDispatcher()
	h, s := newTestHandler(disp, &fakeCompiler{})

	original := &models.Run{ID: "r1", UnitID: "u1", UserID: "user1", EventID: "e1", Status: models.RunStatusFailed}
	if _, err := s.CreateRun(context.Background(), original); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/runs/r1/rerun", nil)
	req.SetPathValue("id", "r1")
	req.Header.Set("Authorization", "Bearer user1")
	w := httptest.NewRecorder()

	h.authed(h.handleRerun).ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", w.Code, w.Body.String())
	}
	if len(disp.reruns) != 1 || disp.reruns[0].EventID != "e1" || disp.reruns[0].RetryOfRun != "r1" {
		t.Fatalf("reruns = %+v, want one Run targeting e1 with RetryOfRun=r1", disp.reruns)
	}
}

// duplicateRunStore forces CreateRun to report a duplicate, simulating a
// rerun that lost a race with a concurrent one, to exercise handleRerun's
// WriteOutcome check independently of store.Store's own dedup rules.
type duplicateRunStore struct {
	store.RunStore
}

func (duplicateRunStore) CreateRun(ctx context.Context, run *models.Run) (store.WriteOutcome, error) {
	return store.OutcomeDuplicate, nil
}

func TestHandleRerunReturnsConflictOnDuplicateWrite(t *testing.T) {
	disp := newFakeDispatcher()
	s := store.NewMemoryStore()
	original := &models.Run{ID: "r1", UnitID: "u1", UserID: "user1", EventID: "e1", Status: models.RunStatusFailed}
	if _, err := s.CreateRun(context.Background(), original); err != nil {
		t.Fatal(err)
	}

	h := New(Config{
		Dispatcher: disp,
		Units:      s,
		Runs:       duplicateRunStore{RunStore: s},
	})

	req := httptest.NewRequest(http.MethodPost, "/runs/r1/rerun", nil)
	req.SetPathValue("id", "r1")
	req.Header.Set("Authorization", "Bearer user1")
	w := httptest.NewRecorder()

	h.authed(h.handleRerun).ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409, body=%s", w.Code, w.Body.String())
	}
	if len(disp.reruns) != 0 {
		t.Fatalf("reruns = %+v, want none enqueued for a duplicate write", disp.reruns)
	}
}
