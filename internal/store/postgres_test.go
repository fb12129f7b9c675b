package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/cortexflow/cortex/pkg/models"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &PostgresStore{db: db}, mock
}

func TestWriteEventDuplicateIsNotAnError(t *testing.T) {
	s, mock := newMockStore(t)
	event := &models.Event{
		ID: "evt1", UserID: "u1", Source: "email", Type: "email_received",
		RecordID: "m1", Payload: []byte(`{}`), DedupKey: "dk1", ReceivedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO events").
		WillReturnError(errDuplicateKey{})

	outcome, err := s.WriteEvent(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRunDuplicateIsNotAnError(t *testing.T) {
	s, mock := newMockStore(t)
	run := &models.Run{ID: "run1", UnitID: "unit1", UserID: "u1", EventID: "evt1", Status: models.RunStatusPending, CreatedAt: time.Now()}

	mock.ExpectExec("INSERT INTO runs").
		WillReturnError(errDuplicateKey{})

	outcome, err := s.CreateRun(context.Background(), run)
	require.NoError(t, err)
	require.Equal(t, OutcomeDuplicate, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetUnitStatusNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE units SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.SetUnitStatus(context.Background(), "missing", models.UnitStatusPaused)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveShaperStateVersionConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE shaper_state SET records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.SaveShaperState(context.Background(), &models.ShaperState{
		UserID: "u1", Source: "crm", Records: map[string]map[string]any{},
	}, 3)
	require.NoError(t, err)
	require.False(t, ok, "expected version mismatch to report no update")
	require.NoError(t, mock.ExpectationsWereMet())
}

// errDuplicateKey mimics the "duplicate key value violates unique
// constraint" message lib/pq returns on a unique-index conflict.
type errDuplicateKey struct{}

func (errDuplicateKey) Error() string {
	return `pq: duplicate key value violates unique constraint "events_user_dedup_key_idx"`
}
