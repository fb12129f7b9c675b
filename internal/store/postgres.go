package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/cortexflow/cortex/pkg/models"
)

// PostgresConfig configures the relational connection pool, mirroring the
// teacher's CockroachConfig (internal/storage/cockroach_config.go).
type PostgresConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns sane pool defaults.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    20,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// PostgresStore is the production Store backed by github.com/lib/pq over
// database/sql, grounded on the teacher's cockroachAgentStore pattern:
// raw parameterized SQL, pq.Array for slice columns, json.Marshal/
// Unmarshal for nested JSON columns.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dsn (spec §6's
// STORE_URL) and pings it before returning.
func NewPostgresStore(dsn string, cfg *PostgresConfig) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if cfg == nil {
		cfg = DefaultPostgresConfig()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) SaveConnection(ctx context.Context, conn *models.Connection) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (id, user_id, provider, external_connection_id, enabled, error_count, last_poll_at, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (user_id, provider) DO UPDATE SET
		   external_connection_id = EXCLUDED.external_connection_id,
		   enabled = EXCLUDED.enabled,
		   error_count = EXCLUDED.error_count,
		   last_poll_at = EXCLUDED.last_poll_at,
		   updated_at = EXCLUDED.updated_at`,
		conn.ID, conn.UserID, conn.Provider, conn.ExternalConnection, conn.Enabled,
		conn.ErrorCount, conn.LastPollAt, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupUserIDByConnection(ctx context.Context, connectionID, provider string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id FROM connections WHERE external_connection_id = $1 AND provider = $2`,
		connectionID, provider,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup connection: %w", err)
	}
	return userID, nil
}

func (s *PostgresStore) GetConnection(ctx context.Context, userID, provider string) (*models.Connection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, external_connection_id, enabled, error_count, last_poll_at, created_at, updated_at
		 FROM connections WHERE user_id = $1 AND provider = $2`, userID, provider)
	var c models.Connection
	var lastPoll sql.NullTime
	if err := row.Scan(&c.ID, &c.UserID, &c.Provider, &c.ExternalConnection, &c.Enabled, &c.ErrorCount, &lastPoll, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get connection: %w", err)
	}
	if lastPoll.Valid {
		c.LastPollAt = lastPoll.Time
	}
	return &c, nil
}

func (s *PostgresStore) ListConnections(ctx context.Context, userID string) ([]*models.Connection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, provider, external_connection_id, enabled, error_count, last_poll_at, created_at, updated_at
		 FROM connections WHERE user_id = $1 ORDER BY provider`, userID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var out []*models.Connection
	for rows.Next() {
		var c models.Connection
		var lastPoll sql.NullTime
		if err := rows.Scan(&c.ID, &c.UserID, &c.Provider, &c.ExternalConnection, &c.Enabled, &c.ErrorCount, &lastPoll, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		if lastPoll.Valid {
			c.LastPollAt = lastPoll.Time
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteConnection(ctx context.Context, userID, provider string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE user_id = $1 AND provider = $2`, userID, provider)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveUnit(ctx context.Context, unit *models.Unit) error {
	trigger, err := json.Marshal(unit.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	conditions, err := json.Marshal(unit.Conditions)
	if err != nil {
		return fmt.Errorf("marshal conditions: %w", err)
	}
	actions, err := json.Marshal(unit.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO units (id, user_id, name, raw_prompt, trigger, conditions, actions, status, compiled_at, compiler_model, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (id) DO UPDATE SET
		   name = EXCLUDED.name, raw_prompt = EXCLUDED.raw_prompt, trigger = EXCLUDED.trigger,
		   conditions = EXCLUDED.conditions, actions = EXCLUDED.actions, status = EXCLUDED.status,
		   compiled_at = EXCLUDED.compiled_at, compiler_model = EXCLUDED.compiler_model, updated_at = EXCLUDED.updated_at`,
		unit.ID, unit.UserID, unit.Name, unit.RawPrompt, trigger, conditions, actions,
		unit.Status, unit.CompiledAt, unit.CompilerModel, unit.CreatedAt, unit.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save unit: %w", err)
	}
	return nil
}

func scanUnit(row interface {
	Scan(dest ...any) error
}) (*models.Unit, error) {
	var u models.Unit
	var trigger, conditions, actions []byte
	if err := row.Scan(&u.ID, &u.UserID, &u.Name, &u.RawPrompt, &trigger, &conditions, &actions,
		&u.Status, &u.CompiledAt, &u.CompilerModel, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(trigger, &u.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if err := json.Unmarshal(conditions, &u.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshal conditions: %w", err)
	}
	if err := json.Unmarshal(actions, &u.Actions); err != nil {
		return nil, fmt.Errorf("unmarshal actions: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUnit(ctx context.Context, id string) (*models.Unit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, raw_prompt, trigger, conditions, actions, status, compiled_at, compiler_model, created_at, updated_at
		 FROM units WHERE id = $1`, id)
	u, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get unit: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ListActiveUnits(ctx context.Context, userID, source, eventType string) ([]*models.Unit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, raw_prompt, trigger, conditions, actions, status, compiled_at, compiler_model, created_at, updated_at
		 FROM units
		 WHERE user_id = $1 AND status = $2 AND trigger->>'source' = $3 AND trigger->>'type' = $4`,
		userID, models.UnitStatusActive, source, eventType)
	if err != nil {
		return nil, fmt.Errorf("list active units: %w", err)
	}
	defer rows.Close()

	var out []*models.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListUnits(ctx context.Context, userID string) ([]*models.Unit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, raw_prompt, trigger, conditions, actions, status, compiled_at, compiler_model, created_at, updated_at
		 FROM units WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var out []*models.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetUnitStatus(ctx context.Context, id string, status models.UnitStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE units SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("set unit status: %w", err)
	}
	return checkRowAffected(res)
}

func (s *PostgresStore) DeleteUnit(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM units WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete unit: %w", err)
	}
	return checkRowAffected(res)
}

func (s *PostgresStore) WriteEvent(ctx context.Context, event *models.Event) (WriteOutcome, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, user_id, source, type, record_id, payload, raw_payload, dedup_key, received_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		event.ID, event.UserID, event.Source, event.Type, event.RecordID,
		[]byte(event.Payload), nullableRaw(event.RawPayload), event.DedupKey, event.ReceivedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return OutcomeDuplicate, nil
		}
		return "", fmt.Errorf("write event: %w", err)
	}
	return OutcomeCreated, nil
}

func nullableRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, source, type, record_id, payload, raw_payload, dedup_key, received_at
		 FROM events WHERE id = $1`, id)
	var e models.Event
	var rawPayload []byte
	if err := row.Scan(&e.ID, &e.UserID, &e.Source, &e.Type, &e.RecordID, &e.Payload, &rawPayload, &e.DedupKey, &e.ReceivedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	if len(rawPayload) > 0 {
		e.RawPayload = rawPayload
	}
	return &e, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.Run) (WriteOutcome, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, unit_id, user_id, event_id, status, attempts, retry_of_run_id, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		run.ID, run.UnitID, run.UserID, run.EventID, run.Status, run.Attempts, nullString(run.RetryOfRun), run.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate") {
			return OutcomeDuplicate, nil
		}
		return "", fmt.Errorf("create run: %w", err)
	}
	return OutcomeCreated, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*models.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, unit_id, user_id, event_id, status, attempts, retry_of_run_id, started_at, completed_at, error, created_at
		 FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func scanRun(row interface{ Scan(dest ...any) error }) (*models.Run, error) {
	var r models.Run
	var retryOf sql.NullString
	var started, completed sql.NullTime
	var errText sql.NullString
	if err := row.Scan(&r.ID, &r.UnitID, &r.UserID, &r.EventID, &r.Status, &r.Attempts, &retryOf, &started, &completed, &errText, &r.CreatedAt); err != nil {
		return nil, err
	}
	if retryOf.Valid {
		r.RetryOfRun = retryOf.String
	}
	if started.Valid {
		r.StartedAt = &started.Time
	}
	if completed.Valid {
		r.CompletedAt = &completed.Time
	}
	if errText.Valid {
		r.Error = errText.String
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, userID string, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, unit_id, user_id, event_id, status, attempts, retry_of_run_id, started_at, completed_at, error, created_at
		 FROM runs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendStep(ctx context.Context, step *models.RunStep) error {
	input, err := json.Marshal(step.Input)
	if err != nil {
		return fmt.Errorf("marshal step input: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_steps (run_id, index, action_kind, input, status, attempts, started_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		step.RunID, step.Index, step.ActionKind, input, step.Status, step.Attempts, step.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("append step: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinishStep(ctx context.Context, step *models.RunStep) error {
	output, err := json.Marshal(step.Output)
	if err != nil {
		return fmt.Errorf("marshal step output: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_steps SET output = $1, status = $2, error = $3, attempts = $4, duration_ms = $5, completed_at = $6
		 WHERE run_id = $7 AND index = $8`,
		output, step.Status, nullString(step.Error), step.Attempts, step.DurationMs, step.CompletedAt, step.RunID, step.Index,
	)
	if err != nil {
		return fmt.Errorf("finish step: %w", err)
	}
	return checkRowAffected(res)
}

func (s *PostgresStore) ListSteps(ctx context.Context, runID string) ([]*models.RunStep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, index, action_kind, input, output, status, error, attempts, duration_ms, started_at, completed_at
		 FROM run_steps WHERE run_id = $1 ORDER BY index`, runID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var out []*models.RunStep
	for rows.Next() {
		var st models.RunStep
		var input, output []byte
		var errText sql.NullString
		var started, completed sql.NullTime
		if err := rows.Scan(&st.RunID, &st.Index, &st.ActionKind, &input, &output, &st.Status, &errText, &st.Attempts, &st.DurationMs, &started, &completed); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		if len(input) > 0 {
			_ = json.Unmarshal(input, &st.Input)
		}
		if len(output) > 0 {
			_ = json.Unmarshal(output, &st.Output)
		}
		if errText.Valid {
			st.Error = errText.String
		}
		if started.Valid {
			st.StartedAt = &started.Time
		}
		if completed.Valid {
			st.CompletedAt = &completed.Time
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FinishRun(ctx context.Context, run *models.Run) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = $1, completed_at = $2, error = $3 WHERE id = $4`,
		run.Status, run.CompletedAt, nullString(run.Error), run.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return checkRowAffected(res)
}

func (s *PostgresStore) SetRunStatus(ctx context.Context, id string, status models.RunStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("set run status: %w", err)
	}
	return checkRowAffected(res)
}

func (s *PostgresStore) LoadShaperState(ctx context.Context, userID, source string) (*models.ShaperState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT records, last_seen, version, updated_at FROM shaper_state WHERE user_id = $1 AND source = $2`, userID, source)
	var records, lastSeen []byte
	var st models.ShaperState
	st.UserID = userID
	st.Source = source
	if err := row.Scan(&records, &lastSeen, &st.Version, &st.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			st.Records = map[string]map[string]any{}
			st.LastSeen = map[string]time.Time{}
			return &st, nil
		}
		return nil, fmt.Errorf("load shaper state: %w", err)
	}
	if err := json.Unmarshal(records, &st.Records); err != nil {
		return nil, fmt.Errorf("unmarshal shaper state: %w", err)
	}
	if len(lastSeen) > 0 {
		if err := json.Unmarshal(lastSeen, &st.LastSeen); err != nil {
			return nil, fmt.Errorf("unmarshal shaper state last_seen: %w", err)
		}
	}
	if st.LastSeen == nil {
		st.LastSeen = map[string]time.Time{}
	}
	return &st, nil
}

func (s *PostgresStore) SaveShaperState(ctx context.Context, state *models.ShaperState, expectedVersion int64) (bool, error) {
	records, err := json.Marshal(state.Records)
	if err != nil {
		return false, fmt.Errorf("marshal shaper state: %w", err)
	}
	lastSeen, err := json.Marshal(state.LastSeen)
	if err != nil {
		return false, fmt.Errorf("marshal shaper state last_seen: %w", err)
	}

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO shaper_state (user_id, source, records, last_seen, version, updated_at)
			 VALUES ($1,$2,$3,$4,1,now())
			 ON CONFLICT (user_id, source) DO NOTHING`,
			state.UserID, state.Source, records, lastSeen,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE shaper_state SET records = $1, last_seen = $2, version = version + 1, updated_at = now()
			 WHERE user_id = $3 AND source = $4 AND version = $5`,
			records, lastSeen, state.UserID, state.Source, expectedVersion,
		)
	}
	if err != nil {
		return false, fmt.Errorf("save shaper state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save shaper state rows affected: %w", err)
	}
	return rows > 0, nil
}

func checkRowAffected(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
