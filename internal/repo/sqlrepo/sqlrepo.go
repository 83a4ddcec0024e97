// Copyright 2025 The webpdtool Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package sqlrepo implements repo.Repository on PostgreSQL.
package sqlrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sprigga/webpdtool/errors"
	"github.com/sprigga/webpdtool/internal/plan"
	"github.com/sprigga/webpdtool/internal/repo"
)

// Schema creates the tables this package reads and writes.
const Schema = `
CREATE TABLE IF NOT EXISTS test_sessions (
	id            TEXT PRIMARY KEY,
	serial_number TEXT NOT NULL,
	station_id    TEXT NOT NULL,
	operator_id   TEXT NOT NULL DEFAULT '',
	project_id    TEXT NOT NULL DEFAULT '',
	plan_name     TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	ended_at      TIMESTAMPTZ,
	total_items   INTEGER NOT NULL DEFAULT 0,
	pass_items    INTEGER NOT NULL DEFAULT 0,
	fail_items    INTEGER NOT NULL DEFAULT 0,
	error_items   INTEGER NOT NULL DEFAULT 0,
	final_result  TEXT NOT NULL DEFAULT '',
	duration_ms   BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS test_results (
	id             BIGSERIAL PRIMARY KEY,
	session_id     TEXT NOT NULL REFERENCES test_sessions(id),
	item_id        BIGINT NOT NULL DEFAULT 0,
	item_no        INTEGER NOT NULL,
	item_name      TEXT NOT NULL,
	measured_value TEXT NOT NULL DEFAULT '',
	lower_limit    DOUBLE PRECISION,
	upper_limit    DOUBLE PRECISION,
	unit           TEXT NOT NULL DEFAULT '',
	result         TEXT NOT NULL,
	error_message  TEXT NOT NULL DEFAULT '',
	duration_ms    BIGINT NOT NULL DEFAULT 0,
	started_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS test_plan_items (
	id          BIGSERIAL PRIMARY KEY,
	project_id  TEXT NOT NULL,
	station_id  TEXT NOT NULL,
	plan_name   TEXT NOT NULL,
	item_no     INTEGER NOT NULL,
	item_name   TEXT NOT NULL,
	item_key    TEXT NOT NULL,
	command     TEXT NOT NULL,
	switch_mode TEXT NOT NULL DEFAULT '',
	parameters  TEXT NOT NULL DEFAULT '{}',
	value_type  TEXT NOT NULL,
	limit_type  TEXT NOT NULL,
	lower_limit DOUBLE PRECISION,
	upper_limit DOUBLE PRECISION,
	eq_limit    TEXT,
	unit        TEXT NOT NULL DEFAULT '',
	enabled     BOOLEAN NOT NULL DEFAULT TRUE,
	timeout_ms  INTEGER NOT NULL DEFAULT 0,
	wait_ms     INTEGER NOT NULL DEFAULT 0,
	use_result  TEXT NOT NULL DEFAULT '',
	use_result_key TEXT NOT NULL DEFAULT '',
	UNIQUE (project_id, station_id, plan_name, item_no)
);
`

// Repo is a PostgreSQL-backed repo.Repository.
type Repo struct {
	db *sqlx.DB
}

// Open connects to the database at dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Repo, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, classify(errors.Wrap(err, "failed to ping database"))
	}
	return &Repo{db: db}, nil
}

// NewFromDB wraps an existing connection. Tests use it with sqlmock.
func NewFromDB(db *sqlx.DB) *Repo { return &Repo{db: db} }

// Migrate applies the schema.
func (r *Repo) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return classify(errors.Wrap(err, "failed to migrate schema"))
	}
	return nil
}

// Close closes the underlying pool.
func (r *Repo) Close() error { return r.db.Close() }

// classify maps driver errors onto the repo taxonomy. Serialization
// conflicts, deadlocks and connection drops are worth one more try;
// everything else is fatal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			return errors.Wrapf(repo.ErrRetryable, "%v", err)
		case strings.HasPrefix(pgErr.Code, "08"): // connection exceptions
			return errors.Wrapf(repo.ErrRetryable, "%v", err)
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrapf(repo.ErrNotFound, "%v", err)
	}
	return err
}

type planItemRow struct {
	ID           int64           `db:"id"`
	ItemNo       int             `db:"item_no"`
	ItemName     string          `db:"item_name"`
	ItemKey      string          `db:"item_key"`
	Command      string          `db:"command"`
	SwitchMode   string          `db:"switch_mode"`
	Parameters   string          `db:"parameters"`
	ValueType    string          `db:"value_type"`
	LimitType    string          `db:"limit_type"`
	LowerLimit   sql.NullFloat64 `db:"lower_limit"`
	UpperLimit   sql.NullFloat64 `db:"upper_limit"`
	EqLimit      sql.NullString  `db:"eq_limit"`
	Unit         string          `db:"unit"`
	Enabled      bool            `db:"enabled"`
	TimeoutMS    int             `db:"timeout_ms"`
	WaitMS       int             `db:"wait_ms"`
	UseResult    string          `db:"use_result"`
	UseResultKey string          `db:"use_result_key"`
}

func (row *planItemRow) toItem() (*plan.Item, error) {
	params := plan.Params{}
	if row.Parameters != "" {
		if err := json.Unmarshal([]byte(row.Parameters), &params); err != nil {
			return nil, errors.Wrapf(err, "item %d has bad parameters", row.ItemNo)
		}
	}
	vt, err := plan.ParseValueType(row.ValueType)
	if err != nil {
		return nil, errors.Wrapf(err, "item %d", row.ItemNo)
	}
	lt, err := plan.ParseLimitType(row.LimitType)
	if err != nil {
		return nil, errors.Wrapf(err, "item %d", row.ItemNo)
	}
	it := &plan.Item{
		ID:           row.ID,
		ItemNo:       row.ItemNo,
		ItemName:     row.ItemName,
		ItemKey:      row.ItemKey,
		Command:      row.Command,
		SwitchMode:   row.SwitchMode,
		Params:       params,
		ValueType:    vt,
		LimitType:    lt,
		EqLimit:      row.EqLimit.String,
		HasEqLimit:   row.EqLimit.Valid,
		Unit:         row.Unit,
		Enabled:      row.Enabled,
		TimeoutMS:    row.TimeoutMS,
		WaitMS:       row.WaitMS,
		UseResult:    row.UseResult,
		UseResultKey: row.UseResultKey,
	}
	if row.LowerLimit.Valid {
		v := row.LowerLimit.Float64
		it.LowerLimit = &v
	}
	if row.UpperLimit.Valid {
		v := row.UpperLimit.Float64
		it.UpperLimit = &v
	}
	return it, nil
}

func (r *Repo) LoadTestPlan(ctx context.Context, projectID, stationID, planName string) ([]*plan.Item, error) {
	var rows []planItemRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, item_no, item_name, item_key, command, switch_mode, parameters,
		       value_type, limit_type, lower_limit, upper_limit, eq_limit, unit,
		       enabled, timeout_ms, wait_ms, use_result, use_result_key
		FROM test_plan_items
		WHERE project_id = $1 AND station_id = $2 AND plan_name = $3
		ORDER BY item_no`,
		projectID, stationID, planName)
	if err != nil {
		return nil, classify(errors.Wrap(err, "failed to load test plan"))
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(repo.ErrNotFound, "no test plan for %s/%s/%s", projectID, stationID, planName)
	}
	items := make([]*plan.Item, 0, len(rows))
	for i := range rows {
		it, err := rows[i].toItem()
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return plan.Normalize(items)
}

func (r *Repo) CreateSession(ctx context.Context, s *repo.Session) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO test_sessions (id, serial_number, station_id, operator_id, project_id, plan_name, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.SerialNumber, s.StationID, s.OperatorID, s.ProjectID, s.PlanName, string(s.Status), s.StartedAt)
	return classify(errors.Wrap(err, "failed to create session"))
}

func (r *Repo) AppendResult(ctx context.Context, res *repo.Result) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO test_results (session_id, item_id, item_no, item_name, measured_value,
		                          lower_limit, upper_limit, unit, result, error_message,
		                          duration_ms, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		res.SessionID, res.ItemID, res.ItemNo, res.ItemName, res.MeasuredValue,
		nullFloat(res.LowerLimit), nullFloat(res.UpperLimit), res.Unit, string(res.Outcome),
		res.ErrorMessage, res.DurationMS, res.StartedAt)
	return classify(errors.Wrap(err, "failed to append result"))
}

func (r *Repo) FinalizeSession(ctx context.Context, s *repo.Session) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE test_sessions
		SET status = $2, ended_at = $3, total_items = $4, pass_items = $5,
		    fail_items = $6, error_items = $7, final_result = $8, duration_ms = $9
		WHERE id = $1 AND status IN ('created', 'running')`,
		s.ID, string(s.Status), s.EndedAt, s.TotalItems, s.PassItems,
		s.FailItems, s.ErrorItems, string(s.FinalResult), s.DurationMS)
	if err != nil {
		return classify(errors.Wrap(err, "failed to finalize session"))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Errorf("session %s is missing or already terminal", s.ID)
	}
	return nil
}

type sessionRow struct {
	ID           string       `db:"id"`
	SerialNumber string       `db:"serial_number"`
	StationID    string       `db:"station_id"`
	OperatorID   string       `db:"operator_id"`
	ProjectID    string       `db:"project_id"`
	PlanName     string       `db:"plan_name"`
	Status       string       `db:"status"`
	StartedAt    time.Time    `db:"started_at"`
	EndedAt      sql.NullTime `db:"ended_at"`
	TotalItems   int          `db:"total_items"`
	PassItems    int          `db:"pass_items"`
	FailItems    int          `db:"fail_items"`
	ErrorItems   int          `db:"error_items"`
	FinalResult  string       `db:"final_result"`
	DurationMS   int64        `db:"duration_ms"`
}

func (row *sessionRow) toSession() *repo.Session {
	s := &repo.Session{
		ID:           row.ID,
		SerialNumber: row.SerialNumber,
		StationID:    row.StationID,
		OperatorID:   row.OperatorID,
		ProjectID:    row.ProjectID,
		PlanName:     row.PlanName,
		Status:       repo.Status(row.Status),
		StartedAt:    row.StartedAt,
		TotalItems:   row.TotalItems,
		PassItems:    row.PassItems,
		FailItems:    row.FailItems,
		ErrorItems:   row.ErrorItems,
		FinalResult:  repo.Outcome(row.FinalResult),
		DurationMS:   row.DurationMS,
	}
	if row.EndedAt.Valid {
		s.EndedAt = row.EndedAt.Time
	}
	return s
}

const sessionColumns = `id, serial_number, station_id, operator_id, project_id, plan_name,
	status, started_at, ended_at, total_items, pass_items, fail_items, error_items,
	final_result, duration_ms`

func (r *Repo) GetSession(ctx context.Context, id string) (*repo.Session, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, `SELECT `+sessionColumns+` FROM test_sessions WHERE id = $1`, id)
	if err != nil {
		return nil, classify(errors.Wrapf(err, "failed to get session %s", id))
	}
	return row.toSession(), nil
}

func (r *Repo) ListSessions(ctx context.Context, f repo.Filter) ([]*repo.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM test_sessions WHERE 1=1`
	var args []interface{}
	add := func(cond, val string) {
		args = append(args, val)
		q += " AND " + cond + "$" + strconv.Itoa(len(args))
	}
	if f.SerialNumber != "" {
		add("serial_number = ", f.SerialNumber)
	}
	if f.StationID != "" {
		add("station_id = ", f.StationID)
	}
	if f.ProjectID != "" {
		add("project_id = ", f.ProjectID)
	}
	if f.Status != "" {
		add("status = ", string(f.Status))
	}
	q += " ORDER BY started_at"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += " LIMIT $" + strconv.Itoa(len(args))
	}

	var rows []sessionRow
	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, classify(errors.Wrap(err, "failed to list sessions"))
	}
	out := make([]*repo.Session, len(rows))
	for i := range rows {
		out[i] = rows[i].toSession()
	}
	return out, nil
}

type resultRow struct {
	SessionID     string          `db:"session_id"`
	ItemID        int64           `db:"item_id"`
	ItemNo        int             `db:"item_no"`
	ItemName      string          `db:"item_name"`
	MeasuredValue string          `db:"measured_value"`
	LowerLimit    sql.NullFloat64 `db:"lower_limit"`
	UpperLimit    sql.NullFloat64 `db:"upper_limit"`
	Unit          string          `db:"unit"`
	Result        string          `db:"result"`
	ErrorMessage  string          `db:"error_message"`
	DurationMS    int64           `db:"duration_ms"`
	StartedAt     time.Time       `db:"started_at"`
}

func (r *Repo) ListResults(ctx context.Context, sessionID string) ([]*repo.Result, error) {
	var rows []resultRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT session_id, item_id, item_no, item_name, measured_value, lower_limit,
		       upper_limit, unit, result, error_message, duration_ms, started_at
		FROM test_results WHERE session_id = $1 ORDER BY item_no`, sessionID)
	if err != nil {
		return nil, classify(errors.Wrapf(err, "failed to list results for %s", sessionID))
	}
	out := make([]*repo.Result, len(rows))
	for i := range rows {
		row := &rows[i]
		res := &repo.Result{
			SessionID:     row.SessionID,
			ItemID:        row.ItemID,
			ItemNo:        row.ItemNo,
			ItemName:      row.ItemName,
			MeasuredValue: row.MeasuredValue,
			Unit:          row.Unit,
			Outcome:       repo.Outcome(row.Result),
			ErrorMessage:  row.ErrorMessage,
			DurationMS:    row.DurationMS,
			StartedAt:     row.StartedAt,
		}
		if row.LowerLimit.Valid {
			v := row.LowerLimit.Float64
			res.LowerLimit = &v
		}
		if row.UpperLimit.Valid {
			v := row.UpperLimit.Float64
			res.UpperLimit = &v
		}
		out[i] = res
	}
	return out, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

