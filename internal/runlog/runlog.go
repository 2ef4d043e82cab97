// Package runlog records pipeline runs and their stages in a SQLite ledger.
// A completed stage carries the fingerprint of its inputs so a later run can
// reuse its published outputs.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Status is the state of a run or stage.
type Status string

// Statuses.
const (
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusReused   Status = "reused"
)

// Run is one invocation of the pipeline.
type Run struct {
	ID         string     `json:"id"`
	Stages     string     `json:"stages"`
	Status     Status     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Stage is one stage execution within a run.
type Stage struct {
	ID          string          `json:"id"`
	RunID       string          `json:"run_id"`
	Name        string          `json:"name"`
	Status      Status          `json:"status"`
	Fingerprint string          `json:"fingerprint"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// Ledger persists runs in SQLite.
type Ledger struct {
	db *sql.DB
}

// Open opens the ledger at path and configures WAL mode.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "runlog: exec %s", pragma)
		}
	}
	return &Ledger{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	stages      TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	error       TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_stages (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL REFERENCES runs(id),
	name        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	fingerprint TEXT NOT NULL,
	result      TEXT,
	error       TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_run_stages_run_id ON run_stages(run_id);
CREATE INDEX IF NOT EXISTS idx_run_stages_name ON run_stages(name, status);
`

// Migrate creates the ledger tables.
func (l *Ledger) Migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "runlog: migrate")
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// StartRun records a new running run.
func (l *Ledger) StartRun(ctx context.Context, stages string) (*Run, error) {
	r := &Run{ID: uuid.New().String(), Stages: stages, Status: StatusRunning, StartedAt: time.Now().UTC()}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, stages, status, started_at) VALUES (?, ?, ?, ?)`,
		r.ID, r.Stages, string(r.Status), r.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: insert run")
	}
	return r, nil
}

// FinishRun marks a run complete, or failed when runErr is not nil.
func (l *Ledger) FinishRun(ctx context.Context, runID string, runErr error) error {
	status, msg := outcome(runErr, StatusComplete)
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// StartStage records a running stage of a run.
func (l *Ledger) StartStage(ctx context.Context, runID, name, fingerprint string) (*Stage, error) {
	s := &Stage{
		ID:          uuid.New().String(),
		RunID:       runID,
		Name:        name,
		Status:      StatusRunning,
		Fingerprint: fingerprint,
		StartedAt:   time.Now().UTC(),
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO run_stages (id, run_id, name, status, fingerprint, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.RunID, s.Name, string(s.Status), s.Fingerprint, s.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: insert stage %s for run %s", name, runID)
	}
	return s, nil
}

// FinishStage records the outcome of a stage. result is stored as JSON.
// Without stageErr the stage ends with status done.
func (l *Ledger) FinishStage(ctx context.Context, stageID string, done Status, result any, stageErr error) error {
	var resultJSON sql.NullString
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal stage result")
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
	}
	status, msg := outcome(stageErr, done)
	res, err := l.db.ExecContext(ctx,
		`UPDATE run_stages SET status = ?, result = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), resultJSON, msg, time.Now().UTC(), stageID,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: finish stage %s", stageID)
	}
	return checkRowsAffected(res, "stage", stageID)
}

// LastPublished returns the most recent stage named name that produced (or
// reused) published outputs, or nil when there is none.
func (l *Ledger) LastPublished(ctx context.Context, name string) (*Stage, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, run_id, name, status, fingerprint, result, error, started_at, finished_at
		 FROM run_stages WHERE name = ? AND status IN (?, ?)
		 ORDER BY finished_at DESC, rowid DESC LIMIT 1`,
		name, string(StatusComplete), string(StatusReused),
	)
	s, err := scanStage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return s, err
}

// ListRuns returns the latest runs, newest first.
func (l *Ledger) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, stages, status, error, started_at, finished_at FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		var r Run
		var msg sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Stages, &r.Status, &msg, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "runlog: scan run")
		}
		r.Error = msg.String
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "runlog: list runs iterate")
}

// ListStages returns the stages of a run in start order.
func (l *Ledger) ListStages(ctx context.Context, runID string) ([]Stage, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, run_id, name, status, fingerprint, result, error, started_at, finished_at
		 FROM run_stages WHERE run_id = ? ORDER BY started_at, rowid`,
		runID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "runlog: list stages of %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var stages []Stage
	for rows.Next() {
		s, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, *s)
	}
	return stages, eris.Wrap(rows.Err(), "runlog: list stages iterate")
}

// helpers

func outcome(err error, done Status) (Status, sql.NullString) {
	if err != nil {
		return StatusFailed, sql.NullString{String: err.Error(), Valid: true}
	}
	return done, sql.NullString{}
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "runlog: rows affected")
	}
	if n == 0 {
		return eris.Errorf("runlog: %s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanStage(row scannable) (*Stage, error) {
	var s Stage
	var result, msg sql.NullString
	var finished sql.NullTime
	err := row.Scan(&s.ID, &s.RunID, &s.Name, &s.Status, &s.Fingerprint, &result, &msg, &s.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "runlog: scan stage")
	}
	if result.Valid {
		s.Result = json.RawMessage(result.String)
	}
	s.Error = msg.String
	if finished.Valid {
		s.FinishedAt = &finished.Time
	}
	return &s, nil
}
