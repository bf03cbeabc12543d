package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/getvergo/autoflow/pkg/contracts"
)

// SQLiteRunStore persists run records and their ordered logs. SaveRun
// is an upsert keyed by run id; logs are rewritten wholesale so the
// stored sequence always matches the in-memory record.
type SQLiteRunStore struct {
	db *sql.DB
}

// NewSQLiteRunStore migrates the schema and returns the store.
func NewSQLiteRunStore(db *sql.DB) (*SQLiteRunStore, error) {
	s := &SQLiteRunStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteRunStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS runs (
        run_id TEXT PRIMARY KEY,
        workflow_id TEXT,
        status TEXT NOT NULL,
        started_at DATETIME,
        finished_at DATETIME,
        error TEXT
    );
    CREATE TABLE IF NOT EXISTS run_logs (
        run_id TEXT NOT NULL,
        seq INTEGER NOT NULL,
        level TEXT NOT NULL,
        message TEXT,
        step_index INTEGER,
        at DATETIME,
        PRIMARY KEY (run_id, seq)
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// SaveRun upserts the record and rewrites its log rows in one
// transaction.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, rec *contracts.RunRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var finished any
	if rec.FinishedAt != nil {
		finished = rec.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, workflow_id, status, started_at, finished_at, error)
         VALUES (?, ?, ?, ?, ?, ?)
         ON CONFLICT(run_id) DO UPDATE SET
             status = excluded.status,
             finished_at = excluded.finished_at,
             error = excluded.error`,
		rec.RunID, rec.WorkflowID, string(rec.Status),
		rec.StartedAt.UTC().Format(time.RFC3339Nano), finished, rec.Error)
	if err != nil {
		return fmt.Errorf("failed to upsert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_logs WHERE run_id = ?`, rec.RunID); err != nil {
		return err
	}
	for _, l := range rec.Logs {
		var stepIndex any
		if l.StepIndex != nil {
			stepIndex = *l.StepIndex
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_logs (run_id, seq, level, message, step_index, at) VALUES (?, ?, ?, ?, ?, ?)`,
			rec.RunID, l.Seq, string(l.Level), l.Message, stepIndex, l.At.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("failed to insert run log %d: %w", l.Seq, err)
		}
	}
	return tx.Commit()
}

// GetRun loads a run record with its logs in sequence order.
func (s *SQLiteRunStore) GetRun(ctx context.Context, runID string) (*contracts.RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, workflow_id, status, started_at, finished_at, error FROM runs WHERE run_id = ?`, runID)

	var rec contracts.RunRecord
	var status, started string
	var finished sql.NullString
	if err := row.Scan(&rec.RunID, &rec.WorkflowID, &status, &started, &finished, &rec.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, err
	}
	rec.Status = contracts.RunStatus(status)
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if finished.Valid {
		t, err := time.Parse(time.RFC3339Nano, finished.String)
		if err == nil {
			rec.FinishedAt = &t
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, level, message, step_index, at FROM run_logs WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var l contracts.RunLog
		var level, at string
		var stepIndex sql.NullInt64
		if err := rows.Scan(&l.Seq, &level, &l.Message, &stepIndex, &at); err != nil {
			return nil, err
		}
		l.Level = contracts.LogLevel(level)
		if stepIndex.Valid {
			idx := int(stepIndex.Int64)
			l.StepIndex = &idx
		}
		l.At, _ = time.Parse(time.RFC3339Nano, at)
		rec.Logs = append(rec.Logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRuns returns the most recent runs for a workflow, newest first.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, workflowID string, limit int) ([]*contracts.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, workflow_id, status, started_at, finished_at, error
         FROM runs WHERE workflow_id = ? ORDER BY started_at DESC LIMIT ?`, workflowID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*contracts.RunRecord
	for rows.Next() {
		var rec contracts.RunRecord
		var status, started string
		var finished sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.WorkflowID, &status, &started, &finished, &rec.Error); err != nil {
			return nil, err
		}
		rec.Status = contracts.RunStatus(status)
		rec.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			if t, err := time.Parse(time.RFC3339Nano, finished.String); err == nil {
				rec.FinishedAt = &t
			}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
