// Package store persists workflows, selector repairs, runs, and
// encrypted session snapshots in a relational database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/getvergo/autoflow/pkg/contracts"
	"github.com/getvergo/autoflow/pkg/replay"

	_ "modernc.org/sqlite"
)

// ErrNotFound means the requested row does not exist.
var ErrNotFound = errors.New("not found")

// Workflow is one persisted action log with its execution settings.
type Workflow struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Actions   []contracts.Action `json:"actions"`
	Settings  contracts.Settings `json:"settings"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// SQLiteWorkflowStore keeps workflows and their selector-repair history.
type SQLiteWorkflowStore struct {
	db *sql.DB
}

// NewSQLiteWorkflowStore migrates the schema and returns the store.
func NewSQLiteWorkflowStore(db *sql.DB) (*SQLiteWorkflowStore, error) {
	s := &SQLiteWorkflowStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteWorkflowStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS workflows (
        workflow_id TEXT PRIMARY KEY,
        name TEXT,
        actions JSON NOT NULL,
        settings JSON NOT NULL,
        updated_at DATETIME
    );
    CREATE TABLE IF NOT EXISTS selector_repairs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        workflow_id TEXT NOT NULL,
        action_id TEXT NOT NULL,
        old_selector TEXT NOT NULL,
        new_selector TEXT NOT NULL,
        strategy TEXT,
        confidence REAL,
        created_at DATETIME
    );
    CREATE INDEX IF NOT EXISTS idx_repairs_workflow ON selector_repairs(workflow_id);
    CREATE TABLE IF NOT EXISTS snapshots (
        snapshot_key TEXT PRIMARY KEY,
        blob TEXT NOT NULL,
        updated_at DATETIME
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// SaveWorkflow upserts a workflow. The action log is validated before
// it is written; a log that cannot replay is not worth persisting.
func (s *SQLiteWorkflowStore) SaveWorkflow(ctx context.Context, wf *Workflow) error {
	if err := contracts.ValidateLog(wf.Actions); err != nil {
		return fmt.Errorf("refusing to persist invalid action log: %w", err)
	}
	actionsJSON, err := json.Marshal(wf.Actions)
	if err != nil {
		return fmt.Errorf("marshal actions: %w", err)
	}
	settingsJSON, err := json.Marshal(wf.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	query := `INSERT INTO workflows (workflow_id, name, actions, settings, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(workflow_id) DO UPDATE SET
            name = excluded.name,
            actions = excluded.actions,
            settings = excluded.settings,
            updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query,
		wf.ID, wf.Name, string(actionsJSON), string(settingsJSON),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to upsert workflow: %w", err)
	}
	return nil
}

// GetWorkflow loads a workflow by id.
func (s *SQLiteWorkflowStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	query := `SELECT workflow_id, name, actions, settings, updated_at FROM workflows WHERE workflow_id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var wf Workflow
	var actionsJSON, settingsJSON, updated string
	if err := row.Scan(&wf.ID, &wf.Name, &actionsJSON, &settingsJSON, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(actionsJSON), &wf.Actions); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	if err := json.Unmarshal([]byte(settingsJSON), &wf.Settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	wf.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return &wf, nil
}

// RecordRepairs appends selector substitutions from a replay and
// patches the stored action log so the next replay starts from the
// repaired selectors.
func (s *SQLiteWorkflowStore) RecordRepairs(ctx context.Context, workflowID string, repairs []replay.Repair) error {
	if len(repairs) == 0 {
		return nil
	}
	wf, err := s.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range repairs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO selector_repairs (workflow_id, action_id, old_selector, new_selector, strategy, confidence, created_at)
             VALUES (?, ?, ?, ?, ?, ?, ?)`,
			workflowID, r.ActionID, r.OldSelector, r.NewSelector, r.Strategy, r.Confidence, now)
		if err != nil {
			return fmt.Errorf("failed to insert repair: %w", err)
		}
		for i := range wf.Actions {
			if wf.Actions[i].ID == r.ActionID && wf.Actions[i].Selector == r.OldSelector {
				wf.Actions[i].Selector = r.NewSelector
			}
		}
	}

	actionsJSON, err := json.Marshal(wf.Actions)
	if err != nil {
		return fmt.Errorf("marshal patched actions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE workflows SET actions = ?, updated_at = ? WHERE workflow_id = ?`,
		string(actionsJSON), now, workflowID); err != nil {
		return fmt.Errorf("failed to patch action log: %w", err)
	}
	return tx.Commit()
}

// Repairs lists the repair history for a workflow, newest first.
func (s *SQLiteWorkflowStore) Repairs(ctx context.Context, workflowID string) ([]replay.Repair, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action_id, old_selector, new_selector, strategy, confidence
         FROM selector_repairs WHERE workflow_id = ? ORDER BY id DESC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []replay.Repair
	for rows.Next() {
		var r replay.Repair
		if err := rows.Scan(&r.ActionID, &r.OldSelector, &r.NewSelector, &r.Strategy, &r.Confidence); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PutSnapshot stores an encrypted session snapshot blob under a key.
// The blob is opaque here; encryption happens in the session vault.
func (s *SQLiteWorkflowStore) PutSnapshot(ctx context.Context, key, blob string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (snapshot_key, blob, updated_at) VALUES (?, ?, ?)
         ON CONFLICT(snapshot_key) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		key, blob, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// GetSnapshot loads an encrypted snapshot blob.
func (s *SQLiteWorkflowStore) GetSnapshot(ctx context.Context, key string) (string, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT blob FROM snapshots WHERE snapshot_key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("snapshot %s: %w", key, ErrNotFound)
	}
	return blob, err
}
