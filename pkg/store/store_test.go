package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getvergo/autoflow/pkg/contracts"
	"github.com/getvergo/autoflow/pkg/replay"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleActions() []contracts.Action {
	return []contracts.Action{
		{ID: "nav", Type: contracts.ActionNavigate, URL: "https://app.getvergo.com/", Order: 0},
		{ID: "click", Type: contracts.ActionClick, Selector: "#login-btn", Order: 1},
	}
}

func TestWorkflowRoundtrip(t *testing.T) {
	s, err := NewSQLiteWorkflowStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	wf := &Workflow{
		ID:       "wf-1",
		Name:     "invoice entry",
		Actions:  sampleActions(),
		Settings: contracts.DefaultSettings(),
	}
	require.NoError(t, s.SaveWorkflow(ctx, wf))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "invoice entry", got.Name)
	require.Len(t, got.Actions, 2)
	assert.Equal(t, "#login-btn", got.Actions[1].Selector)
	assert.Equal(t, contracts.DefaultSettings(), got.Settings)

	// upsert replaces
	wf.Name = "invoice entry v2"
	require.NoError(t, s.SaveWorkflow(ctx, wf))
	got, err = s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "invoice entry v2", got.Name)

	_, err = s.GetWorkflow(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveWorkflowRejectsInvalidLog(t *testing.T) {
	s, err := NewSQLiteWorkflowStore(testDB(t))
	require.NoError(t, err)

	err = s.SaveWorkflow(context.Background(), &Workflow{
		ID:      "bad",
		Actions: []contracts.Action{{ID: "x", Type: contracts.ActionClick, Order: 5}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid action log")
}

func TestRecordRepairsPatchesStoredLog(t *testing.T) {
	s, err := NewSQLiteWorkflowStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.SaveWorkflow(ctx, &Workflow{
		ID: "wf-1", Actions: sampleActions(), Settings: contracts.DefaultSettings(),
	}))

	repairs := []replay.Repair{{
		ActionID:    "click",
		OldSelector: "#login-btn",
		NewSelector: `button[data-testid="login-button"]`,
		Strategy:    "attribute_rewrite",
		Confidence:  0.8,
	}}
	require.NoError(t, s.RecordRepairs(ctx, "wf-1", repairs))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, `button[data-testid="login-button"]`, got.Actions[1].Selector)

	hist, err := s.Repairs(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "click", hist[0].ActionID)
	assert.InDelta(t, 0.8, hist[0].Confidence, 1e-9)

	// no repairs is a no-op, not an error
	require.NoError(t, s.RecordRepairs(ctx, "wf-1", nil))
}

func TestSnapshotBlobRoundtrip(t *testing.T) {
	s, err := NewSQLiteWorkflowStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.PutSnapshot(ctx, "wf-1", "opaque-encrypted-blob"))
	blob, err := s.GetSnapshot(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "opaque-encrypted-blob", blob)

	require.NoError(t, s.PutSnapshot(ctx, "wf-1", "rotated-blob"))
	blob, err = s.GetSnapshot(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "rotated-blob", blob)

	_, err = s.GetSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunRoundtrip(t *testing.T) {
	s, err := NewSQLiteRunStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	step := 0
	rec := &contracts.RunRecord{
		RunID:      "run-1",
		WorkflowID: "wf-1",
		Status:     contracts.RunRunning,
		StartedAt:  started,
		Logs: []contracts.RunLog{
			{Seq: 0, Level: contracts.LevelInfo, Message: "authenticating", At: started},
			{Seq: 1, Level: contracts.LevelInfo, Message: "step succeeded", StepIndex: &step, At: started},
		},
	}
	require.NoError(t, s.SaveRun(ctx, rec))

	finished := started.Add(2 * time.Second)
	rec.Status = contracts.RunSuccess
	rec.FinishedAt = &finished
	rec.Logs = append(rec.Logs, contracts.RunLog{
		Seq: 2, Level: contracts.LevelWarn, Message: "selector repaired", At: finished,
	})
	require.NoError(t, s.SaveRun(ctx, rec))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, contracts.RunSuccess, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(finished))
	require.Len(t, got.Logs, 3)
	assert.Equal(t, "authenticating", got.Logs[0].Message)
	require.NotNil(t, got.Logs[1].StepIndex)
	assert.Equal(t, 0, *got.Logs[1].StepIndex)
	assert.Nil(t, got.Logs[2].StepIndex)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRunsNewestFirst(t *testing.T) {
	s, err := NewSQLiteRunStore(testDB(t))
	require.NoError(t, err)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, s.SaveRun(ctx, &contracts.RunRecord{
			RunID:      id,
			WorkflowID: "wf-1",
			Status:     contracts.RunSuccess,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	runs, err := s.ListRuns(ctx, "wf-1", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].RunID)
	assert.Equal(t, "run-b", runs[1].RunID)
}

func TestSaveRunPropagatesInsertError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &SQLiteRunStore{db: db}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO runs")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = s.SaveRun(context.Background(), &contracts.RunRecord{
		RunID: "run-x", Status: contracts.RunPending, StartedAt: time.Now(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScreenshotStoreRoundTrip(t *testing.T) {
	db := testDB(t)
	shots, err := NewSQLiteScreenshotStore(db)
	require.NoError(t, err)

	ref, err := shots.Save(context.Background(), []byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ref, "shot-"))

	data, err := shots.Load(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data)

	_, err = shots.Load(context.Background(), "shot-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
