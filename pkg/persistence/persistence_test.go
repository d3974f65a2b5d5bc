package persistence

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/pkg/engine"
	"taskpilot/pkg/exec"
	"taskpilot/pkg/llm"
	"taskpilot/pkg/markers"
	"taskpilot/pkg/materialize"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleSummary(runID string, started time.Time) *engine.Summary {
	return &engine.Summary{
		RunID:       runID,
		Request:     "create a.txt",
		State:       engine.StateCompleted,
		Total:       2,
		Succeeded:   1,
		Failed:      1,
		Recovered:   0,
		StartedAt:   started,
		Duration:    3 * time.Second,
		Usage:       llm.Usage{PromptTokens: 120, CompletionTokens: 30},
		LongRunning: 0,
		Steps: []engine.StepResult{
			{
				Step:     markers.PlanStep{Ordinal: 1, Text: "Create a.txt\nwith hello"},
				Outcome:  engine.OutcomeSucceeded,
				Files:    []materialize.Result{{Path: "a.txt", Created: true, Changed: true}},
				Duration: time.Second,
			},
			{
				Step:     markers.PlanStep{Ordinal: 2, Text: "Run checks"},
				Outcome:  engine.OutcomeFailed,
				Error:    "command failed",
				Commands: []exec.CommandResult{{}},
				Warnings: []string{"w1", "w2"},
				Recovery: &engine.RecoveryReport{FailedCommand: "false"},
			},
		},
	}
}

func TestInitializeDatabaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.db")
	db, err := InitializeDatabase(path)
	require.NoError(t, err)
	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)
	require.NoError(t, db.Close())

	db, err = InitializeDatabase(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestMigrationFromVersion1(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = GetSchemaVersion(db)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE steps (run_id TEXT NOT NULL, position INTEGER NOT NULL, outcome TEXT NOT NULL)`)
	require.NoError(t, err)
	require.NoError(t, setSchemaVersion(db, 1))
	require.NoError(t, initializeSchemaWithMigrations(db))

	version, err := GetSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 2, version)
	_, err = db.Exec(`INSERT INTO steps (run_id, position, outcome, recovery_attempted) VALUES ('r', 1, 'failed', 1)`)
	assert.NoError(t, err)
	require.NoError(t, db.Close())
}

func TestRunRecorderStoresHistory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	started := time.Now().Add(-time.Minute)

	rec, err := store.StartRun(ctx, &Run{ID: "run-1", Request: "create a.txt", Model: "mock-model", Workspace: "/w", StartedAt: started})
	require.NoError(t, err)
	defer rec.Close()
	assert.Equal(t, "run-1", rec.RunID())

	running, err := store.Ops().GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, RunStatusRunning, running.Status)
	assert.Nil(t, running.FinishedAt)

	now := time.Now()
	rec.RecordCommand(exec.CommandExecution{ID: "s1", Command: "false", State: exec.StateCompleted, ExitCode: 1, Attempt: 1, Stderr: "boom", StartedAt: now, FinishedAt: now.Add(time.Millisecond)})
	rec.RecordCommand(exec.CommandExecution{ID: "s2", Command: "npm run dev", State: exec.StateAbandoned, LongRunning: true, Attempt: 1, StartedAt: now.Add(time.Second)})
	rec.ObserveLLMRequest("mock-model", "plan", 100, 20, 0.25, true, "", time.Second)
	rec.ObserveLLMRequest("mock-model", "step", 20, 10, 0.5, false, "transient", time.Second)

	require.NoError(t, rec.SaveRun(ctx, sampleSummary("run-1", started)))

	detail, err := store.Ops().GetRunDetail(ctx, "run-1")
	require.NoError(t, err)
	run := detail.Run
	assert.Equal(t, RunStatusCompleted, run.Status)
	assert.Equal(t, "mock-model", run.Model)
	assert.Equal(t, "/w", run.Workspace)
	assert.Equal(t, 2, run.TotalSteps)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, int64(120), run.PromptTokens)
	assert.InDelta(t, 0.75, run.CostUSD, 1e-9)
	assert.Equal(t, int64(3000), run.DurationMS)
	require.NotNil(t, run.FinishedAt)

	require.Len(t, detail.Steps, 2)
	assert.Equal(t, "Create a.txt", detail.Steps[0].Title)
	assert.Equal(t, 1, detail.Steps[0].FilesChanged)
	assert.Equal(t, "failed", detail.Steps[1].Outcome)
	assert.Equal(t, "w1\nw2", detail.Steps[1].Warnings)
	assert.True(t, detail.Steps[1].RecoveryAttempted)
	assert.False(t, detail.Steps[1].RecoverySucceeded)

	require.Len(t, detail.Commands, 2)
	assert.Equal(t, "false", detail.Commands[0].Command)
	assert.Equal(t, 1, detail.Commands[0].ExitCode)
	assert.Equal(t, "boom", detail.Commands[0].Stderr)
	assert.NotNil(t, detail.Commands[0].FinishedAt)
	assert.Equal(t, "abandoned", detail.Commands[1].State)
	assert.Nil(t, detail.Commands[1].FinishedAt)

	require.Len(t, detail.Calls, 2)
	assert.Equal(t, "plan", detail.Calls[0].Purpose)
	assert.False(t, detail.Calls[1].Success)
	assert.Equal(t, "transient", detail.Calls[1].ErrorType)
}

func TestSaveRunTwiceReplacesSteps(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	started := time.Now()
	rec, err := store.StartRun(ctx, &Run{ID: "run-2", Request: "x", StartedAt: started})
	require.NoError(t, err)
	defer rec.Close()

	summary := sampleSummary("run-2", started)
	require.NoError(t, rec.SaveRun(ctx, summary))
	summary.Steps = summary.Steps[:1]
	summary.State = engine.StateAborted
	summary.Error = "context canceled"
	require.NoError(t, rec.SaveRun(ctx, summary))

	detail, err := store.Ops().GetRunDetail(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, RunStatusAborted, detail.Run.Status)
	assert.Equal(t, "context canceled", detail.Run.Error)
	assert.Len(t, detail.Steps, 1)
}

func TestListAndFindRuns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"aaa111", "aab222", "bbb333"} {
		rec, err := store.StartRun(ctx, &Run{ID: id, Request: id, StartedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
		rec.Close()
	}

	runs, err := store.Ops().ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "bbb333", runs[0].ID)
	assert.Equal(t, "aab222", runs[1].ID)

	all, err := store.Ops().ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	run, err := store.Ops().GetRun(ctx, "bbb")
	require.NoError(t, err)
	assert.Equal(t, "bbb333", run.ID)

	_, err = store.Ops().GetRun(ctx, "aa")
	assert.ErrorContains(t, err, "ambiguous")

	_, err = store.Ops().GetRun(ctx, "zzz")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestStartRunMarksInterruptedRuns(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old, err := store.StartRun(ctx, &Run{ID: "old", Request: "x", StartedAt: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	old.Close()

	rec, err := store.StartRun(ctx, &Run{ID: "new", Request: "y"})
	require.NoError(t, err)
	rec.Close()

	run, err := store.Ops().GetRun(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, RunStatusAborted, run.Status)
	assert.Equal(t, "interrupted", run.Error)
}

func TestRecorderIsSafeForConcurrentUse(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	rec, err := store.StartRun(ctx, &Run{ID: "run-c", Request: "x"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.ObserveLLMRequest("m", "recovery", 1, 1, 0, true, "", time.Millisecond)
		}()
	}
	wg.Wait()
	rec.Close()
	rec.Close()
	rec.RecordCommand(exec.CommandExecution{ID: "late"})
	assert.Error(t, rec.SaveRun(ctx, sampleSummary("run-c", time.Now())))

	calls, err := store.Ops().GetLLMCalls(ctx, "run-c")
	require.NoError(t, err)
	assert.Len(t, calls, 20)
}

func TestCommandOutputIsTruncated(t *testing.T) {
	long := make([]byte, maxStoredOutput+10)
	for i := range long {
		long[i] = 'x'
	}
	long[len(long)-1] = 'E'
	cmd := CommandFromExecution("r", &exec.CommandExecution{ID: "s", Stdout: string(long)})
	assert.Len(t, cmd.Stdout, maxStoredOutput)
	assert.Equal(t, byte('E'), cmd.Stdout[len(cmd.Stdout)-1])
}
