package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("run not found")

// DatabaseOperations provides methods for database operations.
type DatabaseOperations struct {
	db *sql.DB
}

// NewDatabaseOperations creates a new DatabaseOperations instance.
func NewDatabaseOperations(db *sql.DB) *DatabaseOperations {
	return &DatabaseOperations{db: db}
}

// InsertRun records a run that has just started.
func (ops *DatabaseOperations) InsertRun(ctx context.Context, run *Run) error {
	_, err := ops.db.ExecContext(ctx, `
		INSERT INTO runs (id, request, model, workspace, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.Request, run.Model, run.Workspace, RunStatusRunning, run.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun stores the final counters of a run and replaces its steps atomically. The run cost
// is the sum of its recorded model calls.
func (ops *DatabaseOperations) FinishRun(ctx context.Context, run *Run, steps []*Step) (err error) {
	tx, err := ops.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, request, model, workspace, status, total_steps, succeeded, failed,
			long_running, timed_out, recovered, skipped, prompt_tokens, completion_tokens,
			error, started_at, finished_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			total_steps = excluded.total_steps,
			succeeded = excluded.succeeded,
			failed = excluded.failed,
			long_running = excluded.long_running,
			timed_out = excluded.timed_out,
			recovered = excluded.recovered,
			skipped = excluded.skipped,
			prompt_tokens = excluded.prompt_tokens,
			completion_tokens = excluded.completion_tokens,
			error = excluded.error,
			finished_at = excluded.finished_at,
			duration_ms = excluded.duration_ms
	`,
		run.ID, run.Request, run.Model, run.Workspace, run.Status, run.TotalSteps, run.Succeeded, run.Failed,
		run.LongRunning, run.TimedOut, run.Recovered, run.Skipped, run.PromptTokens, run.CompletionTokens,
		run.Error, run.StartedAt.UTC(), utc(run.FinishedAt), run.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", run.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE runs SET cost_usd = (SELECT COALESCE(SUM(cost_usd), 0) FROM llm_calls WHERE run_id = ?)
		WHERE id = ?
	`, run.ID, run.ID)
	if err != nil {
		return fmt.Errorf("failed to total cost for run %s: %w", run.ID, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM steps WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear steps of run %s: %w", run.ID, err)
	}

	stepQuery := `
		INSERT INTO steps (
			run_id, position, ordinal, title, text, long_running, outcome, error,
			files_changed, commands, warnings, duration_ms, recovery_attempted, recovery_succeeded
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, step := range steps {
		_, err = tx.ExecContext(ctx, stepQuery,
			run.ID, step.Position, step.Ordinal, step.Title, step.Text, step.LongRunning, step.Outcome, step.Error,
			step.FilesChanged, step.Commands, step.Warnings, step.DurationMS, step.RecoveryAttempted, step.RecoverySucceeded,
		)
		if err != nil {
			return fmt.Errorf("failed to insert step %d of run %s: %w", step.Position, run.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// InsertCommand records one shell session. Re-recording a session updates it.
func (ops *DatabaseOperations) InsertCommand(ctx context.Context, cmd *Command) error {
	_, err := ops.db.ExecContext(ctx, `
		INSERT INTO commands (
			id, run_id, command, cwd, state, exit_code, long_running, attempt,
			stdout, stderr, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			exit_code = excluded.exit_code,
			stdout = excluded.stdout,
			stderr = excluded.stderr,
			finished_at = excluded.finished_at
	`,
		cmd.ID, cmd.RunID, cmd.Command, cmd.Cwd, cmd.State, cmd.ExitCode, cmd.LongRunning, cmd.Attempt,
		cmd.Stdout, cmd.Stderr, cmd.StartedAt.UTC(), utc(cmd.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert command %s: %w", cmd.ID, err)
	}
	return nil
}

// InsertLLMCall records one model call.
func (ops *DatabaseOperations) InsertLLMCall(ctx context.Context, call *LLMCall) error {
	_, err := ops.db.ExecContext(ctx, `
		INSERT INTO llm_calls (
			run_id, model, purpose, prompt_tokens, completion_tokens, cost_usd,
			success, error_type, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		call.RunID, call.Model, call.Purpose, call.PromptTokens, call.CompletionTokens, call.CostUSD,
		call.Success, call.ErrorType, call.DurationMS, call.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert llm call for run %s: %w", call.RunID, err)
	}
	return nil
}

const runColumns = `
	id, request, model, workspace, status, total_steps, succeeded, failed, long_running,
	timed_out, recovered, skipped, prompt_tokens, completion_tokens, cost_usd, error,
	started_at, finished_at, duration_ms
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var finished sql.NullTime
	err := row.Scan(
		&run.ID, &run.Request, &run.Model, &run.Workspace, &run.Status, &run.TotalSteps,
		&run.Succeeded, &run.Failed, &run.LongRunning, &run.TimedOut, &run.Recovered, &run.Skipped,
		&run.PromptTokens, &run.CompletionTokens, &run.CostUSD, &run.Error,
		&run.StartedAt, &finished, &run.DurationMS,
	)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

// ListRuns returns the most recent runs, newest first. limit <= 0 returns all runs.
func (ops *DatabaseOperations) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := ops.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run. A unique id prefix is accepted.
func (ops *DatabaseOperations) GetRun(ctx context.Context, id string) (*Run, error) {
	rows, err := ops.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? || '%' LIMIT 2`, id, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var found []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		found = append(found, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	switch {
	case len(found) == 0:
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	case len(found) > 1 && found[0].ID != id && found[1].ID != id:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	case len(found) > 1 && found[1].ID == id:
		return found[1], nil
	}
	return found[0], nil
}

// GetSteps returns the steps of a run in execution order.
func (ops *DatabaseOperations) GetSteps(ctx context.Context, runID string) ([]*Step, error) {
	rows, err := ops.db.QueryContext(ctx, `
		SELECT run_id, position, ordinal, title, text, long_running, outcome, error,
			files_changed, commands, warnings, duration_ms, recovery_attempted, recovery_succeeded
		FROM steps WHERE run_id = ? ORDER BY position
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var steps []*Step
	for rows.Next() {
		var s Step
		if err := rows.Scan(&s.RunID, &s.Position, &s.Ordinal, &s.Title, &s.Text, &s.LongRunning, &s.Outcome, &s.Error,
			&s.FilesChanged, &s.Commands, &s.Warnings, &s.DurationMS, &s.RecoveryAttempted, &s.RecoverySucceeded); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}
	return steps, nil
}

// GetCommands returns the sessions of a run, oldest first.
func (ops *DatabaseOperations) GetCommands(ctx context.Context, runID string) ([]*Command, error) {
	rows, err := ops.db.QueryContext(ctx, `
		SELECT id, run_id, command, cwd, state, exit_code, long_running, attempt,
			stdout, stderr, started_at, finished_at
		FROM commands WHERE run_id = ? ORDER BY started_at, rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cmds []*Command
	for rows.Next() {
		var c Command
		var finished sql.NullTime
		if err := rows.Scan(&c.ID, &c.RunID, &c.Command, &c.Cwd, &c.State, &c.ExitCode, &c.LongRunning, &c.Attempt,
			&c.Stdout, &c.Stderr, &c.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			c.FinishedAt = &t
		}
		cmds = append(cmds, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commands: %w", err)
	}
	return cmds, nil
}

// GetLLMCalls returns the model calls of a run, oldest first.
func (ops *DatabaseOperations) GetLLMCalls(ctx context.Context, runID string) ([]*LLMCall, error) {
	rows, err := ops.db.QueryContext(ctx, `
		SELECT id, run_id, model, purpose, prompt_tokens, completion_tokens, cost_usd,
			success, error_type, duration_ms, created_at
		FROM llm_calls WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query llm calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var calls []*LLMCall
	for rows.Next() {
		var c LLMCall
		if err := rows.Scan(&c.ID, &c.RunID, &c.Model, &c.Purpose, &c.PromptTokens, &c.CompletionTokens, &c.CostUSD,
			&c.Success, &c.ErrorType, &c.DurationMS, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan llm call: %w", err)
		}
		calls = append(calls, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating llm calls: %w", err)
	}
	return calls, nil
}

// GetRunDetail loads a run together with its steps, commands and model calls.
func (ops *DatabaseOperations) GetRunDetail(ctx context.Context, id string) (*RunDetail, error) {
	run, err := ops.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &RunDetail{Run: run}
	if detail.Steps, err = ops.GetSteps(ctx, run.ID); err != nil {
		return nil, err
	}
	if detail.Commands, err = ops.GetCommands(ctx, run.ID); err != nil {
		return nil, err
	}
	if detail.Calls, err = ops.GetLLMCalls(ctx, run.ID); err != nil {
		return nil, err
	}
	return detail, nil
}

// MarkStaleRuns marks runs still "running" and older than cutoff as aborted. It returns the
// number of runs changed.
func (ops *DatabaseOperations) MarkStaleRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := ops.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, error = 'interrupted'
		WHERE status = ? AND started_at < ?
	`, RunStatusAborted, RunStatusRunning, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale runs: %w", err)
	}
	return res.RowsAffected()
}

// utc normalizes optional timestamps so stored values sort as text.
func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
