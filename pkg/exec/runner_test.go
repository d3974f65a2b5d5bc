package exec_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"taskpilot/internal/mocks"
	"taskpilot/pkg/exec"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collectingRecorder struct {
	mu   sync.Mutex
	seen []exec.CommandExecution
}

func (c *collectingRecorder) RecordCommand(e exec.CommandExecution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, e)
}

func (c *collectingRecorder) all() []exec.CommandExecution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]exec.CommandExecution(nil), c.seen...)
}

func newLocalRunner(t *testing.T, rec exec.Recorder, patterns ...string) *exec.Runner {
	t.Helper()
	classifier, err := exec.NewClassifierWithPatterns(patterns)
	require.NoError(t, err)
	return exec.NewRunner(exec.NewLocalShell(""), exec.Options{
		Cwd:        t.TempDir(),
		CaptureDir: t.TempDir(),
		Retry:      exec.RetryPolicy{MaxAttempts: 4, Delay: 10 * time.Millisecond},
		Classifier: classifier,
		Recorder:   rec,
	})
}

func TestRunCapturesOutput(t *testing.T) {
	rec := &collectingRecorder{}
	r := newLocalRunner(t, rec)

	res, err := r.Run(context.Background(), `echo hello; echo oops >&2`)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, "hello", res.Execution.Stdout)
	assert.Equal(t, "oops", res.Execution.Stderr)
	assert.Equal(t, "hello\noops", res.Output)
	assert.Equal(t, exec.StateCompleted, res.Execution.State)
	assert.NotEmpty(t, res.Execution.ID)
	assert.Positive(t, res.Execution.Duration())
	require.Len(t, rec.all(), 1)
	assert.Empty(t, r.Active())
}

func TestRunUsesWorkingDirectory(t *testing.T) {
	r := newLocalRunner(t, nil)
	res, err := r.Run(context.Background(), "touch marker && ls")
	require.NoError(t, err)
	assert.Equal(t, "marker", res.Execution.Stdout)
	assert.FileExists(t, filepath.Join(res.Execution.Cwd, "marker"))
}

func TestRunRetriesThenFails(t *testing.T) {
	rec := &collectingRecorder{}
	r := newLocalRunner(t, rec)

	res, err := r.Run(context.Background(), "false")
	require.Error(t, err)
	assert.True(t, errors.Is(err, exec.ErrCommandFailed))
	assert.True(t, exec.IsCommandFailure(err))

	var failed *exec.CommandFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 4, failed.Attempts)
	assert.Equal(t, 1, failed.Execution.ExitCode)
	assert.Equal(t, 4, res.Attempts)
	assert.False(t, res.Success)

	execs := rec.all()
	require.Len(t, execs, 4)
	ids := map[string]bool{}
	for i, e := range execs {
		assert.Equal(t, i+1, e.Attempt)
		ids[e.ID] = true
	}
	assert.Len(t, ids, 4, "every attempt gets its own session")
}

func TestRunRetrySucceedsLater(t *testing.T) {
	r := newLocalRunner(t, nil)
	flag := filepath.Join(t.TempDir(), "flag")
	// Fails the first time, succeeds once the flag file exists.
	cmd := "test -f " + flag + " || { touch " + flag + "; exit 3; }"

	res, err := r.Run(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestRunOnceDoesNotRetry(t *testing.T) {
	shell := mocks.NewMockShell()
	shell.FailCommands("make")
	r := exec.NewRunner(shell, exec.Options{CaptureDir: t.TempDir(), Retry: exec.RetryPolicy{MaxAttempts: 4}})

	res, err := r.RunOnce(context.Background(), "make")
	require.Error(t, err)
	assert.Equal(t, 1, shell.CountOf("make"))
	assert.Equal(t, "make: failed", res.Execution.Stderr)
}

func TestCancellationStopsWaitingOnly(t *testing.T) {
	r := newLocalRunner(t, nil)
	marker := filepath.Join(t.TempDir(), "done")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := r.Run(ctx, "sleep 0.3; touch "+marker)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, r.Active(), 1)

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	require.NoError(t, r.Drain(drainCtx))
	assert.FileExists(t, marker, "the process keeps running after the caller gives up")
	assert.Empty(t, r.Active())
}

func TestLongRunningIsAbandoned(t *testing.T) {
	rec := &collectingRecorder{}
	r := newLocalRunner(t, rec, `^sleep\b`)

	start := time.Now()
	res, err := r.Run(context.Background(), "sleep 0.3")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.True(t, res.Success)
	assert.Equal(t, exec.StateAbandoned, res.Execution.State)
	assert.True(t, res.Execution.LongRunning)
	require.Len(t, r.Active(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Drain(ctx))
	require.Len(t, rec.all(), 1, "abandoned sessions are recorded once, at dispatch")
}

func TestStartFailure(t *testing.T) {
	shell := mocks.NewMockShell()
	shell.StartErr = errors.New("no shell")
	r := exec.NewRunner(shell, exec.Options{CaptureDir: t.TempDir()})

	res, err := r.Run(context.Background(), "ls")
	require.Error(t, err)
	assert.False(t, exec.IsCommandFailure(err))
	assert.Equal(t, -1, res.Execution.ExitCode)
	assert.Equal(t, 1, len(shell.Commands()))
}

func TestLocalShellMissingWorkdir(t *testing.T) {
	dir := t.TempDir()
	_, err := exec.NewLocalShell("").Start(exec.SessionSpec{
		Command:    "true",
		Cwd:        filepath.Join(dir, "missing"),
		StdoutPath: filepath.Join(dir, "out"),
		StderrPath: filepath.Join(dir, "err"),
	})
	require.Error(t, err)
}

func TestLocalShellWritesExitCode(t *testing.T) {
	dir := t.TempDir()
	session, err := exec.NewLocalShell("").Start(exec.SessionSpec{
		ID:           "s1",
		Command:      "exit 7",
		StdoutPath:   filepath.Join(dir, "out"),
		StderrPath:   filepath.Join(dir, "err"),
		ExitCodePath: filepath.Join(dir, "code"),
	})
	require.NoError(t, err)
	assert.Equal(t, "s1", session.ID())

	code, err := session.Wait()
	require.NoError(t, err)
	assert.Equal(t, 7, code)
	again, _ := session.Wait()
	assert.Equal(t, 7, again)

	data, err := os.ReadFile(filepath.Join(dir, "code"))
	require.NoError(t, err)
	assert.Equal(t, "7", string(data))
}

func TestRecordersFanOut(t *testing.T) {
	a, b := &collectingRecorder{}, &collectingRecorder{}
	r := exec.NewRunner(mocks.NewMockShell(), exec.Options{
		CaptureDir: t.TempDir(),
		Recorder:   exec.Recorders{a, nil, b},
	})
	_, err := r.Run(context.Background(), "ls")
	require.NoError(t, err)
	assert.Len(t, a.all(), 1)
	assert.Len(t, b.all(), 1)
}
