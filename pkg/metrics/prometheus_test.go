package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskpilot/pkg/exec"
)

func TestTotalsAggregatesCounters(t *testing.T) {
	rec := NewPrometheusRecorder()
	rec.ObserveLLMRequest("claude-sonnet-4-5", "plan", 100, 20, 0.01, true, "", time.Second)
	rec.ObserveLLMRequest("claude-sonnet-4-5", "step", 50, 10, 0.005, true, "", time.Second)
	rec.ObserveLLMRequest("claude-sonnet-4-5", "step", 0, 0, 0, false, "transient", time.Second)
	rec.ObserveCommand(CommandSucceeded, time.Second)
	rec.ObserveCommand(CommandFailed, time.Second)
	rec.ObserveCommand(CommandAbandoned, 0)
	rec.ObserveRecovery(true)
	rec.ObserveFileChange("created")
	rec.ObserveFileChange("vetoed")
	rec.ObserveStep("succeeded")

	totals, err := rec.Totals()
	require.NoError(t, err)
	assert.Equal(t, int64(3), totals.Requests)
	assert.Equal(t, int64(1), totals.FailedRequests)
	assert.Equal(t, int64(150), totals.PromptTokens)
	assert.Equal(t, int64(30), totals.CompletionTokens)
	assert.Equal(t, int64(180), totals.TotalTokens)
	assert.InDelta(t, 0.015, totals.TotalCost, 1e-9)
	assert.Equal(t, int64(3), totals.Commands)
	assert.Equal(t, int64(1), totals.FailedCommands)
	assert.Equal(t, int64(1), totals.Recoveries)
	assert.Equal(t, int64(1), totals.FileChanges)
}

func TestRecordersAreIndependent(t *testing.T) {
	a := NewPrometheusRecorder()
	b := NewPrometheusRecorder()
	a.ObserveRecovery(false)

	totals, err := b.Totals()
	require.NoError(t, err)
	assert.Zero(t, totals.Recoveries)
}

func TestWriteTextfile(t *testing.T) {
	rec := NewPrometheusRecorder()
	rec.ObserveStep("failed")
	rec.ObserveLLMRequest("gpt-4o", "", 1, 1, 0, true, "", time.Millisecond)

	path := filepath.Join(t.TempDir(), "out", "taskpilot.prom")
	require.NoError(t, rec.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "# TYPE taskpilot_steps_total counter")
	assert.Contains(t, text, `taskpilot_steps_total{outcome="failed"} 1`)
	assert.True(t, strings.Contains(text, `purpose="unknown"`))
	assert.NoFileExists(t, path+".tmp")
}

func TestRecordCommandClassifiesExecutions(t *testing.T) {
	rec := NewPrometheusRecorder()
	start := time.Now()
	rec.RecordCommand(exec.CommandExecution{State: exec.StateCompleted, StartedAt: start, FinishedAt: start.Add(time.Second)})
	rec.RecordCommand(exec.CommandExecution{State: exec.StateCompleted, ExitCode: 2, StartedAt: start, FinishedAt: start.Add(time.Second)})
	rec.RecordCommand(exec.CommandExecution{State: exec.StateAbandoned, LongRunning: true, StartedAt: start})

	totals, err := rec.Totals()
	require.NoError(t, err)
	assert.Equal(t, int64(3), totals.Commands)
	assert.Equal(t, int64(1), totals.FailedCommands)
}
