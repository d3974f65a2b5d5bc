package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taskpilot/pkg/engine"
	"taskpilot/pkg/exec"
	"taskpilot/pkg/logx"
)

// Request is one queued write for the recorder's worker.
type Request struct {
	Data      any          `json:"data"`
	Response  chan<- error `json:"-"` // nil for fire-and-forget writes
	Operation string       `json:"operation"`
}

// Operation constants for Request.
const (
	OpInsertCommand = "insert_command"
	OpInsertLLMCall = "insert_llm_call"
	OpFinishRun     = "finish_run"
)

// requestBuffer is the capacity of the write queue.
const requestBuffer = 256

type finishRunRequest struct {
	run   *Run
	steps []*Step
}

// RunRecorder writes one run's history. Commands and model calls are queued fire-and-forget
// and written in order by a single worker; SaveRun waits until everything queued before it is
// stored. It implements exec.Recorder, the model metrics Recorder and engine.RunStore.
type RunRecorder struct {
	ops    *DatabaseOperations
	run    *Run
	logger *logx.Logger

	mu       sync.Mutex
	closed   bool
	requests chan *Request
	done     chan struct{}
}

func newRunRecorder(ops *DatabaseOperations, run *Run, logger *logx.Logger) *RunRecorder {
	r := &RunRecorder{
		ops:      ops,
		run:      run,
		logger:   logger,
		requests: make(chan *Request, requestBuffer),
		done:     make(chan struct{}),
	}
	go r.worker()
	return r
}

// RunID returns the id of the recorded run.
func (r *RunRecorder) RunID() string {
	return r.run.ID
}

func (r *RunRecorder) worker() {
	defer close(r.done)
	for req := range r.requests {
		err := r.apply(req)
		if err != nil {
			r.logger.Error("Persistence %s failed: %v", req.Operation, err)
		}
		if req.Response != nil {
			req.Response <- err
		}
	}
}

func (r *RunRecorder) apply(req *Request) error {
	ctx := context.Background()
	switch req.Operation {
	case OpInsertCommand:
		cmd, ok := req.Data.(*Command)
		if !ok {
			return fmt.Errorf("invalid data for %s", req.Operation)
		}
		return r.ops.InsertCommand(ctx, cmd)
	case OpInsertLLMCall:
		call, ok := req.Data.(*LLMCall)
		if !ok {
			return fmt.Errorf("invalid data for %s", req.Operation)
		}
		return r.ops.InsertLLMCall(ctx, call)
	case OpFinishRun:
		fr, ok := req.Data.(*finishRunRequest)
		if !ok {
			return fmt.Errorf("invalid data for %s", req.Operation)
		}
		return r.ops.FinishRun(ctx, fr.run, fr.steps)
	default:
		return fmt.Errorf("unknown operation %q", req.Operation)
	}
}

// send queues req. It reports false once the recorder is closed.
func (r *RunRecorder) send(req *Request) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.requests <- req
	return true
}

// RecordCommand implements exec.Recorder.
func (r *RunRecorder) RecordCommand(e exec.CommandExecution) {
	if !r.send(&Request{Operation: OpInsertCommand, Data: CommandFromExecution(r.run.ID, &e)}) {
		r.logger.Debug("Dropping command %s recorded after close", e.ID)
	}
}

// ObserveLLMRequest implements the model metrics Recorder.
func (r *RunRecorder) ObserveLLMRequest(model, purpose string, promptTokens, completionTokens int,
	cost float64, success bool, errorType string, duration time.Duration) {
	r.send(&Request{Operation: OpInsertLLMCall, Data: &LLMCall{
		RunID:            r.run.ID,
		Model:            model,
		Purpose:          purpose,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostUSD:          cost,
		Success:          success,
		ErrorType:        errorType,
		DurationMS:       duration.Milliseconds(),
		CreatedAt:        time.Now(),
	}})
}

// SaveRun implements engine.RunStore.
func (r *RunRecorder) SaveRun(ctx context.Context, summary *engine.Summary) error {
	run := RunFromSummary(summary)
	run.Model = r.run.Model
	run.Workspace = r.run.Workspace

	response := make(chan error, 1)
	if !r.send(&Request{Operation: OpFinishRun, Data: &finishRunRequest{run: run, steps: StepsFromSummary(summary)}, Response: response}) {
		return fmt.Errorf("run recorder for %s is closed", r.run.ID)
	}
	select {
	case err := <-response:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes and waits until the queue is drained.
func (r *RunRecorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.requests)
	}
	r.mu.Unlock()
	<-r.done
}
