// Package metrics records model, step, command and file metrics for a run in a private
// Prometheus registry and writes them out in the text exposition format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"taskpilot/pkg/exec"
)

// Command outcome labels.
const (
	CommandSucceeded = "succeeded"
	CommandFailed    = "failed"
	CommandAbandoned = "abandoned"
)

// PrometheusRecorder implements the model metrics Recorder and the engine's run observers.
// Each recorder owns its registry so concurrent runs and tests never collide.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costsTotal      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	stepsTotal       *prometheus.CounterVec
	commandsTotal    *prometheus.CounterVec
	commandDuration  prometheus.Histogram
	recoveriesTotal  *prometheus.CounterVec
	fileChangesTotal *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder with a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_llm_requests_total",
				Help: "Total number of model requests by model, purpose and status",
			},
			[]string{"model", "purpose", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_llm_tokens_total",
				Help: "Total number of tokens used in model requests",
			},
			[]string{"model", "purpose", "type"},
		),
		costsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_llm_costs_total",
				Help: "Total cost in USD for model requests",
			},
			[]string{"model", "purpose"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskpilot_llm_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "purpose"},
		),
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_steps_total",
				Help: "Plan steps by outcome",
			},
			[]string{"outcome"},
		),
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_commands_total",
				Help: "Shell command executions by outcome",
			},
			[]string{"outcome"},
		),
		commandDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskpilot_command_duration_seconds",
				Help:    "Duration of awaited shell commands in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		recoveriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_recoveries_total",
				Help: "Recovery cycles by result",
			},
			[]string{"result"},
		),
		fileChangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskpilot_file_changes_total",
				Help: "File and edit instructions applied, by kind",
			},
			[]string{"kind"},
		),
	}
}

// Registry exposes the underlying registry.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// ObserveLLMRequest records metrics for a completed model request.
func (p *PrometheusRecorder) ObserveLLMRequest(
	model, purpose string,
	promptTokens, completionTokens int,
	cost float64,
	success bool,
	errorType string,
	duration time.Duration,
) {
	status := "success"
	if !success {
		status = "error"
	}
	if purpose == "" {
		purpose = "unknown"
	}

	p.requestsTotal.WithLabelValues(model, purpose, status, errorType).Inc()

	if promptTokens > 0 {
		p.tokensTotal.WithLabelValues(model, purpose, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		p.tokensTotal.WithLabelValues(model, purpose, "completion").Add(float64(completionTokens))
	}
	if cost > 0 {
		p.costsTotal.WithLabelValues(model, purpose).Add(cost)
	}

	p.requestDuration.WithLabelValues(model, purpose).Observe(duration.Seconds())
}

// ObserveStep counts a finished step by outcome.
func (p *PrometheusRecorder) ObserveStep(outcome string) {
	p.stepsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCommand counts a command execution. Abandoned commands have no duration.
func (p *PrometheusRecorder) ObserveCommand(outcome string, duration time.Duration) {
	p.commandsTotal.WithLabelValues(outcome).Inc()
	if outcome != CommandAbandoned {
		p.commandDuration.Observe(duration.Seconds())
	}
}

// ObserveRecovery counts a recovery cycle.
func (p *PrometheusRecorder) ObserveRecovery(success bool) {
	result := "exhausted"
	if success {
		result = "recovered"
	}
	p.recoveriesTotal.WithLabelValues(result).Inc()
}

// ObserveFileChange counts an applied file or edit instruction ("created", "updated", "noop", "vetoed").
func (p *PrometheusRecorder) ObserveFileChange(kind string) {
	p.fileChangesTotal.WithLabelValues(kind).Inc()
}

// RecordCommand implements exec.Recorder.
func (p *PrometheusRecorder) RecordCommand(e exec.CommandExecution) {
	switch {
	case e.State == exec.StateAbandoned:
		p.ObserveCommand(CommandAbandoned, 0)
	case e.Success():
		p.ObserveCommand(CommandSucceeded, e.Duration())
	default:
		p.ObserveCommand(CommandFailed, e.Duration())
	}
}
