package metrics

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// RunTotals aggregates the counters of one run for the summary.
type RunTotals struct {
	Requests         int64   `json:"requests"`
	FailedRequests   int64   `json:"failed_requests"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	TotalCost        float64 `json:"total_cost_usd"`
	Commands         int64   `json:"commands"`
	FailedCommands   int64   `json:"failed_commands"`
	Recoveries       int64   `json:"recoveries"`
	FileChanges      int64   `json:"file_changes"`
}

// Totals gathers the registry and sums the counters.
func (p *PrometheusRecorder) Totals() (*RunTotals, error) {
	families, err := p.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	totals := &RunTotals{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			value := m.GetCounter().GetValue()
			switch mf.GetName() {
			case "taskpilot_llm_requests_total":
				totals.Requests += int64(value)
				if label(m, "status") == "error" {
					totals.FailedRequests += int64(value)
				}
			case "taskpilot_llm_tokens_total":
				switch label(m, "type") {
				case "prompt":
					totals.PromptTokens += int64(value)
				case "completion":
					totals.CompletionTokens += int64(value)
				}
			case "taskpilot_llm_costs_total":
				totals.TotalCost += value
			case "taskpilot_commands_total":
				totals.Commands += int64(value)
				if label(m, "outcome") == CommandFailed {
					totals.FailedCommands += int64(value)
				}
			case "taskpilot_recoveries_total":
				totals.Recoveries += int64(value)
			case "taskpilot_file_changes_total":
				if label(m, "kind") != "noop" && label(m, "kind") != "vetoed" {
					totals.FileChanges += int64(value)
				}
			}
		}
	}
	totals.TotalTokens = totals.PromptTokens + totals.CompletionTokens
	return totals, nil
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

// WriteTextfile writes all metrics in the Prometheus text format, suitable for the
// node_exporter textfile collector. The file is replaced atomically.
func (p *PrometheusRecorder) WriteTextfile(path string) error {
	families, err := p.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&buf, mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to move metrics into place: %w", err)
	}
	return nil
}
