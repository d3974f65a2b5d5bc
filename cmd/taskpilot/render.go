package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"taskpilot/pkg/engine"
	"taskpilot/pkg/exec"
	"taskpilot/pkg/markers"
	"taskpilot/pkg/metrics"
	"taskpilot/pkg/persistence"
)

//nolint:gochecknoglobals // shared styles
var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// outcomeStyle colors a step outcome or run state.
func outcomeStyle(s string) lipgloss.Style {
	switch s {
	case string(engine.OutcomeSucceeded), string(engine.OutcomeRecovered), string(engine.StateCompleted),
		persistence.RunStatusCompleted:
		return okStyle
	case string(engine.OutcomeLongRunning), string(engine.OutcomeSkipped), persistence.RunStatusRunning:
		return warnStyle
	case string(engine.OutcomeFailed), string(engine.OutcomeTimedOut), string(engine.StateAborted),
		persistence.RunStatusAborted:
		return errStyle
	default:
		return lipgloss.NewStyle()
	}
}

// statusPrinter writes progress lines. It implements engine.StatusSink.
type statusPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func newStatusPrinter(out io.Writer) *statusPrinter {
	if out == nil {
		out = os.Stdout
	}
	return &statusPrinter{out: out}
}

func (p *statusPrinter) Status(status engine.Status) {
	line := status.String()
	if status.Outcome != "" {
		line = outcomeStyle(string(status.Outcome)).Render(line)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s\n", dimStyle.Render(status.Time.Format("15:04:05")), line)
}

// renderSummary formats the end-of-run report.
func renderSummary(s *engine.Summary, totals *metrics.RunTotals, active int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("Run"), s.RunID)
	fmt.Fprintf(&b, "State:    %s\n", outcomeStyle(string(s.State)).Render(string(s.State)))
	fmt.Fprintf(&b, "Steps:    %d total, %s, %s, %d long-running, %d timed out, %d skipped\n",
		s.Total,
		okStyle.Render(fmt.Sprintf("%d succeeded (%d recovered)", s.Succeeded, s.Recovered)),
		failedCount(s.Failed),
		s.LongRunning, s.TimedOut, s.Skipped)
	fmt.Fprintf(&b, "Tokens:   %d prompt, %d completion\n", s.Usage.PromptTokens, s.Usage.CompletionTokens)
	if totals != nil {
		fmt.Fprintf(&b, "Model:    %d request(s), $%.4f\n", totals.Requests, totals.TotalCost)
		fmt.Fprintf(&b, "Commands: %d run, %d failed; %d file change(s)\n", totals.Commands, totals.FailedCommands, totals.FileChanges)
	}
	fmt.Fprintf(&b, "Duration: %s\n", s.Duration.Round(time.Millisecond))
	if active > 0 {
		fmt.Fprintf(&b, "%s\n", warnStyle.Render(fmt.Sprintf("%d session(s) still running in the background", active)))
	}
	if s.Error != "" {
		fmt.Fprintf(&b, "%s %s\n", errStyle.Render("Error:"), s.Error)
	}

	if len(s.Steps) > 0 {
		b.WriteString("\n")
		for i := range s.Steps {
			res := &s.Steps[i]
			fmt.Fprintf(&b, "%3d. %-12s %s\n", res.Step.Ordinal,
				outcomeStyle(string(res.Outcome)).Render(string(res.Outcome)), res.Step.Title())
			if res.Error != "" {
				fmt.Fprintf(&b, "     %s\n", dimStyle.Render(res.Error))
			}
		}
	}

	if len(s.Warnings) > 0 {
		b.WriteString("\n" + warnStyle.Render("Recent warnings:") + "\n")
		for _, w := range s.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func failedCount(n int) string {
	text := fmt.Sprintf("%d failed", n)
	if n > 0 {
		return errStyle.Render(text)
	}
	return text
}

// renderPlan lists plan steps.
func renderPlan(steps []markers.PlanStep) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Plan (%d steps)", len(steps))) + "\n")
	for _, step := range steps {
		marker := ""
		if step.LongRunning {
			marker = warnStyle.Render(" [LONG-RUNNING]")
		}
		fmt.Fprintf(&b, "\nStep %d:%s %s\n", step.Ordinal, marker, step.Text)
	}
	return b.String()
}

// renderRuns is the history table.
func renderRuns(runs []*persistence.Run) string {
	if len(runs) == 0 {
		return "No runs recorded.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render(fmt.Sprintf("%-8s  %-19s  %-9s  %5s  %9s  %s", "ID", "STARTED", "STATUS", "STEPS", "COST", "REQUEST")))
	for _, r := range runs {
		fmt.Fprintf(&b, "%-8s  %-19s  %s  %2d/%-2d  %9s  %s\n",
			shortID(r.ID),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			outcomeStyle(r.Status).Render(fmt.Sprintf("%-9s", r.Status)),
			r.Succeeded, r.TotalSteps,
			fmt.Sprintf("$%.4f", r.CostUSD),
			firstLine(r.Request, 60))
	}
	return b.String()
}

// renderRunDetail shows one run with its steps, commands and model calls.
func renderRunDetail(d *persistence.RunDetail, events []engine.Status) string {
	r := d.Run
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render("Run"), r.ID)
	fmt.Fprintf(&b, "Request:  %s\n", r.Request)
	fmt.Fprintf(&b, "Status:   %s\n", outcomeStyle(r.Status).Render(r.Status))
	fmt.Fprintf(&b, "Model:    %s ($%.4f, %d+%d tokens)\n", r.Model, r.CostUSD, r.PromptTokens, r.CompletionTokens)
	fmt.Fprintf(&b, "Started:  %s (%s)\n", r.StartedAt.Local().Format(time.RFC3339), (time.Duration(r.DurationMS) * time.Millisecond).String())
	if r.Error != "" {
		fmt.Fprintf(&b, "Error:    %s\n", errStyle.Render(r.Error))
	}

	if len(d.Steps) > 0 {
		b.WriteString("\n" + titleStyle.Render("Steps") + "\n")
		for _, st := range d.Steps {
			recovery := ""
			if st.RecoveryAttempted {
				recovery = dimStyle.Render(" (recovery attempted)")
			}
			fmt.Fprintf(&b, "%3d. %-12s %s%s\n", st.Ordinal, outcomeStyle(st.Outcome).Render(st.Outcome), st.Title, recovery)
		}
	}
	if len(d.Commands) > 0 {
		b.WriteString("\n" + titleStyle.Render("Commands") + "\n")
		for _, c := range d.Commands {
			state := fmt.Sprintf("exit %d", c.ExitCode)
			if c.State != string(exec.StateCompleted) {
				state = c.State
			}
			fmt.Fprintf(&b, "  $ %s  %s\n", c.Command, dimStyle.Render(fmt.Sprintf("[%s, attempt %d]", state, c.Attempt)))
		}
	}
	if len(events) > 0 {
		b.WriteString("\n" + titleStyle.Render("Events") + "\n")
		for _, e := range events {
			fmt.Fprintf(&b, "  %s %s\n", dimStyle.Render(e.Time.Local().Format("15:04:05")), e.String())
		}
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string, limit int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > limit {
		return string(r[:limit-3]) + "..."
	}
	return s
}
