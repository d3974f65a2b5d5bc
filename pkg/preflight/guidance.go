package preflight

import (
	"fmt"
	"strings"
)

// FormatCheckError formats a failed check result with actionable guidance.
func FormatCheckError(check CheckResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %s: %s\n", check.Check, check.Message))
	if check.Error != nil {
		sb.WriteString(fmt.Sprintf("    %v\n", check.Error))
	}
	sb.WriteString(fmt.Sprintf("    %s\n", getGuidance(check.Check)))
	return sb.String()
}

// FormatResults formats all preflight results for display.
func FormatResults(results *Results) string {
	var sb strings.Builder
	sb.WriteString(results.Summary + "\n")
	for i := range results.Checks {
		c := &results.Checks[i]
		if c.Passed {
			sb.WriteString(fmt.Sprintf("  [PASS] %s: %s\n", c.Check, c.Message))
		}
	}
	for i := range results.Checks {
		if !results.Checks[i].Passed {
			sb.WriteString("  [FAIL] " + strings.TrimPrefix(FormatCheckError(results.Checks[i]), "  "))
		}
	}
	return sb.String()
}

// getGuidance returns actionable guidance for fixing a failed check.
func getGuidance(check Check) string {
	switch check {
	case CheckShell:
		return "Set execution.shell to an installed POSIX shell, e.g. /bin/sh."
	case CheckWorkspace:
		return "Check the permissions of the workspace or pass --workspace."
	case CheckModel:
		return "Export the provider's API key (ANTHROPIC_API_KEY, OPENAI_API_KEY, GOOGLE_GENAI_API_KEY)\n" +
			"    or store it with: taskpilot secrets set <NAME>"
	case CheckOllama:
		return "Start Ollama and pull the model:\n" +
			"    ollama serve\n" +
			"    ollama pull <model>"
	default:
		return "Check the configuration."
	}
}
