// Package templates renders the prompts sent to the language model.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// TemplateData holds the data for template rendering. Each template reads only the fields
// relevant to its phase.
type TemplateData struct {
	Request string `json:"request"`
	Context string `json:"context,omitempty"`

	// Instructions are project rules appended to the system prompt.
	Instructions string `json:"instructions,omitempty"`

	// Step being implemented or recovered.
	StepNumber  int    `json:"step_number,omitempty"`
	StepTotal   int    `json:"step_total,omitempty"`
	StepText    string `json:"step_text,omitempty"`
	LongRunning bool   `json:"long_running,omitempty"`

	// Failure being recovered from.
	FailedCommand string   `json:"failed_command,omitempty"`
	ExitCode      int      `json:"exit_code,omitempty"`
	Stdout        string   `json:"stdout,omitempty"`
	Stderr        string   `json:"stderr,omitempty"`
	Failure       string   `json:"failure,omitempty"`
	AlreadyRun    []string `json:"already_run,omitempty"` // commands of the step that succeeded
}

// PromptTemplate names an embedded template.
type PromptTemplate string

const (
	// SystemTemplate describes the instruction grammar. It is sent with every request.
	SystemTemplate PromptTemplate = "system.tpl.md"
	// PlanTemplate asks for a numbered plan.
	PlanTemplate PromptTemplate = "plan.tpl.md"
	// StepTemplate asks for the files, edits and commands of one step.
	StepTemplate PromptTemplate = "step.tpl.md"
	// RecoveryTemplate asks for a fix after a failed command or step.
	RecoveryTemplate PromptTemplate = "recovery.tpl.md"
)

// maxOutputChars bounds captured output quoted back to the model.
const maxOutputChars = 4000

// Renderer handles template rendering.
type Renderer struct {
	templates map[PromptTemplate]*template.Template
}

// NewRenderer creates a new template renderer with every embedded template parsed.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{
		templates: make(map[PromptTemplate]*template.Template),
	}

	for _, name := range []PromptTemplate{SystemTemplate, PlanTemplate, StepTemplate, RecoveryTemplate} {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}

		tmpl, err := template.New(string(name)).Funcs(template.FuncMap{
			"tail": tail,
			"join": strings.Join,
		}).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// Render renders the specified template with the given data.
func (r *Renderer) Render(templateName PromptTemplate, data *TemplateData) (string, error) {
	tmpl, exists := r.templates[templateName]
	if !exists {
		return "", fmt.Errorf("template %s not found", templateName)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", templateName, err)
	}

	return strings.TrimSpace(buf.String()) + "\n", nil
}

// tail keeps the last maxOutputChars characters of s. Errors usually sit at the end of output.
func tail(s string) string {
	if len(s) <= maxOutputChars {
		return s
	}
	cut := len(s) - maxOutputChars
	for cut < len(s) && (s[cut]&0xC0) == 0x80 {
		cut++
	}
	return "[... truncated ...]\n" + s[cut:]
}
