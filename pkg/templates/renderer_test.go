package templates

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRenderer(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	for _, name := range []PromptTemplate{SystemTemplate, PlanTemplate, StepTemplate, RecoveryTemplate} {
		out, err := renderer.Render(name, &TemplateData{Request: "Build it"})
		require.NoError(t, err, name)
		assert.NotContains(t, out, "<no value>", name)
	}

	_, err = renderer.Render("missing.tpl.md", &TemplateData{})
	assert.Error(t, err)
}

func TestRenderSystemDescribesGrammar(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	out, err := renderer.Render(SystemTemplate, &TemplateData{})
	require.NoError(t, err)
	for _, marker := range []string{"### ", "%%%", "#replace-block#", "#add-block#", "#delete-block#", "#rewrite-file#", "#end-block#", "$ "} {
		assert.Contains(t, out, marker)
	}
}

func TestRenderSystemAppendsInstructions(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	plain, err := renderer.Render(SystemTemplate, &TemplateData{})
	require.NoError(t, err)
	assert.NotContains(t, plain, "Project instructions")

	out, err := renderer.Render(SystemTemplate, &TemplateData{Instructions: "Prefer tabs."})
	require.NoError(t, err)
	assert.Contains(t, out, "## Project instructions\n\nPrefer tabs.")
}

func TestRenderStepTemplate(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	out, err := renderer.Render(StepTemplate, &TemplateData{
		Request:     "Create a web server",
		Context:     "Workspace files in context (1 of max 200):\n- main.go",
		StepNumber:  2,
		StepTotal:   3,
		StepText:    "Start the server",
		LongRunning: true,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "step 2 of 3")
	assert.Contains(t, out, "## Step 2 (long-running)")
	assert.Contains(t, out, "- main.go")
	assert.Contains(t, out, "file and edit block first, then the commands")
}

func TestRenderRecoveryTemplate(t *testing.T) {
	renderer, err := NewRenderer()
	require.NoError(t, err)

	out, err := renderer.Render(RecoveryTemplate, &TemplateData{
		Request:       "Build it",
		StepNumber:    1,
		StepText:      "Compile",
		FailedCommand: "make",
		ExitCode:      2,
		Stderr:        "make: *** No targets specified",
		AlreadyRun:    []string{"make clean"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "$ make\n")
	assert.Contains(t, out, "Exit code: 2")
	assert.Contains(t, out, "No targets specified")
	assert.Contains(t, out, "Never repeat the failed command `make`")
	assert.Contains(t, out, "already succeeded: make clean.")
	assert.NotContains(t, out, "Standard output")

	out, err = renderer.Render(RecoveryTemplate, &TemplateData{Request: "Build it", StepNumber: 1, Failure: "model request failed"})
	require.NoError(t, err)
	assert.Contains(t, out, "## Failure\n\nmodel request failed")
	assert.NotContains(t, out, "Never repeat")
}

func TestTailTruncatesFromTheFront(t *testing.T) {
	long := strings.Repeat("a", maxOutputChars) + "END"
	got := tail(long)
	assert.True(t, strings.HasPrefix(got, "[... truncated ...]\n"))
	assert.True(t, strings.HasSuffix(got, "END"))
	assert.Equal(t, "short", tail("short"))
}
