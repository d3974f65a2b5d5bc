package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultClassifier(t *testing.T) {
	c, err := NewClassifier()
	require.NoError(t, err)

	longRunning := []string{
		"npm run dev",
		"npm start",
		"yarn dev",
		"pnpm run serve",
		"npx vite",
		"python -m http.server 8000",
		"python manage.py runserver",
		"flask run --port 5000",
		"uvicorn app:app --reload",
		"tail -f server.log",
		"tsc --watch",
		"cargo watch -x run",
		"./gradlew bootRun",
	}
	for _, cmd := range longRunning {
		assert.True(t, c.IsLongRunning(cmd), cmd)
	}

	regular := []string{
		"npm install",
		"npm run build",
		"go test ./...",
		"jest --watchAll=false",
		"tail -n 20 server.log",
		"vite build",
		"mkdir -p src",
	}
	for _, cmd := range regular {
		assert.False(t, c.IsLongRunning(cmd), cmd)
	}
}

func TestClassifierExtraPatterns(t *testing.T) {
	c, err := NewClassifier(`^make serve$`)
	require.NoError(t, err)
	assert.True(t, c.IsLongRunning("make serve"))
	assert.True(t, c.IsLongRunning("npm run dev"))

	_, err = NewClassifier(`(`)
	assert.Error(t, err)

	var none *Classifier
	assert.False(t, none.IsLongRunning("npm run dev"))
}

func TestCommandFailedErrorMessage(t *testing.T) {
	err := &CommandFailedError{Execution: CommandExecution{Command: "false", ExitCode: 1}, Attempts: 4}
	assert.Equal(t, `command failed: "false" exited with code 1 after 4 attempt(s)`, err.Error())
}
