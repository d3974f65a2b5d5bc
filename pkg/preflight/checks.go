package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"taskpilot/pkg/config"
	"taskpilot/pkg/llm/providers/ollama"
)

const ollamaTimeout = 5 * time.Second

// checkShell verifies the configured shell can be started.
func checkShell(shell string) CheckResult {
	result := CheckResult{Check: CheckShell}
	path, err := exec.LookPath(shell)
	if err != nil {
		result.Message = fmt.Sprintf("Shell %s not found", shell)
		result.Error = err
		return result
	}
	result.Passed = true
	result.Message = fmt.Sprintf("Commands run with %s", path)
	return result
}

// checkWorkspace verifies the state directory can be created and written.
func checkWorkspace(workspace string) CheckResult {
	result := CheckResult{Check: CheckWorkspace}
	dir := filepath.Join(workspace, config.StateDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Message = fmt.Sprintf("Cannot create %s", dir)
		result.Error = err
		return result
	}
	probe, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		result.Message = fmt.Sprintf("%s is not writable", dir)
		result.Error = err
		return result
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)

	result.Passed = true
	result.Message = fmt.Sprintf("Workspace %s is writable", workspace)
	return result
}

// checkModel verifies the provider can be resolved and has credentials.
func checkModel(cfg *config.Config) CheckResult {
	result := CheckResult{Check: CheckModel}
	provider, err := cfg.ResolvedProvider()
	if err != nil {
		result.Message = fmt.Sprintf("Cannot determine the provider of %s", cfg.Model.Name)
		result.Error = err
		return result
	}
	if _, err := config.ResolveCredential(&cfg.Model, provider); err != nil {
		result.Message = fmt.Sprintf("No credentials for %s", provider)
		result.Error = err
		return result
	}
	result.Passed = true
	result.Message = fmt.Sprintf("%s via %s is configured", cfg.Model.Name, provider)
	return result
}

// checkOllama verifies the Ollama server is reachable and has the model.
func checkOllama(ctx context.Context, cfg *config.Config) CheckResult {
	result := CheckResult{Check: CheckOllama}
	host, err := config.ResolveCredential(&cfg.Model, config.ProviderOllama)
	if err != nil {
		result.Message = "Cannot determine the Ollama host"
		result.Error = err
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, ollamaTimeout)
	defer cancel()
	client := ollama.NewClient(host, cfg.Model.Name, &http.Client{Timeout: ollamaTimeout})
	models, err := client.ListModels(ctx)
	if err != nil {
		result.Message = fmt.Sprintf("Cannot reach Ollama at %s", client.Host())
		result.Error = err
		return result
	}

	want := client.GetModelName()
	if !slices.ContainsFunc(models, func(name string) bool {
		return name == want || strings.TrimSuffix(name, ":latest") == want
	}) {
		result.Message = fmt.Sprintf("Model %s is not pulled", want)
		result.Error = fmt.Errorf("missing model: %s", want)
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Ollama is running with %d models available", len(models))
	return result
}
