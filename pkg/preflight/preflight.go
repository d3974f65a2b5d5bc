// Package preflight validates that a workspace can run before the first model call:
// the shell exists, the state directory is writable and the model has credentials.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"taskpilot/pkg/config"
)

// Check names a preflight check.
type Check string

// Check constants.
const (
	CheckShell     Check = "shell"
	CheckWorkspace Check = "workspace"
	CheckModel     Check = "model"
	CheckOllama    Check = "ollama"
)

// CheckResult represents the outcome of a single preflight check.
type CheckResult struct {
	Error   error
	Message string
	Check   Check
	Passed  bool
}

// Results contains all preflight check results.
type Results struct {
	Summary string
	Checks  []CheckResult
	Passed  bool
}

// Options tunes which checks run.
type Options struct {
	// SkipNetwork skips checks that contact a server.
	SkipNetwork bool
}

// RequiredChecks determines which checks apply to cfg.
func RequiredChecks(cfg *config.Config, opts Options) []Check {
	checks := []Check{CheckShell, CheckWorkspace, CheckModel}
	if provider, err := cfg.ResolvedProvider(); err == nil && provider == config.ProviderOllama && !opts.SkipNetwork {
		checks = append(checks, CheckOllama)
	}
	return checks
}

// Run executes every applicable check for the workspace.
func Run(ctx context.Context, workspace string, cfg *config.Config, opts Options) *Results {
	required := RequiredChecks(cfg, opts)
	results := &Results{
		Checks: make([]CheckResult, 0, len(required)),
		Passed: true,
	}

	failed := 0
	for _, check := range required {
		result := runCheck(ctx, check, workspace, cfg)
		results.Checks = append(results.Checks, result)
		if !result.Passed {
			results.Passed = false
			failed++
		}
	}

	if results.Passed {
		results.Summary = fmt.Sprintf("All %d preflight checks passed", len(results.Checks))
	} else {
		results.Summary = fmt.Sprintf("%d of %d preflight checks failed", failed, len(results.Checks))
	}
	return results
}

func runCheck(ctx context.Context, check Check, workspace string, cfg *config.Config) CheckResult {
	switch check {
	case CheckShell:
		return checkShell(cfg.Execution.Shell)
	case CheckWorkspace:
		return checkWorkspace(workspace)
	case CheckModel:
		return checkModel(cfg)
	case CheckOllama:
		return checkOllama(ctx, cfg)
	default:
		return CheckResult{
			Check:   check,
			Message: "Unknown check",
			Error:   fmt.Errorf("unknown check: %s", check),
		}
	}
}

// Validate runs the checks and returns an error describing every failure.
func Validate(ctx context.Context, workspace string, cfg *config.Config, opts Options) error {
	results := Run(ctx, workspace, cfg, opts)
	if results.Passed {
		return nil
	}
	var failedChecks []string
	for i := range results.Checks {
		if !results.Checks[i].Passed {
			failedChecks = append(failedChecks, FormatCheckError(results.Checks[i]))
		}
	}
	return errors.New("preflight failed:\n" + strings.Join(failedChecks, ""))
}
