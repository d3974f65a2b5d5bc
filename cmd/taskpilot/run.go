package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"taskpilot/pkg/contextset"
	"taskpilot/pkg/engine"
	"taskpilot/pkg/preflight"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var include, exclude []string
	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Plan the request and execute every step",
		Long: "Plan the request with the model, then implement each step by writing files and running\n" +
			"commands in the workspace. Failed steps get one recovery attempt. Pass - to read the\n" +
			"request from stdin.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request, err := readRequest(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.unlockSecrets(os.Stdin, cmd.ErrOrStderr()); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := preflight.Validate(ctx, a.workspace, &a.cfg, preflight.Options{SkipNetwork: true}); err != nil {
				return err
			}

			s, err := newSession(ctx, a, sessionOptions{
				request:  request,
				include:  include,
				exclude:  exclude,
				record:   true,
				watch:    true,
				progress: cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			defer s.close()

			summary, runErr := s.orch.Run(ctx, request)
			if summary == nil {
				return runErr
			}
			totals, terr := s.prom.Totals()
			if terr != nil {
				s.logger.Warn("%v", terr)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSummary(summary, totals, len(s.runner.Active())))
			return exitStatus(summary, runErr)
		},
	}
	cmd.Flags().StringSliceVar(&include, "include", nil, "Context include globs (replace the configured ones)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Additional context exclude globs")
	return cmd
}

// exitStatus maps a finished run to the process exit code.
func exitStatus(summary *engine.Summary, runErr error) error {
	switch {
	case summary.State == engine.StateAborted:
		return errExit(exitAborted)
	case runErr != nil:
		return runErr
	case summary.Failed > 0 || summary.TimedOut > 0:
		return errExit(exitStepsFailed)
	default:
		return nil
	}
}

func newPlanCmd(flags *globalFlags) *cobra.Command {
	var include, exclude []string
	cmd := &cobra.Command{
		Use:   "plan <request>",
		Short: "Show the plan for a request without executing it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			request, err := readRequest(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.unlockSecrets(os.Stdin, cmd.ErrOrStderr()); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := preflight.Validate(ctx, a.workspace, &a.cfg, preflight.Options{SkipNetwork: true}); err != nil {
				return err
			}

			s, err := newSession(ctx, a, sessionOptions{
				request:  request,
				include:  include,
				exclude:  exclude,
				progress: cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			defer s.close()

			steps, usage, err := s.orch.Plan(ctx, request)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderPlan(steps))
			fmt.Fprintln(cmd.OutOrStdout(), dimStyle.Render(fmt.Sprintf("\n%d prompt + %d completion tokens", usage.PromptTokens, usage.CompletionTokens)))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&include, "include", nil, "Context include globs (replace the configured ones)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Additional context exclude globs")
	return cmd
}

func newContextCmd(flags *globalFlags) *cobra.Command {
	var include, exclude []string
	var contents bool
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Show which workspace files would be offered to the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()

			set, err := buildContextSet(a, include, exclude)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if contents {
				budget := contextBudget(&a.cfg)
				budget.IncludeFileContents = true
				text, err := contextset.BuildContext(set, budget)
				if err != nil {
					return err
				}
				fmt.Fprint(out, text)
				return nil
			}
			return writeContextSet(out, set)
		},
	}
	cmd.Flags().StringSliceVar(&include, "include", nil, "Context include globs (replace the configured ones)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Additional context exclude globs")
	cmd.Flags().BoolVar(&contents, "contents", false, "Print the full context text with file contents")
	return cmd
}

func writeContextSet(out io.Writer, set *contextset.Set) error {
	included, excluded := set.Len()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Included (%d/%d)", included, set.MaxSize())))
	for _, p := range set.SnapshotIncluded() {
		fmt.Fprintf(out, "  %s\n", p)
	}
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Excluded (%d)", excluded)))
	for _, p := range set.SnapshotExcluded() {
		fmt.Fprintf(out, "  %s\n", dimStyle.Render(p))
	}
	return nil
}

// readRequest joins the arguments into the request text. A single "-" reads stdin.
func readRequest(args []string, in io.Reader) (string, error) {
	request := strings.TrimSpace(strings.Join(args, " "))
	if request == "-" {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("failed to read request: %w", err)
		}
		request = strings.TrimSpace(string(data))
	}
	if request == "" {
		return "", errors.New("request is empty")
	}
	return request, nil
}


func newDoctorCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the workspace, shell and model are ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.unlockSecrets(os.Stdin, cmd.ErrOrStderr()); err != nil {
				return err
			}
			results := preflight.Run(cmd.Context(), a.workspace, &a.cfg, preflight.Options{})
			fmt.Fprint(cmd.OutOrStdout(), preflight.FormatResults(results))
			if !results.Passed {
				return errExit(exitError)
			}
			return nil
		},
	}
}
