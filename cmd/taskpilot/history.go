package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"taskpilot/pkg/engine"
	"taskpilot/pkg/eventlog"
	"taskpilot/pkg/persistence"
)

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var limit int
	var asJSON, events bool
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recorded runs or show one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()

			dbPath := a.path(a.cfg.Persistence.DBPath)
			if _, err := os.Stat(dbPath); os.IsNotExist(err) {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}
			store, err := persistence.Open(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 0 {
				runs, err := store.Ops().ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, runs)
				}
				fmt.Fprint(out, renderRuns(runs))
				return nil
			}

			detail, err := store.Ops().GetRunDetail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var runEvents []engine.Status
			if events && a.cfg.Events.Dir != "" {
				if runEvents, err = eventlog.ReadRun(a.path(a.cfg.Events.Dir), detail.Run.ID); err != nil {
					return err
				}
			}
			if asJSON {
				return writeJSON(out, struct {
					*persistence.RunDetail
					Events []engine.Status `json:"events,omitempty"`
				}{detail, runEvents})
			}
			fmt.Fprint(out, renderRunDetail(detail, runEvents))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	cmd.Flags().BoolVar(&events, "events", false, "Include the run's progress events")
	return cmd
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
