// Command taskpilot turns a natural-language request into a plan and executes it step by step
// in a workspace, writing files and running commands the model asks for.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"taskpilot/pkg/version"
)

// errExit carries a process exit code through cobra.
type errExit int

func (e errExit) Error() string {
	return "exit " + strconv.Itoa(int(e))
}

// Exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitStepsFailed = 2
	exitAborted     = 3
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	workspace  string
	configPath string
	debug      bool
}

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdout, os.Stderr))
}

func runCLI(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		var exitErr errExit
		if errors.As(err, &exitErr) {
			return int(exitErr)
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	return exitOK
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "taskpilot",
		Short:         "Plan and execute development tasks with a language model",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.workspace, "workspace", "w", ".", "Workspace directory")
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Config file (default <workspace>/.taskpilot/config.yaml)")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		newRunCmd(flags),
		newPlanCmd(flags),
		newContextCmd(flags),
		newHistoryCmd(flags),
		newSecretsCmd(flags),
		newDoctorCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taskpilot %s\n", version.String())
		},
	}
}
