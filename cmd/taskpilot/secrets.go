package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"taskpilot/pkg/config"
)

func newSecretsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage the encrypted credentials of the workspace",
	}
	cmd.AddCommand(newSecretsSetCmd(flags), newSecretsListCmd(flags))
	return cmd
}

func newSecretsSetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set NAME",
		Short: "Store a secret such as ANTHROPIC_API_KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" {
				return fmt.Errorf("secret name is empty")
			}
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.ErrOrStderr()
			password, err := secretsPassword(a, out)
			if err != nil {
				return err
			}
			if config.SecretsFileExists(a.workspace) {
				secrets, err := config.DecryptSecretsFile(a.workspace, password)
				if err != nil {
					return err
				}
				config.SetDecryptedSecrets(secrets)
			}

			value, err := readSecret(os.Stdin, out, fmt.Sprintf("Value for %s: ", name))
			if err != nil {
				return err
			}
			config.SetSecret(name, value)
			if err := config.SaveSecretsToFile(a.workspace, password); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to %s\n", name, config.SecretsFilePath(a.workspace))
			return nil
		},
	}
}

func newSecretsListCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.close()

			if !config.SecretsFileExists(a.workspace) {
				fmt.Fprintln(cmd.OutOrStdout(), "No secrets stored.")
				return nil
			}
			password, err := secretsPassword(a, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			secrets, err := config.DecryptSecretsFile(a.workspace, password)
			if err != nil {
				return err
			}
			config.SetDecryptedSecrets(secrets)
			for _, name := range config.GetDecryptedSecretNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

// secretsPassword returns TASKPILOT_PASSWORD or prompts for it. A new secrets file asks for
// confirmation.
func secretsPassword(a *app, out io.Writer) (string, error) {
	if password := os.Getenv(EnvPassword); password != "" {
		return password, nil
	}
	if !config.SecretsFileExists(a.workspace) {
		return promptNewPassword(os.Stdin, out)
	}
	return readSecret(os.Stdin, out, "Secrets password: ")
}
