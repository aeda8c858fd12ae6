package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/luo-one/mailkeeper/internal/database/models"
	"github.com/spf13/cobra"
)

func newKeyCmd(app *App) *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "API key management",
		Long:  `Show or reset the API key that guards the HTTP API.`,
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the current API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			currentKey := app.Auth.APIKeyManager.GetCurrentKey()
			if currentKey == "" {
				return errors.New("no API key available")
			}
			fmt.Fprintln(cmd.OutOrStdout(), currentKey)
			return nil
		},
	}

	var yes bool
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Generate a new API key",
		Long:  `Generate a new API key. The old key stops working immediately. Asks for confirmation unless --yes is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if !yes {
				fmt.Fprintln(out, "Warning: clients using the current key will lose access.")
				fmt.Fprint(out, "Reset the API key? (yes/no): ")

				input, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && input == "" {
					return fmt.Errorf("read confirmation: %w", err)
				}
				input = strings.TrimSpace(strings.ToLower(input))
				if input != "yes" && input != "y" {
					fmt.Fprintln(out, "Cancelled.")
					return nil
				}
			}

			newKey, err := app.Auth.APIKeyManager.ResetKey()
			if err != nil {
				return fmt.Errorf("reset key: %w", err)
			}
			app.recordActivity(app.Logs.LogWarn(0, models.LogModuleCLI, "reset_key", "API key reset", nil))
			fmt.Fprintln(out, "New API key:")
			fmt.Fprintln(out, newKey)
			return nil
		},
	}
	resetCmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	keyCmd.AddCommand(showCmd, resetCmd)
	return keyCmd
}
