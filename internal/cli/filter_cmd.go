package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/luo-one/mailkeeper/internal/database/models"
	"github.com/luo-one/mailkeeper/internal/services"
	"github.com/spf13/cobra"
)

func newFilterCmd(app *App) *cobra.Command {
	filterCmd := &cobra.Command{
		Use:   "filter",
		Short: "Manage acceptance filters",
		Long: `A message is kept when any enabled filter matches it. Within a filter every
set condition must match (case-insensitive substring). With no enabled filters
every message is kept.`,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters, err := app.Filters.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tENABLED\tFROM\tSUBJECT\tBODY")
			for _, f := range filters {
				fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\t%s\n", f.ID, f.Name, f.Enabled,
					orDash(f.FromAddress), orDash(f.SubjectContains), orDash(f.BodyContains))
			}
			return w.Flush()
		},
	}

	var (
		name, from, subject, body string
		disabled                  bool
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled := !disabled
			f, err := app.Filters.Create(cmd.Context(), services.CreateFilterRequest{
				Name:            name,
				FromAddress:     flagValue(cmd, "from", from),
				SubjectContains: flagValue(cmd, "subject", subject),
				BodyContains:    flagValue(cmd, "body", body),
				Enabled:         &enabled,
			})
			if err != nil {
				return err
			}
			app.recordActivity(app.Logs.LogInfo(0, models.LogModuleCLI, "create", "Filter created", f))
			fmt.Fprintf(cmd.OutOrStdout(), "Created filter %d (%s)\n", f.ID, f.Name)
			return nil
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "unique filter name")
	addCmd.Flags().StringVar(&from, "from", "", "sender must contain this text")
	addCmd.Flags().StringVar(&subject, "subject", "", "subject must contain this text")
	addCmd.Flags().StringVar(&body, "body", "", "body must contain this text")
	addCmd.Flags().BoolVar(&disabled, "disabled", false, "create the filter disabled")
	addCmd.MarkFlagRequired("name")

	removeCmd := &cobra.Command{
		Use:   "remove <id|name>",
		Short: "Remove a filter by ID or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if id, convErr := strconv.ParseUint(args[0], 10, 32); convErr == nil {
				err = app.Filters.Delete(cmd.Context(), uint(id))
			} else {
				err = app.Filters.DeleteByName(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			app.recordActivity(app.Logs.LogInfo(0, models.LogModuleCLI, "delete", "Filter deleted", map[string]interface{}{"filter": args[0]}))
			fmt.Fprintf(cmd.OutOrStdout(), "Removed filter %s\n", args[0])
			return nil
		},
	}

	filterCmd.AddCommand(listCmd, addCmd, removeCmd)
	return filterCmd
}

func flagValue(cmd *cobra.Command, name, value string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &value
}

func orDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
