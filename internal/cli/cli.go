package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/luo-one/mailkeeper/internal/config"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the command tree around app. With no subcommand the server starts.
func NewRootCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "mailkeeper",
		Short: "Mailbox ingestion service",
		Long: `Mailkeeper pulls unread mail from an IMAP mailbox, keeps the messages that
pass the configured filters, and stores them with their attachments.

Examples:
  mailkeeper                     # start the API server and the scheduler
  mailkeeper run                 # run one ingestion now
  mailkeeper key show            # print the API key
  mailkeeper filter add --name invoices --subject fatura
  mailkeeper token               # issue an operator bearer token`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), app)
		},
	}

	root.AddCommand(
		newServeCmd(app),
		newRunCmd(app),
		newKeyCmd(app),
		newFilterCmd(app),
		newTokenCmd(app),
	)
	return root
}

// Execute wires the application from cfg and runs the command line
func Execute(cfg *config.Config, logger *slog.Logger) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize: %v\n", err)
		os.Exit(1)
	}

	err = NewRootCmd(app).Execute()
	if closeErr := app.Close(); closeErr != nil {
		logger.Warn("failed to close database", "error", closeErr)
	}
	if err != nil {
		os.Exit(1)
	}
}
