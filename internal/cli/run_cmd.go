package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/luo-one/mailkeeper/internal/database/models"
	"github.com/luo-one/mailkeeper/internal/mailbox"
	"github.com/luo-one/mailkeeper/internal/services"
	"github.com/spf13/cobra"
)

// ErrRunFailed is returned when the ingestion run finished with status error
var ErrRunFailed = errors.New("ingestion run failed")

func newRunCmd(app *App) *cobra.Command {
	var q mailbox.Query

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one ingestion now and print the recorded run",
		RunE: func(cmd *cobra.Command, args []string) error {
			var query *mailbox.Query
			if !q.IsEmpty() {
				query = &q
			}

			run, err := app.Scheduler.Trigger(cmd.Context(), models.JobTriggerCLI, query)
			if err != nil {
				if errors.Is(err, services.ErrRunInProgress) {
					return fmt.Errorf("another run is in progress: %w", err)
				}
				return err
			}

			out, err := json.MarshalIndent(run, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if run.Status == models.JobStatusError {
				return ErrRunFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&q.Sender, "sender", "", "only unread messages FROM this sender")
	cmd.Flags().StringVar(&q.Subject, "subject", "", "only unread messages whose SUBJECT contains this text")
	cmd.Flags().StringVar(&q.Keyword, "keyword", "", "only unread messages whose TEXT contains this keyword")
	return cmd
}
