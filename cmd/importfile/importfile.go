// Package importfile implements the import-file command.
package importfile

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/voterimport/cmd/status"
	"github.com/tphakala/voterimport/internal/app"
	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/datastore/entities"
	"github.com/tphakala/voterimport/internal/orchestrator"
)

// Command creates the import-file command for importing a single CSV.
func Command(settings *conf.Settings) *cobra.Command {
	var province, constituency, user string

	cmd := &cobra.Command{
		Use:   "import-file <file.csv>",
		Short: "Import one voter CSV file",
		Long: `Read a voter CSV, split it into batches and import them.

With the local transport the command waits for every batch and prints the
ledger entry. With the amqp transport it queues the file and returns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.Open(ctx, settings)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.StartPipeline(ctx); err != nil {
				return err
			}

			task := orchestrator.NewFileTask(args[0], province, constituency, user)
			out := cmd.OutOrStdout()

			if a.AMQP != nil {
				id, err := a.Dispatcher.Dispatch(ctx, orchestrator.TaskImportFile, task)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "queued %s as task %s\n", task.Path, id)
				return nil
			}

			desc, err := a.Orchestrator.ImportFile(ctx, task)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "dispatched %d rows in %d batches\n", desc.Rows, desc.Chunks)

			if err := a.Wait(ctx); err != nil {
				return err
			}
			job, err := a.Ledger.Get(ctx, desc.UploadID)
			if err != nil {
				return err
			}
			status.PrintUploads(out, []entities.UploadJob{*job})
			return nil
		},
	}

	cmd.Flags().StringVarP(&province, "province", "p", "", "Province for every row (default: the CSV column)")
	cmd.Flags().StringVarP(&constituency, "constituency", "c", "", "Constituency (default: file name)")
	cmd.Flags().StringVarP(&user, "user", "u", "", "User recorded as the uploader")

	return cmd
}
