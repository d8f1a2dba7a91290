// Package importdir implements the import-dir command.
package importdir

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/voterimport/cmd/status"
	"github.com/tphakala/voterimport/internal/app"
	"github.com/tphakala/voterimport/internal/conf"
)

// Command creates the import-dir command. Files are expected as
// <Province>[ Province]/<Constituency>.csv below the directory.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-dir <directory>",
		Short: "Import every voter CSV below a directory",
		Args:  cobra.ExactArgs(1),
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

			summary, err := a.Orchestrator.ImportFolder(ctx, args[0])
			if err != nil {
				return err
			}
			return status.Report(ctx, cmd.OutOrStdout(), a, summary)
		},
	}
	return cmd
}
