// Package importzip implements the import-zip command.
package importzip

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/voterimport/cmd/status"
	"github.com/tphakala/voterimport/internal/app"
	"github.com/tphakala/voterimport/internal/conf"
)

// Command creates the import-zip command.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-zip <archive.zip>",
		Short: "Import the province folders inside a zip archive",
		Long: `Stage every CSV in the archive to the file store and import it.
Top level folders name the province; files at the archive root are
imported under "Unknown".`,
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

			summary, err := a.Orchestrator.ImportZip(ctx, args[0])
			if err != nil {
				return err
			}
			return status.Report(ctx, cmd.OutOrStdout(), a, summary)
		},
	}
	return cmd
}
