// Package status prints the upload ledger.
package status

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/voterimport/internal/app"
	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/datastore/entities"
)

// Command creates the status command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		limit int
		id    string
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show recent uploads",
		Long:  `List the most recent upload ledger entries, or one entry with --id.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.Open(ctx, settings)
			if err != nil {
				return err
			}
			defer a.Close()

			if id != "" {
				job, err := a.Ledger.Get(ctx, id)
				if err != nil {
					return err
				}
				PrintUploads(cmd.OutOrStdout(), []entities.UploadJob{*job})
				if job.ErrorLog != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "\nErrors:\n%s\n", job.ErrorLog)
				}
				return nil
			}

			jobs, err := a.Ledger.List(ctx, limit)
			if err != nil {
				return err
			}
			PrintUploads(cmd.OutOrStdout(), jobs)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	cmd.Flags().StringVar(&id, "id", "", "Show a single upload with its error log")

	return cmd
}

// PrintUploads writes one table row per ledger entry.
func PrintUploads(w io.Writer, jobs []entities.UploadJob) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tPROVINCE\tSTATUS\tROWS\tIMPORTED\tFAILED\tCHUNKS\tSECONDS")
	for i := range jobs {
		j := &jobs[i]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d/%d\t%.1f\n",
			j.ID, j.FileName, j.Province, j.Status,
			j.TotalRecords, j.SuccessCount, j.ErrorCount,
			j.ChunksDone, j.ExpectedChunks, j.ProcessingTime)
	}
	_ = tw.Flush()
}
