// Package exportdb copies a SQLite voter database into the configured server
// backend.
package exportdb

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/datastore"
	"github.com/tphakala/voterimport/internal/datastore/export"
	"github.com/tphakala/voterimport/internal/errors"
)

// Command creates the export-db command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		from       string
		batchSize  int
		clean      bool
		skipVerify bool
	)

	cmd := &cobra.Command{
		Use:   "export-db",
		Short: "Copy a SQLite voter database into MySQL or PostgreSQL",
		Long: `Copy voters, surname mappings and the upload ledger from a SQLite file
into the backend configured under database.backend. Existing target rows are
skipped, so an interrupted export can be re-run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if settings.Database.Backend != conf.BackendMySQL && settings.Database.Backend != conf.BackendPostgres {
				return errors.Newf("export target must be mysql or postgres, got %q", settings.Database.Backend).
					Component("app").
					Category(errors.CategoryConfiguration).
					Build()
			}
			if _, err := os.Stat(from); err != nil {
				return errors.New(err).
					Component("app").
					Category(errors.CategoryNotFound).
					Context("path", from).
					Build()
			}

			source, err := datastore.Open(&conf.DatabaseSettings{
				Backend: conf.BackendSQLite,
				SQLite:  conf.SQLiteSettings{Path: from},
			})
			if err != nil {
				return err
			}
			defer func() { _ = source.Close() }()

			target, err := datastore.Open(&settings.Database)
			if err != nil {
				return err
			}
			defer func() { _ = target.Close() }()

			exp, err := export.New(source.DB(), target.DB(), export.Options{BatchSize: batchSize, Clean: clean})
			if err != nil {
				return err
			}

			stats, err := exp.Run(ctx)
			if stats != nil {
				PrintStats(cmd.OutOrStdout(), stats)
			}
			if err != nil {
				return err
			}
			if skipVerify {
				return nil
			}

			checks, err := exp.Verify(ctx, export.DefaultSampleSize)
			PrintChecks(cmd.OutOrStdout(), checks)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Verification passed")
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "Path to the source SQLite database")
	cmd.Flags().IntVar(&batchSize, "batch-size", export.DefaultBatchSize, "Rows per insert batch")
	cmd.Flags().BoolVar(&clean, "clean", false, "Delete target rows before copying")
	cmd.Flags().BoolVar(&skipVerify, "skip-verify", false, "Skip count and sample verification")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}

// PrintStats writes the per-table export summary.
func PrintStats(w io.Writer, stats *export.Stats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tSOURCE\tMIGRATED\tSKIPPED\tERRORS\tDURATION")
	for _, t := range stats.Tables {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n",
			t.Name, t.Source, t.Migrated, t.Skipped, t.Errors, t.Duration.Round(time.Millisecond))
	}
	migrated, skipped, failed := stats.Totals()
	fmt.Fprintf(tw, "TOTAL\t\t%d\t%d\t%d\t%s\n", migrated, skipped, failed, stats.EndTime.Sub(stats.StartTime).Round(time.Millisecond))
	_ = tw.Flush()
}

// PrintChecks writes the count verification table.
func PrintChecks(w io.Writer, checks []export.CountCheck) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tSOURCE\tTARGET\tMATCH")
	for _, c := range checks {
		match := "yes"
		if !c.Match() {
			match = "NO"
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", c.Table, c.Source, c.Target, match)
	}
	_ = tw.Flush()
}
