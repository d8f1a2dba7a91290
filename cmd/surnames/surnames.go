// Package surnames implements the surname mapping commands.
package surnames

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/voterimport/internal/app"
	"github.com/tphakala/voterimport/internal/caste"
	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/surname"
)

// Command creates the surnames command and its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "surnames",
		Short: "Manage surname to caste mappings",
	}
	cmd.AddCommand(
		loadCommand(settings),
		addCommand(settings),
		removeCommand(settings),
		reloadCommand(settings),
		unmappedCommand(settings),
	)
	return cmd
}

func loadCommand(settings *conf.Settings) *cobra.Command {
	var (
		csvPath string
		clear   bool
	)
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load mappings from a (surname, caste) CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(csvPath)
			if err != nil {
				return err
			}
			defer f.Close()

			ctx := cmd.Context()
			a, err := app.Open(ctx, settings)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := caste.LoadMappings(ctx, f, a.Surnames, clear)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "created %d, updated %d, skipped %d, active total %d\n",
				summary.Created, summary.Updated, summary.Skipped, summary.ActiveTotal)
			if len(summary.UnmappedCastes) > 0 {
				fmt.Fprintf(out, "caste names mapped to unknown: %s\n", strings.Join(summary.UnmappedCastes, ", "))
			}
			return a.ReloadResolver(ctx, "surnames load")
		},
	}
	cmd.Flags().StringVar(&csvPath, "csv", "", "CSV file with surname and caste name columns")
	cmd.Flags().BoolVar(&clear, "clear", false, "Remove existing mappings first")
	_ = cmd.MarkFlagRequired("csv")
	return cmd
}

// parseCategory accepts an English category or a Nepali caste name.
func parseCategory(s string) (caste.Category, error) {
	if c, err := caste.ParseCategory(s); err == nil {
		return c, nil
	}
	if c, ok := caste.MapCasteName(s); ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q, expected one of %v or a caste name", s, caste.All())
}

func addCommand(settings *conf.Settings) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "add <surname> <category>",
		Short: "Add or update one mapping",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := surname.Normalize(args[0])
			if name == "" {
				return fmt.Errorf("surname %q is empty after normalization", args[0])
			}
			category, err := parseCategory(args[1])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := app.Open(ctx, settings)
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := a.Surnames.UpsertMapping(ctx, name, category, notes)
			if err != nil {
				return err
			}
			verb := "updated"
			if created {
				verb = "created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n", verb, name, category)
			return a.ReloadResolver(ctx, "surnames add")
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "Free text stored with the mapping")
	return cmd
}

func removeCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <surname>",
		Short: "Deactivate a mapping",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.Open(ctx, settings)
			if err != nil {
				return err
			}
			defer a.Close()

			name := surname.Normalize(args[0])
			if err := a.Surnames.Deactivate(ctx, name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s\n", name)
			return a.ReloadResolver(ctx, "surnames remove")
		},
	}
}

func reloadCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the resolver cache and notify workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.Open(ctx, settings)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ReloadResolver(ctx, "surnames reload"); err != nil {
				return err
			}
			total, err := a.Surnames.CountActive(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reloaded %d active mappings\n", total)
			return nil
		},
	}
}

func unmappedCommand(settings *conf.Settings) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "unmapped",
		Short: "List surnames of voters with an unknown category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := app.Open(ctx, settings)
			if err != nil {
				return err
			}
			defer a.Close()

			counts, err := a.Voters.UnmappedSurnames(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SURNAME\tVOTERS")
			for _, c := range counts {
				fmt.Fprintf(tw, "%s\t%d\n", c.Surname, c.Count)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum surnames to list")
	return cmd
}
