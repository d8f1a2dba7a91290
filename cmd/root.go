// Package cmd wires the voterimport command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/voterimport/cmd/exportdb"
	"github.com/tphakala/voterimport/cmd/importdir"
	"github.com/tphakala/voterimport/cmd/importfile"
	"github.com/tphakala/voterimport/cmd/importzip"
	"github.com/tphakala/voterimport/cmd/status"
	"github.com/tphakala/voterimport/cmd/surnames"
	"github.com/tphakala/voterimport/cmd/worker"
	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/logger"
	"github.com/tphakala/voterimport/internal/telemetry"
)

// RootCommand creates and returns the root command. cleanup releases the
// logger and telemetry set up before a subcommand runs.
func RootCommand(settings *conf.Settings) (root *cobra.Command, cleanup func()) {
	var closers []func()
	cleanup = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	root = &cobra.Command{
		Use:           "voterimport",
		Short:         "Bulk voter roll importer",
		Version:       settings.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(root, settings); err != nil {
		root.RunE = func(*cobra.Command, []string) error { return err }
		return root, cleanup
	}

	root.AddCommand(
		importfile.Command(settings),
		importdir.Command(settings),
		importzip.Command(settings),
		worker.Command(settings),
		surnames.Command(settings),
		status.Command(settings),
		exportdb.Command(settings),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Flags are bound to viper; re-read so they take precedence.
		reloaded, err := conf.Reload()
		if err != nil {
			return err
		}
		version, buildDate := settings.Version, settings.BuildDate
		*settings = *reloaded
		settings.Version, settings.BuildDate = version, buildDate

		closeLogger, err := initLogging(settings)
		if err != nil {
			return err
		}
		closers = append(closers, closeLogger)

		flush, err := telemetry.InitSentry(&settings.Sentry, settings.Version)
		if err != nil {
			return err
		}
		closers = append(closers, flush)
		return nil
	}

	return root, cleanup
}

// Execute runs the command line with ctx and releases resources afterwards.
func Execute(ctx context.Context, settings *conf.Settings) error {
	root, cleanup := RootCommand(settings)
	defer cleanup()
	return root.ExecuteContext(ctx)
}

func initLogging(settings *conf.Settings) (func(), error) {
	if settings.Debug {
		settings.Logging.DefaultLevel = string(logger.LogLevelDebug)
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = string(logger.LogLevelDebug)
		}
	}
	central, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(central)
	return func() { _ = central.Close() }, nil
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	flags.String("db", viper.GetString("database.backend"), "Database backend: sqlite, mysql or postgres")
	flags.String("sqlite-path", viper.GetString("database.sqlite.path"), "SQLite database file")
	flags.String("transport", viper.GetString("queue.transport"), "Job transport: local or amqp")
	flags.String("storage", viper.GetString("storage.backend"), "File store: local or minio")
	flags.Int("batch-size", viper.GetInt("import.batch_size"), "Rows per import batch")
	flags.Int("concurrency", viper.GetInt("queue.concurrency"), "Jobs executed at once")

	bindings := map[string]string{
		"debug":                "debug",
		"database.backend":     "db",
		"database.sqlite.path": "sqlite-path",
		"queue.transport":      "transport",
		"storage.backend":      "storage",
		"import.batch_size":    "batch-size",
		"queue.concurrency":    "concurrency",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}
