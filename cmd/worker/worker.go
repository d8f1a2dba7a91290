// Package worker implements the long-running worker command.
package worker

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/voterimport/internal/app"
	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/logger"
	"github.com/tphakala/voterimport/internal/observability"
)

// Command creates the worker command.
func Command(settings *conf.Settings) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume import jobs from the broker",
		Long: `Run import_file and import_batch jobs from the AMQP queue and serve
/healthz, /metrics and /api/v1/resolver/reload until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if settings.Queue.Transport != conf.TransportAMQP {
				return errors.Newf("worker requires queue.transport=%s, got %q",
					conf.TransportAMQP, settings.Queue.Transport).
					Component("app").
					Category(errors.CategoryConfiguration).
					Build()
			}
			if listen != "" {
				settings.Worker.Listen = listen
			}

			ctx := cmd.Context()
			a, err := app.Open(ctx, settings)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.StartPipeline(ctx); err != nil {
				return err
			}

			log := logger.Global().Module("app.worker")
			log.Info("worker started",
				logger.String("queue", settings.Import.QueueName),
				logger.Int("concurrency", settings.Queue.Concurrency),
				logger.String("version", settings.Version))

			opts := []observability.EndpointOption{}
			if settings.Worker.MetricsEnabled {
				opts = append(opts, observability.WithMetrics(a.Metrics))
			}
			if a.Broadcaster != nil {
				opts = append(opts, observability.WithBroadcaster(a.Broadcaster))
			}
			endpoint := observability.NewEndpoint(settings.Worker.Listen, a.Store, a.Resolver, opts...)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.AMQP.Consume(gctx, a.Executor) })
			g.Go(func() error { return endpoint.Start(gctx) })

			err = g.Wait()
			log.Info("worker stopping", logger.Error(err))
			stats := a.Queue.GetStats()
			if summary, jsonErr := stats.ToJSON(); jsonErr == nil {
				log.Info("queue stats", logger.String("stats", summary))
			}
			if ctx.Err() != nil {
				// Interrupted; not a failure.
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (default from worker.listen)")

	return cmd
}
