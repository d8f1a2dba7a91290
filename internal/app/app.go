// Package app assembles the import pipeline from settings. Commands open an
// App for database work and start the pipeline when they import or serve.
package app

import (
	"context"
	"time"

	"github.com/tphakala/voterimport/internal/broker"
	"github.com/tphakala/voterimport/internal/caste"
	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/datastore"
	"github.com/tphakala/voterimport/internal/datastore/repository"
	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/filestore"
	"github.com/tphakala/voterimport/internal/ingest"
	"github.com/tphakala/voterimport/internal/jobqueue"
	"github.com/tphakala/voterimport/internal/ledger"
	"github.com/tphakala/voterimport/internal/logger"
	"github.com/tphakala/voterimport/internal/mqtt"
	"github.com/tphakala/voterimport/internal/notification"
	"github.com/tphakala/voterimport/internal/observability"
	"github.com/tphakala/voterimport/internal/orchestrator"
)

const queueStopTimeout = 30 * time.Second

// App holds every long-lived component.
type App struct {
	Settings *conf.Settings
	Metrics  *observability.Metrics

	Store    *datastore.Store
	Surnames *repository.SurnameRepository
	Voters   repository.VoterRepository
	Uploads  repository.UploadRepository
	Cache    *caste.TTLCache
	Resolver *caste.Resolver
	Ledger   *ledger.Ledger

	// Set when MQTT is enabled.
	MQTT        mqtt.Client
	Broadcaster *mqtt.Broadcaster

	// Set by StartPipeline.
	Queue        *jobqueue.JobQueue
	Executor     *broker.Executor
	FileQueue    *jobqueue.JobQueue // local transport only
	Dispatcher   broker.Dispatcher
	AMQP         *broker.AMQP
	Files        filestore.Store
	Orchestrator *orchestrator.Orchestrator
	Notifier     *notification.Notifier

	log     logger.Logger
	closers []func() error
}

// GetLogger returns the app module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("app")
}

// Open connects to the database, migrates it and builds the resolver.
func Open(ctx context.Context, settings *conf.Settings) (*App, error) {
	a := &App{Settings: settings, log: GetLogger()}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "create_metrics").
			Build()
	}
	a.Metrics = m

	store, err := datastore.Open(&settings.Database)
	if err != nil {
		return nil, err
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	if err := store.Migrate(); err != nil {
		a.Close()
		return nil, err
	}

	db := store.DB()
	a.Surnames = repository.NewSurnameRepository(db)
	a.Voters = repository.NewVoterRepository(db)
	a.Uploads = repository.NewUploadRepository(db)

	a.Cache = caste.NewTTLCache(a.Surnames, settings.Resolver.CacheTTL, m.Ingest)
	a.Resolver = caste.NewResolver(a.Cache, caste.WithMetrics(m.Ingest))

	if settings.MQTT.Enabled {
		if err := a.connectMQTT(ctx); err != nil {
			// Invalidation still works locally and through HTTP.
			a.log.Warn("mqtt unavailable, reload broadcasts disabled", logger.Error(err))
		}
	}

	ledgerOpts := []ledger.Option{ledger.WithMetrics(m.Ingest)}
	if settings.Notification.Enabled {
		n, err := notification.NewFromSettings(&settings.Notification, notification.WithMetrics(m.Notification))
		if err != nil {
			a.log.Warn("notifications disabled", logger.Error(err))
		} else {
			a.Notifier = n
			ledgerOpts = append(ledgerOpts, ledger.WithNotifier(n))
			a.closers = append(a.closers, func() error { n.Close(); return nil })
		}
	}
	a.Ledger = ledger.New(a.Uploads, ledgerOpts...)

	return a, nil
}

func (a *App) connectMQTT(ctx context.Context) error {
	client := mqtt.NewClient(mqtt.ConfigFromSettings(&a.Settings.MQTT), a.Metrics.MQTT)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { client.Disconnect(); return nil })

	b := mqtt.NewBroadcaster(client, a.Settings.MQTT.Topic, a.Resolver)
	if err := b.Start(); err != nil {
		return err
	}
	a.MQTT = client
	a.Broadcaster = b
	return nil
}

// ReloadResolver refreshes this process's mappings and, when MQTT is up,
// tells other workers to do the same.
func (a *App) ReloadResolver(ctx context.Context, reason string) error {
	if err := a.Resolver.Reload(ctx); err != nil {
		return err
	}
	if a.Broadcaster != nil {
		if err := a.Broadcaster.Broadcast(ctx, reason); err != nil {
			a.log.Warn("reload broadcast failed", logger.Error(err))
		}
	}
	return nil
}

// RetryConfig converts the configured retry budget.
func (a *App) RetryConfig() jobqueue.RetryConfig {
	r := a.Settings.Queue.Retry
	return jobqueue.RetryConfig{
		Enabled:      r.Enabled,
		MaxRetries:   r.MaxRetries,
		InitialDelay: r.InitialDelay,
		MaxDelay:     r.MaxDelay,
		Multiplier:   r.Multiplier,
	}
}

// StartPipeline builds the queue, transport, file store and orchestrator and
// starts executing jobs.
func (a *App) StartPipeline(ctx context.Context) error {
	s := a.Settings

	files, err := filestore.New(ctx, &s.Storage)
	if err != nil {
		return err
	}
	a.Files = files

	a.Queue = a.newQueue()
	router := broker.NewRouter()
	a.Executor = broker.NewExecutor(a.Queue, router, a.RetryConfig())

	switch s.Queue.Transport {
	case conf.TransportAMQP:
		conn, err := broker.DialAMQP(ctx, s.AMQP, s.Import.QueueName)
		if err != nil {
			return err
		}
		a.AMQP = conn
		a.Dispatcher = conn
		a.closers = append(a.closers, conn.Close)
	default:
		// import_file handlers block on a full batch queue, so they run on
		// their own queue and never take a slot a batch needs.
		a.FileQueue = a.newQueue()
		fileExec := broker.NewExecutor(a.FileQueue, router, a.RetryConfig())
		a.Dispatcher = broker.NewLocal(a.Executor, broker.WithRoute(orchestrator.TaskImportFile, fileExec))
	}

	a.Orchestrator = orchestrator.New(files, a.Ledger, a.Dispatcher,
		orchestrator.WithBatchSize(s.Import.BatchSize),
		orchestrator.WithDispatchRate(s.Import.DispatchRate, s.Import.DispatchBurst),
		orchestrator.WithStagingPrefix(s.Import.StagingPrefix),
		orchestrator.WithReadTimeout(s.Import.ReadTimeout),
		orchestrator.WithMetrics(a.Metrics.Ingest),
	)

	upserter := ingest.NewUpserter(a.Voters, a.Resolver,
		ingest.WithMaxBatchSize(s.Import.MaxBatchSize),
		ingest.WithBatchMetrics(a.Metrics.Ingest),
	)
	orchestrator.NewWorker(a.Orchestrator, upserter, a.Ledger).Register(router)

	a.Queue.Start(ctx)
	// Runs before the transport closes so in-flight jobs can still dispatch.
	a.closers = append(a.closers, func() error { return a.Queue.StopWithTimeout(queueStopTimeout) })
	if a.FileQueue != nil {
		a.FileQueue.Start(ctx)
		a.closers = append(a.closers, func() error { return a.FileQueue.StopWithTimeout(queueStopTimeout) })
	}
	return nil
}

func (a *App) newQueue() *jobqueue.JobQueue {
	s := a.Settings
	return jobqueue.NewJobQueue(
		jobqueue.WithConcurrency(s.Queue.Concurrency),
		jobqueue.WithMaxJobs(s.Queue.MaxJobs),
		jobqueue.WithJobTimeout(s.Queue.JobTimeout),
		jobqueue.WithMetrics(a.Metrics.Queue),
	)
}

// Close releases everything in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("shutdown step failed", logger.Error(err))
		}
	}
	a.closers = nil
}

// Wait blocks until the in-process queue has nothing left to run. With the
// AMQP transport work happens on the workers and Wait returns at once.
func (a *App) Wait(ctx context.Context) error {
	if a.Queue == nil || a.AMQP != nil {
		return nil
	}
	// Files first: they are the only source of new batches.
	if a.FileQueue != nil {
		if err := a.FileQueue.Drain(ctx); err != nil {
			return err
		}
	}
	return a.Queue.Drain(ctx)
}
