// Package orchestrator turns files, folders and archives into queued import
// work, and hosts the worker handlers that execute it.
//
// ImportFile reads and validates a CSV, opens an upload ledger entry and
// dispatches one import_batch task per chunk. It never writes voters; the
// batch handlers do that, and the ledger closes the entry when the last
// chunk reports.
package orchestrator

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/voterimport/internal/broker"
	"github.com/tphakala/voterimport/internal/datastore/entities"
	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/filestore"
	"github.com/tphakala/voterimport/internal/ingest"
	"github.com/tphakala/voterimport/internal/jobqueue"
	"github.com/tphakala/voterimport/internal/ledger"
	"github.com/tphakala/voterimport/internal/logger"
)

const (
	defaultBatchSize     = 1000
	defaultStagingPrefix = "staging"
	defaultReadTimeout   = 10 * time.Minute
	folderConcurrency    = 4
)

// Ledger is the part of the upload ledger the orchestrator drives.
type Ledger interface {
	Start(ctx context.Context, req ledger.StartRequest) (string, error)
	Get(ctx context.Context, id string) (*entities.UploadJob, error)
	MarkDispatched(ctx context.Context, id string, expectedChunks int) error
	Fail(ctx context.Context, id string, cause error, elapsed time.Duration) error
}

// DispatchRecorder counts dispatched files and chunks.
type DispatchRecorder interface {
	RecordFileDispatch(chunks int, err error)
}

// Orchestrator plans imports. It is safe for concurrent use.
type Orchestrator struct {
	store         filestore.Store
	ledger        Ledger
	dispatcher    broker.Dispatcher
	batchSize     int
	limiter       *rate.Limiter
	stagingPrefix string
	readTimeout   time.Duration
	log           logger.Logger
	metrics       DispatchRecorder
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithBatchSize sets the rows per import_batch task.
func WithBatchSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithDispatchRate limits import_file dispatches for folder and archive
// imports. A non-positive rate disables the limit.
func WithDispatchRate(perSecond float64, burst int) Option {
	return func(o *Orchestrator) {
		if perSecond <= 0 {
			o.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithStagingPrefix sets where archive entries are staged in the file store.
func WithStagingPrefix(prefix string) Option {
	return func(o *Orchestrator) {
		if prefix != "" {
			o.stagingPrefix = prefix
		}
	}
}

// WithReadTimeout bounds reading one file.
func WithReadTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.readTimeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithMetrics sets the dispatch recorder
func WithMetrics(m DispatchRecorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New creates an Orchestrator.
func New(store filestore.Store, l Ledger, dispatcher broker.Dispatcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:         store,
		ledger:        l,
		dispatcher:    dispatcher,
		batchSize:     defaultBatchSize,
		limiter:       rate.NewLimiter(rate.Inf, 0),
		stagingPrefix: defaultStagingPrefix,
		readTimeout:   defaultReadTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = GetLogger()
	}
	return o
}

// ImportFile reads task.Path, opens a ledger entry and dispatches its
// batches. Files that can never import (missing, unparseable, wrong schema)
// get a failed ledger entry and a permanent error.
//
// A task with an UploadID may be retried: it resumes its pending entry and
// redispatches every chunk, which the ledger records at most once. An entry
// that already left pending is not dispatched again.
func (o *Orchestrator) ImportFile(ctx context.Context, task FileTask) (*Descriptor, error) {
	start := time.Now()
	fileName := path.Base(task.Path)
	log := o.log.WithContext(ctx).With(logger.String("file", task.Path))

	readCtx, cancel := context.WithTimeout(ctx, o.readTimeout)
	defer cancel()

	table, err := o.readTable(readCtx, task.Path)
	if err != nil {
		if unimportable(err) {
			o.failFile(ctx, task, fileName, 0, err, start)
			return nil, jobqueue.Permanent(err)
		}
		o.recordDispatch(0, err)
		return nil, err
	}

	if err := ingest.ValidateSchema(table); err != nil {
		o.failFile(ctx, task, fileName, table.Len(), err, start)
		log.Warn("file rejected", logger.Error(err))
		return nil, jobqueue.Permanent(err)
	}

	id, prior, err := o.openEntry(ctx, task, fileName, table.Len())
	if err != nil {
		o.recordDispatch(0, err)
		return nil, err
	}
	ctx = logger.WithUploadID(ctx, id)
	if prior != nil && prior.Status != entities.UploadPending {
		log.WithContext(ctx).Info("file already dispatched", logger.String("status", string(prior.Status)))
		return &Descriptor{UploadID: id, FileName: fileName, Rows: table.Len(), Chunks: prior.ExpectedChunks}, nil
	}

	chunks := 0
	for idx, rows := range ingest.Chunk(table.Rows, o.batchSize) {
		bt := BatchTask{
			UploadID:     id,
			ChunkIndex:   idx,
			Rows:         rows,
			Province:     task.Province,
			Constituency: task.Constituency,
			UserID:       task.UserID,
		}
		if _, err := o.dispatcher.Dispatch(ctx, TaskImportBatch, bt); err != nil {
			cause := fmt.Errorf("dispatch stopped after %d of %d chunks: %w",
				chunks, ingest.ChunkCount(table.Len(), o.batchSize), err)
			o.abandon(ctx, task, id, cause, start)
			o.recordDispatch(chunks, err)
			return nil, cause
		}
		chunks++
	}

	if err := o.ledger.MarkDispatched(ctx, id, chunks); err != nil {
		o.abandon(ctx, task, id, err, start)
		o.recordDispatch(chunks, err)
		return nil, err
	}
	o.recordDispatch(chunks, nil)

	log.WithContext(ctx).Info("file dispatched",
		logger.Int("rows", table.Len()),
		logger.Int("chunks", chunks),
		logger.Duration("elapsed", time.Since(start)))

	return &Descriptor{UploadID: id, FileName: fileName, Rows: table.Len(), Chunks: chunks}, nil
}

// unimportable reports read errors that a retry cannot fix.
func unimportable(err error) bool {
	return errors.IsNotFound(err) ||
		errors.IsCategory(err, errors.CategoryFileParsing) ||
		errors.IsCategory(err, errors.CategoryValidation)
}

func (o *Orchestrator) readTable(ctx context.Context, key string) (*ingest.Table, error) {
	rc, err := o.store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return ingest.ReadRows(ctx, rc)
}

func (o *Orchestrator) startRequest(task FileTask, fileName string, rows int) ledger.StartRequest {
	return ledger.StartRequest{
		ID:           task.UploadID,
		FileName:     fileName,
		UserID:       task.UserID,
		Province:     task.Province,
		Constituency: task.Constituency,
		TotalRows:    rows,
	}
}

// openEntry returns the ledger entry for task. prior is the entry a retried
// task left behind, nil when a new one was started.
func (o *Orchestrator) openEntry(ctx context.Context, task FileTask, fileName string, rows int) (string, *entities.UploadJob, error) {
	if task.UploadID != "" {
		job, err := o.ledger.Get(ctx, task.UploadID)
		if err == nil {
			return job.ID, job, nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return "", nil, err
		}
	}
	id, err := o.ledger.Start(ctx, o.startRequest(task, fileName, rows))
	return id, nil, err
}

// abandon closes an entry whose dispatch did not finish. An entry pinned by
// the task stays pending for the retry; FailFile closes it once retries run
// out.
func (o *Orchestrator) abandon(ctx context.Context, task FileTask, id string, cause error, start time.Time) {
	if task.UploadID != "" {
		return
	}
	if err := o.ledger.Fail(ctx, id, cause, time.Since(start)); err != nil {
		o.log.WithContext(ctx).Error("failed to close upload after dispatch error", logger.Error(err))
	}
}

// FailFile closes the entry of a file task that will not be retried,
// creating it if the task never got that far.
func (o *Orchestrator) FailFile(ctx context.Context, task FileTask, cause error) {
	o.closeFailed(ctx, task, path.Base(task.Path), 0, cause, time.Now())
}

// failFile records a file that will never import as a failed ledger entry.
func (o *Orchestrator) failFile(ctx context.Context, task FileTask, fileName string, rows int, cause error, start time.Time) {
	o.recordDispatch(0, cause)
	o.closeFailed(ctx, task, fileName, rows, cause, start)
}

func (o *Orchestrator) closeFailed(ctx context.Context, task FileTask, fileName string, rows int, cause error, start time.Time) {
	id, _, err := o.openEntry(ctx, task, fileName, rows)
	if err == nil {
		err = o.ledger.Fail(ctx, id, cause, time.Since(start))
	}
	if err != nil {
		o.log.WithContext(ctx).Error("failed to record rejected file",
			logger.String("file", task.Path),
			logger.Error(err))
	}
}

// releaseStaged deletes an archive entry staged by ImportZip once its file
// task is finished with it. Keys outside the staging prefix are kept.
func (o *Orchestrator) releaseStaged(ctx context.Context, key string) {
	if !strings.HasPrefix(key, o.stagingPrefix+"/") {
		return
	}
	if err := o.store.Remove(ctx, key); err != nil && !errors.IsNotFound(err) {
		o.log.WithContext(ctx).Warn("failed to remove staged file",
			logger.String("file", key),
			logger.Error(err))
	}
}

func (o *Orchestrator) recordDispatch(chunks int, err error) {
	if o.metrics != nil {
		o.metrics.RecordFileDispatch(chunks, err)
	}
}

// provinceFromDir derives a province from a directory name, dropping a
// trailing "Province" marker.
func provinceFromDir(name string) string {
	name = strings.TrimSpace(name)
	if trimmed, ok := strings.CutSuffix(name, "Province"); ok {
		name = strings.TrimSpace(trimmed)
	}
	return name
}

// constituencyFromFile is the file name without its extension.
func constituencyFromFile(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base))
}
