// Package ledger tracks one entry per file import: counts, status, timing and
// unresolved surnames. Chunk results are applied exactly once and the entry
// is finalized automatically once every dispatched chunk has reported.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/voterimport/internal/datastore/entities"
	"github.com/tphakala/voterimport/internal/datastore/repository"
	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/logger"
)

// ErrNotFound is returned for an unknown entry id.
var ErrNotFound = repository.ErrUploadNotFound

// StartRequest describes a new import attempt. An empty ID gets a random one.
type StartRequest struct {
	ID           string
	FileName     string
	UserID       *string
	Province     string
	Constituency string
	TotalRows    int
}

// ChunkResult is the outcome of one batch job.
type ChunkResult struct {
	Index      int
	Imported   int
	Failed     int
	Errors     []string
	Unresolved []string
}

// failedChunk reports whether nothing from the chunk was written.
func (r ChunkResult) failedChunk() bool {
	return r.Imported == 0 && r.Failed > 0
}

// FinalizeRequest closes an entry. Empty ErrorLog and nil Unresolved are
// filled from the recorded chunks.
type FinalizeRequest struct {
	Status         entities.UploadStatus
	ProcessingTime time.Duration
	ErrorLog       string
	Unresolved     []string
}

// Notifier is told about every entry that reaches a terminal status.
type Notifier interface {
	UploadFinished(ctx context.Context, job *entities.UploadJob)
}

// FinalizationRecorder counts terminal transitions by status.
type FinalizationRecorder interface {
	RecordFinalization(status string)
}

// Ledger is the upload ledger service.
type Ledger struct {
	repo     repository.UploadRepository
	notifier Notifier
	metrics  FinalizationRecorder
	log      logger.Logger
	now      func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithNotifier sets the completion notifier
func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// WithMetrics sets the finalization recorder
func WithMetrics(m FinalizationRecorder) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger over repo.
func New(repo repository.UploadRepository, opts ...Option) *Ledger {
	l := &Ledger{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logger.Global().Module("ledger")
	}
	return l
}

// Start creates a pending entry and returns its id.
func (l *Ledger) Start(ctx context.Context, req StartRequest) (string, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	job := &entities.UploadJob{
		ID:           id,
		FileName:     req.FileName,
		UploadedBy:   req.UserID,
		Province:     req.Province,
		TotalRecords: req.TotalRows,
		Status:       entities.UploadPending,
		UploadDate:   l.now(),
	}
	if c := strings.TrimSpace(req.Constituency); c != "" {
		job.Constituency = &c
	}

	if err := l.repo.Create(ctx, job); err != nil {
		return "", err
	}
	l.log.WithContext(ctx).Info("upload started",
		logger.String("upload_id", id),
		logger.String("file", req.FileName),
		logger.Int("rows", req.TotalRows))
	return id, nil
}

// MarkDispatched records how many chunks were dispatched and moves the entry
// to processing. With zero chunks the entry completes immediately. Chunks
// that reported before this call are taken into account.
func (l *Ledger) MarkDispatched(ctx context.Context, id string, expectedChunks int) error {
	job, err := l.repo.MarkProcessing(ctx, id, expectedChunks, l.now())
	if err != nil {
		return err
	}
	if expectedChunks == 0 {
		_, err := l.Finalize(ctx, id, FinalizeRequest{Status: entities.UploadCompleted, Unresolved: []string{}})
		return err
	}
	return l.checkCompletion(ctx, job)
}

// RecordBatchResult applies a chunk result once. Repeated reports of the
// same chunk index are ignored.
func (l *Ledger) RecordBatchResult(ctx context.Context, id string, res ChunkResult) error {
	recorded, job, err := l.repo.RecordChunk(ctx, id, repository.ChunkRecord{
		Index:      res.Index,
		Imported:   res.Imported,
		Failed:     res.Failed,
		ChunkFail:  res.failedChunk(),
		Errors:     strings.Join(res.Errors, "\n"),
		Unresolved: res.Unresolved,
	})
	if err != nil {
		return err
	}

	log := l.log.WithContext(ctx)
	if !recorded {
		log.Debug("chunk result ignored",
			logger.String("upload_id", id),
			logger.Int("chunk", res.Index),
			logger.String("status", string(job.Status)))
		return nil
	}

	log.Debug("chunk recorded",
		logger.String("upload_id", id),
		logger.Int("chunk", res.Index),
		logger.Int("imported", res.Imported),
		logger.Int("failed", res.Failed),
		logger.Int("chunks_done", job.ChunksDone),
		logger.Int("expected_chunks", job.ExpectedChunks))
	return l.checkCompletion(ctx, job)
}

// checkCompletion finalizes job once every expected chunk has reported.
func (l *Ledger) checkCompletion(ctx context.Context, job *entities.UploadJob) error {
	if job.Status.IsTerminal() || job.ExpectedChunks == 0 || job.ChunksDone < job.ExpectedChunks {
		return nil
	}

	status := entities.UploadCompleted
	if job.ChunksFailed >= job.ExpectedChunks {
		status = entities.UploadFailed
	}
	_, err := l.Finalize(ctx, job.ID, FinalizeRequest{
		Status:         status,
		ProcessingTime: l.now().Sub(job.UploadDate),
	})
	return err
}

// Finalize moves an active entry to a terminal status. It returns false when
// the entry was already terminal.
func (l *Ledger) Finalize(ctx context.Context, id string, req FinalizeRequest) (bool, error) {
	if !req.Status.IsTerminal() {
		return false, errors.Newf("cannot finalize upload with status %q", req.Status).
			Component("ledger").
			Category(errors.CategoryState).
			Context("upload_id", id).
			Build()
	}

	errorLog := req.ErrorLog
	if errorLog == "" {
		texts, err := l.repo.ChunkErrors(ctx, id)
		if err != nil {
			return false, err
		}
		errorLog = strings.Join(texts, "\n")
	}

	unresolved := req.Unresolved
	if unresolved == nil {
		var err error
		if unresolved, err = l.repo.UnresolvedSurnames(ctx, id); err != nil {
			return false, err
		}
	}

	finalized, err := l.repo.Finalize(ctx, id, repository.Finalization{
		Status:           req.Status,
		ProcessingTime:   req.ProcessingTime.Seconds(),
		ErrorLog:         errorLog,
		UnmappedSurnames: unresolved,
		FinishedAt:       l.now(),
	})
	if err != nil || !finalized {
		return false, err
	}

	if l.metrics != nil {
		l.metrics.RecordFinalization(string(req.Status))
	}

	job, err := l.repo.Get(ctx, id)
	if err != nil {
		return true, err
	}
	l.log.WithContext(ctx).Info("upload finished",
		logger.String("upload_id", id),
		logger.String("status", string(job.Status)),
		logger.Int("imported", job.SuccessCount),
		logger.Int("failed", job.ErrorCount),
		logger.Int("unresolved_surnames", len(unresolved)),
		logger.Float64("processing_seconds", job.ProcessingTime))

	if l.notifier != nil {
		l.notifier.UploadFinished(ctx, job)
	}
	return true, nil
}

// Fail finalizes an entry as failed with cause as its error log.
func (l *Ledger) Fail(ctx context.Context, id string, cause error, elapsed time.Duration) error {
	_, err := l.Finalize(ctx, id, FinalizeRequest{
		Status:         entities.UploadFailed,
		ProcessingTime: elapsed,
		ErrorLog:       cause.Error(),
		Unresolved:     []string{},
	})
	return err
}

// Get returns one entry.
func (l *Ledger) Get(ctx context.Context, id string) (*entities.UploadJob, error) {
	return l.repo.Get(ctx, id)
}

// List returns the newest entries first.
func (l *Ledger) List(ctx context.Context, limit int) ([]entities.UploadJob, error) {
	return l.repo.List(ctx, limit)
}
