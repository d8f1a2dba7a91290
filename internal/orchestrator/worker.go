package orchestrator

import (
	"context"
	"fmt"

	"github.com/tphakala/voterimport/internal/broker"
	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/ingest"
	"github.com/tphakala/voterimport/internal/jobqueue"
	"github.com/tphakala/voterimport/internal/ledger"
	"github.com/tphakala/voterimport/internal/logger"
)

// BatchProcessor writes one chunk of rows.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, rows []ingest.RawRow, rc ingest.Context) (*ingest.BatchResult, error)
}

// ChunkLedger receives batch outcomes.
type ChunkLedger interface {
	RecordBatchResult(ctx context.Context, id string, res ledger.ChunkResult) error
}

// Worker executes import_file and import_batch tasks.
type Worker struct {
	orch     *Orchestrator
	upserter BatchProcessor
	ledger   ChunkLedger
	log      logger.Logger
}

// NewWorker creates the task handlers.
func NewWorker(orch *Orchestrator, upserter BatchProcessor, l ChunkLedger) *Worker {
	return &Worker{
		orch:     orch,
		upserter: upserter,
		ledger:   l,
		log:      GetLogger().Module("worker"),
	}
}

// Register installs the handlers on r.
func (w *Worker) Register(r *broker.Router) {
	r.Handle(TaskImportFile, w.handleFile)
	r.Handle(TaskImportBatch, w.handleBatch)
	r.OnExhausted(TaskImportFile, w.fileExhausted)
	r.OnExhausted(TaskImportBatch, w.batchExhausted)
}

// decodeFile reads a file task and pins its upload id to the task id, so
// every attempt of the task and its exhausted hook share one ledger entry.
func decodeFile(task *broker.Task) (FileTask, error) {
	ft, err := broker.Decode[FileTask](task)
	if err == nil && ft.UploadID == "" && task.ID != "" {
		ft.UploadID = UploadIDFor(task.ID)
	}
	return ft, err
}

func (w *Worker) handleFile(ctx context.Context, task *broker.Task) error {
	ft, err := decodeFile(task)
	if err != nil {
		return jobqueue.Permanent(err)
	}
	if _, err := w.orch.ImportFile(ctx, ft); err != nil {
		return err
	}
	w.orch.releaseStaged(ctx, ft.Path)
	return nil
}

func (w *Worker) handleBatch(ctx context.Context, task *broker.Task) error {
	bt, err := broker.Decode[BatchTask](task)
	if err != nil {
		return jobqueue.Permanent(err)
	}
	ctx = logger.WithUploadID(ctx, bt.UploadID)

	res, err := w.upserter.ProcessBatch(ctx, bt.Rows, bt.rowContext())
	if err != nil {
		if errors.Is(err, ingest.ErrBatchTooLarge) {
			return jobqueue.Permanent(err)
		}
		return err
	}

	return w.ledger.RecordBatchResult(ctx, bt.UploadID, ledger.ChunkResult{
		Index:      bt.ChunkIndex,
		Imported:   res.Imported,
		Failed:     res.Failed,
		Errors:     res.Errors,
		Unresolved: res.Unresolved,
	})
}

// batchExhausted records every row of a batch that ran out of retries as
// failed so the upload still completes.
func (w *Worker) batchExhausted(ctx context.Context, task *broker.Task, cause error) {
	bt, err := broker.Decode[BatchTask](task)
	if err != nil {
		w.log.Error("cannot record exhausted batch with unreadable payload",
			logger.String("task_id", task.ID),
			logger.Error(err))
		return
	}
	ctx = logger.WithUploadID(ctx, bt.UploadID)

	res := ledger.ChunkResult{
		Index:  bt.ChunkIndex,
		Failed: len(bt.Rows),
		Errors: []string{fmt.Sprintf("Chunk %d: %d rows not imported: %v", bt.ChunkIndex, len(bt.Rows), cause)},
	}
	if err := w.ledger.RecordBatchResult(ctx, bt.UploadID, res); err != nil {
		w.log.WithContext(ctx).Error("failed to record exhausted batch",
			logger.Int("chunk", bt.ChunkIndex),
			logger.Error(err))
		return
	}
	w.log.WithContext(ctx).Warn("batch gave up",
		logger.Int("chunk", bt.ChunkIndex),
		logger.Int("rows", len(bt.Rows)),
		logger.Error(cause))
}

// fileExhausted fails the entry a retried file task kept pending.
func (w *Worker) fileExhausted(ctx context.Context, task *broker.Task, cause error) {
	ft, err := decodeFile(task)
	if err != nil {
		w.log.Error("cannot record exhausted file task with unreadable payload",
			logger.String("task_id", task.ID),
			logger.Error(err))
		return
	}
	ctx = logger.WithUploadID(ctx, ft.UploadID)
	w.orch.FailFile(ctx, ft, cause)
	w.orch.releaseStaged(ctx, ft.Path)
	w.log.WithContext(ctx).Error("file import gave up",
		logger.String("task_id", task.ID),
		logger.String("file", ft.Path),
		logger.Error(cause))
}
