package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tphakala/voterimport/internal/datastore/entities"
)

// ChunkRecord is one batch result as stored by the ledger.
type ChunkRecord struct {
	Index      int
	Imported   int
	Failed     int
	ChunkFail  bool
	Errors     string
	Unresolved []string
}

// Finalization holds the values written by a terminal transition.
type Finalization struct {
	Status           entities.UploadStatus
	ProcessingTime   float64
	ErrorLog         string
	UnmappedSurnames []string
	FinishedAt       time.Time
}

// UploadRepository persists upload ledger entries.
type UploadRepository interface {
	Create(ctx context.Context, job *entities.UploadJob) error
	// MarkProcessing records the expected chunk count and moves a pending
	// entry to processing. Terminal entries are left untouched.
	MarkProcessing(ctx context.Context, id string, expectedChunks int, at time.Time) (*entities.UploadJob, error)
	// RecordChunk applies a chunk result once. recorded is false when the
	// chunk was already reported or the entry is terminal.
	RecordChunk(ctx context.Context, id string, rec ChunkRecord) (recorded bool, job *entities.UploadJob, err error)
	// Finalize moves an active entry to a terminal status. It reports false
	// when the entry was already terminal.
	Finalize(ctx context.Context, id string, f Finalization) (bool, error)
	Get(ctx context.Context, id string) (*entities.UploadJob, error)
	List(ctx context.Context, limit int) ([]entities.UploadJob, error)
	// ChunkErrors returns the stored error text of every chunk in index order.
	ChunkErrors(ctx context.Context, id string) ([]string, error)
	UnresolvedSurnames(ctx context.Context, id string) ([]string, error)
}

var errEntryFrozen = errors.New("upload entry is terminal")

type uploadRepository struct {
	db *gorm.DB
}

// NewUploadRepository creates an UploadRepository.
func NewUploadRepository(db *gorm.DB) UploadRepository {
	return &uploadRepository{db: db}
}

func activeStatuses() []string {
	out := make([]string, 0, len(entities.ActiveUploadStatuses))
	for _, s := range entities.ActiveUploadStatuses {
		out = append(out, string(s))
	}
	return out
}

func (r *uploadRepository) Create(ctx context.Context, job *entities.UploadJob) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		return repoError(err, "create_upload", "upload_id", job.ID)
	}
	return nil
}

func (r *uploadRepository) MarkProcessing(ctx context.Context, id string, expectedChunks int, at time.Time) (*entities.UploadJob, error) {
	err := r.db.WithContext(ctx).Model(&entities.UploadJob{}).
		Where("id = ? AND status IN ?", id, activeStatuses()).
		Updates(map[string]any{
			"status":          string(entities.UploadProcessing),
			"expected_chunks": expectedChunks,
			"started_at":      at,
		}).Error
	if err != nil {
		return nil, repoError(err, "mark_processing", "upload_id", id)
	}
	return r.Get(ctx, id)
}

func (r *uploadRepository) RecordChunk(ctx context.Context, id string, rec ChunkRecord) (bool, *entities.UploadJob, error) {
	recorded := false
	var job entities.UploadJob

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chunk := entities.UploadChunk{
			UploadID:   id,
			ChunkIndex: rec.Index,
			Imported:   rec.Imported,
			Failed:     rec.Failed,
			Errors:     rec.Errors,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&chunk)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return tx.Where("id = ?", id).Take(&job).Error
		}

		failedChunks := 0
		if rec.ChunkFail {
			failedChunks = 1
		}
		res = tx.Model(&entities.UploadJob{}).
			Where("id = ? AND status IN ?", id, activeStatuses()).
			Updates(map[string]any{
				"success_count": gorm.Expr("success_count + ?", rec.Imported),
				"error_count":   gorm.Expr("error_count + ?", rec.Failed),
				"chunks_done":   gorm.Expr("chunks_done + ?", 1),
				"chunks_failed": gorm.Expr("chunks_failed + ?", failedChunks),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errEntryFrozen
		}

		if len(rec.Unresolved) > 0 {
			rows := make([]entities.UploadUnresolvedSurname, 0, len(rec.Unresolved))
			for _, s := range rec.Unresolved {
				rows = append(rows, entities.UploadUnresolvedSurname{UploadID: id, Surname: s})
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				CreateInBatches(rows, maxBatchStatement).Error; err != nil {
				return err
			}
		}

		recorded = true
		return tx.Where("id = ?", id).Take(&job).Error
	})

	switch {
	case errors.Is(err, errEntryFrozen):
		existing, getErr := r.Get(ctx, id)
		return false, existing, getErr
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil, ErrUploadNotFound
	case err != nil:
		return false, nil, repoError(err, "record_chunk", "upload_id", id, "chunk_index", rec.Index)
	}
	return recorded, &job, nil
}

func (r *uploadRepository) Finalize(ctx context.Context, id string, f Finalization) (bool, error) {
	if !f.Status.IsTerminal() {
		return false, ErrInvalidStatus
	}

	unmapped := f.UnmappedSurnames
	if unmapped == nil {
		unmapped = []string{}
	}
	encoded, err := json.Marshal(unmapped)
	if err != nil {
		return false, err
	}

	res := r.db.WithContext(ctx).Model(&entities.UploadJob{}).
		Where("id = ? AND status IN ?", id, activeStatuses()).
		Updates(map[string]any{
			"status":            string(f.Status),
			"processing_time":   f.ProcessingTime,
			"error_log":         f.ErrorLog,
			"unmapped_surnames": datatypes.JSON(encoded),
			"finished_at":       f.FinishedAt,
		})
	if res.Error != nil {
		return false, repoError(res.Error, "finalize_upload", "upload_id", id, "status", string(f.Status))
	}
	return res.RowsAffected > 0, nil
}

func (r *uploadRepository) Get(ctx context.Context, id string) (*entities.UploadJob, error) {
	var job entities.UploadJob
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUploadNotFound
	}
	if err != nil {
		return nil, repoError(err, "get_upload", "upload_id", id)
	}
	return &job, nil
}

func (r *uploadRepository) List(ctx context.Context, limit int) ([]entities.UploadJob, error) {
	var jobs []entities.UploadJob
	q := r.db.WithContext(ctx).Order("upload_date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, repoError(err, "list_uploads")
	}
	return jobs, nil
}

func (r *uploadRepository) ChunkErrors(ctx context.Context, id string) ([]string, error) {
	var texts []string
	err := r.db.WithContext(ctx).Model(&entities.UploadChunk{}).
		Where("upload_id = ? AND errors <> ?", id, "").
		Order("chunk_index ASC").
		Pluck("errors", &texts).Error
	if err != nil {
		return nil, repoError(err, "chunk_errors", "upload_id", id)
	}
	return texts, nil
}

func (r *uploadRepository) UnresolvedSurnames(ctx context.Context, id string) ([]string, error) {
	var surnames []string
	err := r.db.WithContext(ctx).Model(&entities.UploadUnresolvedSurname{}).
		Where("upload_id = ?", id).
		Order("surname ASC").
		Pluck("surname", &surnames).Error
	if err != nil {
		return nil, repoError(err, "unresolved_surnames", "upload_id", id)
	}
	return surnames, nil
}
