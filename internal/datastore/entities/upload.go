package entities

import (
	"time"

	"gorm.io/datatypes"
)

// UploadStatus is the lifecycle state of an UploadJob.
type UploadStatus string

const (
	UploadPending    UploadStatus = "pending"
	UploadProcessing UploadStatus = "processing"
	UploadCompleted  UploadStatus = "completed"
	UploadFailed     UploadStatus = "failed"
)

// ActiveUploadStatuses are the states in which counters may still change.
var ActiveUploadStatuses = []UploadStatus{UploadPending, UploadProcessing}

// IsTerminal reports whether s is completed or failed.
func (s UploadStatus) IsTerminal() bool {
	return s == UploadCompleted || s == UploadFailed
}

// UploadJob is the ledger entry for one imported file.
type UploadJob struct {
	ID               string         `gorm:"size:36;primaryKey"`
	FileName         string         `gorm:"size:255;not null"`
	UploadedBy       *string        `gorm:"size:100"`
	Province         string         `gorm:"size:100"`
	Constituency     *string        `gorm:"size:100"`
	UploadDate       time.Time      `gorm:"autoCreateTime;index:idx_upload_jobs_date"`
	TotalRecords     int            `gorm:"not null;default:0"`
	SuccessCount     int            `gorm:"not null;default:0"`
	ErrorCount       int            `gorm:"not null;default:0"`
	Status           UploadStatus   `gorm:"size:20;not null;index:idx_upload_jobs_status"`
	ErrorLog         string         `gorm:"type:text"`
	UnmappedSurnames datatypes.JSON
	ProcessingTime   float64 // seconds
	ExpectedChunks   int     `gorm:"not null;default:0"`
	ChunksDone       int     `gorm:"not null;default:0"`
	ChunksFailed     int     `gorm:"not null;default:0"`
	StartedAt        *time.Time
	FinishedAt       *time.Time
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (UploadJob) TableName() string {
	return "upload_jobs"
}

// UploadChunk records one reported batch result. The (upload_id,
// chunk_index) key makes repeated reports of the same chunk a no-op.
type UploadChunk struct {
	ID         uint      `gorm:"primaryKey"`
	UploadID   string    `gorm:"size:36;not null;uniqueIndex:idx_upload_chunks_key,priority:1"`
	ChunkIndex int       `gorm:"not null;uniqueIndex:idx_upload_chunks_key,priority:2"`
	Imported   int       `gorm:"not null"`
	Failed     int       `gorm:"not null"`
	Errors     string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (UploadChunk) TableName() string {
	return "upload_chunks"
}

// UploadUnresolvedSurname is a surname seen during an upload that had no
// active mapping.
type UploadUnresolvedSurname struct {
	ID       uint   `gorm:"primaryKey"`
	UploadID string `gorm:"size:36;not null;uniqueIndex:idx_upload_unresolved_key,priority:1"`
	Surname  string `gorm:"size:100;not null;uniqueIndex:idx_upload_unresolved_key,priority:2"`
}

// TableName returns the table name for GORM.
func (UploadUnresolvedSurname) TableName() string {
	return "upload_unresolved_surnames"
}

// All returns every model for AutoMigrate.
func All() []any {
	return []any{
		&Voter{},
		&SurnameMapping{},
		&UploadJob{},
		&UploadChunk{},
		&UploadUnresolvedSurname{},
	}
}
