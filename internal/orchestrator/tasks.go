package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/voterimport/internal/ingest"
)

// Task types carried on the imports queue.
const (
	TaskImportFile  = "import_file"
	TaskImportBatch = "import_batch"
)

// FileTask asks a worker to read one CSV file and fan it out into batches.
// UploadID pins the ledger entry so a retried task resumes it instead of
// opening another.
type FileTask struct {
	UploadID     string  `json:"upload_id,omitempty"`
	Path         string  `json:"path"`
	Province     string  `json:"province,omitempty"`
	Constituency string  `json:"constituency,omitempty"`
	UserID       *string `json:"user_id,omitempty"`
}

// BatchTask carries one chunk of rows from a file.
type BatchTask struct {
	UploadID     string          `json:"upload_id"`
	ChunkIndex   int             `json:"chunk_index"`
	Rows         []ingest.RawRow `json:"rows"`
	Province     string          `json:"province,omitempty"`
	Constituency string          `json:"constituency,omitempty"`
	UserID       *string         `json:"user_id,omitempty"`
}

func (t BatchTask) rowContext() ingest.Context {
	return ingest.Context{Province: t.Province, Constituency: t.Constituency, UserID: t.UserID}
}

// Descriptor is returned once a file has been read and its batches
// dispatched.
type Descriptor struct {
	UploadID string
	FileName string
	Rows     int
	Chunks   int
}

// QueuedFile is one file handed to the queue by a folder or archive import.
// UploadID is the ledger entry the task will open.
type QueuedFile struct {
	TaskID   string
	UploadID string
	Task     FileTask
}

// UploadIDFor derives the ledger entry id of an import_file task from the
// task id. Every attempt of the task uses the same entry.
func UploadIDFor(taskID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(taskID)).String()
}

// FileFailure is a file that could not be queued.
type FileFailure struct {
	Path string
	Err  error
}

// FolderSummary reports a folder or archive import.
type FolderSummary struct {
	Root       string
	FilesFound int
	Queued     []QueuedFile
	Failures   []FileFailure
	Duration   time.Duration
}

// FilesQueued is the number of files dispatched.
func (s *FolderSummary) FilesQueued() int { return len(s.Queued) }

// NewFileTask describes a single file import. An empty constituency is taken
// from the file name and an empty userID is omitted.
func NewFileTask(path, province, constituency, userID string) FileTask {
	if constituency == "" {
		constituency = constituencyFromFile(path)
	}
	task := FileTask{Path: path, Province: provinceFromDir(province), Constituency: constituency}
	if userID != "" {
		task.UserID = &userID
	}
	return task
}
