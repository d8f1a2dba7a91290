package orchestrator

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/voterimport/internal/broker"
	"github.com/tphakala/voterimport/internal/datastore/entities"
	"github.com/tphakala/voterimport/internal/datastore/repository"
	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/filestore"
	"github.com/tphakala/voterimport/internal/jobqueue"
	"github.com/tphakala/voterimport/internal/ledger"
	"github.com/tphakala/voterimport/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const csvHeader = testutil.CSVHeader

func voterCSV(n, firstID int) string { return testutil.VoterCSV(n, firstID) }

func writeFile(t *testing.T, path, content string) { testutil.WriteFile(t, path, content) }

type dispatched struct {
	taskType string
	payload  any
}

// recordingDispatcher keeps every dispatched task in order.
type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []dispatched
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, taskType string, payload any) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return "", d.err
	}
	d.tasks = append(d.tasks, dispatched{taskType: taskType, payload: payload})
	return fmt.Sprintf("task-%d", len(d.tasks)), nil
}

func (d *recordingDispatcher) batches() []BatchTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []BatchTask
	for _, t := range d.tasks {
		if bt, ok := t.payload.(BatchTask); ok {
			out = append(out, bt)
		}
	}
	return out
}

var _ broker.Dispatcher = (*recordingDispatcher)(nil)

func newTestOrchestrator(t *testing.T, base string, d broker.Dispatcher, opts ...Option) (*Orchestrator, *ledger.Ledger) {
	t.Helper()
	l := ledger.New(repository.NewUploadRepository(testutil.OpenDB(t)))
	return New(filestore.NewLocal(base), l, d, opts...), l
}

func TestImportFileDispatchesElevenChunks(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "Koshi", "Jhapa-1.csv"), voterCSV(10500, 1))

	d := &recordingDispatcher{}
	orch, l := newTestOrchestrator(t, base, d, WithBatchSize(1000))

	desc, err := orch.ImportFile(context.Background(), FileTask{
		Path: "Koshi/Jhapa-1.csv", Province: "Koshi", Constituency: "Jhapa-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 10500, desc.Rows)
	assert.Equal(t, 11, desc.Chunks)
	assert.Equal(t, "Jhapa-1.csv", desc.FileName)

	batches := d.batches()
	require.Len(t, batches, 11)
	for i, bt := range batches[:10] {
		assert.Equal(t, i, bt.ChunkIndex)
		assert.Len(t, bt.Rows, 1000)
		assert.Equal(t, desc.UploadID, bt.UploadID)
		assert.Equal(t, "Koshi", bt.Province)
	}
	assert.Len(t, batches[10].Rows, 500)

	job, err := l.Get(context.Background(), desc.UploadID)
	require.NoError(t, err)
	assert.Equal(t, entities.UploadProcessing, job.Status)
	assert.Equal(t, 11, job.ExpectedChunks)
	assert.Equal(t, 10500, job.TotalRecords)
	require.NotNil(t, job.Constituency)
	assert.Equal(t, "Jhapa-1", *job.Constituency)
}

func TestImportFileSchemaErrorFailsUpload(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "bad.csv"), "Province,District,VoterID\nKoshi,Jhapa,1\n")

	d := &recordingDispatcher{}
	orch, l := newTestOrchestrator(t, base, d)

	_, err := orch.ImportFile(context.Background(), FileTask{Path: "bad.csv"})
	require.Error(t, err)
	assert.True(t, jobqueue.IsPermanent(err))
	assert.Empty(t, d.batches())

	jobs, err := l.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, entities.UploadFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].ErrorLog, "missing required columns")
	assert.Contains(t, jobs[0].ErrorLog, "Age")
}

func TestImportFileMissingFileIsPermanent(t *testing.T) {
	orch, _ := newTestOrchestrator(t, t.TempDir(), &recordingDispatcher{})

	_, err := orch.ImportFile(context.Background(), FileTask{Path: "nowhere.csv"})
	require.Error(t, err)
	assert.True(t, jobqueue.IsPermanent(err))
	assert.True(t, errors.IsNotFound(err))
}

func TestImportFileHeaderOnlyCompletesImmediately(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "empty.csv"), csvHeader)

	d := &recordingDispatcher{}
	orch, l := newTestOrchestrator(t, base, d)

	desc, err := orch.ImportFile(context.Background(), FileTask{Path: "empty.csv"})
	require.NoError(t, err)
	assert.Zero(t, desc.Chunks)

	job, err := l.Get(context.Background(), desc.UploadID)
	require.NoError(t, err)
	assert.Equal(t, entities.UploadCompleted, job.Status)
}

func TestImportFileDispatchFailureClosesUpload(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "f.csv"), voterCSV(5, 1))

	d := &recordingDispatcher{err: errors.NewStd("connection refused")}
	orch, l := newTestOrchestrator(t, base, d)

	_, err := orch.ImportFile(context.Background(), FileTask{Path: "f.csv"})
	require.Error(t, err)
	assert.False(t, jobqueue.IsPermanent(err))

	jobs, err := l.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, entities.UploadFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].ErrorLog, "dispatch stopped after 0 of 1 chunks")
}

// flakyLedger loses the first MarkDispatched.
type flakyLedger struct {
	*ledger.Ledger
	lost bool
}

func (f *flakyLedger) MarkDispatched(ctx context.Context, id string, n int) error {
	if !f.lost {
		f.lost = true
		return errors.NewStd("connection reset by peer")
	}
	return f.Ledger.MarkDispatched(ctx, id, n)
}

func TestImportFileRetryResumesPinnedUpload(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "g.csv"), voterCSV(7, 1))

	inner := ledger.New(repository.NewUploadRepository(testutil.OpenDB(t)))
	l := &flakyLedger{Ledger: inner}
	d := &recordingDispatcher{}
	orch := New(filestore.NewLocal(base), l, d, WithBatchSize(5))
	ctx := context.Background()
	task := FileTask{UploadID: "4f6c0c7e-8d0e-4c55-9a51-2f1b3d1c0a11", Path: "g.csv"}

	_, err := orch.ImportFile(ctx, task)
	require.Error(t, err)
	assert.False(t, jobqueue.IsPermanent(err))

	job, err := inner.Get(ctx, task.UploadID)
	require.NoError(t, err)
	assert.Equal(t, entities.UploadPending, job.Status, "a pinned entry waits for the retry")

	desc, err := orch.ImportFile(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, task.UploadID, desc.UploadID)
	assert.Equal(t, 2, desc.Chunks)

	again, err := orch.ImportFile(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Chunks)

	batches := d.batches()
	require.Len(t, batches, 4, "first attempt and retry dispatch, the third call does not")
	for _, bt := range batches {
		assert.Equal(t, task.UploadID, bt.UploadID)
		require.NoError(t, inner.RecordBatchResult(ctx, bt.UploadID, ledger.ChunkResult{
			Index: bt.ChunkIndex, Imported: len(bt.Rows),
		}))
	}

	jobs, err := inner.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, entities.UploadCompleted, jobs[0].Status)
	assert.Equal(t, 7, jobs[0].SuccessCount)
	assert.Equal(t, 2, jobs[0].ChunksDone)
}

func TestImportFileMarkDispatchedFailureClosesUnpinnedUpload(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "h.csv"), voterCSV(3, 1))

	inner := ledger.New(repository.NewUploadRepository(testutil.OpenDB(t)))
	orch := New(filestore.NewLocal(base), &flakyLedger{Ledger: inner}, &recordingDispatcher{})

	_, err := orch.ImportFile(context.Background(), FileTask{Path: "h.csv"})
	require.Error(t, err)

	jobs, err := inner.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, entities.UploadFailed, jobs[0].Status)
	assert.Contains(t, jobs[0].ErrorLog, "connection reset")
}

func fileTasks(d *recordingDispatcher) map[string]FileTask {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := map[string]FileTask{}
	for _, t := range d.tasks {
		if ft, ok := t.payload.(FileTask); ok {
			out[ft.Path] = ft
		}
	}
	return out
}

func TestImportFolderDerivesProvinceAndConstituency(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "uploads", "Koshi Province", "Jhapa-1.csv"), csvHeader)
	writeFile(t, filepath.Join(base, "uploads", "Bagmati", "Kathmandu-2.csv"), csvHeader)
	writeFile(t, filepath.Join(base, "uploads", "Gandaki", "readme.txt"), "x")
	writeFile(t, filepath.Join(base, "uploads", "Lumbini-3.csv"), csvHeader)

	d := &recordingDispatcher{}
	orch, _ := newTestOrchestrator(t, base, d, WithDispatchRate(1000, 10))

	summary, err := orch.ImportFolder(context.Background(), "uploads")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.FilesFound)
	assert.Equal(t, 3, summary.FilesQueued())
	assert.Empty(t, summary.Failures)

	tasks := fileTasks(d)
	assert.Equal(t, FileTask{Path: "uploads/Koshi Province/Jhapa-1.csv", Province: "Koshi", Constituency: "Jhapa-1"},
		tasks["uploads/Koshi Province/Jhapa-1.csv"])
	assert.Equal(t, "Bagmati", tasks["uploads/Bagmati/Kathmandu-2.csv"].Province)
	assert.Equal(t, "uploads", tasks["uploads/Lumbini-3.csv"].Province)
	assert.Equal(t, "Lumbini-3", tasks["uploads/Lumbini-3.csv"].Constituency)
}

func TestImportFolderReportsDispatchFailures(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "in", "Koshi", "a.csv"), csvHeader)

	d := &recordingDispatcher{err: errors.NewStd("broker down")}
	orch, _ := newTestOrchestrator(t, base, d)

	summary, err := orch.ImportFolder(context.Background(), "in")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.FilesFound)
	assert.Zero(t, summary.FilesQueued())
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "in/Koshi/a.csv", summary.Failures[0].Path)
}

func TestImportFolderCancelled(t *testing.T) {
	base := t.TempDir()
	writeFile(t, filepath.Join(base, "in", "Koshi", "a.csv"), csvHeader)

	orch, _ := newTestOrchestrator(t, base, &recordingDispatcher{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := orch.ImportFolder(ctx, "in")
	require.Error(t, err)
}

func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func TestImportZipStagesAndQueuesEntries(t *testing.T) {
	base := t.TempDir()
	archive := filepath.Join(t.TempDir(), "voters.zip")
	writeZip(t, archive, map[string]string{
		"Koshi Province/Jhapa-1.csv": voterCSV(2, 1),
		"Sudurpashchim-1.csv":        voterCSV(1, 100),
		"../escape.csv":              csvHeader,
		"Koshi Province/notes.txt":   "ignored",
	})

	d := &recordingDispatcher{}
	orch, _ := newTestOrchestrator(t, base, d, WithStagingPrefix("staging"))

	summary, err := orch.ImportZip(context.Background(), archive)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.FilesFound)
	assert.Equal(t, 2, summary.FilesQueued())
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "../escape.csv", summary.Failures[0].Path)

	byConstituency := map[string]FileTask{}
	for _, q := range summary.Queued {
		byConstituency[q.Task.Constituency] = q.Task
	}

	jhapa := byConstituency["Jhapa-1"]
	assert.Equal(t, "Koshi", jhapa.Province)
	assert.True(t, strings.HasPrefix(jhapa.Path, "staging/"))
	assert.True(t, strings.HasSuffix(jhapa.Path, "/Koshi Province/Jhapa-1.csv"))

	staged, err := os.ReadFile(filepath.Join(base, filepath.FromSlash(jhapa.Path)))
	require.NoError(t, err)
	assert.Equal(t, voterCSV(2, 1), string(staged))

	assert.Equal(t, unknownProvince, byConstituency["Sudurpashchim-1"].Province)
}

func TestSafeEntryName(t *testing.T) {
	cases := map[string]bool{
		"Koshi/a.csv":     true,
		"./a.csv":         true,
		"../a.csv":        false,
		"/etc/a.csv":      false,
		"x/../../a.csv":   false,
		`Koshi\Jhapa.csv`: true,
	}
	for name, ok := range cases {
		_, got := safeEntryName(name)
		assert.Equal(t, ok, got, name)
	}
}

func TestProvinceFromDir(t *testing.T) {
	assert.Equal(t, "Koshi", provinceFromDir("Koshi Province"))
	assert.Equal(t, "Koshi", provinceFromDir("KoshiProvince"))
	assert.Equal(t, "Bagmati", provinceFromDir("Bagmati"))
	assert.Equal(t, "Province 1", provinceFromDir("Province 1"))
}

func TestNewFileTask(t *testing.T) {
	task := NewFileTask("/data/Koshi/Jhapa-1.csv", "Koshi Province", "", "")
	assert.Equal(t, "Koshi", task.Province)
	assert.Equal(t, "Jhapa-1", task.Constituency)
	assert.Nil(t, task.UserID)

	task = NewFileTask("roll.csv", "", "Kathmandu-4", "operator")
	assert.Equal(t, "Kathmandu-4", task.Constituency)
	require.NotNil(t, task.UserID)
	assert.Equal(t, "operator", *task.UserID)
}
