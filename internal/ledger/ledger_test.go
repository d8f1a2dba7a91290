package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/voterimport/internal/datastore/entities"
	"github.com/tphakala/voterimport/internal/datastore/repository"
	"github.com/tphakala/voterimport/internal/testutil"
)

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []*entities.UploadJob
}

func (n *recordingNotifier) UploadFinished(_ context.Context, job *entities.UploadJob) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, job)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.jobs)
}

func newTestLedger(t *testing.T) (*Ledger, *recordingNotifier) {
	t.Helper()
	db := testutil.OpenDB(t)

	n := &recordingNotifier{}
	return New(repository.NewUploadRepository(db), WithNotifier(n)), n
}

func start(t *testing.T, l *Ledger, rows int) string {
	t.Helper()
	id, err := l.Start(context.Background(), StartRequest{
		FileName: "Jhapa-1.csv", Province: "Koshi", Constituency: "Jhapa-1", TotalRows: rows,
	})
	require.NoError(t, err)
	return id
}

func TestStartCreatesPendingEntry(t *testing.T) {
	l, _ := newTestLedger(t)
	id := start(t, l, 2500)

	job, err := l.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, entities.UploadPending, job.Status)
	assert.Equal(t, 2500, job.TotalRecords)
	require.NotNil(t, job.Constituency)
	assert.Equal(t, "Jhapa-1", *job.Constituency)
	assert.Nil(t, job.UploadedBy)
}

func TestLedgerCompletesAfterAllChunks(t *testing.T) {
	l, n := newTestLedger(t)
	ctx := context.Background()
	id := start(t, l, 25)

	require.NoError(t, l.MarkDispatched(ctx, id, 3))
	require.NoError(t, l.RecordBatchResult(ctx, id, ChunkResult{Index: 0, Imported: 9, Failed: 1,
		Errors: []string{"Row 4: VoterID 12: Age must be an integer"}, Unresolved: []string{"अज्ञात"}}))
	require.NoError(t, l.RecordBatchResult(ctx, id, ChunkResult{Index: 1, Imported: 10}))

	job, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.UploadProcessing, job.Status)
	assert.Zero(t, n.count())

	require.NoError(t, l.RecordBatchResult(ctx, id, ChunkResult{Index: 2, Imported: 5, Unresolved: []string{"अज्ञात", "नौलो"}}))

	job, err = l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.UploadCompleted, job.Status)
	assert.Equal(t, 24, job.SuccessCount)
	assert.Equal(t, 1, job.ErrorCount)
	assert.Contains(t, job.ErrorLog, "Age must be an integer")
	require.NotNil(t, job.FinishedAt)

	var unmapped []string
	require.NoError(t, json.Unmarshal(job.UnmappedSurnames, &unmapped))
	assert.Equal(t, []string{"अज्ञात", "नौलो"}, unmapped)
	assert.Equal(t, 1, n.count())
}

func TestDuplicateChunkReportCountsOnce(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	id := start(t, l, 20)
	require.NoError(t, l.MarkDispatched(ctx, id, 2))

	res := ChunkResult{Index: 0, Imported: 10}
	require.NoError(t, l.RecordBatchResult(ctx, id, res))
	require.NoError(t, l.RecordBatchResult(ctx, id, res))

	job, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 10, job.SuccessCount)
	assert.Equal(t, 1, job.ChunksDone)
	assert.Equal(t, entities.UploadProcessing, job.Status)
}

func TestConcurrentChunksFinalizeOnce(t *testing.T) {
	l, n := newTestLedger(t)
	ctx := context.Background()
	id := start(t, l, 100)
	require.NoError(t, l.MarkDispatched(ctx, id, 10))

	var wg sync.WaitGroup
	for i := range 10 {
		for range 2 {
			wg.Go(func() {
				assert.NoError(t, l.RecordBatchResult(ctx, id, ChunkResult{Index: i, Imported: 10}))
			})
		}
	}
	wg.Wait()

	job, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.UploadCompleted, job.Status)
	assert.Equal(t, 100, job.SuccessCount)
	assert.Equal(t, 1, n.count())
}

func TestChunksBeforeDispatchMarkStillComplete(t *testing.T) {
	l, n := newTestLedger(t)
	ctx := context.Background()
	id := start(t, l, 10)

	require.NoError(t, l.RecordBatchResult(ctx, id, ChunkResult{Index: 0, Imported: 10}))
	require.NoError(t, l.MarkDispatched(ctx, id, 1))

	job, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.UploadCompleted, job.Status)
	assert.Equal(t, 1, n.count())
}

func TestAllChunksFailedMarksUploadFailed(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	id := start(t, l, 2000)
	require.NoError(t, l.MarkDispatched(ctx, id, 2))

	for i := range 2 {
		require.NoError(t, l.RecordBatchResult(ctx, id, ChunkResult{Index: i, Failed: 1000, Errors: []string{"database is locked"}}))
	}

	job, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.UploadFailed, job.Status)
	assert.Equal(t, 2000, job.ErrorCount)
}

func TestZeroChunksCompletesImmediately(t *testing.T) {
	l, n := newTestLedger(t)
	ctx := context.Background()
	id := start(t, l, 0)

	require.NoError(t, l.MarkDispatched(ctx, id, 0))

	job, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.UploadCompleted, job.Status)
	assert.Equal(t, 1, n.count())
}

func TestTerminalEntryIsFrozen(t *testing.T) {
	l, n := newTestLedger(t)
	ctx := context.Background()
	id := start(t, l, 10)

	require.NoError(t, l.Fail(ctx, id, assert.AnError, time.Second))
	require.NoError(t, l.MarkDispatched(ctx, id, 1))
	require.NoError(t, l.RecordBatchResult(ctx, id, ChunkResult{Index: 0, Imported: 10}))

	ok, err := l.Finalize(ctx, id, FinalizeRequest{Status: entities.UploadCompleted})
	require.NoError(t, err)
	assert.False(t, ok)

	job, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entities.UploadFailed, job.Status)
	assert.Zero(t, job.SuccessCount)
	assert.Equal(t, assert.AnError.Error(), job.ErrorLog)
	assert.InDelta(t, 1.0, job.ProcessingTime, 0.001)
	assert.Equal(t, 1, n.count())
}

func TestFinalizeRejectsActiveStatus(t *testing.T) {
	l, _ := newTestLedger(t)
	id := start(t, l, 1)

	_, err := l.Finalize(context.Background(), id, FinalizeRequest{Status: entities.UploadProcessing})
	require.Error(t, err)
}
