package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/voterimport/internal/caste"
	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/datastore/entities"
	"github.com/tphakala/voterimport/internal/orchestrator"
	"github.com/tphakala/voterimport/internal/testutil"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	return &conf.Settings{
		Database: conf.DatabaseSettings{
			Backend: conf.BackendSQLite,
			SQLite:  conf.SQLiteSettings{Path: ":memory:"},
		},
		Import: conf.ImportSettings{
			BatchSize:     4,
			MaxBatchSize:  1000,
			QueueName:     "imports",
			StagingPrefix: "staging",
			ReadTimeout:   time.Minute,
		},
		Queue: conf.QueueSettings{
			Transport:   conf.TransportLocal,
			Concurrency: 2,
			MaxJobs:     100,
			JobTimeout:  time.Minute,
			Retry: conf.RetrySettings{
				Enabled:      true,
				MaxRetries:   1,
				InitialDelay: 10 * time.Millisecond,
				MaxDelay:     50 * time.Millisecond,
				Multiplier:   2,
			},
		},
		Storage:  conf.StorageSettings{Backend: conf.StorageLocal, BaseDir: t.TempDir()},
		Resolver: conf.ResolverSettings{CacheTTL: time.Hour},
	}
}

func writeCSV(t *testing.T, path string, rows int) {
	t.Helper()
	testutil.WriteFile(t, path, testutil.VoterCSV(rows, 5000))
}

func TestImportFileEndToEnd(t *testing.T) {
	settings := testSettings(t)
	writeCSV(t, filepath.Join(settings.Storage.BaseDir, "Koshi", "Jhapa-1.csv"), 10)

	ctx := t.Context()
	a, err := Open(ctx, settings)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	_, err = a.Surnames.UpsertMapping(ctx, "थापा", caste.Chhetri, "")
	require.NoError(t, err)
	require.NoError(t, a.ReloadResolver(ctx, "test"))

	require.NoError(t, a.StartPipeline(ctx))
	assert.Nil(t, a.AMQP)

	desc, err := a.Orchestrator.ImportFile(ctx, orchestrator.NewFileTask("Koshi/Jhapa-1.csv", "Koshi", "", ""))
	require.NoError(t, err)
	assert.Equal(t, 3, desc.Chunks)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, a.Wait(waitCtx))

	job, err := a.Ledger.Get(ctx, desc.UploadID)
	require.NoError(t, err)
	assert.Equal(t, entities.UploadCompleted, job.Status)
	assert.Equal(t, 10, job.SuccessCount)
	assert.Equal(t, "Jhapa-1", *job.Constituency)

	n, err := a.Voters.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 10, n)

	v, err := a.Voters.Get(ctx, 5000)
	require.NoError(t, err)
	require.NotNil(t, v.CasteGroup)
	assert.Equal(t, string(caste.Chhetri), *v.CasteGroup)
}

func TestLocalFileTaskWithSmallQueue(t *testing.T) {
	settings := testSettings(t)
	settings.Import.BatchSize = 1
	settings.Queue.Concurrency = 1
	settings.Queue.MaxJobs = 3
	writeCSV(t, filepath.Join(settings.Storage.BaseDir, "Koshi", "Ilam-2.csv"), 5)

	ctx := t.Context()
	a, err := Open(ctx, settings)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NoError(t, a.StartPipeline(ctx))
	require.NotNil(t, a.FileQueue)

	_, err = a.Dispatcher.Dispatch(ctx, orchestrator.TaskImportFile,
		orchestrator.NewFileTask("Koshi/Ilam-2.csv", "Koshi", "", ""))
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, a.Wait(waitCtx), "file task must not starve its own batches")

	jobs, err := a.Ledger.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, entities.UploadCompleted, jobs[0].Status)
	assert.Equal(t, 5, jobs[0].SuccessCount)
	assert.Equal(t, 5, jobs[0].ExpectedChunks)
}

func TestWaitWithoutPipeline(t *testing.T) {
	a, err := Open(t.Context(), testSettings(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.NoError(t, a.Wait(t.Context()))
	assert.NotNil(t, a.Resolver)
	assert.Nil(t, a.Broadcaster)
}

func TestRetryConfigFromSettings(t *testing.T) {
	a := &App{Settings: testSettings(t)}
	rc := a.RetryConfig()
	assert.True(t, rc.Enabled)
	assert.Equal(t, 1, rc.MaxRetries)
	assert.Equal(t, 2.0, rc.Multiplier)
}
