package export

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tphakala/voterimport/internal/datastore/entities"
	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/testutil"
)

func strPtr(s string) *string { return &s }

func seed(t *testing.T, db *gorm.DB, voters int) {
	t.Helper()
	for i := range voters {
		v := &entities.Voter{
			VoterID: int64(1000 + i), Name: "राम थापा", Surname: "थापा", Age: 20 + i,
			Gender: entities.GenderMale, CasteGroup: strPtr("chhetri"),
			Province: "Koshi", District: "Jhapa", Municipality: "Mechinagar",
			Ward: 4, Center: "Janata School", Constituency: strPtr("Jhapa-1"),
		}
		require.NoError(t, db.Create(v).Error)
	}
	require.NoError(t, db.Create(&entities.SurnameMapping{Surname: "थापा", CasteGroup: "chhetri", IsActive: true}).Error)
	require.NoError(t, db.Create(&entities.UploadJob{
		ID: "6f1c1e0a-0000-4000-8000-000000000001", FileName: "Jhapa-1.csv", Province: "Koshi",
		TotalRecords: voters, SuccessCount: voters, Status: entities.UploadCompleted, ExpectedChunks: 1, ChunksDone: 1,
	}).Error)
	require.NoError(t, db.Create(&entities.UploadChunk{
		UploadID: "6f1c1e0a-0000-4000-8000-000000000001", ChunkIndex: 0, Imported: voters,
	}).Error)
	require.NoError(t, db.Create(&entities.UploadUnresolvedSurname{
		UploadID: "6f1c1e0a-0000-4000-8000-000000000001", Surname: "अज्ञात",
	}).Error)
}

func tableStats(s *Stats, name string) TableStats {
	for _, ts := range s.Tables {
		if ts.Name == name {
			return ts
		}
	}
	return TableStats{}
}

func TestRunCopiesEveryTable(t *testing.T) {
	source, target := testutil.OpenDB(t), testutil.OpenDB(t)
	seed(t, source, 7)

	e, err := New(source, target, Options{BatchSize: 3})
	require.NoError(t, err)

	stats, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, stats.Tables, 5)
	assert.EqualValues(t, 7, tableStats(stats, "voters").Migrated)
	assert.EqualValues(t, 1, tableStats(stats, "upload_chunks").Migrated)

	migrated, skipped, failed := stats.Totals()
	assert.EqualValues(t, 11, migrated)
	assert.Zero(t, skipped)
	assert.Zero(t, failed)

	var v entities.Voter
	require.NoError(t, target.First(&v, "voter_id = ?", 1003).Error)
	assert.Equal(t, 23, v.Age)
	assert.Equal(t, "chhetri", *v.CasteGroup)

	checks, err := e.Verify(context.Background(), DefaultSampleSize)
	require.NoError(t, err)
	for _, c := range checks {
		assert.True(t, c.Match(), c.Table)
	}
}

func TestRunTwiceSkipsExistingRows(t *testing.T) {
	source, target := testutil.OpenDB(t), testutil.OpenDB(t)
	seed(t, source, 4)

	e, err := New(source, target, Options{})
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.NoError(t, err)

	stats, err := e.Run(context.Background())
	require.NoError(t, err)
	migrated, skipped, _ := stats.Totals()
	assert.Zero(t, migrated)
	assert.EqualValues(t, 8, skipped)
}

func TestRunCleanReplacesTargetRows(t *testing.T) {
	source, target := testutil.OpenDB(t), testutil.OpenDB(t)
	seed(t, source, 2)
	require.NoError(t, target.Create(&entities.Voter{
		VoterID: 9, Name: "सीता शर्मा", Surname: "शर्मा", Age: 40, Gender: entities.GenderFemale,
		Province: "Bagmati", District: "Kathmandu", Municipality: "KMC", Ward: 1, Center: "X",
	}).Error)

	e, err := New(source, target, Options{Clean: true})
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.NoError(t, err)

	var n int64
	require.NoError(t, target.Model(&entities.Voter{}).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}

func TestVerifyReportsCountMismatch(t *testing.T) {
	source, target := testutil.OpenDB(t), testutil.OpenDB(t)
	seed(t, source, 3)

	e, err := New(source, target, Options{})
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, target.Delete(&entities.Voter{}, "voter_id = ?", 1001).Error)

	checks, err := e.Verify(context.Background(), DefaultSampleSize)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	require.Len(t, checks, 5)
	assert.False(t, checks[1].Match())
	assert.EqualValues(t, 3, checks[1].Source)
	assert.EqualValues(t, 2, checks[1].Target)
}

func TestVerifyReportsFieldMismatch(t *testing.T) {
	source, target := testutil.OpenDB(t), testutil.OpenDB(t)
	seed(t, source, 1)

	e, err := New(source, target, Options{})
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, target.Model(&entities.Voter{}).Where("voter_id = ?", 1000).UpdateColumn("surname", "शर्मा").Error)

	_, err = e.Verify(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "voter 1000: surname differs")
}

func TestRunCancelled(t *testing.T) {
	source, target := testutil.OpenDB(t), testutil.OpenDB(t)
	seed(t, source, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, err := New(source, target, Options{})
	require.NoError(t, err)
	_, err = e.Run(ctx)
	require.Error(t, err)
}

func TestNewRejectsBatchSize(t *testing.T) {
	_, err := New(nil, nil, Options{BatchSize: MaxBatchSize + 1})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}
