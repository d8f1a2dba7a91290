// Package testutil provides shared fixtures for voterimport tests: an
// in-memory migrated database, voter CSV rendering and channel waits.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/voterimport/internal/datastore/entities"
)

// Common test timeout constants.
const (
	DefaultTestTimeout = 5 * time.Second
	ShortTestTimeout   = 1 * time.Second
	LongTestTimeout    = 30 * time.Second
)

// CSVHeader is the canonical eleven column header of a voter export.
const CSVHeader = "Province,District,Municipality,Ward,Center,VoterID,Name,Age,Gender,Spouse,Parent\n"

// OpenDB returns a migrated in-memory SQLite database closed at test cleanup.
// A single connection is kept so every query sees the same memory database.
func OpenDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(entities.All()...))
	return db
}

// VoterCSV renders n valid rows for surname थापा with voter ids starting at firstID.
func VoterCSV(n, firstID int) string {
	var b strings.Builder
	b.WriteString(CSVHeader)
	for i := range n {
		fmt.Fprintf(&b, "Koshi,Jhapa,Mechinagar,4,Janata School,%d,राम थापा,%d,पुरुष,-,हरि थापा\n", firstID+i, 20+i%60)
	}
	return b.String()
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// WaitForChannel waits for a signal on the channel or fails after timeout.
func WaitForChannel(t testing.TB, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(timeout):
		require.Fail(t, msg)
	}
}
