package telemetry

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/errors"
)

func TestInitSentryDisabled(t *testing.T) {
	flush, err := InitSentry(&conf.SentrySettings{Enabled: false}, "dev")
	require.NoError(t, err)
	require.NotNil(t, flush)
	flush()
	assert.Nil(t, errors.GetTelemetryReporter())
}

func TestInitSentryInvalidDSN(t *testing.T) {
	_, err := InitSentry(&conf.SentrySettings{Enabled: true, DSN: "not a dsn"}, "dev")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestApplyPrivacyFilters(t *testing.T) {
	event := &sentry.Event{
		ServerName: "ingest-01",
		User:       sentry.User{ID: "operator"},
		Contexts: map[string]sentry.Context{
			"os":      {"name": "linux"},
			"runtime": {"name": "go"},
			"trace":   {"id": "x"},
		},
		Extra: map[string]any{"component": "ledger", "path": "/data/Koshi/Jhapa-1.csv"},
	}

	out := applyPrivacyFilters(event, nil)

	assert.Empty(t, out.ServerName)
	assert.Empty(t, out.User.ID)
	assert.NotContains(t, out.Contexts, "os")
	assert.NotContains(t, out.Contexts, "runtime")
	assert.Contains(t, out.Contexts, "trace")
	assert.Equal(t, map[string]any{"component": "ledger"}, out.Extra)
}
