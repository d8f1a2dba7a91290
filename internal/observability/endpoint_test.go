package observability

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/voterimport/internal/errors"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping() error { return p.err }

type fakeReloader struct {
	calls int
	err   error
}

func (r *fakeReloader) Reload(context.Context) error {
	r.calls++
	return r.err
}

type fakeBroadcaster struct {
	reasons []string
	err     error
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, reason string) error {
	b.reasons = append(b.reasons, reason)
	return b.err
}

func serve(t *testing.T, e *Endpoint, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, http.NoBody)
	rec := httptest.NewRecorder()
	e.Echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	e := NewEndpoint(":0", fakePinger{}, &fakeReloader{})
	rec := serve(t, e, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
}

func TestHealthzDatabaseDown(t *testing.T) {
	e := NewEndpoint(":0", fakePinger{err: errors.NewStd("connection refused")}, &fakeReloader{})
	rec := serve(t, e, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unreachable")
}

func TestReloadBroadcasts(t *testing.T) {
	reloader := &fakeReloader{}
	bc := &fakeBroadcaster{}
	e := NewEndpoint(":0", fakePinger{}, reloader, WithBroadcaster(bc))

	rec := serve(t, e, http.MethodPost, "/api/v1/resolver/reload")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, reloader.calls)
	assert.Equal(t, []string{"http reload"}, bc.reasons)
	var body reloadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Reloaded)
	assert.True(t, body.Broadcasted)
}

func TestReloadBroadcastFailureStillReloads(t *testing.T) {
	bc := &fakeBroadcaster{err: errors.NewStd("not connected")}
	e := NewEndpoint(":0", fakePinger{}, &fakeReloader{}, WithBroadcaster(bc))

	rec := serve(t, e, http.MethodPost, "/api/v1/resolver/reload")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "not connected")
}

func TestReloadFailure(t *testing.T) {
	bc := &fakeBroadcaster{}
	e := NewEndpoint(":0", fakePinger{}, &fakeReloader{err: errors.NewStd("db gone")}, WithBroadcaster(bc))

	rec := serve(t, e, http.MethodPost, "/api/v1/resolver/reload")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, bc.reasons)
}

func TestReloadRequiresPost(t *testing.T) {
	e := NewEndpoint(":0", fakePinger{}, &fakeReloader{})
	rec := serve(t, e, http.MethodGet, "/api/v1/resolver/reload")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.Ingest.RecordBatch(998, 2, 0.5, nil)
	m.Queue.RecordJob("import_batch", "completed")

	e := NewEndpoint(":0", fakePinger{}, &fakeReloader{}, WithMetrics(m))
	rec := serve(t, e, http.MethodGet, "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "voterimport_"))
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetricsDisabled(t *testing.T) {
	e := NewEndpoint(":0", fakePinger{}, &fakeReloader{})
	rec := serve(t, e, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNewMetricsIndependentRegistries(t *testing.T) {
	first, err := NewMetrics()
	require.NoError(t, err)
	second, err := NewMetrics()
	require.NoError(t, err)
	assert.NotSame(t, first.Registry(), second.Registry())
}
