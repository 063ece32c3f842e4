package metric

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/confsync/pkg/security"
)

func get(t *testing.T, url string) string {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestServerDefaults(t *testing.T) {
	srv := NewServer(0, "", NewMetricsRegistry(), security.Config{})
	assert.Equal(t, "http://localhost:9090/metrics", srv.Address())

	srv = NewServer(8080, "/prometheus", NewMetricsRegistry(), security.Config{})
	assert.Equal(t, "http://localhost:8080/prometheus", srv.Address())
}

func TestServerRoutes(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordSnapshotVersion(12)

	srv := NewServer(0, "", registry, security.Config{})
	srv.SetHealthHandler(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	ts := httptest.NewServer(srv.buildMux())
	defer ts.Close()

	t.Run("metrics", func(t *testing.T) {
		body := get(t, ts.URL+"/metrics")
		assert.Contains(t, body, "confsync_snapshot_version 12")
	})

	t.Run("health", func(t *testing.T) {
		assert.JSONEq(t, `{"status":"healthy"}`, get(t, ts.URL+"/health"))
	})

	t.Run("index", func(t *testing.T) {
		body := get(t, ts.URL+"/")
		assert.Contains(t, body, `href="/metrics"`)
		assert.Contains(t, body, `href="/health"`)
	})
}

func TestServerDefaultHealthStub(t *testing.T) {
	srv := NewServer(0, "", NewMetricsRegistry(), security.Config{})
	ts := httptest.NewServer(srv.buildMux())
	defer ts.Close()

	assert.Equal(t, "OK", get(t, ts.URL+"/health"))
}

func TestServerStartWithoutRegistry(t *testing.T) {
	srv := NewServer(0, "", nil, security.Config{})

	err := srv.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics registry not provided")
}

func TestServerStopWithoutStart(t *testing.T) {
	srv := NewServer(0, "", NewMetricsRegistry(), security.Config{})
	assert.NoError(t, srv.Stop())
}
