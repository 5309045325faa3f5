package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subzero/swarm/internal/config"
	"github.com/subzero/swarm/internal/logger"
	"github.com/subzero/swarm/pkg/dispatch"
)

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.Write([]byte(`{"response":"pong","done":true}` + "\n"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestDaemon(t *testing.T, metricsEnabled bool) *Daemon {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Backend.Host = fakeBackend(t).URL
	cfg.Metrics.Enabled = metricsEnabled
	cfg.Logging.Console = false
	cfg.Logging.File = filepath.Join(t.TempDir(), "swarm.log")

	log, err := logger.New(logger.Config{
		Level: "error",
		File:  cfg.Logging.File,
	})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	d, err := New(cfg, log)
	require.NoError(t, err)
	return d
}

func TestNew(t *testing.T) {
	t.Run("requires config and logger", func(t *testing.T) {
		_, err := New(nil, nil)
		assert.Error(t, err)
	})

	t.Run("wires all modules", func(t *testing.T) {
		d := newTestDaemon(t, false)
		assert.NotNil(t, d.Coordinator())
		assert.False(t, d.Running())
		assert.Zero(t, d.Uptime())
	})
}

func TestStartStop(t *testing.T) {
	d := newTestDaemon(t, false)

	require.NoError(t, d.Start())
	assert.True(t, d.Running())
	assert.Error(t, d.Start(), "double start is rejected")

	// The engine is usable while running
	done := make(chan dispatch.Result, 1)
	require.NoError(t, d.Coordinator().Dispatch(context.Background(), dispatch.AgentFront, "ping", nil,
		func(res dispatch.Result) { done <- res }))
	res := <-done
	require.NoError(t, res.Err)
	assert.Equal(t, "pong", res.Text)

	d.Stop()
	assert.False(t, d.Running())

	// Stop is idempotent
	d.Stop()
}

func TestStatusEndpoint(t *testing.T) {
	d := newTestDaemon(t, false)
	require.NoError(t, d.Start())
	defer d.Stop()

	s := newStatusServer(config.MetricsConfig{Host: "127.0.0.1", Port: 0}, d, d.logger.GetZerolog())

	t.Run("reports running state and telemetry", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var resp statusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Running)
		assert.GreaterOrEqual(t, resp.UptimeSec, 0.0)
	})

	t.Run("rejects non-GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.handleStatus(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestApplyConfig(t *testing.T) {
	d := newTestDaemon(t, false)

	cfg := config.DefaultConfig()
	cfg.Logging.Level = "debug"
	d.ApplyConfig(cfg)
}

func TestUptimeAdvances(t *testing.T) {
	d := newTestDaemon(t, false)
	require.NoError(t, d.Start())
	defer d.Stop()

	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, d.Uptime(), time.Duration(0))
}
