package connpool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, host string, workers int) *Manager {
	t.Helper()
	m, err := New(Config{
		Host:         host,
		Workers:      workers,
		ProbeTimeout: 500 * time.Millisecond,
		ProbeTTL:     time.Second,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestNew(t *testing.T) {
	t.Run("requires host", func(t *testing.T) {
		_, err := New(Config{Workers: 2})
		assert.Error(t, err)
	})

	t.Run("requires workers", func(t *testing.T) {
		_, err := New(Config{Host: "http://localhost:11434"})
		assert.Error(t, err)
	})
}

func TestForWorker(t *testing.T) {
	m := newTestManager(t, "http://localhost:11434", 3)

	t.Run("lazy creation is stable per worker", func(t *testing.T) {
		first, err := m.ForWorker(1)
		require.NoError(t, err)

		again, err := m.ForWorker(1)
		require.NoError(t, err)
		assert.Same(t, first, again)
	})

	t.Run("workers get distinct connections", func(t *testing.T) {
		a, err := m.ForWorker(0)
		require.NoError(t, err)
		b, err := m.ForWorker(2)
		require.NoError(t, err)
		assert.NotSame(t, a, b)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := m.ForWorker(3)
		assert.Error(t, err)
		_, err = m.ForWorker(-1)
		assert.Error(t, err)
	})
}

func TestReset(t *testing.T) {
	m := newTestManager(t, "http://localhost:11434", 2)

	before, err := m.ForWorker(0)
	require.NoError(t, err)

	m.Reset(0)

	after, err := m.ForWorker(0)
	require.NoError(t, err)
	assert.NotSame(t, before, after)

	// Out-of-range resets are ignored
	m.Reset(99)
}

func TestProbeLiveness(t *testing.T) {
	t.Run("caches result within TTL", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		m := newTestManager(t, srv.URL, 1)

		assert.True(t, m.ProbeLiveness(context.Background()))
		assert.True(t, m.ProbeLiveness(context.Background()))
		assert.True(t, m.ProbeLiveness(context.Background()))
		assert.Equal(t, int32(1), hits.Load())
	})

	t.Run("invalidate forces a fresh probe", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		m := newTestManager(t, srv.URL, 1)

		assert.True(t, m.ProbeLiveness(context.Background()))
		m.InvalidateProbe()
		assert.True(t, m.ProbeLiveness(context.Background()))
		assert.Equal(t, int32(2), hits.Load())
	})

	t.Run("unreachable backend", func(t *testing.T) {
		m := newTestManager(t, "http://127.0.0.1:1", 1)
		assert.False(t, m.ProbeLiveness(context.Background()))
	})
}

func TestWarm(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/generate", r.URL.Path)
			w.Write([]byte(`{"response":"","done":true}`))
		}))
		defer srv.Close()

		m := newTestManager(t, srv.URL, 1)
		assert.NoError(t, m.Warm(context.Background(), 0, "qwen2.5:3b"))
	})

	t.Run("failure resets the connection", func(t *testing.T) {
		m := newTestManager(t, "http://127.0.0.1:1", 1)

		before, err := m.ForWorker(0)
		require.NoError(t, err)

		assert.Error(t, m.Warm(context.Background(), 0, "qwen2.5:3b"))

		after, err := m.ForWorker(0)
		require.NoError(t, err)
		assert.NotSame(t, before, after)
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		m := newTestManager(t, srv.URL, 1)
		assert.Error(t, m.Warm(context.Background(), 0, "qwen2.5:3b"))
	})
}
