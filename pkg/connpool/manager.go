package connpool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/subzero/swarm/internal/observability"
)

// Conn is a reusable transport handle to the inference endpoint. Each Conn
// belongs to exactly one worker slot and is never used by two workers at
// the same time.
type Conn struct {
	workerID  int
	client    *http.Client
	transport *http.Transport
}

// Client returns the underlying HTTP client.
func (c *Conn) Client() *http.Client {
	return c.client
}

// Manager owns one persistent connection per worker slot plus the probe
// cache and warmup path.
type Manager struct {
	host    string
	size    int
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	conns []*Conn

	probeTimeout time.Duration
	probeTTL     time.Duration
	probeMu      sync.Mutex
	probeAt      time.Time
	probeAlive   bool

	warmTimeout time.Duration
}

// Config holds connection manager configuration
type Config struct {
	Host         string        // backend base URL, e.g. http://localhost:11434
	Workers      int           // number of worker slots
	Timeout      time.Duration // per-request timeout applied to pooled clients
	ProbeTimeout time.Duration // liveness probe timeout
	ProbeTTL     time.Duration // how long a probe result stays cached
	WarmTimeout  time.Duration // warmup call timeout
	Logger       zerolog.Logger
}

// New creates a connection manager with one slot per worker.
func New(cfg Config) (*Manager, error) {
	observability.EnsureRegistered()

	if cfg.Host == "" {
		return nil, fmt.Errorf("backend host is required")
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("at least one worker slot is required")
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	if cfg.ProbeTTL <= 0 {
		cfg.ProbeTTL = 5 * time.Second
	}
	if cfg.WarmTimeout <= 0 {
		cfg.WarmTimeout = 30 * time.Second
	}

	return &Manager{
		host:         cfg.Host,
		size:         cfg.Workers,
		timeout:      cfg.Timeout,
		logger:       cfg.Logger.With().Str("component", "connpool").Logger(),
		conns:        make([]*Conn, cfg.Workers),
		probeTimeout: cfg.ProbeTimeout,
		probeTTL:     cfg.ProbeTTL,
		warmTimeout:  cfg.WarmTimeout,
	}, nil
}

// Host returns the backend base URL.
func (m *Manager) Host() string {
	return m.host
}

// Workers returns the number of worker slots.
func (m *Manager) Workers() int {
	return m.size
}

// ForWorker returns the worker's connection, lazily creating it on first use.
func (m *Manager) ForWorker(workerID int) (*Conn, error) {
	if workerID < 0 || workerID >= m.size {
		return nil, fmt.Errorf("worker id %d out of range [0,%d)", workerID, m.size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conns[workerID] == nil {
		m.conns[workerID] = m.newConn(workerID)
		m.logger.Debug().Int("worker", workerID).Msg("Connection created")
	}

	return m.conns[workerID], nil
}

// Reset closes the worker's connection (best-effort) and replaces it with a
// fresh one. Never fails; out-of-range ids are ignored.
func (m *Manager) Reset(workerID int) {
	if workerID < 0 || workerID >= m.size {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old := m.conns[workerID]; old != nil {
		old.transport.CloseIdleConnections()
	}
	m.conns[workerID] = m.newConn(workerID)
	m.logger.Debug().Int("worker", workerID).Msg("Connection reset")
}

// newConn builds a client whose transport keeps a single persistent
// connection to the backend. Caller holds m.mu.
func (m *Manager) newConn(workerID int) *Conn {
	transport := &http.Transport{
		MaxIdleConns:        1,
		MaxIdleConnsPerHost: 1,
		MaxConnsPerHost:     1,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Conn{
		workerID: workerID,
		client: &http.Client{
			Transport: transport,
			Timeout:   m.timeout,
		},
		transport: transport,
	}
}

// ProbeLiveness checks whether the backend answers its tags endpoint. The
// result is cached for the configured TTL so UI refresh ticks don't flood
// the endpoint with health checks.
func (m *Manager) ProbeLiveness(ctx context.Context) bool {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	if !m.probeAt.IsZero() && time.Since(m.probeAt) < m.probeTTL {
		observability.RecordProbe(true, m.probeAlive)
		return m.probeAlive
	}

	alive := m.probe(ctx)
	m.probeAt = time.Now()
	m.probeAlive = alive
	observability.RecordProbe(false, alive)

	return alive
}

func (m *Manager) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, m.host+"/api/tags", nil)
	if err != nil {
		return false
	}

	// The probe uses its own short-lived client so a wedged worker
	// connection can't make the whole backend look dead.
	resp, err := (&http.Client{Timeout: m.probeTimeout}).Do(req)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Liveness probe failed")
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// InvalidateProbe drops the cached probe result so the next ProbeLiveness
// call hits the network.
func (m *Manager) InvalidateProbe() {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()
	m.probeAt = time.Time{}
}

// Warm issues a minimal generate call to force the backend to load the
// model. Warmup is best-effort: a failure resets the worker connection and
// is returned for telemetry only.
func (m *Manager) Warm(ctx context.Context, workerID int, model string) error {
	conn, err := m.ForWorker(workerID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(map[string]interface{}{
		"model":  model,
		"prompt": "",
		"stream": false,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal warmup request: %w", err)
	}

	warmCtx, cancel := context.WithTimeout(ctx, m.warmTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(warmCtx, http.MethodPost, m.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build warmup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := conn.client.Do(req)
	if err != nil {
		m.Reset(workerID)
		observability.RecordWarmup(false)
		m.logger.Warn().Err(err).Str("model", model).Msg("Warmup failed")
		return fmt.Errorf("warmup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		m.Reset(workerID)
		observability.RecordWarmup(false)
		m.logger.Warn().Int("status", resp.StatusCode).Str("model", model).Msg("Warmup rejected")
		return fmt.Errorf("warmup rejected with status %d", resp.StatusCode)
	}

	observability.RecordWarmup(true)
	m.logger.Debug().Str("model", model).Msg("Model warmed")
	return nil
}

// Close releases all pooled connections.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, conn := range m.conns {
		if conn != nil {
			conn.transport.CloseIdleConnections()
		}
	}
}
