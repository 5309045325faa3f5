package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/subzero/swarm/internal/config"
	"github.com/subzero/swarm/internal/logger"
	"github.com/subzero/swarm/internal/observability"
	"github.com/subzero/swarm/pkg/connpool"
	"github.com/subzero/swarm/pkg/contextstore"
	"github.com/subzero/swarm/pkg/dispatch"
	"github.com/subzero/swarm/pkg/ollama"
)

// Daemon hosts the dispatch engine: connection pool, streaming client,
// context store, and coordinator, plus the local metrics/status endpoint.
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	pool        *connpool.Manager
	client      *ollama.Client
	store       *contextstore.Store
	coordinator *dispatch.Coordinator
	server      *statusServer

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	running   bool
	mu        sync.RWMutex
}

// New creates a daemon instance with all modules wired in dependency order.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if cfg == nil || log == nil {
		return nil, fmt.Errorf("config and logger are required")
	}

	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config: cfg,
		logger: log,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := d.initModules(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize modules: %w", err)
	}

	return d, nil
}

func (d *Daemon) initModules() error {
	cfg := d.config
	zl := d.logger.GetZerolog()

	// Direct dispatch holds one worker slot per agent, the overflow
	// workers get their own slots past those, and the final slot is
	// reserved for keepalive warmups.
	pool, err := connpool.New(connpool.Config{
		Host:         cfg.Backend.Host,
		Workers:      len(cfg.Agents) + cfg.Queue.Workers + 1,
		Timeout:      time.Duration(cfg.Backend.RequestTimeoutSec) * time.Second,
		ProbeTimeout: time.Duration(cfg.Backend.ProbeTimeoutMs) * time.Millisecond,
		ProbeTTL:     time.Duration(cfg.Backend.ProbeCacheTTLMs) * time.Millisecond,
		WarmTimeout:  time.Duration(cfg.Keepalive.WarmupTimeoutSec) * time.Second,
		Logger:       zl,
	})
	if err != nil {
		return fmt.Errorf("connection pool: %w", err)
	}
	d.pool = pool

	client, err := ollama.NewClient(ollama.Config{
		Pool:        pool,
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   time.Duration(cfg.Retry.BaseDelayMs) * time.Millisecond,
		Timeout:     time.Duration(cfg.Backend.RequestTimeoutSec) * time.Second,
		Logger:      zl,
	})
	if err != nil {
		return fmt.Errorf("streaming client: %w", err)
	}
	d.client = client

	d.store = contextstore.New(contextstore.Config{
		AgentLimit:  cfg.History.AgentLimit,
		SharedLimit: cfg.History.SharedLimit,
		ExcerptLen:  cfg.History.ExcerptLen,
	})

	specs := make([]dispatch.AgentSpec, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		specs = append(specs, dispatch.AgentSpec{
			ID:       a.ID,
			Model:    a.Model,
			Identity: a.Identity,
		})
	}

	coordinator, err := dispatch.New(dispatch.Config{
		Agents:            specs,
		Pool:              pool,
		Client:            client,
		Store:             d.store,
		QueueCapacity:     cfg.Queue.Capacity,
		QueueWorkers:      cfg.Queue.Workers,
		BatchInterval:     time.Duration(cfg.Batch.IntervalMs) * time.Millisecond,
		KeepaliveInterval: time.Duration(cfg.Keepalive.IntervalSec) * time.Second,
		DisableKeepalive:  !cfg.Keepalive.Enabled,
		HeartbeatInterval: time.Duration(cfg.Keepalive.HeartbeatSec) * time.Second,
		Logger:            zl,
	})
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}
	d.coordinator = coordinator

	if cfg.Metrics.Enabled {
		d.server = newStatusServer(cfg.Metrics, d, zl)
	}

	return nil
}

// Start launches the coordinator and the status endpoint.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon already running")
	}

	if err := d.coordinator.Start(); err != nil {
		return err
	}

	if d.server != nil {
		d.server.start()
	}

	d.running = true
	d.startTime = time.Now()

	d.logger.Info().
		Str("backend", d.config.Backend.Host).
		Int("queue_capacity", d.config.Queue.Capacity).
		Msg("Daemon started")
	return nil
}

// Run starts the daemon and blocks until SIGINT or SIGTERM.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-d.ctx.Done():
	}

	d.Stop()
	return nil
}

// Stop shuts the daemon down gracefully: status endpoint first, then the
// coordinator (draining queued work), then the pool.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	d.mu.Unlock()

	if d.server != nil {
		d.server.stop()
	}
	d.coordinator.Close()
	d.pool.Close()
	d.cancel()

	d.logger.Info().
		Dur("uptime", time.Since(d.startTime)).
		Msg("Daemon stopped")
}

// Coordinator exposes the dispatch engine to callers embedding the daemon.
func (d *Daemon) Coordinator() *dispatch.Coordinator {
	return d.coordinator
}

// Running reports whether Start has completed and Stop has not.
func (d *Daemon) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Uptime returns the time since Start, or zero when stopped.
func (d *Daemon) Uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return 0
	}
	return time.Since(d.startTime)
}

// ApplyConfig applies hot-reloadable settings from a changed config file.
// Only the log level takes effect without a restart.
func (d *Daemon) ApplyConfig(cfg *config.Config) {
	d.logger.SetLevel(cfg.Logging.Level)
	d.logger.Info().
		Str("level", cfg.Logging.Level).
		Msg("Log level applied from config change")
}
