package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is the backend connectivity state tracked by the health monitor.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

// failures before reconnecting degrades to disconnected
const disconnectThreshold = 3

// StatusInfo is a point-in-time summary of backend connectivity for the
// presentation layer.
type StatusInfo struct {
	Status              Status    `json:"status"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastProbe           time.Time `json:"last_probe"`
	LastChange          time.Time `json:"last_change"`
}

type monitorConfig struct {
	probe    func(ctx context.Context) bool
	interval time.Duration
	logger   zerolog.Logger
}

// Monitor tracks backend reachability through periodic probes. A single
// failed probe moves connected to reconnecting; repeated failures degrade
// to disconnected. Any successful probe restores connected.
type Monitor struct {
	probe    func(ctx context.Context) bool
	interval time.Duration
	logger   zerolog.Logger

	mu        sync.Mutex
	status    Status
	failures  int
	lastProbe time.Time
	changed   time.Time
	callbacks []func(old, new Status)
}

func newMonitor(cfg monitorConfig) *Monitor {
	return &Monitor{
		probe:    cfg.probe,
		interval: cfg.interval,
		logger:   cfg.logger.With().Str("component", "monitor").Logger(),
		status:   StatusDisconnected,
		changed:  time.Now(),
	}
}

// heartbeat runs one probe cycle. Scheduled on the coordinator's cron.
func (m *Monitor) heartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	up := m.probe(ctx)
	cancel()

	m.mu.Lock()
	m.lastProbe = time.Now()

	var next Status
	if up {
		m.failures = 0
		next = StatusConnected
	} else {
		m.failures++
		if m.failures >= disconnectThreshold {
			next = StatusDisconnected
		} else {
			next = StatusReconnecting
		}
	}

	prev := m.status
	var callbacks []func(old, new Status)
	if next != prev {
		m.status = next
		m.changed = time.Now()
		callbacks = append(callbacks, m.callbacks...)
	}
	m.mu.Unlock()

	if next != prev {
		m.logger.Info().
			Str("from", string(prev)).
			Str("to", string(next)).
			Msg("Backend status changed")
		for _, fn := range callbacks {
			fn(prev, next)
		}
	}
}

// onChange registers a status-change callback. Callbacks run on the
// heartbeat goroutine and must not block.
func (m *Monitor) onChange(fn func(old, new Status)) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, fn)
	m.mu.Unlock()
}

// StatusInfo returns the current connectivity summary.
func (m *Monitor) StatusInfo() StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	return StatusInfo{
		Status:              m.status,
		ConsecutiveFailures: m.failures,
		LastProbe:           m.lastProbe,
		LastChange:          m.changed,
	}
}
