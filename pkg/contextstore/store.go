package contextstore

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Exchange is one completed request/response pair kept in history.
type Exchange struct {
	ID        string    `json:"id"`
	Agent     string    `json:"agent"`
	Request   string    `json:"request"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentStats aggregates per-agent call telemetry.
type AgentStats struct {
	Calls      int           `json:"calls"`
	Errors     int           `json:"errors"`
	AvgLatency time.Duration `json:"avg_latency"`
}

// TelemetrySnapshot is a point-in-time copy of the store's counters.
// Averages are derived at read time, never maintained incrementally.
type TelemetrySnapshot struct {
	Agents    map[string]AgentStats `json:"agents"`
	Failovers int                   `json:"failovers"`
	Warmups   int                   `json:"warmups"`
	Queued    int                   `json:"queued"`

	// QueueDepth is the number of requests waiting right now. The store
	// only counts admissions; the coordinator fills this from the queue.
	QueueDepth int `json:"queue_depth"`
}

// Config holds history bounds. Zero values fall back to defaults.
type Config struct {
	AgentLimit  int // per-agent exchange history, default 20
	SharedLimit int // cross-agent shared ring, default 10
	ExcerptLen  int // max runes kept per excerpt, default 160
}

type agentTelemetry struct {
	calls   int
	errors  int
	latency time.Duration
}

// Store keeps bounded exchange histories and call telemetry for all
// agents behind a single mutex.
type Store struct {
	mu sync.Mutex

	agentLimit  int
	sharedLimit int
	excerptLen  int

	byAgent   map[string][]Exchange
	shared    []Exchange
	telemetry map[string]*agentTelemetry

	failovers int
	warmups   int
	queued    int
}

// New creates a store with the given history bounds.
func New(cfg Config) *Store {
	if cfg.AgentLimit <= 0 {
		cfg.AgentLimit = 20
	}
	if cfg.SharedLimit <= 0 {
		cfg.SharedLimit = 10
	}
	if cfg.ExcerptLen <= 0 {
		cfg.ExcerptLen = 160
	}

	return &Store{
		agentLimit:  cfg.AgentLimit,
		sharedLimit: cfg.SharedLimit,
		excerptLen:  cfg.ExcerptLen,
		byAgent:     make(map[string][]Exchange),
		telemetry:   make(map[string]*agentTelemetry),
	}
}

// RecordExchange appends a completed exchange to the agent's history and
// the shared cross-agent ring, evicting oldest-first at the bounds.
func (s *Store) RecordExchange(agent, request, response string) {
	entry := Exchange{
		ID:        uuid.NewString(),
		Agent:     agent,
		Request:   s.excerpt(request),
		Response:  s.excerpt(response),
		Timestamp: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.byAgent[agent], entry)
	if len(history) > s.agentLimit {
		history = history[len(history)-s.agentLimit:]
	}
	s.byAgent[agent] = history

	s.shared = append(s.shared, entry)
	if len(s.shared) > s.sharedLimit {
		s.shared = s.shared[len(s.shared)-s.sharedLimit:]
	}
}

// History returns a copy of the agent's recent exchanges, oldest first.
func (s *Store) History(agent string) []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.byAgent[agent]
	out := make([]Exchange, len(history))
	copy(out, history)
	return out
}

// SharedContext renders up to limit recent shared entries as tagged
// one-liners, oldest first, for inclusion in downstream prompts.
func (s *Store) SharedContext(limit int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.shared) {
		limit = len(s.shared)
	}
	if limit == 0 {
		return ""
	}

	var b strings.Builder
	for _, entry := range s.shared[len(s.shared)-limit:] {
		fmt.Fprintf(&b, "[%s] %s -> %s\n", entry.Agent, entry.Request, entry.Response)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RecordCall accumulates per-agent call telemetry.
func (s *Store) RecordCall(agent string, elapsed time.Duration, isErr bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.telemetry[agent]
	if t == nil {
		t = &agentTelemetry{}
		s.telemetry[agent] = t
	}
	t.calls++
	t.latency += elapsed
	if isErr {
		t.errors++
	}
}

// RecordFailover counts one failover to the alternate model.
func (s *Store) RecordFailover() {
	s.mu.Lock()
	s.failovers++
	s.mu.Unlock()
}

// RecordWarmup counts one keepalive warmup.
func (s *Store) RecordWarmup() {
	s.mu.Lock()
	s.warmups++
	s.mu.Unlock()
}

// RecordQueued counts one request routed through the overflow queue.
func (s *Store) RecordQueued() {
	s.mu.Lock()
	s.queued++
	s.mu.Unlock()
}

// Snapshot returns a copy of the current telemetry with average latencies
// computed from the accumulated totals.
func (s *Store) Snapshot() TelemetrySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := TelemetrySnapshot{
		Agents:    make(map[string]AgentStats, len(s.telemetry)),
		Failovers: s.failovers,
		Warmups:   s.warmups,
		Queued:    s.queued,
	}

	for agent, t := range s.telemetry {
		stats := AgentStats{Calls: t.calls, Errors: t.errors}
		if t.calls > 0 {
			stats.AvgLatency = t.latency / time.Duration(t.calls)
		}
		snap.Agents[agent] = stats
	}

	return snap
}

// excerpt collapses whitespace and truncates to the configured rune bound.
func (s *Store) excerpt(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= s.excerptLen {
		return text
	}
	return string(runes[:s.excerptLen]) + "..."
}
