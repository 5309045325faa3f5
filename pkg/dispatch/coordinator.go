package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/subzero/swarm/internal/observability"
	"github.com/subzero/swarm/pkg/connpool"
	"github.com/subzero/swarm/pkg/contextstore"
	"github.com/subzero/swarm/pkg/ollama"
	"github.com/subzero/swarm/pkg/overflow"
	"github.com/subzero/swarm/pkg/tokenbatch"
)

// Config holds coordinator configuration
type Config struct {
	Agents []AgentSpec // exactly front and back
	Pool   *connpool.Manager
	Client *ollama.Client
	Store  *contextstore.Store

	QueueCapacity int
	QueueWorkers  int           // default 2
	BatchInterval time.Duration // token batcher flush interval

	KeepaliveInterval time.Duration // warmup period, default 120s
	DisableKeepalive  bool          // skip scheduled warmups entirely
	HeartbeatInterval time.Duration // health monitor period, default 5s
	ContextWindow     int           // shared-context entries per prompt, default 5

	Logger zerolog.Logger
}

// Coordinator routes requests for the two agents over one shared backend.
// An idle agent streams directly on its dedicated worker connection; a
// busy agent's requests go through the overflow queue. Exhausted retries
// fail over to the alternate agent's model exactly once.
type Coordinator struct {
	agents map[string]*agent
	pool   *connpool.Manager
	client *ollama.Client
	store  *contextstore.Store
	queue  *overflow.Queue

	batchInterval time.Duration
	contextWindow int

	cron      *cron.Cron
	keepalive keepaliveConfig
	monitor   *Monitor

	logger zerolog.Logger

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates a coordinator. Start must be called before dispatching.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Pool == nil || cfg.Client == nil || cfg.Store == nil {
		return nil, fmt.Errorf("pool, client, and store are required")
	}
	if len(cfg.Agents) != 2 {
		return nil, fmt.Errorf("exactly two agents are required, got %d", len(cfg.Agents))
	}
	if cfg.QueueWorkers <= 0 {
		cfg.QueueWorkers = 2
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 120 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 5
	}

	observability.EnsureRegistered()

	logger := cfg.Logger.With().Str("component", "dispatch").Logger()

	agents := make(map[string]*agent, 2)
	for i, spec := range cfg.Agents {
		if spec.ID != AgentFront && spec.ID != AgentBack {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, spec.ID)
		}
		if _, dup := agents[spec.ID]; dup {
			return nil, fmt.Errorf("duplicate agent %q", spec.ID)
		}
		if spec.Model == "" {
			return nil, fmt.Errorf("agent %q has no model", spec.ID)
		}
		agents[spec.ID] = &agent{
			id:       spec.ID,
			model:    spec.Model,
			identity: spec.Identity,
			workerID: i, // direct dispatch owns the first worker slots
		}
	}

	c := &Coordinator{
		agents:        agents,
		pool:          cfg.Pool,
		client:        cfg.Client,
		store:         cfg.Store,
		batchInterval: cfg.BatchInterval,
		contextWindow: cfg.ContextWindow,
		cron:          cron.New(),
		keepalive: keepaliveConfig{
			enabled:      !cfg.DisableKeepalive,
			interval:     cfg.KeepaliveInterval,
			primaryModel: agents[AgentFront].model,
			// Warmups get their own slot past the agent and queue
			// workers so they never share a live connection
			warmWorker: len(agents) + cfg.QueueWorkers,
		},
		logger: logger,
	}

	queue, err := overflow.New(overflow.Config{
		Capacity:     cfg.QueueCapacity,
		Workers:      cfg.QueueWorkers,
		WorkerOffset: len(agents), // queue workers sit past the agent slots
		Call:         cfg.Client.Call,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create overflow queue: %w", err)
	}
	c.queue = queue

	c.monitor = newMonitor(monitorConfig{
		probe:    cfg.Pool.ProbeLiveness,
		interval: cfg.HeartbeatInterval,
		logger:   cfg.Logger,
	})

	return c, nil
}

// Start launches the overflow workers, the keepalive schedule, and the
// health monitor heartbeat.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started || c.closed {
		return fmt.Errorf("coordinator already started or closed")
	}
	c.started = true

	c.queue.Start()

	if c.keepalive.enabled {
		if _, err := c.cron.AddFunc(cronSpec(c.keepalive.interval), c.keepaliveTick); err != nil {
			return fmt.Errorf("failed to schedule keepalive: %w", err)
		}
	}
	if _, err := c.cron.AddFunc(cronSpec(c.monitor.interval), c.monitor.heartbeat); err != nil {
		return fmt.Errorf("failed to schedule heartbeat: %w", err)
	}
	c.cron.Start()

	c.logger.Info().
		Dur("keepalive", c.keepalive.interval).
		Dur("heartbeat", c.monitor.interval).
		Msg("Coordinator started")
	return nil
}

// Close stops the schedules and drains the overflow queue.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	ctx := c.cron.Stop()
	<-ctx.Done()
	c.queue.Close()
	c.logger.Info().Msg("Coordinator stopped")
}

// Dispatch routes one request. It never blocks on the backend: an idle
// agent streams in the background and a busy agent's request is queued.
// The returned error covers admission only (unknown agent, saturated
// queue); execution outcomes arrive through onDone.
func (c *Coordinator) Dispatch(ctx context.Context, agentID, text string, onBatch BatchFunc, onDone DoneFunc) error {
	ag, ok := c.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, agentID)
	}
	if onBatch == nil {
		onBatch = func(string, int, string) {}
	}
	if onDone == nil {
		onDone = func(Result) {}
	}

	req := c.buildRequest(ag, text)

	if ag.tryAcquire() {
		go c.runDirect(ctx, ag, req, onBatch, onDone)
		return nil
	}

	return c.enqueue(ag, req, onDone)
}

func (c *Coordinator) buildRequest(ag *agent, text string) Request {
	id, err := gonanoid.New()
	if err != nil {
		id = fmt.Sprintf("req-%d", time.Now().UnixNano())
	}

	return Request{
		ID:          id,
		Agent:       ag.id,
		Model:       ag.model,
		Identity:    ag.identity,
		Text:        text,
		Context:     c.store.SharedContext(c.contextWindow),
		SubmittedAt: time.Now(),
	}
}

// runDirect streams the request on the agent's dedicated worker, batching
// tokens per attempt. The agent returns to idle on every path so one
// failed call never starves the agent.
func (c *Coordinator) runDirect(ctx context.Context, ag *agent, req Request, onBatch BatchFunc, onDone DoneFunc) {
	prompt := buildPrompt(req)
	start := time.Now()

	var batchMu sync.Mutex
	currentAttempt := -1
	var batcher *tokenbatch.Batcher

	// A retry restarts the stream, so each attempt gets its own batcher.
	// Batches stay tagged with their attempt; consumers drop the ones a
	// later attempt supersedes.
	onToken := func(attempt int, token string) {
		batchMu.Lock()
		if attempt != currentAttempt {
			if batcher != nil {
				batcher.Close()
			}
			currentAttempt = attempt
			batcher = tokenbatch.New(tokenbatch.Config{
				Agent:    ag.id,
				Interval: c.batchInterval,
				Sink: func(batch string) {
					onBatch(ag.id, attempt, batch)
				},
			})
		}
		b := batcher
		batchMu.Unlock()

		observability.RecordStreamTokens(ag.id, 1)
		b.Add(token)
	}

	done := make(chan struct{})
	var streamText string
	var streamErr error

	c.client.Stream(ctx, ag.workerID, ag.model, prompt,
		onToken,
		func(text string, err error) {
			streamText, streamErr = text, err
			close(done)
		})
	<-done

	batchMu.Lock()
	if batcher != nil {
		batcher.Close()
	}
	batchMu.Unlock()

	elapsed := time.Since(start)
	c.store.RecordCall(ag.id, elapsed, streamErr != nil)
	observability.RecordDispatch(ag.id, elapsed, streamErr == nil)

	res := Result{
		RequestID: req.ID,
		Agent:     ag.id,
		Text:      streamText,
		Elapsed:   elapsed,
		Err:       streamErr,
	}

	if streamErr != nil {
		res = c.failover(ctx, ag, req, res)
	}

	if res.Err == nil {
		c.store.RecordExchange(ag.id, req.Text, res.Text)
	}

	ag.release()
	onDone(res)
}

// failover answers the request once through the alternate agent's model
// after the primary's retries are exhausted.
func (c *Coordinator) failover(ctx context.Context, ag *agent, req Request, res Result) Result {
	other := c.agents[OtherAgent(ag.id)]

	c.logger.Warn().
		Str("agent", ag.id).
		Str("failover_model", other.model).
		Err(res.Err).
		Msg("Retries exhausted, failing over")

	c.store.RecordFailover()
	observability.RecordFailover()

	// The caller still holds this agent's worker slot
	text, err := c.client.Call(ctx, ag.workerID, other.model, buildPrompt(req))
	if err != nil {
		res.Err = fmt.Errorf("failover failed: %w (primary: %v)", err, res.Err)
		return res
	}

	res.Text = text
	res.Err = nil
	res.FailedOver = true
	return res
}

// enqueue defers the request to the overflow queue. A full queue is
// surfaced as ErrQueueSaturated so the caller decides what to drop.
func (c *Coordinator) enqueue(ag *agent, req Request, onDone DoneFunc) error {
	entry := &overflow.Entry{
		ID:     req.ID,
		Agent:  ag.id,
		Model:  ag.model,
		Prompt: buildPrompt(req),
		OnComplete: func(result string, elapsed time.Duration, err error) {
			c.store.RecordCall(ag.id, elapsed, err != nil)
			observability.RecordDispatch(ag.id, elapsed, err == nil)
			if err == nil {
				c.store.RecordExchange(ag.id, req.Text, result)
			}
			onDone(Result{
				RequestID: req.ID,
				Agent:     ag.id,
				Text:      result,
				Elapsed:   elapsed,
				Queued:    true,
				Err:       err,
			})
		},
	}

	if !c.queue.TryEnqueue(entry) {
		return fmt.Errorf("%w: agent %s", ErrQueueSaturated, ag.id)
	}

	c.store.RecordQueued()
	c.logger.Debug().
		Str("agent", ag.id).
		Str("id", req.ID).
		Msg("Agent busy, request queued")
	return nil
}

// Snapshot returns the current telemetry view, including the number of
// requests currently waiting in the overflow queue.
func (c *Coordinator) Snapshot() contextstore.TelemetrySnapshot {
	snap := c.store.Snapshot()
	snap.QueueDepth = c.queue.Size()
	return snap
}

// Status returns the health monitor's current summary.
func (c *Coordinator) Status() StatusInfo {
	return c.monitor.StatusInfo()
}

// OnStatusChange registers a callback fired when backend connectivity
// changes state.
func (c *Coordinator) OnStatusChange(fn func(old, new Status)) {
	c.monitor.onChange(fn)
}

// buildPrompt assembles identity, shared-context snapshot, and user text.
func buildPrompt(req Request) string {
	var b strings.Builder
	if req.Identity != "" {
		b.WriteString(req.Identity)
		b.WriteString("\n\n")
	}
	if req.Context != "" {
		b.WriteString("Recent exchanges:\n")
		b.WriteString(req.Context)
		b.WriteString("\n\n")
	}
	b.WriteString(req.Text)
	return b.String()
}

// cronSpec renders an interval as a cron @every expression.
func cronSpec(interval time.Duration) string {
	return fmt.Sprintf("@every %s", interval)
}
