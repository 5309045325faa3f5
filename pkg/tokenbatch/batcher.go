package tokenbatch

import (
	"strings"
	"sync"
	"time"

	"github.com/subzero/swarm/internal/observability"
)

// SinkFunc receives each flushed batch as one concatenated string.
type SinkFunc func(batch string)

// Config holds token batcher configuration
type Config struct {
	Agent    string        // label for flush metrics
	Interval time.Duration // flush delay after the first buffered token, default 25ms
	Sink     SinkFunc
}

// Batcher coalesces streamed tokens into interval-sized batches. Tokens
// are never dropped or reordered; the sink sees them in arrival order,
// at most one flush per interval.
type Batcher struct {
	agent    string
	interval time.Duration
	sink     SinkFunc

	mu      sync.Mutex
	buf     strings.Builder
	timer   *time.Timer
	pending bool
	closed  bool

	// flushMu serializes sink deliveries so a slow sink cannot be
	// overtaken by a later flush
	flushMu sync.Mutex
}

// New creates a batcher. A nil sink discards flushed batches.
func New(cfg Config) *Batcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 25 * time.Millisecond
	}
	if cfg.Sink == nil {
		cfg.Sink = func(string) {}
	}

	observability.EnsureRegistered()

	return &Batcher{
		agent:    cfg.Agent,
		interval: cfg.Interval,
		sink:     cfg.Sink,
	}
}

// Add appends a token to the buffer and arms the flush timer if no flush
// is already pending. Tokens added after Close are dropped.
func (b *Batcher) Add(token string) {
	if token == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.buf.WriteString(token)

	if !b.pending {
		b.pending = true
		b.timer = time.AfterFunc(b.interval, b.flush)
	}
}

// flush hands the buffered tokens to the sink and clears the buffer. The
// next Add arms a fresh timer. flushMu is taken before the buffer is
// extracted, so whichever flush extracts first also delivers first.
func (b *Batcher) flush() {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := b.buf.String()
	b.buf.Reset()
	b.pending = false
	b.mu.Unlock()

	if batch == "" {
		return
	}

	observability.RecordBatchFlush(b.agent)
	b.sink(batch)
}

// Close cancels any pending timer and flushes the remainder synchronously.
// The batcher accepts no tokens afterwards.
func (b *Batcher) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()

	b.flush()
}
