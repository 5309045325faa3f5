package overflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/subzero/swarm/internal/observability"
)

// CallFunc executes one queued request on a dedicated worker connection
// and returns the response text.
type CallFunc func(ctx context.Context, workerID int, model, prompt string) (string, error)

// CompleteFunc receives the outcome of a queued entry.
type CompleteFunc func(result string, elapsed time.Duration, err error)

// Entry is one deferred request waiting for a background worker.
type Entry struct {
	ID         string
	Agent      string
	Model      string
	Prompt     string
	OnComplete CompleteFunc

	enqueuedAt time.Time
}

// Config holds overflow queue configuration
type Config struct {
	Capacity int // queue bound, default 16
	Workers  int // background workers, default 2
	// WorkerOffset shifts worker connection slots past the ones held by
	// direct dispatch, so queued calls never share a connection with them.
	WorkerOffset int
	Call         CallFunc
	Logger       zerolog.Logger
}

// Queue is a bounded FIFO of deferred requests drained by a fixed pool of
// background workers. Enqueue never blocks; a full queue is backpressure,
// reported to the caller instead of absorbed.
type Queue struct {
	capacity     int
	workers      int
	workerOffset int
	call         CallFunc
	logger       zerolog.Logger

	entries chan *Entry

	mu      sync.Mutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates an overflow queue. Workers do not run until Start.
func New(cfg Config) (*Queue, error) {
	if cfg.Call == nil {
		return nil, fmt.Errorf("call function is required")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}

	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		capacity:     cfg.Capacity,
		workers:      cfg.Workers,
		workerOffset: cfg.WorkerOffset,
		call:         cfg.Call,
		logger:       cfg.Logger.With().Str("component", "overflow").Logger(),
		entries:      make(chan *Entry, cfg.Capacity),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start launches the worker pool. Calling it twice is a no-op.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.closed {
		return
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(q.workerOffset + i)
	}

	q.logger.Info().
		Int("workers", q.workers).
		Int("capacity", q.capacity).
		Msg("Overflow workers started")
}

// TryEnqueue offers an entry to the queue without blocking. It returns
// false when the queue is at capacity or closed; the entry is dropped and
// its callback is never invoked.
func (q *Queue) TryEnqueue(entry *Entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	entry.enqueuedAt = time.Now()

	select {
	case q.entries <- entry:
		observability.RecordEnqueue(true, len(q.entries))
		q.logger.Debug().
			Str("id", entry.ID).
			Str("agent", entry.Agent).
			Int("queueSize", len(q.entries)).
			Msg("Entry enqueued")
		return true
	default:
		observability.RecordEnqueue(false, len(q.entries))
		q.logger.Warn().
			Str("id", entry.ID).
			Str("agent", entry.Agent).
			Msg("Queue saturated, entry rejected")
		return false
	}
}

// Size returns the current queue depth.
func (q *Queue) Size() int {
	return len(q.entries)
}

// Close stops accepting entries, drains the ones already queued, and waits
// for the workers to exit.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	started := q.started
	close(q.entries)
	q.mu.Unlock()

	if started {
		q.wg.Wait()
	}
	q.cancel()
}

func (q *Queue) worker(workerID int) {
	defer q.wg.Done()

	logger := q.logger.With().Int("worker", workerID).Logger()

	for entry := range q.entries {
		wait := time.Since(entry.enqueuedAt)
		observability.RecordQueueWait(wait)
		observability.SetQueueSize(len(q.entries))

		logger.Debug().
			Str("id", entry.ID).
			Str("agent", entry.Agent).
			Dur("waited", wait).
			Msg("Entry claimed")

		start := time.Now()
		result, err := q.call(q.ctx, workerID, entry.Model, entry.Prompt)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn().
				Str("id", entry.ID).
				Err(err).
				Msg("Queued call failed")
		}

		if entry.OnComplete != nil {
			entry.OnComplete(result, elapsed, err)
		}
	}
}
