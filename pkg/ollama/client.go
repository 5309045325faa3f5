package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/subzero/swarm/internal/observability"
	"github.com/subzero/swarm/pkg/connpool"
)

// ErrRetriesExhausted marks a call that failed every attempt. The wrapped
// error is the last attempt's failure.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Client issues streamed and non-streamed generate requests over pooled
// worker connections, retrying transient failures with exponential backoff.
type Client struct {
	pool        *connpool.Manager
	maxAttempts int
	baseDelay   time.Duration
	timeout     time.Duration
	logger      zerolog.Logger
}

// Config holds streaming client configuration
type Config struct {
	Pool        *connpool.Manager
	MaxAttempts int           // attempts per call, default 3
	BaseDelay   time.Duration // first backoff delay, doubles per attempt
	Timeout     time.Duration // per-attempt timeout
	Logger      zerolog.Logger
}

// NewClient creates a new streaming client
func NewClient(cfg Config) (*Client, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}

	return &Client{
		pool:        cfg.Pool,
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		timeout:     cfg.Timeout,
		logger:      cfg.Logger.With().Str("component", "ollama").Logger(),
	}, nil
}

// Call issues a non-streaming generate request. Transport failures,
// timeouts, and non-2xx responses are retried with exponential backoff; on
// exhaustion the last failure is returned wrapped in ErrRetriesExhausted so
// callers can degrade instead of crashing.
func (c *Client) Call(ctx context.Context, workerID int, model, prompt string) (string, error) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return "", err
			}
		}

		text, err := c.callOnce(ctx, workerID, model, prompt)
		if err == nil {
			return text, nil
		}

		lastErr = err
		c.pool.Reset(workerID)
		if attempt < c.maxAttempts-1 {
			observability.RecordRetry()
		}
		c.logger.Warn().
			Int("attempt", attempt+1).
			Int("worker", workerID).
			Err(err).
			Msg("Call attempt failed")
	}

	return "", fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, c.maxAttempts, lastErr)
}

func (c *Client) callOnce(ctx context.Context, workerID int, model, prompt string) (string, error) {
	resp, err := c.post(ctx, workerID, generateRequest{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chunk generateChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return strings.TrimSpace(chunk.Response), nil
}

// Stream issues a streaming generate request. Each decoded token is
// forwarded to onToken immediately; batching is the caller's concern. A
// mid-stream failure restarts the whole attempt (partial output already
// delivered cannot be un-sent), and only the final attempt's failure
// reaches onDone.
func (c *Client) Stream(ctx context.Context, workerID int, model, prompt string, onToken TokenFunc, onDone DoneFunc) {
	var lastErr error

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				onDone("", err)
				return
			}
		}

		text, err := c.streamOnce(ctx, workerID, attempt, model, prompt, onToken)
		if err == nil {
			onDone(text, nil)
			return
		}

		lastErr = err
		c.pool.Reset(workerID)
		if attempt < c.maxAttempts-1 {
			observability.RecordRetry()
		}
		c.logger.Warn().
			Int("attempt", attempt+1).
			Int("worker", workerID).
			Err(err).
			Msg("Stream attempt failed")
	}

	onDone("", fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, c.maxAttempts, lastErr))
}

func (c *Client) streamOnce(ctx context.Context, workerID, attempt int, model, prompt string, onToken TokenFunc) (string, error) {
	resp, err := c.post(ctx, workerID, generateRequest{Model: model, Prompt: prompt, Stream: true})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("failed to decode stream fragment: %w", err)
		}

		if chunk.Response != "" {
			full.WriteString(chunk.Response)
			onToken(attempt, chunk.Response)
		}
		if chunk.Done {
			return strings.TrimSpace(full.String()), nil
		}
	}

	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read failed: %w", err)
	}

	return "", fmt.Errorf("stream ended without done flag")
}

// post issues one generate request on the worker's pooled connection with
// the per-attempt timeout applied.
func (c *Client) post(ctx context.Context, workerID int, body generateRequest) (*http.Response, error) {
	conn, err := c.pool.ForWorker(workerID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.pool.Host()+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := conn.Client().Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	// Cancel fires when the body is closed or the deadline elapses.
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// backoff sleeps for the attempt's delay, doubling per attempt.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	delay := c.baseDelay << (attempt - 1)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// Backoff exposes the delay schedule for a given retry (1-based), mostly
// for callers sizing their own timeouts around the retry budget.
func (c *Client) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return c.baseDelay << (attempt - 1)
}

// MaxAttempts returns the configured attempt budget.
func (c *Client) MaxAttempts() int {
	return c.maxAttempts
}
