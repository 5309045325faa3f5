package dispatch

import (
	"errors"
	"sync/atomic"
	"time"
)

// Agent identifiers. Front answers user requests, back reviews them.
const (
	AgentFront = "front"
	AgentBack  = "back"
)

// ErrQueueSaturated reports that an agent was busy and the overflow queue
// was full. Backpressure, not a processing failure; the request was never
// accepted.
var ErrQueueSaturated = errors.New("overflow queue saturated")

// ErrUnknownAgent reports a dispatch against an agent id that is not
// registered with the coordinator.
var ErrUnknownAgent = errors.New("unknown agent")

// AgentSpec binds an agent id to its model and identity prompt.
type AgentSpec struct {
	ID       string
	Model    string
	Identity string
}

// agent is the coordinator's runtime state for one logical agent. The
// busy flag is an explicit atomic so concurrent dispatches can race on
// acquisition without a lock.
type agent struct {
	id       string
	model    string
	identity string
	workerID int
	busy     atomic.Bool
}

// tryAcquire flips the agent idle -> busy. False means already busy.
func (a *agent) tryAcquire() bool {
	return a.busy.CompareAndSwap(false, true)
}

func (a *agent) release() {
	a.busy.Store(false)
}

// Request is the immutable value consumed by one execution. Context holds
// the shared-context snapshot taken at submission time.
type Request struct {
	ID          string
	Agent       string
	Model       string
	Identity    string
	Text        string
	Context     string
	SubmittedAt time.Time
}

// Result is the terminal outcome of a dispatch, delivered to the caller's
// done callback.
type Result struct {
	RequestID  string
	Agent      string
	Text       string
	Elapsed    time.Duration
	Queued     bool // drained by an overflow worker instead of a direct stream
	FailedOver bool // answered by the alternate agent's model
	Err        error
}

// BatchFunc receives interval-coalesced token batches from a direct
// dispatch. The attempt tag increments when a mid-stream retry restarts
// the response, so consumers can discard a superseded attempt's batches.
type BatchFunc func(agent string, attempt int, batch string)

// DoneFunc receives the dispatch result exactly once.
type DoneFunc func(res Result)

// OtherAgent returns the failover counterpart for an agent id.
func OtherAgent(id string) string {
	if id == AgentFront {
		return AgentBack
	}
	return AgentFront
}
