package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	dispatchErrors   *prometheus.CounterVec
	failoverTotal    prometheus.Counter

	retryTotal   prometheus.Counter
	streamTokens *prometheus.CounterVec
	batchFlushes *prometheus.CounterVec

	queueSize    prometheus.Gauge
	enqueueTotal *prometheus.CounterVec
	queueWait    prometheus.Histogram

	warmupTotal *prometheus.CounterVec
	probeTotal  *prometheus.CounterVec

	backendUp prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			dispatchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_total",
					Help: "Total dispatched requests by agent and status.",
				},
				[]string{"agent", "status"},
			),
			dispatchDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "dispatch_duration_seconds",
					Help:    "Request duration in seconds by agent.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"agent"},
			),
			dispatchErrors: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dispatch_errors_total",
					Help: "Total request errors by agent.",
				},
				[]string{"agent"},
			),
			failoverTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "failover_total",
					Help: "Total failovers to the alternate agent's model.",
				},
			),
			retryTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "retry_total",
					Help: "Total retried call attempts.",
				},
			),
			streamTokens: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "stream_tokens_total",
					Help: "Total streamed tokens by agent.",
				},
				[]string{"agent"},
			),
			batchFlushes: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "batch_flush_total",
					Help: "Total token batch flushes by agent.",
				},
				[]string{"agent"},
			),
			queueSize: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "overflow_queue_size",
					Help: "Current overflow queue depth.",
				},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "overflow_enqueue_total",
					Help: "Total overflow enqueue attempts by outcome.",
				},
				[]string{"outcome"},
			),
			queueWait: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "overflow_wait_seconds",
					Help:    "Time entries spend queued before a worker claims them.",
					Buckets: prometheus.DefBuckets,
				},
			),
			warmupTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "warmup_total",
					Help: "Total model warmup calls by status.",
				},
				[]string{"status"},
			),
			probeTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "probe_total",
					Help: "Total liveness probes by source (network or cache).",
				},
				[]string{"source"},
			),
			backendUp: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "backend_up",
					Help: "Backend reachability (1 reachable, 0 unreachable).",
				},
			),
		}

		prometheus.MustRegister(
			m.dispatchTotal,
			m.dispatchDuration,
			m.dispatchErrors,
			m.failoverTotal,
			m.retryTotal,
			m.streamTokens,
			m.batchFlushes,
			m.queueSize,
			m.enqueueTotal,
			m.queueWait,
			m.warmupTotal,
			m.probeTotal,
			m.backendUp,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordDispatch(agent string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dispatchTotal.WithLabelValues(agent, status).Inc()
	m.dispatchDuration.WithLabelValues(agent).Observe(duration.Seconds())
	if !success {
		m.dispatchErrors.WithLabelValues(agent).Inc()
	}
}

func RecordFailover() {
	getMetrics().failoverTotal.Inc()
}

func RecordRetry() {
	getMetrics().retryTotal.Inc()
}

func RecordStreamTokens(agent string, count int) {
	getMetrics().streamTokens.WithLabelValues(agent).Add(float64(count))
}

func RecordBatchFlush(agent string) {
	getMetrics().batchFlushes.WithLabelValues(agent).Inc()
}

func SetQueueSize(size int) {
	getMetrics().queueSize.Set(float64(size))
}

func RecordEnqueue(accepted bool, queueSize int) {
	m := getMetrics()
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	m.enqueueTotal.WithLabelValues(outcome).Inc()
	m.queueSize.Set(float64(queueSize))
}

func RecordQueueWait(wait time.Duration) {
	getMetrics().queueWait.Observe(wait.Seconds())
}

func RecordWarmup(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().warmupTotal.WithLabelValues(status).Inc()
}

func RecordProbe(cached bool, up bool) {
	m := getMetrics()
	source := "network"
	if cached {
		source = "cache"
	}
	m.probeTotal.WithLabelValues(source).Inc()
	value := 0.0
	if up {
		value = 1.0
	}
	m.backendUp.Set(value)
}
