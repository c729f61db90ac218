package core

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder receives sync-engine observations. It backs the
// user-facing sync-status indicator: operation outcomes, the pending queue
// depth, and dropped replay conflicts.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	SetQueueDepth(depth int)
	IncReplayConflict(collection Collection)
}

// noopMetrics discards all observations. Default when none is injected.
type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}
func (noopMetrics) SetQueueDepth(int)                                    {}
func (noopMetrics) IncReplayConflict(Collection)                         {}

var expvarSeq uint64

// ExpvarMetricsRecorder publishes aggregate timing and result counters via
// expvar, for deployments that prefer process-local metrics without external
// dependencies. Totals are milliseconds per operation plus success/error
// counters, queue depth, and conflict counts per collection.
type ExpvarMetricsRecorder struct {
	name       string
	mu         sync.Mutex
	durations  map[string]float64
	results    map[string]map[string]int64
	queueDepth int
	conflicts  map[string]int64
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	QueueDepth  int                         `json:"pending_queue_depth"`
	Conflicts   map[string]int64            `json:"replay_conflicts_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder and publishes
// it under the supplied name. When name is empty, a unique identifier is
// generated.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("sync_engine_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		conflicts: make(map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	results := make(map[string]map[string]int64, len(r.results))
	for op, statusCounts := range r.results {
		cpy := make(map[string]int64, len(statusCounts))
		for status, count := range statusCounts {
			cpy[status] = count
		}
		results[op] = cpy
	}
	conflicts := make(map[string]int64, len(r.conflicts))
	for coll, count := range r.conflicts {
		conflicts[coll] = count
	}
	return ExpvarMetricsSnapshot{
		DurationsMS: durations,
		Results:     results,
		QueueDepth:  r.queueDepth,
		Conflicts:   conflicts,
		RecordedAt:  time.Now().UTC(),
	}
}

// Observe records a sync operation outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	status := "error"
	if success {
		status = "success"
	}
	r.mu.Lock()
	r.durations[operation] += ms
	if _, ok := r.results[operation]; !ok {
		r.results[operation] = make(map[string]int64, 2)
	}
	r.results[operation][status]++
	r.mu.Unlock()
}

// SetQueueDepth records the current pending queue depth.
func (r *ExpvarMetricsRecorder) SetQueueDepth(depth int) {
	r.mu.Lock()
	r.queueDepth = depth
	r.mu.Unlock()
}

// IncReplayConflict counts a dropped replay entry for the collection.
func (r *ExpvarMetricsRecorder) IncReplayConflict(collection Collection) {
	r.mu.Lock()
	r.conflicts[string(collection)]++
	r.mu.Unlock()
}

// PrometheusMetricsRecorder exports the same observations through a
// prometheus registry, for deployments scraped by an external collector.
type PrometheusMetricsRecorder struct {
	durations *prometheus.HistogramVec
	results   *prometheus.CounterVec
	depth     prometheus.Gauge
	conflicts *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder constructs a recorder and registers its
// collectors with reg.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	r := &PrometheusMetricsRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "auditcore_sync_operation_duration_seconds",
			Help:    "Duration of sync engine operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditcore_sync_operations_total",
			Help: "Sync engine operation outcomes.",
		}, []string{"operation", "status"}),
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "auditcore_pending_queue_depth",
			Help: "Number of pending sync operations awaiting replay.",
		}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auditcore_replay_conflicts_total",
			Help: "Queued operations dropped because their target was superseded remotely.",
		}, []string{"collection"}),
	}
	for _, c := range []prometheus.Collector{r.durations, r.results, r.depth, r.conflicts} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return r, nil
}

// Observe records a sync operation outcome.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
	r.results.WithLabelValues(operation, status).Inc()
}

// SetQueueDepth records the current pending queue depth.
func (r *PrometheusMetricsRecorder) SetQueueDepth(depth int) {
	r.depth.Set(float64(depth))
}

// IncReplayConflict counts a dropped replay entry for the collection.
func (r *PrometheusMetricsRecorder) IncReplayConflict(collection Collection) {
	r.conflicts.WithLabelValues(string(collection)).Inc()
}
