// Package metrics provides Prometheus metrics for memsink. Metrics are
// registered with the default registry on package load and served by the
// CLI on /metrics.
//
// # Basic Usage
//
//	timer := metrics.NewTimer("write_batch")
//	outcome, err := writer.Write(ctx, batch)
//	metrics.WriteLatency.WithLabelValues(table, string(outcome)).Observe(timer.Stop().Seconds())
//
//	tracker := metrics.NewThroughputTracker("orders")
//	tracker.Increment(int64(batch.Count()))
//	rate := tracker.GetAndReset()
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for batch metrics.
const (
	OutcomeCommitted = "committed"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

var (
	// BatchesWritten counts write calls by terminal state.
	// Labels: table, outcome (committed/skipped/failed)
	BatchesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memsink_batches_total",
			Help: "Total number of batch write calls by outcome",
		},
		[]string{"table", "outcome"},
	)

	// RecordsLoaded counts records committed to the store.
	RecordsLoaded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memsink_records_loaded_total",
			Help: "Total number of records committed",
		},
		[]string{"table"},
	)

	// BytesStreamed counts bytes passed to the load statement, after compression.
	BytesStreamed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memsink_bytes_streamed_total",
			Help: "Total bytes streamed into load statements",
		},
		[]string{"table", "compression"},
	)

	// MarkerConflicts counts batches found already applied.
	MarkerConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memsink_marker_conflicts_total",
			Help: "Batches skipped because their marker already existed",
		},
		[]string{"table"},
	)

	// WriteLatency tracks the duration of whole write calls in seconds.
	WriteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "memsink_write_duration_seconds",
			Help: "Batch write latency in seconds",
			Buckets: []float64{
				0.005, // marker conflict on a warm session
				0.025,
				0.1,
				0.5,
				1,
				2.5,
				10,
				30, // very large batches
			},
		},
		[]string{"table", "outcome"},
	)

	// BufferHighWater is the largest pipe fill observed in the last write.
	BufferHighWater = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memsink_buffer_high_water_bytes",
			Help: "Peak bytes buffered between row production and the load statement",
		},
		[]string{"table"},
	)

	// WriterBlocks counts how often row production waited on a full pipe.
	WriterBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memsink_buffer_writer_blocks_total",
			Help: "Times row production blocked on a full buffer",
		},
		[]string{"table"},
	)

	// Retries counts batch write retries in the task layer.
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memsink_write_retries_total",
			Help: "Batch write attempts retried after a failure",
		},
		[]string{"topic"},
	)

	// ActiveWrites is the number of write calls in progress.
	ActiveWrites = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memsink_active_writes",
			Help: "Number of batch writes in progress",
		},
	)

	// Throughput tracks records per second per topic.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "memsink_throughput_records_per_second",
			Help: "Current throughput in records per second",
		},
		[]string{"topic"},
	)
)

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer's name.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. It may be called
// more than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks records per second over time windows.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64     // Records processed since last reset
	lastReset time.Time // Time of last reset
	topic     string
}

// NewThroughputTracker creates a new throughput tracker for a topic.
func NewThroughputTracker(topic string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		topic:     topic,
	}
}

// Increment adds n to the record count. Safe for concurrent use.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset calculates the throughput since the last reset, publishes it
// and starts a new window.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.topic).Set(throughput)

	return throughput
}
