package collector

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics backs Collector.Metrics() (§4.4 "metrics()") and doubles as a
// set of real Prometheus collectors registrable on the process registry
// (supplemented feature, SPEC_FULL.md DOMAIN STACK).
type Metrics struct {
	total      atomic.Int64
	dropped    atomic.Int64
	errors     atomic.Int64

	mu              sync.Mutex
	totalProcNanos  int64
	windowStart     time.Time
	lastEventsPerSec float64

	totalCounter   prometheus.Counter
	droppedCounter prometheus.Counter
	errorCounter   prometheus.Counter
	processingHist prometheus.Histogram
}

// NewMetrics builds a Metrics instance with its own Prometheus collectors.
// Pass the result to Registry.MustRegister (or similar) at wiring time;
// Metrics itself never touches a global registry, following the
// pack's convention of constructor-injected collectors over global state.
func NewMetrics() *Metrics {
	return &Metrics{
		windowStart: time.Now(),
		totalCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traceback_collector_events_total",
			Help: "Total events admitted to the collector pipeline.",
		}),
		droppedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traceback_collector_events_dropped_total",
			Help: "Total events dropped at any pipeline stage.",
		}),
		errorCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "traceback_collector_errors_total",
			Help: "Total downstream (storage/streaming) errors observed.",
		}),
		processingHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "traceback_collector_processing_seconds",
			Help:    "Per-event pipeline processing latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Collectors returns the underlying Prometheus collectors for
// registration with a prometheus.Registerer.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.totalCounter, m.droppedCounter, m.errorCounter, m.processingHist}
}

func (m *Metrics) recordAdmitted(d time.Duration) {
	m.total.Add(1)
	m.totalCounter.Inc()
	m.processingHist.Observe(d.Seconds())

	m.mu.Lock()
	m.totalProcNanos += d.Nanoseconds()
	m.mu.Unlock()
}

func (m *Metrics) recordDropped() {
	m.dropped.Add(1)
	m.droppedCounter.Inc()
}

func (m *Metrics) recordError() {
	m.errors.Add(1)
	m.errorCounter.Inc()
}

// Snapshot is the value type returned by Collector.Metrics().
type Snapshot struct {
	Total             int64
	Dropped           int64
	Errors            int64
	AvgProcessingMs   float64
	EventsPerSec      float64
	BufferUtil        float64
	SamplingRate      float64
	CollectionOverhead float64
}

func (m *Metrics) snapshot(bufferUtil, samplingRate float64) Snapshot {
	total := m.total.Load()
	m.mu.Lock()
	avgMs := 0.0
	if total > 0 {
		avgMs = float64(m.totalProcNanos) / float64(total) / 1e6
	}
	elapsed := time.Since(m.windowStart).Seconds()
	eventsPerSec := 0.0
	if elapsed > 0 {
		eventsPerSec = float64(total) / elapsed
	}
	overhead := avgMs * eventsPerSec / 1000
	m.mu.Unlock()

	return Snapshot{
		Total:              total,
		Dropped:            m.dropped.Load(),
		Errors:             m.errors.Load(),
		AvgProcessingMs:    avgMs,
		EventsPerSec:       eventsPerSec,
		BufferUtil:         bufferUtil,
		SamplingRate:       samplingRate,
		CollectionOverhead: overhead,
	}
}
