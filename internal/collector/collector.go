// Package collector implements the Collector (C4): the single admission
// pipeline every event traverses before it reaches durable storage and
// live subscribers (§4.4). Grounded on the teacher's circuit-breaker/FSM
// style for the rate limiter and its panic-isolated background-task
// pattern (internal/util.SafeGo) for the flush timer.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/brennhill/tracebackbone/internal/errs"
	"github.com/brennhill/tracebackbone/internal/filter"
	"github.com/brennhill/tracebackbone/internal/redaction"
	"github.com/brennhill/tracebackbone/internal/types"
	"github.com/brennhill/tracebackbone/internal/util"
)

// BatchStore is the persistence dependency the collector flushes into
// (satisfied by *store.Store; kept as an interface so the collector never
// imports the store package directly and can be tested with a fake).
type BatchStore interface {
	StoreBatch(ctx context.Context, events []types.Event) error
}

// Options configures a new Collector (§6 "Configuration" keys mapped onto
// the collector's own knobs).
type Options struct {
	BufferSize          int
	BatchSize           int
	FlushInterval       time.Duration
	SamplingRate        float64
	EventsPerKeyPerSec  int
	MaxEventsPerAgent   int
	SanitizeMaxBytes    int
	Store               BatchStore
	// OnFlush is called with every flushed batch in addition to the store
	// write — the streaming server (C7) subscribes here to tee live
	// batches without the collector importing the streaming package.
	OnFlush func([]types.Event)
	Logger  *zap.Logger
}

// Collector is the admission pipeline (§4.4). Safe for concurrent use.
type Collector struct {
	opts Options
	log  *zap.Logger

	chainMu sync.RWMutex
	chain   filter.Chain

	sampler    *filter.Sampler
	limiter    *keyLimiter
	sanitizer  *redaction.Sanitizer
	buffer     *batchBuffer
	aggregates *aggregateTable
	metrics    *Metrics

	flushMu    sync.Mutex
	lastFlush  time.Time

	startedMu sync.Mutex
	started   map[string]types.Event // trace id -> opening event, for start_trace/complete_trace

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Collector and starts its background flush-interval ticker.
func New(opts Options) *Collector {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	if opts.SamplingRate <= 0 {
		opts.SamplingRate = 1.0
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		opts:       opts,
		log:        log,
		sampler:    filter.NewSampler(opts.SamplingRate),
		limiter:    newKeyLimiter(opts.EventsPerKeyPerSec),
		sanitizer:  redaction.New(opts.SanitizeMaxBytes),
		buffer:     newBatchBuffer(opts.BufferSize),
		aggregates: newAggregateTable(opts.MaxEventsPerAgent),
		metrics:    NewMetrics(),
		started:    make(map[string]types.Event),
		ctx:        ctx,
		cancel:     cancel,
		lastFlush:  time.Now(),
	}
	c.wg.Add(1)
	util.SafeGo(log, "collector-flush-timer", c.flushTimerLoop)
	return c
}

func (c *Collector) flushTimerLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.flushMu.Lock()
			due := time.Since(c.lastFlush) >= c.opts.FlushInterval
			c.flushMu.Unlock()
			if due && c.buffer.Len() > 0 {
				c.Flush(context.Background())
			}
		}
	}
}

// Collect runs a draft through the full admission pipeline (§4.4
// "collect", strict pipeline ordering).
func (c *Collector) Collect(draft types.Draft) error {
	start := time.Now()

	if !draft.Valid() {
		c.metrics.recordDropped()
		return errs.New(errs.InvalidEvent, "draft missing type/agent_id/session_id")
	}

	e := fillDefaults(draft)

	// Step 2: sampler.
	if !c.sampler.Admit(e) {
		c.metrics.recordDropped()
		return errs.New(errs.InvalidEvent, "sampled out")
	}

	// Step 3: per-(agent,type) token-bucket rate limit.
	if !c.limiter.Allow(e) {
		c.metrics.recordDropped()
		return errs.New(errs.RateLimited, "rate limit exceeded for agent=%s type=%s", e.AgentID, e.Type)
	}

	// Step 4: global and user filters.
	c.chainMu.RLock()
	chain := c.chain
	c.chainMu.RUnlock()
	if !chain.ShouldAccept(e) {
		c.metrics.recordDropped()
		return errs.New(errs.InvalidEvent, "rejected by filter chain")
	}

	// Step 5: sanitize.
	c.sanitizer.SanitizeEvent(&e)

	// Step 6 + 7: backpressure gate, append, aggregate update.
	admitted, droppedID := c.buffer.Append(e)
	if !admitted {
		c.metrics.recordDropped()
		return errs.New(errs.Backpressure, "buffer full, dropped incoming event")
	}
	if droppedID != "" {
		c.metrics.recordDropped()
	}
	c.aggregates.Apply(e)

	c.metrics.recordAdmitted(time.Since(start))
	c.sampler.Observe(time.Since(start))

	// Step 8: flush on threshold.
	if c.buffer.ShouldFlush(c.opts.BatchSize) {
		c.Flush(context.Background())
	}
	return nil
}

// fillDefaults assigns id/timestamp/correlation id when absent (§4.4
// "collect" step 1).
func fillDefaults(d types.Draft) types.Event {
	e := types.Event{
		ID:            d.ID,
		Timestamp:     d.Timestamp,
		SessionID:     d.SessionID,
		AgentID:       d.AgentID,
		ParentEventID: d.ParentEventID,
		CorrelationID: d.CorrelationID,
		Type:          d.Type,
		Phase:         d.Phase,
		Payload:       d.Payload,
		Metadata:      d.Metadata,
		Performance:   d.Performance,
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	if e.CorrelationID == "" {
		e.CorrelationID = e.ID
	}
	if e.Metadata.Severity == "" {
		e.Metadata.Severity = types.SeverityLow
	}
	return e
}

// Flush drains the pending batch to storage and to the streaming tee
// (§4.4 "flush()"). Storage errors increment errorCount and re-queue the
// batch if the buffer has headroom; otherwise the batch is dropped with a
// metric increment (§4.2 "Failure semantics").
func (c *Collector) Flush(ctx context.Context) {
	c.flushMu.Lock()
	c.lastFlush = time.Now()
	c.flushMu.Unlock()

	batch := c.buffer.Drain()
	if len(batch) == 0 {
		return
	}

	if c.opts.Store != nil {
		if err := c.opts.Store.StoreBatch(ctx, batch); err != nil {
			c.metrics.recordError()
			c.log.Error("collection-error: storage batch failed", zap.Error(err), zap.Int("batch_size", len(batch)))
			if c.buffer.Len()+len(batch) <= c.opts.BufferSize {
				for _, e := range batch {
					c.buffer.Append(e)
				}
			} else {
				for range batch {
					c.metrics.recordDropped()
				}
			}
			return
		}
	}

	if c.opts.OnFlush != nil {
		c.opts.OnFlush(batch)
	}
}

// AddFilter appends a user filter to the chain (§4.4 "add_filter").
func (c *Collector) AddFilter(f filter.Filter) {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()
	c.chain.User = append(c.chain.User, f)
}

// AddGlobalFilter appends a global filter, evaluated before user filters.
func (c *Collector) AddGlobalFilter(f filter.Filter) {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()
	c.chain.Global = append(c.chain.Global, f)
}

// ClearFilters removes every configured filter (§4.4 "clear_filters").
func (c *Collector) ClearFilters() {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()
	c.chain = filter.Chain{}
}

// Metrics reports the collector's current counters (§4.4 "metrics()").
func (c *Collector) Metrics() Snapshot {
	return c.metrics.snapshot(c.buffer.Utilization(), c.sampler.Rate())
}

// PrometheusCollectors exposes the collector's underlying Prometheus
// collectors for registration with a prometheus.Registerer at process
// wiring time (supplemented feature, SPEC_FULL.md DOMAIN STACK).
func (c *Collector) PrometheusCollectors() []prometheus.Collector {
	return c.metrics.Collectors()
}

// AgentAggregate returns the in-memory aggregate for (session, agent).
func (c *Collector) AgentAggregate(sessionID, agentID string) (types.AgentAggregate, bool) {
	return c.aggregates.Get(sessionID, agentID)
}

// Shutdown stops the flush timer, flushes any pending batch, and waits
// for the background loop to exit (§5 "Cancellation": flush pending
// batch; §8 invariant 10: pending batch size is zero after shutdown).
func (c *Collector) Shutdown(ctx context.Context) {
	c.cancel()
	c.wg.Wait()
	c.Flush(ctx)
}
