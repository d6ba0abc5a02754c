package filter

import (
	"math"
	"sync"
	"time"

	"github.com/brennhill/tracebackbone/internal/types"
)

const (
	minRate = 0.1
	maxRate = 1.0

	adaptiveWindow    = 5 * time.Second
	overheadHighMark  = 0.05
	overheadLowMark   = 0.025
	rateDecayFactor   = 0.8
	rateGrowthFactor  = 1.1
)

// Sampler implements deterministic counter-based sampling (§4.3): a
// per-collector counter increments on each candidate event; an event is
// admitted when the counter crosses ceil(1/rate). Severity-critical
// events bypass sampling entirely (§8 invariant 8). Counter-based
// sampling is deliberate, not random, so test runs are reproducible
// (§9 "Deterministic sampling").
type Sampler struct {
	mu      sync.Mutex
	rate    float64
	counter int64

	windowStart      time.Time
	windowEvents     int64
	windowTotalNanos int64
	now              func() time.Time
}

// NewSampler builds a sampler starting at the given base rate (0, 1].
func NewSampler(baseRate float64) *Sampler {
	if baseRate <= 0 || baseRate > maxRate {
		baseRate = maxRate
	}
	return &Sampler{rate: baseRate, now: time.Now, windowStart: time.Now()}
}

// Admit reports whether e should proceed past the sampler. Critical
// events are always admitted and do not advance the counter, matching
// "bypass sampling entirely" (§8 invariant 8).
func (s *Sampler) Admit(e types.Event) bool {
	if e.Metadata.Severity == types.SeverityCritical {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := int64(math.Ceil(1.0 / s.rate))
	s.counter++
	if s.counter >= threshold {
		s.counter = 0
		return true
	}
	return false
}

// Observe folds one event's end-to-end pipeline processing latency into
// the current adaptive-control window, rolling the window and adjusting
// rate when adaptiveWindow has elapsed (§4.3 "Adaptive control"). The
// collector calls this once per event after running the full pipeline.
func (s *Sampler) Observe(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.windowEvents++
	s.windowTotalNanos += d.Nanoseconds()

	elapsed := s.now().Sub(s.windowStart)
	if elapsed < adaptiveWindow {
		return
	}

	eventsPerSecond := float64(s.windowEvents) / elapsed.Seconds()
	avgMs := 0.0
	if s.windowEvents > 0 {
		avgMs = float64(s.windowTotalNanos) / float64(s.windowEvents) / 1e6
	}
	overhead := avgMs * eventsPerSecond / 1000

	switch {
	case overhead > overheadHighMark:
		s.rate = math.Max(minRate, s.rate*rateDecayFactor)
	case overhead < overheadLowMark:
		s.rate = math.Min(maxRate, s.rate*rateGrowthFactor)
	}

	s.windowStart = s.now()
	s.windowEvents = 0
	s.windowTotalNanos = 0
}

// Rate returns the current sampling rate, for metrics() (§4.4).
func (s *Sampler) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}
