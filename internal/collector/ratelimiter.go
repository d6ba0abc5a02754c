package collector

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/brennhill/tracebackbone/internal/types"
)

// keyLimiter is the per-(agent,type) token-bucket rate limiter (§4.4
// pipeline step 3): fixed window of 1s, eventsPerKey events per key by
// default. golang.org/x/time/rate's continuous token bucket is used in
// place of a literal fixed-window counter — refilling eventsPerKey tokens
// per second with a burst equal to eventsPerKey gives the same steady-state
// admission rate the spec describes, without the thundering-herd reset at
// each window boundary a naive fixed-window counter has.
type keyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perSec   float64
	burst    int
}

// newKeyLimiter builds a limiter keyed by "(agent,type)" admitting up to
// eventsPerKey events per second per key.
func newKeyLimiter(eventsPerKey int) *keyLimiter {
	if eventsPerKey <= 0 {
		eventsPerKey = 100
	}
	return &keyLimiter{
		limiters: make(map[string]*rate.Limiter),
		perSec:   float64(eventsPerKey),
		burst:    eventsPerKey,
	}
}

// Allow reports whether e is within the per-(agent,type) rate limit.
func (k *keyLimiter) Allow(e types.Event) bool {
	key := e.AgentID + "|" + string(e.Type)

	k.mu.Lock()
	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(k.perSec), k.burst)
		k.limiters[key] = l
	}
	k.mu.Unlock()

	return l.Allow()
}

// Reset clears all per-key state, used in tests and on collector restart.
func (k *keyLimiter) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.limiters = make(map[string]*rate.Limiter)
}
