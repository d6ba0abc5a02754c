package streaming

import (
	"sync"
	"time"
)

// fixedWindow implements the per-client inbound rate limit (§4.7
// "Per-client rate limit": fixed window, default 60s, max_messages and
// max_bytes_per_window). A literal fixed window (not a token bucket) is
// used here, unlike the collector's per-(agent,type) limiter, because the
// spec's wire contract for this one is a counter that resets and emits a
// client-visible `error` on exceed — there is no adaptive component to
// justify x/time/rate's smoothing here.
type fixedWindow struct {
	mu          sync.Mutex
	window      time.Duration
	maxMessages int
	maxBytes    int
	start       time.Time
	messages    int
	bytes       int
	now         func() time.Time
}

func newFixedWindow(window time.Duration, maxMessages, maxBytes int) *fixedWindow {
	return &fixedWindow{window: window, maxMessages: maxMessages, maxBytes: maxBytes, now: time.Now}
}

// Allow records one inbound message of n bytes and reports whether it is
// within the current window's limits.
func (w *fixedWindow) Allow(n int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	if now.Sub(w.start) >= w.window {
		w.start = now
		w.messages = 0
		w.bytes = 0
	}
	w.messages++
	w.bytes += n
	if w.maxMessages > 0 && w.messages > w.maxMessages {
		return false
	}
	if w.maxBytes > 0 && w.bytes > w.maxBytes {
		return false
	}
	return true
}
