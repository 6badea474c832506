package workers

import (
	"sync"
	"time"
)

const defaultHealthTTL = 30 * time.Minute

type healthResult struct {
	ok bool
	at time.Time
}

// HealthWindow tracks the outcome of the last N media operations. Results
// older than the TTL no longer count, so a window full of failures drains
// while media processing is being skipped.
type HealthWindow struct {
	mu      sync.Mutex
	results []healthResult
	next    int
	filled  bool
	ttl     time.Duration
	now     func() time.Time
}

func NewHealthWindow(size int) *HealthWindow {
	if size < 1 {
		size = 50
	}
	return &HealthWindow{
		results: make([]healthResult, size),
		ttl:     defaultHealthTTL,
		now:     time.Now,
	}
}

// SetTTL sets how long a result counts. Zero or less keeps results until
// they are pushed out of the window.
func (h *HealthWindow) SetTTL(ttl time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ttl = ttl
}

func (h *HealthWindow) Record(ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results[h.next] = healthResult{ok: ok, at: h.now()}
	h.next++
	if h.next == len(h.results) {
		h.next = 0
		h.filled = true
	}
}

// FailureRate is the percentage of failures among unexpired results, 0 when
// there are none.
func (h *HealthWindow) FailureRate() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := h.next
	if h.filled {
		n = len(h.results)
	}

	var cutoff time.Time
	if h.ttl > 0 {
		cutoff = h.now().Add(-h.ttl)
	}

	counted, failed := 0, 0
	for i := 0; i < n; i++ {
		r := h.results[i]
		if !cutoff.IsZero() && r.at.Before(cutoff) {
			continue
		}
		counted++
		if !r.ok {
			failed++
		}
	}
	if counted == 0 {
		return 0
	}
	return float64(failed) * 100 / float64(counted)
}
