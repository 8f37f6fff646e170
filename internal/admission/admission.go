// Package admission owns the per-account active-connection counters. The
// counter is the only concurrently-mutated shared state in the stream path,
// so it lives behind one small component with an acquire/release API and no
// other way to touch it.
package admission

import (
	"strconv"
	"sync"

	"github.com/xtuner/xtuner/internal/metrics"
	"github.com/xtuner/xtuner/internal/model"
)

// Registry counts active streams per account id.
type Registry struct {
	mu     sync.Mutex
	counts map[int64]int
}

func NewRegistry() *Registry {
	return &Registry{counts: make(map[int64]int)}
}

// Acquire admits one stream for the account, or returns
// model.ErrServiceUnavailable when max sessions are already active.
// The returned release func is idempotent and must be called on every exit
// path — success, upstream failure, or client disconnect.
func (r *Registry) Acquire(accountID int64, max int) (release func(), err error) {
	if max <= 0 {
		max = 1
	}
	label := strconv.FormatInt(accountID, 10)
	r.mu.Lock()
	if r.counts[accountID] >= max {
		r.mu.Unlock()
		metrics.AdmissionRejects.WithLabelValues(label).Inc()
		return nil, model.ErrServiceUnavailable
	}
	r.counts[accountID]++
	n := r.counts[accountID]
	r.mu.Unlock()
	metrics.ActiveStreams.WithLabelValues(label).Set(float64(n))

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.counts[accountID]--
			left := r.counts[accountID]
			if left <= 0 {
				delete(r.counts, accountID)
				left = 0
			}
			r.mu.Unlock()
			metrics.ActiveStreams.WithLabelValues(label).Set(float64(left))
		})
	}, nil
}

// Active returns the current count for an account.
func (r *Registry) Active(accountID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[accountID]
}

// TotalActive returns the count across all accounts; the health endpoint and
// background jobs use it to see whether anyone is watching.
func (r *Registry) TotalActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.counts {
		total += n
	}
	return total
}
