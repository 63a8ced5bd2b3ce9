package status

import (
	"sync"
	"time"
)

// ewmaAlpha is the smoothing factor for per-type duration averages.
const ewmaAlpha = 0.2

// Stats tracks an exponentially weighted moving average of execution
// duration per operation type. The coordinator feeds it on completions;
// the status projection reads it to estimate completion times.
// Safe for concurrent use.
type Stats struct {
	mu  sync.RWMutex
	avg map[string]time.Duration
}

// NewStats creates an empty Stats tracker.
func NewStats() *Stats {
	return &Stats{avg: make(map[string]time.Duration)}
}

// Observe records a completed execution of the given type.
func (s *Stats) Observe(opType string, elapsed time.Duration) {
	if elapsed < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.avg[opType]
	if !ok {
		s.avg[opType] = elapsed
		return
	}
	s.avg[opType] = time.Duration(ewmaAlpha*float64(elapsed) + (1-ewmaAlpha)*float64(prev))
}

// Average returns the moving average for opType, or false if no
// completion of that type has been observed yet.
func (s *Stats) Average(opType string) (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.avg[opType]
	return d, ok
}
