// Package throttle provides per-operation-type rate limiting and
// concurrency caps for the coordinator's claim loop. Types without a
// configured limit are unconstrained (pool-wide concurrency still
// applies).
package throttle

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config defines limits for one operation type.
type Config struct {
	// Type is the operation type the limits apply to.
	Type string

	// MaxConcurrency caps how many operations of this type may run
	// simultaneously in the local pool. Zero means no cap.
	MaxConcurrency int

	// RateLimit is the maximum sustained claims per second for this
	// type. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// typeState tracks runtime state for a single operation type.
type typeState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager enforces the configured per-type limits.
// It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	types map[string]*typeState
}

// NewManager creates a Manager with the given type configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		types: make(map[string]*typeState, len(configs)),
	}
	for _, cfg := range configs {
		m.types[cfg.Type] = newTypeState(cfg)
	}
	return m
}

func newTypeState(cfg Config) *typeState {
	ts := &typeState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		ts.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return ts
}

// Acquire checks the limits for opType. If the claim may proceed it
// increments the active counter and returns true. The caller MUST call
// Release when execution completes.
func (m *Manager) Acquire(opType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.types[opType]
	if ts == nil {
		return true
	}
	if ts.limiter != nil && !ts.limiter.Allow() {
		return false
	}
	if ts.config.MaxConcurrency > 0 && ts.active >= ts.config.MaxConcurrency {
		return false
	}
	ts.active++
	return true
}

// Release decrements the active count for opType.
func (m *Manager) Release(opType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ts := m.types[opType]; ts != nil && ts.active > 0 {
		ts.active--
	}
}

// SetConfig dynamically updates (or creates) a type configuration.
// The active count of an existing entry is preserved.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.types[cfg.Type]; existing != nil {
		ns := newTypeState(cfg)
		ns.active = existing.active
		m.types[cfg.Type] = ns
		return
	}
	m.types[cfg.Type] = newTypeState(cfg)
}
