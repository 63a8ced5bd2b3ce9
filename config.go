package lro

import "time"

// Config holds configuration for the Tracker and the components built on it.
type Config struct {
	// Concurrency is the number of claim loops run by the coordinator pool.
	Concurrency int

	// PollInterval is how often an idle claim loop polls for work.
	PollInterval time.Duration

	// ClaimBatchSize is the maximum number of queued operations fetched
	// per poll. Each candidate is still claimed individually via CAS.
	ClaimBatchSize int

	// HeartbeatInterval is how often running operations refresh their lease.
	HeartbeatInterval time.Duration

	// LeaseTimeout is how long a running operation may go without a
	// heartbeat before another worker may reclaim it.
	LeaseTimeout time.Duration

	// SweepInterval is how often the retention sweeper runs.
	SweepInterval time.Duration

	// SweepBatchSize bounds the number of expired records reaped per pass.
	SweepBatchSize int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// DefaultMaxRetries applies to submissions that do not specify a budget.
	DefaultMaxRetries int

	// MaxInputBytes bounds a submission's input payload. Zero disables
	// the check.
	MaxInputBytes int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		PollInterval:      1 * time.Second,
		ClaimBatchSize:    10,
		HeartbeatInterval: 10 * time.Second,
		LeaseTimeout:      30 * time.Second,
		SweepInterval:     1 * time.Minute,
		SweepBatchSize:    100,
		ShutdownTimeout:   30 * time.Second,
		DefaultMaxRetries: 3,
		MaxInputBytes:     1 << 20,
	}
}
