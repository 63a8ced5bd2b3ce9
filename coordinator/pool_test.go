package coordinator_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/lro"
	"github.com/xraph/lro/backoff"
	"github.com/xraph/lro/classify"
	"github.com/xraph/lro/coordinator"
	"github.com/xraph/lro/ext"
	"github.com/xraph/lro/middleware"
	"github.com/xraph/lro/op"
	"github.com/xraph/lro/retention"
	"github.com/xraph/lro/status"
	"github.com/xraph/lro/store/memory"
	"github.com/xraph/lro/unit"
)

func testConfig() lro.Config {
	cfg := lro.DefaultConfig()
	cfg.Concurrency = 2
	cfg.PollInterval = 10 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.LeaseTimeout = 150 * time.Millisecond
	cfg.ClaimBatchSize = 10
	return cfg
}

func setupPool(t *testing.T) (*coordinator.Pool, *memory.Store, *unit.Registry) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := unit.NewRegistry()
	hooks := ext.NewRegistry(logger)

	exec := coordinator.NewExecutor(
		reg, hooks, s,
		classify.Default(),
		backoff.NewConstant(0),
		retention.Fixed(time.Hour),
		status.NewStats(),
		logger,
		middleware.Recover(logger),
	)
	pool := coordinator.NewPool(s, exec, hooks, testConfig(), logger)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})
	return pool, s, reg
}

// waitFor polls until check passes or the deadline elapses.
func waitFor(t *testing.T, d time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPoolStartStop(t *testing.T) {
	t.Parallel()

	pool, _, _ := setupPool(t)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	// Double start is a no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("double start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("double stop: %v", err)
	}
}

// TestPoolRetriesThenCompletes runs the full retry loop: an echo unit
// fails transiently twice, succeeds on the third attempt, and the
// record ends completed with the two retries on the counter.
func TestPoolRetriesThenCompletes(t *testing.T) {
	t.Parallel()

	pool, s, reg := setupPool(t)

	var calls atomic.Int64
	reg.Register("test.echo", func(_ context.Context, input []byte) ([]byte, error) {
		if calls.Add(1) <= 2 {
			return nil, classify.Transient(errors.New("transient hiccup"))
		}
		return input, nil
	})

	o := op.New("test.echo", []byte(`{"message":"hello"}`), 2)
	if err := s.CreateOp(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 3*time.Second, func() bool {
		got, err := s.GetOp(context.Background(), o.ID)
		return err == nil && got.State == op.StateCompleted
	})

	got, err := s.GetOp(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", got.RetryCount)
	}
	if string(got.Output) != `{"message":"hello"}` {
		t.Errorf("output = %s", got.Output)
	}
	if calls.Load() != 3 {
		t.Errorf("unit ran %d times, want 3", calls.Load())
	}
}

// TestPoolCancelledBeforeClaimNeverRuns cancels a queued operation and
// verifies no worker ever executes it.
func TestPoolCancelledBeforeClaimNeverRuns(t *testing.T) {
	t.Parallel()

	pool, s, reg := setupPool(t)

	var calls atomic.Int64
	reg.Register("test.op", func(context.Context, []byte) ([]byte, error) {
		calls.Add(1)
		return nil, nil
	})

	o := op.New("test.op", nil, 0)
	if err := s.CreateOp(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CompareAndSwapOp(context.Background(), o.ID, op.StateQueued, func(c *op.Operation) error {
		return c.Cancel("user:carol", time.Now().UTC(), time.Hour)
	}); err != nil {
		t.Fatal(err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if calls.Load() != 0 {
		t.Errorf("cancelled operation executed %d times, want 0", calls.Load())
	}
	got, _ := s.GetOp(context.Background(), o.ID)
	if got.State != op.StateCancelled {
		t.Errorf("state = %s, want cancelled", got.State)
	}
}

// TestPoolReportsProgress verifies the unit's progress reports land on
// the stored record through the heartbeat loop.
func TestPoolReportsProgress(t *testing.T) {
	t.Parallel()

	pool, s, reg := setupPool(t)

	release := make(chan struct{})
	reg.Register("test.slow", func(ctx context.Context, _ []byte) ([]byte, error) {
		unit.ReportProgress(ctx, 55)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []byte("done"), nil
	})

	o := op.New("test.slow", nil, 0)
	if err := s.CreateOp(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 3*time.Second, func() bool {
		got, err := s.GetOp(context.Background(), o.ID)
		return err == nil && got.State == op.StateRunning && got.Progress == 55
	})

	close(release)
	waitFor(t, 3*time.Second, func() bool {
		got, err := s.GetOp(context.Background(), o.ID)
		return err == nil && got.State == op.StateCompleted
	})

	// Progress is frozen at its last value once terminal.
	got, _ := s.GetOp(context.Background(), o.ID)
	if got.Progress != 55 {
		t.Errorf("terminal progress = %d, want 55", got.Progress)
	}
}

// TestPoolShutdownLeavesInFlightRunning drains the pool while a unit is
// mid-flight. The unit cooperates with cancellation and returns the
// context error; that must not be recorded as a terminal failure. The
// record keeps its lease so another pool reclaims it once the lease
// times out.
func TestPoolShutdownLeavesInFlightRunning(t *testing.T) {
	t.Parallel()

	pool, s, reg := setupPool(t)

	started := make(chan struct{})
	reg.Register("test.block", func(ctx context.Context, _ []byte) ([]byte, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	o := op.New("test.block", nil, 3)
	if err := s.CreateOp(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("unit never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got, err := s.GetOp(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != op.StateRunning {
		t.Errorf("state after shutdown = %s, want running (left for lease reclamation)", got.State)
	}
	if got.Failure != nil {
		t.Errorf("failure = %+v, want none", got.Failure)
	}
	if got.OwnerToken == "" {
		t.Error("drained operation should keep its lease")
	}
}

// TestPoolReapsStaleLease simulates a crashed worker: a running record
// with an old heartbeat and no live executor behind it. The reaper
// returns it to the queue and a healthy worker finishes it.
func TestPoolReapsStaleLease(t *testing.T) {
	t.Parallel()

	pool, s, reg := setupPool(t)

	reg.Register("test.op", func(context.Context, []byte) ([]byte, error) {
		return []byte("recovered"), nil
	})

	o := op.New("test.op", nil, 3)
	if err := s.CreateOp(context.Background(), o); err != nil {
		t.Fatal(err)
	}
	// Fake a claim by a worker that died an hour ago.
	if _, err := s.CompareAndSwapOp(context.Background(), o.ID, op.StateQueued, func(c *op.Operation) error {
		return c.Claim("dead-worker", time.Now().UTC().Add(-time.Hour))
	}); err != nil {
		t.Fatal(err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 3*time.Second, func() bool {
		got, err := s.GetOp(context.Background(), o.ID)
		return err == nil && got.State == op.StateCompleted
	})

	got, _ := s.GetOp(context.Background(), o.ID)
	if got.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1 (reclaim spends budget)", got.RetryCount)
	}
	if string(got.Output) != "recovered" {
		t.Errorf("output = %s", got.Output)
	}
}
