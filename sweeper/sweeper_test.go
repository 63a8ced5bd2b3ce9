package sweeper_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/lro"
	"github.com/xraph/lro/ext"
	"github.com/xraph/lro/op"
	"github.com/xraph/lro/store/memory"
	"github.com/xraph/lro/sweeper"
)

func testConfig() lro.Config {
	cfg := lro.DefaultConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	cfg.SweepBatchSize = 100
	return cfg
}

func newSweeper(t *testing.T, s *memory.Store) *sweeper.Sweeper {
	t.Helper()
	return sweeper.New(s, ext.NewRegistry(slog.Default()), testConfig(), slog.Default())
}

// completeWithRetention drives an operation to completed with the given
// retention window.
func completeWithRetention(t *testing.T, s *memory.Store, key string, retention time.Duration) *op.Operation {
	t.Helper()
	ctx := context.Background()

	o := op.New("test.op", nil, 0)
	o.IdempotencyKey = key
	if key != "" {
		reserved, created, err := s.ReserveOrGet(ctx, key, func() (*op.Operation, error) { return o, nil })
		if err != nil || !created {
			t.Fatalf("reserve: created=%v err=%v", created, err)
		}
		o = reserved
	} else if err := s.CreateOp(ctx, o); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	updated, err := s.CompareAndSwapOp(ctx, o.ID, op.StateQueued, func(c *op.Operation) error {
		if err := c.Claim("tok", now); err != nil {
			return err
		}
		return c.Complete("tok", []byte("out"), now, retention)
	})
	if err != nil {
		t.Fatal(err)
	}
	return updated
}

func TestSweepReapsExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	sw := newSweeper(t, s)

	expired := completeWithRetention(t, s, "", -time.Second)
	fresh := completeWithRetention(t, s, "", time.Hour)

	sw.Sweep(ctx)

	if _, err := s.GetOp(ctx, expired.ID); !errors.Is(err, lro.ErrOpGone) {
		t.Errorf("expired op err = %v, want ErrOpGone", err)
	}
	if _, err := s.GetOp(ctx, fresh.ID); err != nil {
		t.Errorf("fresh op must survive the sweep: %v", err)
	}
}

func TestSweepIgnoresNonTerminal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	sw := newSweeper(t, s)

	queued := op.New("test.op", nil, 0)
	if err := s.CreateOp(ctx, queued); err != nil {
		t.Fatal(err)
	}

	sw.Sweep(ctx)

	if _, err := s.GetOp(ctx, queued.ID); err != nil {
		t.Errorf("queued op must survive the sweep: %v", err)
	}
}

// TestSweepFreesIdempotencyKey covers the short-retention scenario: once
// the record is reaped, polling answers "gone" and the idempotency key
// creates a fresh operation.
func TestSweepFreesIdempotencyKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	sw := newSweeper(t, s)

	first := completeWithRetention(t, s, "nightly-export", time.Second)

	// Wait out the 1s retention window, then sweep.
	time.Sleep(1100 * time.Millisecond)
	sw.Sweep(ctx)

	if _, err := s.GetOp(ctx, first.ID); !errors.Is(err, lro.ErrOpGone) {
		t.Fatalf("err = %v, want ErrOpGone", err)
	}

	fresh, created, err := s.ReserveOrGet(ctx, "nightly-export", func() (*op.Operation, error) {
		o := op.New("test.op", nil, 0)
		o.IdempotencyKey = "nightly-export"
		return o, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("key should be free after its operation was reaped")
	}
	if fresh.ID == first.ID {
		t.Error("resubmission after reap must create a new operation")
	}
}

func TestSweeperLoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	sw := newSweeper(t, s)

	expired := completeWithRetention(t, s, "", -time.Second)

	if err := sw.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sw.Stop(stopCtx)
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.GetOp(ctx, expired.ID); errors.Is(err, lro.ErrOpGone) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("sweeper loop never reaped the expired operation")
}
