package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/lro"
	"github.com/xraph/lro/id"
	"github.com/xraph/lro/op"
	"github.com/xraph/lro/store/memory"
)

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	o := op.New("test.op", []byte(`{"n":1}`), 3)

	if err := s.CreateOp(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateOp(ctx, o); !errors.Is(err, lro.ErrOpAlreadyExists) {
		t.Errorf("duplicate create err = %v, want ErrOpAlreadyExists", err)
	}

	got, err := s.GetOp(ctx, o.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Type != "test.op" || got.State != op.StateQueued {
		t.Errorf("got %s/%s, want test.op/queued", got.Type, got.State)
	}

	// Returned record is a copy; mutating it must not touch the store.
	got.State = op.StateFailed
	again, _ := s.GetOp(ctx, o.ID)
	if again.State != op.StateQueued {
		t.Error("store record mutated through a returned copy")
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	s := memory.New()
	if _, err := s.GetOp(context.Background(), id.NewOpID()); !errors.Is(err, lro.ErrOpNotFound) {
		t.Errorf("err = %v, want ErrOpNotFound", err)
	}
}

func TestCompareAndSwap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	o := op.New("test.op", nil, 3)
	if err := s.CreateOp(ctx, o); err != nil {
		t.Fatal(err)
	}

	updated, err := s.CompareAndSwapOp(ctx, o.ID, op.StateQueued, func(c *op.Operation) error {
		return c.Claim("tok", time.Now().UTC())
	})
	if err != nil {
		t.Fatalf("cas: %v", err)
	}
	if updated.State != op.StateRunning {
		t.Errorf("state = %s, want running", updated.State)
	}
	if updated.Version != o.Version+1 {
		t.Errorf("version = %d, want %d", updated.Version, o.Version+1)
	}

	// Wrong expected state loses.
	_, err = s.CompareAndSwapOp(ctx, o.ID, op.StateQueued, func(c *op.Operation) error {
		return c.Claim("tok2", time.Now().UTC())
	})
	if !errors.Is(err, lro.ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}

	// Mutator error aborts the write.
	_, err = s.CompareAndSwapOp(ctx, o.ID, op.StateRunning, func(c *op.Operation) error {
		return errors.New("nope")
	})
	if err == nil {
		t.Fatal("mutator error should surface")
	}
	cur, _ := s.GetOp(ctx, o.ID)
	if cur.Version != updated.Version {
		t.Error("aborted mutation must not bump version")
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	o := op.New("test.op", nil, 3)
	if err := s.CreateOp(ctx, o); err != nil {
		t.Fatal(err)
	}

	const claimers = 16
	var (
		wg   sync.WaitGroup
		wins int64
		mu   sync.Mutex
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.CompareAndSwapOp(ctx, o.ID, op.StateQueued, func(c *op.Operation) error {
				return c.Claim("tok", time.Now().UTC())
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			} else if !errors.Is(err, lro.ErrConflict) {
				t.Errorf("claimer %d: unexpected err %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
}

func TestListQueuedOps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	now := time.Now().UTC()

	first := op.New("test.op", nil, 0)
	first.SubmittedAt = now.Add(-2 * time.Minute)
	second := op.New("test.op", nil, 0)
	second.SubmittedAt = now.Add(-1 * time.Minute)
	deferred := op.New("test.op", nil, 0)
	deferred.VisibleAt = now.Add(time.Hour)

	for _, o := range []*op.Operation{second, deferred, first} {
		if err := s.CreateOp(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.ListQueuedOps(ctx, now, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (deferred op not yet visible)", len(got))
	}
	if got[0].ID != first.ID || got[1].ID != second.ID {
		t.Error("queued ops not ordered by submission time")
	}
}

func TestListStaleOps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	now := time.Now().UTC()

	fresh := runningOp(t, ctx, s, now.Add(-time.Second))
	stale := runningOp(t, ctx, s, now.Add(-time.Hour))

	got, err := s.ListStaleOps(ctx, now.Add(-30*time.Second), 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Errorf("stale list = %v, want only the stale op (fresh=%s)", got, fresh.ID)
	}
}

func TestDeleteLeavesTombstone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	o := op.New("test.op", nil, 0)
	if err := s.CreateOp(ctx, o); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteOp(ctx, o.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetOp(ctx, o.ID); !errors.Is(err, lro.ErrOpGone) {
		t.Errorf("err = %v, want ErrOpGone", err)
	}
	if _, err := s.CompareAndSwapOp(ctx, o.ID, op.StateQueued, func(*op.Operation) error { return nil }); !errors.Is(err, lro.ErrOpGone) {
		t.Errorf("cas err = %v, want ErrOpGone", err)
	}

	// After pruning, the distinction degrades to not-found.
	n, err := s.PruneTombstones(ctx, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	if _, err := s.GetOp(ctx, o.ID); !errors.Is(err, lro.ErrOpNotFound) {
		t.Errorf("err = %v, want ErrOpNotFound after prune", err)
	}
}

func TestReserveOrGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	factory := func() (*op.Operation, error) {
		o := op.New("test.op", nil, 0)
		o.IdempotencyKey = "key-1"
		return o, nil
	}

	first, created, err := s.ReserveOrGet(ctx, "key-1", factory)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !created {
		t.Fatal("first reserve should create")
	}

	second, created, err := s.ReserveOrGet(ctx, "key-1", factory)
	if err != nil {
		t.Fatalf("second reserve: %v", err)
	}
	if created {
		t.Error("second reserve should not create")
	}
	if second.ID != first.ID {
		t.Errorf("second reserve returned %s, want %s", second.ID, first.ID)
	}
}

func TestReserveOrGetReusesReapedKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()

	factory := func() (*op.Operation, error) {
		o := op.New("test.op", nil, 0)
		o.IdempotencyKey = "key-1"
		return o, nil
	}

	first, _, err := s.ReserveOrGet(ctx, "key-1", factory)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteOp(ctx, first.ID); err != nil {
		t.Fatal(err)
	}

	// The record is gone; the key is free again.
	second, created, err := s.ReserveOrGet(ctx, "key-1", factory)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("reserve after reap should create a fresh operation")
	}
	if second.ID == first.ID {
		t.Error("fresh operation should have a new identifier")
	}
}

func TestCountQueuedBefore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := memory.New()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		o := op.New("test.op", nil, 0)
		o.SubmittedAt = now.Add(time.Duration(-i-1) * time.Minute)
		if err := s.CreateOp(ctx, o); err != nil {
			t.Fatal(err)
		}
	}

	n, err := s.CountQueuedBefore(ctx, now.Add(-90*time.Second))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func runningOp(t *testing.T, ctx context.Context, s *memory.Store, heartbeat time.Time) *op.Operation {
	t.Helper()
	o := op.New("test.op", nil, 3)
	if err := s.CreateOp(ctx, o); err != nil {
		t.Fatal(err)
	}
	updated, err := s.CompareAndSwapOp(ctx, o.ID, op.StateQueued, func(c *op.Operation) error {
		if err := c.Claim("tok", heartbeat); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return updated
}
