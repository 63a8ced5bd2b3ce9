package middleware_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/lro/middleware"
	"github.com/xraph/lro/op"
)

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	tag := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *op.Operation, next middleware.Handler) ([]byte, error) {
			order = append(order, name+"-in")
			out, err := next(ctx)
			order = append(order, name+"-out")
			return out, err
		}
	}

	chain := middleware.Chain(tag("outer"), tag("inner"))
	o := op.New("test.op", nil, 0)
	out, err := chain(context.Background(), o, func(context.Context) ([]byte, error) {
		order = append(order, "unit")
		return []byte("done"), nil
	})
	if err != nil {
		t.Fatalf("chain: %v", err)
	}
	if string(out) != "done" {
		t.Errorf("out = %s", out)
	}

	want := []string{"outer-in", "inner-in", "unit", "inner-out", "outer-out"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestChainEmpty(t *testing.T) {
	t.Parallel()

	chain := middleware.Chain()
	o := op.New("test.op", nil, 0)
	out, err := chain(context.Background(), o, func(context.Context) ([]byte, error) {
		return []byte("raw"), nil
	})
	if err != nil || string(out) != "raw" {
		t.Errorf("out = %s, err = %v", out, err)
	}
}

func TestRecover(t *testing.T) {
	t.Parallel()

	mw := middleware.Recover(slog.Default())
	o := op.New("test.op", nil, 0)

	_, err := mw(context.Background(), o, func(context.Context) ([]byte, error) {
		panic("unit exploded")
	})
	if err == nil {
		t.Fatal("panic should convert to an error")
	}

	out, err := mw(context.Background(), o, func(context.Context) ([]byte, error) {
		return []byte("fine"), nil
	})
	if err != nil || string(out) != "fine" {
		t.Errorf("out = %s, err = %v", out, err)
	}
}

func TestTimeout(t *testing.T) {
	t.Parallel()

	mw := middleware.Timeout(20 * time.Millisecond)
	o := op.New("test.op", nil, 0)

	_, err := mw(context.Background(), o, func(ctx context.Context) ([]byte, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return []byte("too late"), nil
		}
	})
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestTimeoutDisabled(t *testing.T) {
	t.Parallel()

	mw := middleware.Timeout(0)
	o := op.New("test.op", nil, 0)

	out, err := mw(context.Background(), o, func(ctx context.Context) ([]byte, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("zero timeout must not set a deadline")
		}
		return []byte("ok"), nil
	})
	if err != nil || string(out) != "ok" {
		t.Errorf("out = %s, err = %v", out, err)
	}
}
