package backoff_test

import (
	"testing"
	"time"

	"github.com/xraph/lro/backoff"
)

func TestConstant(t *testing.T) {
	t.Parallel()

	c := backoff.NewConstant(5 * time.Second)
	for _, attempt := range []int{1, 2, 10} {
		if got := c.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

func TestExponential(t *testing.T) {
	t.Parallel()

	e := backoff.NewExponential(time.Second, time.Minute)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 32 * time.Second},
		{6, time.Minute},  // 64s capped
		{30, time.Minute}, // far past the cap
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponentialOverflowCapped(t *testing.T) {
	t.Parallel()

	e := backoff.NewExponential(time.Second, time.Hour)
	if got := e.Delay(200); got != time.Hour {
		t.Errorf("Delay(200) = %v, want cap", got)
	}
}

func TestExponentialWithJitter(t *testing.T) {
	t.Parallel()

	e := backoff.NewExponentialWithJitter(time.Second, time.Minute)
	for attempt := 1; attempt <= 8; attempt++ {
		ceil := time.Duration(1<<uint(attempt)) * time.Second
		if ceil > time.Minute {
			ceil = time.Minute
		}
		for i := 0; i < 50; i++ {
			d := e.Delay(attempt)
			if d < 0 || d > ceil {
				t.Fatalf("Delay(%d) = %v outside [0, %v]", attempt, d, ceil)
			}
		}
	}
}
