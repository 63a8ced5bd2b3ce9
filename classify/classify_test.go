package classify_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/xraph/lro/classify"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	d := classify.Default()

	tests := []struct {
		name      string
		err       error
		wantKind  string
		retryable bool
	}{
		{"transient wrapper", classify.Transient(base), "transient", true},
		{"permanent wrapper", classify.Permanent(base), "permanent", false},
		{"wrapped transient", fmt.Errorf("call upstream: %w", classify.Transient(base)), "transient", true},
		{"deadline exceeded", context.DeadlineExceeded, "timeout", true},
		{"wrapped deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), "timeout", true},
		{"unknown error is permanent", base, "error", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := d.Classify(tt.err)
			if got.Kind != tt.wantKind || got.Retryable != tt.retryable {
				t.Errorf("Classify = %+v, want kind=%s retryable=%v", got, tt.wantKind, tt.retryable)
			}
		})
	}
}

func TestWrappersPreserveMessage(t *testing.T) {
	t.Parallel()

	base := errors.New("connection refused")
	if got := classify.Transient(base).Error(); got != "connection refused" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(classify.Permanent(base), base) {
		t.Error("Permanent should unwrap to the original error")
	}
	if classify.Transient(nil) != nil || classify.Permanent(nil) != nil {
		t.Error("wrapping nil should stay nil")
	}
}

func TestFuncAdapter(t *testing.T) {
	t.Parallel()

	c := classify.Func(func(error) classify.Classification {
		return classify.Classification{Kind: "custom", Retryable: true}
	})
	if got := c.Classify(errors.New("x")); got.Kind != "custom" || !got.Retryable {
		t.Errorf("Classify = %+v", got)
	}
}
