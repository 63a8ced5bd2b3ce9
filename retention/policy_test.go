package retention_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/xraph/lro/op"
	"github.com/xraph/lro/retention"
)

func terminalOp(state op.State, outputSize int) *op.Operation {
	o := op.New("test.op", nil, 0)
	o.State = state
	if outputSize > 0 {
		o.Output = bytes.Repeat([]byte("x"), outputSize)
	}
	return o
}

func TestDefaultTable(t *testing.T) {
	t.Parallel()

	table := retention.DefaultTable()

	tests := []struct {
		name string
		o    *op.Operation
		want time.Duration
	}{
		{"small success", terminalOp(op.StateCompleted, 100), 24 * time.Hour},
		{"boundary small success", terminalOp(op.StateCompleted, 64<<10), 24 * time.Hour},
		{"medium success", terminalOp(op.StateCompleted, 64<<10+1), 6 * time.Hour},
		{"large success", terminalOp(op.StateCompleted, 1<<20+1), 1 * time.Hour},
		{"failure small", terminalOp(op.StateFailed, 0), 72 * time.Hour},
		{"failure large", terminalOp(op.StateFailed, 2<<20), 72 * time.Hour},
		{"cancelled", terminalOp(op.StateCancelled, 0), 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := table.Retention(tt.o); got != tt.want {
				t.Errorf("Retention = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTableDefaults(t *testing.T) {
	t.Parallel()

	// Empty table: everything falls through to the stock 24h window.
	empty := &retention.Table{}
	if got := empty.Retention(terminalOp(op.StateCompleted, 0)); got != 24*time.Hour {
		t.Errorf("empty table Retention = %v, want 24h", got)
	}

	custom := &retention.Table{Default: time.Minute}
	if got := custom.Retention(terminalOp(op.StateFailed, 0)); got != time.Minute {
		t.Errorf("custom default Retention = %v, want 1m", got)
	}
}

func TestCustomSizeBoundaries(t *testing.T) {
	t.Parallel()

	table := &retention.Table{
		Durations: map[retention.Key]time.Duration{
			{retention.OutcomeSucceeded, retention.SizeSmall}:  time.Hour,
			{retention.OutcomeSucceeded, retention.SizeMedium}: time.Minute,
		},
		SmallMax:  10,
		MediumMax: 100,
	}
	if got := table.Retention(terminalOp(op.StateCompleted, 10)); got != time.Hour {
		t.Errorf("10 bytes = %v, want small window", got)
	}
	if got := table.Retention(terminalOp(op.StateCompleted, 11)); got != time.Minute {
		t.Errorf("11 bytes = %v, want medium window", got)
	}
}

func TestOutcomeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state op.State
		want  retention.Outcome
	}{
		{op.StateCompleted, retention.OutcomeSucceeded},
		{op.StateCancelled, retention.OutcomeCancelled},
		{op.StateFailed, retention.OutcomeFailed},
	}
	for _, tt := range tests {
		if got := retention.OutcomeOf(terminalOp(tt.state, 0)); got != tt.want {
			t.Errorf("OutcomeOf(%s) = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestPerType(t *testing.T) {
	t.Parallel()

	p := &retention.PerType{
		ByType: map[string]retention.Policy{
			"export.large": retention.Fixed(time.Minute),
		},
		Base: retention.Fixed(time.Hour),
	}

	special := terminalOp(op.StateCompleted, 0)
	special.Type = "export.large"
	if got := p.Retention(special); got != time.Minute {
		t.Errorf("override Retention = %v, want 1m", got)
	}
	if got := p.Retention(terminalOp(op.StateCompleted, 0)); got != time.Hour {
		t.Errorf("base Retention = %v, want 1h", got)
	}
}
