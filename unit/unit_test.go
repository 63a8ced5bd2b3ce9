package unit_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/xraph/lro/unit"
)

type echoInput struct {
	Message string `json:"message"`
}

type echoOutput struct {
	Echo string `json:"echo"`
}

func TestRegisterDefinition(t *testing.T) {
	t.Parallel()

	r := unit.NewRegistry()
	unit.RegisterDefinition(r, unit.NewDefinition("test.echo",
		func(_ context.Context, in echoInput) (echoOutput, error) {
			return echoOutput{Echo: in.Message}, nil
		}))

	h, ok := r.Get("test.echo")
	if !ok {
		t.Fatal("handler not registered")
	}

	out, err := h(context.Background(), []byte(`{"message":"hi"}`))
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	var got echoOutput
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatal(err)
	}
	if got.Echo != "hi" {
		t.Errorf("echo = %q, want hi", got.Echo)
	}
}

func TestRegisterDefinitionEmptyInput(t *testing.T) {
	t.Parallel()

	r := unit.NewRegistry()
	unit.RegisterDefinition(r, unit.NewDefinition("test.zero",
		func(_ context.Context, in echoInput) (echoOutput, error) {
			return echoOutput{Echo: in.Message}, nil
		}))

	h, _ := r.Get("test.zero")
	out, err := h(context.Background(), nil)
	if err != nil {
		t.Fatalf("handler with empty input: %v", err)
	}
	var got echoOutput
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatal(err)
	}
	if got.Echo != "" {
		t.Errorf("echo = %q, want zero value", got.Echo)
	}
}

func TestRegisterDefinitionBadInput(t *testing.T) {
	t.Parallel()

	r := unit.NewRegistry()
	unit.RegisterDefinition(r, unit.NewDefinition("test.echo",
		func(_ context.Context, in echoInput) (echoOutput, error) {
			return echoOutput{}, nil
		}))

	h, _ := r.Get("test.echo")
	if _, err := h(context.Background(), []byte(`not json`)); err == nil {
		t.Fatal("malformed input should fail")
	}
}

func TestHandlerErrorPropagates(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("unit broke")
	r := unit.NewRegistry()
	unit.RegisterDefinition(r, unit.NewDefinition("test.fail",
		func(_ context.Context, _ echoInput) (echoOutput, error) {
			return echoOutput{}, sentinel
		}))

	h, _ := r.Get("test.fail")
	if _, err := h(context.Background(), nil); !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want sentinel", err)
	}
}

func TestTypes(t *testing.T) {
	t.Parallel()

	r := unit.NewRegistry()
	r.Register("a", func(context.Context, []byte) ([]byte, error) { return nil, nil })
	r.Register("b", func(context.Context, []byte) ([]byte, error) { return nil, nil })

	if got := len(r.Types()); got != 2 {
		t.Errorf("len(Types) = %d, want 2", got)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("unregistered type should not resolve")
	}
}

func TestReportProgress(t *testing.T) {
	t.Parallel()

	var got []int
	ctx := unit.WithProgress(context.Background(), func(pct int) {
		got = append(got, pct)
	})

	unit.ReportProgress(ctx, 25)
	unit.ReportProgress(ctx, 80)
	if len(got) != 2 || got[0] != 25 || got[1] != 80 {
		t.Errorf("reported = %v, want [25 80]", got)
	}

	// Outside an engine-managed execution this is a no-op.
	unit.ReportProgress(context.Background(), 50)
}
