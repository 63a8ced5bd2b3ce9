package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/lro/op"
)

// tracerName is the instrumentation scope name for LRO tracing.
const tracerName = "github.com/xraph/lro"

// Tracing returns middleware that wraps execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through with zero
// overhead.
//
// Span attributes include: lro.op.id, lro.op.type, lro.retry_count,
// lro.max_retries. On error, the span status is set to codes.Error with
// the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, o *op.Operation, next Handler) ([]byte, error) {
		ctx, span := tracer.Start(ctx, "lro.op.execute",
			trace.WithAttributes(
				attribute.String("lro.op.id", o.ID.String()),
				attribute.String("lro.op.type", o.Type),
				attribute.Int("lro.retry_count", o.RetryCount),
				attribute.Int("lro.max_retries", o.MaxRetries),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		out, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return out, err
	}
}
