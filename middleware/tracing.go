package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/governor/operation"
)

// tracerName is the instrumentation scope name for governor tracing.
const tracerName = "github.com/xraph/governor"

// Tracing returns middleware that wraps operation execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through
// with zero overhead.
//
// Span attributes include: governor.operation.id, governor.category,
// governor.tenant_id, governor.priority, governor.attempt.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, op *operation.Operation, next Handler) error {
		ctx, span := tracer.Start(ctx, "governor.operation.execute",
			trace.WithAttributes(
				attribute.String("governor.operation.id", op.ID.String()),
				attribute.String("governor.category", op.Category),
				attribute.String("governor.tenant_id", op.TenantID),
				attribute.Int("governor.priority", op.Priority),
				attribute.Int("governor.attempt", op.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
