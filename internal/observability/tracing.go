package observability

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ent0n29/phoneagent"

// Tracer returns the tracer of the globally installed provider (no-op unless one is set).
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StageRecorder ties one pipeline stage to a span and to the stage metrics.
type StageRecorder struct {
	stage   string
	start   time.Time
	span    trace.Span
	metrics *Metrics
}

// StartStage opens a span named after stage.
func StartStage(ctx context.Context, m *Metrics, stage string, attrs ...attribute.KeyValue) (context.Context, *StageRecorder) {
	ctx, span := Tracer().Start(ctx, stage, trace.WithAttributes(attrs...))
	return ctx, &StageRecorder{stage: stage, start: time.Now(), span: span, metrics: m}
}

// SetAttributes annotates the stage span.
func (r *StageRecorder) SetAttributes(attrs ...attribute.KeyValue) {
	if r == nil {
		return
	}
	r.span.SetAttributes(attrs...)
}

// End closes the span, records the latency and classifies err as a timeout or an error.
func (r *StageRecorder) End(err error) time.Duration {
	if r == nil {
		return 0
	}
	elapsed := time.Since(r.start)
	r.metrics.ObserveStage(r.stage, elapsed)
	if err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
		r.metrics.StageFailed(r.stage, FailureReason(err))
	}
	r.span.End()
	return elapsed
}

// FailureReason labels err as "timeout", "cancelled" or "error".
func FailureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
