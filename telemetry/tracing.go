// Package telemetry provides OpenTelemetry tracing for upstream calls and
// inbound engine operations.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vinayprograms/skillsynth/errors"
)

// Tracer wraps OpenTelemetry tracing with engine-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, include prompts and replies in span attributes
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return NewNoopTracer()
	}
	return globalTracer
}

// NewTracer creates a tracer from the global provider.
func NewTracer(name string, debug bool) *Tracer {
	return &Tracer{
		tracer: otel.Tracer(name),
		debug:  debug,
	}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), debug: debug}
}

// NewNoopTracer returns a tracer whose spans are never recorded.
func NewNoopTracer() *Tracer {
	return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
}

// Debug returns whether debug mode is enabled.
func (t *Tracer) Debug() bool {
	return t.debug
}

// StartSpan starts a new span with the given name.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// --- Upstream Spans ---

// UpstreamSpanOptions contains attributes recorded when an upstream span ends.
type UpstreamSpanOptions struct {
	Attempts int
	Prompt   string // Only included if debug=true
}

// StartUpstreamSpan starts a client span named "<upstream>.<op>".
func (t *Tracer) StartUpstreamSpan(ctx context.Context, upstream, op string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, upstream+"."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("upstream.name", upstream),
		attribute.String("upstream.op", op),
	)
	return ctx, span
}

// EndUpstreamSpan ends an upstream span. Failures carry the error code and,
// when the upstream answered, its HTTP status.
func (t *Tracer) EndUpstreamSpan(span trace.Span, opts UpstreamSpanOptions, err error) {
	if opts.Attempts > 0 {
		span.SetAttributes(attribute.Int("upstream.attempts", opts.Attempts))
	}
	if t.debug && opts.Prompt != "" {
		span.SetAttributes(attribute.String("upstream.prompt", truncate(opts.Prompt, 4000)))
	}
	endWithError(span, err)
}

// --- Operation Spans ---

// OperationSpanOptions contains attributes recorded when an operation span ends.
type OperationSpanOptions struct {
	Namespace string
	Items     int
	Failed    int
	Results   int
	RequestID string
}

// StartOperationSpan starts a server span for an inbound engine operation
// such as "ingest.skills" or "match.users".
func (t *Tracer) StartOperationSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
	span.SetAttributes(attribute.String("operation.name", name))
	return ctx, span
}

// EndOperationSpan ends an operation span.
func (t *Tracer) EndOperationSpan(span trace.Span, opts OperationSpanOptions, err error) {
	var attrs []attribute.KeyValue
	if opts.Namespace != "" {
		attrs = append(attrs, attribute.String("operation.namespace", opts.Namespace))
	}
	if opts.RequestID != "" {
		attrs = append(attrs, attribute.String("operation.request_id", opts.RequestID))
	}
	if opts.Items > 0 {
		attrs = append(attrs, attribute.Int("operation.items", opts.Items))
	}
	if opts.Failed > 0 {
		attrs = append(attrs, attribute.Int("operation.failed", opts.Failed))
	}
	attrs = append(attrs, attribute.Int("operation.results", opts.Results))
	span.SetAttributes(attrs...)
	endWithError(span, err)
}

func endWithError(span trace.Span, err error) {
	if err != nil {
		attrs := []attribute.KeyValue{attribute.String("error.code", errors.Code(err).String())}
		if status := errors.Status(err); status > 0 {
			attrs = append(attrs, attribute.Int("http.response.status_code", status))
		}
		span.SetAttributes(attrs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// --- Context Propagation ---

// ExtractContext extracts trace context from a carrier, such as the HTTP
// headers of a websocket upgrade request.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// TraceID returns the hex trace id of the span in ctx, or "" when none is
// recording.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
