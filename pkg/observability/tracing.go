package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/ajitpratap0/ledgerline/internal/pipeline"

// Tracer starts run and chunk spans.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from tp. A nil tp yields a no-op tracer.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Tracer{tracer: tp.Tracer(instrumentationName)}
}

// StartRun opens the root span of a pipeline run.
func (t *Tracer) StartRun(ctx context.Context, pipeline, displayName, runID string) (context.Context, *Span) {
	ctx, s := t.start(ctx, "pipeline.run")
	s.SetAttribute("pipeline.name", pipeline)
	s.SetAttribute("pipeline.display_name", displayName)
	s.SetAttribute("pipeline.run_id", runID)
	return ctx, s
}

// StartChunk opens a span around loading one chunk.
func (t *Tracer) StartChunk(ctx context.Context, chunk, rows int) (context.Context, *Span) {
	ctx, s := t.start(ctx, "pipeline.load_chunk")
	s.SetAttribute("chunk.index", chunk)
	s.SetAttribute("chunk.rows", rows)
	return ctx, s
}

func (t *Tracer) start(ctx context.Context, name string) (context.Context, *Span) {
	if t == nil {
		t = NewTracer(nil)
	}
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &Span{span: span}
}

// Span batches attributes and ends with an error-aware status.
type Span struct {
	span       trace.Span
	attributes []attribute.KeyValue
}

// SetAttribute adds an attribute to the span
func (s *Span) SetAttribute(key string, value interface{}) {
	var attr attribute.KeyValue

	switch v := value.(type) {
	case string:
		attr = attribute.String(key, v)
	case int:
		attr = attribute.Int(key, v)
	case int64:
		attr = attribute.Int64(key, v)
	case float64:
		attr = attribute.Float64(key, v)
	case bool:
		attr = attribute.Bool(key, v)
	default:
		attr = attribute.String(key, fmt.Sprintf("%v", v))
	}

	s.attributes = append(s.attributes, attr)
}

// AddEvent records a point-in-time event on the span.
func (s *Span) AddEvent(name string, attrs ...attribute.KeyValue) {
	if s == nil {
		return
	}
	s.span.AddEvent(name, trace.WithAttributes(attrs...))
}

// End records err, if any, and ends the span.
func (s *Span) End(err error) {
	if len(s.attributes) > 0 {
		s.span.SetAttributes(s.attributes...)
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
