package dagflow

import "context"

// Tracer creates spans for run and task operations ("dagflow.run" per run,
// "dagflow.task" per task attempt). The observer package provides an
// OTEL-backed implementation via observer.NewTracer(). When no Tracer is
// configured, span creation is a no-op (a noopTracer is substituted).
type Tracer interface {
	// Start creates a new span with the given name and optional attributes.
	// Returns a child context carrying the span and the span itself. Callers
	// must call Span.End() when the operation completes.
	Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span)
}

// Span represents a traced operation. Callers must call End() exactly once.
type Span interface {
	SetAttr(attrs ...SpanAttr)
	Event(name string, attrs ...SpanAttr)
	Error(err error)
	End()
}

// SpanAttr is a key-value attribute attached to a span or event.
type SpanAttr struct {
	Key   string
	Value any
}

// StringAttr creates a string-typed span attribute.
func StringAttr(k, v string) SpanAttr { return SpanAttr{Key: k, Value: v} }

// IntAttr creates an int-typed span attribute.
func IntAttr(k string, v int) SpanAttr { return SpanAttr{Key: k, Value: v} }

// BoolAttr creates a bool-typed span attribute.
func BoolAttr(k string, v bool) SpanAttr { return SpanAttr{Key: k, Value: v} }

// noopTracer is the default Tracer used when none is configured.
type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) SetAttr(attrs ...SpanAttr)      {}
func (noopSpan) Event(name string, a ...SpanAttr) {}
func (noopSpan) Error(err error)                {}
func (noopSpan) End()                           {}
