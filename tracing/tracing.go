// Package tracing wraps opentracing-go the way the teacher's (unretrieved)
// tracing package is used from its call sites in Validator.go and
// services/rpc/handlers.go: Start/StartTracing return a span plus a done
// func, and default to a no-op tracer so the core never depends on a
// running Jaeger/DataDog collector — this module has no exporter wired
// because it is a single-process core, not a distributed deployment.
package tracing

import (
	"context"

	opentracing "github.com/opentracing/opentracing-go"
)

// Span bundles a context carrying the span with the span itself, matching
// the teacher's tracing.Span{Ctx, ...} shape.
type Span struct {
	Ctx  context.Context
	span opentracing.Span
}

func (s Span) Finish() {
	if s.span != nil {
		s.span.Finish()
	}
}

func (s Span) RecordError(err error) {
	if s.span != nil && err != nil {
		s.span.SetTag("error", true)
		s.span.LogKV("error.message", err.Error())
	}
}

// Start opens a child span named name under ctx's active span, if any.
func Start(ctx context.Context, name string) Span {
	span, spanCtx := opentracing.StartSpanFromContext(ctx, name)
	return Span{Ctx: spanCtx, span: span}
}

// Option configures StartTracing; kept for call-site parity with the
// teacher's tracing.WithParentStat/WithHistogram/WithLogMessage, which
// this core has no use for beyond an optional log line on entry.
type Option func(*options)

type options struct {
	onStart func()
}

func WithLogMessage(logger interface{ Debugf(string, ...interface{}) }, msg string) Option {
	return func(o *options) {
		o.onStart = func() { logger.Debugf("%s", msg) }
	}
}

// StartTracing opens a span and returns it alongside a deferrable Finish
// func, matching the ctx, span, deferFn := tracing.StartTracing(...) idiom.
func StartTracing(ctx context.Context, name string, opts ...Option) (context.Context, Span, func()) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.onStart != nil {
		o.onStart()
	}
	s := Start(ctx, name)
	return s.Ctx, s, s.Finish
}
