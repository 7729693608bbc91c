// Package telemetry adapts OpenTelemetry tracing to the engine's Trace
// hook, and provides a no-op TracerProvider for tests and for callers that
// want the wiring without an exporter.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanTrace builds a machine Trace hook that opens a span per engine step.
// Details are recorded as string attributes; an error passed to the end
// function marks the span failed.
func SpanTrace(tracer trace.Tracer) func(ctx context.Context, step string, details ...any) func(...any) {
	return func(ctx context.Context, step string, details ...any) func(...any) {
		attributes := make([]attribute.KeyValue, 0, len(details))
		for i, detail := range details {
			attributes = append(attributes, attribute.String(fmt.Sprintf("statechart.detail.%d", i), fmt.Sprint(detail)))
		}
		_, span := tracer.Start(ctx, step, trace.WithAttributes(attributes...))
		return func(results ...any) {
			for _, result := range results {
				if err, ok := result.(error); ok && err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
				}
			}
			span.End()
		}
	}
}

type Provider struct {
	trace.TracerProvider
}

var (
	provider    = &Provider{}
	tracer      = &Tracer{}
	span        = &Span{}
	spanContext = trace.SpanContext{}
)

// NewProvider returns a TracerProvider whose spans do nothing.
func NewProvider() *Provider {
	return provider
}

func (provider *Provider) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return tracer
}

type Tracer struct {
	trace.Tracer
}

func (tracer *Tracer) Start(ctx context.Context, name string, options ...trace.SpanStartOption) (context.Context, trace.Span) {
	return ctx, span
}

type Span struct {
	trace.Span
}

func (span *Span) End(options ...trace.SpanEndOption)                  {}
func (span *Span) AddEvent(name string, options ...trace.EventOption)  {}
func (span *Span) AddLink(link trace.Link)                             {}
func (span *Span) IsRecording() bool                                   { return false }
func (span *Span) RecordError(err error, options ...trace.EventOption) {}
func (span *Span) SetAttributes(kv ...attribute.KeyValue)              {}
func (span *Span) SetName(name string)                                 {}
func (span *Span) SetStatus(code codes.Code, description string)       {}
func (span *Span) SpanContext() trace.SpanContext                      { return spanContext }
func (span *Span) TracerProvider() trace.TracerProvider                { return provider }
