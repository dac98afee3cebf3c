package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// config holds the options for instrumenting a store.
type config struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Propagator     propagation.TextMapPropagator

	// Attributes holds the default attributes for each span created by the store.
	Attributes []attribute.KeyValue

	// GetAttributes is an optional function that can extract trace attributes
	// from the context and add them to the span.
	GetAttributes func(ctx context.Context) []attribute.KeyValue

	// DisablePropagation leaves event metadata untouched.
	DisablePropagation bool
}

func newConfig(options []Option) config {
	cfg := config{
		TracerProvider: otel.GetTracerProvider(),
		MeterProvider:  otel.GetMeterProvider(),
		Propagator:     otel.GetTextMapPropagator(),
	}
	for _, o := range options {
		o.apply(&cfg)
	}
	return cfg
}

// Option configures a TelemetryStore.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (o optionFunc) apply(c *config) {
	o(c)
}

// WithTracerProvider sets the tracer provider. The global one is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return optionFunc(func(o *config) {
		o.TracerProvider = tp
	})
}

// WithMeterProvider sets the meter provider. The global one is used by default.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return optionFunc(func(o *config) {
		o.MeterProvider = mp
	})
}

// WithPropagator sets the propagator used to write the trace context into
// event metadata.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return optionFunc(func(o *config) {
		o.Propagator = p
	})
}

// WithoutPropagation disables writing the trace context into event metadata.
func WithoutPropagation() Option {
	return optionFunc(func(o *config) {
		o.DisablePropagation = true
	})
}

// WithAttributes sets the default attributes for the spans created by the store.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return optionFunc(func(o *config) {
		o.Attributes = attrs
	})
}

// WithAttributeGetter extracts additional attributes from the context.
func WithAttributeGetter(fn func(ctx context.Context) []attribute.KeyValue) Option {
	return optionFunc(func(o *config) {
		o.GetAttributes = fn
	})
}
