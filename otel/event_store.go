package otel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/terraskye/eventstream"
)

// Metadata keys written into events appended without metadata.
const (
	MetadataCorrelationID = "correlationId"
	MetadataCausationID   = "causationId"
)

var _ eventstream.Store = (*TelemetryStore)(nil)

// TelemetryStore traces and measures every operation of the wrapped store.
//
// Events appended without metadata get the trace context of the append
// written into their metadata as a JSON object. Metadata set by the caller is
// never modified.
type TelemetryStore struct {
	next   eventstream.Store
	cfg    config
	tracer trace.Tracer
	ins    *instruments
}

// WithEventStoreTelemetry wraps next with tracing and metrics.
func WithEventStoreTelemetry(next eventstream.Store, options ...Option) *TelemetryStore {
	cfg := newConfig(options)

	ins, err := newInstruments(cfg.MeterProvider.Meter(instrumentationName,
		metric.WithInstrumentationVersion(eventstream.InstrumentationVersion)))
	if err != nil {
		otel.Handle(err)
		ins, _ = newInstruments(noop.NewMeterProvider().Meter(instrumentationName))
	}

	return &TelemetryStore{
		next: next,
		cfg:  cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName,
			trace.WithInstrumentationVersion(eventstream.InstrumentationVersion)),
		ins: ins,
	}
}

func (t *TelemetryStore) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, t.cfg.Attributes...)
	if t.cfg.GetAttributes != nil {
		attrs = append(attrs, t.cfg.GetAttributes(ctx)...)
	}
	return t.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func (t *TelemetryStore) fail(ctx context.Context, span trace.Span, operation string, err error) {
	kind := errorType(err)
	t.ins.errors.Add(ctx, 1, metric.WithAttributes(
		AttrOperation.String(operation),
		AttrErrorType.String(kind),
	))
	if kind == "conflict" {
		t.ins.concurrencyConflicts.Add(ctx, 1)
	}
	span.SetAttributes(AttrErrorType.String(kind))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func errorType(err error) string {
	switch {
	case errors.Is(err, eventstream.ErrWrongExpectedRevision),
		errors.Is(err, eventstream.ErrStreamExists):
		return "conflict"
	case errors.Is(err, eventstream.ErrStreamNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, eventstream.ErrInvalidStreamName),
		errors.Is(err, eventstream.ErrEmptyBatch),
		errors.Is(err, eventstream.ErrInvalidEventData),
		errors.Is(err, eventstream.ErrDuplicateEventID):
		return "invalid"
	}
	return "other"
}

// inject writes the trace context into the metadata of events that have none.
func (t *TelemetryStore) inject(ctx context.Context, span trace.Span, events []eventstream.EventData) []eventstream.EventData {
	if t.cfg.DisablePropagation || !span.SpanContext().IsValid() {
		return events
	}

	carrier := propagation.MapCarrier{}
	t.cfg.Propagator.Inject(ctx, carrier)
	carrier[MetadataCorrelationID] = span.SpanContext().TraceID().String()
	if causation := eventstream.CausationFromContext(ctx); causation != "" {
		carrier[MetadataCausationID] = causation
	}

	metadata, err := json.Marshal(carrier)
	if err != nil {
		otel.Handle(err)
		return events
	}

	events = slices.Clone(events)
	for i := range events {
		if events[i].Metadata == nil {
			events[i].Metadata = metadata
		}
	}
	return events
}

func (t *TelemetryStore) Append(ctx context.Context, stream string, expected eventstream.StreamState, events ...eventstream.EventData) (eventstream.WriteResult, error) {
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.EventType)
	}

	ctx, span := t.startSpan(ctx, "EventStore.Append",
		AttrOperation.String("append"),
		AttrStreamID.String(stream),
		AttrExpectedState.String(fmt.Sprint(expected)),
		AttrEventCount.Int(len(events)),
		AttrEventType.StringSlice(types),
	)
	defer span.End()

	events = t.inject(ctx, span, events)

	start := time.Now()
	result, err := t.next.Append(ctx, stream, expected, events...)
	duration := time.Since(start)

	t.ins.duration.Record(ctx, float64(duration.Milliseconds()),
		metric.WithAttributes(AttrOperation.String("append")),
	)
	t.ins.appends.Add(ctx, 1)

	if err != nil {
		t.fail(ctx, span, "append", err)
		return result, err
	}

	t.ins.eventsAppended.Add(ctx, int64(len(events)))
	span.SetAttributes(
		AttrStreamRevision.Int64(int64(result.NextExpectedRevision)),
		AttrEventGlobalPos.Int64(int64(result.Position)),
	)
	return result, nil
}

func (t *TelemetryStore) ReadFromStart(ctx context.Context, stream string) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	return t.read(ctx, "EventStore.ReadFromStart", stream, nil, func(ctx context.Context) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
		return t.next.ReadFromStart(ctx, stream)
	})
}

func (t *TelemetryStore) ReadFrom(ctx context.Context, stream string, revision uint64) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	attrs := []attribute.KeyValue{AttrFromRevision.Int64(int64(revision))}
	return t.read(ctx, "EventStore.ReadFrom", stream, attrs, func(ctx context.Context) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
		return t.next.ReadFrom(ctx, stream, revision)
	})
}

// read spans the whole consumption of the stream: the span ends when the
// iterator is exhausted, fails or is closed.
func (t *TelemetryStore) read(
	ctx context.Context,
	name, stream string,
	attrs []attribute.KeyValue,
	open func(ctx context.Context) (*eventstream.Iterator[*eventstream.RecordedEvent], error),
) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	attrs = append(attrs, AttrOperation.String("read"), AttrStreamID.String(stream))
	ctx, span := t.startSpan(ctx, name, attrs...)
	t.ins.reads.Add(ctx, 1)

	startedAt := time.Now()
	var (
		count int64
		ended bool
	)
	finish := func(err error) {
		if ended {
			return
		}
		ended = true
		span.SetAttributes(AttrEventCount.Int64(count))
		if err != nil {
			t.fail(ctx, span, "read", err)
		}
		t.ins.duration.Record(ctx, float64(time.Since(startedAt).Milliseconds()),
			metric.WithAttributes(AttrOperation.String("read")),
		)
		span.End()
	}

	iter, err := open(ctx)
	if err != nil {
		finish(err)
		return nil, err
	}

	return eventstream.NewIteratorFunc(func(ctx context.Context) (*eventstream.RecordedEvent, error) {
		if !iter.Next(ctx) {
			err := iter.Err()
			finish(err)
			if err != nil {
				return nil, err
			}
			return nil, io.EOF
		}

		count++
		t.ins.eventsLoaded.Add(ctx, 1)
		return iter.Value(), nil
	}).OnClose(func() {
		iter.Close()
		finish(nil)
	}), nil
}

// Close just forwards
func (t *TelemetryStore) Close() error {
	return t.next.Close()
}
