package otel

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	instrumentationName = "github.com/terraskye/eventstream"
)

// Semantic attribute keys following OpenTelemetry conventions
const (
	// Stream attributes
	AttrStreamID       = attribute.Key("eventstream.stream.id")
	AttrExpectedState  = attribute.Key("eventstream.stream.expected_state")
	AttrStreamRevision = attribute.Key("eventstream.stream.revision")
	AttrFromRevision   = attribute.Key("eventstream.stream.from_revision")

	// Event attributes
	AttrEventType      = attribute.Key("eventstream.event.type")
	AttrEventCount     = attribute.Key("eventstream.events.count")
	AttrEventGlobalPos = attribute.Key("eventstream.event.global_position")

	// Error attributes
	AttrErrorType = attribute.Key("eventstream.error.type")

	// Operation attributes
	AttrOperation = attribute.Key("eventstream.operation")
)

type instruments struct {
	eventsAppended       metric.Int64Counter
	eventsLoaded         metric.Int64Counter
	appends              metric.Int64Counter
	reads                metric.Int64Counter
	duration             metric.Float64Histogram
	errors               metric.Int64Counter
	concurrencyConflicts metric.Int64Counter
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		ins instruments
		err error
	)

	if ins.eventsAppended, err = meter.Int64Counter(
		"eventstream.events.appended",
		metric.WithDescription("Number of events appended to streams"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}

	if ins.eventsLoaded, err = meter.Int64Counter(
		"eventstream.events.loaded",
		metric.WithDescription("Number of events loaded from streams"),
		metric.WithUnit("{event}"),
	); err != nil {
		return nil, err
	}

	if ins.appends, err = meter.Int64Counter(
		"eventstream.store.appends",
		metric.WithDescription("Number of append operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, err
	}

	if ins.reads, err = meter.Int64Counter(
		"eventstream.store.reads",
		metric.WithDescription("Number of read operations"),
		metric.WithUnit("{operation}"),
	); err != nil {
		return nil, err
	}

	if ins.duration, err = meter.Float64Histogram(
		"eventstream.store.duration",
		metric.WithDescription("Event store operation duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	); err != nil {
		return nil, err
	}

	if ins.errors, err = meter.Int64Counter(
		"eventstream.store.errors",
		metric.WithDescription("Number of event store errors"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if ins.concurrencyConflicts, err = meter.Int64Counter(
		"eventstream.concurrency.conflicts",
		metric.WithDescription("Number of concurrency conflicts"),
		metric.WithUnit("{conflict}"),
	); err != nil {
		return nil, err
	}

	return &ins, nil
}
