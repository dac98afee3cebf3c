package fixtures

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	es "github.com/terraskye/eventstream"
)

// EventDataBuilder provides a fluent API for constructing event data.
type EventDataBuilder struct {
	eventID   uuid.UUID
	eventType string
	data      []byte
	metadata  []byte
}

// NewEventData creates a new EventDataBuilder with defaults.
func NewEventData() *EventDataBuilder {
	return &EventDataBuilder{
		eventID:   uuid.New(),
		eventType: "TestEvent",
		data:      []byte(`{"value":0}`),
	}
}

// WithEventID sets a specific event ID.
func (b *EventDataBuilder) WithEventID(id uuid.UUID) *EventDataBuilder {
	b.eventID = id
	return b
}

// WithType sets the event type.
func (b *EventDataBuilder) WithType(t string) *EventDataBuilder {
	b.eventType = t
	return b
}

// WithData sets the payload.
func (b *EventDataBuilder) WithData(data []byte) *EventDataBuilder {
	b.data = data
	return b
}

// WithMetadata sets the metadata.
func (b *EventDataBuilder) WithMetadata(metadata []byte) *EventDataBuilder {
	b.metadata = metadata
	return b
}

// Build constructs the EventData.
func (b *EventDataBuilder) Build() es.EventData {
	return es.EventData{
		EventID:   b.eventID,
		EventType: b.eventType,
		Data:      b.data,
		Metadata:  b.metadata,
	}
}

// BuildN creates n events with fresh ids and numbered payloads.
func (b *EventDataBuilder) BuildN(n int) []es.EventData {
	events := make([]es.EventData, n)
	for i := range events {
		events[i] = es.EventData{
			EventID:   uuid.New(),
			EventType: b.eventType,
			Data:      []byte(fmt.Sprintf(`{"value":%d}`, i)),
			Metadata:  b.metadata,
		}
	}
	return events
}

// Recorded creates recorded events of stream from data, with sequential
// revisions starting at 0.
func Recorded(stream string, data ...es.EventData) []*es.RecordedEvent {
	recorded := make([]*es.RecordedEvent, len(data))
	baseTime := time.Now()

	for i, ev := range data {
		recorded[i] = &es.RecordedEvent{
			EventData: ev,
			StreamID:  stream,
			Revision:  uint64(i),
			Position:  uint64(i + 1),
			CreatedAt: baseTime.Add(time.Duration(i) * time.Millisecond),
		}
	}

	return recorded
}
