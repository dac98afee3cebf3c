package eventstream

import (
	"time"

	"github.com/google/uuid"
)

// EventData is a single serialized event as it crosses the store boundary.
type EventData struct {
	EventID   uuid.UUID
	EventType string
	Data      []byte
	Metadata  []byte
}

// RecordedEvent is an EventData read back from a stream together with the
// position the store assigned to it.
type RecordedEvent struct {
	EventData
	StreamID string
	// Revision is the zero-based position of the event within its stream.
	Revision uint64
	// Position is the store-wide log position of the event.
	Position  uint64
	CreatedAt time.Time
}
