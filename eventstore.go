package eventstream

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Store is an append-only log of streams. A Store persists events per stream
// in the order they were appended and replays them in that same order, byte
// for byte.
//
// Implementations must guarantee:
//   - An append is atomic: either the whole batch becomes visible, in order,
//     or nothing does.
//   - Reads of a stream return events in append order with no gaps.
//   - Concurrency control based on the expected StreamState.
//
// A Store is safe for concurrent use. Appends to the same stream race and the
// store decides the final order; callers needing a causal order for one stream
// must append sequentially.
type Store interface {
	// Append records events at the end of stream as a single atomic unit.
	//
	// The batch must be non-empty and every event must carry a unique, non-nil
	// EventID. Every failure is returned as an *AppendError; it wraps
	// ErrWrongExpectedRevision when expected does not hold.
	Append(ctx context.Context, stream string, expected StreamState, events ...EventData) (WriteResult, error)

	// ReadFromStart returns every event of stream, oldest first.
	//
	// The iterator is lazy and finite. Reading the same stream again yields the
	// same prefix. Reading a stream that was never appended to returns a
	// *ReadError wrapping ErrStreamNotFound.
	ReadFromStart(ctx context.Context, stream string) (*Iterator[*RecordedEvent], error)

	// ReadFrom is like ReadFromStart but skips events before revision.
	ReadFrom(ctx context.Context, stream string, revision uint64) (*Iterator[*RecordedEvent], error)

	// Close releases the resources held by the store. Close is idempotent.
	Close() error
}

// WriteResult describes the outcome of an append.
type WriteResult struct {
	// NextExpectedRevision is the revision of the last event appended; use
	// Revision(NextExpectedRevision) as the expected state of a later append.
	NextExpectedRevision uint64
	// Position is the store-wide log position of the last event appended. It
	// increases monotonically across appends.
	Position uint64
}

// ValidateAppend checks the stream name and the batch of an append.
func ValidateAppend(stream string, events []EventData) error {
	if err := ValidateStreamName(stream); err != nil {
		return err
	}
	if len(events) == 0 {
		return ErrEmptyBatch
	}

	seen := make(map[uuid.UUID]struct{}, len(events))
	for i, ev := range events {
		if ev.EventID == uuid.Nil {
			return fmt.Errorf("event %d: missing event id: %w", i, ErrInvalidEventData)
		}
		if ev.EventType == "" {
			return fmt.Errorf("event %d (%s): missing event type: %w", i, ev.EventID, ErrInvalidEventData)
		}
		if _, ok := seen[ev.EventID]; ok {
			return fmt.Errorf("event %d: %s: %w", i, ev.EventID, ErrDuplicateEventID)
		}
		seen[ev.EventID] = struct{}{}
	}
	return nil
}
