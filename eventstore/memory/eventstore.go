package memory

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/terraskye/eventstream"
)

var _ eventstream.Store = (*MemoryStore)(nil)

// MemoryStore keeps every stream in process memory. Appends are atomic per
// batch and reads iterate over a snapshot taken when the read starts.
type MemoryStore struct {
	mu       sync.RWMutex
	closed   bool
	position uint64
	events   map[string][]*eventstream.RecordedEvent
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]*eventstream.RecordedEvent),
		now:    time.Now,
	}
}

func (m *MemoryStore) Append(ctx context.Context, stream string, expected eventstream.StreamState, events ...eventstream.EventData) (eventstream.WriteResult, error) {
	if err := eventstream.ValidateAppend(stream, events); err != nil {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
	}
	if err := ctx.Err(); err != nil {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, eventstream.ErrStoreClosed)
	}

	current := m.events[stream]
	if err := eventstream.CheckState(stream, expected, len(current)); err != nil {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
	}

	createdAt := m.now().UTC()
	revision := uint64(len(current))
	for _, ev := range events {
		m.position++
		current = append(current, &eventstream.RecordedEvent{
			EventData: eventstream.EventData{
				EventID:   ev.EventID,
				EventType: ev.EventType,
				Data:      slices.Clone(ev.Data),
				Metadata:  slices.Clone(ev.Metadata),
			},
			StreamID:  stream,
			Revision:  revision,
			Position:  m.position,
			CreatedAt: createdAt,
		})
		revision++
	}
	m.events[stream] = current

	return eventstream.WriteResult{
		NextExpectedRevision: revision - 1,
		Position:             m.position,
	}, nil
}

func (m *MemoryStore) ReadFromStart(ctx context.Context, stream string) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	return m.ReadFrom(ctx, stream, 0)
}

func (m *MemoryStore) ReadFrom(ctx context.Context, stream string, revision uint64) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	if err := eventstream.ValidateStreamName(stream); err != nil {
		return nil, eventstream.WrapReadError(stream, err)
	}

	m.mu.RLock()
	closed := m.closed
	events, exists := m.events[stream]
	m.mu.RUnlock()

	if closed {
		return nil, eventstream.WrapReadError(stream, eventstream.ErrStoreClosed)
	}
	if !exists {
		return nil, eventstream.WrapReadError(stream, eventstream.ErrStreamNotFound)
	}
	if revision > uint64(len(events)) {
		return nil, eventstream.WrapReadError(stream, fmt.Errorf(
			"requested revision %d but stream has %d events: %w",
			revision, len(events), eventstream.ErrInvalidRevision,
		))
	}

	// events only grows by append, so this slice header is a stable snapshot.
	snapshot := events[revision:len(events):len(events)]
	index := 0
	return eventstream.NewIteratorFunc(func(ctx context.Context) (*eventstream.RecordedEvent, error) {
		if err := ctx.Err(); err != nil {
			return nil, eventstream.WrapReadError(stream, err)
		}
		if index >= len(snapshot) {
			return nil, io.EOF
		}
		ev := *snapshot[index]
		index++
		ev.Data = slices.Clone(ev.Data)
		ev.Metadata = slices.Clone(ev.Metadata)
		return &ev, nil
	}), nil
}

// Streams returns the names of all present streams.
func (m *MemoryStore) Streams() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.events))
	for name := range m.events {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.events = make(map[string][]*eventstream.RecordedEvent)
	return nil
}
