package fixtures

import (
	"context"
	"sync"

	es "github.com/terraskye/eventstream"
)

// StoreSpy is a configurable mock Store for testing.
// It tracks calls and allows injecting custom behavior or failures.
type StoreSpy struct {
	mu sync.Mutex

	// Function overrides for custom behavior
	AppendFn        func(ctx context.Context, stream string, expected es.StreamState, events ...es.EventData) (es.WriteResult, error)
	ReadFromStartFn func(ctx context.Context, stream string) (*es.Iterator[*es.RecordedEvent], error)
	ReadFromFn      func(ctx context.Context, stream string, revision uint64) (*es.Iterator[*es.RecordedEvent], error)
	CloseFn         func() error

	// Call tracking
	AppendCalls        int
	ReadFromStartCalls int
	ReadFromCalls      int
	CloseCalls         int

	// Captured arguments from last call
	LastAppendStream   string
	LastAppendEvents   []es.EventData
	LastAppendExpected es.StreamState
	LastReadStream     string

	// Pre-configured data
	events   map[string][]*es.RecordedEvent
	position uint64

	// Error injection
	readErr   error
	appendErr error
}

// NewStoreSpy creates a new StoreSpy with default behavior.
func NewStoreSpy() *StoreSpy {
	return &StoreSpy{
		events: make(map[string][]*es.RecordedEvent),
	}
}

// WithEvents pre-populates the store with events for a stream, as if they
// had been appended in one batch.
func (s *StoreSpy) WithEvents(stream string, events ...es.EventData) *StoreSpy {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(stream, events)
	return s
}

// FailOnRead configures the store to return an error on read operations.
func (s *StoreSpy) FailOnRead(err error) *StoreSpy {
	s.readErr = err
	return s
}

// FailOnAppend configures the store to return an error on append operations.
func (s *StoreSpy) FailOnAppend(err error) *StoreSpy {
	s.appendErr = err
	return s
}

func (s *StoreSpy) record(stream string, events []es.EventData) es.WriteResult {
	for _, ev := range events {
		s.position++
		s.events[stream] = append(s.events[stream], &es.RecordedEvent{
			EventData: ev,
			StreamID:  stream,
			Revision:  uint64(len(s.events[stream])),
			Position:  s.position,
		})
	}
	return es.WriteResult{
		NextExpectedRevision: uint64(len(s.events[stream]) - 1),
		Position:             s.position,
	}
}

// Append implements Store.Append. Expected states are not checked.
func (s *StoreSpy) Append(ctx context.Context, stream string, expected es.StreamState, events ...es.EventData) (es.WriteResult, error) {
	s.mu.Lock()
	s.AppendCalls++
	s.LastAppendStream = stream
	s.LastAppendEvents = events
	s.LastAppendExpected = expected
	s.mu.Unlock()

	if s.AppendFn != nil {
		return s.AppendFn(ctx, stream, expected, events...)
	}

	if s.appendErr != nil {
		return es.WriteResult{}, s.appendErr
	}

	if err := es.ValidateAppend(stream, events); err != nil {
		return es.WriteResult{}, es.WrapAppendError(stream, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record(stream, events), nil
}

// ReadFromStart implements Store.ReadFromStart.
func (s *StoreSpy) ReadFromStart(ctx context.Context, stream string) (*es.Iterator[*es.RecordedEvent], error) {
	s.mu.Lock()
	s.ReadFromStartCalls++
	s.LastReadStream = stream
	s.mu.Unlock()

	if s.ReadFromStartFn != nil {
		return s.ReadFromStartFn(ctx, stream)
	}

	return s.readFrom(stream, 0)
}

// ReadFrom implements Store.ReadFrom.
func (s *StoreSpy) ReadFrom(ctx context.Context, stream string, revision uint64) (*es.Iterator[*es.RecordedEvent], error) {
	s.mu.Lock()
	s.ReadFromCalls++
	s.LastReadStream = stream
	s.mu.Unlock()

	if s.ReadFromFn != nil {
		return s.ReadFromFn(ctx, stream, revision)
	}

	return s.readFrom(stream, revision)
}

func (s *StoreSpy) readFrom(stream string, revision uint64) (*es.Iterator[*es.RecordedEvent], error) {
	if s.readErr != nil {
		return nil, s.readErr
	}

	s.mu.Lock()
	events, ok := s.events[stream]
	s.mu.Unlock()

	if !ok {
		return nil, es.WrapReadError(stream, es.ErrStreamNotFound)
	}

	var filtered []*es.RecordedEvent
	for _, e := range events {
		if e.Revision >= revision {
			filtered = append(filtered, e)
		}
	}

	return es.NewSliceIterator(filtered), nil
}

// Close implements Store.Close.
func (s *StoreSpy) Close() error {
	s.mu.Lock()
	s.CloseCalls++
	s.mu.Unlock()

	if s.CloseFn != nil {
		return s.CloseFn()
	}
	return nil
}

// Reset clears all call counts and stored data.
func (s *StoreSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.AppendCalls = 0
	s.ReadFromStartCalls = 0
	s.ReadFromCalls = 0
	s.CloseCalls = 0
	s.LastAppendStream = ""
	s.LastAppendEvents = nil
	s.LastAppendExpected = nil
	s.LastReadStream = ""
	s.events = make(map[string][]*es.RecordedEvent)
	s.position = 0
	s.readErr = nil
	s.appendErr = nil
}

// Pre-built store scenarios.

// EmptyStore returns a StoreSpy with no events.
func EmptyStore() *StoreSpy {
	return NewStoreSpy()
}

// StoreWithEvents returns a StoreSpy pre-populated with n test events.
func StoreWithEvents(stream string, n int) *StoreSpy {
	return NewStoreSpy().WithEvents(stream, NewEventData().BuildN(n)...)
}

// FailingStore returns a StoreSpy that fails on all operations.
func FailingStore(err error) *StoreSpy {
	return NewStoreSpy().FailOnRead(err).FailOnAppend(err)
}

// ConcurrencyConflictStore returns a StoreSpy that returns a concurrency conflict on append.
func ConcurrencyConflictStore(actual es.StreamState) *StoreSpy {
	store := NewStoreSpy()
	store.AppendFn = func(ctx context.Context, stream string, expected es.StreamState, events ...es.EventData) (es.WriteResult, error) {
		return es.WriteResult{}, es.WrapAppendError(stream, &es.StreamRevisionConflictError{
			Stream:           stream,
			ExpectedRevision: expected,
			ActualRevision:   actual,
		})
	}
	return store
}

// FlakyStore returns a StoreSpy whose appends and reads fail with err the
// first n times and then behave normally.
func FlakyStore(n int, err error) *StoreSpy {
	store := NewStoreSpy()
	appendFailures, readFailures := n, n
	store.AppendFn = func(ctx context.Context, stream string, expected es.StreamState, events ...es.EventData) (es.WriteResult, error) {
		store.mu.Lock()
		defer store.mu.Unlock()
		if appendFailures > 0 {
			appendFailures--
			return es.WriteResult{}, err
		}
		return store.record(stream, events), nil
	}
	store.ReadFromStartFn = func(ctx context.Context, stream string) (*es.Iterator[*es.RecordedEvent], error) {
		store.mu.Lock()
		if readFailures > 0 {
			readFailures--
			store.mu.Unlock()
			return nil, err
		}
		store.mu.Unlock()
		return store.readFrom(stream, 0)
	}
	return store
}
