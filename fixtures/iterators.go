package fixtures

import (
	"context"
	"io"

	es "github.com/terraskye/eventstream"
)

// EmptyIterator returns an iterator that yields no items.
func EmptyIterator() *es.Iterator[*es.RecordedEvent] {
	return es.NewIteratorFunc(func(ctx context.Context) (*es.RecordedEvent, error) {
		return nil, io.EOF
	})
}

// FailingIterator returns an iterator that fails with the given error.
func FailingIterator(err error) *es.Iterator[*es.RecordedEvent] {
	return es.NewIteratorFunc(func(ctx context.Context) (*es.RecordedEvent, error) {
		return nil, err
	})
}

// FailAfterNIterator returns an iterator that yields n items, then fails.
func FailAfterNIterator(events []*es.RecordedEvent, n int, err error) *es.Iterator[*es.RecordedEvent] {
	idx := 0
	return es.NewIteratorFunc(func(ctx context.Context) (*es.RecordedEvent, error) {
		if idx >= n {
			return nil, err
		}
		if idx >= len(events) {
			return nil, io.EOF
		}
		ev := events[idx]
		idx++
		return ev, nil
	})
}

// CountingIterator wraps a slice and counts iterations and closes.
type CountingIterator struct {
	inner  *es.Iterator[*es.RecordedEvent]
	Count  int
	Closed int
}

// NewCountingIterator creates a CountingIterator.
func NewCountingIterator(events []*es.RecordedEvent) *CountingIterator {
	ci := &CountingIterator{}
	idx := 0
	ci.inner = es.NewIteratorFunc(func(ctx context.Context) (*es.RecordedEvent, error) {
		if idx >= len(events) {
			return nil, io.EOF
		}
		ci.Count++
		ev := events[idx]
		idx++
		return ev, nil
	}).OnClose(func() { ci.Closed++ })
	return ci
}

// Iterator returns the underlying iterator.
func (c *CountingIterator) Iterator() *es.Iterator[*es.RecordedEvent] {
	return c.inner
}
