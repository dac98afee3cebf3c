package logging

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/terraskye/eventstream"
)

var _ eventstream.Store = (*loggingStore)(nil)

type loggingStore struct {
	logger *logrus.Entry
	next   eventstream.Store
}

// WithStoreLogging wraps a Store with logging functionality.
// It logs every append and read with its stream, logs the outcome at debug
// level and every failure at error level. Concurrency conflicts are logged
// as warnings since callers are expected to handle them.
func WithStoreLogging(logger *logrus.Entry, next eventstream.Store) eventstream.Store {
	return &loggingStore{logger: logger, next: next}
}

func (s *loggingStore) Append(ctx context.Context, stream string, expected eventstream.StreamState, events ...eventstream.EventData) (eventstream.WriteResult, error) {
	l := s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"stream":   stream,
		"expected": expected,
		"events":   len(events),
	})
	if causation := eventstream.CausationFromContext(ctx); causation != "" {
		l = l.WithField("causation", causation)
	}
	l.Infof("Append: %d event(s) to %s", len(events), stream)

	result, err := s.next.Append(ctx, stream, expected, events...)
	switch {
	case errors.Is(err, eventstream.ErrWrongExpectedRevision):
		l.Warnf("Append conflict: %s: %v", stream, err)
	case err != nil:
		l.Errorf("Append failed: %s: %v", stream, err)
	default:
		l.WithFields(logrus.Fields{
			"revision": result.NextExpectedRevision,
			"position": result.Position,
		}).Debugf("Appended: %s", stream)
	}

	return result, err
}

func (s *loggingStore) ReadFromStart(ctx context.Context, stream string) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	l := s.logger.WithContext(ctx).WithField("stream", stream)
	l.Infof("Read: %s", stream)

	iter, err := s.next.ReadFromStart(ctx, stream)
	if err != nil {
		l.Errorf("Read failed: %s: %v", stream, err)
		return nil, err
	}
	return s.watch(l, stream, iter), nil
}

func (s *loggingStore) ReadFrom(ctx context.Context, stream string, revision uint64) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	l := s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"stream": stream,
		"from":   revision,
	})
	l.Infof("Read: %s from revision %d", stream, revision)

	iter, err := s.next.ReadFrom(ctx, stream, revision)
	if err != nil {
		l.Errorf("Read failed: %s: %v", stream, err)
		return nil, err
	}
	return s.watch(l, stream, iter), nil
}

// watch logs the end of an iteration and any error stopping it.
func (s *loggingStore) watch(l *logrus.Entry, stream string, iter *eventstream.Iterator[*eventstream.RecordedEvent]) *eventstream.Iterator[*eventstream.RecordedEvent] {
	count := 0
	return eventstream.NewIteratorFunc(func(ctx context.Context) (*eventstream.RecordedEvent, error) {
		if iter.Next(ctx) {
			count++
			return iter.Value(), nil
		}
		if err := iter.Err(); err != nil {
			l.WithField("events", count).Errorf("Read failed: %s: %v", stream, err)
			return nil, err
		}
		l.WithField("events", count).Debugf("Read: %s done", stream)
		return nil, io.EOF
	}).OnClose(iter.Close)
}

func (s *loggingStore) Close() error {
	if err := s.next.Close(); err != nil {
		s.logger.Errorf("Close failed: %v", err)
		return err
	}
	return nil
}
