package kurrentdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"

	"github.com/terraskye/eventstream"
)

var _ eventstream.Store = (*eventstore)(nil)

// receiver is the part of *kurrentdb.ReadStream the store consumes.
type receiver interface {
	Recv() (*kurrentdb.ResolvedEvent, error)
	Close()
}

type eventstore struct {
	append func(ctx context.Context, stream string, opts kurrentdb.AppendToStreamOptions, events ...kurrentdb.EventData) (*kurrentdb.WriteResult, error)
	read   func(ctx context.Context, stream string, opts kurrentdb.ReadStreamOptions, count uint64) (receiver, error)
	close  func() error

	closeOnce sync.Once
	closeErr  error
}

// NewEventStore creates a KurrentDB-backed Store. Closing the store closes db.
func NewEventStore(db *kurrentdb.Client) eventstream.Store {
	return &eventstore{
		append: db.AppendToStream,
		read: func(ctx context.Context, stream string, opts kurrentdb.ReadStreamOptions, count uint64) (receiver, error) {
			rs, err := db.ReadStream(ctx, stream, opts, count)
			if err != nil {
				return nil, err
			}
			return rs, nil
		},
		close: db.Close,
	}
}

func streamState(expected eventstream.StreamState) (kurrentdb.StreamState, error) {
	switch rev := expected.(type) {
	case eventstream.Any:
		return kurrentdb.Any{}, nil
	case eventstream.NoStream:
		return kurrentdb.NoStream{}, nil
	case eventstream.StreamExists:
		return kurrentdb.StreamExists{}, nil
	case eventstream.Revision:
		return kurrentdb.StreamRevision{Value: uint64(rev)}, nil
	default:
		return nil, fmt.Errorf("unsupported stream state %T: %w", expected, eventstream.ErrInvalidRevision)
	}
}

func (e *eventstore) Append(ctx context.Context, stream string, expected eventstream.StreamState, events ...eventstream.EventData) (eventstream.WriteResult, error) {
	if err := eventstream.ValidateAppend(stream, events); err != nil {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
	}
	state, err := streamState(expected)
	if err != nil {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
	}

	kevents := make([]kurrentdb.EventData, len(events))
	for i, ev := range events {
		kevents[i] = kurrentdb.EventData{
			EventID:     ev.EventID,
			EventType:   ev.EventType,
			ContentType: kurrentdb.ContentTypeJson,
			Data:        ev.Data,
			Metadata:    ev.Metadata,
		}
	}

	result, err := e.append(ctx, stream, kurrentdb.AppendToStreamOptions{StreamState: state}, kevents...)
	if err != nil {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, translateError(stream, expected, err))
	}

	return eventstream.WriteResult{
		NextExpectedRevision: result.NextExpectedVersion,
		Position:             result.CommitPosition,
	}, nil
}

func (e *eventstore) ReadFromStart(ctx context.Context, stream string) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	return e.readStream(ctx, stream, kurrentdb.Start{})
}

func (e *eventstore) ReadFrom(ctx context.Context, stream string, revision uint64) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	return e.readStream(ctx, stream, kurrentdb.StreamRevision{Value: revision})
}

func (e *eventstore) readStream(ctx context.Context, stream string, from kurrentdb.StreamPosition) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	if err := eventstream.ValidateStreamName(stream); err != nil {
		return nil, eventstream.WrapReadError(stream, err)
	}

	rs, err := e.read(ctx, stream, kurrentdb.ReadStreamOptions{
		Direction: kurrentdb.Forwards,
		From:      from,
	}, math.MaxUint64)
	if err != nil {
		return nil, eventstream.WrapReadError(stream, translateError(stream, nil, err))
	}

	// The server reports a missing stream on the first receive; pull it now so
	// the caller gets the error from the read call.
	first, err := rs.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		rs.Close()
		return nil, eventstream.WrapReadError(stream, translateError(stream, nil, err))
	}
	pending := first
	done := errors.Is(err, io.EOF)

	return eventstream.NewIteratorFunc(func(ctx context.Context) (*eventstream.RecordedEvent, error) {
		if err := ctx.Err(); err != nil {
			return nil, eventstream.WrapReadError(stream, err)
		}
		if done {
			return nil, io.EOF
		}

		resolved := pending
		pending = nil
		if resolved == nil {
			var err error
			resolved, err = rs.Recv()
			if errors.Is(err, io.EOF) {
				done = true
				return nil, io.EOF
			}
			if err != nil {
				return nil, eventstream.WrapReadError(stream, translateError(stream, nil, err))
			}
		}

		rec := resolved.OriginalEvent()
		if rec == nil {
			return nil, eventstream.WrapReadError(stream, errors.New("received an event without payload"))
		}
		return recordedEvent(rec), nil
	}).OnClose(rs.Close), nil
}

func recordedEvent(rec *kurrentdb.RecordedEvent) *eventstream.RecordedEvent {
	return &eventstream.RecordedEvent{
		EventData: eventstream.EventData{
			EventID:   rec.EventID,
			EventType: rec.EventType,
			Data:      rec.Data,
			Metadata:  rec.UserMetadata,
		},
		StreamID:  rec.StreamID,
		Revision:  rec.EventNumber,
		Position:  rec.Position.Commit,
		CreatedAt: rec.CreatedDate,
	}
}

func translateError(stream string, expected eventstream.StreamState, err error) error {
	var kerr *kurrentdb.Error
	if !errors.As(err, &kerr) {
		return err
	}
	switch kerr.Code() {
	case kurrentdb.ErrorCodeWrongExpectedVersion:
		return &eventstream.StreamRevisionConflictError{
			Stream:           stream,
			ExpectedRevision: expected,
		}
	case kurrentdb.ErrorCodeResourceNotFound:
		return fmt.Errorf("%w: %w", eventstream.ErrStreamNotFound, err)
	}
	return err
}

func (e *eventstore) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.close()
	})
	return e.closeErr
}
