package eventstream

import (
	"errors"
	"fmt"
)

var (
	ErrStreamNotFound        = errors.New("stream not found")
	ErrStreamExists          = errors.New("stream already exists")
	ErrInvalidRevision       = errors.New("invalid revision")
	ErrWrongExpectedRevision = errors.New("wrong expected revision")
	ErrInvalidStreamName     = errors.New("invalid stream name")
	ErrEmptyBatch            = errors.New("no events to append")
	ErrInvalidEventData      = errors.New("invalid event data")
	ErrDuplicateEventID      = errors.New("duplicate event id")
	ErrStoreClosed           = errors.New("store closed")
)

// StreamRevisionConflictError is returned when the expected stream state of an
// append does not match the stream. ActualRevision is nil when the store could
// not report it.
type StreamRevisionConflictError struct {
	Stream           string
	ExpectedRevision StreamState
	ActualRevision   StreamState
}

func (s StreamRevisionConflictError) Error() string {
	actual := "unknown"
	if s.ActualRevision != nil {
		actual = s.ActualRevision.String()
	}
	return fmt.Sprintf("concurrency conflict on stream %q: (expected version %v, actual %s)", s.Stream, s.ExpectedRevision, actual)
}

// Is matches ErrWrongExpectedRevision for every conflict. A NoStream
// expectation on a present stream also matches ErrStreamExists, and a
// StreamExists expectation on an absent stream matches ErrStreamNotFound.
func (s StreamRevisionConflictError) Is(target error) bool {
	switch target {
	case ErrWrongExpectedRevision:
		return true
	case ErrStreamExists:
		_, expectedAbsent := s.ExpectedRevision.(NoStream)
		_, actualAbsent := s.ActualRevision.(NoStream)
		return expectedAbsent && s.ActualRevision != nil && !actualAbsent
	case ErrStreamNotFound:
		_, expectedPresent := s.ExpectedRevision.(StreamExists)
		_, actualAbsent := s.ActualRevision.(NoStream)
		return expectedPresent && actualAbsent
	}
	return false
}

// AppendError is returned by every failed Store.Append. Nothing of the batch
// was recorded.
type AppendError struct {
	Stream string
	Err    error
}

func (e *AppendError) Error() string {
	return fmt.Sprintf("append to stream %q: %v", e.Stream, e.Err)
}

func (e *AppendError) Unwrap() error {
	return e.Err
}

// ReadError is returned by a failed Store read, either from the read call or
// from the iterator's Err.
type ReadError struct {
	Stream string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read stream %q: %v", e.Stream, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// WrapAppendError wraps err as an *AppendError unless it already is one.
func WrapAppendError(stream string, err error) error {
	if err == nil {
		return nil
	}
	var appendErr *AppendError
	if errors.As(err, &appendErr) {
		return err
	}
	return &AppendError{Stream: stream, Err: err}
}

// WrapReadError wraps err as a *ReadError unless it already is one.
func WrapReadError(stream string, err error) error {
	if err == nil {
		return nil
	}
	var readErr *ReadError
	if errors.As(err, &readErr) {
		return err
	}
	return &ReadError{Stream: stream, Err: err}
}
