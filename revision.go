package eventstream

import (
	"fmt"
	"strconv"
)

// StreamState is the optimistic-concurrency precondition of an append.
type StreamState interface {
	String() string
	streamState()
}

// Any means append without checking the current revision.
type Any struct{}

func (Any) streamState()   {}
func (Any) String() string { return "any" }

// NoStream means the stream must not exist yet.
type NoStream struct{}

func (NoStream) streamState()   {}
func (NoStream) String() string { return "no stream" }

// StreamExists means the stream must already exist.
type StreamExists struct{}

func (StreamExists) streamState()   {}
func (StreamExists) String() string { return "stream exists" }

// Revision means the last event of the stream must have exactly this revision.
type Revision uint64

func (Revision) streamState()     {}
func (r Revision) String() string { return strconv.FormatUint(uint64(r), 10) }

// StateOf returns the StreamState describing a stream holding n events.
func StateOf(n int) StreamState {
	if n == 0 {
		return NoStream{}
	}
	return Revision(n - 1)
}

// CheckState verifies that a stream currently holding count events satisfies
// the expected state. Stores that track their own revisions use it before
// applying an append. Every mismatch is a *StreamRevisionConflictError.
func CheckState(stream string, expected StreamState, count int) error {
	var ok bool
	switch rev := expected.(type) {
	case Any:
		return nil
	case NoStream:
		ok = count == 0
	case StreamExists:
		ok = count != 0
	case Revision:
		ok = count != 0 && uint64(rev) == uint64(count-1)
	default:
		return fmt.Errorf("stream %q: unsupported stream state %T: %w", stream, expected, ErrInvalidRevision)
	}
	if ok {
		return nil
	}
	return &StreamRevisionConflictError{
		Stream:           stream,
		ExpectedRevision: expected,
		ActualRevision:   StateOf(count),
	}
}
