// Package nats stores event streams in a NATS JetStream stream.
//
// Each event stream maps to one subject and each append to one message on that
// subject, so a batch is stored atomically. Optimistic concurrency relies on
// the server checking the last sequence of the subject.
package nats

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/terraskye/eventstream"
)

const (
	headerRevision = "Eventstream-Revision"
	headerCount    = "Eventstream-Count"

	// appends with Any or StreamExists retry this often when they lose a race
	maxAppendAttempts = 5
)

var _ eventstream.Store = (*EventStore)(nil)

type EventStore struct {
	nc            *natsgo.Conn
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string

	closeOnce sync.Once
}

// NewEventStore connects to the server and ensures the JetStream stream
// exists. A nil log uses slog.Default.
func NewEventStore(ctx context.Context, cfg Config, log *slog.Logger) (*EventStore, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}

	nc, err := natsgo.Connect(cfg.URL, natsgo.MaxReconnects(3))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, err
	}

	storage := jetstream.FileStorage
	if cfg.MemoryStorage {
		storage = jetstream.MemoryStorage
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Storage:     storage,
		Retention:   jetstream.LimitsPolicy,
		DenyDelete:  true,
		DenyPurge:   true,
		AllowDirect: true,
		Duplicates:  2 * time.Minute,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.Stream, err)
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", cfg.Stream),
		slog.String("subjectPrefix", cfg.SubjectPrefix),
	)
	log.Debug("ensured stream")

	return &EventStore{
		nc:            nc,
		js:            js,
		stream:        stream,
		log:           log,
		subjectPrefix: cfg.SubjectPrefix,
	}, nil
}

// storedEvent is the JSON form of one event inside a batch message.
type storedEvent struct {
	ID       uuid.UUID `json:"id"`
	Type     string    `json:"type"`
	Data     []byte    `json:"data"`
	Metadata []byte    `json:"metadata,omitempty"`
}

func (e *EventStore) subject(stream string) (string, error) {
	if err := eventstream.ValidateStreamName(stream); err != nil {
		return "", err
	}
	if strings.ContainsAny(stream, ".*>") {
		return "", fmt.Errorf("%w: %q is not a valid subject token", eventstream.ErrInvalidStreamName, stream)
	}
	return e.subjectPrefix + "." + stream, nil
}

// head returns the sequence of the last message of subject and the number of
// events in the stream, or zeros when the stream does not exist.
func (e *EventStore) head(ctx context.Context, subject string) (seq uint64, count int, err error) {
	msg, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	last, err := lastRevision(msg.Header)
	if err != nil {
		return 0, 0, err
	}
	return msg.Sequence, int(last) + 1, nil
}

func lastRevision(h natsgo.Header) (uint64, error) {
	rev, err := strconv.ParseUint(h.Get(headerRevision), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("message without a valid %s header: %w", headerRevision, err)
	}
	return rev, nil
}

func encodeBatch(events []eventstream.EventData) ([]byte, error) {
	stored := make([]storedEvent, len(events))
	for i, ev := range events {
		stored[i] = storedEvent{
			ID:       ev.EventID,
			Type:     ev.EventType,
			Data:     ev.Data,
			Metadata: ev.Metadata,
		}
	}
	return json.Marshal(stored)
}

// decodeBatch turns a batch message into recorded events, keeping those at or
// after from.
func decodeBatch(stream string, msg *jetstream.RawStreamMsg, from uint64) ([]*eventstream.RecordedEvent, error) {
	var stored []storedEvent
	if err := json.Unmarshal(msg.Data, &stored); err != nil {
		return nil, fmt.Errorf("decode message %d: %w", msg.Sequence, err)
	}
	last, err := lastRevision(msg.Header)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 || uint64(len(stored)) > last+1 {
		return nil, fmt.Errorf("message %d: %d events do not end at revision %d", msg.Sequence, len(stored), last)
	}

	first := last + 1 - uint64(len(stored))
	events := make([]*eventstream.RecordedEvent, 0, len(stored))
	for i, ev := range stored {
		rev := first + uint64(i)
		if rev < from {
			continue
		}
		events = append(events, &eventstream.RecordedEvent{
			EventData: eventstream.EventData{
				EventID:   ev.ID,
				EventType: ev.Type,
				Data:      ev.Data,
				Metadata:  ev.Metadata,
			},
			StreamID:  stream,
			Revision:  rev,
			Position:  msg.Sequence,
			CreatedAt: msg.Time,
		})
	}
	return events, nil
}

// sameBatch reports whether msg holds exactly the batch of n events encoded
// as payload on subject.
func sameBatch(msg *jetstream.RawStreamMsg, subject string, payload []byte, n int) bool {
	return msg.Subject == subject &&
		msg.Header.Get(headerCount) == strconv.Itoa(n) &&
		bytes.Equal(msg.Data, payload)
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

// Append stores the batch as one message. Events of a batch share the
// message's stream sequence as their position.
func (e *EventStore) Append(ctx context.Context, stream string, expected eventstream.StreamState, events ...eventstream.EventData) (eventstream.WriteResult, error) {
	if err := eventstream.ValidateAppend(stream, events); err != nil {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
	}
	subject, err := e.subject(stream)
	if err != nil {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
	}
	if err := ctx.Err(); err != nil {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
	}

	payload, err := encodeBatch(events)
	if err != nil {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
	}

	for attempt := 1; ; attempt++ {
		seq, count, err := e.head(ctx, subject)
		if err != nil {
			return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
		}
		if err := eventstream.CheckState(stream, expected, count); err != nil {
			return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
		}

		last := uint64(count + len(events) - 1)
		msg := natsgo.NewMsg(subject)
		msg.Header.Set(headerRevision, strconv.FormatUint(last, 10))
		msg.Header.Set(headerCount, strconv.Itoa(len(events)))
		msg.Data = payload

		ack, err := e.js.PublishMsg(ctx, msg,
			jetstream.WithMsgID(events[0].EventID.String()),
			jetstream.WithExpectLastSequencePerSubject(seq),
		)
		if isWrongLastSequence(err) {
			switch expected.(type) {
			case eventstream.Any, eventstream.StreamExists:
				if attempt < maxAppendAttempts {
					e.log.Debug("append lost a race, retrying", slog.String("subject", subject), slog.Int("attempt", attempt))
					continue
				}
			}
			conflict := &eventstream.StreamRevisionConflictError{
				Stream:           stream,
				ExpectedRevision: expected,
			}
			if _, count, err := e.head(ctx, subject); err == nil {
				conflict.ActualRevision = eventstream.StateOf(count)
			}
			return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, conflict)
		}
		if err != nil {
			return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
		}

		if ack.Duplicate {
			// the server dropped the message; only an identical batch counts as stored
			stored, err := e.stream.GetMsg(ctx, ack.Sequence)
			if err != nil {
				return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
			}
			if !sameBatch(stored, subject, payload, len(events)) {
				return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, fmt.Errorf(
					"%w: %s was already used by message %d", eventstream.ErrDuplicateEventID, events[0].EventID, ack.Sequence,
				))
			}
			if last, err = lastRevision(stored.Header); err != nil {
				return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
			}
		}

		return eventstream.WriteResult{
			NextExpectedRevision: last,
			Position:             ack.Sequence,
		}, nil
	}
}

func (e *EventStore) ReadFromStart(ctx context.Context, stream string) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	return e.ReadFrom(ctx, stream, 0)
}

// ReadFrom reads the stream as of the call: batches appended afterwards are
// not returned.
func (e *EventStore) ReadFrom(ctx context.Context, stream string, revision uint64) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	subject, err := e.subject(stream)
	if err != nil {
		return nil, eventstream.WrapReadError(stream, err)
	}

	endSeq, count, err := e.head(ctx, subject)
	if err != nil {
		return nil, eventstream.WrapReadError(stream, err)
	}
	if count == 0 {
		return nil, eventstream.WrapReadError(stream, eventstream.ErrStreamNotFound)
	}
	if revision > uint64(count) {
		return nil, eventstream.WrapReadError(stream, fmt.Errorf("%w: revision %d beyond stream end %d", eventstream.ErrInvalidRevision, revision, count))
	}

	var (
		seq     uint64 = 1
		pending []*eventstream.RecordedEvent
	)
	return eventstream.NewIteratorFunc(func(ctx context.Context) (*eventstream.RecordedEvent, error) {
		for len(pending) == 0 {
			if err := ctx.Err(); err != nil {
				return nil, eventstream.WrapReadError(stream, err)
			}
			if seq > endSeq {
				return nil, io.EOF
			}

			msg, err := e.stream.GetMsg(ctx, seq, jetstream.WithGetMsgSubject(subject))
			if err != nil {
				return nil, eventstream.WrapReadError(stream, err)
			}
			if msg.Sequence > endSeq {
				return nil, io.EOF
			}
			seq = msg.Sequence + 1

			if pending, err = decodeBatch(stream, msg, revision); err != nil {
				return nil, eventstream.WrapReadError(stream, err)
			}
		}

		ev := pending[0]
		pending = pending[1:]
		return ev, nil
	}), nil
}

func (e *EventStore) Close() error {
	e.closeOnce.Do(func() {
		e.js.CleanupPublisher()
		e.nc.Close()
		e.log.Debug("closed event store")
	})
	return nil
}
