// Package verify checks that a Store persists account streams faithfully:
// every event read back in append order, byte for byte, decoding to the
// event that was written.
package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/terraskye/eventstream"
	"github.com/terraskye/eventstream/account"
)

// Config controls a verification run.
type Config struct {
	// Streams is the number of accounts, each with its own stream.
	Streams int
	// BalanceChanges is the number of AccountBalanceChanged events following
	// the AccountCreated event of each account.
	BalanceChanges int
	// SplitBatches appends the balance changes in a second batch.
	SplitBatches bool

	// Delta produces balance deltas. Defaults to uniformly random values.
	Delta func() float64
	// Now is the clock used for account creation times.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Delta == nil {
		c.Delta = func() float64 { return rand.Float64()*200 - 100 }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Report summarises a verification run.
type Report struct {
	Streams int
	Events  int
	Append  time.Duration
	Read    time.Duration
	Total   time.Duration
}

// MismatchError describes an event read back differently from how it was
// written.
type MismatchError struct {
	Stream string
	Index  int
	Reason string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("stream %q: event %d: %s", e.Stream, e.Index, e.Reason)
}

// Run creates cfg.Streams accounts, writes their events to store and checks
// every stream reads back exactly as written. It stops at the first failure.
func Run(ctx context.Context, store eventstream.Store, cfg Config, logger *slog.Logger) (Report, error) {
	cfg = cfg.withDefaults()
	if cfg.Streams < 1 {
		return Report{}, errors.New("verify: at least one stream is required")
	}
	if cfg.BalanceChanges < 0 {
		return Report{}, errors.New("verify: balance changes must not be negative")
	}

	var report Report
	start := time.Now()

	for i := range cfg.Streams {
		events, err := NewAccountEvents(fmt.Sprintf("Test Account %d", i+1), cfg.Now(), cfg.BalanceChanges, cfg.Delta)
		if err != nil {
			return report, err
		}

		split := 0
		if cfg.SplitBatches {
			split = 1
		}
		timing, err := VerifyStream(ctx, store, events, split)
		if err != nil {
			logger.ErrorContext(ctx, "stream verification failed", "error", err)
			return report, err
		}

		report.Streams++
		report.Events += len(events)
		report.Append += timing.Append
		report.Read += timing.Read

		logger.DebugContext(ctx, "stream verified",
			"stream", account.StreamNameOf(events[0]),
			"events", len(events),
			"append", timing.Append,
			"read", timing.Read,
		)
	}

	report.Total = time.Since(start)
	logger.InfoContext(ctx, fmt.Sprintf("Persisted events: total=%d, timeTaken=%dms", report.Events, report.Total.Milliseconds()),
		"streams", report.Streams,
		"append", report.Append,
		"read", report.Read,
	)
	return report, nil
}

// NewAccountEvents builds the AccountCreated event of a new account followed
// by n balance changes.
func NewAccountEvents(name string, created time.Time, n int, delta func() float64) ([]account.Event, error) {
	acc, err := account.NewAccount(uuid.New(), name, created)
	if err != nil {
		return nil, err
	}
	first, err := account.NewAccountCreated(uuid.New(), acc)
	if err != nil {
		return nil, err
	}

	events := make([]account.Event, 0, n+1)
	events = append(events, first)
	for range n {
		changed, err := account.NewAccountBalanceChanged(uuid.New(), acc.ID(), delta())
		if err != nil {
			return nil, err
		}
		events = append(events, changed)
	}
	return events, nil
}

// Timing holds the durations of the appends and the read of one stream.
type Timing struct {
	Append time.Duration
	Read   time.Duration
}

// VerifyStream writes events to their (new) stream and reads them back. With
// split > 0 the first split events form one batch and the rest a second one,
// appended with the revision returned by the first.
func VerifyStream(ctx context.Context, store eventstream.Store, events []account.Event, split int) (Timing, error) {
	var timing Timing
	if len(events) == 0 {
		return timing, eventstream.ErrEmptyBatch
	}
	stream := account.StreamNameOf(events[0])

	data, err := account.EncodeAll(events...)
	if err != nil {
		return timing, err
	}

	if existing, err := store.ReadFromStart(ctx, stream); !errors.Is(err, eventstream.ErrStreamNotFound) {
		if existing != nil {
			existing.Close()
		}
		return timing, fmt.Errorf("stream %q: expected an absent stream, got %v", stream, err)
	}

	batches := [][]eventstream.EventData{data}
	if split > 0 && split < len(data) {
		batches = [][]eventstream.EventData{data[:split], data[split:]}
	}

	start := time.Now()
	var expected eventstream.StreamState = eventstream.NoStream{}
	for _, batch := range batches {
		result, err := store.Append(ctx, stream, expected, batch...)
		if err != nil {
			return timing, err
		}
		expected = eventstream.Revision(result.NextExpectedRevision)
	}
	timing.Append = time.Since(start)

	start = time.Now()
	iter, err := store.ReadFromStart(ctx, stream)
	if err != nil {
		return timing, err
	}
	recorded, err := iter.All(ctx)
	if err != nil {
		return timing, err
	}
	timing.Read = time.Since(start)

	return timing, Compare(stream, events, data, recorded)
}

// Compare checks recorded against the events and their encoded form.
func Compare(stream string, events []account.Event, data []eventstream.EventData, recorded []*eventstream.RecordedEvent) error {
	if len(recorded) != len(data) {
		return &MismatchError{Stream: stream, Index: len(recorded), Reason: fmt.Sprintf("read %d events, wrote %d", len(recorded), len(data))}
	}

	for i, rec := range recorded {
		switch {
		case rec.Revision != uint64(i):
			return &MismatchError{Stream: stream, Index: i, Reason: fmt.Sprintf("revision %d", rec.Revision)}
		case rec.EventID != data[i].EventID:
			return &MismatchError{Stream: stream, Index: i, Reason: fmt.Sprintf("event id %s, wrote %s", rec.EventID, data[i].EventID)}
		case rec.EventType != data[i].EventType:
			return &MismatchError{Stream: stream, Index: i, Reason: fmt.Sprintf("event type %q, wrote %q", rec.EventType, data[i].EventType)}
		case !bytes.Equal(rec.Data, data[i].Data):
			return &MismatchError{Stream: stream, Index: i, Reason: fmt.Sprintf("payload %s, wrote %s", rec.Data, data[i].Data)}
		}

		decoded, err := account.DecodeRecorded(rec)
		if err != nil {
			return err
		}
		if decoded != events[i] {
			return &MismatchError{Stream: stream, Index: i, Reason: fmt.Sprintf("decoded %+v, wrote %+v", decoded, events[i])}
		}
	}
	return nil
}
