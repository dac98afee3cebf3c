package memory_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"

	es "github.com/terraskye/eventstream"
	"github.com/terraskye/eventstream/eventstore/memory"
)

func newEvent(typ, data string) es.EventData {
	return es.EventData{
		EventID:   uuid.New(),
		EventType: typ,
		Data:      []byte(data),
	}
}

func newBatch(n int) []es.EventData {
	events := make([]es.EventData, n)
	for i := range events {
		events[i] = newEvent("ItemAdded", fmt.Sprintf(`{"n":%d}`, i))
	}
	return events
}

func readAll(t *testing.T, store es.Store, stream string) []*es.RecordedEvent {
	t.Helper()
	iter, err := store.ReadFromStart(t.Context(), stream)
	if err != nil {
		t.Fatalf("read %q: %v", stream, err)
	}
	events, err := iter.All(t.Context())
	if err != nil {
		t.Fatalf("iterate %q: %v", stream, err)
	}
	return events
}

func assertSame(t *testing.T, want []es.EventData, got []*es.RecordedEvent) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].EventID != want[i].EventID || got[i].EventType != want[i].EventType {
			t.Errorf("event %d: expected %s/%s, got %s/%s", i, want[i].EventID, want[i].EventType, got[i].EventID, got[i].EventType)
		}
		if !bytes.Equal(got[i].Data, want[i].Data) {
			t.Errorf("event %d: expected data %s, got %s", i, want[i].Data, got[i].Data)
		}
		if got[i].Revision != uint64(i) {
			t.Errorf("event %d: expected revision %d, got %d", i, i, got[i].Revision)
		}
	}
}

func TestAppend_ReadBackBatch(t *testing.T) {
	store := memory.NewMemoryStore()
	defer store.Close()

	batch := newBatch(4)
	result, err := store.Append(t.Context(), "account_1", es.NoStream{}, batch...)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result.NextExpectedRevision != 3 {
		t.Errorf("expected NextExpectedRevision 3, got %d", result.NextExpectedRevision)
	}
	if result.Position != 4 {
		t.Errorf("expected Position 4, got %d", result.Position)
	}

	got := readAll(t, store, "account_1")
	assertSame(t, batch, got)
	for _, ev := range got {
		if ev.StreamID != "account_1" {
			t.Errorf("expected stream account_1, got %q", ev.StreamID)
		}
	}
}

func TestAppend_TwoBatchesConcatenate(t *testing.T) {
	store := memory.NewMemoryStore()
	defer store.Close()

	first, second := newBatch(2), newBatch(3)
	r1, err := store.Append(t.Context(), "account_1", es.Any{}, first...)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := store.Append(t.Context(), "account_1", es.Revision(r1.NextExpectedRevision), second...)
	if err != nil {
		t.Fatal(err)
	}
	if r2.Position <= r1.Position {
		t.Errorf("expected position to grow, got %d then %d", r1.Position, r2.Position)
	}

	assertSame(t, append(first, second...), readAll(t, store, "account_1"))
}

func TestRead_AbsentStream(t *testing.T) {
	store := memory.NewMemoryStore()
	defer store.Close()

	_, err := store.ReadFromStart(t.Context(), "account_1")
	var readErr *es.ReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("expected *ReadError, got %v", err)
	}
	if !errors.Is(err, es.ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound, got %v", err)
	}

	if _, err := store.Append(t.Context(), "account_1", es.NoStream{}, newBatch(1)...); err != nil {
		t.Fatal(err)
	}
	if got := readAll(t, store, "account_1"); len(got) != 1 {
		t.Fatalf("expected stream to be present with 1 event, got %d", len(got))
	}
}

func TestAppend_Validation(t *testing.T) {
	store := memory.NewMemoryStore()
	defer store.Close()

	dup := newEvent("T", "{}")
	tests := []struct {
		name   string
		stream string
		events []es.EventData
		want   error
	}{
		{"empty batch", "account_1", nil, es.ErrEmptyBatch},
		{"bad stream name", "$system", newBatch(1), es.ErrInvalidStreamName},
		{"duplicate ids", "account_1", []es.EventData{dup, dup}, es.ErrDuplicateEventID},
		{"nil id", "account_1", []es.EventData{{EventType: "T"}}, es.ErrInvalidEventData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Append(t.Context(), tt.stream, es.Any{}, tt.events...)
			var appendErr *es.AppendError
			if !errors.As(err, &appendErr) {
				t.Fatalf("expected *AppendError, got %v", err)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if streams := store.Streams(); len(streams) != 0 {
		t.Fatalf("expected no stream to be created, got %v", streams)
	}
}

func TestAppend_ExpectedState(t *testing.T) {
	tests := []struct {
		name     string
		existing int
		expected es.StreamState
		want     error
	}{
		{"no stream on absent", 0, es.NoStream{}, nil},
		{"no stream on present", 2, es.NoStream{}, es.ErrStreamExists},
		{"exists on present", 2, es.StreamExists{}, nil},
		{"exists on absent", 0, es.StreamExists{}, es.ErrStreamNotFound},
		{"revision matches", 2, es.Revision(1), nil},
		{"revision stale", 3, es.Revision(1), es.ErrWrongExpectedRevision},
		{"revision ahead", 2, es.Revision(5), es.ErrWrongExpectedRevision},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewMemoryStore()
			defer store.Close()

			if tt.existing > 0 {
				if _, err := store.Append(t.Context(), "account_1", es.Any{}, newBatch(tt.existing)...); err != nil {
					t.Fatal(err)
				}
			}

			_, err := store.Append(t.Context(), "account_1", tt.expected, newBatch(2)...)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if got := readAll(t, store, "account_1"); len(got) != tt.existing+2 {
					t.Fatalf("expected %d events, got %d", tt.existing+2, len(got))
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var conflict *es.StreamRevisionConflictError
			if !errors.As(err, &conflict) || !errors.Is(err, es.ErrWrongExpectedRevision) {
				t.Fatalf("expected a conflict wrapping ErrWrongExpectedRevision, got %v", err)
			}
			if tt.existing > 0 {
				if got := readAll(t, store, "account_1"); len(got) != tt.existing {
					t.Fatalf("expected failed append to leave %d events, got %d", tt.existing, len(got))
				}
			}
		})
	}
}

func TestAppend_ConflictReportsActualRevision(t *testing.T) {
	store := memory.NewMemoryStore()
	defer store.Close()

	if _, err := store.Append(t.Context(), "account_1", es.Any{}, newBatch(3)...); err != nil {
		t.Fatal(err)
	}
	_, err := store.Append(t.Context(), "account_1", es.Revision(0), newBatch(1)...)

	var conflict *es.StreamRevisionConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected *StreamRevisionConflictError, got %v", err)
	}
	if conflict.ActualRevision != es.Revision(2) || conflict.ExpectedRevision != es.Revision(0) {
		t.Errorf("unexpected conflict %v", conflict)
	}
}

func TestRead_IsRestartableSnapshot(t *testing.T) {
	store := memory.NewMemoryStore()
	defer store.Close()

	batch := newBatch(3)
	if _, err := store.Append(t.Context(), "account_1", es.Any{}, batch...); err != nil {
		t.Fatal(err)
	}

	iter, err := store.ReadFromStart(t.Context(), "account_1")
	if err != nil {
		t.Fatal(err)
	}
	if !iter.Next(t.Context()) {
		t.Fatalf("expected first event, got %v", iter.Err())
	}
	iter.Value().Data[0] = 'X'

	if _, err := store.Append(t.Context(), "account_1", es.Any{}, newBatch(2)...); err != nil {
		t.Fatal(err)
	}

	rest, err := iter.All(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(rest) != 2 {
		t.Fatalf("expected the open read to finish its 3-event snapshot, got %d more", len(rest))
	}

	again := readAll(t, store, "account_1")
	assertSame(t, batch, again[:3])
	if len(again) != 5 {
		t.Fatalf("expected a new read to see 5 events, got %d", len(again))
	}
}

func TestReadFrom(t *testing.T) {
	store := memory.NewMemoryStore()
	defer store.Close()

	batch := newBatch(4)
	if _, err := store.Append(t.Context(), "account_1", es.Any{}, batch...); err != nil {
		t.Fatal(err)
	}

	iter, err := store.ReadFrom(t.Context(), "account_1", 2)
	if err != nil {
		t.Fatal(err)
	}
	got, err := iter.All(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].EventID != batch[2].EventID || got[0].Revision != 2 {
		t.Fatalf("unexpected events %v", got)
	}

	iter, err = store.ReadFrom(t.Context(), "account_1", 4)
	if err != nil {
		t.Fatal(err)
	}
	if iter.Next(t.Context()) {
		t.Fatal("expected reading from the end to be empty")
	}

	if _, err := store.ReadFrom(t.Context(), "account_1", 5); !errors.Is(err, es.ErrInvalidRevision) {
		t.Fatalf("expected ErrInvalidRevision, got %v", err)
	}
}

func TestContextCancellation(t *testing.T) {
	store := memory.NewMemoryStore()
	defer store.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if _, err := store.Append(ctx, "account_1", es.Any{}, newBatch(1)...); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(store.Streams()) != 0 {
		t.Fatal("expected canceled append to have no effect")
	}

	if _, err := store.Append(t.Context(), "account_1", es.Any{}, newBatch(2)...); err != nil {
		t.Fatal(err)
	}
	iter, err := store.ReadFromStart(t.Context(), "account_1")
	if err != nil {
		t.Fatal(err)
	}
	if iter.Next(ctx) {
		t.Fatal("expected canceled context to stop delivery")
	}
	var readErr *es.ReadError
	if !errors.As(iter.Err(), &readErr) || !errors.Is(iter.Err(), context.Canceled) {
		t.Fatalf("expected *ReadError wrapping context.Canceled, got %v", iter.Err())
	}
}

func TestConcurrentStreams(t *testing.T) {
	store := memory.NewMemoryStore()
	defer store.Close()

	const streams, batches = 16, 10
	var wg sync.WaitGroup
	for s := 0; s < streams; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			stream := fmt.Sprintf("account_%d", s)
			for b := 0; b < batches; b++ {
				if _, err := store.Append(context.Background(), stream, es.StateOf(b*2), newBatch(2)...); err != nil {
					t.Errorf("stream %s batch %d: %v", stream, b, err)
					return
				}
			}
		}(s)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for s := 0; s < streams; s++ {
		got := readAll(t, store, fmt.Sprintf("account_%d", s))
		if len(got) != batches*2 {
			t.Fatalf("stream %d: expected %d events, got %d", s, batches*2, len(got))
		}
		for i, ev := range got {
			if ev.Revision != uint64(i) {
				t.Fatalf("stream %d: gap at %d", s, i)
			}
			if seen[ev.Position] {
				t.Fatalf("position %d assigned twice", ev.Position)
			}
			seen[ev.Position] = true
		}
	}
}

func TestClose(t *testing.T) {
	store := memory.NewMemoryStore()
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("expected Close to be idempotent, got %v", err)
	}
	if _, err := store.Append(t.Context(), "account_1", es.Any{}, newBatch(1)...); !errors.Is(err, es.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := store.ReadFromStart(t.Context(), "account_1"); !errors.Is(err, es.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}
