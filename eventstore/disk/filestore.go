// Package disk stores streams as files. Every append writes one segment file
// holding the whole batch; the segment is renamed into place only once it is
// complete, so a batch is either fully visible or not at all.
package disk

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terraskye/eventstream"
)

var _ eventstream.Store = (*FileStore)(nil)

const segmentExt = ".json"

type FileStore struct {
	baseDir string

	mu       sync.Mutex
	closed   bool
	position uint64
	counts   map[string]int
	now      func() time.Time
}

// NewFileStore opens (or creates) a store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "streams"), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	f := &FileStore{
		baseDir: dir,
		counts:  make(map[string]int),
		now:     time.Now,
	}
	if err := f.recoverPosition(); err != nil {
		return nil, err
	}
	return f, nil
}

type storedEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	EventType string    `json:"event_type"`
	Data      []byte    `json:"data"`
	Metadata  []byte    `json:"metadata,omitempty"`
	Revision  uint64    `json:"revision"`
	Position  uint64    `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

func (f *FileStore) streamDir(stream string) string {
	return filepath.Join(f.baseDir, "streams", base64.RawURLEncoding.EncodeToString([]byte(stream)))
}

func segmentName(firstRevision uint64) string {
	return fmt.Sprintf("%020d%s", firstRevision, segmentExt)
}

// segments lists the complete segment files of a stream in revision order.
func segments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), segmentExt) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}

func readSegment(path string) ([]storedEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []storedEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("segment %s: %w", filepath.Base(path), err)
	}
	return events, nil
}

func (f *FileStore) recoverPosition() error {
	root := filepath.Join(f.baseDir, "streams")
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), segmentExt) || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		events, err := readSegment(path)
		if err != nil {
			return err
		}
		for _, ev := range events {
			f.position = max(f.position, ev.Position)
		}
		return nil
	})
}

// count returns the number of events in stream. Callers hold f.mu.
func (f *FileStore) count(stream string) (int, error) {
	if n, ok := f.counts[stream]; ok {
		return n, nil
	}
	names, err := segments(f.streamDir(stream))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	if len(names) > 0 {
		last := names[len(names)-1]
		first, err := strconv.ParseUint(strings.TrimSuffix(last, segmentExt), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("segment %s: %w", last, err)
		}
		events, err := readSegment(filepath.Join(f.streamDir(stream), last))
		if err != nil {
			return 0, err
		}
		n = int(first) + len(events)
	}
	f.counts[stream] = n
	return n, nil
}

func (f *FileStore) Append(ctx context.Context, stream string, expected eventstream.StreamState, events ...eventstream.EventData) (eventstream.WriteResult, error) {
	if err := eventstream.ValidateAppend(stream, events); err != nil {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, eventstream.ErrStoreClosed)
	}

	current, err := f.count(stream)
	if err != nil {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
	}
	if err := eventstream.CheckState(stream, expected, current); err != nil {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
	}
	if err := ctx.Err(); err != nil {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
	}

	createdAt := f.now().UTC()
	position := f.position
	stored := make([]storedEvent, len(events))
	for i, ev := range events {
		position++
		stored[i] = storedEvent{
			EventID:   ev.EventID,
			EventType: ev.EventType,
			Data:      ev.Data,
			Metadata:  ev.Metadata,
			Revision:  uint64(current + i),
			Position:  position,
			CreatedAt: createdAt,
		}
	}

	if err := f.writeSegment(stream, uint64(current), stored); err != nil {
		return eventstream.WriteResult{}, eventstream.WrapAppendError(stream, err)
	}

	f.position = position
	f.counts[stream] = current + len(events)

	return eventstream.WriteResult{
		NextExpectedRevision: uint64(current + len(events) - 1),
		Position:             position,
	}, nil
}

func (f *FileStore) writeSegment(stream string, first uint64, events []storedEvent) error {
	dir := f.streamDir(stream)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(events)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".segment-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	segment := filepath.Join(dir, segmentName(first))
	if err := os.Rename(tmp.Name(), segment); err != nil {
		return err
	}
	if err := syncDir(dir); err != nil {
		_ = os.Remove(segment)
		return fmt.Errorf("sync stream dir: %w", err)
	}
	if first == 0 {
		if err := syncDir(filepath.Dir(dir)); err != nil {
			_ = os.Remove(segment)
			return fmt.Errorf("sync streams dir: %w", err)
		}
	}
	return nil
}

// syncDir flushes the entries of dir so renames into it survive a crash.
var syncDir = func(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		d.Close()
		return err
	}
	return d.Close()
}

func (f *FileStore) ReadFromStart(ctx context.Context, stream string) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	return f.ReadFrom(ctx, stream, 0)
}

func (f *FileStore) ReadFrom(ctx context.Context, stream string, revision uint64) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	if err := eventstream.ValidateStreamName(stream); err != nil {
		return nil, eventstream.WrapReadError(stream, err)
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, eventstream.WrapReadError(stream, eventstream.ErrStoreClosed)
	}
	dir := f.streamDir(stream)
	names, err := segments(dir)
	var count int
	if err == nil && len(names) > 0 {
		count, err = f.count(stream)
	}
	f.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(names) == 0) {
		return nil, eventstream.WrapReadError(stream, eventstream.ErrStreamNotFound)
	}
	if err != nil {
		return nil, eventstream.WrapReadError(stream, err)
	}
	if revision > uint64(count) {
		return nil, eventstream.WrapReadError(stream, fmt.Errorf(
			"requested revision %d but stream has %d events: %w",
			revision, count, eventstream.ErrInvalidRevision,
		))
	}

	var pending []storedEvent
	return eventstream.NewIteratorFunc(func(ctx context.Context) (*eventstream.RecordedEvent, error) {
		for {
			if err := ctx.Err(); err != nil {
				return nil, eventstream.WrapReadError(stream, err)
			}
			for len(pending) > 0 {
				ev := pending[0]
				pending = pending[1:]
				if ev.Revision < revision {
					continue
				}
				return &eventstream.RecordedEvent{
					EventData: eventstream.EventData{
						EventID:   ev.EventID,
						EventType: ev.EventType,
						Data:      ev.Data,
						Metadata:  ev.Metadata,
					},
					StreamID:  stream,
					Revision:  ev.Revision,
					Position:  ev.Position,
					CreatedAt: ev.CreatedAt,
				}, nil
			}
			if len(names) == 0 {
				return nil, io.EOF
			}
			segment, err := readSegment(filepath.Join(dir, names[0]))
			if err != nil {
				return nil, eventstream.WrapReadError(stream, err)
			}
			names = names[1:]
			pending = segment
		}
	}), nil
}

func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
