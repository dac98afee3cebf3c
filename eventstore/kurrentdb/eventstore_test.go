package kurrentdb

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"

	"github.com/terraskye/eventstream"
)

func TestConnectionString(t *testing.T) {
	const tmpl = "esdb://admin:changeit@db:2113?tls=true&tlsCaFile=ca.crt&userCertFile=tls.crt&userKeyFile=tls.key"

	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{
			name: "substitutes every certificate file",
			cfg:  Config{URL: tmpl, CertPath: "/etc/certs"},
			want: "esdb://admin:changeit@db:2113?tls=true&tlsCaFile=/etc/certs/ca.crt&userCertFile=/etc/certs/tls.crt&userKeyFile=/etc/certs/tls.key",
		},
		{
			name: "trailing slash",
			cfg:  Config{URL: tmpl, CertPath: "/etc/certs/"},
			want: "esdb://admin:changeit@db:2113?tls=true&tlsCaFile=/etc/certs/ca.crt&userCertFile=/etc/certs/tls.crt&userKeyFile=/etc/certs/tls.key",
		},
		{
			name: "cert path containing a file name is not substituted twice",
			cfg:  Config{URL: "esdb://db:2113?tlsCaFile=ca.crt&userCertFile=tls.crt&userKeyFile=tls.key", CertPath: "/tls.key"},
			want: "esdb://db:2113?tlsCaFile=/tls.key/ca.crt&userCertFile=/tls.key/tls.crt&userKeyFile=/tls.key/tls.key",
		},
		{
			name: "host and path are left alone",
			cfg:  Config{URL: "esdb://ca.crt:2113/tls.key?tls=true&tlsCaFile=ca.crt&userCertFile=tls.crt&userKeyFile=tls.key", CertPath: "/etc/certs"},
			want: "esdb://ca.crt:2113/tls.key?tls=true&tlsCaFile=/etc/certs/ca.crt&userCertFile=/etc/certs/tls.crt&userKeyFile=/etc/certs/tls.key",
		},
		{
			name: "absolute file is kept",
			cfg:  Config{URL: "esdb://db:2113?tlsCaFile=/opt/ca.pem&userCertFile=tls.crt&userKeyFile=tls.key", CertPath: "/etc/certs"},
			want: "esdb://db:2113?tlsCaFile=/opt/ca.pem&userCertFile=/etc/certs/tls.crt&userKeyFile=/etc/certs/tls.key",
		},
		{
			name:    "missing user key",
			cfg:     Config{URL: "esdb://db:2113?tls=true&tlsCaFile=ca.crt&userCertFile=tls.crt", CertPath: "/etc/certs"},
			wantErr: true,
		},
		{
			name:    "empty ca file",
			cfg:     Config{URL: "esdb://db:2113?tlsCaFile=&userCertFile=tls.crt&userKeyFile=tls.key", CertPath: "/etc/certs"},
			wantErr: true,
		},
		{
			name:    "unparsable url",
			cfg:     Config{URL: "esdb://db:port?tlsCaFile=ca.crt", CertPath: "/etc/certs"},
			wantErr: true,
		},
		{
			name: "no cert path",
			cfg:  Config{URL: "esdb://localhost:2113?tls=false"},
			want: "esdb://localhost:2113?tls=false",
		},
		{
			name:    "no url",
			cfg:     Config{CertPath: "/etc/certs"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.ConnectionString()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("ESDB_URL", "esdb://db:2113?tlsCaFile=ca.crt")
	t.Setenv("ESDB_CERT_PATH", "/certs")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.URL != "esdb://db:2113?tlsCaFile=ca.crt" || cfg.CertPath != "/certs" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	t.Setenv("ESDB_URL", "")
	if _, err := LoadConfig(); err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected a parse env error, got %v", err)
	}
}

func TestStreamState(t *testing.T) {
	tests := []struct {
		in   eventstream.StreamState
		want kurrentdb.StreamState
	}{
		{eventstream.Any{}, kurrentdb.Any{}},
		{eventstream.NoStream{}, kurrentdb.NoStream{}},
		{eventstream.StreamExists{}, kurrentdb.StreamExists{}},
		{eventstream.Revision(7), kurrentdb.StreamRevision{Value: 7}},
	}
	for _, tt := range tests {
		got, err := streamState(tt.in)
		if err != nil {
			t.Fatalf("%v: unexpected error %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("%v: got %#v, want %#v", tt.in, got, tt.want)
		}
	}
	if _, err := streamState(nil); !errors.Is(err, eventstream.ErrInvalidRevision) {
		t.Errorf("expected ErrInvalidRevision for nil state, got %v", err)
	}
}

type fakeReceiver struct {
	events []*kurrentdb.ResolvedEvent
	err    error
	closed int
}

func (f *fakeReceiver) Recv() (*kurrentdb.ResolvedEvent, error) {
	if len(f.events) == 0 {
		return nil, f.err
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev, nil
}

func (f *fakeReceiver) Close() { f.closed++ }

func resolved(stream string, n uint64) *kurrentdb.ResolvedEvent {
	return &kurrentdb.ResolvedEvent{Event: &kurrentdb.RecordedEvent{
		EventID:      uuid.New(),
		EventType:    "AccountBalanceChanged",
		StreamID:     stream,
		EventNumber:  n,
		Position:     kurrentdb.Position{Commit: 100 + n, Prepare: 100 + n},
		CreatedDate:  time.Unix(1700000000, 0).UTC(),
		Data:         []byte(`{"delta":1}`),
		UserMetadata: []byte(`{}`),
	}}
}

func fakeStore(rs *fakeReceiver, readErr error) (*eventstore, *[]kurrentdb.EventData, *kurrentdb.AppendToStreamOptions) {
	var (
		appended []kurrentdb.EventData
		options  kurrentdb.AppendToStreamOptions
	)
	return &eventstore{
		append: func(ctx context.Context, stream string, opts kurrentdb.AppendToStreamOptions, events ...kurrentdb.EventData) (*kurrentdb.WriteResult, error) {
			appended = append(appended, events...)
			options = opts
			return &kurrentdb.WriteResult{NextExpectedVersion: uint64(len(events) - 1), CommitPosition: 42}, nil
		},
		read: func(ctx context.Context, stream string, opts kurrentdb.ReadStreamOptions, count uint64) (receiver, error) {
			if readErr != nil {
				return nil, readErr
			}
			return rs, nil
		},
		close: func() error { return nil },
	}, &appended, &options
}

func TestAppend(t *testing.T) {
	store, appended, options := fakeStore(nil, nil)

	events := []eventstream.EventData{
		{EventID: uuid.New(), EventType: "AccountCreated", Data: []byte(`{"a":1}`)},
		{EventID: uuid.New(), EventType: "AccountBalanceChanged", Data: []byte(`{"b":2}`), Metadata: []byte(`{"m":3}`)},
	}
	result, err := store.Append(t.Context(), "account_1", eventstream.Revision(4), events...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.NextExpectedRevision != 1 || result.Position != 42 {
		t.Fatalf("unexpected result %+v", result)
	}
	if options.StreamState != (kurrentdb.StreamRevision{Value: 4}) {
		t.Fatalf("unexpected stream state %#v", options.StreamState)
	}
	if len(*appended) != 2 {
		t.Fatalf("expected 2 events, got %d", len(*appended))
	}
	for i, ev := range *appended {
		if ev.EventID != events[i].EventID || ev.EventType != events[i].EventType || string(ev.Data) != string(events[i].Data) {
			t.Errorf("event %d not forwarded as is: %+v", i, ev)
		}
		if ev.ContentType != kurrentdb.ContentTypeJson {
			t.Errorf("event %d: expected JSON content type", i)
		}
	}
	if string((*appended)[1].Metadata) != `{"m":3}` {
		t.Errorf("metadata not forwarded")
	}
}

func TestAppendValidatesBeforeSending(t *testing.T) {
	store, appended, _ := fakeStore(nil, nil)

	_, err := store.Append(t.Context(), "account_1", eventstream.Any{})
	var appendErr *eventstream.AppendError
	if !errors.As(err, &appendErr) || !errors.Is(err, eventstream.ErrEmptyBatch) {
		t.Fatalf("expected *AppendError wrapping ErrEmptyBatch, got %v", err)
	}
	if len(*appended) != 0 {
		t.Fatal("expected nothing to be sent")
	}
}

func TestReadFromStart(t *testing.T) {
	rs := &fakeReceiver{
		events: []*kurrentdb.ResolvedEvent{resolved("account_1", 0), resolved("account_1", 1)},
		err:    io.EOF,
	}
	store, _, _ := fakeStore(rs, nil)

	iter, err := store.ReadFromStart(t.Context(), "account_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	events, err := iter.All(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Revision != uint64(i) || ev.Position != 100+uint64(i) || ev.StreamID != "account_1" {
			t.Errorf("event %d: unexpected position %+v", i, ev)
		}
		if string(ev.Data) != `{"delta":1}` || string(ev.Metadata) != `{}` {
			t.Errorf("event %d: unexpected payload", i)
		}
	}
	if rs.closed != 1 {
		t.Fatalf("expected read stream to be closed once, got %d", rs.closed)
	}
}

func TestReadFromStartFailures(t *testing.T) {
	boom := errors.New("unavailable")

	t.Run("first receive fails", func(t *testing.T) {
		rs := &fakeReceiver{err: boom}
		store, _, _ := fakeStore(rs, nil)

		_, err := store.ReadFromStart(t.Context(), "account_1")
		var readErr *eventstream.ReadError
		if !errors.As(err, &readErr) || !errors.Is(err, boom) {
			t.Fatalf("expected *ReadError wrapping %v, got %v", boom, err)
		}
		if rs.closed != 1 {
			t.Fatal("expected read stream to be closed")
		}
	})

	t.Run("read call fails", func(t *testing.T) {
		store, _, _ := fakeStore(nil, boom)
		if _, err := store.ReadFromStart(t.Context(), "account_1"); !errors.Is(err, boom) {
			t.Fatalf("expected %v, got %v", boom, err)
		}
	})

	t.Run("fails mid stream", func(t *testing.T) {
		rs := &fakeReceiver{events: []*kurrentdb.ResolvedEvent{resolved("account_1", 0)}, err: boom}
		store, _, _ := fakeStore(rs, nil)

		iter, err := store.ReadFromStart(t.Context(), "account_1")
		if err != nil {
			t.Fatal(err)
		}
		events, err := iter.All(t.Context())
		if len(events) != 1 || !errors.Is(err, boom) {
			t.Fatalf("expected one event then %v, got %d and %v", boom, len(events), err)
		}
	})

	t.Run("invalid name", func(t *testing.T) {
		store, _, _ := fakeStore(nil, nil)
		if _, err := store.ReadFromStart(t.Context(), "$all"); !errors.Is(err, eventstream.ErrInvalidStreamName) {
			t.Fatalf("expected ErrInvalidStreamName, got %v", err)
		}
	})
}
