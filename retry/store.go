// Package retry retries transient Store failures.
//
// Appends are retried with the same event ids, so a batch whose first attempt
// reached the server before failing is deduplicated by a server that is
// idempotent on event ids, like KurrentDB.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/terraskye/eventstream"
)

var _ eventstream.Store = (*retryStore)(nil)

type config struct {
	newBackOff func() backoff.BackOff
	notify     backoff.Notify
}

// Option configures the retrying store.
type Option func(*config)

// WithBackOff sets the factory of the retry policy used for each operation.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *config) { c.newBackOff = fn }
}

// WithNotify sets a function called after every failed attempt that will be
// retried.
func WithNotify(fn func(err error, next time.Duration)) Option {
	return func(c *config) { c.notify = fn }
}

// DefaultBackOff retries three times with exponential delays.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

type retryStore struct {
	next eventstream.Store
	cfg  config
}

// WithRetry wraps next so transient append and read failures are retried.
// Reads are retried only until the iterator is returned.
func WithRetry(next eventstream.Store, opts ...Option) eventstream.Store {
	cfg := config{newBackOff: DefaultBackOff}
	for _, o := range opts {
		o(&cfg)
	}
	return &retryStore{next: next, cfg: cfg}
}

// IsPermanent reports whether retrying err cannot succeed.
func IsPermanent(err error) bool {
	for _, target := range []error{
		eventstream.ErrWrongExpectedRevision,
		eventstream.ErrStreamExists,
		eventstream.ErrStreamNotFound,
		eventstream.ErrInvalidStreamName,
		eventstream.ErrInvalidRevision,
		eventstream.ErrEmptyBatch,
		eventstream.ErrInvalidEventData,
		eventstream.ErrDuplicateEventID,
		eventstream.ErrStoreClosed,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func classify(err error) error {
	if err != nil && IsPermanent(err) {
		return backoff.Permanent(err)
	}
	return err
}

func retry[T any](ctx context.Context, cfg config, op func() (T, error)) (T, error) {
	return backoff.RetryNotifyWithData(func() (T, error) {
		v, err := op()
		return v, classify(err)
	}, backoff.WithContext(cfg.newBackOff(), ctx), cfg.notify)
}

func (s *retryStore) Append(ctx context.Context, stream string, expected eventstream.StreamState, events ...eventstream.EventData) (eventstream.WriteResult, error) {
	return retry(ctx, s.cfg, func() (eventstream.WriteResult, error) {
		return s.next.Append(ctx, stream, expected, events...)
	})
}

func (s *retryStore) ReadFromStart(ctx context.Context, stream string) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	return retry(ctx, s.cfg, func() (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
		return s.next.ReadFromStart(ctx, stream)
	})
}

func (s *retryStore) ReadFrom(ctx context.Context, stream string, revision uint64) (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
	return retry(ctx, s.cfg, func() (*eventstream.Iterator[*eventstream.RecordedEvent], error) {
		return s.next.ReadFrom(ctx, stream, revision)
	})
}

func (s *retryStore) Close() error {
	return s.next.Close()
}
