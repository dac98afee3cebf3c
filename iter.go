package eventstream

import (
	"context"
	"errors"
	"io"
)

// Iterator is a lazy, pull-based sequence. The producer function returns
// io.EOF once the sequence is exhausted; any other error stops the iteration
// and is reported by Err.
type Iterator[T any] struct {
	next    func(ctx context.Context) (T, error)
	closeFn func()
	current T
	err     error
	done    bool
}

// NewIteratorFunc creates an Iterator from a function producing the next item.
func NewIteratorFunc[T any](next func(ctx context.Context) (T, error)) *Iterator[T] {
	return &Iterator[T]{next: next}
}

// NewSliceIterator creates an Iterator over a fixed slice.
func NewSliceIterator[T any](items []T) *Iterator[T] {
	idx := 0
	return NewIteratorFunc(func(ctx context.Context) (T, error) {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if idx >= len(items) {
			return zero, io.EOF
		}
		item := items[idx]
		idx++
		return item, nil
	})
}

// OnClose registers fn to release the resources behind the iterator. It runs
// once, when the iterator is exhausted, fails or is closed explicitly.
func (it *Iterator[T]) OnClose(fn func()) *Iterator[T] {
	it.closeFn = fn
	return it
}

// Next advances the iterator. It returns false when the sequence is exhausted
// or an error occurred.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.done {
		return false
	}

	v, err := it.next(ctx)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			it.err = err
		}
		var zero T
		it.current = zero
		it.Close()
		return false
	}

	it.current = v
	return true
}

// Value returns the current item.
func (it *Iterator[T]) Value() T {
	return it.current
}

// Err returns the error that stopped the iteration, or nil after a clean end.
func (it *Iterator[T]) Err() error {
	return it.err
}

// Close stops the iteration and releases its resources. It is safe to call
// more than once.
func (it *Iterator[T]) Close() {
	if it.done {
		return
	}
	it.done = true
	if it.closeFn != nil {
		it.closeFn()
	}
}

// All consumes the iterator and returns the remaining items.
func (it *Iterator[T]) All(ctx context.Context) ([]T, error) {
	var results []T
	for it.Next(ctx) {
		results = append(results, it.Value())
	}
	return results, it.Err()
}
