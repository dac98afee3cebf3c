package account

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// StreamPrefix starts the name of every account stream.
const StreamPrefix = "account_"

var ErrNotAccountStream = errors.New("not an account stream")

// StreamName returns the name of the stream holding the events of account id.
func StreamName(id uuid.UUID) string {
	return StreamPrefix + id.String()
}

// StreamNameOf returns the stream an event belongs to.
func StreamNameOf(e Event) string {
	return StreamName(e.AggregateID())
}

// ParseStreamName returns the account id a stream name was derived from.
func ParseStreamName(name string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(name, StreamPrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("%q: %w", name, ErrNotAccountStream)
	}
	id, err := uuid.Parse(raw)
	if err != nil || id.String() != raw {
		return uuid.Nil, fmt.Errorf("%q: malformed account id: %w", name, ErrNotAccountStream)
	}
	return id, nil
}
