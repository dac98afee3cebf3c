package account

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/terraskye/eventstream"
)

// TimeLayout is the canonical text form of time values in event payloads.
const TimeLayout = "2006-01-02 15:04:05"

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrNonCanonical     = errors.New("payload is not in canonical form")
	ErrEventIDMismatch  = errors.New("envelope id does not match payload id")
)

// EncodeError reports an event that could not be rendered canonically.
type EncodeError struct {
	Type string
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode %s: %v", e.Type, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError reports a payload that does not match its declared event type.
type DecodeError struct {
	Type string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode renders e as the EventData appended to its stream.
func Encode(e Event) (eventstream.EventData, error) {
	data, err := EncodePayload(e)
	if err != nil {
		return eventstream.EventData{}, err
	}
	return eventstream.EventData{
		EventID:   e.EventID(),
		EventType: e.EventType(),
		Data:      data,
	}, nil
}

// EncodeAll encodes events in order.
func EncodeAll(events ...Event) ([]eventstream.EventData, error) {
	out := make([]eventstream.EventData, len(events))
	for i, e := range events {
		data, err := Encode(e)
		if err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
		out[i] = data
	}
	return out, nil
}

// EncodePayload renders the canonical JSON payload of e. Fields appear in
// declaration order, times use TimeLayout and deltas the shortest decimal
// text that parses back to the same float64. The same event always encodes to
// the same bytes.
func EncodePayload(e Event) ([]byte, error) {
	switch ev := e.(type) {
	case AccountCreated:
		b := make([]byte, 0, 160)
		b = append(b, `{"id":"`...)
		b = append(b, ev.id.String()...)
		b = append(b, `","account":{"id":"`...)
		b = append(b, ev.account.id.String()...)
		b = append(b, `","name":`...)
		name, err := json.Marshal(ev.account.name)
		if err != nil {
			return nil, &EncodeError{Type: TypeAccountCreated, Err: err}
		}
		b = append(b, name...)
		b = append(b, `,"created":"`...)
		b = ev.account.created.AppendFormat(b, TimeLayout)
		b = append(b, `"}}`...)
		return b, nil

	case AccountBalanceChanged:
		b := make([]byte, 0, 112)
		b = append(b, `{"id":"`...)
		b = append(b, ev.id.String()...)
		b = append(b, `","accountId":"`...)
		b = append(b, ev.accountID.String()...)
		b = append(b, `","delta":`...)
		b, err := appendFloat(b, ev.delta)
		if err != nil {
			return nil, &EncodeError{Type: TypeAccountBalanceChanged, Err: err}
		}
		b = append(b, '}')
		return b, nil

	case nil:
		return nil, &EncodeError{Type: "<nil>", Err: ErrUnknownEventType}
	default:
		return nil, &EncodeError{Type: fmt.Sprintf("%T", e), Err: ErrUnknownEventType}
	}
}

func appendFloat(b []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("delta %v has no JSON representation", f)
	}
	format := byte('f')
	if abs := math.Abs(f); abs != 0 && (abs < 1e-6 || abs >= 1e21) {
		format = 'e'
	}
	return strconv.AppendFloat(b, f, format, -1, 64), nil
}

// Decode builds the event of the given type from its payload. The payload
// must be exactly the canonical encoding of that event.
func Decode(eventType string, data []byte) (Event, error) {
	var (
		ev  Event
		err error
	)
	switch eventType {
	case TypeAccountCreated:
		ev, err = decodeAccountCreated(data)
	case TypeAccountBalanceChanged:
		ev, err = decodeAccountBalanceChanged(data)
	default:
		err = ErrUnknownEventType
	}
	if err != nil {
		return nil, &DecodeError{Type: eventType, Err: err}
	}

	canonical, err := EncodePayload(ev)
	if err != nil {
		return nil, &DecodeError{Type: eventType, Err: err}
	}
	if !bytes.Equal(canonical, data) {
		return nil, &DecodeError{Type: eventType, Err: ErrNonCanonical}
	}
	return ev, nil
}

// DecodeRecorded decodes an event read from a stream and checks that the
// envelope and the payload agree on the event id.
func DecodeRecorded(rec *eventstream.RecordedEvent) (Event, error) {
	ev, err := Decode(rec.EventType, rec.Data)
	if err != nil {
		return nil, err
	}
	if ev.EventID() != rec.EventID {
		return nil, &DecodeError{
			Type: rec.EventType,
			Err:  fmt.Errorf("%w: envelope %s, payload %s", ErrEventIDMismatch, rec.EventID, ev.EventID()),
		}
	}
	return ev, nil
}

type accountPayload struct {
	ID      *uuid.UUID `json:"id"`
	Name    *string    `json:"name"`
	Created *string    `json:"created"`
}

type accountCreatedPayload struct {
	ID      *uuid.UUID      `json:"id"`
	Account *accountPayload `json:"account"`
}

type accountBalanceChangedPayload struct {
	ID        *uuid.UUID `json:"id"`
	AccountID *uuid.UUID `json:"accountId"`
	Delta     *float64   `json:"delta"`
}

func unmarshalStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func decodeAccountCreated(data []byte) (Event, error) {
	var p accountCreatedPayload
	if err := unmarshalStrict(data, &p); err != nil {
		return nil, err
	}
	if p.ID == nil {
		return nil, missing(TypeAccountCreated, "id")
	}
	if p.Account == nil {
		return nil, missing(TypeAccountCreated, "account")
	}
	a := p.Account
	if a.ID == nil {
		return nil, missing("Account", "id")
	}
	if a.Name == nil {
		return nil, missing("Account", "name")
	}
	if a.Created == nil {
		return nil, missing("Account", "created")
	}
	created, err := time.ParseInLocation(TimeLayout, *a.Created, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("account created: %w", err)
	}

	acc, err := NewAccount(*a.ID, *a.Name, created)
	if err != nil {
		return nil, err
	}
	return NewAccountCreated(*p.ID, acc)
}

func decodeAccountBalanceChanged(data []byte) (Event, error) {
	var p accountBalanceChangedPayload
	if err := unmarshalStrict(data, &p); err != nil {
		return nil, err
	}
	switch {
	case p.ID == nil:
		return nil, missing(TypeAccountBalanceChanged, "id")
	case p.AccountID == nil:
		return nil, missing(TypeAccountBalanceChanged, "accountId")
	case p.Delta == nil:
		return nil, missing(TypeAccountBalanceChanged, "delta")
	}
	return NewAccountBalanceChanged(*p.ID, *p.AccountID, *p.Delta)
}
