package account

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ConstructionError reports a value that could not be built because a
// required field was missing or invalid.
type ConstructionError struct {
	Type   string
	Field  string
	Reason string
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construct %s: field %q: %s", e.Type, e.Field, e.Reason)
}

func missing(typ, field string) error {
	return &ConstructionError{Type: typ, Field: field, Reason: "required"}
}

// Account is the aggregate whose history is recorded in an account stream.
type Account struct {
	id      uuid.UUID
	name    string
	created time.Time
}

// NewAccount builds an Account. The creation time is kept in UTC at second
// precision, the resolution of its canonical text form. Names must be valid
// UTF-8 and creation years must have four digits.
func NewAccount(id uuid.UUID, name string, created time.Time) (Account, error) {
	switch {
	case id == uuid.Nil:
		return Account{}, missing("Account", "id")
	case name == "":
		return Account{}, missing("Account", "name")
	case !utf8.ValidString(name):
		return Account{}, &ConstructionError{Type: "Account", Field: "name", Reason: "not valid UTF-8"}
	case created.IsZero():
		return Account{}, missing("Account", "created")
	}
	if y := created.UTC().Year(); y < 0 || y > 9999 {
		return Account{}, &ConstructionError{Type: "Account", Field: "created", Reason: fmt.Sprintf("year %d outside 0000-9999", y)}
	}
	return Account{
		id:      id,
		name:    name,
		created: created.UTC().Truncate(time.Second),
	}, nil
}

func (a Account) ID() uuid.UUID      { return a.id }
func (a Account) Name() string       { return a.name }
func (a Account) Created() time.Time { return a.created }
