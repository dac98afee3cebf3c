package account

import (
	"github.com/google/uuid"
)

const (
	TypeAccountCreated        = "AccountCreated"
	TypeAccountBalanceChanged = "AccountBalanceChanged"
)

// Event is one of AccountCreated or AccountBalanceChanged. The set is closed:
// the codec handles every variant and nothing outside this package can add one.
type Event interface {
	EventID() uuid.UUID
	AggregateID() uuid.UUID
	EventType() string

	isAccountEvent()
}

// AccountCreated records the creation of an account and carries its snapshot.
type AccountCreated struct {
	id      uuid.UUID
	account Account
}

func NewAccountCreated(id uuid.UUID, account Account) (AccountCreated, error) {
	switch {
	case id == uuid.Nil:
		return AccountCreated{}, missing(TypeAccountCreated, "id")
	case account.id == uuid.Nil:
		return AccountCreated{}, missing(TypeAccountCreated, "account")
	case id == account.id:
		return AccountCreated{}, &ConstructionError{Type: TypeAccountCreated, Field: "id", Reason: "equals the account id"}
	}
	return AccountCreated{id: id, account: account}, nil
}

func (e AccountCreated) EventID() uuid.UUID     { return e.id }
func (e AccountCreated) AggregateID() uuid.UUID { return e.account.id }
func (e AccountCreated) EventType() string      { return TypeAccountCreated }
func (e AccountCreated) Account() Account       { return e.account }
func (AccountCreated) isAccountEvent()          {}

// AccountBalanceChanged records a signed change of an account balance.
type AccountBalanceChanged struct {
	id        uuid.UUID
	accountID uuid.UUID
	delta     float64
}

func NewAccountBalanceChanged(id, accountID uuid.UUID, delta float64) (AccountBalanceChanged, error) {
	switch {
	case id == uuid.Nil:
		return AccountBalanceChanged{}, missing(TypeAccountBalanceChanged, "id")
	case accountID == uuid.Nil:
		return AccountBalanceChanged{}, missing(TypeAccountBalanceChanged, "accountId")
	case id == accountID:
		return AccountBalanceChanged{}, &ConstructionError{Type: TypeAccountBalanceChanged, Field: "id", Reason: "equals the account id"}
	}
	return AccountBalanceChanged{id: id, accountID: accountID, delta: delta}, nil
}

func (e AccountBalanceChanged) EventID() uuid.UUID     { return e.id }
func (e AccountBalanceChanged) AggregateID() uuid.UUID { return e.accountID }
func (e AccountBalanceChanged) EventType() string      { return TypeAccountBalanceChanged }
func (e AccountBalanceChanged) AccountID() uuid.UUID   { return e.accountID }
func (e AccountBalanceChanged) Delta() float64         { return e.delta }
func (AccountBalanceChanged) isAccountEvent()          {}
