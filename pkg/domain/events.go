package domain

import "fmt"

// EventKind names the notification emitted by a successful transition.
type EventKind string

// Event kinds, one per public transition.
const (
	EventCreated     EventKind = "created"
	EventTransferred EventKind = "transferred"
	EventBred        EventKind = "bred"
)

// Event is the structured record deposited into the event sink after a
// transition commits. Fields not relevant to the kind are zero.
type Event struct {
	Kind    EventKind `json:"kind" yaml:"kind"`
	Account AccountID `json:"account" yaml:"account"`
	To      AccountID `json:"to,omitempty" yaml:"to,omitempty"`
	ID      EntityID  `json:"id" yaml:"id"`
	Father  EntityID  `json:"father,omitempty" yaml:"father,omitempty"`
	Mother  EntityID  `json:"mother,omitempty" yaml:"mother,omitempty"`
}

// Created builds the event for a newly created kitty.
func Created(account AccountID, id EntityID) Event {
	return Event{Kind: EventCreated, Account: account, ID: id}
}

// Transferred builds the event for an ownership change.
func Transferred(from, to AccountID, id EntityID) Event {
	return Event{Kind: EventTransferred, Account: from, To: to, ID: id}
}

// Bred builds the event for a kitty produced by breeding father with mother.
func Bred(account AccountID, father, mother, id EntityID) Event {
	return Event{Kind: EventBred, Account: account, Father: father, Mother: mother, ID: id}
}

func (e Event) String() string {
	switch e.Kind {
	case EventCreated:
		return fmt.Sprintf("Created(%d, %d)", e.Account, e.ID)
	case EventTransferred:
		return fmt.Sprintf("Transferred(%d, %d, %d)", e.Account, e.To, e.ID)
	case EventBred:
		return fmt.Sprintf("Bred(%d, %d, %d, %d)", e.Account, e.Father, e.Mother, e.ID)
	default:
		return fmt.Sprintf("Event(%s)", e.Kind)
	}
}
