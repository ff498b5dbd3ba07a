package domain

import "context"

// Currency is the slice of the runtime balance ledger the stake gate needs.
// The ledger only ever reserves; releasing stake belongs to the runtime.
type Currency interface {
	Reserve(ctx context.Context, account AccountID, amount Balance) error
}

// Unreserver is implemented by currencies that can hand a reservation back.
// The dispatcher uses it only to return the stake of a transition that
// failed after reserving.
type Unreserver interface {
	Unreserve(ctx context.Context, account AccountID, amount Balance) error
}

// RandomnessSource supplies the opaque per-block seed mixed into selectors.
type RandomnessSource interface {
	Seed(ctx context.Context) ([]byte, error)
}

// EventSink receives one record per committed transition.
type EventSink interface {
	Deposit(ctx context.Context, event Event)
}
