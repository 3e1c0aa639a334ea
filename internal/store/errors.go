package store

import "errors"

// Named business conditions surfaced by the stores. These are values, not
// fatal errors: callers branch on them and the system keeps serving vehicles.
var (
	// ErrNotFound indicates no matching session row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateOpenSession indicates the plate already has an open session.
	ErrDuplicateOpenSession = errors.New("store: duplicate open session")
	// ErrAlreadyClosed indicates a close on an already-closed session (no-op).
	ErrAlreadyClosed = errors.New("store: session already closed")
	// ErrInvalidState indicates a payment mutation on an already-paid session.
	ErrInvalidState = errors.New("store: invalid session state")
)
