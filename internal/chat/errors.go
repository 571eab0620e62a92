package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthMissing is returned when an operation needs a user and none is present.
	ErrAuthMissing = errors.New("no authenticated user")
	// ErrLastSession is returned when deleting the only remaining session.
	ErrLastSession = errors.New("cannot delete the last chat session")
	// ErrSessionNotFound is returned for unknown or foreign session ids.
	ErrSessionNotFound = errors.New("chat session not found")
	// ErrBusy is returned when an utterance arrives while a completion is in flight.
	ErrBusy = errors.New("a response is already being generated")
	// ErrSwitchBlocked is returned by the block policy while a reply is still being revealed.
	ErrSwitchBlocked = errors.New("cannot leave the session while a response is being revealed")
	// ErrEmptyUtterance is returned for blank user input.
	ErrEmptyUtterance = errors.New("message cannot be empty")
	// ErrClosed is returned by an engine that was evicted.
	ErrClosed = errors.New("chat engine closed")
)

// StoreFailure reports persistence errors the engine recovered from locally.
// It is non-fatal: any value returned alongside it is valid and the in-memory
// state reflects the operation.
type StoreFailure struct {
	Op  string
	Err error
}

func (e *StoreFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreFailure) Unwrap() error {
	return e.Err
}

// IsStoreFailure reports whether err carries a non-fatal StoreFailure.
func IsStoreFailure(err error) bool {
	var sf *StoreFailure
	return errors.As(err, &sf)
}

// storeFailure joins errs into a StoreFailure, or returns nil when all are nil.
func storeFailure(op string, errs ...error) error {
	err := errors.Join(errs...)
	if err == nil {
		return nil
	}
	return &StoreFailure{Op: op, Err: err}
}
