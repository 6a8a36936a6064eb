package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the entity does not exist or is tombstoned.
	ErrNotFound = errors.New("entity not found")
	// ErrAlreadyExists is returned by create when the id is taken.
	ErrAlreadyExists = errors.New("entity already exists")
	// ErrPurgeUnsynced is returned when a purge is attempted while log
	// entries for the entity are still waiting to be pushed.
	ErrPurgeUnsynced = errors.New("entity has unsynced operations")
	// ErrNotTombstoned is returned when purging an entity that was never deleted.
	ErrNotTombstoned = errors.New("entity is not tombstoned")
)

// Error is a local-store failure. The write it belongs to was rolled back
// in full; callers must not retry it blindly.
type Error struct {
	Op  string // e.g. "content.create"
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("local store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}
