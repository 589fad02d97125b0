package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an id or protocol id matches no row.
	// Callers treat it as a benign no-op.
	ErrNotFound = errors.New("store: message not found")
	// ErrEmptyBody rejects messages without displayable text.
	ErrEmptyBody = errors.New("store: message body is empty")
	// ErrEmptyContact rejects messages without a conversation partner.
	ErrEmptyContact = errors.New("store: contact id is empty")
)

// Error wraps a failed store operation. Callers can use errors.As to tell
// storage failures apart from transport failures.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}
