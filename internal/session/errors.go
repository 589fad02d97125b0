package session

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by operations that need an authenticated session.
var ErrNotReady = errors.New("session not authenticated")

// TransportError reports a failed connect, authenticate or send. Callers use
// errors.As to tell it apart from storage errors.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
