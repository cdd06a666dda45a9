package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrBadJSON          = errors.New("bad json")
	ErrMissingType      = errors.New("missing type")
	ErrMissingPayload   = errors.New("missing payload")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnhandledEvent   = errors.New("unhandled event type")
)

// Error is a protocol violation tied to one envelope. The envelope is
// dropped; the channel stays open.
type Error struct {
	Type string
	Err  error
}

func (e *Error) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("protocol: %v", e.Err)
	}
	return fmt.Sprintf("protocol: %s: %v", e.Type, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(typ string, err error) *Error {
	return &Error{Type: typ, Err: err}
}

// Unhandled is what event consumers return for a type they do not route.
func Unhandled(k Kind) error {
	return newError(string(k), ErrUnhandledEvent)
}
