package negotiation

import (
	"errors"
	"fmt"
)

type State int32

const (
	StateIdle State = iota
	StateAwaitingLocalMedia
	StateNegotiating
	StateConnected
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingLocalMedia:
		return "awaiting_local_media"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	ErrSessionClosed           = errors.New("negotiation session closed")
	ErrInvalidState            = errors.New("invalid session state")
	ErrNoLocalTracks           = errors.New("input stream has no audio track")
	ErrAnswerWithoutOffer      = errors.New("answer without outstanding offer")
	ErrMissingLocalDescription = errors.New("missing local description")
	ErrConnectionFailed        = errors.New("peer connection failed")
)

// Error is a failed negotiation step. Fatal errors moved the session to
// StateFailed; the others were reported and the session carried on.
type Error struct {
	Op    string
	Fatal bool
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("negotiation %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Recorder observes transitions and negotiation events. The metrics
// package implements it.
type Recorder interface {
	Transition(from, to State)
	Event(name string)
}

type nopRecorder struct{}

func (nopRecorder) Transition(State, State) {}
func (nopRecorder) Event(string)            {}
