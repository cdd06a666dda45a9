package orch

import (
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/dkeye/voiceroom/internal/protocol"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	RetryOnce
	DropMessage
	LeaveRoom
)

// Policy decides what happens to an outbound envelope the signaling
// queue refused.
type Policy interface {
	OnBackPressure(room domain.RoomID, msg protocol.Message) BackpressureAction
}

// SimplePolicy retries presence announcements once and drops the rest.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(_ domain.RoomID, msg protocol.Message) BackpressureAction {
	switch msg.Kind() {
	case protocol.KindMute, protocol.KindUnmute:
		return RetryOnce
	}
	return DropMessage
}
