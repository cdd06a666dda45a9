// Package protocol defines the signaling envelope exchanged with the relay.
//
// On the wire an envelope is a flat JSON object: a "type" tag plus at most one
// populated payload field (offer, answer, candidate, user, room, song). In Go the
// envelope is a sum type: every Kind decodes into exactly one Message variant,
// so a handler never has to check optional fields.
package protocol

import (
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Kind string

const (
	KindOffer       Kind = "offer"
	KindOfferStereo Kind = "offer_stereo"
	KindAnswer      Kind = "answer"
	KindCandidate   Kind = "candidate"
	KindError       Kind = "error"
	KindUser        Kind = "user"
	KindUserJoin    Kind = "user_join"
	KindUserLeave   Kind = "user_leave"
	KindRoom        Kind = "room"
	KindMute        Kind = "mute"
	KindUnmute      Kind = "unmute"
	KindEnqueue     Kind = "enqueue"
	KindNextSong    Kind = "next_song"
)

// Known reports whether k is part of the protocol.
func (k Kind) Known() bool {
	switch k {
	case KindOffer, KindOfferStereo, KindAnswer, KindCandidate, KindError,
		KindUser, KindUserJoin, KindUserLeave, KindRoom, KindMute, KindUnmute,
		KindEnqueue, KindNextSong:
		return true
	}
	return false
}

// Negotiation reports whether k is routed to the negotiation handlers.
func (k Kind) Negotiation() bool {
	return k == KindOffer || k == KindAnswer || k == KindCandidate
}

func (k Kind) isUserKind() bool {
	switch k {
	case KindUser, KindUserJoin, KindUserLeave, KindMute, KindUnmute:
		return true
	}
	return false
}

func (k Kind) isSongKind() bool {
	return k == KindEnqueue || k == KindNextSong
}

// Message is a decoded envelope.
type Message interface {
	Kind() Kind
}

// Offer carries a session description offer. Stereo offers ask the relay
// to attach the room music track.
type Offer struct {
	Stereo      bool
	Description webrtc.SessionDescription
}

func (m Offer) Kind() Kind {
	if m.Stereo {
		return KindOfferStereo
	}
	return KindOffer
}

type Answer struct {
	Description webrtc.SessionDescription
}

func (Answer) Kind() Kind { return KindAnswer }

type Candidate struct {
	Candidate webrtc.ICECandidateInit
}

func (Candidate) Kind() Kind { return KindCandidate }

// Failure is an error reported by the relay.
type Failure struct {
	Desc string
}

func (Failure) Kind() Kind { return KindError }

// UserEvent covers user, user_join, user_leave, mute and unmute. The user
// is partial: mute/unmute may carry only the id and the flag.
type UserEvent struct {
	Type Kind
	User domain.UserPatch
}

func (m UserEvent) Kind() Kind { return m.Type }

type RoomSnapshot struct {
	Room domain.RoomState
}

func (RoomSnapshot) Kind() Kind { return KindRoom }

// SongEvent covers enqueue and next_song.
type SongEvent struct {
	Type Kind
	Song domain.Song
}

func (m SongEvent) Kind() Kind { return m.Type }

// Unknown is an envelope with a type tag this package does not know.
// It is delivered, not dropped, so consumers can fail loudly on drift.
type Unknown struct {
	Type string
	Raw  []byte
}

func (m Unknown) Kind() Kind { return Kind(m.Type) }
