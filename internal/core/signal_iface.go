package core

import "github.com/dkeye/voiceroom/internal/protocol"

// Subscription is a registered handler. Cancel removes it unless a newer
// registration has already replaced it.
type Subscription interface {
	Cancel()
}

// Signaler transmits envelopes to the relay.
type Signaler interface {
	Send(protocol.Message) error
}

// NegotiationSignals is what a negotiation session needs from the
// signaling channel: a way out and the three negotiation inbound kinds.
type NegotiationSignals interface {
	Signaler
	OnOffer(func(protocol.Offer)) Subscription
	OnAnswer(func(protocol.Answer)) Subscription
	OnCandidate(func(protocol.Candidate)) Subscription
}

// AudioRouter is what a negotiation session needs from the audio graph.
type AudioRouter interface {
	// InputTracks returns the tracks of the virtual input stream.
	InputTracks() []LocalTrack
	// RouteRemote attaches a remote track to the output mix until it ends.
	RouteRemote(RemoteTrack) error
}
