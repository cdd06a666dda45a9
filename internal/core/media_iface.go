package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// PeerConnection is the subset of a WebRTC peer connection the negotiation
// session drives. Callbacks may fire on any goroutine.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddTrack attaches a local audio track and starts sending it.
	AddTrack(LocalTrack) error

	OnNegotiationNeeded(func())
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(RemoteTrack))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))

	// Close should stop all underlying media resources.
	Close() error
}

// LocalTrack is a capturable mono PCM track. ReadFrame blocks until one
// processing quantum is available.
type LocalTrack interface {
	ID() string
	StreamID() string
	ReadFrame(ctx context.Context) ([]float32, error)
}

// RemoteTrack is a decoded inbound audio track. ReadFrame returns io.EOF
// once the source stream has ended.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Label() string
	ReadFrame(ctx context.Context) ([]float32, error)
}
