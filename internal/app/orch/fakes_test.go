package orch

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/voiceroom/internal/adapters/signal"
	"github.com/dkeye/voiceroom/internal/app/negotiation"
	"github.com/dkeye/voiceroom/internal/audio"
	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/dkeye/voiceroom/internal/protocol"
	"github.com/pion/webrtc/v4"
)

type fakeSub struct{ cancel func() }

func (s fakeSub) Cancel() { s.cancel() }

type fakeChannel struct {
	mu       sync.Mutex
	endpoint string
	sent     []protocol.Message
	opened   bool
	closed   bool
	openErr  error
	full     int

	onOffer     func(protocol.Offer)
	onAnswer    func(protocol.Answer)
	onCandidate func(protocol.Candidate)
	onEvent     func(protocol.Message)
	onOpen      func()
	onError     func(error)
	onClose     func(error)
}

func (f *fakeChannel) Send(m protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return signal.ErrChannelClosed
	}
	if f.full > 0 {
		f.full--
		return fmt.Errorf("send %s: %w", m.Kind(), signal.ErrBackpressure)
	}
	f.sent = append(f.sent, m)
	return nil
}

func setHandler[T any](mu *sync.Mutex, dst *T, fn T) core.Subscription {
	mu.Lock()
	*dst = fn
	mu.Unlock()
	return fakeSub{func() {
		mu.Lock()
		var zero T
		*dst = zero
		mu.Unlock()
	}}
}

func (f *fakeChannel) OnOffer(fn func(protocol.Offer)) core.Subscription {
	return setHandler(&f.mu, &f.onOffer, fn)
}

func (f *fakeChannel) OnAnswer(fn func(protocol.Answer)) core.Subscription {
	return setHandler(&f.mu, &f.onAnswer, fn)
}

func (f *fakeChannel) OnCandidate(fn func(protocol.Candidate)) core.Subscription {
	return setHandler(&f.mu, &f.onCandidate, fn)
}

func (f *fakeChannel) OnEvent(fn func(protocol.Message)) core.Subscription {
	return setHandler(&f.mu, &f.onEvent, fn)
}

func (f *fakeChannel) OnOpen(fn func()) core.Subscription {
	return setHandler(&f.mu, &f.onOpen, fn)
}

func (f *fakeChannel) OnError(fn func(error)) core.Subscription {
	return setHandler(&f.mu, &f.onError, fn)
}

func (f *fakeChannel) OnClose(fn func(error)) core.Subscription {
	return setHandler(&f.mu, &f.onClose, fn)
}

func (f *fakeChannel) Open(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed = true
	fn := f.onClose
	f.mu.Unlock()
	if fn != nil {
		fn(nil)
	}
	return nil
}

func (f *fakeChannel) deliver(m protocol.Message) {
	f.mu.Lock()
	fn := f.onEvent
	f.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

func (f *fakeChannel) open() {
	f.mu.Lock()
	fn := f.onOpen
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// drop simulates the relay going away.
func (f *fakeChannel) drop(cause error) {
	f.mu.Lock()
	f.closed = true
	fn := f.onClose
	f.mu.Unlock()
	if fn != nil {
		fn(cause)
	}
}

func (f *fakeChannel) messages() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.sent...)
}

func (f *fakeChannel) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeChannel) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onEvent != nil || f.onOffer != nil || f.onOpen != nil || f.onClose != nil
}

// fakePC answers every call and fires negotiation-needed when a track is
// added, the way a real connection does.
type fakePC struct {
	mu      sync.Mutex
	local   *webrtc.SessionDescription
	remote  *webrtc.SessionDescription
	tracks  int
	closed  bool
	onNeg   func()
	onState func(webrtc.PeerConnectionState)
}

func (p *fakePC) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}

func (p *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (p *fakePC) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &d
	return nil
}

func (p *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = &d
	return nil
}

func (p *fakePC) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *fakePC) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *fakePC) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (p *fakePC) AddTrack(core.LocalTrack) error {
	p.mu.Lock()
	p.tracks++
	fn := p.onNeg
	p.mu.Unlock()
	if fn != nil {
		go fn()
	}
	return nil
}

func (p *fakePC) OnNegotiationNeeded(fn func()) {
	p.mu.Lock()
	p.onNeg = fn
	p.mu.Unlock()
}

func (p *fakePC) OnICECandidate(func(webrtc.ICECandidateInit)) {}
func (p *fakePC) OnTrack(func(core.RemoteTrack))               {}

func (p *fakePC) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePC) setConnectionState(st webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

func (p *fakePC) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePC) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeRecorder struct {
	mu        sync.Mutex
	unhandled []protocol.Kind
	joins     int
	leaves    int
	users     int
}

func (r *fakeRecorder) Transition(negotiation.State, negotiation.State) {}
func (r *fakeRecorder) Event(string)                                    {}

func (r *fakeRecorder) Unhandled(k protocol.Kind) {
	r.mu.Lock()
	r.unhandled = append(r.unhandled, k)
	r.mu.Unlock()
}

func (r *fakeRecorder) Joined() {
	r.mu.Lock()
	r.joins++
	r.mu.Unlock()
}

func (r *fakeRecorder) Left() {
	r.mu.Lock()
	r.leaves++
	r.mu.Unlock()
}

func (r *fakeRecorder) SetRoomUsers(n int) {
	r.mu.Lock()
	r.users = n
	r.mu.Unlock()
}

func (r *fakeRecorder) SetRemoteTracks(int) {}

type recorded struct {
	unhandled []protocol.Kind
	joins     int
	leaves    int
	users     int
}

func (r *fakeRecorder) snapshot() recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recorded{
		unhandled: append([]protocol.Kind(nil), r.unhandled...),
		joins:     r.joins,
		leaves:    r.leaves,
		users:     r.users,
	}
}

type countingProvider struct {
	mu    sync.Mutex
	opens int
}

func (p *countingProvider) Open(ctx context.Context, sampleRate int) (audio.Microphone, error) {
	p.mu.Lock()
	p.opens++
	p.mu.Unlock()
	return audio.OscillatorProvider{}.Open(ctx, sampleRate)
}

// rig builds a conference whose factories hand out fakes and remember
// them per room.
type rig struct {
	mu       sync.Mutex
	channels map[string]*fakeChannel
	peers    map[domain.RoomID]*fakePC
	openErr  error
	peerErr  error
}

func newRig() *rig {
	return &rig{
		channels: make(map[string]*fakeChannel),
		peers:    make(map[domain.RoomID]*fakePC),
	}
}

func (r *rig) channelFor(endpoint string) Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := &fakeChannel{endpoint: endpoint, openErr: r.openErr}
	r.channels[endpoint] = ch
	return ch
}

func (r *rig) peerFor(room domain.RoomID) (core.PeerConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.peerErr != nil {
		return nil, r.peerErr
	}
	pc := &fakePC{}
	r.peers[room] = pc
	return pc, nil
}

func (r *rig) channel(endpoint string) *fakeChannel {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[endpoint]
}

func (r *rig) peer(room domain.RoomID) *fakePC {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peers[room]
}
