package negotiation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/protocol"
	"github.com/pion/webrtc/v4"
)

type fakePC struct {
	mu       sync.Mutex
	calls    []string
	local    *webrtc.SessionDescription
	remote   *webrtc.SessionDescription
	offers   int
	tracks   []core.LocalTrack
	closed   bool
	failNext map[string]error

	onNeg   func()
	onICE   func(webrtc.ICECandidateInit)
	onTrack func(core.RemoteTrack)
	onState func(webrtc.PeerConnectionState)
}

func newFakePC() *fakePC { return &fakePC{failNext: map[string]error{}} }

func (f *fakePC) record(call string) error {
	f.calls = append(f.calls, call)
	name := call
	for i, r := range call {
		if r == ':' {
			name = call[:i]
			break
		}
	}
	if err, ok := f.failNext[name]; ok {
		delete(f.failNext, name)
		return err
	}
	return nil
}

func (f *fakePC) CreateOffer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers++
	if err := f.record("createOffer"); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", f.offers)}, nil
}

func (f *fakePC) CreateAnswer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("createAnswer"); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer"}, nil
}

func (f *fakePC) SetLocalDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("setLocal:" + d.Type.String()); err != nil {
		return err
	}
	if d.Type == webrtc.SDPTypeRollback {
		f.local = nil
		return nil
	}
	f.local = &d
	return nil
}

func (f *fakePC) SetRemoteDescription(d webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("setRemote:" + d.Type.String()); err != nil {
		return err
	}
	f.remote = &d
	return nil
}

func (f *fakePC) LocalDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local
}

func (f *fakePC) RemoteDescription() *webrtc.SessionDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remote
}

func (f *fakePC) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("addCandidate:" + c.Candidate)
}

func (f *fakePC) AddTrack(t core.LocalTrack) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("addTrack:" + t.ID()); err != nil {
		return err
	}
	f.tracks = append(f.tracks, t)
	return nil
}

func (f *fakePC) OnNegotiationNeeded(fn func()) {
	f.mu.Lock()
	f.onNeg = fn
	f.mu.Unlock()
}

func (f *fakePC) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	f.onICE = fn
	f.mu.Unlock()
}

func (f *fakePC) OnTrack(fn func(core.RemoteTrack)) {
	f.mu.Lock()
	f.onTrack = fn
	f.mu.Unlock()
}

func (f *fakePC) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

func (f *fakePC) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.record("close")
}

func (f *fakePC) fail(op string, err error) {
	f.mu.Lock()
	f.failNext[op] = err
	f.mu.Unlock()
}

func (f *fakePC) log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakePC) count(call string) int {
	n := 0
	for _, c := range f.log() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakePC) fireNegotiationNeeded() {
	f.mu.Lock()
	fn := f.onNeg
	f.mu.Unlock()
	fn()
}

func (f *fakePC) fireICE(c string) {
	f.mu.Lock()
	fn := f.onICE
	f.mu.Unlock()
	fn(webrtc.ICECandidateInit{Candidate: c})
}

func (f *fakePC) fireTrack(t core.RemoteTrack) {
	f.mu.Lock()
	fn := f.onTrack
	f.mu.Unlock()
	fn(t)
}

func (f *fakePC) fireState(s webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	fn(s)
}

type fakeSub struct{ cancel func() }

func (s fakeSub) Cancel() { s.cancel() }

type fakeSignals struct {
	mu          sync.Mutex
	sent        []protocol.Message
	sendErr     error
	onOffer     func(protocol.Offer)
	onAnswer    func(protocol.Answer)
	onCandidate func(protocol.Candidate)
}

func (f *fakeSignals) Send(m protocol.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSignals) OnOffer(fn func(protocol.Offer)) core.Subscription {
	f.mu.Lock()
	f.onOffer = fn
	f.mu.Unlock()
	return fakeSub{func() { f.mu.Lock(); f.onOffer = nil; f.mu.Unlock() }}
}

func (f *fakeSignals) OnAnswer(fn func(protocol.Answer)) core.Subscription {
	f.mu.Lock()
	f.onAnswer = fn
	f.mu.Unlock()
	return fakeSub{func() { f.mu.Lock(); f.onAnswer = nil; f.mu.Unlock() }}
}

func (f *fakeSignals) OnCandidate(fn func(protocol.Candidate)) core.Subscription {
	f.mu.Lock()
	f.onCandidate = fn
	f.mu.Unlock()
	return fakeSub{func() { f.mu.Lock(); f.onCandidate = nil; f.mu.Unlock() }}
}

func (f *fakeSignals) deliverOffer(sdp string) {
	f.mu.Lock()
	fn := f.onOffer
	f.mu.Unlock()
	if fn != nil {
		fn(protocol.Offer{Description: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}})
	}
}

func (f *fakeSignals) deliverAnswer() {
	f.mu.Lock()
	fn := f.onAnswer
	f.mu.Unlock()
	if fn != nil {
		fn(protocol.Answer{Description: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"}})
	}
}

func (f *fakeSignals) deliverCandidate(c string) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	if fn != nil {
		fn(protocol.Candidate{Candidate: webrtc.ICECandidateInit{Candidate: c}})
	}
}

func (f *fakeSignals) messages() []protocol.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Message(nil), f.sent...)
}

func (f *fakeSignals) kinds() []protocol.Kind {
	var out []protocol.Kind
	for _, m := range f.messages() {
		out = append(out, m.Kind())
	}
	return out
}

func (f *fakeSignals) subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onOffer != nil || f.onAnswer != nil || f.onCandidate != nil
}

type fakeTrack struct{ id string }

func (t fakeTrack) ID() string       { return t.id }
func (t fakeTrack) StreamID() string { return "input" }
func (t fakeTrack) Label() string    { return t.id }
func (t fakeTrack) ReadFrame(ctx context.Context) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeRouter struct {
	mu     sync.Mutex
	inputs []core.LocalTrack
	routed []string
	err    error
}

func (r *fakeRouter) InputTracks() []core.LocalTrack { return r.inputs }

func (r *fakeRouter) RouteRemote(t core.RemoteTrack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.routed = append(r.routed, t.ID())
	return nil
}

func (r *fakeRouter) routedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.routed...)
}

type errSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errSink) add(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
}

func (s *errSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func (s *errSink) has(target error) bool {
	for _, err := range s.all() {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
