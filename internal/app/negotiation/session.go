// Package negotiation drives one peer connection through offer/answer and
// trickle ICE over the signaling channel.
//
// Every input (signaling messages, connection callbacks, caller actions)
// is posted as a closure to one goroutine, so session state has a single
// writer and needs no locking.
package negotiation

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const eventQueue = 64

type Options struct {
	// Room only labels logs.
	Room string
	// Stereo sends offer_stereo so the relay attaches the music track.
	Stereo   bool
	Recorder Recorder
	// OnError receives every failed step, fatal or not. It runs on the
	// session goroutine and must not call Close.
	OnError       func(error)
	OnStateChange func(from, to State)
}

type Session struct {
	pc      core.PeerConnection
	signals core.NegotiationSignals
	router  core.AudioRouter
	opts    Options
	logger  zerolog.Logger

	events    chan func()
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	current atomic.Int32

	// owned by the loop goroutine
	state            State
	offerOutstanding bool
	renegotiate      bool
	pending          []webrtc.ICECandidateInit
	subs             []core.Subscription
}

// New binds a session to pc, signals and router and starts its loop. The
// session owns pc from here on and closes it in Close.
func New(pc core.PeerConnection, signals core.NegotiationSignals, router core.AudioRouter, opts Options) *Session {
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	s := &Session{
		pc:      pc,
		signals: signals,
		router:  router,
		opts:    opts,
		logger:  log.With().Str("module", "negotiation").Str("room", opts.Room).Logger(),
		events:  make(chan func(), eventQueue),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	pc.OnNegotiationNeeded(func() { s.post(s.handleNegotiationNeeded) })
	pc.OnICECandidate(func(c webrtc.ICECandidateInit) { s.post(func() { s.sendLocalCandidate(c) }) })
	pc.OnTrack(func(t core.RemoteTrack) { s.post(func() { s.handleTrack(t) }) })
	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) { s.post(func() { s.handleConnectionState(st) }) })

	s.subs = []core.Subscription{
		signals.OnOffer(func(o protocol.Offer) { s.post(func() { s.handleOffer(o) }) }),
		signals.OnAnswer(func(a protocol.Answer) { s.post(func() { s.handleAnswer(a) }) }),
		signals.OnCandidate(func(c protocol.Candidate) { s.post(func() { s.handleRemoteCandidate(c.Candidate) }) }),
	}

	go s.loop()
	return s
}

func (s *Session) State() State { return State(s.current.Load()) }

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.quit:
			s.teardown()
			return
		case fn := <-s.events:
			fn()
		}
	}
}

// post queues fn for the loop. It reports false once the session closed.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.quit:
		return false
	default:
	}
	select {
	case s.events <- fn:
		return true
	case <-s.quit:
		return false
	}
}

// do runs fn on the loop and waits for its result.
func (s *Session) do(fn func() error) error {
	res := make(chan error, 1)
	if !s.post(func() { res <- fn() }) {
		return ErrSessionClosed
	}
	select {
	case err := <-res:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

// Join marks the user's intent to enter the room. Local media is attached
// separately once the microphone request settled.
func (s *Session) Join() error {
	return s.do(func() error {
		if s.state != StateIdle {
			return fmt.Errorf("%w: join from %s", ErrInvalidState, s.state)
		}
		s.setState(StateAwaitingLocalMedia)
		return nil
	})
}

// AttachLocalMedia adds every input track to the peer connection. The
// connection then asks for negotiation.
func (s *Session) AttachLocalMedia() error {
	return s.do(func() error {
		if s.state != StateAwaitingLocalMedia {
			return fmt.Errorf("%w: attach media in %s", ErrInvalidState, s.state)
		}
		tracks := s.router.InputTracks()
		if len(tracks) == 0 {
			return ErrNoLocalTracks
		}
		for _, t := range tracks {
			if err := s.pc.AddTrack(t); err != nil {
				return s.fail("add track", fmt.Errorf("%s: %w", t.ID(), err))
			}
			s.logger.Info().Str("track_id", t.ID()).Msg("local track attached")
		}
		s.setState(StateNegotiating)
		return nil
	})
}

// Close stops the loop, drops every signaling subscription and closes the
// peer connection. It must not be called from OnError or OnStateChange.
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
	return s.closeErr
}

func (s *Session) teardown() {
	for _, sub := range s.subs {
		sub.Cancel()
	}
	s.subs = nil
	s.pending = nil
	s.offerOutstanding = false
	s.renegotiate = false
	if err := s.pc.Close(); err != nil {
		s.closeErr = fmt.Errorf("close peer connection: %w", err)
	}
	s.setState(StateClosed)
	s.logger.Info().Msg("session closed")
}

func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.current.Store(int32(to))
	s.opts.Recorder.Transition(from, to)
	s.logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("state")
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(from, to)
	}
}

func (s *Session) report(op string, fatal bool, err error) *Error {
	e := &Error{Op: op, Fatal: fatal, Err: err}
	if fatal {
		s.logger.Error().Err(err).Str("op", op).Msg("negotiation failed")
	} else {
		s.logger.Warn().Err(err).Str("op", op).Msg("negotiation step dropped")
	}
	if s.opts.OnError != nil {
		s.opts.OnError(e)
	}
	return e
}

// fail ends the current attempt. A fresh join needs a new session.
func (s *Session) fail(op string, err error) error {
	s.opts.Recorder.Event("failure")
	e := s.report(op, true, err)
	s.offerOutstanding = false
	s.renegotiate = false
	s.setState(StateFailed)
	return e
}

func (s *Session) terminal() bool {
	return s.state == StateClosed || s.state == StateFailed
}
