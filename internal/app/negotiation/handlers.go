package negotiation

import (
	"fmt"

	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// handleNegotiationNeeded creates an offer unless one is already waiting
// for its answer. In that case a single re-offer is scheduled for when the
// answer lands, so offers never interleave.
func (s *Session) handleNegotiationNeeded() {
	if s.terminal() {
		return
	}
	if s.offerOutstanding {
		s.renegotiate = true
		s.opts.Recorder.Event("offer_deferred")
		s.logger.Info().Msg("negotiation-needed while offer outstanding, deferred")
		return
	}
	_ = s.makeOffer()
}

func (s *Session) makeOffer() error {
	offer, err := s.pc.CreateOffer()
	if err != nil {
		return s.fail("create offer", err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return s.fail("set local offer", err)
	}
	local := s.pc.LocalDescription()
	if local == nil {
		return s.fail("send offer", ErrMissingLocalDescription)
	}
	if err := s.signals.Send(protocol.Offer{Stereo: s.opts.Stereo, Description: *local}); err != nil {
		return s.fail("send offer", err)
	}
	s.offerOutstanding = true
	s.opts.Recorder.Event("offer_sent")
	s.logger.Info().Bool("stereo", s.opts.Stereo).Msg("offer sent")
	return nil
}

// handleOffer answers a remote offer. While our own offer is outstanding
// the session is the polite peer: it rolls its offer back, answers, then
// offers again.
func (s *Session) handleOffer(o protocol.Offer) {
	if s.state == StateClosed {
		return
	}
	if s.offerOutstanding {
		if err := s.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			_ = s.fail("rollback local offer", err)
			return
		}
		s.offerOutstanding = false
		s.renegotiate = true
		s.opts.Recorder.Event("rollback")
		s.logger.Info().Msg("glare, local offer rolled back")
	}

	if err := s.pc.SetRemoteDescription(o.Description); err != nil {
		_ = s.fail("set remote offer", err)
		return
	}
	s.flushCandidates()

	answer, err := s.pc.CreateAnswer()
	if err != nil {
		_ = s.fail("create answer", err)
		return
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		_ = s.fail("set local answer", err)
		return
	}
	local := s.pc.LocalDescription()
	if local == nil {
		_ = s.fail("send answer", ErrMissingLocalDescription)
		return
	}
	if err := s.signals.Send(protocol.Answer{Description: *local}); err != nil {
		_ = s.fail("send answer", err)
		return
	}
	s.opts.Recorder.Event("answer_sent")
	s.logger.Info().Msg("answer sent")
	if s.state == StateIdle || s.state == StateAwaitingLocalMedia {
		s.setState(StateNegotiating)
	}
	s.resumeDeferred()
}

func (s *Session) handleAnswer(a protocol.Answer) {
	if s.state == StateClosed {
		return
	}
	if !s.offerOutstanding {
		s.opts.Recorder.Event("answer_without_offer")
		s.report("apply answer", false, ErrAnswerWithoutOffer)
		return
	}
	if err := s.pc.SetRemoteDescription(a.Description); err != nil {
		_ = s.fail("set remote answer", err)
		return
	}
	s.offerOutstanding = false
	s.logger.Info().Msg("answer applied")
	s.flushCandidates()
	s.resumeDeferred()
}

// resumeDeferred sends the one offer that was held back while another was
// in flight.
func (s *Session) resumeDeferred() {
	if !s.renegotiate || s.terminal() {
		return
	}
	s.renegotiate = false
	s.logger.Info().Msg("resuming deferred negotiation")
	_ = s.makeOffer()
}

// handleRemoteCandidate applies c, or queues it until a remote description
// exists. Queued candidates are applied in arrival order.
func (s *Session) handleRemoteCandidate(c webrtc.ICECandidateInit) {
	if s.state == StateClosed {
		return
	}
	if s.pc.RemoteDescription() == nil {
		s.pending = append(s.pending, c)
		s.opts.Recorder.Event("candidate_queued")
		s.logger.Debug().Int("queued", len(s.pending)).Msg("remote candidate queued")
		return
	}
	s.addCandidate(c)
}

func (s *Session) flushCandidates() {
	if len(s.pending) == 0 {
		return
	}
	pending := s.pending
	s.pending = nil
	s.logger.Debug().Int("candidates", len(pending)).Msg("flushing queued candidates")
	for _, c := range pending {
		s.addCandidate(c)
	}
}

func (s *Session) addCandidate(c webrtc.ICECandidateInit) {
	if err := s.pc.AddICECandidate(c); err != nil {
		s.report("add candidate", false, fmt.Errorf("%q: %w", c.Candidate, err))
		return
	}
	s.opts.Recorder.Event("candidate_applied")
}

func (s *Session) sendLocalCandidate(c webrtc.ICECandidateInit) {
	if s.state == StateClosed {
		return
	}
	if err := s.signals.Send(protocol.Candidate{Candidate: c}); err != nil {
		s.report("send candidate", false, err)
		return
	}
	s.opts.Recorder.Event("candidate_sent")
}

func (s *Session) handleTrack(t core.RemoteTrack) {
	if s.state == StateClosed {
		return
	}
	s.logger.Info().Str("track_id", t.ID()).Str("stream_id", t.StreamID()).Str("label", t.Label()).Msg("remote track")
	if err := s.router.RouteRemote(t); err != nil {
		s.report("route remote track", false, fmt.Errorf("%s: %w", t.ID(), err))
	}
}

// handleConnectionState records transport state. Failure is surfaced but
// never retried.
func (s *Session) handleConnectionState(st webrtc.PeerConnectionState) {
	if s.state == StateClosed {
		return
	}
	switch st {
	case webrtc.PeerConnectionStateConnected:
		if s.state != StateFailed {
			s.setState(StateConnected)
		}
	case webrtc.PeerConnectionStateFailed:
		_ = s.fail("connection", ErrConnectionFailed)
	case webrtc.PeerConnectionStateDisconnected:
		s.logger.Warn().Msg("peer connection disconnected")
	}
}
