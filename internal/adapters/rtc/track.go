package rtc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/dkeye/voiceroom/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

type senderState int32

const (
	senderOk senderState = iota
	senderStopped
)

// localSender pumps one local PCM track into a PCMU sample track.
type localSender struct {
	src    core.LocalTrack
	dst    *webrtc.TrackLocalStaticSample
	sender *webrtc.RTPSender
	state  atomic.Int32
}

func (s *localSender) stopped() bool { return senderState(s.state.Load()) == senderStopped }
func (s *localSender) stop()         { s.state.Store(int32(senderStopped)) }

// loop reads quanta from the source track and writes them as samples
// until the source ends, the context is cancelled or a write fails.
func (s *localSender) loop(ctx context.Context, logger *zerolog.Logger) {
	defer s.stop()
	for {
		frame, err := s.src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug().Msg("local sender ctx done")
			} else {
				logger.Info().Err(err).Msg("local source ended")
			}
			return
		}
		if s.stopped() {
			return
		}
		sample := media.Sample{Data: encodeULaw(frame), Duration: frameDuration(len(frame))}
		if err := s.dst.WriteSample(sample); err != nil {
			if errors.Is(err, io.ErrClosedPipe) {
				return
			}
			logger.Error().Err(err).Msg("local sender write error, stopping")
			return
		}
	}
}

// drainRTCP reads incoming RTCP so interceptors keep running. It returns
// when the sender is stopped by the connection closing.
func (s *localSender) drainRTCP() {
	buf := make([]byte, 1500)
	for {
		if _, _, err := s.sender.Read(buf); err != nil {
			return
		}
	}
}

// remoteTrack adapts an inbound pion track to core.RemoteTrack.
type remoteTrack struct {
	src *webrtc.TrackRemote
}

var _ core.RemoteTrack = (*remoteTrack)(nil)

func (t *remoteTrack) ID() string       { return t.src.ID() }
func (t *remoteTrack) StreamID() string { return t.src.StreamID() }

// Label is the track id: the relay names the music track with it.
func (t *remoteTrack) Label() string { return t.src.ID() }

// ReadFrame blocks on the next RTP packet. Closing the peer connection
// unblocks it with io.EOF.
func (t *remoteTrack) ReadFrame(ctx context.Context) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pkt, _, err := t.src.ReadRTP()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read rtp: %w", err)
	}
	return frameFromPacket(t.src.Codec().MimeType, pkt)
}
