package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/voiceroom/internal/core"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrConnectionClosed = errors.New("peer connection closed")

// NewAPI builds a pion API that negotiates PCMU audio only, with the
// default interceptors and pion logs routed to zerolog.
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: pcmuCapability(),
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register pcmu: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory()}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(registry),
		webrtc.WithSettingEngine(se),
	), nil
}

// Connection wraps a pion peer connection as a core.PeerConnection.
type Connection struct {
	pc     *webrtc.PeerConnection
	room   string
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	mu          sync.RWMutex
	onICE       func(webrtc.ICECandidateInit)
	onTrack     func(core.RemoteTrack)
	onNegNeeded func()
	onState     func(webrtc.PeerConnectionState)
	senders     []*localSender
	closed      bool
}

var _ core.PeerConnection = (*Connection)(nil)

func NewConnection(api *webrtc.API, cfg webrtc.Configuration, room string) (*Connection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		pc:     pc,
		room:   room,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With().Str("module", "rtc").Str("room", room).Logger(),
	}
	c.bind()
	return c, nil
}

func (c *Connection) bind() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.RLock()
		fn := c.onState
		c.mu.RUnlock()
		if fn != nil {
			fn(s)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			c.logger.Debug().Msg("ICE gathering complete")
			return
		}
		c.mu.RLock()
		fn := c.onICE
		c.mu.RUnlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnNegotiationNeeded(func() {
		c.mu.RLock()
		fn := c.onNegNeeded
		c.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Str("codec", track.Codec().MimeType).
			Msg("OnTrack received")
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(&remoteTrack{src: track})
		}
	})
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Connection) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *Connection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *Connection) RemoteDescription() *webrtc.SessionDescription {
	return c.pc.RemoteDescription()
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// AddTrack attaches a PCMU sample track fed from t and starts pumping it.
func (c *Connection) AddTrack(t core.LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	dst, err := webrtc.NewTrackLocalStaticSample(pcmuCapability(), t.ID(), t.StreamID())
	if err != nil {
		return fmt.Errorf("new local track: %w", err)
	}
	sender, err := c.pc.AddTrack(dst)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}
	s := &localSender{src: t, dst: dst, sender: sender}
	c.senders = append(c.senders, s)

	logger := c.logger.With().Str("track_id", t.ID()).Logger()
	go s.drainRTCP()
	go s.loop(c.ctx, &logger)
	logger.Info().Msg("local track attached")
	return nil
}

func (c *Connection) OnNegotiationNeeded(fn func()) {
	c.mu.Lock()
	c.onNegNeeded = fn
	c.mu.Unlock()
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnTrack(fn func(core.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// Close stops every local pump and closes the peer connection, which ends
// the remote tracks with io.EOF.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	senders := c.senders
	c.senders = nil
	c.mu.Unlock()

	c.cancel()
	for _, s := range senders {
		s.stop()
	}
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
		return fmt.Errorf("close peer connection: %w", err)
	}
	c.logger.Info().Msg("closed")
	return nil
}
