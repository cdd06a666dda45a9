// Package orch ties one room membership together: signaling channel,
// negotiation session, audio graph and the presence and playlist models
// the presentation layer reads.
package orch

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/voiceroom/internal/app/negotiation"
	"github.com/dkeye/voiceroom/internal/audio"
	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/dkeye/voiceroom/internal/protocol"
)

var (
	ErrNotInRoom  = errors.New("not in a room")
	ErrEmptyRoom  = errors.New("room name empty")
	ErrNoRelayURL = errors.New("relay url not configured")
	ErrNoSelfUser = errors.New("own user not announced yet")
)

// Channel is the signaling channel as the orchestrator drives it.
// *signal.Channel satisfies it.
type Channel interface {
	core.NegotiationSignals
	OnOpen(func()) core.Subscription
	OnEvent(func(protocol.Message)) core.Subscription
	OnError(func(error)) core.Subscription
	OnClose(func(error)) core.Subscription
	Open(ctx context.Context) error
	Close() error
}

type (
	ChannelFactory func(endpoint string) Channel
	PeerFactory    func(room domain.RoomID) (core.PeerConnection, error)
)

// Recorder observes membership activity. The metrics package implements it.
type Recorder interface {
	negotiation.Recorder
	Unhandled(protocol.Kind)
	Joined()
	Left()
	SetRoomUsers(int)
	SetRemoteTracks(int)
}

type nopRecorder struct{}

func (nopRecorder) Transition(negotiation.State, negotiation.State) {}
func (nopRecorder) Event(string)                                    {}
func (nopRecorder) Unhandled(protocol.Kind)                         {}
func (nopRecorder) Joined()                                         {}
func (nopRecorder) Left()                                           {}
func (nopRecorder) SetRoomUsers(int)                                {}
func (nopRecorder) SetRemoteTracks(int)                             {}

type Config struct {
	// RelayURL is the signaling endpoint; "{room}" is replaced by the
	// escaped room name.
	RelayURL string
	// IdentityToken is passed to the relay as the token query parameter.
	IdentityToken string
	Stereo        bool
	SampleRate    int
	Quantum       time.Duration
	Audio         audio.Options
}

type Deps struct {
	Channels    ChannelFactory
	Peers       PeerFactory
	Microphones audio.MicrophoneProvider
	Policy      Policy
	Recorder    Recorder
	Now         func() time.Time
}

// Conference owns at most one room membership at a time.
type Conference struct {
	cfg      Config
	deps     Deps
	presence *core.RoomPresence
	playlist *core.Playlist

	// life serializes Join, Leave and the media controls. Handlers never
	// take it, so holding it while waiting on the session is safe.
	life sync.Mutex

	mu sync.Mutex
	m  *membership
}

type membership struct {
	room    domain.RoomID
	ch      Channel
	session *negotiation.Session
	graph   *audio.Graph
	subs    []core.Subscription
	cancel  context.CancelFunc
	joined  bool

	// guarded by Conference.mu
	channel   string
	lastError string
}

func New(cfg Config, deps Deps) *Conference {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 8000
	}
	if cfg.Quantum == 0 {
		cfg.Quantum = 20 * time.Millisecond
	}
	if cfg.Audio == (audio.Options{}) {
		cfg.Audio = audio.DefaultOptions()
	}
	if deps.Policy == nil {
		deps.Policy = SimplePolicy{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Microphones == nil {
		deps.Microphones = audio.DeniedProvider{}
	}
	return &Conference{
		cfg:      cfg,
		deps:     deps,
		presence: core.NewRoomPresence(),
		playlist: core.NewPlaylist(deps.Now),
	}
}

// Endpoint builds the signaling URL for room.
func (c *Conference) Endpoint(room domain.RoomID) (string, error) {
	if c.cfg.RelayURL == "" {
		return "", ErrNoRelayURL
	}
	raw := c.cfg.RelayURL
	if strings.Contains(raw, "{room}") {
		raw = strings.ReplaceAll(raw, "{room}", url.PathEscape(string(room)))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if !strings.Contains(c.cfg.RelayURL, "{room}") {
		u = u.JoinPath(string(room))
	}
	if c.cfg.IdentityToken != "" {
		q := u.Query()
		q.Set("token", c.cfg.IdentityToken)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// redact hides the identity token in logged endpoints.
func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "<invalid>"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "xxx")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Conference) current() *membership {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m
}

// active reports whether m is still the live membership.
func (c *Conference) active(m *membership) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m == m
}

func (c *Conference) setChannel(m *membership, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m.channel = status
}

func (c *Conference) setError(m *membership, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m.lastError = err.Error()
}

// State is a read-only view of the conference for presentation.
type State struct {
	Room             domain.RoomID         `json:"room,omitempty"`
	Channel          string                `json:"channel"`
	Negotiation      string                `json:"negotiation"`
	Presence         core.PresenceSnapshot `json:"presence"`
	NowPlaying       *domain.Song          `json:"now_playing,omitempty"`
	RemainingSeconds int                   `json:"remaining_seconds"`
	Upcoming         []domain.Song         `json:"upcoming"`
	Playbacks        []audio.PlaybackInfo  `json:"playbacks"`
	StereoVolume     float32               `json:"stereo_volume"`
	LastError        string                `json:"last_error,omitempty"`
}

func (c *Conference) State() State {
	st := State{
		Channel:          "idle",
		Negotiation:      negotiation.StateIdle.String(),
		Presence:         c.presence.Snapshot(),
		RemainingSeconds: int(c.playlist.Remaining() / time.Second),
		Upcoming:         c.playlist.Upcoming(),
		StereoVolume:     c.cfg.Audio.StereoVolume,
	}
	if song, ok := c.playlist.NowPlaying(); ok {
		st.NowPlaying = &song
	}

	c.mu.Lock()
	m := c.m
	if m != nil {
		st.Room = m.room
		st.Channel = m.channel
		st.LastError = m.lastError
	}
	c.mu.Unlock()

	if m != nil {
		st.Negotiation = m.session.State().String()
		st.Playbacks = m.graph.Playbacks()
		st.StereoVolume = m.graph.StereoVolume()
	}
	return st
}

// Close leaves the current room, if any.
func (c *Conference) Close() error {
	err := c.Leave()
	if errors.Is(err, ErrNotInRoom) {
		return nil
	}
	return err
}
