package orch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/voiceroom/internal/adapters/signal"
	"github.com/dkeye/voiceroom/internal/app/negotiation"
	"github.com/dkeye/voiceroom/internal/audio"
	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/dkeye/voiceroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Join enters room. A membership in another room is left first; joining
// the current room again is a no-op while that membership is alive. One
// whose relay connection closed or whose negotiation failed is torn down
// and replaced by a fresh join. The microphone is requested but a
// refusal does not fail the join: the graph sends silence until a later
// toggle succeeds.
func (c *Conference) Join(ctx context.Context, room domain.RoomID) error {
	if room == "" {
		return ErrEmptyRoom
	}
	endpoint, err := c.Endpoint(room)
	if err != nil {
		return err
	}

	c.life.Lock()
	defer c.life.Unlock()

	if cur := c.current(); cur != nil {
		stale := c.stale(cur)
		if cur.room == room && !stale {
			return nil
		}
		if err := c.leaveLocked(); err != nil {
			log.Warn().Err(err).Str("module", "orch").Str("from_room", string(cur.room)).Msg("leave before join")
		}
		log.Info().Str("module", "orch").Str("from_room", string(cur.room)).Str("room", string(room)).Bool("stale", stale).Msg("left previous membership")
	}

	actx, err := audio.NewContext(c.cfg.SampleRate, c.cfg.Quantum)
	if err != nil {
		return fmt.Errorf("audio context: %w", err)
	}
	graph, err := audio.NewGraph(actx, c.deps.Microphones, c.cfg.Audio)
	if err != nil {
		actx.Close()
		return fmt.Errorf("audio graph: %w", err)
	}
	graph.OnPlaybacksChanged(c.deps.Recorder.SetRemoteTracks)
	pc, err := c.deps.Peers(room)
	if err != nil {
		_ = graph.Close()
		return fmt.Errorf("peer connection: %w", err)
	}

	ch := c.deps.Channels(endpoint)
	m := &membership{room: room, ch: ch, graph: graph, channel: "connecting"}
	m.session = negotiation.New(pc, ch, graph, negotiation.Options{
		Room:     string(room),
		Stereo:   c.cfg.Stereo,
		Recorder: c.deps.Recorder,
		OnError:  func(err error) { c.setError(m, err) },
	})
	m.subs = []core.Subscription{
		ch.OnOpen(func() { c.setChannel(m, "open") }),
		ch.OnEvent(func(msg protocol.Message) { c.handleEvent(m, msg) }),
		ch.OnError(func(err error) {
			log.Error().Err(err).Str("module", "orch").Str("room", string(room)).Msg("signaling error")
			c.setError(m, err)
		}),
		ch.OnClose(func(cause error) {
			c.setChannel(m, "closed")
			if cause == nil {
				return
			}
			c.setError(m, cause)
			if signal.IsTransportClosed(cause) {
				log.Warn().Err(cause).Str("module", "orch").Str("room", string(room)).Msg("relay connection lost, join again to reconnect")
			} else {
				log.Error().Err(cause).Str("module", "orch").Str("room", string(room)).Msg("signaling closed")
			}
		}),
	}

	c.presence.Reset()
	c.playlist.Reset()
	c.deps.Recorder.SetRoomUsers(0)
	c.mu.Lock()
	c.m = m
	c.mu.Unlock()

	abort := func(step string, err error) error {
		err = fmt.Errorf("%s: %w", step, err)
		log.Error().Err(err).Str("module", "orch").Str("room", string(room)).Msg("join failed")
		return errors.Join(err, c.leaveLocked())
	}

	if err := m.session.Join(); err != nil {
		return abort("session join", err)
	}
	if err := graph.RequestMicrophone(ctx); err != nil {
		c.setError(m, err)
		log.Warn().Err(err).Str("module", "orch").Str("room", string(room)).Msg("joining without microphone")
	}
	if err := actx.Resume(); err != nil {
		return abort("resume audio", err)
	}
	if err := m.session.AttachLocalMedia(); err != nil {
		return abort("attach local media", err)
	}

	// The channel outlives the request that asked for the join.
	openCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	if err := ch.Open(openCtx); err != nil {
		return abort("open signaling", err)
	}

	m.joined = true
	c.deps.Recorder.Joined()
	log.Info().Str("module", "orch").Str("room", string(room)).Str("endpoint", redact(endpoint)).Msg("joined room")
	return nil
}

// stale reports whether m can no longer carry its room: the signaling
// channel closed or the negotiation session ended.
func (c *Conference) stale(m *membership) bool {
	c.mu.Lock()
	closed := m.channel == "closed"
	c.mu.Unlock()
	if closed {
		return true
	}
	switch m.session.State() {
	case negotiation.StateFailed, negotiation.StateClosed:
		return true
	}
	return false
}

func (c *Conference) Leave() error {
	c.life.Lock()
	defer c.life.Unlock()
	if c.current() == nil {
		return ErrNotInRoom
	}
	return c.leaveLocked()
}

func (c *Conference) leaveLocked() error {
	c.mu.Lock()
	m := c.m
	c.m = nil
	c.mu.Unlock()
	if m == nil {
		return nil
	}

	for _, sub := range m.subs {
		sub.Cancel()
	}
	if m.cancel != nil {
		m.cancel()
	}
	var errs []error
	if err := m.session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close session: %w", err))
	}
	if err := m.ch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close signaling: %w", err))
	}
	if err := m.graph.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audio: %w", err))
	}

	c.presence.Reset()
	c.playlist.Reset()
	c.deps.Recorder.SetRoomUsers(0)
	c.deps.Recorder.SetRemoteTracks(0)
	if m.joined {
		c.deps.Recorder.Left()
	}
	log.Info().Str("module", "orch").Str("room", string(m.room)).Msg("left room")
	return errors.Join(errs...)
}

// handleEvent applies a room event to presence and playlist. Types
// nothing here routes are reported, not dropped silently.
func (c *Conference) handleEvent(m *membership, msg protocol.Message) {
	if !c.active(m) {
		return
	}
	logger := log.With().Str("module", "orch").Str("room", string(m.room)).Str("type", string(msg.Kind())).Logger()

	switch ev := msg.(type) {
	case protocol.UserEvent:
		switch ev.Type {
		case protocol.KindUser:
			c.presence.SetSelf(ev.User.User())
			logger.Info().Str("user", string(ev.User.ID)).Msg("own user announced")
		case protocol.KindUserJoin:
			c.presence.UserAdd(ev.User)
		case protocol.KindUserLeave:
			c.presence.UserRemove(ev.User.ID)
		case protocol.KindMute, protocol.KindUnmute:
			patch := ev.User
			if patch.Muted == nil {
				patch = patch.WithMuted(ev.Type == protocol.KindMute)
			}
			if !c.presence.UserUpdate(patch) {
				logger.Debug().Str("user", string(patch.ID)).Msg("mute state for unknown user")
			}
		default:
			c.unhandled(m, msg)
			return
		}
	case protocol.RoomSnapshot:
		c.presence.ReplaceRoom(ev.Room)
		if ev.Room.Playing != nil {
			c.playlist.Next(*ev.Room.Playing)
		}
	case protocol.SongEvent:
		switch ev.Type {
		case protocol.KindEnqueue:
			c.playlist.Enqueue(ev.Song)
			logger.Info().Str("song", ev.Song.Name).Msg("song queued")
		case protocol.KindNextSong:
			c.playlist.Next(ev.Song)
			logger.Info().Str("song", ev.Song.Name).Uint("duration", ev.Song.Duration).Msg("now playing")
		default:
			c.unhandled(m, msg)
			return
		}
	default:
		c.unhandled(m, msg)
		return
	}
	c.deps.Recorder.SetRoomUsers(c.presence.Count())
}

func (c *Conference) unhandled(m *membership, msg protocol.Message) {
	err := protocol.Unhandled(msg.Kind())
	log.Error().Err(err).Str("module", "orch").Str("room", string(m.room)).Msg("event dropped")
	c.deps.Recorder.Unhandled(msg.Kind())
	c.setError(m, err)
}
