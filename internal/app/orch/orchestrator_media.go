package orch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/voiceroom/internal/adapters/signal"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/dkeye/voiceroom/internal/protocol"
	"github.com/rs/zerolog/log"
)

const retryDelay = 50 * time.Millisecond

// ToggleMicrophone flips the microphone gain and announces the new flag to
// the room. A microphone that was never granted is requested first; it
// comes up muted, so the first toggle unmutes it. It returns the new muted
// state.
func (c *Conference) ToggleMicrophone(ctx context.Context) (bool, error) {
	c.life.Lock()
	defer c.life.Unlock()
	m := c.current()
	if m == nil {
		return false, ErrNotInRoom
	}

	if !m.graph.IsMicrophoneRequested() {
		if err := m.graph.RequestMicrophone(ctx); err != nil {
			c.setError(m, err)
			return true, err
		}
	}
	muted, err := m.graph.IsMicrophoneMuted()
	if err != nil {
		return true, err
	}
	if muted {
		err = m.graph.MicrophoneUnmute()
	} else {
		err = m.graph.MicrophoneMute()
	}
	if err != nil {
		return muted, err
	}
	muted = !muted
	c.presence.SetMicrophoneMuted(muted)

	self, ok := c.presence.Self()
	if !ok {
		log.Warn().Str("module", "orch").Str("room", string(m.room)).Bool("muted", muted).Msg("mute not announced, own user unknown")
		return muted, ErrNoSelfUser
	}
	patch := domain.PatchOf(self).WithMuted(muted)
	kind := protocol.KindUnmute
	if muted {
		kind = protocol.KindMute
	}
	c.presence.UserUpdate(patch)
	if err := c.announce(m, protocol.UserEvent{Type: kind, User: patch}); err != nil {
		return muted, err
	}
	return muted, nil
}

// ToggleSpeaker flips the output gain. It is local only and returns the
// new muted state.
func (c *Conference) ToggleSpeaker() (bool, error) {
	c.life.Lock()
	defer c.life.Unlock()
	m := c.current()
	if m == nil {
		return false, ErrNotInRoom
	}
	if m.graph.IsSpeakerMuted() {
		m.graph.SpeakerUnmute()
	} else {
		m.graph.SpeakerMute()
	}
	muted := m.graph.IsSpeakerMuted()
	c.presence.SetSpeakerMuted(muted)
	log.Info().Str("module", "orch").Bool("muted", muted).Msg("speaker toggled")
	return muted, nil
}

func (c *Conference) SetStereoVolume(v float32) error {
	c.life.Lock()
	defer c.life.Unlock()
	m := c.current()
	if m == nil {
		return ErrNotInRoom
	}
	return m.graph.SetStereoVolume(v)
}

func (c *Conference) SetTrackVolume(id string, v float32) error {
	c.life.Lock()
	defer c.life.Unlock()
	m := c.current()
	if m == nil {
		return ErrNotInRoom
	}
	return m.graph.SetTrackVolume(id, v)
}

// announce sends msg, consulting the policy when the queue is full.
func (c *Conference) announce(m *membership, msg protocol.Message) error {
	err := m.ch.Send(msg)
	if !errors.Is(err, signal.ErrBackpressure) {
		return err
	}

	action := c.deps.Policy.OnBackPressure(m.room, msg)
	logger := log.With().Str("module", "orch").Str("room", string(m.room)).Str("type", string(msg.Kind())).Logger()
	switch action {
	case RetryOnce:
		time.Sleep(retryDelay)
		if err = m.ch.Send(msg); err == nil {
			return nil
		}
		logger.Warn().Err(err).Msg("retry failed, dropped")
	case LeaveRoom:
		logger.Error().Msg("signaling backpressure, leaving room")
		return errors.Join(err, c.leaveLocked())
	case DropMessage:
		logger.Warn().Msg("signaling backpressure, dropped")
	case NoAction:
	}
	c.setError(m, err)
	return fmt.Errorf("announce %s: %w", msg.Kind(), err)
}
