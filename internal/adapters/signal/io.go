package signal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/voiceroom/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (c *Channel) writePump(ctx context.Context, conn *websocket.Conn) {
	var ping <-chan time.Time
	if c.opts.PingPeriod > 0 {
		t := time.NewTicker(c.opts.PingPeriod)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.fail(fmt.Errorf("write: %w", err))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.fail(fmt.Errorf("write: %w", err))
				return
			}
		case <-ping:
			if err := c.ping(conn); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("keepalive ping failed")
				c.fail(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

// fail reports a write-side transport error and closes the channel. The
// read pump then unblocks on the closed connection.
func (c *Channel) fail(err error) {
	if c.State() == StateClosed {
		return
	}
	c.onError.call(err)
	c.shutdown(err)
}

func (c *Channel) readPump(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(c.opts.ReadLimit)
	if err := c.armKeepalive(conn); err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.State() == StateClosed {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Err(err).Str("module", "signal").Msg("relay closed the connection")
				return err
			}
			log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
			return fmt.Errorf("read: %w", err)
		}
		c.dispatch(data)
	}
}

// dispatch decodes one inbound frame and hands it to its handler. Protocol
// errors go to OnError and the envelope is dropped; relay error envelopes
// are only logged.
func (c *Channel) dispatch(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("dropping malformed envelope")
		c.opts.Recorder.ProtocolError()
		c.onError.call(err)
		return
	}
	c.opts.Recorder.Message("in", msg.Kind())

	if f, ok := msg.(protocol.Failure); ok {
		log.Warn().Str("module", "signal").Str("desc", f.Desc).Msg("relay reported an error")
		return
	}
	if !msg.Kind().Known() {
		log.Warn().Str("module", "signal").Str("type", string(msg.Kind())).Msg("unknown envelope type")
	}

	// Stereo offers are not negotiation kinds and fall through to OnEvent.
	var handled bool
	switch m := msg.(type) {
	case protocol.Offer:
		if m.Kind().Negotiation() {
			handled = c.onOffer.call(m)
		} else {
			handled = c.onEvent.call(m)
		}
	case protocol.Answer:
		handled = c.onAnswer.call(m)
	case protocol.Candidate:
		handled = c.onCandidate.call(m)
	default:
		handled = c.onEvent.call(msg)
	}
	if !handled {
		log.Debug().Str("module", "signal").Str("type", string(msg.Kind())).Msg("no handler registered, dropped")
	}
}

// IsTransportClosed reports whether err means the relay went away rather
// than a protocol or local failure.
func IsTransportClosed(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) || errors.Is(err, ErrChannelClosed)
}
