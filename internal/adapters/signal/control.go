package signal

import (
	"time"

	"github.com/gorilla/websocket"
)

// pongWait is how long the read side waits for any frame, pong included,
// before it considers the relay gone.
func (c *Channel) pongWait() time.Duration {
	return c.opts.PingPeriod * 10 / 9
}

func (c *Channel) armKeepalive(conn *websocket.Conn) error {
	if c.opts.PingPeriod <= 0 {
		return nil
	}
	if err := conn.SetReadDeadline(time.Now().Add(c.pongWait())); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	})
	return nil
}

func (c *Channel) ping(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
}
