// Package signal is the client side of the relay's signaling websocket.
//
// A Channel serializes protocol envelopes onto one persistent connection
// and demultiplexes inbound envelopes to one handler per category. Dial
// failures and dropped connections are reported through OnError/OnClose,
// never returned from Open.
package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/voiceroom/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure  = errors.New("backpressure")
	ErrChannelClosed = errors.New("signaling channel closed")
	ErrAlreadyOpened = errors.New("signaling channel already opened")
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Recorder observes traffic. The metrics package implements it.
type Recorder interface {
	Message(direction string, kind protocol.Kind)
	ProtocolError()
}

type nopRecorder struct{}

func (nopRecorder) Message(string, protocol.Kind) {}
func (nopRecorder) ProtocolError()                {}

type Options struct {
	Header       http.Header
	Dialer       *websocket.Dialer
	ReadLimit    int64
	PingPeriod   time.Duration
	WriteTimeout time.Duration
	// SendBuffer bounds the outbound queue, including envelopes sent
	// before the connection opens.
	SendBuffer int
	Recorder   Recorder
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:    1 << 20,
		PingPeriod:   54 * time.Second,
		WriteTimeout: 5 * time.Second,
		SendBuffer:   64,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = def.ReadLimit
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = def.SendBuffer
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	return o
}

// Channel is one signaling connection to the relay. Envelopes sent before
// the connection opens are queued and flushed in order once it does.
type Channel struct {
	endpoint string
	opts     Options
	send     chan []byte

	onOpen      slot[struct{}]
	onOffer     slot[protocol.Offer]
	onAnswer    slot[protocol.Answer]
	onCandidate slot[protocol.Candidate]
	onEvent     slot[protocol.Message]
	onError     slot[error]
	onClose     slot[error]

	mu     sync.RWMutex
	state  State
	conn   *websocket.Conn
	cancel context.CancelFunc

	closeOnce sync.Once
	done      chan struct{}
}

// New prepares a channel to endpoint without dialing. Register handlers,
// then call Open.
func New(endpoint string, opts Options) *Channel {
	opts = opts.withDefaults()
	return &Channel{
		endpoint: endpoint,
		opts:     opts,
		send:     make(chan []byte, opts.SendBuffer),
		done:     make(chan struct{}),
	}
}

func (c *Channel) Endpoint() string { return c.endpoint }

func (c *Channel) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Done is closed once the channel reaches StateClosed.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Open starts dialing in the background. The outcome is delivered to the
// OnOpen or OnError handler.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrChannelClosed
	case StateConnecting, StateOpen:
		c.mu.Unlock()
		return ErrAlreadyOpened
	}
	ctx, cancel := context.WithCancel(ctx)
	c.state = StateConnecting
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

func (c *Channel) run(ctx context.Context) {
	logger := log.With().Str("module", "signal").Str("endpoint", c.endpoint).Logger()

	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.endpoint, c.opts.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if ctx.Err() != nil {
			c.shutdown(nil)
			return
		}
		if resp != nil {
			err = fmt.Errorf("dial %s: %w (status %d)", c.endpoint, err, resp.StatusCode)
		} else {
			err = fmt.Errorf("dial %s: %w", c.endpoint, err)
		}
		logger.Error().Err(err).Msg("dial failed")
		c.onError.call(err)
		c.shutdown(err)
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	logger.Info().Msg("signaling channel open")
	c.onOpen.call(struct{}{})

	go c.writePump(ctx, conn)
	err = c.readPump(ctx, conn)
	if ctx.Err() != nil {
		err = nil
	}
	if err != nil {
		c.onError.call(err)
	}
	c.shutdown(err)
}

// Send encodes m and queues it for transmission.
func (c *Channel) Send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if err := c.TrySend(data); err != nil {
		return fmt.Errorf("send %s: %w", m.Kind(), err)
	}
	c.opts.Recorder.Message("out", m.Kind())
	return nil
}

// TrySend queues a raw frame without blocking.
func (c *Channel) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state == StateClosed {
		return ErrChannelClosed
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close tears the connection down. Queued envelopes not yet written are
// dropped. It is safe to call from a handler and more than once.
func (c *Channel) Close() error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		deadline := time.Now().Add(c.opts.WriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	}
	c.shutdown(nil)
	return nil
}

func (c *Channel) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		prev := c.state
		c.state = StateClosed
		close(c.send)
		conn := c.conn
		cancel := c.cancel
		c.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if conn != nil {
			_ = conn.Close()
		}
		log.Info().Str("module", "signal").Str("endpoint", c.endpoint).Str("from", prev.String()).AnErr("cause", cause).Msg("signaling channel closed")
		c.onClose.call(cause)
		close(c.done)
	})
}
