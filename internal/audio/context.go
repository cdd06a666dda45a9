// Package audio implements the session audio graph: one virtual input stream
// (microphone -> gain) and one virtual output stream (mixed remote tracks ->
// gain). Mute and volume are gain values; nodes are never disconnected to
// silence them, so changes land on the next quantum without a glitch.
package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type State int32

const (
	StateSuspended State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSuspended:
		return "suspended"
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var ErrContextClosed = errors.New("audio context closed")

// Context is the processing clock. It starts suspended; Resume starts
// rendering one quantum per tick on its own goroutine.
type Context struct {
	sampleRate int
	quantum    time.Duration

	mu     sync.Mutex
	state  State
	render func()
	stop   chan struct{}
	done   chan struct{}
}

func NewContext(sampleRate int, quantum time.Duration) (*Context, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if quantum <= 0 {
		return nil, fmt.Errorf("invalid quantum %s", quantum)
	}
	return &Context{sampleRate: sampleRate, quantum: quantum}, nil
}

func (c *Context) SampleRate() int        { return c.sampleRate }
func (c *Context) Quantum() time.Duration { return c.quantum }

// FrameSize is the number of mono samples per quantum.
func (c *Context) FrameSize() int {
	return int(int64(c.sampleRate) * int64(c.quantum) / int64(time.Second))
}

func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Context) setRenderer(fn func()) {
	c.mu.Lock()
	c.render = fn
	c.mu.Unlock()
}

// Resume starts the clock. Resuming a running context is a no-op.
func (c *Context) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateClosed:
		return ErrContextClosed
	case StateRunning:
		return nil
	}
	c.state = StateRunning
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.loop(c.render, c.stop, c.done)
	log.Info().Str("module", "audio").Int("sample_rate", c.sampleRate).Dur("quantum", c.quantum).Msg("context resumed")
	return nil
}

// Suspend stops the clock and waits for the in-flight quantum.
func (c *Context) Suspend() {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = StateSuspended
	stop, done := c.stop, c.done
	c.mu.Unlock()
	close(stop)
	<-done
}

func (c *Context) Close() {
	c.Suspend()
	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
}

func (c *Context) loop(render func(), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	t := time.NewTicker(c.quantum)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if render != nil {
				render()
			}
		}
	}
}
