package audio

import (
	"context"
	"errors"
	"sync"
)

var ErrStreamClosed = errors.New("stream closed")

// streamDepth bounds how many quanta a slow consumer may lag before the
// oldest frames are dropped.
const streamDepth = 8

// Stream is a virtual media stream with a single audio track.
type Stream struct {
	id    string
	track *StreamTrack
}

func newStream(id string) *Stream {
	return &Stream{
		id: id,
		track: &StreamTrack{
			id:       id + "-audio",
			streamID: id,
			frames:   make(chan []float32, streamDepth),
			done:     make(chan struct{}),
		},
	}
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) AudioTracks() []*StreamTrack {
	return []*StreamTrack{s.track}
}

func (s *Stream) close() { s.track.close() }

// StreamTrack delivers one frame per processing quantum.
type StreamTrack struct {
	id       string
	streamID string
	frames   chan []float32

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (t *StreamTrack) ID() string       { return t.id }
func (t *StreamTrack) StreamID() string { return t.streamID }

// ReadFrame returns ErrStreamClosed once the stream is closed, even if
// frames were still queued.
func (t *StreamTrack) ReadFrame(ctx context.Context) ([]float32, error) {
	select {
	case <-t.done:
		return nil, ErrStreamClosed
	default:
	}
	select {
	case f := <-t.frames:
		return f, nil
	case <-t.done:
		return nil, ErrStreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// push never blocks the renderer: when the consumer lags the oldest
// frame is dropped.
func (t *StreamTrack) push(f []float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.frames <- f:
		return
	default:
	}
	select {
	case <-t.frames:
	default:
	}
	select {
	case t.frames <- f:
	default:
	}
}

func (t *StreamTrack) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.done)
}
