package signal

import (
	"sync"

	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/protocol"
)

// OnEvent receives every envelope that is neither negotiation nor a relay
// error: presence, songs, stereo offers and unknown types.
func (c *Channel) OnEvent(fn func(protocol.Message)) core.Subscription {
	return c.onEvent.set(fn)
}

// OnOpen fires once the connection is established. Queued sends are
// flushed right after.
func (c *Channel) OnOpen(fn func()) core.Subscription {
	return c.onOpen.set(func(struct{}) { fn() })
}

// OnError receives dial failures, transport errors and protocol errors.
func (c *Channel) OnError(fn func(error)) core.Subscription {
	return c.onError.set(fn)
}

// OnClose fires once when the channel closes. The cause is nil for a
// local Close.
func (c *Channel) OnClose(fn func(error)) core.Subscription {
	return c.onClose.set(fn)
}

// slot holds the single active handler of one category. Registering
// replaces the previous handler; cancelling a stale subscription is a no-op.
type slot[T any] struct {
	mu  sync.Mutex
	seq uint64
	id  uint64
	fn  func(T)
}

func (s *slot[T]) set(fn func(T)) core.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.id = s.seq
	s.fn = fn
	return &subscription[T]{slot: s, id: s.seq}
}

func (s *slot[T]) call(v T) bool {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(v)
	return true
}

type subscription[T any] struct {
	slot *slot[T]
	id   uint64
}

func (sub *subscription[T]) Cancel() {
	s := sub.slot
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == sub.id {
		s.fn = nil
		s.id = 0
	}
}
