package core

import (
	"sync"
	"time"

	"github.com/dkeye/voiceroom/internal/domain"
)

// Playlist mirrors the room music queue from enqueue/next_song events.
type Playlist struct {
	mu       sync.Mutex
	now      func() time.Time
	upcoming []domain.Song
	playing  *domain.Song
	endsAt   time.Time
}

func NewPlaylist(now func() time.Time) *Playlist {
	if now == nil {
		now = time.Now
	}
	return &Playlist{now: now}
}

func (pl *Playlist) Enqueue(s domain.Song) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.upcoming = append(pl.upcoming, s)
}

// Next marks s as playing and starts its countdown. The first queued
// entry with the same name is consumed.
func (pl *Playlist) Next(s domain.Song) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	for i, q := range pl.upcoming {
		if q.Name == s.Name {
			pl.upcoming = append(pl.upcoming[:i], pl.upcoming[i+1:]...)
			break
		}
	}
	song := s
	pl.playing = &song
	pl.endsAt = pl.now().Add(s.Length())
}

func (pl *Playlist) NowPlaying() (domain.Song, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.playing == nil {
		return domain.Song{}, false
	}
	return *pl.playing, true
}

// Remaining is the countdown of the current song, never negative.
func (pl *Playlist) Remaining() time.Duration {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.playing == nil {
		return 0
	}
	left := pl.endsAt.Sub(pl.now())
	if left < 0 {
		return 0
	}
	return left.Truncate(time.Second)
}

func (pl *Playlist) Upcoming() []domain.Song {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	out := make([]domain.Song, len(pl.upcoming))
	copy(out, pl.upcoming)
	return out
}

func (pl *Playlist) Reset() {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.upcoming = nil
	pl.playing = nil
	pl.endsAt = time.Time{}
}
