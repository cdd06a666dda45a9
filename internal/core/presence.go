package core

import (
	"sync"

	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/rs/zerolog/log"
)

// PresenceSnapshot is a read-only copy of the presence state for
// presentation (no live references).
type PresenceSnapshot struct {
	Self              *domain.User  `json:"user,omitempty"`
	Users             []domain.User `json:"users"`
	IsMutedMicrophone bool          `json:"isMutedMicrophone"`
	IsMutedSpeaker    bool          `json:"isMutedSpeaker"`
}

// RoomPresence is a threadsafe in-memory view of the room as announced
// by the relay. Users keep their arrival order and ids are unique.
type RoomPresence struct {
	mu    sync.RWMutex
	users []domain.User
	index map[domain.UserID]int

	self         *domain.User
	micMuted     bool
	speakerMuted bool
}

func NewRoomPresence() *RoomPresence {
	return &RoomPresence{
		index:    make(map[domain.UserID]int),
		micMuted: true,
	}
}

// UserAdd appends the joining user. A user already present gets the
// patch merged instead, so a repeated join never produces a duplicate id
// and never clears fields the patch does not carry.
func (p *RoomPresence) UserAdd(patch domain.UserPatch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i, ok := p.index[patch.ID]; ok {
		p.users[i] = patch.Merge(p.users[i])
		log.Debug().Str("module", "core.presence").Str("user", string(patch.ID)).Msg("user re-added, merged")
		return
	}
	u := patch.User()
	p.index[u.ID] = len(p.users)
	p.users = append(p.users, u)
	log.Info().Str("module", "core.presence").Str("user", string(u.ID)).Msg("user added")
}

// UserRemove drops the user with id. Unknown ids are a no-op.
func (p *RoomPresence) UserRemove(id domain.UserID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.index[id]
	if !ok {
		return
	}
	p.users = append(p.users[:i], p.users[i+1:]...)
	delete(p.index, id)
	for j := i; j < len(p.users); j++ {
		p.index[p.users[j].ID] = j
	}
	log.Info().Str("module", "core.presence").Str("user", string(id)).Msg("user removed")
}

// UserUpdate merges the present fields of patch into the matching user.
// It reports whether a user was found; unknown ids leave the room unchanged.
func (p *RoomPresence) UserUpdate(patch domain.UserPatch) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.self != nil && p.self.ID == patch.ID {
		merged := patch.Merge(*p.self)
		p.self = &merged
	}
	i, ok := p.index[patch.ID]
	if !ok {
		return false
	}
	p.users[i] = patch.Merge(p.users[i])
	return true
}

// ReplaceRoom swaps the whole user list for a snapshot. Later duplicates
// in the snapshot are merged into the first occurrence.
func (p *RoomPresence) ReplaceRoom(room domain.RoomState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = make([]domain.User, 0, len(room.Users))
	p.index = make(map[domain.UserID]int, len(room.Users))
	for _, u := range room.Users {
		if i, ok := p.index[u.ID]; ok {
			p.users[i] = u
			continue
		}
		p.index[u.ID] = len(p.users)
		p.users = append(p.users, u)
	}
	log.Info().Str("module", "core.presence").Int("users", len(p.users)).Msg("room replaced")
}

func (p *RoomPresence) SetSelf(u domain.User) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.self = &u
}

func (p *RoomPresence) Self() (domain.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.self == nil {
		return domain.User{}, false
	}
	return *p.self, true
}

func (p *RoomPresence) User(id domain.UserID) (domain.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i, ok := p.index[id]
	if !ok {
		return domain.User{}, false
	}
	return p.users[i], true
}

func (p *RoomPresence) Users() []domain.User {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.User, len(p.users))
	copy(out, p.users)
	return out
}

func (p *RoomPresence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users)
}

func (p *RoomPresence) SetMicrophoneMuted(muted bool) {
	p.mu.Lock()
	p.micMuted = muted
	p.mu.Unlock()
}

func (p *RoomPresence) SetSpeakerMuted(muted bool) {
	p.mu.Lock()
	p.speakerMuted = muted
	p.mu.Unlock()
}

// Reset forgets everything learned during a membership.
func (p *RoomPresence) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = nil
	p.index = make(map[domain.UserID]int)
	p.self = nil
	p.micMuted = true
	p.speakerMuted = false
}

func (p *RoomPresence) Snapshot() PresenceSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := PresenceSnapshot{
		Users:             make([]domain.User, len(p.users)),
		IsMutedMicrophone: p.micMuted,
		IsMutedSpeaker:    p.speakerMuted,
	}
	copy(s.Users, p.users)
	if p.self != nil {
		self := *p.self
		s.Self = &self
	}
	return s
}
