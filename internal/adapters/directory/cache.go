package directory

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Cache keeps the last listing of a backend for ttl. Concurrent misses
// share one backend call.
type Cache struct {
	src   Directory
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu        sync.RWMutex
	rooms     map[domain.RoomID]domain.RoomInfo
	order     []domain.RoomID
	fetchedAt time.Time
}

func NewCache(src Directory, ttl time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{src: src, ttl: ttl, now: now, rooms: make(map[domain.RoomID]domain.RoomInfo)}
}

func (c *Cache) fresh() bool {
	return !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.ttl
}

func (c *Cache) List(ctx context.Context) ([]domain.RoomInfo, error) {
	c.mu.RLock()
	if c.fresh() {
		out := c.snapshot()
		c.mu.RUnlock()
		return out, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("list", func() (any, error) {
		c.mu.RLock()
		if c.fresh() {
			out := c.snapshot()
			c.mu.RUnlock()
			return out, nil
		}
		c.mu.RUnlock()

		rooms, err := c.src.List(ctx)
		if err != nil {
			return nil, err
		}
		c.store(rooms)
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.snapshot(), nil
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "directory").Msg("room listing failed")
		return nil, err
	}
	rooms := v.([]domain.RoomInfo)
	out := make([]domain.RoomInfo, len(rooms))
	copy(out, rooms)
	return out, nil
}

// Lookup finds one room in the cached listing, refreshing it if stale.
func (c *Cache) Lookup(ctx context.Context, name domain.RoomID) (domain.RoomInfo, bool, error) {
	if _, err := c.List(ctx); err != nil {
		return domain.RoomInfo{}, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.rooms[name]
	return info, ok, nil
}

// Invalidate forces the next List to hit the backend.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchedAt = time.Time{}
}

func (c *Cache) store(rooms []domain.RoomInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms = make(map[domain.RoomID]domain.RoomInfo, len(rooms))
	c.order = make([]domain.RoomID, 0, len(rooms))
	for _, r := range rooms {
		if _, ok := c.rooms[r.Name]; !ok {
			c.order = append(c.order, r.Name)
		}
		c.rooms[r.Name] = r
	}
	c.fetchedAt = c.now()
}

// snapshot needs c.mu held.
func (c *Cache) snapshot() []domain.RoomInfo {
	out := make([]domain.RoomInfo, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.rooms[name])
	}
	return out
}
