package directory

import (
	"context"
	"fmt"
	"strings"

	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisDirectory reads presence the relay keeps in Redis: the set
// <prefix>:rooms names every room and <prefix>:<room>:peers holds the
// peer ids in it.
type RedisDirectory struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedis(rdb redis.UniversalClient, prefix string) *RedisDirectory {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "voice"
	}
	return &RedisDirectory{rdb: rdb, prefix: p}
}

func (d *RedisDirectory) roomsKey() string { return d.prefix + ":rooms" }

func (d *RedisDirectory) peersKey(room string) string {
	return fmt.Sprintf("%s:%s:peers", d.prefix, room)
}

func (d *RedisDirectory) List(ctx context.Context) ([]domain.RoomInfo, error) {
	names, err := d.rdb.SMembers(ctx, d.roomsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(names) == 0 {
		return []domain.RoomInfo{}, nil
	}

	counts := make([]*redis.IntCmd, len(names))
	_, err = d.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, name := range names {
			counts[i] = pipe.SCard(ctx, d.peersKey(name))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	rooms := make([]domain.RoomInfo, 0, len(names))
	for i, name := range names {
		rooms = append(rooms, domain.RoomInfo{Name: domain.RoomID(name), MemberCount: int(counts[i].Val())})
	}
	sortRooms(rooms)
	log.Debug().Str("module", "directory").Str("backend", "redis").Int("rooms", len(rooms)).Msg("listed rooms")
	return rooms, nil
}
