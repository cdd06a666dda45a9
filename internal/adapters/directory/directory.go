// Package directory lists the rooms a relay hosts and how many people are
// in each.
package directory

import (
	"context"
	"errors"
	"sort"

	"github.com/dkeye/voiceroom/internal/domain"
)

var ErrUnavailable = errors.New("room directory unavailable")

type Directory interface {
	List(ctx context.Context) ([]domain.RoomInfo, error)
}

// sortRooms orders by member count, busiest first, then by name.
func sortRooms(rooms []domain.RoomInfo) {
	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].MemberCount != rooms[j].MemberCount {
			return rooms[i].MemberCount > rooms[j].MemberCount
		}
		return rooms[i].Name < rooms[j].Name
	})
}
