package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/rs/zerolog/log"
)

const maxListing = 1 << 20

// HTTPDirectory reads the relay's room listing:
//
//	{"online": 3, "rooms": [{"name": "lobby", "client_count": 3}]}
//
// Older relays report the count as "online" per room; both are accepted.
type HTTPDirectory struct {
	url    string
	client *http.Client
}

func NewHTTP(url string, client *http.Client) *HTTPDirectory {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPDirectory{url: url, client: client}
}

type listing struct {
	Rooms []struct {
		Name        string `json:"name"`
		ClientCount *int   `json:"client_count"`
		Online      int    `json:"online"`
	} `json:"rooms"`
}

func (d *HTTPDirectory) List(ctx context.Context) ([]domain.RoomInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var l listing
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxListing)).Decode(&l); err != nil {
		return nil, fmt.Errorf("decode room listing: %w", err)
	}
	rooms := make([]domain.RoomInfo, 0, len(l.Rooms))
	for _, r := range l.Rooms {
		if r.Name == "" {
			continue
		}
		n := r.Online
		if r.ClientCount != nil {
			n = *r.ClientCount
		}
		rooms = append(rooms, domain.RoomInfo{Name: domain.RoomID(r.Name), MemberCount: n})
	}
	sortRooms(rooms)
	log.Debug().Str("module", "directory").Str("backend", "http").Int("rooms", len(rooms)).Msg("listed rooms")
	return rooms, nil
}
