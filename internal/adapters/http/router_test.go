package http

import (
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voiceroom/internal/adapters/directory"
	"github.com/dkeye/voiceroom/internal/app/orch"
	"github.com/dkeye/voiceroom/internal/audio"
	"github.com/dkeye/voiceroom/internal/config"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConference struct {
	mu       sync.Mutex
	room     domain.RoomID
	joins    []domain.RoomID
	joinErr  error
	micMuted bool
	micErr   error
	spkMuted bool
	stereo   float32
	tracks   map[string]float32
}

func (f *fakeConference) State() orch.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return orch.State{Room: f.room, Channel: "open", StereoVolume: f.stereo}
}

func (f *fakeConference) Join(_ context.Context, room domain.RoomID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room == "" {
		return orch.ErrEmptyRoom
	}
	if f.joinErr != nil {
		return f.joinErr
	}
	f.room = room
	f.joins = append(f.joins, room)
	return nil
}

func (f *fakeConference) Leave() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.room == "" {
		return orch.ErrNotInRoom
	}
	f.room = ""
	return nil
}

func (f *fakeConference) ToggleMicrophone(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.micMuted = !f.micMuted
	return f.micMuted, f.micErr
}

func (f *fakeConference) ToggleSpeaker() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.room == "" {
		return false, orch.ErrNotInRoom
	}
	f.spkMuted = !f.spkMuted
	return f.spkMuted, nil
}

func (f *fakeConference) SetStereoVolume(v float32) error {
	if v < 0 || v > 1 {
		return audio.ErrVolumeRange
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stereo = v
	return nil
}

func (f *fakeConference) SetTrackVolume(id string, v float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tracks[id]; !ok {
		return audio.ErrUnknownPlayback
	}
	f.tracks[id] = v
	return nil
}

type fakeRooms struct {
	rooms       []domain.RoomInfo
	err         error
	invalidated int
}

func (f *fakeRooms) List(context.Context) ([]domain.RoomInfo, error) {
	return f.rooms, f.err
}

func (f *fakeRooms) Lookup(_ context.Context, name domain.RoomID) (domain.RoomInfo, bool, error) {
	if f.err != nil {
		return domain.RoomInfo{}, false, f.err
	}
	for _, r := range f.rooms {
		if r.Name == name {
			return r, true, nil
		}
	}
	return domain.RoomInfo{}, false, nil
}

func (f *fakeRooms) Invalidate() { f.invalidated++ }

func testConfig() *config.Config {
	return &config.Config{Mode: "test", Secret: "test-secret"}
}

func setup(t *testing.T, deps Deps) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return SetupRouter(testConfig(), deps)
}

func do(r nethttp.Handler, method, path, body string, cookies ...*nethttp.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestClientTokenCookie(t *testing.T) {
	r := setup(t, Deps{Conference: &fakeConference{}})

	w := do(r, nethttp.MethodGet, "/api/state", "")
	require.Equal(t, nethttp.StatusOK, w.Code)
	var ct *nethttp.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "ct" {
			ct = c
		}
	}
	require.NotNil(t, ct)
	assert.Len(t, ct.Value, 36)

	w = do(r, nethttp.MethodGet, "/api/state", "", ct)
	for _, c := range w.Result().Cookies() {
		assert.NotEqual(t, "ct", c.Name, "existing token is kept")
	}
}

func TestJoinAndLeave(t *testing.T) {
	conf := &fakeConference{}
	rooms := &fakeRooms{}
	r := setup(t, Deps{Conference: conf, Rooms: rooms})

	w := do(r, nethttp.MethodPost, "/api/join", `{"room":"lobby"}`)
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, "lobby", decode(t, w)["room"])
	assert.Equal(t, 1, rooms.invalidated)

	w = do(r, nethttp.MethodPost, "/api/leave", "")
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, 2, rooms.invalidated)

	w = do(r, nethttp.MethodPost, "/api/leave", "")
	assert.Equal(t, nethttp.StatusConflict, w.Code)
}

func TestJoinRemembersLastRoom(t *testing.T) {
	conf := &fakeConference{}
	r := setup(t, Deps{Conference: conf})

	w := do(r, nethttp.MethodPost, "/api/join", `{"room":"music"}`)
	require.Equal(t, nethttp.StatusOK, w.Code)
	cookies := w.Result().Cookies()

	w = do(r, nethttp.MethodPost, "/api/join", "", cookies...)
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, []domain.RoomID{"music", "music"}, conf.joins)
}

func TestJoinErrors(t *testing.T) {
	r := setup(t, Deps{Conference: &fakeConference{}})
	w := do(r, nethttp.MethodPost, "/api/join", "")
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)

	w = do(r, nethttp.MethodPost, "/api/join", `{"room":`)
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)

	r = setup(t, Deps{Conference: &fakeConference{joinErr: assert.AnError}})
	w = do(r, nethttp.MethodPost, "/api/join", `{"room":"lobby"}`)
	assert.Equal(t, nethttp.StatusInternalServerError, w.Code)
	assert.Contains(t, decode(t, w)["error"], assert.AnError.Error())
}

func TestMicrophoneToggle(t *testing.T) {
	conf := &fakeConference{micMuted: true}
	r := setup(t, Deps{Conference: conf})

	w := do(r, nethttp.MethodPost, "/api/mic/toggle", "")
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["muted"])

	conf.micErr = orch.ErrNoSelfUser
	w = do(r, nethttp.MethodPost, "/api/mic/toggle", "")
	require.Equal(t, nethttp.StatusAccepted, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["muted"])
	assert.NotEmpty(t, body["warning"])

	conf.micErr = audio.ErrMicrophoneDenied
	w = do(r, nethttp.MethodPost, "/api/mic/toggle", "")
	assert.Equal(t, nethttp.StatusForbidden, w.Code)
}

func TestSpeakerToggle(t *testing.T) {
	conf := &fakeConference{room: "lobby"}
	r := setup(t, Deps{Conference: conf})
	w := do(r, nethttp.MethodPost, "/api/speaker/toggle", "")
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["muted"])

	conf.room = ""
	w = do(r, nethttp.MethodPost, "/api/speaker/toggle", "")
	assert.Equal(t, nethttp.StatusConflict, w.Code)
}

func TestVolumes(t *testing.T) {
	conf := &fakeConference{tracks: map[string]float32{"t1": 0.5}}
	r := setup(t, Deps{Conference: conf})

	w := do(r, nethttp.MethodPut, "/api/volume/stereo", `{"volume":0}`)
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.Zero(t, conf.stereo)

	w = do(r, nethttp.MethodPut, "/api/volume/stereo", `{}`)
	assert.Equal(t, nethttp.StatusBadRequest, w.Code, "volume is required")

	w = do(r, nethttp.MethodPut, "/api/volume/stereo", `{"volume":2}`)
	assert.Equal(t, nethttp.StatusBadRequest, w.Code)

	w = do(r, nethttp.MethodPut, "/api/volume/tracks/t1", `{"volume":0.25}`)
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.InDelta(t, 0.25, conf.tracks["t1"], 1e-6)

	w = do(r, nethttp.MethodPut, "/api/volume/tracks/nope", `{"volume":0.25}`)
	assert.Equal(t, nethttp.StatusNotFound, w.Code)
}

func TestRooms(t *testing.T) {
	rooms := &fakeRooms{rooms: []domain.RoomInfo{{Name: "lobby", MemberCount: 3}}}
	r := setup(t, Deps{Conference: &fakeConference{}, Rooms: rooms})

	w := do(r, nethttp.MethodGet, "/api/rooms", "")
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.JSONEq(t, `{"rooms":[{"name":"lobby","client_count":3}]}`, w.Body.String())

	w = do(r, nethttp.MethodGet, "/api/rooms/lobby", "")
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.JSONEq(t, `{"name":"lobby","client_count":3}`, w.Body.String())

	w = do(r, nethttp.MethodGet, "/api/rooms/other", "")
	assert.Equal(t, nethttp.StatusNotFound, w.Code)

	rooms.err = directory.ErrUnavailable
	w = do(r, nethttp.MethodGet, "/api/rooms", "")
	assert.Equal(t, nethttp.StatusServiceUnavailable, w.Code)
}

func TestRoomsWithoutDirectory(t *testing.T) {
	r := setup(t, Deps{Conference: &fakeConference{}})
	w := do(r, nethttp.MethodGet, "/api/rooms", "")
	assert.Equal(t, nethttp.StatusServiceUnavailable, w.Code)
}

func TestMetricsRoute(t *testing.T) {
	metrics := nethttp.HandlerFunc(func(w nethttp.ResponseWriter, _ *nethttp.Request) {
		_, _ = w.Write([]byte("voiceroom_up 1\n"))
	})
	r := setup(t, Deps{Conference: &fakeConference{}, Metrics: metrics})
	w := do(r, nethttp.MethodGet, "/metrics", "")
	require.Equal(t, nethttp.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "voiceroom_up"))

	r = setup(t, Deps{Conference: &fakeConference{}})
	w = do(r, nethttp.MethodGet, "/metrics", "")
	assert.Equal(t, nethttp.StatusNotFound, w.Code)
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	rl := NewRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "keys are independent")

	now = now.Add(1001 * time.Millisecond)
	assert.True(t, rl.Allow("a"))
}

func TestRateLimitedControls(t *testing.T) {
	conf := &fakeConference{room: "lobby"}
	r := setup(t, Deps{Conference: conf, Limiter: NewRateLimiter(1, time.Minute)})

	ct := &nethttp.Cookie{Name: "ct", Value: "client-1"}
	w := do(r, nethttp.MethodPost, "/api/speaker/toggle", "", ct)
	require.Equal(t, nethttp.StatusOK, w.Code)
	w = do(r, nethttp.MethodPost, "/api/speaker/toggle", "", ct)
	assert.Equal(t, nethttp.StatusTooManyRequests, w.Code)

	w = do(r, nethttp.MethodGet, "/api/state", "", ct)
	assert.Equal(t, nethttp.StatusOK, w.Code, "reads are not limited")

	other := &nethttp.Cookie{Name: "ct", Value: "client-2"}
	w = do(r, nethttp.MethodPost, "/api/speaker/toggle", "", other)
	assert.Equal(t, nethttp.StatusOK, w.Code)
}
