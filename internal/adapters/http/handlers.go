package http

import (
	"errors"
	nethttp "net/http"

	"github.com/dkeye/voiceroom/internal/adapters/directory"
	"github.com/dkeye/voiceroom/internal/app/orch"
	"github.com/dkeye/voiceroom/internal/audio"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const lastRoomKey = "last_room"

type handlers struct {
	conf  Conference
	rooms Rooms
}

type joinRequest struct {
	Room string `json:"room"`
}

type volumeRequest struct {
	Volume *float32 `json:"volume" binding:"required"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orch.ErrEmptyRoom), errors.Is(err, audio.ErrVolumeRange):
		return nethttp.StatusBadRequest
	case errors.Is(err, audio.ErrMicrophoneDenied):
		return nethttp.StatusForbidden
	case errors.Is(err, audio.ErrUnknownPlayback):
		return nethttp.StatusNotFound
	case errors.Is(err, orch.ErrNotInRoom), errors.Is(err, audio.ErrMicrophoneBusy):
		return nethttp.StatusConflict
	case errors.Is(err, directory.ErrUnavailable):
		return nethttp.StatusServiceUnavailable
	}
	return nethttp.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	code := statusFor(err)
	ev := log.Warn()
	if code >= nethttp.StatusInternalServerError {
		ev = log.Error()
	}
	ev.Err(err).Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Str("path", c.FullPath()).Int("status", code).Msg("request failed")
	c.JSON(code, gin.H{"error": err.Error()})
}

func (h *handlers) state(c *gin.Context) {
	c.JSON(nethttp.StatusOK, h.conf.State())
}

// join enters the requested room. Without a room in the body the room
// this browser joined last is used.
func (h *handlers) join(c *gin.Context) {
	var req joinRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	session := sessions.Default(c)
	room := req.Room
	if room == "" {
		if last, ok := session.Get(lastRoomKey).(string); ok {
			room = last
		}
	}
	if err := h.conf.Join(c.Request.Context(), domain.RoomID(room)); err != nil {
		fail(c, err)
		return
	}
	session.Set(lastRoomKey, room)
	if err := session.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("session save failed")
	}
	if h.rooms != nil {
		h.rooms.Invalidate()
	}
	log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Str("room", room).Msg("join requested")
	c.JSON(nethttp.StatusOK, h.conf.State())
}

func (h *handlers) leave(c *gin.Context) {
	if err := h.conf.Leave(); err != nil {
		fail(c, err)
		return
	}
	if h.rooms != nil {
		h.rooms.Invalidate()
	}
	c.JSON(nethttp.StatusOK, h.conf.State())
}

func (h *handlers) toggleMic(c *gin.Context) {
	muted, err := h.conf.ToggleMicrophone(c.Request.Context())
	if errors.Is(err, orch.ErrNoSelfUser) {
		c.JSON(nethttp.StatusAccepted, gin.H{"muted": muted, "warning": err.Error()})
		return
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"muted": muted})
}

func (h *handlers) toggleSpeaker(c *gin.Context) {
	muted, err := h.conf.ToggleSpeaker()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"muted": muted})
}

func (h *handlers) stereoVolume(c *gin.Context) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.conf.SetStereoVolume(*req.Volume); err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"volume": *req.Volume})
}

func (h *handlers) trackVolume(c *gin.Context) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(nethttp.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := c.Param("id")
	if err := h.conf.SetTrackVolume(id, *req.Volume); err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"id": id, "volume": *req.Volume})
}

func (h *handlers) listRooms(c *gin.Context) {
	if h.rooms == nil {
		fail(c, directory.ErrUnavailable)
		return
	}
	rooms, err := h.rooms.List(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(nethttp.StatusOK, gin.H{"rooms": rooms})
}

func (h *handlers) getRoom(c *gin.Context) {
	if h.rooms == nil {
		fail(c, directory.ErrUnavailable)
		return
	}
	info, ok, err := h.rooms.Lookup(c.Request.Context(), domain.RoomID(c.Param("name")))
	if err != nil {
		fail(c, err)
		return
	}
	if !ok {
		c.JSON(nethttp.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(nethttp.StatusOK, info)
}
