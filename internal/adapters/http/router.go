package http

import (
	"context"
	nethttp "net/http"

	"github.com/dkeye/voiceroom/internal/app/orch"
	"github.com/dkeye/voiceroom/internal/config"
	"github.com/dkeye/voiceroom/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Conference is the membership the control API drives.
type Conference interface {
	State() orch.State
	Join(ctx context.Context, room domain.RoomID) error
	Leave() error
	ToggleMicrophone(ctx context.Context) (bool, error)
	ToggleSpeaker() (bool, error)
	SetStereoVolume(v float32) error
	SetTrackVolume(id string, v float32) error
}

type Rooms interface {
	List(ctx context.Context) ([]domain.RoomInfo, error)
	Lookup(ctx context.Context, name domain.RoomID) (domain.RoomInfo, bool, error)
	Invalidate()
}

type Deps struct {
	Conference Conference
	// Rooms is optional; without it the room routes answer 503.
	Rooms   Rooms
	Metrics nethttp.Handler
	Limiter *RateLimiter
}

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(cfg *config.Config, deps Deps) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceSessions", store))
	r.Use(ClientTokenMiddleware())

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	h := &handlers{conf: deps.Conference, rooms: deps.Rooms}
	api := r.Group("/api")
	api.GET("/state", h.state)
	api.GET("/rooms", h.listRooms)
	api.GET("/rooms/:name", h.getRoom)

	ctl := api.Group("", deps.Limiter.Middleware())
	ctl.POST("/join", h.join)
	ctl.POST("/leave", h.leave)
	ctl.POST("/mic/toggle", h.toggleMic)
	ctl.POST("/speaker/toggle", h.toggleSpeaker)
	ctl.PUT("/volume/stereo", h.stereoVolume)
	ctl.PUT("/volume/tracks/:id", h.trackVolume)

	log.Info().Str("module", "adapters.http").Str("mode", cfg.Mode).Bool("metrics", deps.Metrics != nil).Bool("rooms", deps.Rooms != nil).Msg("router setup")
	return r
}
