package rtc

import (
	"strings"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	ICEModeSTUNTURN = "stun-turn"
	ICEModeSTUNOnly = "stun-only"
	ICEModeTURNOnly = "turn-only"
)

var defaultSTUN = []string{"stun:stun.l.google.com:19302"}

// ICEConfig selects the STUN/TURN servers used for candidate gathering.
type ICEConfig struct {
	Mode         string   `mapstructure:"mode"`
	STUNURLs     []string `mapstructure:"stun_urls"`
	TURNURLs     []string `mapstructure:"turn_urls"`
	TURNUsername string   `mapstructure:"turn_username"`
	TURNPassword string   `mapstructure:"turn_password"`
}

func (c ICEConfig) mode() string {
	m := strings.ToLower(strings.TrimSpace(c.Mode))
	if m == "" {
		return ICEModeSTUNTURN
	}
	return m
}

// Servers resolves the configured mode into ICE servers. Without any
// usable server it falls back to the default public STUN server.
func (c ICEConfig) Servers() []webrtc.ICEServer {
	mode := c.mode()
	turnOnly := mode == ICEModeTURNOnly
	stunOnly := mode == ICEModeSTUNOnly

	var servers []webrtc.ICEServer
	if !turnOnly {
		if stun := cleanURLs(c.STUNURLs); len(stun) > 0 {
			servers = append(servers, webrtc.ICEServer{URLs: stun})
		} else {
			servers = append(servers, webrtc.ICEServer{URLs: defaultSTUN})
		}
	}
	if !stunOnly {
		if turn := cleanURLs(c.TURNURLs); len(turn) > 0 {
			servers = append(servers, webrtc.ICEServer{
				URLs:       turn,
				Username:   c.TURNUsername,
				Credential: c.TURNPassword,
			})
		} else if !turnOnly {
			log.Debug().Str("module", "rtc").Msg("TURN not configured, no relay fallback")
		}
	}
	if turnOnly && len(servers) == 0 {
		log.Warn().Str("module", "rtc").Msg("ice mode turn-only without TURN servers, falling back to default STUN")
		servers = append(servers, webrtc.ICEServer{URLs: defaultSTUN})
	}
	return servers
}

// Configuration builds the peer connection configuration. turn-only
// restricts gathering to relay candidates when a TURN server exists.
func (c ICEConfig) Configuration() webrtc.Configuration {
	cfg := webrtc.Configuration{ICEServers: c.Servers()}
	if c.mode() == ICEModeTURNOnly && len(cleanURLs(c.TURNURLs)) > 0 {
		cfg.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	return cfg
}

func cleanURLs(in []string) []string {
	var out []string
	for _, raw := range in {
		for _, p := range strings.Split(raw, ",") {
			if v := strings.TrimSpace(p); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
