package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsWithoutFile(t *testing.T) {
	t.Setenv("VOICE_SECRET", "s3cret")
	cfg, err := load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8090, cfg.Port)
	assert.Equal(t, 8000, cfg.Audio.SampleRate)
	assert.Equal(t, 20*time.Millisecond, cfg.Audio.Quantum)
	assert.InDelta(t, 0.5, cfg.Audio.DefaultVolume, 1e-6)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 64, cfg.SendBuffer)
	assert.Equal(t, "stun-turn", cfg.ICE.Mode)
	assert.Equal(t, "voice", cfg.Directory.RedisPrefix)
}

func TestFileValues(t *testing.T) {
	path := writeConfig(t, `
mode: debug
port: 9000
relay_url: wss://relay.example/ws/{room}
room: lobby
stereo: true
ice:
  mode: turn-only
  turn_urls: ["turn:turn.example:3478"]
  turn_username: alice
audio:
  stereo_volume: 0.3
  microphone: none
directory:
  url: https://relay.example/api/stats
`)
	cfg, err := load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "lobby", cfg.Room)
	assert.True(t, cfg.Stereo)
	assert.Equal(t, "turn-only", cfg.ICE.Mode)
	assert.Equal(t, []string{"turn:turn.example:3478"}, cfg.ICE.TURNURLs)
	assert.Equal(t, "alice", cfg.ICE.TURNUsername)
	assert.InDelta(t, 0.3, cfg.Audio.StereoVolume, 1e-6)
	assert.Equal(t, "none", cfg.Audio.Microphone)
	assert.Equal(t, "https://relay.example/api/stats", cfg.Directory.URL)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "port: 9000\nice:\n  mode: stun-only\n")
	t.Setenv("VOICE_PORT", "9100")
	t.Setenv("VOICE_ICE_MODE", "turn-only")
	t.Setenv("VOICE_IDENTITY_TOKEN", "secret-token")
	t.Setenv("VOICE_SECRET", "s3cret")

	cfg, err := load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "turn-only", cfg.ICE.Mode)
	assert.Equal(t, "secret-token", cfg.IdentityToken)
}

func TestRejectsOtherSampleRates(t *testing.T) {
	path := writeConfig(t, "audio:\n  sample_rate: 48000\n")
	_, err := load(path)
	assert.ErrorIs(t, err, ErrSampleRate)
}

func TestValidate(t *testing.T) {
	t.Setenv("VOICE_SECRET", "s3cret")
	base, err := load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	cases := map[string]func(c *Config){
		"volume":     func(c *Config) { c.Audio.StereoVolume = 1.5 },
		"microphone": func(c *Config) { c.Audio.Microphone = "usb" },
		"ice mode":   func(c *Config) { c.ICE.Mode = "relay-ish" },
		"port":       func(c *Config) { c.Port = 0 },
		"buffer":     func(c *Config) { c.SendBuffer = 0 },
		"quantum":    func(c *Config) { c.Audio.Quantum = 0 },
		"relay":      func(c *Config) { c.RelayURL = "" },
		"secret":     func(c *Config) { c.Secret = defaultSecret },
		"no secret":  func(c *Config) { c.Secret = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := *base
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestReleaseModeNeedsSecret(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "secret")

	t.Setenv("VOICE_MODE", "debug")
	cfg, err := load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaultSecret, cfg.Secret)
}
