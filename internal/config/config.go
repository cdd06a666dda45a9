package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/voiceroom/internal/adapters/rtc"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var (
	ErrSampleRate = errors.New("audio.sample_rate must be 8000")
	ErrInvalid    = errors.New("invalid config")
)

// defaultSecret signs cookie sessions until a real secret is configured.
// Release mode refuses it.
const defaultSecret = "change-me"

type Config struct {
	Mode     string `mapstructure:"mode"`
	Port     int    `mapstructure:"port"`
	Secret   string `mapstructure:"secret"`
	LogLevel string `mapstructure:"log_level"`

	RelayURL      string `mapstructure:"relay_url"`
	Room          string `mapstructure:"room"`
	IdentityToken string `mapstructure:"identity_token"`
	Stereo        bool   `mapstructure:"stereo"`

	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	SendBuffer   int           `mapstructure:"send_buffer"`

	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`

	ICE       rtc.ICEConfig   `mapstructure:"ice"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Directory DirectoryConfig `mapstructure:"directory"`
}

type AudioConfig struct {
	SampleRate    int           `mapstructure:"sample_rate"`
	Quantum       time.Duration `mapstructure:"quantum"`
	DefaultVolume float32       `mapstructure:"default_volume"`
	StereoVolume  float32       `mapstructure:"stereo_volume"`
	// Microphone is "tone" for the sine oscillator or "none".
	Microphone string  `mapstructure:"microphone"`
	ToneHz     float64 `mapstructure:"tone_hz"`
}

type DirectoryConfig struct {
	URL         string        `mapstructure:"url"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	RedisPrefix string        `mapstructure:"redis_prefix"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8090)
	v.SetDefault("secret", defaultSecret)
	v.SetDefault("log_level", "info")

	v.SetDefault("relay_url", "ws://localhost:8080/ws/{room}")
	v.SetDefault("room", "")
	v.SetDefault("identity_token", "")
	v.SetDefault("stereo", false)

	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("send_buffer", 64)

	v.SetDefault("rate_limit", 10)
	v.SetDefault("rate_interval", "1s")

	v.SetDefault("ice.mode", rtc.ICEModeSTUNTURN)
	v.SetDefault("ice.stun_urls", []string{})
	v.SetDefault("ice.turn_urls", []string{})
	v.SetDefault("ice.turn_username", "")
	v.SetDefault("ice.turn_password", "")

	v.SetDefault("audio.sample_rate", 8000)
	v.SetDefault("audio.quantum", "20ms")
	v.SetDefault("audio.default_volume", 0.5)
	v.SetDefault("audio.stereo_volume", 0.5)
	v.SetDefault("audio.microphone", "tone")
	v.SetDefault("audio.tone_hz", 440.0)

	v.SetDefault("directory.url", "")
	v.SetDefault("directory.redis_addr", "")
	v.SetDefault("directory.redis_prefix", "voice")
	v.SetDefault("directory.cache_ttl", "5s")
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default). A .env
// file is loaded first and VOICE_* variables override file values, e.g.
// VOICE_ICE_MODE=turn-only.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Str("module", "config").Msg("no .env file")
	}
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return load(fmt.Sprintf("config/config.%s.yaml", env))
}

func load(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("VOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("ice_mode", cfg.ICE.Mode).
		Str("microphone", cfg.Audio.Microphone).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...)))
	}

	if c.Audio.SampleRate != 8000 {
		errs = append(errs, fmt.Errorf("%w, got %d", ErrSampleRate, c.Audio.SampleRate))
	}
	if c.Audio.Quantum <= 0 {
		bad("audio.quantum %s", c.Audio.Quantum)
	}
	if c.Audio.DefaultVolume < 0 || c.Audio.DefaultVolume > 1 {
		bad("audio.default_volume %v not in [0,1]", c.Audio.DefaultVolume)
	}
	if c.Audio.StereoVolume < 0 || c.Audio.StereoVolume > 1 {
		bad("audio.stereo_volume %v not in [0,1]", c.Audio.StereoVolume)
	}
	switch c.Audio.Microphone {
	case "tone", "none":
	default:
		bad("audio.microphone %q", c.Audio.Microphone)
	}
	switch strings.ToLower(strings.TrimSpace(c.ICE.Mode)) {
	case "", rtc.ICEModeSTUNTURN, rtc.ICEModeSTUNOnly, rtc.ICEModeTURNOnly:
	default:
		bad("ice.mode %q", c.ICE.Mode)
	}
	if c.Port <= 0 || c.Port > 65535 {
		bad("port %d", c.Port)
	}
	if c.SendBuffer <= 0 {
		bad("send_buffer %d", c.SendBuffer)
	}
	if c.RelayURL == "" {
		bad("relay_url empty")
	}
	if c.Mode == "release" && (c.Secret == "" || c.Secret == defaultSecret) {
		bad("secret must be set in release mode")
	}
	return errors.Join(errs...)
}
