package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/voiceroom/internal/adapters/directory"
	router "github.com/dkeye/voiceroom/internal/adapters/http"
	"github.com/dkeye/voiceroom/internal/adapters/rtc"
	sig "github.com/dkeye/voiceroom/internal/adapters/signal"
	"github.com/dkeye/voiceroom/internal/app/metrics"
	"github.com/dkeye/voiceroom/internal/app/orch"
	"github.com/dkeye/voiceroom/internal/audio"
	"github.com/dkeye/voiceroom/internal/config"
	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("client stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("client exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New("voiceroom")

	api, err := rtc.NewAPI()
	if err != nil {
		return err
	}
	iceCfg := cfg.ICE.Configuration()

	conference := orch.New(orch.Config{
		RelayURL:      cfg.RelayURL,
		IdentityToken: cfg.IdentityToken,
		Stereo:        cfg.Stereo,
		SampleRate:    cfg.Audio.SampleRate,
		Quantum:       cfg.Audio.Quantum,
		Audio: audio.Options{
			DefaultVolume: cfg.Audio.DefaultVolume,
			StereoVolume:  cfg.Audio.StereoVolume,
		},
	}, orch.Deps{
		Channels: func(endpoint string) orch.Channel {
			return sig.New(endpoint, sig.Options{
				ReadLimit:    cfg.ReadLimit,
				PingPeriod:   cfg.PingPeriod,
				WriteTimeout: cfg.WriteTimeout,
				SendBuffer:   cfg.SendBuffer,
				Recorder:     m,
			})
		},
		Peers: func(room domain.RoomID) (core.PeerConnection, error) {
			pc, err := rtc.NewConnection(api, iceCfg, string(room))
			if err != nil {
				return nil, err
			}
			return pc, nil
		},
		Microphones: microphones(cfg.Audio),
		Recorder:    m,
	})

	rooms := roomDirectory(cfg.Directory)
	deps := router.Deps{
		Conference: conference,
		Metrics:    m.Handler(),
		Limiter:    router.NewRateLimiter(cfg.RateLimit, cfg.RateInterval),
	}
	if rooms != nil {
		deps.Rooms = rooms
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router.SetupRouter(cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("control api started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.Room != "" {
		g.Go(func() error {
			if err := conference.Join(gctx, domain.RoomID(cfg.Room)); err != nil {
				log.Error().Err(err).Str("room", cfg.Room).Msg("auto join failed")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return errors.Join(srv.Shutdown(shutdownCtx), conference.Close())
	})
	return g.Wait()
}

func microphones(cfg config.AudioConfig) audio.MicrophoneProvider {
	if cfg.Microphone == "none" {
		return audio.DeniedProvider{}
	}
	return audio.OscillatorProvider{Frequency: cfg.ToneHz}
}

// roomDirectory prefers the relay's redis presence store over its HTTP
// stats endpoint. Nil when neither is configured.
func roomDirectory(cfg config.DirectoryConfig) *directory.Cache {
	var src directory.Directory
	switch {
	case cfg.RedisAddr != "":
		src = directory.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.RedisPrefix)
		log.Info().Str("module", "directory").Str("backend", "redis").Str("addr", cfg.RedisAddr).Msg("room directory")
	case cfg.URL != "":
		src = directory.NewHTTP(cfg.URL, nil)
		log.Info().Str("module", "directory").Str("backend", "http").Str("url", cfg.URL).Msg("room directory")
	default:
		return nil
	}
	return directory.NewCache(src, cfg.CacheTTL, nil)
}
