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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	router "github.com/dkeye/callsignal/internal/adapters/http"
	sig "github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/adapters/store"
	"github.com/dkeye/callsignal/internal/app"
	"github.com/dkeye/callsignal/internal/codec"
	"github.com/dkeye/callsignal/internal/config"
	"github.com/dkeye/callsignal/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := pflag.NewFlagSet("callsignal-server", pflag.ExitOnError)
	config.ServerFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Str("module", "cmd.server").Err(err).Msg("failed to load config")
	}
	config.ApplyLogLevel(cfg.LogLevel)

	members, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatal().Str("module", "cmd.server").Err(err).Msg("failed to open membership store")
	}
	defer closeStore()

	wire, err := codec.ByName(cfg.Codec)
	if err != nil {
		log.Fatal().Str("module", "cmd.server").Err(err).Msg("bad codec")
	}
	action, err := app.ParseBackpressure(cfg.Backpressure)
	if err != nil {
		log.Fatal().Str("module", "cmd.server").Err(err).Msg("bad backpressure policy")
	}

	sessions := app.NewSessionManager(members)
	defer sessions.Close()
	reg := app.NewRegistry()
	go app.NewDispatcher(reg, app.SimplePolicy{Action: action}).Run(ctx, sessions.Deliveries())

	limiter := sig.NewCommandRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Interval)
	ctl := sig.NewSignalWSController(sessions, reg, limiter, wire, sig.Settings{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait(),
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})

	cfg.Watch(func(next *config.Config) {
		config.ApplyLogLevel(next.LogLevel)
		limiter.SetLimits(next.RateLimit.Limit, next.RateLimit.Interval)
		log.Info().Str("module", "cmd.server").Str("level", next.LogLevel).Int("rate_limit", next.RateLimit.Limit).Msg("config reloaded")
	})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Sessions: sessions,
		Registry: reg,
		Store:    members,
		Signal:   ctl,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("module", "cmd.server").Str("addr", addr).Str("backpressure", action.String()).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Str("module", "cmd.server").Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Str("module", "cmd.server").Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Str("module", "cmd.server").Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Str("module", "cmd.server").Msg("Server exited gracefully")
}

func openStore(cfg *config.Config) (core.MembershipStore, func(), error) {
	if cfg.Database.Path == "" {
		log.Info().Str("module", "cmd.server").Msg("memberships kept in memory")
		return store.NewMemory(), func() {}, nil
	}
	db, err := store.OpenSQLite(cfg.Database.Path)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("module", "cmd.server").Str("path", cfg.Database.Path).Msg("memberships stored in sqlite")
	return db, func() {
		if err := db.Close(); err != nil {
			log.Error().Str("module", "cmd.server").Err(err).Msg("close membership store")
		}
	}, nil
}
