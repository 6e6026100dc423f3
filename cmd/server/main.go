package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yourname/game-master/internal/api"
	"github.com/yourname/game-master/internal/config"
	"github.com/yourname/game-master/internal/match"
	"github.com/yourname/game-master/internal/metrics"
	"github.com/yourname/game-master/internal/queue"
	"github.com/yourname/game-master/internal/rating"
	"github.com/yourname/game-master/internal/session"
	"github.com/yourname/game-master/internal/status"
	"github.com/yourname/game-master/internal/store"
	"github.com/yourname/game-master/internal/ws"
)

var version = "source"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	setLogger(cfg.LogLevel)
	log.Info().Str("version", version).Str("addr", cfg.HTTPAddr).Msg("starting game-master")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPass, cfg.ProcessedTTL, cfg.OutcomeTTL)
	defer st.Close()

	hub := ws.NewHub()
	go hub.Run()

	mgr := queue.NewManager(st, hub)

	var prov session.Provisioner
	if cfg.OrchestratorURL != "" {
		prov = session.NewHTTPProvisioner(cfg.OrchestratorURL)
	} else {
		log.Warn().Msg("no ORCHESTRATOR_URL set, using in-process workload provisioner")
		prov = session.NewLocalProvisioner(time.Second)
	}

	var lb rating.Leaderboard
	if cfg.LeaderboardURL != "" {
		lb = rating.NewHTTPLeaderboard(cfg.LeaderboardURL)
	} else {
		lb = rating.LogLeaderboard{}
	}

	ing := rating.NewIngestor(cfg, st, lb)
	orch := session.NewOrchestrator(cfg, prov, mgr, ing, st, hub)
	mgr.SetSessionLookup(orch.Registry())
	rep := status.NewReporter(st, mgr, orch.Registry())

	mm := match.NewMatcher(cfg, st, mgr, orch)
	go mm.Run(ctx)

	metrics.Init()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(mgr, rep, orch, hub),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}

func setLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
