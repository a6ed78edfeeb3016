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

	"go.uber.org/zap"

	"pong-server/internal/auth"
	"pong-server/internal/config"
	"pong-server/internal/game"
	"pong-server/internal/ledger"
	"pong-server/internal/presence"
	"pong-server/internal/rating"
	"pong-server/internal/schedule"
	"pong-server/internal/server"
	"pong-server/internal/store"
	"pong-server/internal/tournament"
)

const (
	maintenanceInterval = time.Minute
	matchedRecordMaxAge = 2 * time.Minute
	shutdownTimeout     = 30 * time.Second
)

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		return store.NewMemory(), nil
	}
	pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

func openLedger(ctx context.Context, cfg config.Config, log *zap.Logger) (ledger.Recorder, func()) {
	client, err := ledger.Dial(ctx, cfg.Ledger, log)
	if err != nil {
		if errors.Is(err, ledger.ErrDisabled) {
			log.Info("ledger not configured, tournament results stay off-chain")
		} else {
			log.Error("ledger unavailable, tournament results stay off-chain", zap.Error(err))
		}
		return ledger.Disabled{}, func() {}
	}
	return client, client.Close
}

func gracefulShutdown(ctx context.Context, stop, stopTicks context.CancelFunc, log *zap.Logger, customServer *server.Server, httpServer *http.Server, done chan bool) {
	<-ctx.Done()
	log.Info("shutdown signal received, press Ctrl+C again to force")
	stop()
	// No goal can end a match once ticks stop.
	stopTicks()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Event streams are ordinary requests; they end once their sinks close.
	if err := customServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("error during connection shutdown", zap.Error(err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server forced to shutdown", zap.Error(err))
	}
	done <- true
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	cron, err := schedule.NewCron(log.Named("cron"))
	if err != nil {
		return err
	}
	defer cron.Shutdown()

	rec, closeLedger := openLedger(ctx, cfg, log)
	defer closeLedger()

	registry := game.NewRegistry(game.Options{
		Scheduler:   cron,
		Names:       store.Names{Store: st},
		Recorder:    rating.NewRecorder(st, log),
		IdleTimeout: cfg.IdleTimeout,
		Logger:      log,
	})
	matchmaker := game.NewMatchmaker(registry, log)
	hub := presence.NewHub(log)
	orchestrator := tournament.New(tournament.Options{
		Store:      st,
		Live:       registry,
		Notifier:   hub,
		Ledger:     rec,
		Logger:     log,
		MaxLiveAge: cfg.LiveMatchMaxAge,
	})
	registry.OnEnd(orchestrator.OnLiveMatchEnded)

	customServer := server.NewServer(server.Deps{
		Config:      cfg,
		Logger:      log,
		Store:       st,
		Auth:        auth.NewVerifier(cfg.JWTSecret),
		Registry:    registry,
		Matchmaker:  matchmaker,
		Tournaments: orchestrator,
		Presence:    hub,
	})

	err = cron.Every("maintenance", maintenanceInterval, func() {
		if n := matchmaker.Sweep(matchedRecordMaxAge); n > 0 {
			log.Info("expired uncollected queue matches", zap.Int("count", n))
		}
		customServer.Maintain()
	})
	if err != nil {
		return err
	}

	tickCtx, stopTicks := context.WithCancel(context.Background())
	defer stopTicks()
	go registry.Run(tickCtx)

	httpServer := customServer.HTTPServer()
	done := make(chan bool, 1)
	go gracefulShutdown(ctx, stop, stopTicks, log, customServer, httpServer, done)

	log.Info("listening", zap.String("addr", httpServer.Addr), zap.String("env", cfg.Env))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	<-done
	log.Info("graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
