package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"reviewhub/api/internal/app"
	"reviewhub/api/internal/comments"
	"reviewhub/api/internal/config"
	"reviewhub/api/internal/gitrepo"
	"reviewhub/api/internal/hub"
	"reviewhub/api/internal/presence"
	"reviewhub/api/internal/session"
	"reviewhub/api/internal/store"
)

func main() {
	cfg := config.Load()
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := context.Background()

	sessionStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("store initialization failed")
	}
	defer sessionStore.Close()

	var files hub.FileLoader
	if cfg.ReposDir != "" {
		files = gitrepo.New(cfg.ReposDir)
	}

	sessions := session.NewManager(sessionStore, cfg.IdleThreshold)
	tracker := presence.NewTracker(sessions)
	engine := comments.NewEngine(sessions)
	eventHub := hub.New(sessions, tracker, engine, files, cfg.SendQueueSize, log)
	service := app.New(sessions, tracker, engine, sessionStore)

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go session.NewReaper(sessions, cfg.CleanupInterval, log).Run(reaperCtx)

	httpServer := app.NewHTTPServer(service, eventHub, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("store", cfg.StoreBackend).Msg("reviewhub api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopReaper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (store.SessionStore, error) {
	switch cfg.StoreBackend {
	case "redis":
		log.Info().Msg("using redis session store")
		return store.NewRedisStore(cfg.RedisURL)
	case "postgres":
		log.Info().Msg("using postgres session store")
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			db.Close()
			return nil, err
		}
		return store.NewPostgresStore(db), nil
	default:
		log.Info().Msg("using in-memory session store")
		return store.NewMemoryStore(), nil
	}
}
