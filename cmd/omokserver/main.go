// Package main provides the omok server binary: the meeting-area directory and
// game sessions behind an HTTP, server-sent event, and WebSocket API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/omok/internal/config"
	"github.com/cory-johannsen/omok/internal/frontend/httpapi"
	"github.com/cory-johannsen/omok/internal/game/directory"
	"github.com/cory-johannsen/omok/internal/game/session"
	"github.com/cory-johannsen/omok/internal/game/source"
	"github.com/cory-johannsen/omok/internal/observability"
	"github.com/cory-johannsen/omok/internal/server"
	"github.com/cory-johannsen/omok/internal/storage"
	"github.com/cory-johannsen/omok/internal/storage/memory"
	"github.com/cory-johannsen/omok/internal/storage/postgres"
	"github.com/cory-johannsen/omok/internal/storage/sqlite"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "", "path to configuration file; empty uses defaults and OMOK_* environment")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting omok server",
		zap.String("http_addr", cfg.HTTP.Addr()),
		zap.String("storage", cfg.Storage.Driver),
	)

	lifecycle := server.NewLifecycle(logger)

	store, err := openStore(ctx, cfg, logger, lifecycle)
	if err != nil {
		logger.Fatal("opening storage", zap.Error(err))
	}
	lifecycle.Add("store", server.Closer(store.Close, logger))

	ids := source.NewUUIDSource()
	clock := source.NewSystemClock()

	dir := directory.New(directory.Deps{
		IDs:            ids,
		Clock:          clock,
		Slot:           storage.NewSlot(store, storage.DirectoryKey, cfg.Storage.OpTimeout, observability.Component(logger, "storage")),
		ObserverBuffer: cfg.Game.ObserverBuffer,
		ChatCap:        cfg.Game.DirectoryChatCap,
		TombstoneTTL:   cfg.Game.TombstoneTTL,
		Logger:         observability.Component(logger, "directory"),
	})
	sessions := session.NewManager(session.Deps{
		IDs:            ids,
		Clock:          clock,
		Store:          store,
		StoreTimeout:   cfg.Storage.OpTimeout,
		Directory:      dir,
		ObserverBuffer: cfg.Game.ObserverBuffer,
		ChatCap:        cfg.Game.SessionChatCap,
		Logger:         observability.Component(logger, "session"),
	})
	api := httpapi.NewHandler(dir, sessions, cfg.HTTP, observability.Component(logger, "http"))
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      api.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	// Streams end only when their observers close.
	srv.RegisterOnShutdown(api.Close)
	lifecycle.Add("http", server.NewHTTPService(srv, cfg.HTTP.ShutdownTimeout, logger))

	logger.Info("omok server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.Int("rooms", len(dir.Summaries())),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// openStore opens the configured storage backend. The postgres backend also
// registers its pool health check with lifecycle.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger, lifecycle *server.Lifecycle) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage; state will not survive a restart")
		return memory.NewStore(), nil

	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("sqlite storage opened", zap.String("path", cfg.Storage.SQLitePath))
		return store, nil

	case config.DriverPostgres:
		dbStart := time.Now()
		if err := postgres.Migrate(cfg.Database.DSN()); err != nil {
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		stop := make(chan struct{})
		lifecycle.Add("postgres", &server.FuncService{
			StartFn: func() error {
				ticker := time.NewTicker(30 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-stop:
						return nil
					case <-ticker.C:
						if err := pool.Health(ctx, 5*time.Second); err != nil {
							logger.Warn("database health check failed", zap.Error(err))
						}
					}
				}
			},
			StopFn: func() {
				close(stop)
				pool.Close()
			},
		})
		return postgres.NewStateRepository(pool.DB()), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
}
