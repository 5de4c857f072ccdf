// Package main is the entry point for the Tidal Miner inventory server.
// It only handles dependency injection and server initialization.
// NO business logic belongs here.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/Kattete/Tidal-Miner/internal/domain/recipe"
	"github.com/Kattete/Tidal-Miner/internal/engine"
	"github.com/Kattete/Tidal-Miner/internal/events"
	"github.com/Kattete/Tidal-Miner/internal/infra/cache"
	"github.com/Kattete/Tidal-Miner/internal/infra/storage"
	"github.com/Kattete/Tidal-Miner/internal/network"
	"github.com/Kattete/Tidal-Miner/internal/platform/config"
	"github.com/Kattete/Tidal-Miner/internal/platform/logger"
	"github.com/Kattete/Tidal-Miner/internal/platform/metrics"
)

func main() {
	appLogger := logger.NewLogger()
	if err := run(appLogger); err != nil {
		appLogger.Errorf("Server stopped: %v", err)
		os.Exit(1)
	}
}

func run(appLogger *logger.Logger) error {
	appLogger.Info("Initializing Tidal Miner authoritative inventory server...")

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}

	ledger, err := recipe.NewLedgerFromFile(cfg.RecipesFile)
	if err != nil {
		return err
	}

	appLogger.Infof("Initializing SQLite database '%s'...", cfg.DBPath)
	db, err := storage.InitSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	storage.ConfigurePool(db, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)

	m := metrics.Get()
	eventRepo := storage.NewSQLiteEventRepository(db)
	snapshots, err := cache.NewInventoryCache(storage.NewSQLiteInventoryRepository(db), cfg.SnapshotCacheSize)
	if err != nil {
		return err
	}
	m.SetCacheStats(snapshots.Stats)
	recon := storage.NewReconstructor(eventRepo)

	appLogger.Info("Bootstrapping EventLog...")
	eventLog := events.NewBufferedEventLog(storage.NewEventPersister(eventRepo, m), cfg.EventChannelBuffer,
		func(e events.GameEvent, err error) {
			appLogger.Errorf("Failed to persist %s event %s: %v", e.Type, e.ID, err)
		})
	defer eventLog.Close()

	appLogger.Info("Bootstrapping Engine Subsystems...")
	gameEngine := engine.NewEngine(engine.Deps{
		EventLog: eventLog,
		Logger:   appLogger,
		Ledger:   ledger,
		Capacity: cfg.InventoryCapacity,
		Metrics:  m,
		TickRate: cfg.TickRate,
		Loader:   &snapshotLoader{snapshots: snapshots, recon: recon, logger: appLogger, timeout: 5 * time.Second},
	})
	if err := gameEngine.FinishSetup(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	restoreSessions(ctx, snapshots, recon, gameEngine, appLogger)

	appLogger.Info("Bootstrapping WebSocket Hub...")
	hub := network.NewHub(gameEngine, appLogger, m, network.HubConfig{
		BroadcastBuffer:      cfg.BroadcastChannelBuffer,
		ClientSendBuffer:     cfg.ClientSendBuffer,
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		MaxClientsPerSession: cfg.MaxClientsPerSession,
	})
	upgrader := network.NewUpgrader(cfg.AllowedOrigin)

	router := mux.NewRouter()
	router.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		network.ServeWs(hub, upgrader, w, r)
	})
	network.NewInventoryAPI(gameEngine, hub, recon, m, appLogger).RegisterRoutes(router)
	network.NewReplayHandler(eventLog, appLogger).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	gameEngine.Start(gctx)
	hub.StartEventPoller(gctx, eventLog)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		runSnapshots(gctx, cfg.SnapshotInterval, snapshots, gameEngine, m, appLogger)
		return nil
	})
	g.Go(func() error {
		runIdleSweep(gctx, cfg.IdleRelease, snapshots, gameEngine, hub.ConnectedSessions, m, appLogger)
		return nil
	})
	g.Go(func() error {
		appLogger.Infof("HTTP API & WS Server listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// Final snapshot outlives the cancelled group context.
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	n := saveSessions(saveCtx, snapshots, gameEngine, m, appLogger)
	appLogger.Infof("Saved %d sessions before exit", n)
	return err
}
