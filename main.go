package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"outpost/pkg/core"
	"outpost/pkg/game"
	"outpost/pkg/journal"
	"outpost/pkg/store"
)

func initConfig() {
	Config.Addr = envOr("OUTPOST_ADDR", DefaultAddr)
	Config.DBPath = envOr("OUTPOST_DB", DefaultDBPath)
	Config.DBDriver = envOr("OUTPOST_DB_DRIVER", store.DriverModernc)
	Config.TablesPath = os.Getenv("OUTPOST_TABLES")
	Config.JournalDir = envOr("OUTPOST_JOURNAL", DefaultJournal)
	Config.AdminToken = os.Getenv("OUTPOST_ADMIN_TOKEN")

	// Default to true unless explicitly disabled
	Config.CommandControl = os.Getenv("OUTPOST_COMMAND_CONTROL") != "false"

	Config.SnapshotEvery = envDuration("OUTPOST_SNAPSHOT_EVERY", DefaultSnapshot)
	Config.BonusScanEvery = envDuration("OUTPOST_BONUS_SCAN", DefaultBonusScan)

	Config.RateLimit = DefaultRate
	if v, err := strconv.ParseFloat(os.Getenv("OUTPOST_RATE"), 64); err == nil && v > 0 {
		Config.RateLimit = v
	}
	Config.RateBurst = DefaultBurst
	if v, err := strconv.Atoi(os.Getenv("OUTPOST_BURST")); err == nil && v > 0 {
		Config.RateBurst = v
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return def
}

func loadTables() *game.Tables {
	if Config.TablesPath == "" {
		return game.DefaultTables()
	}
	t, err := game.LoadTables(Config.TablesPath)
	if err != nil {
		Log.Fatal().Err(err).Str("path", Config.TablesPath).Msg("game tables rejected")
	}
	return t
}

func main() {
	setupLogging()
	initConfig()
	initDB()
	defer db.Close()

	tables := loadTables()
	hub = NewHub(Log.With().Str("component", "hub").Logger())
	journ = journal.New(Config.JournalDir, "events")
	defer journ.Close()
	notifier = fanout{hub, journ}
	engine = game.NewEngine(db, tables,
		game.WithNotifier(notifier),
		game.WithLogger(Log),
		game.WithDigest(core.Hash),
	)

	Log.Info().Str("addr", Config.Addr).Bool("control", Config.CommandControl).
		Int("buildings", len(tables.Buildings)).Int("units", len(tables.Units)).Msg("OUTPOST BOOT SEQUENCE")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start Background Services
	go runSnapshotLoop(ctx, Config.SnapshotEvery)
	go runBonusScanner(ctx, Config.BonusScanEvery)

	// Wrap Middleware
	handler := middlewareSecurity(newRouter())
	handler = middlewareCORS(handler)

	// Secure Server Config
	server := &http.Server{
		Addr:         Config.Addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	Log.Info().Msgf("Listening on %s", Config.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		Log.Error().Err(err).Msg("server stopped")
	}
}
