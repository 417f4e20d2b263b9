// Package main is the entry point for the market simulation engine. It
// wires configuration, databases, repositories, the price model, the
// tick scheduler, and the ops HTTP server, then blocks until shutdown.
package main

import (
	"context"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/paperbull/engine/internal/config"
	"github.com/paperbull/engine/internal/database"
	"github.com/paperbull/engine/internal/engine"
	"github.com/paperbull/engine/internal/logger"
	"github.com/paperbull/engine/internal/modules/companies"
	"github.com/paperbull/engine/internal/modules/market_hours"
	"github.com/paperbull/engine/internal/modules/news"
	"github.com/paperbull/engine/internal/modules/orders"
	"github.com/paperbull/engine/internal/modules/pricing"
	"github.com/paperbull/engine/internal/reliability"
	"github.com/paperbull/engine/internal/scheduler"
	"github.com/paperbull/engine/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting simulation engine")

	marketDB := mustOpenDB(log, cfg.DataDir, "market", database.ProfileStandard)
	defer marketDB.Close()
	ledgerDB := mustOpenDB(log, cfg.DataDir, "ledger", database.ProfileLedger)
	defer ledgerDB.Close()
	cacheDB := mustOpenDB(log, cfg.DataDir, "cache", database.ProfileCache)
	defer cacheDB.Close()

	retry := reliability.NewRetryPolicy(cfg.RetryAttempts, cfg.RetryDelay, 2.0)

	companyRepo := companies.NewRepository(marketDB.Conn(), retry, cfg.PersistTimeout, log)
	historyRepo := companies.NewHistoryRepository(ledgerDB.Conn(), retry, cfg.PersistTimeout, log)
	newsRepo := news.NewRepository(marketDB.Conn(), log)
	orderRepo := orders.NewRepository(marketDB.Conn(), log)

	// One seeded generator per concern so each stream stays independent.
	seed := uint64(time.Now().UnixNano())
	model := pricing.NewModel(pricing.DefaultModelConfig(), rand.NewPCG(seed, 1), log)
	decay := news.NewDecayTracker(news.DefaultDecayConfig(), rand.NewPCG(seed, 2), log)
	generator := news.NewGenerator(newsRepo, rand.NewPCG(seed, 3), log)

	momentum := pricing.NewMomentumTracker()
	executor := orders.NewExecutor(orderRepo, retry, cfg.PersistTimeout, log)
	snapshots := engine.NewSnapshotStore(cacheDB.Conn(), log)

	hours, err := market_hours.NewService(market_hours.Window{
		OpenHour:    cfg.MarketOpenHour,
		OpenMinute:  cfg.MarketOpenMinute,
		CloseHour:   cfg.MarketCloseHour,
		CloseMinute: cfg.MarketCloseMinute,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid market hours window")
	}

	eng := engine.New(
		engine.Config{
			TickWorkers:          cfg.TickWorkers,
			NewsCompaniesPerTick: cfg.NewsCompaniesPerTick,
		},
		companyRepo,
		historyRepo,
		newsRepo,
		decay,
		generator,
		model,
		momentum,
		executor,
		hours,
		snapshots,
		log,
	)

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	eng.WarmStart(startCtx)
	startCancel()

	allDBs := []*database.DB{marketDB, ledgerDB, cacheDB}

	sched := scheduler.New(log)
	if err := scheduler.RegisterAll(sched, eng, hours.Window(), allDBs); err != nil {
		log.Fatal().Err(err).Msg("Failed to register scheduled jobs")
	}
	sched.Start()
	defer sched.Stop()

	// An unclean shutdown can leave large WAL files behind; reclaim them
	// before the first tick instead of waiting for the nightly run.
	if err := sched.RunNow(&scheduler.WALCheckpointJob{DBs: allDBs}); err != nil {
		log.Warn().Err(err).Msg("Startup WAL checkpoint failed")
	}

	srv := server.New(server.Config{
		Config:      cfg,
		Log:         log,
		Engine:      eng,
		MarketHours: hours,
		Companies:   companyRepo,
		History:     historyRepo,
		Orders:      orderRepo,
		MarketDB:    marketDB,
		LedgerDB:    ledgerDB,
		CacheDB:     cacheDB,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Persist momentum and closing bookkeeping before exiting so the
	// next start can warm-start.
	if err := eng.CloseMarket(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to save closing state")
	}

	log.Info().Msg("Shutdown complete")
}

func mustOpenDB(log zerolog.Logger, dataDir, name string, profile database.Profile) *database.DB {
	db, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, name+".db"),
		Profile: profile,
		Name:    name,
	})
	if err != nil {
		log.Fatal().Err(err).Str("db", name).Msg("Failed to open database")
	}
	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Str("db", name).Msg("Failed to migrate database")
	}
	return db
}
