// Package main is the entry point for the read API. It serves the
// enriched analytic database over HTTP: dashboard summaries, player
// aggregates, hand search and the segment comparison endpoints.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/velstad/handmill/internal/analytic"
	"github.com/velstad/handmill/internal/config"
	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl"
	"github.com/velstad/handmill/internal/paths"
	"github.com/velstad/handmill/internal/progress"
	"github.com/velstad/handmill/internal/queries"
	"github.com/velstad/handmill/internal/server"
	"github.com/velstad/handmill/pkg/logger"
)

func main() {
	cfg, err := config.Load("config.txt")
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	log.Info().Msg("Starting read API")

	p, err := paths.Resolve()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to resolve data directories")
	}

	anaDB, err := database.New(database.Config{Path: p.AnalyticDB, Profile: database.ProfileAnalytic, Name: "analytic"})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open analytic database")
	}
	defer anaDB.Close()
	ana := analytic.New(anaDB, log)
	if err := ana.Init(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize analytic store")
	}

	bus := progress.NewBus()
	env := &etl.Env{
		Analytic: ana,
		Cfg:      cfg,
		Log:      log,
		Bus:      bus,
	}

	srv := server.New(server.Config{
		Log:        log,
		Queries:    queries.New(anaDB, log),
		Bus:        bus,
		AnalyticDB: anaDB,
		Config:     cfg,
		Port:       cfg.Port,
		Env:        env,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
