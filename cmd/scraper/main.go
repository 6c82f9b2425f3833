// Package main is the entry point for the hand-history ingestion driver.
// It logs into the upstream hand API, pulls each day's hands into the raw
// store and runs the enrichment pipeline batch by batch. The process runs
// until interrupted, catching up day by day and then polling for today.
package main

import (
	"context"
	"errors"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"

	"github.com/velstad/handmill/internal/analytic"
	"github.com/velstad/handmill/internal/archive"
	"github.com/velstad/handmill/internal/config"
	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl"
	"github.com/velstad/handmill/internal/etl/pipeline"
	"github.com/velstad/handmill/internal/ingest"
	"github.com/velstad/handmill/internal/paths"
	"github.com/velstad/handmill/internal/progress"
	"github.com/velstad/handmill/internal/rawstore"
	"github.com/velstad/handmill/internal/scheduler"
	"github.com/velstad/handmill/internal/upstream"
	"github.com/velstad/handmill/pkg/logger"
)

const (
	exitConfig = 1
	exitAuth   = 2
)

// CLI is the scraper command surface.
type CLI struct {
	Date string `arg:"" optional:"" help:"First date to scrape (YYYY-MM-DD), defaults to STARTING_DATE."`

	URL        string   `help:"Override the upstream base URL."`
	DB         string   `help:"Override the primary database path."`
	Sleep      int      `default:"300" help:"Seconds to sleep between date iterations."`
	SkipStages []string `help:"Stage names to skip after each batch."`
	NoStages   bool     `help:"Skip all post-ingest stages."`
	NoClean    bool     `help:"Skip the startup WAL and lock cleanup."`
	Normalize  bool     `help:"Rescale joined score columns to a shared 0-100 scale."`
	Config     string   `default:"config.txt" help:"Path to the config file."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli)

	boot := bootLog()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		boot.Error().Err(err).Msg("Failed to load configuration")
		kctx.Exit(exitConfig)
	}
	if cli.URL != "" {
		cfg.BaseURL = cli.URL
	}
	if err := cfg.Validate(); err != nil {
		boot.Error().Err(err).Msg("Invalid configuration")
		kctx.Exit(exitConfig)
	}

	p, err := paths.Resolve()
	if err != nil {
		boot.Error().Err(err).Msg("Failed to resolve data directories")
		kctx.Exit(exitConfig)
	}

	log, closeLog, err := logger.NewWithRunFile(logger.Config{Level: cfg.LogLevel, Pretty: true}, p.LogDir)
	if err != nil {
		boot.Error().Err(err).Msg("Failed to open run log")
		kctx.Exit(exitConfig)
	}
	defer closeLog()

	log.Info().Str("data_root", p.DataRoot).Bool("hosted", p.Hosted).Msg("Starting scraper")

	if err := ingest.EnsureFirstDeploy(p, log); err != nil {
		log.Error().Err(err).Msg("First-deploy handling failed")
		kctx.Exit(exitConfig)
	}
	if !cli.NoClean {
		if err := ingest.StartupCleanup(p, log); err != nil {
			log.Warn().Err(err).Msg("Startup cleanup incomplete")
		}
	}

	primaryPath := p.PrimaryDB
	if cli.DB != "" {
		primaryPath = cli.DB
	}

	rawDB, err := database.New(database.Config{Path: primaryPath, Profile: database.ProfilePrimary, Name: "raw"})
	if err != nil {
		log.Error().Err(err).Msg("Failed to open primary database")
		kctx.Exit(exitConfig)
	}
	defer rawDB.Close()
	raw := rawstore.New(rawDB, log)
	if err := raw.Init(); err != nil {
		log.Error().Err(err).Msg("Failed to initialize primary store")
		kctx.Exit(exitConfig)
	}

	anaDB, err := database.New(database.Config{Path: p.AnalyticDB, Profile: database.ProfileAnalytic, Name: "analytic"})
	if err != nil {
		log.Error().Err(err).Msg("Failed to open analytic database")
		kctx.Exit(exitConfig)
	}
	defer anaDB.Close()
	ana := analytic.New(anaDB, log)
	if err := ana.Init(); err != nil {
		log.Error().Err(err).Msg("Failed to initialize analytic store")
		kctx.Exit(exitConfig)
	}

	var ranges *database.DB
	if cfg.RangesPath != "" {
		ranges, err = database.New(database.Config{Path: cfg.RangesPath, Profile: database.ProfileReadOnly, Name: "ranges"})
		if err != nil {
			log.Warn().Err(err).Str("path", cfg.RangesPath).Msg("Preflop range database unavailable")
			ranges = nil
		} else {
			defer ranges.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := upstream.NewClient(cfg.BaseURL, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create upstream client")
		kctx.Exit(exitConfig)
	}
	if err := client.Login(ctx, cfg.APIUsername, cfg.APIPassword); err != nil {
		if errors.Is(err, upstream.ErrAuth) {
			log.Error().Err(err).Msg("Upstream authentication failed")
			kctx.Exit(exitAuth)
		}
		log.Error().Err(err).Msg("Upstream login failed")
		kctx.Exit(exitConfig)
	}
	log.Info().Str("url", cfg.BaseURL).Msg("Logged in to upstream API")

	bus := progress.NewBus()
	env := &etl.Env{
		Raw:      raw,
		Analytic: ana,
		Ranges:   ranges,
		Cfg:      cfg,
		Log:      log,
		Bus:      bus,
	}
	// Mirror progress into the analytic store so the read API process can
	// serve it.
	go progress.Mirror(ctx, bus, ana, log)

	uploader, err := archive.NewUploader(cfg, log)
	if err != nil {
		log.Warn().Err(err).Msg("Archive upload disabled")
	}
	rotator := archive.NewRotator(p, uploader, log)
	rotator.Track(rawDB)
	rotator.Track(anaDB)

	runner := etl.NewRunner(log, pipeline.Stages(cli.Normalize)...)
	source := ingest.NewAPISource(client, cfg.Organizer, cfg.Event, cfg.BatchLimit)
	driver := ingest.NewDriver(cfg, log, source, raw, runner, env)
	driver.NoStages = cli.NoStages
	driver.Sleep = time.Duration(cli.Sleep) * time.Second
	driver.Checkpoint = ingest.NewCheckpoint(filepath.Join(p.DatabaseD, "scrape_checkpoint.msgpack"))
	driver.Rotator = rotator
	if len(cli.SkipStages) > 0 {
		driver.Skip = make(map[string]bool, len(cli.SkipStages))
		for _, name := range cli.SkipStages {
			driver.Skip[name] = true
		}
	}

	sched := scheduler.New(log)
	registerJobs(sched, log, rawDB, anaDB, driver)
	sched.Start()
	defer sched.Stop()

	startDate := cli.Date
	if startDate == "" {
		startDate = cfg.StartingDate
	}

	err = driver.Run(ctx, startDate)
	if p.Hosted {
		// The host sends SIGTERM on redeploy; flushing the WALs keeps
		// the database files copyable from the persistent disk.
		driver.FlushWAL()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Scrape loop ended with error")
		kctx.Exit(exitConfig)
	}

	log.Info().Msg("Scraper stopped")
	kctx.Exit(0)
}

func registerJobs(sched *scheduler.Scheduler, log zerolog.Logger, rawDB, anaDB *database.DB, driver *ingest.Driver) {
	if err := sched.AddJob("0 */5 * * * *", scheduler.NewCheckWALJob(rawDB, anaDB, log)); err != nil {
		log.Warn().Err(err).Msg("Failed to register WAL check job")
	}
	if err := sched.AddJob("0 0 3 * * *", scheduler.NewIntegrityJob(rawDB, anaDB, log)); err != nil {
		log.Warn().Err(err).Msg("Failed to register integrity job")
	}
	if err := sched.AddJob("0 30 0 * * *", scheduler.NewRotationJob(driver, log)); err != nil {
		log.Warn().Err(err).Msg("Failed to register rotation job")
	}
}

// bootLog is used before the run-file logger exists.
func bootLog() zerolog.Logger {
	return logger.New(logger.Config{Level: "info", Pretty: true})
}
