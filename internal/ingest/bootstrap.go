package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/paths"
)

// EnsureFirstDeploy wipes leftover database files on the very first hosted
// start and drops a marker so every later restart keeps accumulated data.
// Local runs are untouched.
func EnsureFirstDeploy(p *paths.Paths, log zerolog.Logger) error {
	if !p.Hosted {
		return nil
	}
	if p.FirstDeployDone() {
		log.Info().Msg("continuing deployment, keeping existing data")
		return nil
	}

	log.Info().Msg("first deploy, clearing database files")
	removed := 0
	for _, pattern := range databaseFilePatterns(p) {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, f := range matches {
			if err := os.Remove(f); err != nil {
				log.Warn().Err(err).Str("file", f).Msg("could not remove database file")
				continue
			}
			removed++
		}
	}
	log.Info().Int("removed", removed).Msg("first-deploy wipe done")

	if err := p.MarkFirstDeployDone(time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return nil
}

// StartupCleanup checkpoints the WALs of any existing stores and removes
// stale sidecar and lock files left behind by a crashed writer. Run before
// opening the stores for writing.
func StartupCleanup(p *paths.Paths, log zerolog.Logger) error {
	for _, dbPath := range []string{p.PrimaryDB, p.AnalyticDB} {
		if _, err := os.Stat(dbPath); err != nil {
			continue
		}
		if err := checkpointWAL(dbPath); err != nil {
			log.Warn().Err(err).Str("db", filepath.Base(dbPath)).Msg("startup wal checkpoint failed")
		} else {
			log.Info().Str("db", filepath.Base(dbPath)).Msg("wal checkpointed")
		}
	}

	removed := 0
	for _, pattern := range []string{
		filepath.Join(p.DatabaseD, "*-wal"),
		filepath.Join(p.DatabaseD, "*-shm"),
		filepath.Join(p.DatabaseD, "*.lock"),
	} {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			continue
		}
		for _, f := range matches {
			if err := os.Remove(f); err != nil {
				log.Warn().Err(err).Str("file", f).Msg("could not remove stale file")
				continue
			}
			log.Info().Str("file", filepath.Base(f)).Msg("removed stale file")
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("stale lock files cleared")
	}
	return nil
}

func checkpointWAL(path string) error {
	db, err := database.New(database.Config{Path: path, Profile: database.ProfilePrimary, Name: filepath.Base(path)})
	if err != nil {
		return fmt.Errorf("open for checkpoint: %w", err)
	}
	defer db.Close()
	return db.WALCheckpoint("TRUNCATE")
}

func databaseFilePatterns(p *paths.Paths) []string {
	return []string{
		filepath.Join(p.DatabaseD, paths.PrimaryDBName+"*"),
		filepath.Join(p.DatabaseD, paths.AnalyticDBName+"*"),
	}
}
