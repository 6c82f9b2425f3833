// Package archive moves finished daily databases into the archive tree
// and optionally ships them to object storage.
package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/velstad/handmill/internal/analytic"
	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/paths"
	"github.com/velstad/handmill/internal/rawstore"
)

// Rotator archives the live databases for a completed day and recreates
// empty stores for the next one.
type Rotator struct {
	paths    *paths.Paths
	log      zerolog.Logger
	uploader *Uploader
	live     map[string]*database.DB
}

// NewRotator creates a rotator. Pass a non-nil uploader to also ship
// each day's archive to object storage.
func NewRotator(p *paths.Paths, uploader *Uploader, log zerolog.Logger) *Rotator {
	return &Rotator{
		paths:    p,
		log:      log.With().Str("service", "archive").Logger(),
		uploader: uploader,
		live:     make(map[string]*database.DB),
	}
}

// Track registers an open handle on one of the live files. Rotate
// checkpoints and closes it around the file swap, then reopens it against
// the fresh database so the owning store keeps working.
func (r *Rotator) Track(db *database.DB) {
	r.live[db.Path()] = db
}

// Rotate moves poker.db and heavy_analysis.db into archive/<date>/ and
// initializes fresh empty databases in their place. A file already
// present under the date directory is never overwritten. Rotation
// failures are logged rather than returned per file so one stuck
// database does not stop the other from rotating.
func (r *Rotator) Rotate(ctx context.Context, date string) error {
	dstDir, err := r.paths.ArchiveSubdir(date)
	if err != nil {
		return fmt.Errorf("archive dir for %s: %w", date, err)
	}

	moved := 0
	for _, dbPath := range []string{r.paths.PrimaryDB, r.paths.AnalyticDB} {
		if _, err := os.Stat(dbPath); err != nil {
			continue
		}

		target := filepath.Join(dstDir, filepath.Base(dbPath))
		if _, err := os.Stat(target); err == nil {
			r.log.Info().Str("target", target).Msg("archive target exists, keeping it")
			continue
		}

		// A tracked open handle must checkpoint first so the .db file
		// alone carries every committed transaction, and must be closed
		// across the swap so no descriptor follows the old inode.
		live := r.live[dbPath]
		if live != nil {
			if err := live.WALCheckpoint("TRUNCATE"); err != nil {
				r.log.Warn().Err(err).Str("db", dbPath).Msg("checkpoint before rotation failed, skipping")
				continue
			}
			if err := live.Close(); err != nil {
				r.log.Warn().Err(err).Str("db", dbPath).Msg("could not close database for rotation")
				continue
			}
		}

		var recreateErr error
		if err := moveFile(dbPath, target); err != nil {
			r.log.Warn().Err(err).Str("db", dbPath).Msg("could not rotate database")
		} else {
			moved++
			removeSidecars(dbPath)
			recreateErr = r.recreate(dbPath)
		}

		// Reopen even after a failed recreate; the writer must never be
		// left with a closed pool.
		if live != nil {
			if err := live.Reopen(); err != nil {
				return fmt.Errorf("reopen %s after rotation: %w", filepath.Base(dbPath), err)
			}
		}
		if recreateErr != nil {
			return fmt.Errorf("recreate %s: %w", filepath.Base(dbPath), recreateErr)
		}
	}

	r.log.Info().Str("date", date).Int("moved", moved).Msg("databases rotated")

	if r.uploader != nil && moved > 0 {
		if err := r.uploader.UploadDay(ctx, dstDir, date); err != nil {
			r.log.Error().Err(err).Str("date", date).Msg("archive upload failed")
		}
	}
	return nil
}

// recreate initializes an empty store with the full schema so the next
// day's writer finds its tables ready.
func (r *Rotator) recreate(dbPath string) error {
	name := filepath.Base(dbPath)
	switch name {
	case paths.PrimaryDBName:
		db, err := database.New(database.Config{Path: dbPath, Profile: database.ProfilePrimary, Name: "raw"})
		if err != nil {
			return err
		}
		defer db.Close()
		return rawstore.New(db, r.log).Init()
	case paths.AnalyticDBName:
		db, err := database.New(database.Config{Path: dbPath, Profile: database.ProfileAnalytic, Name: "analytic"})
		if err != nil {
			return err
		}
		defer db.Close()
		return analytic.New(db, r.log).Init()
	default:
		return fmt.Errorf("unknown database %s", name)
	}
}

// removeSidecars deletes leftover WAL and shared-memory files, which
// belong to the archived database and must not pair with the fresh one.
func removeSidecars(dbPath string) {
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(dbPath + suffix)
	}
}

// moveFile renames, falling back to copy+remove when src and dst live
// on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// PathsForDate returns the raw and analytic database paths for a date,
// preferring archived copies and falling back to the live files.
func PathsForDate(p *paths.Paths, date string) (string, string) {
	sub := filepath.Join(p.ArchiveDir, date)

	primary := p.PrimaryDB
	if cand := filepath.Join(sub, paths.PrimaryDBName); fileExists(cand) {
		primary = cand
	}
	analyticPath := p.AnalyticDB
	if cand := filepath.Join(sub, paths.AnalyticDBName); fileExists(cand) {
		analyticPath = cand
	}
	return primary, analyticPath
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
