// Package paths resolves the data-root directory layout shared by the
// scraper and the read API. In hosted mode the data root lives on the
// persistent disk; locally it is a project-relative directory.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	hostedDataRoot = "/var/data"

	// DatabaseDirName holds both SQLite stores.
	DatabaseDirName = "database"
	LogDirName      = "logs"
	ArchiveDirName  = "archive"

	PrimaryDBName  = "poker.db"
	AnalyticDBName = "heavy_analysis.db"

	// FirstDeployMarker is written after the one-time hosted wipe so that
	// later restarts keep accumulated data.
	FirstDeployMarker = ".first_deploy_done"
)

// Paths holds every resolved location the application writes to.
type Paths struct {
	DataRoot   string
	DatabaseD  string
	LogDir     string
	ArchiveDir string

	PrimaryDB  string
	AnalyticDB string

	Hosted bool
}

// Hosted reports whether the process runs on the hosting platform.
// The HANDMILL_HOSTED variable mirrors the platform-injected flag.
func hosted() bool {
	return os.Getenv("HANDMILL_HOSTED") == "true" || os.Getenv("RENDER") == "true"
}

// Resolve determines the data root and creates the directory tree.
// An explicit root (from HANDMILL_DATA_DIR) wins over deploy detection.
func Resolve() (*Paths, error) {
	root := os.Getenv("HANDMILL_DATA_DIR")
	isHosted := hosted()
	if root == "" {
		if isHosted {
			root = hostedDataRoot
		} else {
			root = "local_data"
		}
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data root: %w", err)
	}

	p := &Paths{
		DataRoot:   absRoot,
		DatabaseD:  filepath.Join(absRoot, DatabaseDirName),
		LogDir:     filepath.Join(absRoot, LogDirName),
		ArchiveDir: filepath.Join(absRoot, ArchiveDirName),
		Hosted:     isHosted,
	}
	p.PrimaryDB = filepath.Join(p.DatabaseD, PrimaryDBName)
	p.AnalyticDB = filepath.Join(p.DatabaseD, AnalyticDBName)

	for _, dir := range []string{p.DatabaseD, p.LogDir, p.ArchiveDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return p, nil
}

// ArchiveSubdir returns (and creates) the archive directory for a date.
func (p *Paths) ArchiveSubdir(date string) (string, error) {
	dir := filepath.Join(p.ArchiveDir, date)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive dir for %s: %w", date, err)
	}
	return dir, nil
}

// FirstDeployDone reports whether the hosted initial wipe already ran.
func (p *Paths) FirstDeployDone() bool {
	_, err := os.Stat(filepath.Join(p.DatabaseD, FirstDeployMarker))
	return err == nil
}

// MarkFirstDeployDone records the wipe timestamp.
func (p *Paths) MarkFirstDeployDone(stamp string) error {
	marker := filepath.Join(p.DatabaseD, FirstDeployMarker)
	if err := os.WriteFile(marker, []byte(stamp+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write first-deploy marker: %w", err)
	}
	return nil
}
