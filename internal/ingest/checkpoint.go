package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// State is the crash-resume position, persisted at every batch boundary.
// A restart resumes from the recorded date; committed rows before the crash
// are deduplicated on re-entry.
type State struct {
	Date     string    `msgpack:"date"`
	Batch    int       `msgpack:"batch"`
	Imported int       `msgpack:"imported"`
	SavedAt  time.Time `msgpack:"saved_at"`
}

// Checkpoint persists State to a single file, written atomically.
type Checkpoint struct {
	path string
}

// NewCheckpoint returns a checkpoint backed by the given file path.
func NewCheckpoint(path string) *Checkpoint {
	return &Checkpoint{path: path}
}

// Load reads the saved state. A missing file returns (nil, nil).
func (c *Checkpoint) Load() (*State, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint %s: %w", c.path, err)
	}
	var st State
	if err := msgpack.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", c.path, err)
	}
	return &st, nil
}

// Save writes the state through a temp file and rename so a crash mid-write
// never leaves a truncated checkpoint.
func (c *Checkpoint) Save(st *State) error {
	st.SavedAt = time.Now().UTC()
	data, err := msgpack.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint file; missing is fine.
func (c *Checkpoint) Clear() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint %s: %w", c.path, err)
	}
	return nil
}
