package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MaterializeLockName is the lock file guarding summary rebuilds. Its
// presence lets the read layer report a "materializing" status.
const MaterializeLockName = "dashboard_materialize.lock"

// Lock acquisition cadence.
const (
	LockWaitTimeout = 10 * time.Minute
	LockPollEvery   = 5 * time.Second
)

// FileLock is an advisory cross-process lock backed by an O_EXCL-created file.
type FileLock struct {
	path string
	held bool
}

// NewFileLock returns a lock for the named lock file inside dir.
func NewFileLock(dir, name string) *FileLock {
	return &FileLock{path: filepath.Join(dir, name)}
}

// LockForDB returns the writer lock accompanying a database file, e.g.
// heavy_analysis.db.lock next to heavy_analysis.db.
func LockForDB(dbPath string) *FileLock {
	return &FileLock{path: dbPath + ".lock"}
}

// Path returns the lock file location.
func (l *FileLock) Path() string {
	return l.path
}

// TryAcquire attempts a single non-blocking acquisition.
func (l *FileLock) TryAcquire() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create lock file %s: %w", l.path, err)
	}
	// Record the holder for post-mortem of stale locks.
	fmt.Fprintf(f, "pid=%d time=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	if err := f.Close(); err != nil {
		return false, fmt.Errorf("failed to close lock file %s: %w", l.path, err)
	}
	l.held = true
	return true, nil
}

// Acquire blocks until the lock is obtained, polling every LockPollEvery, or
// fails after LockWaitTimeout. Context cancellation aborts the wait.
func (l *FileLock) Acquire(ctx context.Context) error {
	deadline := time.Now().Add(LockWaitTimeout)
	for {
		ok, err := l.TryAcquire()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out after %s waiting for lock %s", LockWaitTimeout, l.path)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(LockPollEvery):
		}
	}
}

// Release removes the lock file. Safe to call when not held.
func (l *FileLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file %s: %w", l.path, err)
	}
	return nil
}

// Held reports whether this process currently holds the lock.
func (l *FileLock) Held() bool {
	return l.held
}

// LockHeld reports whether the named lock file exists in dir, regardless of
// which process created it. Used by the read API to report phase status.
func LockHeld(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
