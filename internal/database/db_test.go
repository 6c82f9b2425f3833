package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesDatabaseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "test.db")

	db, err := New(Config{Path: path, Profile: ProfilePrimary, Name: "test"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, "test", db.Name())
	assert.Equal(t, ProfilePrimary, db.Profile())

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestReopenSeesSwappedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := New(Config{Path: path, Profile: ProfilePrimary, Name: "test"})
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO t (v) VALUES (1)")
	require.NoError(t, err)

	// Swap the file out from underneath, as archive rotation does.
	require.NoError(t, db.WALCheckpoint("TRUNCATE"))
	require.NoError(t, db.Close())

	other, err := New(Config{Path: path + ".new", Profile: ProfilePrimary, Name: "fresh"})
	require.NoError(t, err)
	_, err = other.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)
	require.NoError(t, other.Close())
	require.NoError(t, os.Rename(path, path+".old"))
	require.NoError(t, os.Rename(path+".new", path))

	require.NoError(t, db.Reopen())
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestNewReadOnlyMissingFile(t *testing.T) {
	_, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "ranges.db"),
		Profile: ProfileReadOnly,
		Name:    "ranges",
	})
	assert.Error(t, err)
}

func TestWithTransactionCommit(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	err = WithTransaction(db, func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO t (v) VALUES (1)")
		return err
	})
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestWithTransactionRollbackOnError(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	err = WithTransaction(db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO t (v) VALUES (1)"); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 0, n)
}

func TestWithTransactionRecoversPanic(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	err = WithTransaction(db, func(tx *sql.Tx) error {
		panic("kaboom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")
}

func TestHealthCheck(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "h.db"), Name: "h"})
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, db.QuickCheck(context.Background()))
}

func TestWALCheckpoint(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "w.db"), Name: "w"})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	assert.NoError(t, db.WALCheckpoint(""))
	assert.NoError(t, db.WALCheckpoint("PASSIVE"))
}

func TestGetStats(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "s.db"), Name: "s"})
	require.NoError(t, err)
	defer db.Close()

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageSize, int64(0))
}
