// Package rawstore persists raw upstream hand JSON in the primary database.
//
// Hands are append-only: inserted once, never mutated, never deleted. Two
// sidecar tables ride along, hand_meta (typed fields derived at ingest) and
// partial_scores (solver node scores, when the upstream supplies them).
package rawstore

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/velstad/handmill/internal/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS hands (
	id         TEXT PRIMARY KEY,
	hand_date  TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	raw_json   TEXT NOT NULL,
	chip_value REAL
);
CREATE INDEX IF NOT EXISTS idx_hands_date ON hands(hand_date);

CREATE TABLE IF NOT EXISTS hand_meta (
	id                 TEXT PRIMARY KEY,
	hand_date          TEXT NOT NULL,
	is_cash            INTEGER NOT NULL DEFAULT 0,
	is_mtt             INTEGER NOT NULL DEFAULT 0,
	blinds_bb          REAL,
	pot_type           TEXT,
	eff_stack_bb       REAL,
	chip_bb            REAL,
	has_partial_scores INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS partial_scores (
	id   TEXT PRIMARY KEY,
	json TEXT NOT NULL
);
`

// HandRow is one raw hand as fetched from upstream.
type HandRow struct {
	ID        string
	HandDate  string // YYYY-MM-DD
	Seq       int
	RawJSON   string
	ChipValue sql.NullFloat64
}

// MetaRow holds the typed fields derived from a hand at ingest time.
type MetaRow struct {
	ID               string
	HandDate         string
	IsCash           bool
	IsMTT            bool
	BlindsBB         float64
	PotType          string
	EffStackBB       float64
	ChipBB           float64
	HasPartialScores bool
}

// PartialScoresRow carries the upstream solver score map as opaque JSON.
type PartialScoresRow struct {
	ID   string
	JSON string
}

// Store is the raw hand repository over the primary database.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// New creates a Store. Call Init before first use.
func New(db *database.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "rawstore").Logger()}
}

// Init creates the tables if they do not exist.
func (s *Store) Init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize raw store schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for components that read raw hands.
func (s *Store) DB() *database.DB {
	return s.db
}

// InsertHands writes a batch with insert-or-ignore semantics keyed on id and
// returns the number of rows actually inserted. Duplicates are skipped and
// logged.
func (s *Store) InsertHands(rows []HandRow) (int, error) {
	inserted := 0
	err := database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO hands (id, hand_date, seq, raw_json, chip_value) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			res, err := stmt.Exec(r.ID, r.HandDate, r.Seq, r.RawJSON, r.ChipValue)
			if err != nil {
				return fmt.Errorf("insert hand %s: %w", r.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				s.log.Debug().Str("hand_id", r.ID).Msg("duplicate hand skipped")
				continue
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if skipped := len(rows) - inserted; skipped > 0 {
		s.log.Info().Int("inserted", inserted).Int("duplicates", skipped).Msg("hand batch committed")
	}
	return inserted, nil
}

// InsertMeta writes hand_meta rows, ignoring duplicates.
func (s *Store) InsertMeta(rows []MetaRow) error {
	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO hand_meta
			(id, hand_date, is_cash, is_mtt, blinds_bb, pot_type, eff_stack_bb, chip_bb, has_partial_scores)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.Exec(r.ID, r.HandDate, boolInt(r.IsCash), boolInt(r.IsMTT),
				r.BlindsBB, r.PotType, r.EffStackBB, r.ChipBB, boolInt(r.HasPartialScores)); err != nil {
				return fmt.Errorf("insert meta %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// InsertPartialScores writes solver score sidecars, ignoring duplicates.
func (s *Store) InsertPartialScores(rows []PartialScoresRow) error {
	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO partial_scores (id, json) VALUES (?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.Exec(r.ID, r.JSON); err != nil {
				return fmt.Errorf("insert partial scores %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// Exists reports whether the hand id is already stored.
func (s *Store) Exists(id string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM hands WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists check for %s: %w", id, err)
	}
	return true, nil
}

// Count returns the total number of stored hands.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM hands`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count hands: %w", err)
	}
	return n, nil
}

// IterHands streams stored hands to fn in (hand_date, seq) order. An empty
// date streams everything. Iteration stops at the first fn error.
func (s *Store) IterHands(date string, fn func(HandRow) error) error {
	query := `SELECT id, hand_date, seq, raw_json, chip_value FROM hands`
	var args []interface{}
	if date != "" {
		query += ` WHERE hand_date = ?`
		args = append(args, date)
	}
	query += ` ORDER BY hand_date, seq`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return fmt.Errorf("iterate hands: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r HandRow
		if err := rows.Scan(&r.ID, &r.HandDate, &r.Seq, &r.RawJSON, &r.ChipValue); err != nil {
			return fmt.Errorf("scan hand row: %w", err)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return rows.Err()
}

// PartialScores returns the stored solver score JSON for a hand, or ("",
// false) when the hand has none.
func (s *Store) PartialScores(id string) (string, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT json FROM partial_scores WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("partial scores for %s: %w", id, err)
	}
	return raw, true, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
