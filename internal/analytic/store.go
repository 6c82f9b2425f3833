// Package analytic owns the derived database schema: per-action rows built
// by the pipeline stages plus the materialized summary tables.
package analytic

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/velstad/handmill/internal/database"
)

const schema = `
CREATE TABLE IF NOT EXISTS hand_info (
	hand_id     TEXT PRIMARY KEY,
	hand_date   TEXT,
	seq         INTEGER,
	is_mtt      INTEGER NOT NULL DEFAULT 0,
	is_cash     INTEGER NOT NULL DEFAULT 0,
	big_blind   REAL,
	small_blind REAL,
	ante        REAL,
	players_cnt INTEGER,
	pot_type    TEXT
);

CREATE TABLE IF NOT EXISTS streets (
	hand_id TEXT NOT NULL,
	street  TEXT NOT NULL,
	board   TEXT,
	PRIMARY KEY (hand_id, street)
);

CREATE TABLE IF NOT EXISTS players (
	hand_id   TEXT NOT NULL,
	position  TEXT NOT NULL,
	nickname  TEXT,
	stack0    INTEGER,
	holecards TEXT,
	money_won REAL,
	PRIMARY KEY (hand_id, position)
);

CREATE TABLE IF NOT EXISTS actions (
	hand_id              TEXT NOT NULL,
	action_order         INTEGER NOT NULL,
	street               TEXT NOT NULL,
	street_index         INTEGER NOT NULL,
	position             TEXT NOT NULL,
	player_id            TEXT,
	nickname             TEXT,
	action               TEXT NOT NULL,
	amount_to            INTEGER,
	stack_before         INTEGER,
	stack_after          INTEGER,
	invested_this_action INTEGER,
	pot_before           INTEGER,
	pot_after            INTEGER,
	players_left         INTEGER,
	is_allin             INTEGER NOT NULL DEFAULT 0,
	action_score         REAL,
	decision_difficulty  REAL,
	state_prefix         TEXT,
	board_cards          TEXT,
	holecards            TEXT,
	size_frac            REAL,
	size_cat             TEXT,
	action_label         TEXT,
	ip_status            TEXT,
	j_score              REAL,
	intention            TEXT,
	preflop_score        REAL,
	postflop_score       REAL,
	solver_best          TEXT,
	PRIMARY KEY (hand_id, action_order)
);

CREATE TABLE IF NOT EXISTS postflop_scores (
	hand_id             TEXT NOT NULL,
	node_string         TEXT NOT NULL,
	action_score        REAL,
	decision_difficulty REAL,
	PRIMARY KEY (hand_id, node_string)
);

CREATE TABLE IF NOT EXISTS preflop_scores (
	hand_id  TEXT NOT NULL,
	position TEXT NOT NULL,
	player   TEXT,
	combo    TEXT,
	seq      TEXT,
	freq     REAL,
	best     TEXT,
	PRIMARY KEY (hand_id, position)
);

CREATE TABLE IF NOT EXISTS ingest_activity (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	event_time TEXT NOT NULL,
	phase      TEXT NOT NULL,
	message    TEXT,
	event_date TEXT,
	count      INTEGER,
	total      INTEGER
);
`

// Index statements are applied idempotently at startup and before each
// pipeline run.
var indexStatements = []string{
	`CREATE INDEX IF NOT EXISTS idx_actions_hand ON actions(hand_id)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_player ON actions(player_id)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_player_street ON actions(player_id, street)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_player_hand ON actions(player_id, hand_id)`,
	`CREATE INDEX IF NOT EXISTS idx_actions_street_action ON actions(street, action)`,
	`CREATE INDEX IF NOT EXISTS idx_preflop_hand_pos ON preflop_scores(hand_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_postflop_hand_node ON postflop_scores(hand_id, node_string)`,
}

// Street names in play order.
const (
	StreetPreflop = "preflop"
	StreetFlop    = "flop"
	StreetTurn    = "turn"
	StreetRiver   = "river"
)

// Store is the analytic database handle shared by the pipeline stages and
// the read layer.
type Store struct {
	db  *database.DB
	log zerolog.Logger
}

// New wraps an open analytic database.
func New(db *database.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "analytic").Logger()}
}

// Init creates the base tables and supporting indexes.
func (s *Store) Init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize analytic schema: %w", err)
	}
	return s.EnsureIndexes()
}

// EnsureIndexes creates any missing supporting indexes.
func (s *Store) EnsureIndexes() error {
	for _, stmt := range indexStatements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to ensure index: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying handle for stages and queries.
func (s *Store) DB() *database.DB {
	return s.db
}

// HandExists reports whether stage 1 already processed the hand.
func (s *Store) HandExists(handID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM hand_info WHERE hand_id = ?`, handID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("hand_info lookup for %s: %w", handID, err)
	}
	return true, nil
}
