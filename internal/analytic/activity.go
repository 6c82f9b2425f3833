package analytic

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/velstad/handmill/internal/progress"
)

// RecordActivity upserts the single-row activity snapshot. The writer
// process mirrors its progress bus here so the read API, which runs in a
// separate process, can report and stream what the ingestion is doing.
func (s *Store) RecordActivity(ev progress.Event) error {
	_, err := s.db.Exec(`INSERT INTO ingest_activity (id, event_time, phase, message, event_date, count, total)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			event_time = excluded.event_time,
			phase      = excluded.phase,
			message    = excluded.message,
			event_date = excluded.event_date,
			count      = excluded.count,
			total      = excluded.total`,
		ev.Time.UTC().Format(time.RFC3339Nano), ev.Phase, ev.Message, ev.Date, ev.Count, ev.Total)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// LastActivity returns the most recent recorded event, or a zero event
// when nothing has been recorded yet.
func (s *Store) LastActivity() (progress.Event, error) {
	var ev progress.Event
	var stamp string
	err := s.db.QueryRow(`SELECT event_time, phase, message, event_date, count, total
		FROM ingest_activity WHERE id = 1`).
		Scan(&stamp, &ev.Phase, &ev.Message, &ev.Date, &ev.Count, &ev.Total)
	if errors.Is(err, sql.ErrNoRows) {
		return progress.Event{}, nil
	}
	if err != nil {
		return progress.Event{}, fmt.Errorf("last activity: %w", err)
	}
	if t, err := time.Parse(time.RFC3339Nano, stamp); err == nil {
		ev.Time = t
	}
	return ev, nil
}
