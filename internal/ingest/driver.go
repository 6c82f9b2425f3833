// Package ingest runs the day-by-day scraping loop: pull hands for a date,
// validate, deduplicate, commit in batches, and trigger the transformation
// pipeline after every committed batch.
package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/velstad/handmill/internal/archive"
	"github.com/velstad/handmill/internal/config"
	"github.com/velstad/handmill/internal/etl"
	"github.com/velstad/handmill/internal/progress"
	"github.com/velstad/handmill/internal/rawstore"
	"github.com/velstad/handmill/internal/upstream"
)

// Sleep after a day whose date has caught up with the calendar; new hands
// for today keep appearing, so it is re-entered rather than advanced past.
const catchUpSleep = 10 * time.Minute

// Pause before moving on after a failed day.
const failureBackoff = 5 * time.Second

// HandIter is one date's lazy hand sequence.
type HandIter interface {
	Next(ctx context.Context) (int, upstream.Hand, bool)
	Err() error
}

// HandSource produces hand iterators per date. The production source is the
// authenticated upstream client; tests substitute a canned one.
type HandSource interface {
	HandsForDate(date string) HandIter
}

type apiSource struct {
	client    *upstream.Client
	organizer string
	event     string
	limit     int
}

// NewAPISource adapts the upstream client to a HandSource.
func NewAPISource(client *upstream.Client, organizer, event string, limit int) HandSource {
	return &apiSource{client: client, organizer: organizer, event: event, limit: limit}
}

func (s *apiSource) HandsForDate(date string) HandIter {
	return s.client.HandsForDate(s.organizer, s.event, date, s.limit)
}

// DayStats summarizes one date's run.
type DayStats struct {
	Imported   int
	Duplicates int
	Invalid    int
	Batches    int
}

// Driver owns the ingestion loop. Single-threaded by design: the raw store
// has one writer, and stages run inline after each batch.
type Driver struct {
	cfg    *config.Config
	log    zerolog.Logger
	source HandSource
	raw    *rawstore.Store
	runner *etl.Runner
	env    *etl.Env

	// Skip names stages to leave out; NoStages disables the pipeline.
	Skip     map[string]bool
	NoStages bool

	// Checkpoint, when set, records the resume position at batch
	// boundaries.
	Checkpoint *Checkpoint

	// Rotator, when set, archives completed days. The cron job only
	// requests rotation; the loop performs it between days, when no
	// writes are in flight on either store.
	Rotator *archive.Rotator

	// Sleep between completed past days.
	Sleep time.Duration

	rotMu      sync.Mutex
	rotateDate string

	now func() time.Time
}

// NewDriver wires a driver from its collaborators.
func NewDriver(cfg *config.Config, log zerolog.Logger, source HandSource, raw *rawstore.Store, runner *etl.Runner, env *etl.Env) *Driver {
	return &Driver{
		cfg:    cfg,
		log:    log.With().Str("component", "ingest").Logger(),
		source: source,
		raw:    raw,
		runner: runner,
		env:    env,
		Sleep:  5 * time.Minute,
		now:    time.Now,
	}
}

// Run loops over dates starting at startDate until the context is canceled.
// Days strictly before today advance on completion; once caught up, today is
// re-entered every cycle so late-published hands are picked up. A failed day
// is logged and skipped.
func (d *Driver) Run(ctx context.Context, startDate string) error {
	day, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return err
	}

	if d.Checkpoint != nil {
		if st, err := d.Checkpoint.Load(); err != nil {
			d.log.Warn().Err(err).Msg("checkpoint unreadable, starting from configured date")
		} else if st != nil {
			if resumed, err := time.Parse("2006-01-02", st.Date); err == nil && resumed.After(day) {
				d.log.Info().Str("date", st.Date).Msg("resuming from checkpoint")
				day = resumed
			}
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		d.rotateIfRequested(ctx)
		date := day.Format("2006-01-02")

		stats, err := d.ScrapeDate(ctx, date)
		d.log.Info().
			Str("date", date).
			Int("imported", stats.Imported).
			Int("duplicates", stats.Duplicates).
			Int("invalid", stats.Invalid).
			Int("batches", stats.Batches).
			Msg("day summary")

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.log.Error().Err(err).Str("date", date).Msg("day failed, moving on")
			day = day.AddDate(0, 0, 1)
			if !d.wait(ctx, failureBackoff) {
				return nil
			}
			continue
		}

		today := d.now().Format("2006-01-02")
		if date >= today {
			d.log.Info().Str("date", date).Msg("caught up with today, waiting")
			if !d.wait(ctx, catchUpSleep) {
				return nil
			}
			continue
		}

		day = day.AddDate(0, 0, 1)
		if !d.wait(ctx, d.Sleep) {
			return nil
		}
	}
}

// ScrapeDate ingests one date. Hands are validated and deduplicated before
// buffering; every full batch is committed and pushed through the pipeline.
// A pipeline failure aborts the date without rolling back the committed raw
// rows, which re-derive cleanly on the next entry.
func (d *Driver) ScrapeDate(ctx context.Context, date string) (DayStats, error) {
	var stats DayStats
	var hands []rawstore.HandRow
	var metas []rawstore.MetaRow
	var scores []rawstore.PartialScoresRow

	d.env.Publish(progress.Event{Phase: "scrape", Date: date, Message: "started"})

	it := d.source.HandsForDate(date)
	for {
		seq, hand, ok := it.Next(ctx)
		if !ok {
			break
		}

		if err := Validate(hand); err != nil {
			stats.Invalid++
			d.log.Warn().Str("hand_id", hand.ID()).Str("reason", err.Error()).Msg("invalid hand skipped")
			continue
		}

		id := hand.ID()
		exists, err := d.raw.Exists(id)
		if err != nil {
			return stats, err
		}
		if exists {
			stats.Duplicates++
			d.log.Info().Str("hand_id", id).Msg("duplicate hand")
			continue
		}

		raw, err := json.Marshal(map[string]interface{}(hand))
		if err != nil {
			stats.Invalid++
			d.log.Warn().Err(err).Str("hand_id", id).Msg("unserializable hand skipped")
			continue
		}

		var chip sql.NullFloat64
		if f, ok := hand.Float("chip_value_in_displayed_currency", "chip_value"); ok {
			chip = sql.NullFloat64{Float64: f, Valid: true}
		}
		hands = append(hands, rawstore.HandRow{
			ID: id, HandDate: date, Seq: seq, RawJSON: string(raw), ChipValue: chip,
		})
		metas = append(metas, DeriveMeta(hand, date))
		if js, ok := PartialScoresJSON(hand); ok {
			scores = append(scores, rawstore.PartialScoresRow{ID: id, JSON: js})
		}

		if len(hands) >= d.cfg.BatchSize {
			if err := d.commitBatch(ctx, date, &stats, hands, metas, scores); err != nil {
				return stats, err
			}
			hands, metas, scores = hands[:0], metas[:0], scores[:0]
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
		}
	}

	if err := it.Err(); err != nil {
		d.log.Warn().Err(err).Str("date", date).Msg("hand feed ended early")
	}

	if len(hands) > 0 {
		if err := d.commitBatch(ctx, date, &stats, hands, metas, scores); err != nil {
			return stats, err
		}
	}

	d.env.Publish(progress.Event{Phase: "scrape", Date: date, Count: stats.Imported, Message: "done"})
	return stats, nil
}

func (d *Driver) commitBatch(ctx context.Context, date string, stats *DayStats, hands []rawstore.HandRow, metas []rawstore.MetaRow, scores []rawstore.PartialScoresRow) error {
	inserted, err := d.raw.InsertHands(hands)
	if err != nil {
		return err
	}
	if err := d.raw.InsertMeta(metas); err != nil {
		return err
	}
	if err := d.raw.InsertPartialScores(scores); err != nil {
		return err
	}

	stats.Batches++
	stats.Imported += inserted
	stats.Duplicates += len(hands) - inserted
	d.log.Info().
		Str("date", date).
		Int("batch", stats.Batches).
		Int("hands", inserted).
		Int("total", stats.Imported).
		Msg("batch committed")
	d.env.Publish(progress.Event{Phase: "scrape", Date: date, Count: stats.Imported})

	if d.Checkpoint != nil {
		if err := d.Checkpoint.Save(&State{Date: date, Batch: stats.Batches, Imported: stats.Imported}); err != nil {
			d.log.Warn().Err(err).Msg("checkpoint save failed")
		}
	}

	if d.NoStages {
		return nil
	}
	return d.runner.Run(ctx, d.env, d.Skip)
}

// RequestRotation asks the loop to archive the given date's databases
// before the next day starts. Requests overwrite each other; only the
// most recent date is rotated.
func (d *Driver) RequestRotation(date string) {
	d.rotMu.Lock()
	d.rotateDate = date
	d.rotMu.Unlock()
}

func (d *Driver) rotateIfRequested(ctx context.Context) {
	d.rotMu.Lock()
	date := d.rotateDate
	d.rotateDate = ""
	d.rotMu.Unlock()

	if date == "" || d.Rotator == nil {
		return
	}
	if err := d.Rotator.Rotate(ctx, date); err != nil {
		d.log.Error().Err(err).Str("date", date).Msg("archive rotation failed")
	}
}

// FlushWAL checkpoints both stores; called on shutdown in hosted mode.
func (d *Driver) FlushWAL() {
	if err := d.raw.DB().WALCheckpoint("TRUNCATE"); err != nil {
		d.log.Warn().Err(err).Msg("primary wal checkpoint failed")
	}
	if err := d.env.Analytic.DB().WALCheckpoint("TRUNCATE"); err != nil {
		d.log.Warn().Err(err).Msg("analytic wal checkpoint failed")
	}
}

// wait sleeps for dur or until cancellation; false means canceled.
func (d *Driver) wait(ctx context.Context, dur time.Duration) bool {
	if dur <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
