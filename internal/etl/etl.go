// Package etl wires the ordered transformation stages that derive the
// analytic database from raw hands. Stages are in-process and strictly
// sequential; each is idempotent, touching only rows whose target columns
// are still null.
package etl

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/velstad/handmill/internal/analytic"
	"github.com/velstad/handmill/internal/config"
	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/progress"
	"github.com/velstad/handmill/internal/rawstore"
)

// Env carries the shared context every stage runs against.
type Env struct {
	Raw      *rawstore.Store
	Analytic *analytic.Store
	Ranges   *database.DB // preflop reference DB, nil when not configured
	Cfg      *config.Config
	Log      zerolog.Logger
	Bus      *progress.Bus
}

// Publish sends a progress event when a bus is attached.
func (e *Env) Publish(ev progress.Event) {
	if e.Bus != nil {
		e.Bus.Publish(ev)
	}
}

// Stage is one pipeline step.
type Stage interface {
	Name() string
	Run(ctx context.Context, env *Env) error
}

// Runner executes stages in order under the analytic DB writer lock.
type Runner struct {
	stages []Stage
	log    zerolog.Logger
}

// NewRunner builds a runner over the given stages, in execution order.
func NewRunner(log zerolog.Logger, stages ...Stage) *Runner {
	return &Runner{stages: stages, log: log.With().Str("component", "etl").Logger()}
}

// StageNames lists the configured stages in order.
func (r *Runner) StageNames() []string {
	names := make([]string, len(r.stages))
	for i, s := range r.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes all stages not named in skip. It ensures indexes first and
// holds the per-DB file lock for the whole run; a stage error aborts the
// remainder.
func (r *Runner) Run(ctx context.Context, env *Env, skip map[string]bool) error {
	if err := env.Analytic.EnsureIndexes(); err != nil {
		return err
	}

	dbPath := env.Analytic.DB().Path()
	if isLockable(dbPath) {
		lock := database.LockForDB(dbPath)
		if err := lock.Acquire(ctx); err != nil {
			return fmt.Errorf("etl writer lock: %w", err)
		}
		defer lock.Release()
	}

	for _, stage := range r.stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		if skip[stage.Name()] {
			r.log.Info().Str("stage", stage.Name()).Msg("stage skipped")
			continue
		}
		env.Publish(progress.Event{Phase: stage.Name(), Message: "running"})
		r.log.Info().Str("stage", stage.Name()).Msg("stage started")
		if err := stage.Run(ctx, env); err != nil {
			r.log.Error().Err(err).Str("stage", stage.Name()).Msg("stage failed")
			return fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
		r.log.Info().Str("stage", stage.Name()).Msg("stage finished")
	}
	env.Publish(progress.Event{Phase: "idle", Message: "pipeline complete"})
	return nil
}

// In-memory databases have no directory to lock.
func isLockable(path string) bool {
	return path != ":memory:" && !strings.HasPrefix(path, "file:")
}
