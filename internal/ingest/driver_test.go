package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/velstad/handmill/internal/analytic"
	"github.com/velstad/handmill/internal/archive"
	"github.com/velstad/handmill/internal/config"
	"github.com/velstad/handmill/internal/database"
	"github.com/velstad/handmill/internal/etl"
	"github.com/velstad/handmill/internal/paths"
	"github.com/velstad/handmill/internal/rawstore"
	"github.com/velstad/handmill/internal/upstream"
)

type fakeIter struct {
	hands []upstream.Hand
	i     int
	err   error
}

func (f *fakeIter) Next(ctx context.Context) (int, upstream.Hand, bool) {
	if f.i >= len(f.hands) {
		return 0, nil, false
	}
	h := f.hands[f.i]
	seq := f.i
	f.i++
	return seq, h, true
}

func (f *fakeIter) Err() error { return f.err }

type fakeSource struct {
	byDate map[string][]upstream.Hand
}

func (s *fakeSource) HandsForDate(date string) HandIter {
	return &fakeIter{hands: s.byDate[date]}
}

type countStage struct {
	runs *int
	err  error
}

func (s countStage) Name() string { return "count" }

func (s countStage) Run(ctx context.Context, env *etl.Env) error {
	*s.runs++
	return s.err
}

func validHand(id string) upstream.Hand {
	return upstream.Hand{
		"stub":    id,
		"blinds":  "100:50",
		"is_cash": true,
	}
}

func newTestDriver(t *testing.T, source HandSource, stages ...etl.Stage) (*Driver, *etl.Env) {
	t.Helper()

	rawDB, err := database.New(database.Config{Path: ":memory:", Name: "primary-test"})
	require.NoError(t, err)
	t.Cleanup(func() { rawDB.Close() })
	raw := rawstore.New(rawDB, zerolog.Nop())
	require.NoError(t, raw.Init())

	anaDB, err := database.New(database.Config{Path: ":memory:", Name: "analytic-test"})
	require.NoError(t, err)
	t.Cleanup(func() { anaDB.Close() })
	ana := analytic.New(anaDB, zerolog.Nop())
	require.NoError(t, ana.Init())

	env := &etl.Env{Raw: raw, Analytic: ana, Cfg: &config.Config{}, Log: zerolog.Nop()}
	cfg := &config.Config{BatchSize: 500}
	d := NewDriver(cfg, zerolog.Nop(), source, raw, etl.NewRunner(zerolog.Nop(), stages...), env)
	return d, env
}

func TestScrapeDateDeduplicatesWithinBatch(t *testing.T) {
	source := &fakeSource{byDate: map[string][]upstream.Hand{
		"2024-01-15": {validHand("A"), validHand("B"), validHand("A")},
	}}
	d, _ := newTestDriver(t, source)

	stats, err := d.ScrapeDate(context.Background(), "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Imported)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 0, stats.Invalid)

	n, err := d.raw.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestScrapeDateSkipsAlreadyStoredHands(t *testing.T) {
	source := &fakeSource{byDate: map[string][]upstream.Hand{
		"2024-01-15": {validHand("A"), validHand("B")},
	}}
	d, _ := newTestDriver(t, source)
	_, err := d.raw.InsertHands([]rawstore.HandRow{{ID: "A", HandDate: "2024-01-15", Seq: 0, RawJSON: "{}"}})
	require.NoError(t, err)

	stats, err := d.ScrapeDate(context.Background(), "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Imported)
	assert.Equal(t, 1, stats.Duplicates)
}

func TestScrapeDateRejectsFlaglessHand(t *testing.T) {
	source := &fakeSource{byDate: map[string][]upstream.Hand{
		"2024-01-15": {
			{"stub": "X", "blinds": "100:50", "is_cash": false, "is_mtt": false},
		},
	}}
	d, _ := newTestDriver(t, source)

	stats, err := d.ScrapeDate(context.Background(), "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Imported)
	assert.Equal(t, 1, stats.Invalid)

	n, err := d.raw.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEachBatchTriggersPipeline(t *testing.T) {
	source := &fakeSource{byDate: map[string][]upstream.Hand{
		"2024-01-15": {validHand("A"), validHand("B"), validHand("C")},
	}}
	runs := 0
	d, _ := newTestDriver(t, source, countStage{runs: &runs})
	d.cfg.BatchSize = 2

	stats, err := d.ScrapeDate(context.Background(), "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Imported)
	assert.Equal(t, 2, stats.Batches)
	assert.Equal(t, 2, runs)
}

func TestPipelineFailureAbortsDayKeepsRawRows(t *testing.T) {
	source := &fakeSource{byDate: map[string][]upstream.Hand{
		"2024-01-15": {validHand("A"), validHand("B")},
	}}
	runs := 0
	d, _ := newTestDriver(t, source, countStage{runs: &runs, err: errors.New("stage broke")})
	d.cfg.BatchSize = 2

	_, err := d.ScrapeDate(context.Background(), "2024-01-15")
	require.Error(t, err)

	n, err := d.raw.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNoStagesSkipsPipeline(t *testing.T) {
	source := &fakeSource{byDate: map[string][]upstream.Hand{
		"2024-01-15": {validHand("A")},
	}}
	runs := 0
	d, _ := newTestDriver(t, source, countStage{runs: &runs})
	d.NoStages = true

	_, err := d.ScrapeDate(context.Background(), "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, 0, runs)
}

func TestCheckpointSavedAtBatchBoundary(t *testing.T) {
	source := &fakeSource{byDate: map[string][]upstream.Hand{
		"2024-01-15": {validHand("A"), validHand("B"), validHand("C")},
	}}
	d, _ := newTestDriver(t, source)
	d.cfg.BatchSize = 2
	d.Checkpoint = NewCheckpoint(filepath.Join(t.TempDir(), "scrape.checkpoint"))

	_, err := d.ScrapeDate(context.Background(), "2024-01-15")
	require.NoError(t, err)

	st, err := d.Checkpoint.Load()
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "2024-01-15", st.Date)
	assert.Equal(t, 2, st.Batch)
	assert.Equal(t, 3, st.Imported)
}

func TestRequestedRotationRunsBetweenDays(t *testing.T) {
	root := t.TempDir()
	p := &paths.Paths{
		DataRoot:   root,
		DatabaseD:  filepath.Join(root, "database"),
		LogDir:     filepath.Join(root, "logs"),
		ArchiveDir: filepath.Join(root, "archive"),
	}
	p.PrimaryDB = filepath.Join(p.DatabaseD, paths.PrimaryDBName)
	p.AnalyticDB = filepath.Join(p.DatabaseD, paths.AnalyticDBName)
	for _, dir := range []string{p.DatabaseD, p.LogDir, p.ArchiveDir} {
		require.NoError(t, os.MkdirAll(dir, 0755))
	}

	rawDB, err := database.New(database.Config{Path: p.PrimaryDB, Profile: database.ProfilePrimary, Name: "raw"})
	require.NoError(t, err)
	t.Cleanup(func() { rawDB.Close() })
	raw := rawstore.New(rawDB, zerolog.Nop())
	require.NoError(t, raw.Init())

	anaDB, err := database.New(database.Config{Path: p.AnalyticDB, Profile: database.ProfileAnalytic, Name: "analytic"})
	require.NoError(t, err)
	t.Cleanup(func() { anaDB.Close() })
	ana := analytic.New(anaDB, zerolog.Nop())
	require.NoError(t, ana.Init())

	source := &fakeSource{byDate: map[string][]upstream.Hand{
		"2024-01-15": {validHand("A")},
		"2024-01-16": {validHand("B")},
	}}
	env := &etl.Env{Raw: raw, Analytic: ana, Cfg: &config.Config{}, Log: zerolog.Nop()}
	d := NewDriver(&config.Config{BatchSize: 500}, zerolog.Nop(), source, raw, etl.NewRunner(zerolog.Nop()), env)

	rotator := archive.NewRotator(p, nil, zerolog.Nop())
	rotator.Track(rawDB)
	rotator.Track(anaDB)
	d.Rotator = rotator

	_, err = d.ScrapeDate(context.Background(), "2024-01-15")
	require.NoError(t, err)

	d.RequestRotation("2024-01-15")
	d.rotateIfRequested(context.Background())

	assert.FileExists(t, filepath.Join(p.ArchiveDir, "2024-01-15", paths.PrimaryDBName))
	assert.FileExists(t, filepath.Join(p.ArchiveDir, "2024-01-15", paths.AnalyticDBName))

	// The next day lands in the fresh store through the same handles.
	stats, err := d.ScrapeDate(context.Background(), "2024-01-16")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Imported)

	n, err := raw.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMetaAndPartialScoresStored(t *testing.T) {
	h := validHand("A")
	h["pot_type"] = "SRP"
	h["effective_stack"] = 150.0
	h["partial_scores"] = map[string]interface{}{"rrc": 0.8}
	source := &fakeSource{byDate: map[string][]upstream.Hand{"2024-01-15": {h}}}
	d, _ := newTestDriver(t, source)

	_, err := d.ScrapeDate(context.Background(), "2024-01-15")
	require.NoError(t, err)

	var blinds float64
	var hasPS int
	require.NoError(t, d.raw.DB().QueryRow(
		`SELECT blinds_bb, has_partial_scores FROM hand_meta WHERE id = 'A'`).Scan(&blinds, &hasPS))
	assert.InDelta(t, 100.0, blinds, 1e-9)
	assert.Equal(t, 1, hasPS)

	js, ok, err := d.raw.PartialScores("A")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, js, "rrc")
}
