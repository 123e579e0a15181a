package service

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity-forecast/internal/alerting"
	"equity-forecast/internal/ingest"
	"equity-forecast/internal/market"
	"equity-forecast/internal/pipeline"
	"equity-forecast/internal/storage"
)

type fakeBuilder struct {
	catalog market.SeriesCatalog
	summary ingest.Summary
	err     error
	symbols []string
}

func (f *fakeBuilder) BuildCatalog(_ context.Context, symbols []string) (market.SeriesCatalog, ingest.Summary, error) {
	f.symbols = symbols
	return f.catalog, f.summary, f.err
}

type stubPipeline struct {
	trained bool
}

func (s *stubPipeline) Train(market.SeriesCatalog) { s.trained = true }

func (s *stubPipeline) RankByMomentum(market.SeriesCatalog) []pipeline.AlphaResult {
	return []pipeline.AlphaResult{
		{Symbol: "AMD", Alpha: 1.5, Probability: 0.6, Change: 4},
		{Symbol: "GS", Alpha: 0.5, Probability: 0.55, Change: 1},
	}
}

func (s *stubPipeline) RankByVolume(market.SeriesCatalog) []pipeline.VolumeResult {
	return []pipeline.VolumeResult{{Symbol: "AMD", Volume: 1000, Alpha: 1.5}}
}

func (s *stubPipeline) RankByProbableAlpha(market.SeriesCatalog) []pipeline.AlphaResult {
	return []pipeline.AlphaResult{{Symbol: "AMD", Alpha: math.NaN(), Probability: 0.7, Change: 4}}
}

func (s *stubPipeline) CorrelationSummary() pipeline.CorrelationSummary {
	return pipeline.CorrelationSummary{MatrixSize: 2, HighestCorrelation: 0.5, LowestCorrelation: 0.5}
}

type countingFactory struct {
	calls int
	last  *stubPipeline
}

func (c *countingFactory) New() pipeline.ModelPipeline {
	c.calls++
	c.last = &stubPipeline{}
	return c.last
}

type memStore struct {
	runs    []storage.Run
	saveErr error
}

func (m *memStore) EnsureSchema(context.Context) error { return nil }

func (m *memStore) SaveRun(_ context.Context, run storage.Run) (int64, error) {
	if m.saveErr != nil {
		return 0, m.saveErr
	}
	m.runs = append(m.runs, run)
	return int64(len(m.runs)), nil
}

func (m *memStore) ListRecentRuns(context.Context, int) ([]storage.Run, error) { return m.runs, nil }

func (m *memStore) Close() {}

type lockingStore struct {
	memStore
	acquired bool
	unlocked bool
}

func (l *lockingStore) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.unlocked = true }, true, nil
}

type recordingNotifier struct {
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n alerting.Notification) error {
	r.notes = append(r.notes, n)
	return nil
}

func series(symbol string, closes ...float64) market.SymbolSeries {
	s := market.SymbolSeries{Symbol: symbol}
	for i, c := range closes {
		ts := uint64(i + 1)
		s.Records = append(s.Records, market.PriceRecord{Symbol: symbol, Timestamp: ts, Close: c, AdjustedClose: c, Volume: 10})
		s.Orders = append(s.Orders, ts)
	}
	return s
}

func TestAnalyzeEmptyCatalogSkipsPipeline(t *testing.T) {
	builder := &fakeBuilder{catalog: market.SeriesCatalog{}}
	factory := &countingFactory{}
	store := &memStore{}
	notifier := &recordingNotifier{}
	var out bytes.Buffer

	a := New(builder, factory.New, store, notifier, &out, Options{Symbols: []string{"WDC"}, Window: "50-Day"}, zerolog.Nop())
	_, err := a.Analyze(context.Background())

	assert.ErrorIs(t, err, ErrEmptyCatalog)
	assert.Zero(t, factory.calls)
	assert.Empty(t, store.runs)
	assert.Empty(t, notifier.notes)
	assert.Zero(t, out.Len())
	assert.Equal(t, []string{"WDC"}, builder.symbols)
}

func TestAnalyzeTransportErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	factory := &countingFactory{}
	a := New(&fakeBuilder{err: boom}, factory.New, nil, nil, nil, Options{}, zerolog.Nop())

	_, err := a.Analyze(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrEmptyCatalog)
	assert.Zero(t, factory.calls)
}

func TestAnalyzeFullRun(t *testing.T) {
	catalog := market.SeriesCatalog{
		"AMD": series("AMD", 1, 2, 3),
		"GS":  series("GS", 3, 2),
	}
	summary := ingest.Summary{Symbols: []ingest.SymbolReport{{
		Symbol:         "GS",
		DecodeFailures: []*ingest.DecodeError{{Key: "equity:GS:9", Err: ingest.ErrMissingField}},
	}}}
	factory := &countingFactory{}
	store := &memStore{}
	notifier := &recordingNotifier{}
	reportPath := filepath.Join(t.TempDir(), "out", "Report.md")
	var out bytes.Buffer

	a := New(&fakeBuilder{catalog: catalog, summary: summary}, factory.New, store, notifier, &out,
		Options{Window: "50-Day", ReportPath: reportPath, AlertTopN: 1}, zerolog.Nop())
	outcome, err := a.Analyze(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, factory.calls)
	assert.True(t, factory.last.trained)
	assert.Equal(t, int64(1), outcome.RunID)
	assert.Equal(t, 5, outcome.Catalog.TotalRecords())
	assert.Equal(t, 1, outcome.Summary.TotalDecodeFailures())

	assert.Contains(t, out.String(), "=== Strongest Movers (Alpha Search) ===")
	assert.Contains(t, out.String(), "Correlation Analysis (50-Day Window)")

	md, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Equity Forecast Report (50-Day)")

	require.Len(t, store.runs, 1)
	assert.Equal(t, 5, store.runs[0].Records)
	assert.Equal(t, 1, store.runs[0].DecodeFailures)

	require.Len(t, notifier.notes, 1)
	note := notifier.notes[0]
	require.Len(t, note.Momentum, 1)
	assert.Equal(t, "AMD", note.Momentum[0].Symbol)
	assert.Equal(t, "60", note.Momentum[0].Probability.String())
	require.Len(t, note.ProbableAlpha, 1)
	assert.True(t, note.ProbableAlpha[0].Alpha.IsZero())
}

func TestAnalyzePersistenceFailureIsNotFatal(t *testing.T) {
	catalog := market.SeriesCatalog{"AMD": series("AMD", 1, 2)}
	factory := &countingFactory{}
	store := &memStore{saveErr: errors.New("disk full")}

	a := New(&fakeBuilder{catalog: catalog}, factory.New, store, nil, nil, Options{Window: "50-Day"}, zerolog.Nop())
	outcome, err := a.Analyze(context.Background())
	require.NoError(t, err)
	assert.Zero(t, outcome.RunID)
}

func TestTickSwallowsEmptyCatalog(t *testing.T) {
	factory := &countingFactory{}
	a := New(&fakeBuilder{catalog: market.SeriesCatalog{}}, factory.New, nil, nil, nil, Options{}, zerolog.Nop())

	assert.NoError(t, a.Tick(context.Background(), time.Now()))
	assert.Zero(t, factory.calls)
}

func TestTickReturnsOtherErrors(t *testing.T) {
	a := New(&fakeBuilder{err: errors.New("scan failed")}, (&countingFactory{}).New, nil, nil, nil, Options{}, zerolog.Nop())
	assert.Error(t, a.Tick(context.Background(), time.Now()))
}

func TestTickHonoursAdvisoryLock(t *testing.T) {
	catalog := market.SeriesCatalog{"AMD": series("AMD", 1, 2)}

	held := &lockingStore{}
	factory := &countingFactory{}
	a := New(&fakeBuilder{catalog: catalog}, factory.New, held, nil, nil, Options{LockKey: 42}, zerolog.Nop())
	require.NoError(t, a.Tick(context.Background(), time.Now()))
	assert.Zero(t, factory.calls)

	free := &lockingStore{acquired: true}
	factory = &countingFactory{}
	a = New(&fakeBuilder{catalog: catalog}, factory.New, free, nil, nil, Options{LockKey: 42}, zerolog.Nop())
	require.NoError(t, a.Tick(context.Background(), time.Now()))
	assert.Equal(t, 1, factory.calls)
	assert.True(t, free.unlocked)
	assert.Len(t, free.runs, 1)
}

func TestWatchRequiresScheduler(t *testing.T) {
	a := New(&fakeBuilder{}, (&countingFactory{}).New, nil, nil, nil, Options{}, zerolog.Nop())
	assert.Error(t, a.Watch(context.Background(), nil))
}
