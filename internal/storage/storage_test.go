package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity-forecast/internal/config"
	"equity-forecast/internal/pipeline"
)

func sampleResults(at time.Time) pipeline.Results {
	return pipeline.Results{
		TrainedAt: at,
		Momentum: []pipeline.AlphaResult{
			{Symbol: "NVDA", Alpha: 2.5, Probability: 0.625, Change: 12.5},
			{Symbol: "GS", Alpha: -1.25, Probability: 0.375, Change: -3.5},
		},
		Volume: []pipeline.VolumeResult{
			{Symbol: "NVDA", Volume: 1_000_000, Alpha: 2.5},
		},
		ProbableAlpha: []pipeline.AlphaResult{
			{Symbol: "NVDA", Alpha: 1.5, Probability: 0.6, Change: 12.5},
		},
		Correlation: pipeline.CorrelationSummary{MatrixSize: 2, HighestCorrelation: 0.75, LowestCorrelation: math.NaN()},
	}
}

func openTestSQLite(t *testing.T) RunStore {
	t.Helper()
	cfg := config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "runs.db")}
	store, err := Open(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(store.Close)
	return store
}

func TestNewRun(t *testing.T) {
	at := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)
	run := NewRun(RunSummary{Window: "50-Day", Symbols: 2, Records: 100, DecodeFailures: 1}, sampleResults(at))

	assert.Equal(t, at, run.RunAt)
	assert.Equal(t, "50-Day", run.Window)
	assert.Len(t, run.Entries, 4)
	assert.True(t, run.LowestCorrelation.IsZero())
	assert.True(t, run.HighestCorrelation.Equal(decimal.NewFromFloat(0.75)))

	top := run.Top(RankingMomentum, 1)
	require.Len(t, top, 1)
	assert.Equal(t, "NVDA", top[0].Symbol)
	assert.Equal(t, 1, top[0].Rank)
	assert.Len(t, run.Top(RankingMomentum, 0), 2)

	vol := run.Top(RankingVolume, 5)
	require.Len(t, vol, 1)
	assert.True(t, vol[0].Volume.Equal(decimal.NewFromInt(1_000_000)))
}

func TestSQLiteSaveAndListRuns(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	first := time.Date(2024, 5, 6, 21, 30, 0, 0, time.UTC)
	id1, err := store.SaveRun(ctx, NewRun(RunSummary{Window: "50-Day", Symbols: 2, Records: 100}, sampleResults(first)))
	require.NoError(t, err)
	id2, err := store.SaveRun(ctx, NewRun(RunSummary{Window: "50-Day", Symbols: 2, Records: 102}, sampleResults(first.Add(24*time.Hour))))
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	runs, err := store.ListRecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, id2, runs[0].ID)
	assert.Equal(t, 102, runs[0].Records)
	assert.Equal(t, first.Add(24*time.Hour), runs[0].RunAt)
	assert.Equal(t, 2, runs[0].MatrixSize)
	assert.True(t, runs[0].HighestCorrelation.Equal(decimal.NewFromFloat(0.75)))

	momentum := runs[0].Top(RankingMomentum, 0)
	require.Len(t, momentum, 2)
	assert.Equal(t, "NVDA", momentum[0].Symbol)
	assert.True(t, momentum[1].Alpha.Equal(decimal.NewFromFloat(-1.25)))
	assert.True(t, momentum[0].Probability.Equal(decimal.NewFromFloat(0.625)))

	limited, err := store.ListRecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, id2, limited[0].ID)
}

func TestSQLiteEnsureSchemaIsIdempotent(t *testing.T) {
	store := openTestSQLite(t)
	require.NoError(t, store.EnsureSchema(context.Background()))

	runs, err := store.ListRecentRuns(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestOpenWithoutDSNDisablesPersistence(t *testing.T) {
	store, err := Open(context.Background(), config.DatabaseConfig{Driver: "postgres"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, store)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql", DSN: "x"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestPostgresStoreNotConfigured(t *testing.T) {
	var store *PostgresStore
	_, err := store.SaveRun(context.Background(), Run{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = store.ListRecentRuns(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, _, err = store.TryAdvisoryLock(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNotConfigured)
	store.Close()
}

func TestParseDecimal(t *testing.T) {
	d, err := parseDecimal("alpha", "1.2500")
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromFloat(1.25)))

	_, err = parseDecimal("alpha", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse alpha")
}
