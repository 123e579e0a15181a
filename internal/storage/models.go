package storage

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"equity-forecast/internal/pipeline"
)

// Ranking names stored with each entry.
const (
	RankingMomentum      = "momentum"
	RankingVolume        = "volume"
	RankingProbableAlpha = "probable_alpha"
)

// Run is one persisted analysis run.
type Run struct {
	ID                 int64
	RunAt              time.Time
	Window             string
	Symbols            int
	Records            int
	DecodeFailures     int
	MatrixSize         int
	HighestCorrelation decimal.Decimal
	LowestCorrelation  decimal.Decimal
	Entries            []RankingEntry
	CreatedAt          time.Time
}

// RankingEntry is one row of one ranking.
type RankingEntry struct {
	Ranking     string
	Rank        int
	Symbol      string
	Alpha       decimal.Decimal
	Probability decimal.Decimal
	Change      decimal.Decimal
	Volume      decimal.Decimal
}

// RunStore persists analysis runs.
type RunStore interface {
	EnsureSchema(ctx context.Context) error
	SaveRun(ctx context.Context, run Run) (int64, error)
	ListRecentRuns(ctx context.Context, limit int) ([]Run, error)
	Close()
}

// AdvisoryLocker is implemented by stores that can serialise runs across
// processes.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// RunSummary carries the run-level counters that are not part of the
// pipeline results.
type RunSummary struct {
	Window         string
	Symbols        int
	Records        int
	DecodeFailures int
}

// NewRun converts pipeline results into a persistable run.
func NewRun(summary RunSummary, res pipeline.Results) Run {
	run := Run{
		RunAt:              res.TrainedAt,
		Window:             summary.Window,
		Symbols:            summary.Symbols,
		Records:            summary.Records,
		DecodeFailures:     summary.DecodeFailures,
		MatrixSize:         res.Correlation.MatrixSize,
		HighestCorrelation: toDecimal(res.Correlation.HighestCorrelation),
		LowestCorrelation:  toDecimal(res.Correlation.LowestCorrelation),
	}
	for i, r := range res.Momentum {
		run.Entries = append(run.Entries, alphaEntry(RankingMomentum, i+1, r))
	}
	for i, r := range res.Volume {
		run.Entries = append(run.Entries, RankingEntry{
			Ranking: RankingVolume,
			Rank:    i + 1,
			Symbol:  r.Symbol,
			Alpha:   toDecimal(r.Alpha),
			Volume:  toDecimal(r.Volume),
		})
	}
	for i, r := range res.ProbableAlpha {
		run.Entries = append(run.Entries, alphaEntry(RankingProbableAlpha, i+1, r))
	}
	return run
}

// Top returns up to n entries of ranking in rank order.
func (r Run) Top(ranking string, n int) []RankingEntry {
	out := make([]RankingEntry, 0, n)
	for _, e := range r.Entries {
		if e.Ranking != ranking {
			continue
		}
		if n > 0 && len(out) == n {
			break
		}
		out = append(out, e)
	}
	return out
}

func alphaEntry(ranking string, rank int, r pipeline.AlphaResult) RankingEntry {
	return RankingEntry{
		Ranking:     ranking,
		Rank:        rank,
		Symbol:      r.Symbol,
		Alpha:       toDecimal(r.Alpha),
		Probability: toDecimal(r.Probability),
		Change:      toDecimal(r.Change),
	}
}

// toDecimal maps non-finite values to zero; decimal cannot represent them.
func toDecimal(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

func parseDecimal(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

// entryColumns holds the textual decimal columns of a ranking entry.
type entryColumns struct {
	alpha, probability, change, volume string
}

func (c entryColumns) apply(e *RankingEntry) error {
	var err error
	if e.Alpha, err = parseDecimal("alpha", c.alpha); err != nil {
		return err
	}
	if e.Probability, err = parseDecimal("probability", c.probability); err != nil {
		return err
	}
	if e.Change, err = parseDecimal("change_pct", c.change); err != nil {
		return err
	}
	if e.Volume, err = parseDecimal("volume", c.volume); err != nil {
		return err
	}
	return nil
}

func entryValues(e RankingEntry) entryColumns {
	return entryColumns{
		alpha:       e.Alpha.String(),
		probability: e.Probability.String(),
		change:      e.Change.String(),
		volume:      e.Volume.String(),
	}
}
