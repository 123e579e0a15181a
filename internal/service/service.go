package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"equity-forecast/internal/alerting"
	"equity-forecast/internal/ingest"
	"equity-forecast/internal/market"
	"equity-forecast/internal/pipeline"
	"equity-forecast/internal/report"
	"equity-forecast/internal/scheduler"
	"equity-forecast/internal/storage"
)

// ErrEmptyCatalog is returned when no symbol produced a single record.
var ErrEmptyCatalog = errors.New("no data found in store")

// CatalogBuilder produces the series catalog for a run.
type CatalogBuilder interface {
	BuildCatalog(ctx context.Context, symbols []string) (market.SeriesCatalog, ingest.Summary, error)
}

// PipelineFactory returns a fresh, untrained model pipeline.
type PipelineFactory func() pipeline.ModelPipeline

// Options configure the analyzer.
type Options struct {
	Symbols    []string
	Window     string
	ReportPath string
	AlertTopN  int
	LockKey    int64
}

// Outcome is everything one successful run produced.
type Outcome struct {
	Catalog market.SeriesCatalog
	Summary ingest.Summary
	Results pipeline.Results
	RunID   int64
}

// Analyzer orchestrates ingestion, modelling, reporting, persistence and
// notification for one run.
type Analyzer struct {
	builder     CatalogBuilder
	newPipeline PipelineFactory
	store       storage.RunStore
	notifier    alerting.Notifier
	out         io.Writer
	opts        Options
	logger      zerolog.Logger

	locker storage.AdvisoryLocker
}

// New constructs an Analyzer. store and notifier may be nil.
func New(builder CatalogBuilder, newPipeline PipelineFactory, store storage.RunStore, notifier alerting.Notifier, out io.Writer, opts Options, logger zerolog.Logger) *Analyzer {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}
	if out == nil {
		out = io.Discard
	}

	return &Analyzer{
		builder:     builder,
		newPipeline: newPipeline,
		store:       store,
		notifier:    notifier,
		out:         out,
		opts:        opts,
		logger:      logger.With().Str("component", "service").Logger(),
		locker:      locker,
	}
}

// Analyze runs the full flow once. It returns ErrEmptyCatalog, without
// touching the pipeline, when the catalog holds no records.
func (a *Analyzer) Analyze(ctx context.Context) (Outcome, error) {
	catalog, summary, err := a.builder.BuildCatalog(ctx, a.opts.Symbols)
	if err != nil {
		return Outcome{}, err
	}

	total := catalog.TotalRecords()
	a.logger.Info().
		Int("records", total).
		Int("symbols", len(catalog)).
		Int("decode_failures", summary.TotalDecodeFailures()).
		Int("malformed_keys", summary.TotalMalformedKeys()).
		Int("timestamp_mismatches", summary.TotalTimestampMismatches()).
		Msg("loaded records")
	if total == 0 {
		return Outcome{Catalog: catalog, Summary: summary}, ErrEmptyCatalog
	}

	a.logger.Info().Str("window", a.opts.Window).Msg("training model pipeline")
	res := pipeline.Run(a.newPipeline(), catalog)
	a.logger.Info().Msg("training complete")

	meta := report.Meta{
		Window:         a.opts.Window,
		Symbols:        len(catalog),
		Records:        total,
		DecodeFailures: summary.TotalDecodeFailures(),
		MalformedKeys:  summary.TotalMalformedKeys(),
	}
	if err := report.WriteConsole(a.out, meta, res); err != nil {
		return Outcome{}, fmt.Errorf("write report: %w", err)
	}
	if a.opts.ReportPath != "" {
		if err := report.WriteMarkdownFile(a.opts.ReportPath, meta, res); err != nil {
			return Outcome{}, fmt.Errorf("write markdown report: %w", err)
		}
		a.logger.Info().Str("path", a.opts.ReportPath).Msg("markdown report written")
	}

	outcome := Outcome{Catalog: catalog, Summary: summary, Results: res}

	if a.store != nil {
		run := storage.NewRun(storage.RunSummary{
			Window:         a.opts.Window,
			Symbols:        meta.Symbols,
			Records:        meta.Records,
			DecodeFailures: meta.DecodeFailures,
		}, res)
		id, err := a.store.SaveRun(ctx, run)
		if err != nil {
			a.logger.Error().Err(err).Msg("failed to persist run")
		} else {
			outcome.RunID = id
			a.logger.Info().Int64("run_id", id).Msg("run persisted")
		}
	}

	if a.notifier != nil {
		if err := a.notifier.Notify(ctx, a.notification(meta, res)); err != nil {
			a.logger.Error().Err(err).Msg("failed to dispatch notification")
		}
	}

	return outcome, nil
}

// Tick is the scheduler callback for watch mode. An empty catalog is logged
// and the loop keeps going.
func (a *Analyzer) Tick(ctx context.Context, at time.Time) error {
	unlock, proceed, err := a.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		a.logger.Debug().Time("run_at", at).Msg("skip run because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if _, err := a.Analyze(ctx); err != nil {
		if errors.Is(err, ErrEmptyCatalog) {
			a.logger.Warn().Time("run_at", at).Msg("no data in store; waiting for next run")
			return nil
		}
		return err
	}
	return nil
}

// Watch runs Tick on every scheduled time until ctx is cancelled.
func (a *Analyzer) Watch(ctx context.Context, sched *scheduler.Scheduler) error {
	if sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return sched.Run(ctx, a.Tick)
}

func (a *Analyzer) notification(meta report.Meta, res pipeline.Results) alerting.Notification {
	n := a.opts.AlertTopN
	return alerting.Notification{
		RunAt:          res.TrainedAt,
		Window:         meta.Window,
		Symbols:        meta.Symbols,
		Records:        meta.Records,
		DecodeFailures: meta.DecodeFailures,
		Momentum:       movers(res.Momentum, n),
		ProbableAlpha:  movers(res.ProbableAlpha, n),
	}
}

func movers(rows []pipeline.AlphaResult, n int) []alerting.Mover {
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	out := make([]alerting.Mover, 0, len(rows))
	for _, r := range rows {
		out = append(out, alerting.Mover{
			Symbol:      r.Symbol,
			Alpha:       finite(r.Alpha),
			Probability: finite(r.Probability * 100),
			Change:      finite(r.Change),
		})
	}
	return out
}

// finite converts v, mapping NaN and infinities to zero.
func finite(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

func (a *Analyzer) acquireLock(ctx context.Context) (func(), bool, error) {
	if a.opts.LockKey == 0 || a.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := a.locker.TryAdvisoryLock(ctx, a.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
