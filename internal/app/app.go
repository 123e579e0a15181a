package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"equity-forecast/internal/alerting"
	"equity-forecast/internal/config"
	"equity-forecast/internal/fetcher"
	"equity-forecast/internal/ingest"
	"equity-forecast/internal/kvstore"
	"equity-forecast/internal/pipeline"
	"equity-forecast/internal/scheduler"
	"equity-forecast/internal/service"
	"equity-forecast/internal/storage"
	"equity-forecast/internal/universe"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle writing reports to stdout.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) newKV() *kvstore.Client {
	return kvstore.New(kvstore.Options{
		Addr:      a.Config.Redis.Addr,
		Password:  a.Config.Redis.Password,
		DB:        a.Config.Redis.DB,
		ScanCount: a.Config.Redis.ScanCount,
	}, a.Logger)
}

// connectKV opens the store client and verifies it answers.
func (a *App) connectKV(ctx context.Context) (*kvstore.Client, error) {
	kv := a.newKV()
	if err := kv.Ping(ctx); err != nil {
		_ = kv.Close()
		return nil, err
	}
	return kv, nil
}

func (a *App) newFetcher() fetcher.HistoryFetcher {
	return fetcher.NewYahoo(fetcher.YahooOptions{
		BaseURL:   a.Config.Yahoo.BaseURL,
		Timeout:   a.Config.Yahoo.RequestTimeout,
		UserAgent: a.Config.Yahoo.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Enabled && a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newPipeline() pipeline.ModelPipeline {
	return pipeline.NewStatistical(pipeline.Options{
		MinRecords: a.Config.Analysis.MinRecords,
		TopN:       a.Config.Analysis.TopN,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (storage.RunStore, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database, a.Logger)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, nil
	}
	return store, store.Close, nil
}

// selectUniverse loads the configured universe, narrowed to override (or
// to analysis.symbols when override is empty).
func (a *App) selectUniverse(override []string) (universe.Universe, error) {
	u, err := universe.Load(a.Config.Analysis.UniverseFile)
	if err != nil {
		return universe.Universe{}, err
	}
	symbols := override
	if len(symbols) == 0 {
		symbols = a.Config.Analysis.Symbols
	}
	u = u.Select(symbols)
	if len(u.Instruments) == 0 {
		return universe.Universe{}, errors.New("no symbols selected")
	}
	return u, nil
}

// newAnalyzer wires ingestion, the pipeline, the run store and the notifier.
// The returned closer releases the store and Redis connections.
func (a *App) newAnalyzer(ctx context.Context, symbols []string) (*service.Analyzer, func(), error) {
	u, err := a.selectUniverse(symbols)
	if err != nil {
		return nil, nil, err
	}

	kv, err := a.connectKV(ctx)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		_ = kv.Close()
		return nil, nil, err
	}
	if store == nil {
		a.Logger.Debug().Msg("database.dsn not configured; run persistence disabled")
	}

	alertTopN := 0
	if a.Config.Alerting.Enabled {
		alertTopN = a.Config.Alerting.TopN
	}

	analyzer := service.New(
		ingest.New(kv, a.Config.Redis.Namespace, a.Logger),
		a.newPipeline,
		store,
		a.newNotifier(),
		a.Out,
		service.Options{
			Symbols:    u.Symbols(),
			Window:     a.Config.Analysis.WindowLabel(),
			ReportPath: a.Config.Analysis.ReportPath,
			AlertTopN:  alertTopN,
			LockKey:    a.Config.Scheduler.AdvisoryLockKey,
		},
		a.Logger,
	)

	closer := func() {
		if closeStore != nil {
			closeStore()
		}
		_ = kv.Close()
	}
	return analyzer, closer, nil
}

// Analyze performs one analysis run. service.ErrEmptyCatalog is returned
// unchanged so the caller can map it to its own exit status.
func (a *App) Analyze(ctx context.Context, opts AnalyzeOptions) error {
	analyzer, closer, err := a.newAnalyzer(ctx, opts.Symbols)
	if err != nil {
		return err
	}
	defer closer()

	_, err = analyzer.Analyze(ctx)
	return err
}

// Watch repeats the analysis on the configured schedule until interrupted.
func (a *App) Watch(ctx context.Context, opts AnalyzeOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sched, err := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		Cron:         a.Config.Scheduler.Cron,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("configure scheduler: %w", err)
	}

	analyzer, closer, err := a.newAnalyzer(ctx, opts.Symbols)
	if err != nil {
		return err
	}
	defer closer()

	a.Logger.Info().Msg("starting watch loop")
	err = analyzer.Watch(ctx, sched)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch loop terminated with error")
		return err
	}

	a.Logger.Info().Msg("watch loop stopped")
	return nil
}

// AnalyzeOptions select the symbols of an analyze or watch run.
type AnalyzeOptions struct {
	Symbols []string
}

// LoadOptions configure the load job.
type LoadOptions struct {
	Symbols []string
	Clean   bool
}

// ExportOptions hold parameters for exporting one symbol's series.
type ExportOptions struct {
	Symbol    string
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}
