package app

import (
	"context"
	"errors"
	"fmt"

	"equity-forecast/internal/ingest"
	"equity-forecast/internal/report"
)

// Export writes one symbol's reconciled series as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Symbol == "" {
		return errors.New("--symbol must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	kv, err := a.connectKV(ctx)
	if err != nil {
		return err
	}
	defer kv.Close()

	in := ingest.New(kv, a.Config.Redis.Namespace, a.Logger)
	series, rep, err := in.LoadSymbol(ctx, opts.Symbol)
	if err != nil {
		return err
	}
	if series.Len() == 0 {
		return fmt.Errorf("no data found for %s", opts.Symbol)
	}

	downsampled := report.Downsample(series, opts.MaxPoints)
	a.Logger.Info().
		Str("symbol", opts.Symbol).
		Int("total", series.Len()).
		Int("skipped", len(rep.DecodeFailures)).
		Int("exported", downsampled.Len()).
		Msg("exporting series")

	if opts.CSVPath != "" {
		if err := report.WriteSeriesCSVFile(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if downsampled.Len() < 2 {
			return fmt.Errorf("need at least 2 records to chart %s", opts.Symbol)
		}
		if err := report.WriteSeriesPNGFile(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}
