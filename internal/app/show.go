package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"equity-forecast/internal/storage"
)

// Show prints recent persisted runs.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show runs")
	}
	defer closeStore()

	runs, err := store.ListRecentRuns(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.Out, "no runs found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tRun (UTC)\tWindow\tSymbols\tRecords\tSkipped\tTop Mover\tAlpha\tProbable Alpha\tCorr High\tCorr Low")

	for _, run := range runs {
		topMover, topAlpha := "-", "-"
		if top := run.Top(storage.RankingMomentum, 1); len(top) == 1 {
			topMover, topAlpha = top[0].Symbol, top[0].Alpha.StringFixed(4)
		}
		probable := "-"
		if top := run.Top(storage.RankingProbableAlpha, 1); len(top) == 1 {
			probable = top[0].Symbol
		}
		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			run.ID,
			run.RunAt.UTC().Format(time.RFC3339),
			run.Window,
			run.Symbols,
			run.Records,
			run.DecodeFailures,
			topMover,
			topAlpha,
			probable,
			run.HighestCorrelation.StringFixed(4),
			run.LowestCorrelation.StringFixed(4),
		)
	}

	return writer.Flush()
}
