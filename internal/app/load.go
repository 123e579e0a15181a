package app

import (
	"context"
	"errors"

	"equity-forecast/internal/fetcher"
	"equity-forecast/internal/kvstore"
	"equity-forecast/internal/universe"
)

type fetchedSeries struct {
	symbol  string
	entries []kvstore.Entry
}

// Load downloads window_days of daily bars per universe symbol and stores
// them under the configured namespace. Every symbol is downloaded before
// anything is cleared or written; symbols that fail are logged and skipped,
// and the job fails only if nothing could be fetched.
func (a *App) Load(ctx context.Context, opts LoadOptions) error {
	u, err := a.selectUniverse(opts.Symbols)
	if err != nil {
		return err
	}

	kv, err := a.connectKV(ctx)
	if err != nil {
		return err
	}
	defer kv.Close()

	fetched, failed, err := a.fetchAll(ctx, u)
	if err != nil {
		return err
	}
	if len(fetched) == 0 {
		a.Logger.Error().Int("failed", failed).Msg("no symbol could be fetched; stored data left untouched")
		return errors.New("no symbol could be loaded; check the logs")
	}

	ns := a.Config.Redis.Namespace
	if opts.Clean {
		if err := a.clean(ctx, kv, ns, u.Symbols()); err != nil {
			return err
		}
	}

	ttl := a.Config.Analysis.TTL()
	total := 0
	for _, f := range fetched {
		if err := kv.PutSeries(ctx, ns, f.symbol, f.entries, ttl); err != nil {
			return err
		}
		total += len(f.entries)
		a.Logger.Info().
			Str("symbol", f.symbol).
			Int("records", len(f.entries)).
			Str("start", f.entries[0].Date).
			Str("end", f.entries[len(f.entries)-1].Date).
			Msg("stored series")
	}

	a.Logger.Info().Int("symbols", len(fetched)).Int("failed", failed).Int("records", total).Msg("load complete")
	return nil
}

// fetchAll downloads and encodes every instrument in u. Only cancellation
// aborts; per-symbol failures are counted.
func (a *App) fetchAll(ctx context.Context, u universe.Universe) ([]fetchedSeries, int, error) {
	src := a.newFetcher()
	days := a.Config.Analysis.WindowDays

	var out []fetchedSeries
	failed := 0
	for _, inst := range u.Instruments {
		if err := ctx.Err(); err != nil {
			return nil, failed, err
		}

		log := a.Logger.With().Str("symbol", inst.Symbol).Str("ticker", inst.Ticker()).Logger()
		bars, err := src.FetchDailyBars(ctx, inst.Ticker(), days)
		if err != nil {
			failed++
			log.Error().Err(err).Msg("download failed")
			continue
		}
		if len(bars) == 0 {
			log.Warn().Msg("no bars returned")
			continue
		}

		entries, err := fetcher.Entries(inst.Symbol, bars)
		if err != nil {
			failed++
			log.Error().Err(err).Msg("encode failed")
			continue
		}
		out = append(out, fetchedSeries{symbol: inst.Symbol, entries: entries})
	}
	return out, failed, nil
}

// clean removes every record in the namespace plus the index and meta keys
// of symbols.
func (a *App) clean(ctx context.Context, kv *kvstore.Client, ns string, symbols []string) error {
	n, err := kv.DeleteMatching(ctx, kvstore.NamespacePattern(ns))
	if err != nil {
		return err
	}
	for _, sym := range symbols {
		m, err := kv.DeleteKeys(ctx,
			kvstore.IndexKey(sym),
			kvstore.MetaKey(sym, "count"),
			kvstore.MetaKey(sym, "start"),
			kvstore.MetaKey(sym, "end"),
		)
		if err != nil {
			return err
		}
		n += m
	}
	a.Logger.Info().Int("deleted", n).Str("namespace", ns).Msg("cleared stored data")
	return nil
}
