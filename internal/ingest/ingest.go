package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"equity-forecast/internal/kvstore"
	"equity-forecast/internal/market"
)

// Reader is the storage capability ingestion depends on.
type Reader interface {
	ScanKeys(ctx context.Context, pattern string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// RawRecord is a fetched, not yet decoded, stored value.
type RawRecord struct {
	Key   string
	Order uint64
	Value []byte
}

// SymbolReport summarises ingestion of one symbol.
type SymbolReport struct {
	Symbol              string
	Keys                int
	Loaded              int
	DecodeFailures      []*DecodeError
	MalformedKeys       []string
	TimestampMismatches int
}

// Summary aggregates the per-symbol reports of one run, in request order.
type Summary struct {
	Symbols []SymbolReport
}

// TotalDecodeFailures counts records skipped across all symbols.
func (s Summary) TotalDecodeFailures() int {
	n := 0
	for _, r := range s.Symbols {
		n += len(r.DecodeFailures)
	}
	return n
}

// TotalMalformedKeys counts keys that fell back to order 0.
func (s Summary) TotalMalformedKeys() int {
	n := 0
	for _, r := range s.Symbols {
		n += len(r.MalformedKeys)
	}
	return n
}

// TotalTimestampMismatches counts records whose payload timestamp differs from the key.
func (s Summary) TotalTimestampMismatches() int {
	n := 0
	for _, r := range s.Symbols {
		n += r.TimestampMismatches
	}
	return n
}

// Ingestor rebuilds per-symbol series from the key-value store.
type Ingestor struct {
	reader    Reader
	namespace string
	logger    zerolog.Logger
}

// New constructs an Ingestor reading keys under namespace.
func New(reader Reader, namespace string, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		reader:    reader,
		namespace: namespace,
		logger:    logger.With().Str("component", "ingest").Logger(),
	}
}

// DiscoverKeys lists every key stored for symbol. An empty slice means the
// symbol has no data; it is not an error.
func (in *Ingestor) DiscoverKeys(ctx context.Context, symbol string) ([]string, error) {
	keys, err := in.reader.ScanKeys(ctx, kvstore.SymbolPattern(in.namespace, symbol))
	if err != nil {
		return nil, fmt.Errorf("discover keys for %s: %w", symbol, err)
	}
	return keys, nil
}

// LoadSymbol discovers, fetches, orders and decodes every record of symbol.
// Transport failures are returned; per-record problems are reported and skipped.
func (in *Ingestor) LoadSymbol(ctx context.Context, symbol string) (market.SymbolSeries, SymbolReport, error) {
	report := SymbolReport{Symbol: symbol}
	log := in.logger.With().Str("symbol", symbol).Logger()
	log.Info().Msg("fetching symbol from store")

	keys, err := in.DiscoverKeys(ctx, symbol)
	if err != nil {
		return market.SymbolSeries{}, report, err
	}
	report.Keys = len(keys)
	if len(keys) == 0 {
		log.Info().Msg("no data found")
		return market.SymbolSeries{Symbol: symbol}, report, nil
	}

	raws := make([]RawRecord, 0, len(keys))
	for _, key := range keys {
		order, ok := KeyOrder(key)
		if !ok {
			report.MalformedKeys = append(report.MalformedKeys, key)
			log.Warn().Str("key", key).Msg("key timestamp unparsable; ordering first")
		}

		value, err := in.reader.Get(ctx, key)
		if errors.Is(err, kvstore.ErrKeyNotFound) {
			failure := &DecodeError{Key: key, Err: err}
			report.DecodeFailures = append(report.DecodeFailures, failure)
			log.Warn().Str("key", key).Err(err).Msg("record vanished before fetch; skipping")
			continue
		}
		if err != nil {
			return market.SymbolSeries{}, report, fmt.Errorf("fetch %s: %w", key, err)
		}
		raws = append(raws, RawRecord{Key: key, Order: order, Value: value})
	}

	Reconcile(raws)
	series, failures, mismatches := Assemble(symbol, raws)
	for _, f := range failures {
		log.Warn().Str("key", f.Key).Err(f.Err).Msg("failed to parse record; skipping")
	}
	report.DecodeFailures = append(report.DecodeFailures, failures...)
	report.TimestampMismatches = mismatches
	report.Loaded = series.Len()
	if mismatches > 0 {
		log.Warn().Int("records", mismatches).Msg("payload timestamp differs from key timestamp; key order kept")
	}

	log.Info().Int("keys", report.Keys).Int("loaded", report.Loaded).Msg("symbol loaded")
	return series, report, nil
}

// BuildCatalog ingests symbols in order and keeps only those with at least
// one usable record. Each symbol's series is built independently and only
// inserted once complete.
func (in *Ingestor) BuildCatalog(ctx context.Context, symbols []string) (market.SeriesCatalog, Summary, error) {
	catalog := make(market.SeriesCatalog, len(symbols))
	var summary Summary
	seen := make(map[string]struct{}, len(symbols))

	for _, symbol := range symbols {
		if _, dup := seen[symbol]; dup {
			continue
		}
		seen[symbol] = struct{}{}

		if err := ctx.Err(); err != nil {
			return nil, summary, err
		}

		series, report, err := in.LoadSymbol(ctx, symbol)
		summary.Symbols = append(summary.Symbols, report)
		if err != nil {
			return nil, summary, err
		}
		if series.Len() == 0 {
			continue
		}
		catalog[symbol] = series
	}

	in.logger.Info().
		Int("records", catalog.TotalRecords()).
		Int("symbols", len(catalog)).
		Int("decode_failures", summary.TotalDecodeFailures()).
		Msg("catalog assembled")
	return catalog, summary, nil
}

// Reconcile sorts raw records ascending by key-derived order, breaking ties
// by key so the result does not depend on storage enumeration order.
func Reconcile(raws []RawRecord) {
	sort.SliceStable(raws, func(i, j int) bool {
		if raws[i].Order != raws[j].Order {
			return raws[i].Order < raws[j].Order
		}
		return raws[i].Key < raws[j].Key
	})
}

// Assemble decodes ordered raw records into a series, collecting failures
// instead of stopping. mismatches counts decoded records whose payload
// timestamp disagrees with a well-formed key timestamp.
func Assemble(symbol string, ordered []RawRecord) (series market.SymbolSeries, failures []*DecodeError, mismatches int) {
	series = market.SymbolSeries{
		Symbol:  symbol,
		Records: make([]market.PriceRecord, 0, len(ordered)),
		Orders:  make([]uint64, 0, len(ordered)),
	}
	for _, raw := range ordered {
		rec, err := DecodeRecord(raw.Value)
		if err != nil {
			failures = append(failures, &DecodeError{Key: raw.Key, Err: err})
			continue
		}
		if keyTS, ok := KeyOrder(raw.Key); ok && keyTS != rec.Timestamp {
			mismatches++
		}
		series.Records = append(series.Records, rec)
		series.Orders = append(series.Orders, raw.Order)
	}
	return series, failures, mismatches
}
