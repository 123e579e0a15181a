package market

import "sort"

// MovingAverages holds simple moving averages of the close.
type MovingAverages struct {
	SMA20 float64
	SMA50 float64
}

// MACD holds the moving average convergence/divergence triple.
type MACD struct {
	Line      float64
	Signal    float64
	Histogram float64
}

// PriceRecord is one OHLCV observation for a symbol.
//
// Derived fields are nil at ingestion; only a model pipeline fills them,
// and only on its own copy of the catalog.
type PriceRecord struct {
	Symbol        string
	Timestamp     uint64
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        float64
	AdjustedClose float64

	MovingAverages *MovingAverages
	RSI            *float64
	MACD           *MACD
}

// SymbolSeries is the reconciled, time-ordered series of one symbol.
// Orders[i] is the key-derived order value of Records[i].
type SymbolSeries struct {
	Symbol  string
	Records []PriceRecord
	Orders  []uint64
}

// Len returns the number of records in the series.
func (s SymbolSeries) Len() int {
	return len(s.Records)
}

// Closes extracts the close prices in series order.
func (s SymbolSeries) Closes() []float64 {
	out := make([]float64, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.Close
	}
	return out
}

// Volumes extracts volumes in series order.
func (s SymbolSeries) Volumes() []float64 {
	out := make([]float64, len(s.Records))
	for i, r := range s.Records {
		out[i] = r.Volume
	}
	return out
}

// Clone returns a deep copy, including derived indicator pointers.
func (s SymbolSeries) Clone() SymbolSeries {
	out := SymbolSeries{
		Symbol:  s.Symbol,
		Records: make([]PriceRecord, len(s.Records)),
		Orders:  append([]uint64(nil), s.Orders...),
	}
	for i, r := range s.Records {
		out.Records[i] = r.clone()
	}
	return out
}

func (r PriceRecord) clone() PriceRecord {
	if r.MovingAverages != nil {
		ma := *r.MovingAverages
		r.MovingAverages = &ma
	}
	if r.RSI != nil {
		rsi := *r.RSI
		r.RSI = &rsi
	}
	if r.MACD != nil {
		macd := *r.MACD
		r.MACD = &macd
	}
	return r
}

// SeriesCatalog maps symbol to its reconciled series.
type SeriesCatalog map[string]SymbolSeries

// TotalRecords sums record counts across every symbol.
func (c SeriesCatalog) TotalRecords() int {
	total := 0
	for _, s := range c {
		total += s.Len()
	}
	return total
}

// Symbols returns the catalog symbols sorted alphabetically.
func (c SeriesCatalog) Symbols() []string {
	out := make([]string, 0, len(c))
	for sym := range c {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Clone deep-copies the catalog so the copy can be mutated freely.
func (c SeriesCatalog) Clone() SeriesCatalog {
	out := make(SeriesCatalog, len(c))
	for sym, s := range c {
		out[sym] = s.Clone()
	}
	return out
}
