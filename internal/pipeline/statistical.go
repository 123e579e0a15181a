package pipeline

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"equity-forecast/internal/market"
)

const (
	minOverlap   = 3
	maxCopulaRho = 0.99
)

// Options tune the statistical pipeline.
type Options struct {
	// MinRecords is the shortest series that is scored (at least 2).
	MinRecords int
	// TopN truncates every ranking; 0 keeps all rows.
	TopN int
}

type symbolStats struct {
	returns     []float64
	orders      []uint64
	alpha       float64
	probability float64
	change      float64
	conditional float64
}

// Statistical scores momentum from log returns, weights it with a Gaussian
// copula conditional probability and summarises pairwise correlation.
type Statistical struct {
	opts   Options
	logger zerolog.Logger

	stats       map[string]*symbolStats
	correlation CorrelationSummary
}

// NewStatistical constructs an untrained pipeline.
func NewStatistical(opts Options, logger zerolog.Logger) *Statistical {
	if opts.MinRecords < 2 {
		opts.MinRecords = 2
	}
	return &Statistical{
		opts:   opts,
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// Train derives indicators and per-symbol statistics from catalog. The
// catalog handed in is the pipeline's own copy; its records are annotated.
func (p *Statistical) Train(catalog market.SeriesCatalog) {
	p.stats = make(map[string]*symbolStats, len(catalog))
	samples := 0

	for _, sym := range catalog.Symbols() {
		series := catalog[sym]
		annotate(&series)
		catalog[sym] = series

		if series.Len() < p.opts.MinRecords {
			p.logger.Debug().Str("symbol", sym).Int("records", series.Len()).Msg("too few records; not scored")
			continue
		}
		st := computeStats(series)
		if st == nil {
			continue
		}
		p.stats[sym] = st
		samples += len(st.returns)
	}

	p.correlation = p.correlate()
	p.applyCopula()

	p.logger.Info().Int("symbols", len(p.stats)).Int("samples", samples).Msg("training complete")
}

// RankByMomentum orders symbols by alpha, strongest first.
func (p *Statistical) RankByMomentum(catalog market.SeriesCatalog) []AlphaResult {
	out := make([]AlphaResult, 0, len(p.stats))
	for _, sym := range p.scored(catalog) {
		st := p.stats[sym]
		out = append(out, AlphaResult{Symbol: sym, Alpha: st.alpha, Probability: st.probability, Change: st.change})
	}
	sortAlpha(out)
	return p.truncateAlpha(out)
}

// RankByVolume orders symbols by average volume, highest first.
func (p *Statistical) RankByVolume(catalog market.SeriesCatalog) []VolumeResult {
	out := make([]VolumeResult, 0, len(catalog))
	for _, sym := range catalog.Symbols() {
		series := catalog[sym]
		if series.Len() == 0 {
			continue
		}
		row := VolumeResult{Symbol: sym, Volume: mean(series.Volumes())}
		if st, ok := p.stats[sym]; ok {
			row.Alpha = st.alpha
		}
		out = append(out, row)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Volume != out[j].Volume {
			return out[i].Volume > out[j].Volume
		}
		return out[i].Symbol < out[j].Symbol
	})
	if p.opts.TopN > 0 && len(out) > p.opts.TopN {
		out = out[:p.opts.TopN]
	}
	return out
}

// RankByProbableAlpha orders symbols by alpha weighted with the copula
// conditional probability of an up move.
func (p *Statistical) RankByProbableAlpha(catalog market.SeriesCatalog) []AlphaResult {
	out := make([]AlphaResult, 0, len(p.stats))
	for _, sym := range p.scored(catalog) {
		st := p.stats[sym]
		out = append(out, AlphaResult{
			Symbol:      sym,
			Alpha:       st.alpha * st.conditional,
			Probability: st.conditional,
			Change:      st.change,
		})
	}
	sortAlpha(out)
	return p.truncateAlpha(out)
}

// CorrelationSummary reports the matrix built during Train.
func (p *Statistical) CorrelationSummary() CorrelationSummary {
	return p.correlation
}

func (p *Statistical) scored(catalog market.SeriesCatalog) []string {
	out := make([]string, 0, len(p.stats))
	for _, sym := range catalog.Symbols() {
		if _, ok := p.stats[sym]; ok {
			out = append(out, sym)
		}
	}
	return out
}

func (p *Statistical) truncateAlpha(rows []AlphaResult) []AlphaResult {
	if p.opts.TopN > 0 && len(rows) > p.opts.TopN {
		return rows[:p.opts.TopN]
	}
	return rows
}

func sortAlpha(rows []AlphaResult) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Alpha != rows[j].Alpha {
			return rows[i].Alpha > rows[j].Alpha
		}
		return rows[i].Symbol < rows[j].Symbol
	})
}

func computeStats(series market.SymbolSeries) *symbolStats {
	closes := series.Closes()
	st := &symbolStats{}
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		st.returns = append(st.returns, math.Log(closes[i]/closes[i-1]))
		st.orders = append(st.orders, series.Orders[i])
	}
	if len(st.returns) == 0 {
		return nil
	}

	mu := mean(st.returns)
	sigma := stddev(st.returns, mu)
	switch {
	case sigma > 0:
		st.alpha = mu / sigma * math.Sqrt(float64(len(st.returns)))
		st.probability = normCDF(mu / sigma)
	case mu > 0:
		st.probability = 1
	case mu < 0:
		st.probability = 0
	default:
		st.probability = 0.5
	}
	st.conditional = st.probability

	if first := closes[0]; first > 0 {
		st.change = (closes[len(closes)-1] - first) / first * 100
	}
	return st
}

// correlate computes Pearson correlation of log returns for every symbol
// pair over the order values both symbols share.
func (p *Statistical) correlate() CorrelationSummary {
	syms := make([]string, 0, len(p.stats))
	for sym := range p.stats {
		syms = append(syms, sym)
	}
	sort.Strings(syms)

	summary := CorrelationSummary{MatrixSize: len(syms)}
	found := false
	for i := 0; i < len(syms); i++ {
		for j := i + 1; j < len(syms); j++ {
			a, b := p.stats[syms[i]], p.stats[syms[j]]
			xs, ys := align(a.orders, a.returns, b.orders, b.returns)
			if len(xs) < minOverlap {
				continue
			}
			r, ok := pearson(xs, ys)
			if !ok {
				continue
			}
			if !found {
				summary.HighestCorrelation, summary.LowestCorrelation = r, r
				found = true
				continue
			}
			summary.HighestCorrelation = math.Max(summary.HighestCorrelation, r)
			summary.LowestCorrelation = math.Min(summary.LowestCorrelation, r)
		}
	}
	return summary
}

// applyCopula maps each symbol's returns to normal scores, builds an
// equal-weight market factor from them and sets the probability of an up
// move conditional on the latest market score:
// P(Z_i > 0 | Z_m = z) = Phi(rho*z / sqrt(1-rho^2)).
func (p *Statistical) applyCopula() {
	if len(p.stats) < 2 {
		return
	}

	scores, factor := marketFactor(p.stats)
	marketOrders := make([]uint64, 0, len(factor))
	for o := range factor {
		marketOrders = append(marketOrders, o)
	}
	if len(marketOrders) < minOverlap {
		return
	}
	sort.Slice(marketOrders, func(i, j int) bool { return marketOrders[i] < marketOrders[j] })
	zLatest := factor[marketOrders[len(marketOrders)-1]]

	for sym, st := range p.stats {
		var xs, ys []float64
		for _, o := range marketOrders {
			if z, ok := scores[sym][o]; ok {
				xs = append(xs, z)
				ys = append(ys, factor[o])
			}
		}
		if len(xs) < minOverlap {
			continue
		}
		rho, ok := pearson(xs, ys)
		if !ok {
			continue
		}
		rho = math.Max(-maxCopulaRho, math.Min(maxCopulaRho, rho))
		st.conditional = normCDF(rho * zLatest / math.Sqrt(1-rho*rho))
	}
}

// marketFactor returns every symbol's normal scores keyed by order and the
// mean score per order value observed in at least two symbols. A symbol
// contributes once per order value; repeated orders keep the first score.
func marketFactor(stats map[string]*symbolStats) (map[string]map[uint64]float64, map[uint64]float64) {
	scores := make(map[string]map[uint64]float64, len(stats))
	sums := make(map[uint64]float64)
	counts := make(map[uint64]int)
	for sym, st := range stats {
		z := normalScores(st.returns)
		byOrder := make(map[uint64]float64, len(z))
		for i, o := range st.orders {
			if _, dup := byOrder[o]; dup {
				continue
			}
			byOrder[o] = z[i]
			sums[o] += z[i]
			counts[o]++
		}
		scores[sym] = byOrder
	}

	factor := make(map[uint64]float64, len(sums))
	for o, c := range counts {
		if c >= 2 {
			factor[o] = sums[o] / float64(c)
		}
	}
	return scores, factor
}

func align(ao []uint64, av []float64, bo []uint64, bv []float64) (xs, ys []float64) {
	byOrder := make(map[uint64]float64, len(bo))
	for i, o := range bo {
		byOrder[o] = bv[i]
	}
	for i, o := range ao {
		if v, ok := byOrder[o]; ok {
			xs = append(xs, av[i])
			ys = append(ys, v)
		}
	}
	return xs, ys
}

var _ ModelPipeline = (*Statistical)(nil)
