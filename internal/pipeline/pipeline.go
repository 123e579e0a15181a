package pipeline

import (
	"time"

	"equity-forecast/internal/market"
)

// AlphaResult is one row of a momentum or probable-alpha ranking.
// Probability is a fraction in [0,1]; Change is a percentage.
type AlphaResult struct {
	Symbol      string
	Alpha       float64
	Probability float64
	Change      float64
}

// VolumeResult is one row of the volume ranking.
type VolumeResult struct {
	Symbol string
	Volume float64
	Alpha  float64
}

// CorrelationSummary describes the cross-symbol correlation matrix.
type CorrelationSummary struct {
	MatrixSize         int
	HighestCorrelation float64
	LowestCorrelation  float64
}

// ModelPipeline is the modeling collaborator fed by ingestion.
type ModelPipeline interface {
	Train(catalog market.SeriesCatalog)
	RankByMomentum(catalog market.SeriesCatalog) []AlphaResult
	RankByVolume(catalog market.SeriesCatalog) []VolumeResult
	RankByProbableAlpha(catalog market.SeriesCatalog) []AlphaResult
	CorrelationSummary() CorrelationSummary
}

// Results collects every view produced for one catalog.
type Results struct {
	TrainedAt     time.Time
	Momentum      []AlphaResult
	Volume        []VolumeResult
	ProbableAlpha []AlphaResult
	Correlation   CorrelationSummary
}

// Run trains p and collects its four views. p only ever sees a private deep
// copy of catalog, so the caller's catalog cannot be modified through it.
func Run(p ModelPipeline, catalog market.SeriesCatalog) Results {
	view := catalog.Clone()

	p.Train(view)
	res := Results{TrainedAt: time.Now().UTC()}
	res.Momentum = p.RankByMomentum(view)
	res.Volume = p.RankByVolume(view)
	res.ProbableAlpha = p.RankByProbableAlpha(view)
	res.Correlation = p.CorrelationSummary()
	return res
}
