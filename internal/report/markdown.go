package report

import (
	"io"
	"math"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"equity-forecast/internal/pipeline"
)

// WriteMarkdown renders the run as a Markdown document.
func WriteMarkdown(w io.Writer, meta Meta, res pipeline.Results) error {
	ew := &errWriter{w: w}

	ew.printf("# Equity Forecast Report (%s)\n\n", meta.Window)
	ew.printf("Generated: %s UTC\n\n", res.TrainedAt.UTC().Format(time.RFC3339))
	ew.printf("- Symbols: %d\n- Records: %d\n", meta.Symbols, meta.Records)
	if meta.DecodeFailures > 0 || meta.MalformedKeys > 0 {
		ew.printf("- Skipped records: %d\n- Malformed keys: %d\n", meta.DecodeFailures, meta.MalformedKeys)
	}

	ew.printf("\n## Strongest Movers\n\n")
	writeAlphaTable(ew, res.Momentum)

	ew.printf("\n## Highest Volume\n\n")
	ew.printf("| Symbol | Avg Volume | Alpha |\n|---|---:|---:|\n")
	for _, r := range res.Volume {
		ew.printf("| %s | %s | %s |\n", r.Symbol, fixed(r.Volume, 0), fixed(r.Alpha, 4))
	}

	ew.printf("\n## Highest Probable Alpha (Gaussian Copula)\n\n")
	writeAlphaTable(ew, res.ProbableAlpha)

	ew.printf("\n## Correlation Analysis (%s Window)\n\n", meta.Window)
	ew.printf("| Matrix Size | Highest | Lowest |\n|---:|---:|---:|\n")
	ew.printf("| %d | %s | %s |\n", res.Correlation.MatrixSize,
		fixed(res.Correlation.HighestCorrelation, 4), fixed(res.Correlation.LowestCorrelation, 4))

	return ew.err
}

func writeAlphaTable(ew *errWriter, rows []pipeline.AlphaResult) {
	ew.printf("| # | Symbol | Alpha | Probability | Change |\n|---:|---|---:|---:|---:|\n")
	for i, r := range rows {
		ew.printf("| %d | %s | %s | %s%% | %s%% |\n",
			i+1, r.Symbol, fixed(r.Alpha, 4), fixed(r.Probability*100, 2), fixed(r.Change, 2))
	}
}

// fixed renders v with places decimals; non-finite values print as NaN,
// +Inf or -Inf.
func fixed(v float64, places int32) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}

// WriteMarkdownFile writes the Markdown report to path, creating parent
// directories as needed.
func WriteMarkdownFile(path string, meta Meta, res pipeline.Results) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteMarkdown(file, meta, res); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
