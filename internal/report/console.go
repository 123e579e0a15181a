package report

import (
	"fmt"
	"io"

	"equity-forecast/internal/pipeline"
)

// Meta describes the run a report belongs to.
type Meta struct {
	Window         string
	Symbols        int
	Records        int
	DecodeFailures int
	MalformedKeys  int
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

// WriteConsole renders the four result views as plain text.
func WriteConsole(w io.Writer, meta Meta, res pipeline.Results) error {
	ew := &errWriter{w: w}

	ew.printf("=== Strongest Movers (Alpha Search) ===\n")
	for _, r := range res.Momentum {
		ew.printf("%s\n", alphaLine(r))
	}

	ew.printf("\n=== Highest Volume ===\n")
	for _, r := range res.Volume {
		ew.printf("Symbol: %-8s | Volume: %12.0f | Alpha: %8.4f\n", r.Symbol, r.Volume, r.Alpha)
	}

	ew.printf("\n=== Highest Probable Alpha (Gaussian Copula) ===\n")
	for _, r := range res.ProbableAlpha {
		ew.printf("%s\n", alphaLine(r))
	}

	ew.printf("\n=== Correlation Analysis (%s Window) ===\n", meta.Window)
	ew.printf("Matrix Size: %d\n", res.Correlation.MatrixSize)
	ew.printf("Highest Correlation: %.4f\n", res.Correlation.HighestCorrelation)
	ew.printf("Lowest Correlation: %.4f\n", res.Correlation.LowestCorrelation)

	return ew.err
}

func alphaLine(r pipeline.AlphaResult) string {
	return fmt.Sprintf("Symbol: %-8s | Alpha: %8.4f | Probability: %6.2f%% | Change: %7.2f%%",
		r.Symbol, r.Alpha, r.Probability*100, r.Change)
}
