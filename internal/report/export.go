package report

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"equity-forecast/internal/market"
)

// Downsample keeps at most max evenly spaced records of s, always including
// the first and last.
func Downsample(s market.SymbolSeries, max int) market.SymbolSeries {
	if max <= 0 || s.Len() <= max {
		return s
	}

	out := market.SymbolSeries{
		Symbol:  s.Symbol,
		Records: make([]market.PriceRecord, 0, max),
		Orders:  make([]uint64, 0, max),
	}
	if max == 1 {
		last := s.Len() - 1
		out.Records = append(out.Records, s.Records[last])
		out.Orders = append(out.Orders, s.Orders[last])
		return out
	}
	step := float64(s.Len()-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= s.Len() {
			idx = s.Len() - 1
		}
		out.Records = append(out.Records, s.Records[idx])
		out.Orders = append(out.Orders, s.Orders[idx])
	}
	return out
}

// WriteSeriesCSV writes one row per record in series order.
func WriteSeriesCSV(w io.Writer, s market.SymbolSeries) error {
	writer := csv.NewWriter(w)

	header := []string{"order", "date", "symbol", "timestamp", "open", "high", "low", "close", "volume"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for i, rec := range s.Records {
		row := []string{
			strconv.FormatUint(s.Orders[i], 10),
			orderDate(s.Orders[i]),
			rec.Symbol,
			strconv.FormatUint(rec.Timestamp, 10),
			fixed(rec.Open, 4),
			fixed(rec.High, 4),
			fixed(rec.Low, 4),
			fixed(rec.Close, 4),
			fixed(rec.Volume, 0),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteSeriesPNG charts close prices with volume on the secondary axis.
func WriteSeriesPNG(w io.Writer, s market.SymbolSeries) error {
	x := make([]time.Time, s.Len())
	closes := s.Closes()
	volumes := s.Volumes()
	for i, o := range s.Orders {
		x[i] = time.UnixMilli(int64(o)).UTC()
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Title:  s.Symbol,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Close",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Volume",
			ValueFormatter: func(v interface{}) string { return chart.FloatValueFormatterWithFormat(v, "%.0f") },
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Close",
				XValues: x,
				YValues: closes,
			},
			chart.TimeSeries{
				Name:    "Volume",
				XValues: x,
				YValues: volumes,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

// WriteSeriesCSVFile writes the CSV export to path, creating parent
// directories as needed.
func WriteSeriesCSVFile(path string, s market.SymbolSeries) error {
	return writeFile(path, func(w io.Writer) error { return WriteSeriesCSV(w, s) })
}

// WriteSeriesPNGFile writes the chart to path.
func WriteSeriesPNGFile(path string, s market.SymbolSeries) error {
	return writeFile(path, func(w io.Writer) error { return WriteSeriesPNG(w, s) })
}

func writeFile(path string, render func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// orderDate renders a millisecond order value as a calendar date; orders
// that are not plausible epoch milliseconds render empty.
func orderDate(order uint64) string {
	if order == 0 || order > math.MaxInt64 {
		return ""
	}
	return time.UnixMilli(int64(order)).UTC().Format("2006-01-02")
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
