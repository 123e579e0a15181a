package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"equity-forecast/internal/kvstore"
)

// Bar is one daily OHLCV observation from an upstream source.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// HistoryFetcher retrieves the most recent daily bars for a ticker, oldest
// first.
type HistoryFetcher interface {
	FetchDailyBars(ctx context.Context, ticker string, days int) ([]Bar, error)
}

// pricePayload is the stored record layout read back by ingestion.
type pricePayload struct {
	Symbol    string  `json:"symbol"`
	Timestamp uint64  `json:"timestamp"`
	Date      string  `json:"date"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

// Entries encodes bars as store entries for symbol, keyed by the bar's
// millisecond timestamp. Prices are rounded to four decimal places.
func Entries(symbol string, bars []Bar) ([]kvstore.Entry, error) {
	out := make([]kvstore.Entry, 0, len(bars))
	for _, b := range bars {
		ts := uint64(b.Time.UnixMilli())
		date := b.Time.UTC().Format("2006-01-02")
		body, err := json.Marshal(pricePayload{
			Symbol:    symbol,
			Timestamp: ts,
			Date:      date,
			Open:      round4(b.Open),
			High:      round4(b.High),
			Low:       round4(b.Low),
			Close:     round4(b.Close),
			Volume:    b.Volume,
		})
		if err != nil {
			return nil, fmt.Errorf("encode %s bar %s: %w", symbol, date, err)
		}
		out = append(out, kvstore.Entry{Timestamp: ts, Date: date, Payload: body})
	}
	return out, nil
}

func round4(v float64) float64 {
	return decimal.NewFromFloat(v).Round(4).InexactFloat64()
}
