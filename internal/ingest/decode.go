package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"equity-forecast/internal/market"
)

// DecodeError describes a record that could not be turned into a PriceRecord.
type DecodeError struct {
	Key string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Key, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrMissingField reports a required payload field that is absent or null.
var ErrMissingField = errors.New("missing required field")

// payload mirrors the stored JSON. Pointers distinguish absent from zero.
type payload struct {
	Symbol    *string  `json:"symbol"`
	Timestamp *uint64  `json:"timestamp"`
	Open      *float64 `json:"open"`
	High      *float64 `json:"high"`
	Low       *float64 `json:"low"`
	Close     *float64 `json:"close"`
	Volume    *int64   `json:"volume"`
}

// DecodeRecord parses one stored payload. Unknown fields are ignored.
func DecodeRecord(raw []byte) (market.PriceRecord, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return market.PriceRecord{}, err
	}

	var missing []string
	if p.Symbol == nil {
		missing = append(missing, "symbol")
	}
	if p.Timestamp == nil {
		missing = append(missing, "timestamp")
	}
	if p.Open == nil {
		missing = append(missing, "open")
	}
	if p.High == nil {
		missing = append(missing, "high")
	}
	if p.Low == nil {
		missing = append(missing, "low")
	}
	if p.Close == nil {
		missing = append(missing, "close")
	}
	if p.Volume == nil {
		missing = append(missing, "volume")
	}
	if len(missing) > 0 {
		return market.PriceRecord{}, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}

	return market.PriceRecord{
		Symbol:        *p.Symbol,
		Timestamp:     *p.Timestamp,
		Open:          *p.Open,
		High:          *p.High,
		Low:           *p.Low,
		Close:         *p.Close,
		Volume:        float64(*p.Volume),
		AdjustedClose: *p.Close,
	}, nil
}
