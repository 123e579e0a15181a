package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"equity-forecast/internal/kvstore"
)

// memReader is an in-memory Reader that returns keys in map order.
type memReader struct {
	values  map[string]string
	scanErr error
	getErr  map[string]error
	gets    int
}

func newMemReader() *memReader {
	return &memReader{values: map[string]string{}, getErr: map[string]error{}}
}

func (m *memReader) ScanKeys(_ context.Context, pattern string) ([]string, error) {
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	unescaped := strings.ReplaceAll(pattern, `\`, "")
	var keys []string
	for k := range m.values {
		if ok, _ := path.Match(unescaped, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memReader) Get(_ context.Context, key string) ([]byte, error) {
	m.gets++
	if err, ok := m.getErr[key]; ok {
		return nil, err
	}
	v, ok := m.values[key]
	if !ok {
		return nil, kvstore.ErrKeyNotFound
	}
	return []byte(v), nil
}

func record(symbol string, ts uint64, close float64) string {
	return fmt.Sprintf(`{"symbol":%q,"timestamp":%d,"open":1,"high":2,"low":0.5,"close":%g,"volume":1000,"date":"2026-01-01"}`, symbol, ts, close)
}

func TestLoadSymbolOrdersByKeyTimestamp(t *testing.T) {
	reader := newMemReader()
	reader.values["equity:AMD:300"] = record("AMD", 300, 3)
	reader.values["equity:AMD:100"] = record("AMD", 100, 1)
	reader.values["equity:AMD:200"] = record("AMD", 200, 2)

	in := New(reader, "equity", zerolog.Nop())
	series, report, err := in.LoadSymbol(context.Background(), "AMD")
	require.NoError(t, err)

	require.Equal(t, 3, series.Len())
	assert.Equal(t, []uint64{100, 200, 300}, series.Orders)
	assert.Equal(t, []float64{1, 2, 3}, series.Closes())
	assert.Equal(t, 3, report.Keys)
	assert.Equal(t, 3, report.Loaded)
	assert.Empty(t, report.DecodeFailures)
}

func TestLoadSymbolSkipsUndecodableRecord(t *testing.T) {
	reader := newMemReader()
	reader.values["equity:GS:100"] = `{"symbol":"GS","timestamp":100,"open":1,"high":2,"low":0.5,"volume":10}`
	reader.values["equity:GS:200"] = record("GS", 200, 5)

	var logs bytes.Buffer
	in := New(reader, "equity", zerolog.New(&logs))
	series, report, err := in.LoadSymbol(context.Background(), "GS")
	require.NoError(t, err)

	require.Equal(t, 1, series.Len())
	assert.Equal(t, uint64(200), series.Records[0].Timestamp)
	require.Len(t, report.DecodeFailures, 1)
	assert.Equal(t, "equity:GS:100", report.DecodeFailures[0].Key)
	assert.ErrorIs(t, report.DecodeFailures[0], ErrMissingField)
	assert.Equal(t, report.Keys-len(report.DecodeFailures), report.Loaded)
	assert.Contains(t, logs.String(), "equity:GS:100")
	assert.Contains(t, logs.String(), "close")
}

func TestLoadSymbolWithoutKeys(t *testing.T) {
	reader := newMemReader()
	reader.values["equity:AMD:1"] = record("AMD", 1, 1)

	in := New(reader, "equity", zerolog.Nop())
	series, report, err := in.LoadSymbol(context.Background(), "WDC")
	require.NoError(t, err)
	assert.Zero(t, series.Len())
	assert.Zero(t, report.Keys)
	assert.Empty(t, report.DecodeFailures)
	assert.Zero(t, reader.gets)
}

func TestLoadSymbolIgnoresPayloadTimestampForOrdering(t *testing.T) {
	reader := newMemReader()
	reader.values["equity:NET:100"] = record("NET", 999, 1)
	reader.values["equity:NET:200"] = record("NET", 5, 2)

	in := New(reader, "equity", zerolog.Nop())
	series, report, err := in.LoadSymbol(context.Background(), "NET")
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 2}, series.Closes())
	assert.Equal(t, []uint64{999, 5}, []uint64{series.Records[0].Timestamp, series.Records[1].Timestamp})
	assert.Equal(t, 2, report.TimestampMismatches)
}

func TestLoadSymbolMalformedKeySortsFirst(t *testing.T) {
	reader := newMemReader()
	reader.values["equity:UBS:200"] = record("UBS", 200, 2)
	reader.values["equity:UBS:latest"] = record("UBS", 300, 3)
	reader.values["equity:UBS:100"] = record("UBS", 100, 1)

	in := New(reader, "equity", zerolog.Nop())
	series, report, err := in.LoadSymbol(context.Background(), "UBS")
	require.NoError(t, err)

	require.Equal(t, 3, series.Len())
	assert.Equal(t, 3.0, series.Records[0].Close)
	assert.Equal(t, []uint64{0, 100, 200}, series.Orders)
	assert.Equal(t, []string{"equity:UBS:latest"}, report.MalformedKeys)
	assert.Zero(t, report.TimestampMismatches)
}

func TestLoadSymbolTransportFailureIsFatal(t *testing.T) {
	reader := newMemReader()
	reader.values["equity:SLV:1"] = record("SLV", 1, 1)
	reader.values["equity:SLV:2"] = record("SLV", 2, 2)
	boom := errors.New("connection reset")
	reader.getErr["equity:SLV:2"] = boom

	in := New(reader, "equity", zerolog.Nop())
	_, _, err := in.LoadSymbol(context.Background(), "SLV")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	reader.scanErr = boom
	_, _, err = in.LoadSymbol(context.Background(), "SLV")
	assert.ErrorIs(t, err, boom)
}

func TestLoadSymbolVanishedKeyIsSkipped(t *testing.T) {
	reader := newMemReader()
	reader.values["equity:EWJ:1"] = record("EWJ", 1, 1)
	reader.values["equity:EWJ:2"] = record("EWJ", 2, 2)
	reader.getErr["equity:EWJ:1"] = kvstore.ErrKeyNotFound

	in := New(reader, "equity", zerolog.Nop())
	series, report, err := in.LoadSymbol(context.Background(), "EWJ")
	require.NoError(t, err)
	assert.Equal(t, 1, series.Len())
	require.Len(t, report.DecodeFailures, 1)
	assert.ErrorIs(t, report.DecodeFailures[0], kvstore.ErrKeyNotFound)
}

func TestBuildCatalogDropsEmptySymbols(t *testing.T) {
	reader := newMemReader()
	reader.values["equity:AMD:300"] = record("AMD", 300, 3)
	reader.values["equity:AMD:100"] = record("AMD", 100, 1)
	reader.values["equity:TTWO:1"] = `not json`
	reader.values["equity:TTWO:2"] = `{"symbol":"TTWO"}`

	in := New(reader, "equity", zerolog.Nop())
	catalog, summary, err := in.BuildCatalog(context.Background(), []string{"AMD", "WDC", "TTWO", "AMD"})
	require.NoError(t, err)

	assert.Equal(t, []string{"AMD"}, catalog.Symbols())
	_, hasWDC := catalog["WDC"]
	_, hasTTWO := catalog["TTWO"]
	assert.False(t, hasWDC)
	assert.False(t, hasTTWO)
	assert.Equal(t, 2, catalog.TotalRecords())
	require.Len(t, summary.Symbols, 3)
	assert.Equal(t, 2, summary.TotalDecodeFailures())
}

func TestBuildCatalogAllEmpty(t *testing.T) {
	in := New(newMemReader(), "equity", zerolog.Nop())
	catalog, summary, err := in.BuildCatalog(context.Background(), []string{"WDC", "CRCL"})
	require.NoError(t, err)
	assert.Empty(t, catalog)
	assert.Zero(t, catalog.TotalRecords())
	assert.Len(t, summary.Symbols, 2)
}

func TestBuildCatalogStopsOnCancelledContext(t *testing.T) {
	reader := newMemReader()
	reader.values["equity:AMD:1"] = record("AMD", 1, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := New(reader, "equity", zerolog.Nop())
	_, _, err := in.BuildCatalog(ctx, []string{"AMD"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSeriesIsNonDecreasingForShuffledKeys(t *testing.T) {
	reader := newMemReader()
	for _, ts := range []uint64{50, 10, 40, 30, 20, 10} {
		key := fmt.Sprintf("equity:ETHUSD:%d", ts)
		reader.values[key] = record("ETHUSD", ts, float64(ts))
	}
	reader.values["equity:ETHUSD:010"] = record("ETHUSD", 10, 10)

	in := New(reader, "equity", zerolog.Nop())
	series, _, err := in.LoadSymbol(context.Background(), "ETHUSD")
	require.NoError(t, err)
	for i := 1; i < len(series.Orders); i++ {
		assert.LessOrEqual(t, series.Orders[i-1], series.Orders[i])
	}
	assert.Equal(t, 6, series.Len())
}
