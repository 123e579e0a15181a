package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chartBody = `{"chart":{"result":[{
  "timestamp":[1700179200,1700006400,1700092800,1700265600],
  "indicators":{"quote":[{
    "open":  [12.0, 10.0, 11.0, null],
    "high":  [12.5, 10.5, 11.5, null],
    "low":   [11.5,  9.5, 10.5, null],
    "close": [12.25, 10.25, 11.25, null],
    "volume":[3000, 1000, 2000, null]
  }]}
}],"error":null}}`

type seenRequest struct {
	URL    *url.URL
	Header http.Header
}

func newYahooServer(t *testing.T, status int, body string) (*httptest.Server, *seenRequest) {
	t.Helper()
	seen := &seenRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.URL = r.URL
		seen.Header = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestYahooFetchDailyBars(t *testing.T) {
	srv, seen := newYahooServer(t, http.StatusOK, chartBody)
	y := NewYahoo(YahooOptions{BaseURL: srv.URL, Timeout: time.Second, UserAgent: "test"}, zerolog.Nop())

	bars, err := y.FetchDailyBars(context.Background(), "EURUSD=X", 10)
	require.NoError(t, err)
	require.Len(t, bars, 3)

	assert.Equal(t, 10.25, bars[0].Close)
	assert.Equal(t, int64(1000), bars[0].Volume)
	assert.Equal(t, 12.25, bars[2].Close)
	assert.True(t, bars[0].Time.Before(bars[1].Time))

	assert.True(t, strings.HasPrefix(seen.URL.Path, "/v8/finance/chart/EURUSD"))
	assert.Equal(t, "1d", seen.URL.Query().Get("interval"))
	assert.Equal(t, "1mo", seen.URL.Query().Get("range"))
	assert.Equal(t, "test", seen.Header.Get("User-Agent"))
}

func TestYahooFetchTrimsToDays(t *testing.T) {
	srv, _ := newYahooServer(t, http.StatusOK, chartBody)
	y := NewYahoo(YahooOptions{BaseURL: srv.URL}, zerolog.Nop())

	bars, err := y.FetchDailyBars(context.Background(), "AMD", 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 11.25, bars[0].Close)
	assert.Equal(t, 12.25, bars[1].Close)
}

func TestYahooFetchSkipsBarsWithoutClose(t *testing.T) {
	body := `{"chart":{"result":[{
  "timestamp":[1700006400,1700092800,1700179200],
  "indicators":{"quote":[{
    "open":  [10.0, 11.0, 12.0],
    "high":  [10.5, 11.5, 12.5],
    "low":   [ 9.5, 10.5, 11.5],
    "close": [10.25, null, 12.25],
    "volume":[1000, 2000, 3000]
  }]}
}],"error":null}}`
	srv, _ := newYahooServer(t, http.StatusOK, body)
	y := NewYahoo(YahooOptions{BaseURL: srv.URL}, zerolog.Nop())

	bars, err := y.FetchDailyBars(context.Background(), "AMD", 10)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, 10.25, bars[0].Close)
	assert.Equal(t, 12.25, bars[1].Close)
}

func TestYahooFetchAPIError(t *testing.T) {
	body := `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`
	srv, _ := newYahooServer(t, http.StatusNotFound, body)
	y := NewYahoo(YahooOptions{BaseURL: srv.URL}, zerolog.Nop())

	_, err := y.FetchDailyBars(context.Background(), "NOPE", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol may be delisted")
}

func TestYahooFetchEmptyResult(t *testing.T) {
	srv, _ := newYahooServer(t, http.StatusOK, `{"chart":{"result":[],"error":null}}`)
	y := NewYahoo(YahooOptions{BaseURL: srv.URL}, zerolog.Nop())

	_, err := y.FetchDailyBars(context.Background(), "AMD", 5)
	assert.Error(t, err)
}

func TestYahooFetchRejectsBadArguments(t *testing.T) {
	y := NewYahoo(YahooOptions{}, zerolog.Nop())
	_, err := y.FetchDailyBars(context.Background(), "AMD", 0)
	assert.Error(t, err)
	_, err = y.FetchDailyBars(context.Background(), " ", 5)
	assert.Error(t, err)
}

func TestChartRange(t *testing.T) {
	assert.Equal(t, "1mo", chartRange(14))
	assert.Equal(t, "3mo", chartRange(50))
	assert.Equal(t, "6mo", chartRange(100))
	assert.Equal(t, "1y", chartRange(240))
	assert.Equal(t, "2y", chartRange(400))
	assert.Equal(t, "5y", chartRange(1000))
}
