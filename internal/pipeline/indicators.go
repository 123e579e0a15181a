package pipeline

import "equity-forecast/internal/market"

const (
	smaShort   = 20
	smaLong    = 50
	rsiPeriod  = 14
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9
)

// annotate fills the derived indicator fields of every record in s.
// A field stays nil until enough history exists for it; SMA50 is 0 while
// fewer than 50 closes are available.
func annotate(s *market.SymbolSeries) {
	closes := s.Closes()
	n := len(closes)
	if n == 0 {
		return
	}

	short := rollingSMA(closes, smaShort)
	long := rollingSMA(closes, smaLong)
	rsi := wilderRSI(closes, rsiPeriod)
	line, signal := macdLines(closes)

	for i := range s.Records {
		rec := &s.Records[i]
		if i >= smaShort-1 {
			ma := market.MovingAverages{SMA20: short[i]}
			if i >= smaLong-1 {
				ma.SMA50 = long[i]
			}
			rec.MovingAverages = &ma
		}
		if i >= rsiPeriod {
			v := rsi[i]
			rec.RSI = &v
		}
		if i >= macdSlow-1 {
			rec.MACD = &market.MACD{
				Line:      line[i],
				Signal:    signal[i],
				Histogram: line[i] - signal[i],
			}
		}
	}
}

// rollingSMA returns out[i] = mean(values[i-period+1 : i+1]); entries before
// period-1 are left at 0.
func rollingSMA(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if period <= 0 {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// wilderRSI returns the Wilder-smoothed RSI at every index from period on.
func wilderRSI(closes []float64, period int) []float64 {
	out := make([]float64, len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// ema returns the exponential moving average seeded with the first value.
func ema(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	k := 2.0 / float64(period+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = values[i]*k + out[i-1]*(1-k)
	}
	return out
}

func macdLines(closes []float64) (line, signal []float64) {
	fast := ema(closes, macdFast)
	slow := ema(closes, macdSlow)
	line = make([]float64, len(closes))
	for i := range closes {
		line[i] = fast[i] - slow[i]
	}
	return line, ema(line, macdSignal)
}
