package tools

import (
	"math"

	"github.com/af-corp/scout/internal/search"
)

// Point is one indicator value at a candle time.
type Point struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

type Indicators struct {
	SMA20 []Point `json:"sma20"`
	EMA20 []Point `json:"ema20"`
	RSI14 []Point `json:"rsi14"`
}

type ChartStats struct {
	First         float64 `json:"first"`
	Last          float64 `json:"last"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	ChangePercent float64 `json:"changePercent"`
}

func computeIndicators(candles []search.Candle) Indicators {
	return Indicators{
		SMA20: sma(candles, 20),
		EMA20: ema(candles, 20),
		RSI14: rsi(candles, 14),
	}
}

// sma starts at the first full window.
func sma(candles []search.Candle, period int) []Point {
	if period <= 0 || len(candles) < period {
		return []Point{}
	}
	out := make([]Point, 0, len(candles)-period+1)
	var sum float64
	for i, c := range candles {
		sum += c.Close
		if i >= period {
			sum -= candles[i-period].Close
		}
		if i >= period-1 {
			out = append(out, Point{Time: c.Time, Value: round(sum / float64(period))})
		}
	}
	return out
}

// ema is seeded with the SMA of the first window.
func ema(candles []search.Candle, period int) []Point {
	if period <= 0 || len(candles) < period {
		return []Point{}
	}
	k := 2 / float64(period+1)
	var seed float64
	for _, c := range candles[:period] {
		seed += c.Close
	}
	prev := seed / float64(period)
	out := []Point{{Time: candles[period-1].Time, Value: round(prev)}}
	for _, c := range candles[period:] {
		prev = c.Close*k + prev*(1-k)
		out = append(out, Point{Time: c.Time, Value: round(prev)})
	}
	return out
}

// rsi uses Wilder smoothing.
func rsi(candles []search.Candle, period int) []Point {
	if period <= 0 || len(candles) <= period {
		return []Point{}
	}
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := candles[i].Close - candles[i-1].Close
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain, avgLoss := gain/float64(period), loss/float64(period)
	out := []Point{{Time: candles[period].Time, Value: rsiValue(avgGain, avgLoss)}}
	for i := period + 1; i < len(candles); i++ {
		d := candles[i].Close - candles[i-1].Close
		g, l := math.Max(d, 0), math.Max(-d, 0)
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
		out = append(out, Point{Time: candles[i].Time, Value: rsiValue(avgGain, avgLoss)})
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
	return round(100 - 100/(1+rs))
}

func computeStats(candles []search.Candle) ChartStats {
	if len(candles) == 0 {
		return ChartStats{}
	}
	s := ChartStats{
		First: candles[0].Close,
		Last:  candles[len(candles)-1].Close,
		High:  math.Inf(-1),
		Low:   math.Inf(1),
	}
	for _, c := range candles {
		high, low := c.High, c.Low
		if high == 0 {
			high = c.Close
		}
		if low == 0 {
			low = c.Close
		}
		s.High = math.Max(s.High, high)
		s.Low = math.Min(s.Low, low)
	}
	if s.First != 0 {
		s.ChangePercent = round((s.Last - s.First) / s.First * 100)
	}
	return s
}

func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}
