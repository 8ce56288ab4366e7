package pattern

import (
	"math"
	"strconv"
	"strings"
	"time"

	"pullback/pkg/model"
)

// MinCandles is the smallest series that can hold all four stages
// (two uptrend candles, one decline, one support, one breakout).
const MinCandles = 5

// Series is a normalized OHLCV sequence stored as parallel arrays.
// It is never mutated once built.
type Series struct {
	Times  []time.Time
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// NewSeries converts candles into parallel arrays, preserving order
func NewSeries(candles []model.Candle) *Series {
	n := len(candles)
	s := &Series{
		Times:  make([]time.Time, n),
		Open:   make([]float64, n),
		High:   make([]float64, n),
		Low:    make([]float64, n),
		Close:  make([]float64, n),
		Volume: make([]float64, n),
	}
	for i, c := range candles {
		s.Times[i] = c.Time
		s.Open[i] = safe(c.Open)
		s.High[i] = safe(c.High)
		s.Low[i] = safe(c.Low)
		s.Close[i] = safe(c.Close)
		s.Volume[i] = float64(c.Volume)
	}
	return s
}

// Len returns the number of candles
func (s *Series) Len() int {
	return len(s.Close)
}

// Tail returns a view of the last n candles. The arrays are shared
// with the receiver, so neither may be written afterwards.
func (s *Series) Tail(n int) *Series {
	if n >= s.Len() {
		return s
	}
	from := s.Len() - n
	return &Series{
		Times:  s.Times[from:],
		Open:   s.Open[from:],
		High:   s.High[from:],
		Low:    s.Low[from:],
		Close:  s.Close[from:],
		Volume: s.Volume[from:],
	}
}

// Candle rebuilds the candle at index i
func (s *Series) Candle(i int) model.Candle {
	return model.Candle{
		Time:   s.Times[i],
		Open:   s.Open[i],
		High:   s.High[i],
		Low:    s.Low[i],
		Close:  s.Close[i],
		Volume: int64(s.Volume[i]),
	}
}

// ParseRawBars converts tabular rows into candles. Thousands separators
// are stripped and unparseable fields become zero.
func ParseRawBars(rows []model.RawBar) []model.Candle {
	candles := make([]model.Candle, len(rows))
	for i, r := range rows {
		candles[i] = model.Candle{
			Time:   r.Time,
			Open:   ParseNumber(r.Open),
			High:   ParseNumber(r.High),
			Low:    ParseNumber(r.Low),
			Close:  ParseNumber(r.Close),
			Volume: int64(ParseNumber(r.Volume)),
		}
	}
	return candles
}

// ParseNumber parses "162,154" style numbers, returning 0 on failure
func ParseNumber(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return safe(v)
}

// window helpers; all bounds are inclusive

func mean(xs []float64, from, to int) float64 {
	if to < from {
		return 0
	}
	var sum float64
	for i := from; i <= to; i++ {
		sum += xs[i]
	}
	return sum / float64(to-from+1)
}

func maxOf(xs []float64, from, to int) float64 {
	m := math.Inf(-1)
	for i := from; i <= to; i++ {
		if xs[i] > m {
			m = xs[i]
		}
	}
	return m
}

func minOf(xs []float64, from, to int) float64 {
	m := math.Inf(1)
	for i := from; i <= to; i++ {
		if xs[i] < m {
			m = xs[i]
		}
	}
	return m
}

// stdDev is the population standard deviation
func stdDev(xs []float64, from, to int) float64 {
	n := to - from + 1
	if n < 2 {
		return 0
	}
	avg := mean(xs, from, to)
	var sq float64
	for i := from; i <= to; i++ {
		d := xs[i] - avg
		sq += d * d
	}
	return math.Sqrt(sq / float64(n))
}

func meanBody(s *Series, from, to int) float64 {
	if to < from {
		return 0
	}
	var sum float64
	for i := from; i <= to; i++ {
		sum += math.Abs(s.Close[i] - s.Open[i])
	}
	return sum / float64(to-from+1)
}

// ratio divides and returns 0 for a zero denominator
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return safe(num / den)
}

func safe(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
