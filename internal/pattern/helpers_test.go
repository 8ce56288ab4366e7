package pattern

import (
	"math"
	"time"

	"pullback/pkg/model"
)

type bar struct {
	open, close float64
	volume      int64
}

// generateCandles builds 3-minute candles from 09:00 with highs and lows
// 0.2 outside the body
func generateCandles(bars []bar) []model.Candle {
	loc, _ := time.LoadLocation("Asia/Seoul")
	start := time.Date(2025, 3, 4, 9, 0, 0, 0, loc)

	candles := make([]model.Candle, len(bars))
	for i, b := range bars {
		candles[i] = model.Candle{
			Time:   start.Add(time.Duration(3*i) * time.Minute),
			Open:   b.open,
			High:   math.Max(b.open, b.close) + 0.2,
			Low:    math.Min(b.open, b.close) - 0.2,
			Close:  b.close,
			Volume: b.volume,
		}
	}
	return candles
}

// scenarioBars is a textbook pattern: uptrend 100->110 over 0-5,
// low-volume decline to 108 over 6-9, flat support around 108 over
// 10-12 and a bullish breakout at 13.
func scenarioBars(breakoutVolume int64) []bar {
	return []bar{
		{99, 100, 1000},
		{100, 102, 1200},
		{102, 104, 1400},
		{104, 106, 1600},
		{106, 108, 1800},
		{108, 110, 2000},
		{110, 109.5, 400},
		{109.5, 109, 350},
		{109, 108.5, 300},
		{108.5, 108, 250},
		{108, 108.2, 200},
		{108.2, 108, 150},
		{108.1, 108, 300},
		{108, 111, breakoutVolume},
	}
}

func scenarioSeries(breakoutVolume int64) *Series {
	return NewSeries(generateCandles(scenarioBars(breakoutVolume)))
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
