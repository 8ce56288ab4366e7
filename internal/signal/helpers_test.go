package signal

import (
	"math"
	"time"

	"pullback/internal/market"
	"pullback/pkg/model"
)

type bar struct {
	open, close float64
	volume      int64
}

func at(hour, minute int) time.Time {
	return time.Date(2025, 3, 4, hour, minute, 0, 0, market.KRX().Location())
}

// generateCandles builds 3-minute candles from start with highs and
// lows 0.2 outside the body
func generateCandles(start time.Time, bars []bar) []model.Candle {
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

// scenarioBars: uptrend 99->110, quiet decline to 108, flat support,
// bullish breakout to 111 on the last bar
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

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
