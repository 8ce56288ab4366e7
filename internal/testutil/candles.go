// Package testutil builds candle sessions for tests across packages.
package testutil

import (
	"math"
	"time"

	"pullback/internal/market"
	"pullback/pkg/model"
)

// Bar is the body and volume of one generated candle
type Bar struct {
	Open, Close float64
	Volume      int64
}

// KST returns a time on 2025-03-04 (a Tuesday) in Seoul
func KST(hour, minute int) time.Time {
	return time.Date(2025, 3, 4, hour, minute, 0, 0, market.KRX().Location())
}

// Session is the trading day used by KST
func Session() time.Time {
	return KST(0, 0)
}

// Candles builds candles spaced interval minutes apart from start, with
// highs and lows 0.2 outside the body
func Candles(start time.Time, interval int, bars []Bar) []model.Candle {
	candles := make([]model.Candle, len(bars))
	for i, b := range bars {
		candles[i] = model.Candle{
			Time:   start.Add(time.Duration(interval*i) * time.Minute),
			Open:   b.Open,
			High:   math.Max(b.Open, b.Close) + 0.2,
			Low:    math.Min(b.Open, b.Close) - 0.2,
			Close:  b.Close,
			Volume: b.Volume,
		}
	}
	return candles
}

// PatternBars rises 99->110, declines quietly to 108, holds flat and breaks
// out to 111 on the last bar. With a breakout volume of 600 the session
// ends in a buy at 09:39 on 3-minute bars.
func PatternBars(breakoutVolume int64) []Bar {
	return []Bar{
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

// PatternSession is PatternBars(600) on 3-minute bars from 09:00
func PatternSession() []model.Candle {
	return Candles(KST(9, 0), 3, PatternBars(600))
}

// Continue appends bars after candles on the same spacing
func Continue(candles []model.Candle, interval int, bars []Bar) []model.Candle {
	if len(candles) == 0 {
		return Candles(KST(9, 0), interval, bars)
	}
	start := candles[len(candles)-1].Time.Add(time.Duration(interval) * time.Minute)
	out := append([]model.Candle(nil), candles...)
	return append(out, Candles(start, interval, bars)...)
}

// FlatSession is n quiet bars around 100 that stay under the minimum
// gain above the open
func FlatSession(n int) []model.Candle {
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = Bar{100, 100.1, 500}
	}
	return Candles(KST(9, 0), 3, bars)
}
