// Package timeframe aggregates minute bars into coarser candles.
package timeframe

import (
	"sort"
	"time"

	"pullback/pkg/model"
)

// Bar is an aggregated candle with the number of source bars it holds
type Bar struct {
	model.Candle
	CandleCount int `json:"candle_count"`
}

// Floor truncates t to an N-minute boundary of its own day
func Floor(t time.Time, minutes int) time.Time {
	if minutes <= 1 {
		return t.Truncate(time.Minute)
	}
	mins := t.Hour()*60 + t.Minute()
	mins -= mins % minutes
	return time.Date(t.Year(), t.Month(), t.Day(), mins/60, mins%60, 0, 0, t.Location())
}

// Resample groups candles into N-minute bars: open first, high max,
// low min, close last, volume summed. Input order does not matter.
func Resample(candles []model.Candle, minutes int) []Bar {
	if len(candles) == 0 {
		return nil
	}

	sorted := make([]model.Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	var bars []Bar
	for _, c := range sorted {
		slot := Floor(c.Time, minutes)
		if n := len(bars); n > 0 && bars[n-1].Time.Equal(slot) {
			b := &bars[n-1]
			if c.High > b.High {
				b.High = c.High
			}
			if c.Low < b.Low {
				b.Low = c.Low
			}
			b.Close = c.Close
			b.Volume += c.Volume
			b.CandleCount++
			continue
		}
		bars = append(bars, Bar{
			Candle: model.Candle{
				Time:   slot,
				Open:   c.Open,
				High:   c.High,
				Low:    c.Low,
				Close:  c.Close,
				Volume: c.Volume,
			},
			CandleCount: 1,
		})
	}
	return bars
}

// Completed drops bars whose slot has not closed yet at now
func Completed(bars []Bar, now time.Time, minutes int) []Bar {
	current := Floor(now, minutes)
	out := bars[:0:0]
	for _, b := range bars {
		if b.Time.Before(current) {
			out = append(out, b)
		}
	}
	return out
}

// Candles strips the aggregation counts
func Candles(bars []Bar) []model.Candle {
	out := make([]model.Candle, len(bars))
	for i, b := range bars {
		out[i] = b.Candle
	}
	return out
}

// ToThreeMinute resamples minute bars into completed 3-minute candles.
// A zero now keeps the forming bar.
func ToThreeMinute(candles []model.Candle, now time.Time) []model.Candle {
	bars := Resample(candles, 3)
	if !now.IsZero() {
		bars = Completed(bars, now, 3)
	}
	return Candles(bars)
}
