// Package feature turns a found pattern into the fixed-order numeric
// vector consumed by the win-probability model. The same code path
// produces training rows and inference inputs.
package feature

import (
	"math"
	"time"

	"pullback/internal/pattern"
)

// Names is the column order of every feature vector
var Names = []string{
	"hour",
	"minute",
	"time_in_minutes",
	"is_morning",
	"signal_type",
	"confidence",
	"uptrend_candles",
	"uptrend_gain",
	"uptrend_max_volume",
	"uptrend_avg_body",
	"uptrend_total_volume",
	"decline_candles",
	"decline_pct",
	"decline_avg_volume",
	"support_candles",
	"support_volatility",
	"support_avg_volume_ratio",
	"support_avg_volume",
	"breakout_volume",
	"breakout_body",
	"breakout_range",
	"volume_ratio_decline_to_uptrend",
	"volume_ratio_support_to_uptrend",
	"volume_ratio_breakout_to_uptrend",
	"price_gain_to_decline_ratio",
	"candle_ratio_support_to_decline",
}

// StrongBuy is the signal type encoded as 1
const StrongBuy = "STRONG_BUY"

// Vector is one feature row
type Vector struct {
	Hour          float64 `json:"hour"`
	Minute        float64 `json:"minute"`
	TimeInMinutes float64 `json:"time_in_minutes"`
	IsMorning     float64 `json:"is_morning"`
	SignalType    float64 `json:"signal_type"`
	Confidence    float64 `json:"confidence"`

	UptrendCandles     float64 `json:"uptrend_candles"`
	UptrendGain        float64 `json:"uptrend_gain"`
	UptrendMaxVolume   float64 `json:"uptrend_max_volume"`
	UptrendAvgBody     float64 `json:"uptrend_avg_body"`
	UptrendTotalVolume float64 `json:"uptrend_total_volume"`

	DeclineCandles   float64 `json:"decline_candles"`
	DeclinePct       float64 `json:"decline_pct"`
	DeclineAvgVolume float64 `json:"decline_avg_volume"`

	SupportCandles        float64 `json:"support_candles"`
	SupportVolatility     float64 `json:"support_volatility"`
	SupportAvgVolumeRatio float64 `json:"support_avg_volume_ratio"`
	SupportAvgVolume      float64 `json:"support_avg_volume"`

	BreakoutVolume float64 `json:"breakout_volume"`
	BreakoutBody   float64 `json:"breakout_body"`
	BreakoutRange  float64 `json:"breakout_range"`

	VolumeRatioDeclineToUptrend  float64 `json:"volume_ratio_decline_to_uptrend"`
	VolumeRatioSupportToUptrend  float64 `json:"volume_ratio_support_to_uptrend"`
	VolumeRatioBreakoutToUptrend float64 `json:"volume_ratio_breakout_to_uptrend"`
	PriceGainToDeclineRatio      float64 `json:"price_gain_to_decline_ratio"`
	CandleRatioSupportToDecline  float64 `json:"candle_ratio_support_to_decline"`
}

// Values returns the features in Names order
func (v Vector) Values() []float64 {
	fields := v.fields()
	out := make([]float64, len(fields))
	for i, f := range fields {
		out[i] = *f
	}
	return out
}

// Map returns the features keyed by name
func (v Vector) Map() map[string]float64 {
	values := v.Values()
	m := make(map[string]float64, len(Names))
	for i, name := range Names {
		m[name] = values[i]
	}
	return m
}

// Extractor builds feature vectors from pattern results
type Extractor struct{}

// NewExtractor creates a new feature extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract builds the vector for res at signalTime. Missing stages leave
// their features at zero.
func (e *Extractor) Extract(res *pattern.Result, signalTime time.Time, signalType string) Vector {
	var v Vector

	v.Hour = float64(signalTime.Hour())
	v.Minute = float64(signalTime.Minute())
	v.TimeInMinutes = v.Hour*60 + v.Minute
	if signalTime.Hour() < 12 {
		v.IsMorning = 1
	}
	if signalType == StrongBuy {
		v.SignalType = 1
	}
	if res == nil {
		return v.sanitize()
	}
	v.Confidence = res.Confidence

	d := res.Debug
	if d == nil {
		d = &pattern.Debug{}
	}

	if res.Uptrend != nil {
		v.UptrendCandles = float64(res.Uptrend.Candles())
		v.UptrendGain = res.Uptrend.PriceGain
		v.UptrendMaxVolume = res.Uptrend.MaxVolume
	}
	v.UptrendAvgBody = d.Uptrend.AvgBodyPct
	v.UptrendTotalVolume = d.Uptrend.TotalVolume

	if res.Decline != nil {
		v.DeclineCandles = float64(res.Decline.CandleCount)
		v.DeclinePct = res.Decline.DeclinePct
	}
	v.DeclineAvgVolume = d.Decline.AvgVolume

	if res.Support != nil {
		v.SupportCandles = float64(res.Support.CandleCount)
		v.SupportVolatility = res.Support.PriceVolatility
		v.SupportAvgVolumeRatio = res.Support.AvgVolumeRatio
	}
	v.SupportAvgVolume = d.Support.AvgVolume

	bb := d.BestBreakout
	v.BreakoutVolume = bb.Volume
	if bb.Open > 0 {
		v.BreakoutBody = math.Abs(bb.Close-bb.Open) / bb.Open * 100
	}
	if bb.Low > 0 {
		v.BreakoutRange = (bb.High - bb.Low) / bb.Low * 100
	}

	v.VolumeRatioDeclineToUptrend = ratio(v.DeclineAvgVolume, v.UptrendMaxVolume)
	v.VolumeRatioSupportToUptrend = ratio(v.SupportAvgVolume, v.UptrendMaxVolume)
	v.VolumeRatioBreakoutToUptrend = ratio(v.BreakoutVolume, v.UptrendMaxVolume)
	v.PriceGainToDeclineRatio = ratio(v.UptrendGain, v.DeclinePct)
	v.CandleRatioSupportToDecline = ratio(v.SupportCandles, v.DeclineCandles)

	return v.sanitize()
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// fields returns pointers to every feature in Names order
func (v *Vector) fields() []*float64 {
	return []*float64{
		&v.Hour, &v.Minute, &v.TimeInMinutes, &v.IsMorning, &v.SignalType, &v.Confidence,
		&v.UptrendCandles, &v.UptrendGain, &v.UptrendMaxVolume, &v.UptrendAvgBody, &v.UptrendTotalVolume,
		&v.DeclineCandles, &v.DeclinePct, &v.DeclineAvgVolume,
		&v.SupportCandles, &v.SupportVolatility, &v.SupportAvgVolumeRatio, &v.SupportAvgVolume,
		&v.BreakoutVolume, &v.BreakoutBody, &v.BreakoutRange,
		&v.VolumeRatioDeclineToUptrend, &v.VolumeRatioSupportToUptrend, &v.VolumeRatioBreakoutToUptrend,
		&v.PriceGainToDeclineRatio, &v.CandleRatioSupportToDecline,
	}
}

// sanitize replaces NaN and Inf with zero
func (v Vector) sanitize() Vector {
	for _, f := range v.fields() {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
	return v
}

// FromValues rebuilds a vector from a row in Names order. Short rows
// leave the trailing features at zero.
func FromValues(values []float64) Vector {
	var v Vector
	for i, f := range v.fields() {
		if i >= len(values) {
			break
		}
		*f = values[i]
	}
	return v.sanitize()
}
