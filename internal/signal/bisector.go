package signal

import "pullback/pkg/model"

// nearSupportBand is the ±0.5% zone around the bisector
const nearSupportBand = 0.005

// BisectorLine returns, per candle, the midpoint between the running
// session high and the running session low.
func BisectorLine(candles []model.Candle) []float64 {
	line := make([]float64, len(candles))
	if len(candles) == 0 {
		return line
	}
	hi, lo := candles[0].High, candles[0].Low
	for i, c := range candles {
		if c.High > hi {
			hi = c.High
		}
		if c.Low < lo {
			lo = c.Low
		}
		line[i] = (hi + lo) / 2
	}
	return line
}

// ClassifyBisector places price relative to the bisector value
func ClassifyBisector(price, bisector float64) BisectorStatus {
	if bisector <= 0 {
		return BisectorBroken
	}
	diff := (price - bisector) / bisector
	switch {
	case diff >= nearSupportBand:
		return BisectorHolding
	case diff >= -nearSupportBand:
		return BisectorNearSupport
	default:
		return BisectorBroken
	}
}
