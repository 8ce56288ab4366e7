package pattern

import "math"

// BaseConfidence is the score of a pattern that hits no bonus band
const BaseConfidence = 80.0

// band awards points when lo <= v <= hi (bounds flagged open are exclusive)
type band struct {
	lo, hi         float64
	loOpen, hiOpen bool
	points         float64
}

func (b band) contains(v float64) bool {
	if b.loOpen {
		if v <= b.lo {
			return false
		}
	} else if v < b.lo {
		return false
	}
	if b.hiOpen {
		return v < b.hi
	}
	return v <= b.hi
}

// first matching band wins
func award(v float64, bands []band) float64 {
	for _, b := range bands {
		if b.contains(v) {
			return b.points
		}
	}
	return 0
}

var (
	gainBands = []band{
		{lo: 0.03, hi: 0.05, points: 5},
		{lo: 0.05, hi: 0.07, loOpen: true, points: 3},
		{lo: 0.02, hi: 0.03, hiOpen: true, points: 2},
	}
	declineBands = []band{
		{lo: 0.015, hi: 0.03, points: 5},
		{lo: 0.03, hi: 0.04, loOpen: true, points: 3},
		{lo: 0.01, hi: 0.015, hiOpen: true, points: 2},
	}
	supportVolumeBands = []band{
		{lo: 0.15, hi: 0.25, points: 3},
		{lo: 0.25, hi: 0.35, loOpen: true, points: 2},
		{lo: math.Inf(-1), hi: 0.15, hiOpen: true, points: 1},
	}
	volatilityBands = []band{
		{lo: 0.005, hi: 0.015, points: 2},
		{lo: 0.003, hi: 0.005, hiOpen: true, points: 1},
	}
	bodyBands = []band{
		{lo: 0.3, hi: 0.6, points: 3},
		{lo: 0.6, hi: 0.8, loOpen: true, points: 2},
		{lo: 0.2, hi: 0.3, hiOpen: true, points: 1},
	}
	volumePrevBands = []band{
		{lo: 0.1, hi: 0.3, points: 2},
		{lo: 0.3, hi: 0.5, loOpen: true, points: 1},
	}
)

// Score computes the pattern confidence in [0, 100]
func Score(up *Uptrend, dec *Decline, sup *Support, bo *Breakout) float64 {
	if up == nil || dec == nil || sup == nil || bo == nil {
		return 0
	}

	score := BaseConfidence
	score += award(up.PriceGain, gainBands)
	score += award(dec.DeclinePct, declineBands)

	switch {
	case dec.AvgVolumeRatio <= 0.25:
		score += 2
	case dec.AvgVolumeRatio <= 0.35:
		score++
	}

	score += award(sup.AvgVolumeRatio, supportVolumeBands)
	score += award(sup.PriceVolatility, volatilityBands)
	score += award(bo.BodyIncreaseVsSupport, bodyBands)
	score += award(bo.VolumeRatioVsPrev, volumePrevBands)

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}
