package strategy

import (
	"math"

	"pullback/pkg/model"
)

// Indicators holds technical indicators over the bars of one session
type Indicators struct {
	MA5     float64 `json:"ma5"`
	MA10    float64 `json:"ma10"`
	MA20    float64 `json:"ma20"`
	RSI14   float64 `json:"rsi14"`
	VWAP    float64 `json:"vwap"`
	AvgVol  float64 `json:"avg_vol"`  // Average volume (20 bars)
	BBUpper float64 `json:"bb_upper"` // Bollinger Band Upper
	BBLower float64 `json:"bb_lower"` // Bollinger Band Lower
	BBWidth float64 `json:"bb_width"` // Bollinger Bandwidth
}

// CalculateMA calculates Simple Moving Average for the given period
func CalculateMA(candles []model.Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}

	var sum float64
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Close
	}
	return sum / float64(period)
}

// CalculateRSI calculates RSI for the given period
func CalculateRSI(candles []model.Candle, period int) float64 {
	if len(candles) < period+1 {
		return 50
	}

	var gains, losses float64
	for i := len(candles) - period; i < len(candles); i++ {
		change := candles[i].Close - candles[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// CalculateVWAP volume-weighted typical price since the session open
func CalculateVWAP(candles []model.Candle) float64 {
	var pv, vol float64
	for _, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		pv += typical * float64(c.Volume)
		vol += float64(c.Volume)
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}

// CalculateAvgVolume calculates average volume
func CalculateAvgVolume(candles []model.Candle, period int) float64 {
	if period <= 0 || len(candles) < period {
		return 0
	}

	var sum int64
	for i := len(candles) - period; i < len(candles); i++ {
		sum += candles[i].Volume
	}
	return float64(sum) / float64(period)
}

// CalculateBollingerBands calculates Bollinger Bands
func CalculateBollingerBands(candles []model.Candle, period int, stdDev float64) (upper, lower, bandwidth float64) {
	if period <= 0 || len(candles) < period {
		return 0, 0, 0
	}

	ma := CalculateMA(candles, period)

	var sumSquares float64
	for i := len(candles) - period; i < len(candles); i++ {
		diff := candles[i].Close - ma
		sumSquares += diff * diff
	}
	std := math.Sqrt(sumSquares / float64(period))

	upper = ma + (std * stdDev)
	lower = ma - (std * stdDev)

	if ma > 0 {
		bandwidth = (upper - lower) / ma * 100
	}

	return upper, lower, bandwidth
}

// CalculateIndicators calculates all indicators for the given candles
func CalculateIndicators(candles []model.Candle) *Indicators {
	ind := &Indicators{VWAP: CalculateVWAP(candles)}

	if len(candles) >= 5 {
		ind.MA5 = CalculateMA(candles, 5)
	}
	if len(candles) >= 10 {
		ind.MA10 = CalculateMA(candles, 10)
	}
	if len(candles) >= 20 {
		ind.MA20 = CalculateMA(candles, 20)
		ind.AvgVol = CalculateAvgVolume(candles, 20)
		ind.BBUpper, ind.BBLower, ind.BBWidth = CalculateBollingerBands(candles, 20, 2.0)
	}
	if len(candles) >= 15 {
		ind.RSI14 = CalculateRSI(candles, 14)
	}

	return ind
}
