package signal

import (
	"math"

	"pullback/pkg/model"
)

// RiskKind names an exit condition on an open position
type RiskKind string

const (
	RiskTargetReached RiskKind = "TARGET_REACHED"
	RiskBisectorBreak RiskKind = "BISECTOR_BREAK"
	RiskBearishVolume RiskKind = "LARGE_BEARISH_VOLUME"
	RiskSupportBreak  RiskKind = "SUPPORT_BREAK"
)

// RiskConfig holds exit thresholds
type RiskConfig struct {
	TargetProfit     float64 `yaml:"target_profit"`      // percent
	BreakTolerance   float64 `yaml:"break_tolerance"`    // 0.998 = 0.2% below the line
	BearishBodyRatio float64 `yaml:"bearish_body_ratio"` // body / range
	SurgeVsRecent    float64 `yaml:"surge_vs_recent"`    // x mean of recent volumes
	SurgeVsDayMax    float64 `yaml:"surge_vs_day_max"`   // x running max volume
	Lookback         int     `yaml:"lookback"`
}

// DefaultRiskConfig returns the live exit thresholds
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		TargetProfit:     3.0,
		BreakTolerance:   0.998,
		BearishBodyRatio: 0.6,
		SurgeVsRecent:    1.5,
		SurgeVsDayMax:    0.5,
		Lookback:         10,
	}
}

// DetectRisks checks the last candle of a session against an open
// position bought at entry. Candles must start at the session open.
func DetectRisks(cfg RiskConfig, candles []model.Candle, entry float64) []RiskKind {
	if len(candles) == 0 {
		return nil
	}
	n := len(candles)
	cur := candles[n-1]
	var risks []RiskKind

	if entry > 0 && cur.Close >= entry*(1+cfg.TargetProfit/100) {
		risks = append(risks, RiskTargetReached)
	}

	line := BisectorLine(candles)
	if cur.Close < line[n-1]*cfg.BreakTolerance {
		risks = append(risks, RiskBisectorBreak)
	}

	if cur.Close < cur.Open {
		body := cur.Open - cur.Close
		if rng := cur.High - cur.Low; rng > 0 && body > rng*cfg.BearishBodyRatio && isVolumeSurge(cfg, candles) {
			risks = append(risks, RiskBearishVolume)
		}
	}

	// 직전 N봉 저가 기준 (현재봉 제외)
	if n > cfg.Lookback && cfg.Lookback > 0 {
		low := math.Inf(1)
		for _, c := range candles[n-1-cfg.Lookback : n-1] {
			low = math.Min(low, c.Low)
		}
		if cur.Close < low*cfg.BreakTolerance {
			risks = append(risks, RiskSupportBreak)
		}
	}

	return risks
}

// isVolumeSurge compares the last volume to the recent mean and to the
// running session maximum.
func isVolumeSurge(cfg RiskConfig, candles []model.Candle) bool {
	n := len(candles)
	cur := float64(candles[n-1].Volume)

	from := n - cfg.Lookback
	if from < 0 {
		from = 0
	}
	var sum float64
	for _, c := range candles[from:] {
		sum += float64(c.Volume)
	}
	if avg := sum / float64(n-from); avg > 0 && cur > avg*cfg.SurgeVsRecent {
		return true
	}

	var peak int64
	for _, c := range candles {
		if c.Volume > peak {
			peak = c.Volume
		}
	}
	return peak > 0 && cur > float64(peak)*cfg.SurgeVsDayMax
}

// HasRisk reports whether kind is among risks
func HasRisk(risks []RiskKind, kind RiskKind) bool {
	for _, r := range risks {
		if r == kind {
			return true
		}
	}
	return false
}
