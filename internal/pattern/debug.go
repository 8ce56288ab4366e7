package pattern

// StageStats summarizes volume and body size over one stage window
type StageStats struct {
	AvgVolume   float64 `json:"avg_volume"`
	MaxVolume   float64 `json:"max_volume"`
	TotalVolume float64 `json:"total_volume"`
	AvgBodyPct  float64 `json:"avg_body_pct"`
	BarCount    int     `json:"bar_count"`
}

// UptrendStats adds the gain and the reference volume
type UptrendStats struct {
	StageStats
	GainPct          float64 `json:"gain_pct"` // fraction
	MaxVolumeNumeric float64 `json:"max_volume_numeric"`
}

// BreakoutStats describes the breakout candle on its own
type BreakoutStats struct {
	Volume  float64 `json:"volume"`
	BodyPct float64 `json:"body_pct"`
	GainPct float64 `json:"gain_pct"` // percent
}

// CandleSnapshot is the raw breakout candle plus its ratios
type CandleSnapshot struct {
	Open                  float64 `json:"open"`
	High                  float64 `json:"high"`
	Low                   float64 `json:"low"`
	Close                 float64 `json:"close"`
	Volume                float64 `json:"volume"`
	VolumeRatioVsPrev     float64 `json:"volume_ratio_vs_prev"`
	BodyIncreaseVsSupport float64 `json:"body_increase_vs_support"`
}

// Ratios relate the stages to each other
type Ratios struct {
	SupportAvgVolumeRatio        float64 `json:"support_avg_volume_ratio"`
	VolumeRatioDeclineToUptrend  float64 `json:"volume_ratio_decline_to_uptrend"`
	VolumeRatioSupportToUptrend  float64 `json:"volume_ratio_support_to_uptrend"`
	VolumeRatioBreakoutToUptrend float64 `json:"volume_ratio_breakout_to_uptrend"`
	PriceGainToDeclineRatio      float64 `json:"price_gain_to_decline_ratio"`
}

// Debug is the per-stage breakdown attached to a found pattern
type Debug struct {
	Uptrend      UptrendStats   `json:"uptrend"`
	Decline      StageStats     `json:"decline"`
	Support      StageStats     `json:"support"`
	Breakout     BreakoutStats  `json:"breakout"`
	BestBreakout CandleSnapshot `json:"best_breakout"`
	Ratios       Ratios         `json:"ratios"`
}

// BuildDebug computes the breakdown for a complete result over s, the
// same window the result's indices refer to. Incomplete results get nil.
func BuildDebug(s *Series, r *Result) *Debug {
	if s == nil || r == nil || r.Uptrend == nil || r.Decline == nil || r.Support == nil || r.Breakout == nil {
		return nil
	}
	up, dec, sup, bo := r.Uptrend, r.Decline, r.Support, r.Breakout

	d := &Debug{
		Uptrend: UptrendStats{
			StageStats:       stageStats(s, up.StartIdx, up.EndIdx),
			GainPct:          up.PriceGain,
			MaxVolumeNumeric: up.MaxVolume,
		},
		Decline: stageStats(s, dec.StartIdx, dec.EndIdx),
		Support: stageStats(s, sup.StartIdx, sup.EndIdx),
	}

	i := bo.Idx
	o, c := s.Open[i], s.Close[i]
	d.Breakout = BreakoutStats{
		Volume:  s.Volume[i],
		BodyPct: ratio(abs(c-o), o) * 100,
		GainPct: ratio(c-o, o) * 100,
	}
	d.BestBreakout = CandleSnapshot{
		Open:                  o,
		High:                  s.High[i],
		Low:                   s.Low[i],
		Close:                 c,
		Volume:                s.Volume[i],
		VolumeRatioVsPrev:     bo.VolumeRatioVsPrev,
		BodyIncreaseVsSupport: bo.BodyIncreaseVsSupport,
	}

	ref := up.MaxVolume
	d.Ratios = Ratios{
		SupportAvgVolumeRatio:        sup.AvgVolumeRatio,
		VolumeRatioDeclineToUptrend:  ratio(d.Decline.AvgVolume, ref),
		VolumeRatioSupportToUptrend:  ratio(d.Support.AvgVolume, ref),
		VolumeRatioBreakoutToUptrend: ratio(d.Breakout.Volume, ref),
		PriceGainToDeclineRatio:      ratio(up.PriceGain, dec.DeclinePct),
	}
	return d
}

func stageStats(s *Series, from, to int) StageStats {
	st := StageStats{BarCount: to - from + 1}
	if to < from {
		st.BarCount = 0
		return st
	}

	var bodySum float64
	bodyN := 0
	for i := from; i <= to; i++ {
		v := s.Volume[i]
		st.TotalVolume += v
		if v > st.MaxVolume {
			st.MaxVolume = v
		}
		if s.Open[i] > 0 {
			bodySum += abs(s.Close[i]-s.Open[i]) / s.Open[i] * 100
			bodyN++
		}
	}
	st.AvgVolume = st.TotalVolume / float64(st.BarCount)
	if bodyN > 0 {
		st.AvgBodyPct = bodySum / float64(bodyN)
	}
	return st
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
