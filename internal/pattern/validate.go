package pattern

import "math"

// ValidateUptrend checks the window [start, end] as the rising stage
func (a *Analyzer) ValidateUptrend(s *Series, start, end int) (*Uptrend, bool) {
	if start < 0 || end >= s.Len() || end-start+1 < 2 {
		return nil, false
	}

	startPrice := s.Close[start]
	endPrice := s.Close[end]
	if startPrice <= 0 {
		return nil, false
	}

	gain := endPrice/startPrice - 1
	if gain < a.cfg.MinUptrendGain {
		return nil, false
	}

	// 고점 대비 너무 밀린 종가는 상승 구간으로 보지 않음
	high := maxOf(s.High, start, end)
	if endPrice < high*a.cfg.UptrendPeakRatio {
		return nil, false
	}

	maxVol := maxOf(s.Volume, 0, s.Len()-1)
	seriesAvg := mean(s.Volume, 0, s.Len()-1)

	return &Uptrend{
		StartIdx:            start,
		EndIdx:              end,
		MaxVolume:           maxVol,
		AvgVolume:           mean(s.Volume, start, end),
		PriceGain:           gain,
		HighPrice:           high,
		MaxVolumeRatioVsAvg: ratio(maxVol, seriesAvg),
	}, true
}

// ValidateDecline checks [start, end] as a low-volume pullback from up
func (a *Analyzer) ValidateDecline(s *Series, up *Uptrend, start, end int) (*Decline, bool) {
	if up == nil || start != up.EndIdx+1 || end >= s.Len() || end-start+1 < 2 {
		return nil, false
	}

	ref := s.Close[up.EndIdx]
	if ref <= 0 {
		return nil, false
	}

	low := minOf(s.Close, start, end)
	pct := (ref - low) / ref
	if pct < a.cfg.MinDeclinePct {
		return nil, false
	}

	// 세력 이탈 거래량: 기준 거래량의 60% 초과 캔들이 하나라도 있으면 실패
	if up.MaxVolume > 0 {
		for i := start; i <= end; i++ {
			if s.Volume[i]/up.MaxVolume > a.cfg.DeclineMaxVolumeRatio {
				return nil, false
			}
		}
	}

	return &Decline{
		StartIdx:        start,
		EndIdx:          end,
		DeclinePct:      pct,
		MaxDeclinePrice: low,
		AvgVolumeRatio:  ratio(mean(s.Volume, start, end), up.MaxVolume),
		CandleCount:     end - start + 1,
	}, true
}

// ValidateSupport checks [start, end] as the consolidation after dec
func (a *Analyzer) ValidateSupport(s *Series, up *Uptrend, dec *Decline, start, end int) (*Support, bool) {
	if up == nil || dec == nil || start != dec.EndIdx+1 || end >= s.Len() || end < start {
		return nil, false
	}

	if up.MaxVolume > 0 {
		moderate := 0
		for i := start; i <= end; i++ {
			r := s.Volume[i] / up.MaxVolume
			if r > a.cfg.SupportMaxVolumeRatio {
				return nil, false
			}
			if r > a.cfg.SupportModerateVolumeRatio {
				moderate++
			}
		}
		if moderate > 1 {
			return nil, false
		}
	}

	price := mean(s.Close, start, end)
	if up.HighPrice > 0 && (up.HighPrice-price)/up.HighPrice < a.cfg.SupportMinDistanceFromHigh {
		return nil, false
	}

	var volatility float64
	if end > start && price > 0 {
		volatility = stdDev(s.Close, start, end) / price
	}
	if volatility > a.cfg.SupportMaxVolatility {
		return nil, false
	}

	return &Support{
		StartIdx:        start,
		EndIdx:          end,
		SupportPrice:    price,
		PriceVolatility: volatility,
		AvgVolumeRatio:  ratio(mean(s.Volume, start, end), up.MaxVolume),
		CandleCount:     end - start + 1,
	}, true
}

// ValidateBreakout checks the candle at idx against the support window.
// refVolume is the uptrend's reference volume.
func (a *Analyzer) ValidateBreakout(s *Series, sup *Support, up *Uptrend, refVolume float64, idx int) (*Breakout, bool) {
	if sup == nil || up == nil || idx < 0 || idx >= s.Len() {
		return nil, false
	}

	o, c := s.Open[idx], s.Close[idx]
	if c <= o {
		return nil, false
	}
	body := c - o

	// 직전 캔들 몸통 중간값 돌파 또는 직전 몸통 대비 충분히 큰 몸통
	if idx > 0 {
		po, pc := s.Open[idx-1], s.Close[idx-1]
		prevBody := math.Abs(pc - po)
		var mid float64
		if pc > po {
			mid = po + prevBody/2
		} else {
			mid = pc + prevBody/2
		}
		if !(o > mid || body >= prevBody*a.cfg.BreakoutBodyMultiple) {
			return nil, false
		}
	}

	var bodyIncrease float64
	if avgBody := meanBody(s, sup.StartIdx, sup.EndIdx); avgBody > 0 {
		bodyIncrease = body/avgBody - 1
	}
	if bodyIncrease < a.cfg.MinBodyIncrease {
		return nil, false
	}

	// 거래량 과열 돌파는 소진으로 간주
	if a.exhaustion(s, refVolume, idx) {
		return nil, false
	}
	vol := s.Volume[idx]

	prevVol := refVolume
	if idx > 0 {
		prevVol = s.Volume[idx-1]
	}
	var volVsPrev float64
	if prevVol > 0 {
		volVsPrev = vol/prevVol - 1
	}

	return &Breakout{
		Idx:                   idx,
		BodySize:              body,
		Volume:                vol,
		VolumeRatioVsPrev:     volVsPrev,
		BodyIncreaseVsSupport: bodyIncrease,
	}, true
}
