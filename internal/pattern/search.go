package pattern

import (
	"fmt"

	"pullback/pkg/model"
)

// Analyzer searches a session for the four-stage support pattern.
// It holds no mutable state and is safe for concurrent use.
type Analyzer struct {
	cfg Config
}

// NewAnalyzer creates an analyzer with the given thresholds
func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg}
}

// Config returns the thresholds in use
func (a *Analyzer) Config() Config {
	return a.cfg
}

// AnalyzeCandles is Analyze over model candles
func (a *Analyzer) AnalyzeCandles(candles []model.Candle) *Result {
	return a.Analyze(NewSeries(candles))
}

// Analyze runs the full search and stops at the first pattern scoring
// at least EarlyExitConfidence.
func (a *Analyzer) Analyze(s *Series) *Result {
	return a.search(s, true)
}

// AnalyzeExhaustive runs the same enumeration without early exit and
// returns the highest scoring pattern.
func (a *Analyzer) AnalyzeExhaustive(s *Series) *Result {
	return a.search(s, false)
}

func (a *Analyzer) search(full *Series, earlyExit bool) *Result {
	if full == nil || full.Len() < MinCandles {
		return rejected("insufficient data")
	}

	s, offset := full, 0
	if full.Len() > a.cfg.MaxSearchWindow {
		offset = full.Len() - a.cfg.MaxSearchWindow
		s = full.Tail(a.cfg.MaxSearchWindow)
	}

	n := s.Len()
	bk := n - 1

	if reason, ok := precheckBreakout(s, bk); !ok {
		r := rejected(reason)
		r.Offset = offset
		return r
	}

	maxUp := min(a.cfg.MaxStageLength, n-4)
	maxStage := a.cfg.MaxStageLength

	var best *Result
	bestConfidence := 0.0
	exhausted := false

	for us := max(0, n-a.cfg.UptrendStartWindow); us < n-4; us++ {
		for ue := us + 1; ue < min(us+maxUp, n-3); ue++ {
			up, ok := a.ValidateUptrend(s, us, ue)
			if !ok {
				continue
			}

			ds := ue + 1
			for de := ds + 1; de < min(ds+maxStage, n-2); de++ {
				dec, ok := a.ValidateDecline(s, up, ds, de)
				if !ok {
					continue
				}

				ss := de + 1
				for se := ss; se < min(ss+maxStage, n-1); se++ {
					sup, ok := a.ValidateSupport(s, up, dec, ss, se)
					if !ok {
						continue
					}

					bo, ok := a.ValidateBreakout(s, sup, up, up.MaxVolume, bk)
					if !ok {
						if a.exhaustion(s, up.MaxVolume, bk) {
							exhausted = true
						}
						continue
					}

					confidence := Score(up, dec, sup, bo)
					if confidence <= bestConfidence {
						continue
					}

					bestConfidence = confidence
					best = a.complete(s, up, dec, sup, bo, confidence)
					best.Offset = offset

					if earlyExit && confidence >= a.cfg.EarlyExitConfidence {
						return best
					}
				}
			}
		}
	}

	if best == nil {
		r := rejected("no 4-stage pattern found in any scenario")
		if exhausted {
			r.Reasons = append(r.Reasons, fmt.Sprintf("breakout volume exhaustion: %.0f%% of reference volume",
				ratio(s.Volume[bk], maxOf(s.Volume, 0, n-1))*100))
		}
		r.Offset = offset
		return r
	}
	return best
}

// exhaustion reports whether the breakout volume is too large relative
// to the reference volume
func (a *Analyzer) exhaustion(s *Series, refVolume float64, idx int) bool {
	return refVolume > 0 && s.Volume[idx]/refVolume > a.cfg.BreakoutMaxVolumeRatio
}

// precheckBreakout applies the O(1) filters on the last candle before
// the stage enumeration starts.
func precheckBreakout(s *Series, bk int) (string, bool) {
	if s.Close[bk] <= s.Open[bk] {
		return "breakout candle is bearish", false
	}
	if bk == 0 {
		return "", true
	}
	if s.Close[bk] <= s.Close[bk-1] {
		return "breakout close not above previous close", false
	}
	if s.High[bk] <= s.High[bk-1] {
		return "breakout high not above previous high", false
	}
	if s.Volume[bk] <= s.Volume[bk-1] {
		return "breakout volume not above previous volume", false
	}
	return "", true
}

// EntryPrice is the pullback entry inside the breakout body
func (a *Analyzer) EntryPrice(s *Series, bo *Breakout) float64 {
	o, c := s.Open[bo.Idx], s.Close[bo.Idx]
	return o + (c-o)*a.cfg.EntryBodyRatio
}

func (a *Analyzer) complete(s *Series, up *Uptrend, dec *Decline, sup *Support, bo *Breakout, confidence float64) *Result {
	r := &Result{
		HasPattern: true,
		Uptrend:    up,
		Decline:    dec,
		Support:    sup,
		Breakout:   bo,
		EntryPrice: a.EntryPrice(s, bo),
		Confidence: confidence,
		Reasons: []string{
			fmt.Sprintf("uptrend: idx %d~%d +%.1f%%", up.StartIdx, up.EndIdx, up.PriceGain*100),
			fmt.Sprintf("decline: idx %d~%d -%.1f%%", dec.StartIdx, dec.EndIdx, dec.DeclinePct*100),
			fmt.Sprintf("support: idx %d~%d %d candles", sup.StartIdx, sup.EndIdx, sup.CandleCount),
			fmt.Sprintf("breakout: idx %d confidence %.1f%%", bo.Idx, confidence),
		},
	}
	r.Debug = BuildDebug(s, r)
	return r
}

// AnalyzeSequential is the fast path: over the last SequentialWindow
// candles it takes the first valid window of each stage in order.
func (a *Analyzer) AnalyzeSequential(full *Series) *Result {
	if full == nil || full.Len() < MinCandles {
		return rejected("insufficient data")
	}

	s, offset := full, 0
	if full.Len() > a.cfg.SequentialWindow {
		offset = full.Len() - a.cfg.SequentialWindow
		s = full.Tail(a.cfg.SequentialWindow)
	}
	bk := s.Len() - 1

	fail := func(reason string, up *Uptrend, dec *Decline, sup *Support) *Result {
		return &Result{
			Uptrend:    up,
			Decline:    dec,
			Support:    sup,
			Reasons:    []string{reason},
			Offset:     offset,
			Sequential: true,
		}
	}

	var up *Uptrend
	for ue := 1; ue < bk; ue++ {
		if u, ok := a.ValidateUptrend(s, 0, ue); ok {
			up = u
			break
		}
	}
	if up == nil {
		return fail("no uptrend found", nil, nil, nil)
	}

	var dec *Decline
	for de := up.EndIdx + 1; de < bk; de++ {
		if d, ok := a.ValidateDecline(s, up, up.EndIdx+1, de); ok {
			dec = d
			break
		}
	}
	if dec == nil {
		return fail("no decline found", up, nil, nil)
	}

	var sup *Support
	for se := dec.EndIdx + 1; se < bk; se++ {
		if sp, ok := a.ValidateSupport(s, up, dec, dec.EndIdx+1, se); ok {
			sup = sp
			break
		}
	}
	if sup == nil {
		return fail("no support found", up, dec, nil)
	}

	if dec.CandleCount+sup.CandleCount < 2 {
		return fail("decline+support candles < 2", up, dec, sup)
	}

	bo, ok := a.ValidateBreakout(s, sup, up, up.MaxVolume, bk)
	if !ok {
		return fail("no breakout candle", up, dec, sup)
	}

	r := a.complete(s, up, dec, sup, bo, Score(up, dec, sup, bo))
	r.Reasons = append(r.Reasons, "center-time analysis")
	r.Offset = offset
	r.Sequential = true
	return r
}
