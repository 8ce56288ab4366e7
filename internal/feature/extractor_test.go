package feature

import (
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"pullback/internal/pattern"
	"pullback/pkg/model"
)

func scenarioCandles() []model.Candle {
	loc, _ := time.LoadLocation("Asia/Seoul")
	start := time.Date(2025, 3, 4, 9, 0, 0, 0, loc)
	rows := [][3]float64{
		{99, 100, 1000}, {100, 102, 1200}, {102, 104, 1400}, {104, 106, 1600},
		{106, 108, 1800}, {108, 110, 2000}, {110, 109.5, 400}, {109.5, 109, 350},
		{109, 108.5, 300}, {108.5, 108, 250}, {108, 108.2, 200}, {108.2, 108, 150},
		{108.1, 108, 300}, {108, 111, 600},
	}
	candles := make([]model.Candle, len(rows))
	for i, r := range rows {
		candles[i] = model.Candle{
			Time:   start.Add(time.Duration(3*i) * time.Minute),
			Open:   r[0],
			High:   math.Max(r[0], r[1]) + 0.2,
			Low:    math.Min(r[0], r[1]) - 0.2,
			Close:  r[1],
			Volume: int64(r[2]),
		}
	}
	return candles
}

func TestNames(t *testing.T) {
	if len(Names) != 26 {
		t.Fatalf("Expected 26 features, got %d", len(Names))
	}
	if len(Vector{}.Values()) != len(Names) {
		t.Errorf("Expected Values length %d, got %d", len(Names), len(Vector{}.Values()))
	}
	seen := make(map[string]bool)
	for _, n := range Names {
		if seen[n] {
			t.Errorf("Duplicate feature %s", n)
		}
		seen[n] = true
	}
}

func TestExtract_Scenario(t *testing.T) {
	a := pattern.NewAnalyzer(pattern.DefaultConfig())
	res := a.AnalyzeCandles(scenarioCandles())
	if !res.HasPattern {
		t.Fatalf("Expected pattern, got %v", res.Reasons)
	}

	signalTime := scenarioCandles()[13].Time
	v := NewExtractor().Extract(res, signalTime, StrongBuy)

	if v.Hour != 9 || v.Minute != 39 || v.TimeInMinutes != 579 {
		t.Errorf("Unexpected time features %f:%f (%f)", v.Hour, v.Minute, v.TimeInMinutes)
	}
	if v.IsMorning != 1 || v.SignalType != 1 {
		t.Errorf("Expected morning strong buy, got %f/%f", v.IsMorning, v.SignalType)
	}
	if v.Confidence != res.Confidence {
		t.Errorf("Expected confidence %f, got %f", res.Confidence, v.Confidence)
	}
	if v.UptrendCandles != 6 || v.UptrendMaxVolume != 2000 || v.UptrendTotalVolume != 9000 {
		t.Errorf("Unexpected uptrend features %+v", v)
	}
	if v.BreakoutVolume != 600 {
		t.Errorf("Expected breakout volume 600, got %f", v.BreakoutVolume)
	}
	if math.Abs(v.BreakoutBody-3.0/108*100) > 1e-9 {
		t.Errorf("Expected breakout body %f, got %f", 3.0/108*100, v.BreakoutBody)
	}
	if math.Abs(v.VolumeRatioBreakoutToUptrend-0.3) > 1e-9 {
		t.Errorf("Expected breakout/uptrend volume 0.3, got %f", v.VolumeRatioBreakoutToUptrend)
	}
	if v.CandleRatioSupportToDecline != v.SupportCandles/v.DeclineCandles {
		t.Errorf("Unexpected candle ratio %f", v.CandleRatioSupportToDecline)
	}

	m := v.Map()
	for i, name := range Names {
		if m[name] != v.Values()[i] {
			t.Errorf("Map and Values disagree on %s", name)
		}
	}
}

func TestExtract_ZeroDenominators(t *testing.T) {
	res := &pattern.Result{
		HasPattern: true,
		Uptrend:    &pattern.Uptrend{StartIdx: 0, EndIdx: 2, PriceGain: 0.05, MaxVolume: 0},
		Decline:    &pattern.Decline{CandleCount: 0, DeclinePct: 0},
		Support:    &pattern.Support{CandleCount: 3},
		Breakout:   &pattern.Breakout{},
		Debug: &pattern.Debug{
			Decline:      pattern.StageStats{AvgVolume: 100},
			Support:      pattern.StageStats{AvgVolume: 50},
			BestBreakout: pattern.CandleSnapshot{Open: 0, High: 10, Low: 0, Close: 5, Volume: 70},
		},
	}

	v := NewExtractor().Extract(res, time.Date(2025, 3, 4, 13, 5, 0, 0, time.UTC), "CAUTIOUS_BUY")

	tests := []struct {
		name string
		got  float64
	}{
		{"candle_ratio_support_to_decline", v.CandleRatioSupportToDecline},
		{"price_gain_to_decline_ratio", v.PriceGainToDeclineRatio},
		{"volume_ratio_decline_to_uptrend", v.VolumeRatioDeclineToUptrend},
		{"volume_ratio_support_to_uptrend", v.VolumeRatioSupportToUptrend},
		{"volume_ratio_breakout_to_uptrend", v.VolumeRatioBreakoutToUptrend},
		{"breakout_body", v.BreakoutBody},
		{"breakout_range", v.BreakoutRange},
		{"is_morning", v.IsMorning},
		{"signal_type", v.SignalType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != 0 {
				t.Errorf("Expected 0, got %f", tt.got)
			}
		})
	}
}

func TestExtract_NilResult(t *testing.T) {
	v := NewExtractor().Extract(nil, time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC), StrongBuy)
	if v.Confidence != 0 || v.Hour != 10 {
		t.Errorf("Unexpected vector for nil result: %+v", v)
	}
}

func TestFromValues(t *testing.T) {
	v := FromValues([]float64{9, 30, 570, 1, 0, 85, math.NaN()})
	if v.Hour != 9 || v.Confidence != 85 {
		t.Errorf("Unexpected vector %+v", v)
	}
	if v.UptrendCandles != 0 {
		t.Errorf("Expected NaN to be sanitized, got %f", v.UptrendCandles)
	}
}

// Property: no extracted feature is ever NaN or Inf
func TestProperty_FeaturesFinite(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	e := NewExtractor()

	properties.Property("features are finite", prop.ForAll(
		func(maxVol, declinePct, declineCandles, open, low float64, minute int) bool {
			res := &pattern.Result{
				HasPattern: true,
				Confidence: 85,
				Uptrend:    &pattern.Uptrend{EndIdx: 3, PriceGain: 0.04, MaxVolume: maxVol},
				Decline:    &pattern.Decline{DeclinePct: declinePct, CandleCount: int(declineCandles)},
				Support:    &pattern.Support{CandleCount: 2},
				Breakout:   &pattern.Breakout{},
				Debug: &pattern.Debug{
					BestBreakout: pattern.CandleSnapshot{Open: open, High: 120, Low: low, Close: 110, Volume: 500},
				},
			}
			ts := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC).Add(time.Duration(minute) * time.Minute)
			for _, x := range e.Extract(res, ts, StrongBuy).Values() {
				if math.IsNaN(x) || math.IsInf(x, 0) {
					return false
				}
			}
			return true
		},
		gen.OneConstOf(0.0, 1000.0, 1e-300),
		gen.OneConstOf(0.0, 0.02, 1e-300),
		gen.OneConstOf(0.0, 3.0),
		gen.OneConstOf(0.0, -1.0, 100.0),
		gen.OneConstOf(0.0, -5.0, 100.0),
		gen.IntRange(0, 390),
	))

	properties.TestingRun(t)
}
