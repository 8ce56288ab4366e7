package signal

import (
	"strings"
	"testing"
	"time"

	"pullback/internal/feature"
	"pullback/internal/market"
	"pullback/internal/pattern"
)

func newTestGate(cfg Config) *Gate {
	return NewGate(cfg, pattern.NewAnalyzer(pattern.DefaultConfig()), feature.NewExtractor())
}

func TestEvaluate_Buy(t *testing.T) {
	g := newTestGate(DefaultConfig())
	candles := generateCandles(at(9, 0), scenarioBars(600))

	d := g.Evaluate("005930", candles, time.Time{})
	if d.State != StateBuy {
		t.Fatalf("Expected BUY, got %s (%v)", d.State, d.Reasons)
	}
	if d.EntryPrice == nil || !almostEqual(*d.EntryPrice, 110.4) {
		t.Errorf("Expected entry price 110.4, got %v", d.EntryPrice)
	}
	want := CautiousBuy
	if d.Confidence >= 80 {
		want = StrongBuy
	}
	if d.SignalType != want {
		t.Errorf("Expected %s for confidence %.1f, got %s", want, d.Confidence, d.SignalType)
	}
	if d.Threshold != 70 {
		t.Errorf("Expected opening-hour threshold 70, got %.1f", d.Threshold)
	}
	if d.TargetProfit != 3.0 {
		t.Errorf("Expected target profit 3.0, got %.2f", d.TargetProfit)
	}
	if !almostEqual(d.Bisector, 105.0) {
		t.Errorf("Expected bisector 105.0, got %f", d.Bisector)
	}
	if d.BisectorStatus != BisectorHolding {
		t.Errorf("Expected HOLDING, got %s", d.BisectorStatus)
	}
	if !almostEqual(d.VolumeRatio, 0.3) {
		t.Errorf("Expected volume ratio 0.3, got %f", d.VolumeRatio)
	}
	if d.Features == nil || d.Features.Hour != 9 || d.Features.Minute != 39 {
		t.Errorf("Expected features at 09:39, got %+v", d.Features)
	}
	if d.Pattern == nil || !d.Pattern.HasPattern {
		t.Error("Expected the pattern result attached")
	}
	if !d.Time.Equal(at(9, 39)) {
		t.Errorf("Expected decision time 09:39, got %s", d.Time)
	}
}

func TestEvaluate_HardFilters(t *testing.T) {
	g := newTestGate(DefaultConfig())

	tests := []struct {
		name   string
		start  time.Time
		bars   []bar
		reason string
	}{
		{
			name:   "insufficient data",
			start:  at(9, 0),
			bars:   []bar{{100, 101, 10}, {101, 102, 10}},
			reason: "insufficient data",
		},
		{
			name:   "late first candle",
			start:  at(9, 3),
			bars:   scenarioBars(600),
			reason: "09:00 open missing",
		},
		{
			name:   "close below open",
			start:  at(9, 0),
			bars:   []bar{{100, 99, 10}, {99, 98, 10}, {98, 97, 10}, {97, 96, 10}, {96, 95, 10}},
			reason: "close not above day open",
		},
		{
			name:   "close below bisector",
			start:  at(9, 0),
			bars:   []bar{{100, 110, 10}, {110, 120, 10}, {120, 115, 10}, {115, 110, 10}, {110, 103, 10}},
			reason: "close below bisector line",
		},
		{
			name:   "gain too small",
			start:  at(9, 0),
			bars:   []bar{{100, 100.2, 10}, {100.2, 100.4, 10}, {100.4, 100.6, 10}, {100.6, 100.8, 10}, {100.8, 101, 10}},
			reason: "gain above open 1.0% < 2%",
		},
		{
			name:   "gain too large",
			start:  at(9, 0),
			bars:   []bar{{100, 105, 10}, {105, 110, 10}, {110, 115, 10}, {115, 120, 10}, {120, 125, 10}},
			reason: "gain above open 25.0% >= 22%",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Evaluate("000660", generateCandles(tt.start, tt.bars), at(10, 0))
			if d.State != StateAvoidHardFilter || d.SignalType != Avoid {
				t.Fatalf("Expected AVOID_HARD_FILTER, got %s/%s", d.State, d.SignalType)
			}
			if len(d.Reasons) == 0 || d.Reasons[0] != tt.reason {
				t.Errorf("Expected reason %q, got %v", tt.reason, d.Reasons)
			}
			if d.EntryPrice != nil {
				t.Error("Expected no entry price")
			}
		})
	}
}

func TestEvaluate_NoPattern(t *testing.T) {
	g := newTestGate(DefaultConfig())
	d := g.Evaluate("005930", generateCandles(at(9, 0), scenarioBars(5000)), time.Time{})

	if d.State != StateNoPattern {
		t.Fatalf("Expected NO_PATTERN, got %s (%v)", d.State, d.Reasons)
	}
	if d.Reasons[0] != "no 4-stage pattern" {
		t.Errorf("Expected leading reason 'no 4-stage pattern', got %v", d.Reasons)
	}
	if !strings.Contains(strings.Join(d.Reasons, ";"), "exhaustion") {
		t.Errorf("Expected exhaustion detail in reasons, got %v", d.Reasons)
	}
	if d.Features != nil {
		t.Error("Expected no features without a pattern")
	}
}

func TestEvaluate_ConfidenceCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConfidenceCap = 80
	g := newTestGate(cfg)

	d := g.Evaluate("005930", generateCandles(at(9, 0), scenarioBars(600)), time.Time{})
	if d.State != StateAvoidHardFilter {
		t.Fatalf("Expected capped confidence to be blocked, got %s", d.State)
	}
	if d.Reasons[0] != "confidence >= 80 blocked" {
		t.Errorf("Unexpected reason %v", d.Reasons)
	}
}

func TestEvaluate_AfternoonThreshold(t *testing.T) {
	noon := market.KRX().WithSpecialDays(map[string]market.Session{
		"2025-03-04": {OpenHour: 12, CloseHour: 15, CloseMin: 30, BuyCutoffHour: 14, EODHour: 15},
	})
	candles := generateCandles(at(12, 0), scenarioBars(600))

	t.Run("neutral strength", func(t *testing.T) {
		g := newTestGate(DefaultConfig()).WithHours(noon)
		d := g.Evaluate("005930", candles, time.Time{})
		if d.State != StateBelowThreshold {
			t.Fatalf("Expected PATTERN_FOUND_BELOW_THRESHOLD, got %s (%v)", d.State, d.Reasons)
		}
		if d.Threshold != 95 {
			t.Errorf("Expected threshold 95, got %.1f", d.Threshold)
		}
		if d.Features == nil {
			t.Error("Expected features on a below-threshold decision")
		}
		if d.EntryPrice != nil {
			t.Error("Expected no entry price below threshold")
		}
	})

	t.Run("ideal daily chart", func(t *testing.T) {
		g := newTestGate(DefaultConfig()).WithHours(noon).WithStrength(StrengthFunc(
			func(string, time.Time) DailyStrength { return DailyStrength{Strength: 70, Ideal: true} },
		))
		d := g.Evaluate("005930", candles, time.Time{})
		if d.State != StateBuy {
			t.Fatalf("Expected BUY with ideal daily chart, got %s (%v)", d.State, d.Reasons)
		}
		if d.Threshold != 80 {
			t.Errorf("Expected threshold 80, got %.1f", d.Threshold)
		}
	})
}

func TestEvaluate_RecoversPanic(t *testing.T) {
	g := newTestGate(DefaultConfig()).WithStrength(StrengthFunc(
		func(string, time.Time) DailyStrength { panic("daily chart unavailable") },
	))

	d := g.Evaluate("005930", generateCandles(at(9, 0), scenarioBars(600)), at(9, 40))
	if d.State != StateAvoidHardFilter {
		t.Fatalf("Expected AVOID_HARD_FILTER, got %s", d.State)
	}
	if d.Reasons[0] != "error: daily chart unavailable" {
		t.Errorf("Unexpected reason %v", d.Reasons)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	g := newTestGate(DefaultConfig())
	candles := generateCandles(at(9, 0), scenarioBars(600))

	a := g.Evaluate("005930", candles, time.Time{})
	b := g.Evaluate("005930", candles, time.Time{})
	if a.State != b.State || a.Confidence != b.Confidence || *a.EntryPrice != *b.EntryPrice {
		t.Errorf("Expected identical decisions, got %+v and %+v", a, b)
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Expected default config valid, got %v", err)
	}

	bad := DefaultConfig()
	bad.MaxPctAboveOpen = 1
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for inverted pct range")
	}

	bad = DefaultConfig()
	bad.Market = "LSE"
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for unknown market")
	}
}
