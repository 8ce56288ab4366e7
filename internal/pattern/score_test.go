package pattern

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestScore_Bands(t *testing.T) {
	base := func() (*Uptrend, *Decline, *Support, *Breakout) {
		// every input outside all bonus bands
		return &Uptrend{PriceGain: 0.10},
			&Decline{DeclinePct: 0.005, AvgVolumeRatio: 0.5},
			&Support{AvgVolumeRatio: 0.45, PriceVolatility: 0},
			&Breakout{BodyIncreaseVsSupport: 2, VolumeRatioVsPrev: 1}
	}

	tests := []struct {
		name   string
		mutate func(*Uptrend, *Decline, *Support, *Breakout)
		want   float64
	}{
		{"no bonus", func(*Uptrend, *Decline, *Support, *Breakout) {}, 80},
		{"gain 3%", func(u *Uptrend, _ *Decline, _ *Support, _ *Breakout) { u.PriceGain = 0.03 }, 85},
		{"gain 5%", func(u *Uptrend, _ *Decline, _ *Support, _ *Breakout) { u.PriceGain = 0.05 }, 85},
		{"gain 6%", func(u *Uptrend, _ *Decline, _ *Support, _ *Breakout) { u.PriceGain = 0.06 }, 83},
		{"gain 2.5%", func(u *Uptrend, _ *Decline, _ *Support, _ *Breakout) { u.PriceGain = 0.025 }, 82},
		{"decline 2%", func(_ *Uptrend, d *Decline, _ *Support, _ *Breakout) { d.DeclinePct = 0.02 }, 85},
		{"decline 3.5%", func(_ *Uptrend, d *Decline, _ *Support, _ *Breakout) { d.DeclinePct = 0.035 }, 83},
		{"decline 1.2%", func(_ *Uptrend, d *Decline, _ *Support, _ *Breakout) { d.DeclinePct = 0.012 }, 82},
		{"decline volume 0.2", func(_ *Uptrend, d *Decline, _ *Support, _ *Breakout) { d.AvgVolumeRatio = 0.2 }, 82},
		{"decline volume 0.3", func(_ *Uptrend, d *Decline, _ *Support, _ *Breakout) { d.AvgVolumeRatio = 0.3 }, 81},
		{"support volume 0.2", func(_ *Uptrend, _ *Decline, s *Support, _ *Breakout) { s.AvgVolumeRatio = 0.2 }, 83},
		{"support volume 0.3", func(_ *Uptrend, _ *Decline, s *Support, _ *Breakout) { s.AvgVolumeRatio = 0.3 }, 82},
		{"support volume 0.1", func(_ *Uptrend, _ *Decline, s *Support, _ *Breakout) { s.AvgVolumeRatio = 0.1 }, 81},
		{"volatility 1%", func(_ *Uptrend, _ *Decline, s *Support, _ *Breakout) { s.PriceVolatility = 0.01 }, 82},
		{"volatility 0.4%", func(_ *Uptrend, _ *Decline, s *Support, _ *Breakout) { s.PriceVolatility = 0.004 }, 81},
		{"body 0.5", func(_ *Uptrend, _ *Decline, _ *Support, b *Breakout) { b.BodyIncreaseVsSupport = 0.5 }, 83},
		{"body 0.7", func(_ *Uptrend, _ *Decline, _ *Support, b *Breakout) { b.BodyIncreaseVsSupport = 0.7 }, 82},
		{"body 0.25", func(_ *Uptrend, _ *Decline, _ *Support, b *Breakout) { b.BodyIncreaseVsSupport = 0.25 }, 81},
		{"volume prev 0.2", func(_ *Uptrend, _ *Decline, _ *Support, b *Breakout) { b.VolumeRatioVsPrev = 0.2 }, 82},
		{"volume prev 0.4", func(_ *Uptrend, _ *Decline, _ *Support, b *Breakout) { b.VolumeRatioVsPrev = 0.4 }, 81},
		{"everything best", func(u *Uptrend, d *Decline, s *Support, b *Breakout) {
			u.PriceGain, d.DeclinePct, d.AvgVolumeRatio = 0.04, 0.02, 0.1
			s.AvgVolumeRatio, s.PriceVolatility = 0.2, 0.01
			b.BodyIncreaseVsSupport, b.VolumeRatioVsPrev = 0.5, 0.2
		}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, d, s, b := base()
			tt.mutate(u, d, s, b)
			if got := Score(u, d, s, b); got != tt.want {
				t.Errorf("Expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestScore_NilStage(t *testing.T) {
	if got := Score(nil, &Decline{}, &Support{}, &Breakout{}); got != 0 {
		t.Errorf("Expected 0 for a missing stage, got %f", got)
	}
}

// Property: for any stage descriptors, confidence stays within [0, 100]
// and never drops below the base score.
func TestProperty_ConfidenceBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("confidence is clamped to [80, 100]", prop.ForAll(
		func(gain, decline, declineVol, supportVol, volatility, body, volPrev float64) bool {
			c := Score(
				&Uptrend{PriceGain: gain},
				&Decline{DeclinePct: decline, AvgVolumeRatio: declineVol},
				&Support{AvgVolumeRatio: supportVol, PriceVolatility: volatility},
				&Breakout{BodyIncreaseVsSupport: body, VolumeRatioVsPrev: volPrev},
			)
			return c >= BaseConfidence && c <= 100
		},
		gen.Float64Range(0, 0.2),
		gen.Float64Range(0, 0.1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 0.03),
		gen.Float64Range(-1, 3),
		gen.Float64Range(-1, 3),
	))

	properties.Property("band edges score like their interior", prop.ForAll(
		func(edge float64) bool {
			c := Score(
				&Uptrend{PriceGain: edge},
				&Decline{DeclinePct: 0.005, AvgVolumeRatio: 0.5},
				&Support{AvgVolumeRatio: 0.45},
				&Breakout{BodyIncreaseVsSupport: 2, VolumeRatioVsPrev: 1},
			)
			return c == 85
		},
		gen.OneConstOf(0.03, 0.04, 0.05),
	))

	properties.TestingRun(t)
}
