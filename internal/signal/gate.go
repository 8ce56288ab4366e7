// Package signal turns pattern search results into trade decisions.
//
// The gate applies hard filters on the session (canonical open, price
// above day open and bisector, bounded gain), runs the four-stage search,
// caps over-fitted confidence and compares the rest against a time-of-day
// threshold.
package signal

import (
	"fmt"
	"time"

	"pullback/internal/feature"
	"pullback/internal/market"
	"pullback/internal/pattern"
	"pullback/pkg/model"
)

// Config holds gate thresholds
type Config struct {
	MinPctAboveOpen     float64 `yaml:"min_pct_above_open"`
	MaxPctAboveOpen     float64 `yaml:"max_pct_above_open"`
	ConfidenceCap       float64 `yaml:"confidence_cap"`
	StrongBuyConfidence float64 `yaml:"strong_buy_confidence"`
	TargetProfit        float64 `yaml:"target_profit"` // percent
	Market              string  `yaml:"market"`
	Sequential          bool    `yaml:"sequential"` // use the fast center-time path
}

// DefaultConfig returns the production gate thresholds
func DefaultConfig() Config {
	return Config{
		MinPctAboveOpen:     2.0,
		MaxPctAboveOpen:     22.0,
		ConfidenceCap:       95.0,
		StrongBuyConfidence: 80.0,
		TargetProfit:        3.0,
		Market:              "KRX",
	}
}

// Validate checks the gate thresholds
func (c Config) Validate() error {
	if c.MinPctAboveOpen < 0 || c.MaxPctAboveOpen <= c.MinPctAboveOpen {
		return fmt.Errorf("invalid pct-above-open range [%.1f, %.1f)", c.MinPctAboveOpen, c.MaxPctAboveOpen)
	}
	if c.ConfidenceCap <= 0 || c.ConfidenceCap > 100 {
		return fmt.Errorf("confidence cap must be in (0, 100], got %.1f", c.ConfidenceCap)
	}
	if c.TargetProfit <= 0 {
		return fmt.Errorf("target profit must be positive, got %.2f", c.TargetProfit)
	}
	if _, err := market.Get(c.Market); err != nil {
		return err
	}
	return nil
}

// StrengthSource provides the daily-chart strength of a symbol
type StrengthSource interface {
	DailyStrength(symbol string, date time.Time) DailyStrength
}

// StrengthFunc adapts a function to StrengthSource
type StrengthFunc func(symbol string, date time.Time) DailyStrength

// DailyStrength implements StrengthSource
func (f StrengthFunc) DailyStrength(symbol string, date time.Time) DailyStrength {
	return f(symbol, date)
}

// Gate evaluates one symbol-session at a time. It is safe for
// concurrent use.
type Gate struct {
	cfg       Config
	analyzer  *pattern.Analyzer
	extractor *feature.Extractor
	hours     *market.Hours
	strength  StrengthSource
}

// NewGate creates a gate. An unknown market falls back to KRX.
func NewGate(cfg Config, analyzer *pattern.Analyzer, extractor *feature.Extractor) *Gate {
	if analyzer == nil {
		analyzer = pattern.NewAnalyzer(pattern.DefaultConfig())
	}
	if extractor == nil {
		extractor = feature.NewExtractor()
	}
	hours, err := market.Get(cfg.Market)
	if err != nil {
		hours = market.KRX()
	}
	return &Gate{
		cfg:       cfg,
		analyzer:  analyzer,
		extractor: extractor,
		hours:     hours,
	}
}

// WithHours overrides the market calendar
func (g *Gate) WithHours(h *market.Hours) *Gate {
	if h != nil {
		g.hours = h
	}
	return g
}

// WithStrength sets the daily strength source
func (g *Gate) WithStrength(src StrengthSource) *Gate {
	g.strength = src
	return g
}

// Config returns the gate thresholds
func (g *Gate) Config() Config {
	return g.cfg
}

// Hours returns the market calendar in use
func (g *Gate) Hours() *market.Hours {
	return g.hours
}

// Analyzer returns the pattern analyzer
func (g *Gate) Analyzer() *pattern.Analyzer {
	return g.analyzer
}

// Evaluate decides on the latest candle of a session. candles must be
// one session in ascending time order starting at the open. now is only
// used when the last candle carries no timestamp.
func (g *Gate) Evaluate(symbol string, candles []model.Candle, now time.Time) (d *Decision) {
	defer func() {
		if r := recover(); r != nil {
			d = avoid(symbol, now, fmt.Sprintf("error: %v", r))
		}
	}()

	if len(candles) < pattern.MinCandles {
		return avoid(symbol, now, "insufficient data")
	}

	first, last := candles[0], candles[len(candles)-1]
	ts := last.Time
	if ts.IsZero() {
		ts = now
	}

	open := g.hours.OpenTime(first.Time)
	if ft := first.Time.In(g.hours.Location()); ft.Hour() != open.Hour() || ft.Minute() != open.Minute() {
		return avoid(symbol, ts, fmt.Sprintf("%s open missing", open.Format("15:04")))
	}

	dayOpen := first.Open
	line := BisectorLine(candles)
	bisector := line[len(line)-1]

	base := func(state State, sig SignalType, reasons ...string) *Decision {
		return &Decision{
			Symbol:         symbol,
			Time:           ts,
			State:          state,
			SignalType:     sig,
			Reasons:        reasons,
			DayOpen:        dayOpen,
			Bisector:       bisector,
			BisectorStatus: ClassifyBisector(last.Close, bisector),
			VolumeRatio:    volumeVsDayMax(candles),
		}
	}

	if dayOpen <= 0 || last.Close <= dayOpen {
		return base(StateAvoidHardFilter, Avoid, "close not above day open")
	}
	if last.Close < bisector {
		return base(StateAvoidHardFilter, Avoid, "close below bisector line")
	}

	pct := (last.Close - dayOpen) / dayOpen * 100
	if pct < g.cfg.MinPctAboveOpen {
		d := base(StateAvoidHardFilter, Avoid, fmt.Sprintf("gain above open %.1f%% < %.0f%%", pct, g.cfg.MinPctAboveOpen))
		d.PctAboveOpen = pct
		return d
	}
	if pct >= g.cfg.MaxPctAboveOpen {
		d := base(StateAvoidHardFilter, Avoid, fmt.Sprintf("gain above open %.1f%% >= %.0f%%", pct, g.cfg.MaxPctAboveOpen))
		d.PctAboveOpen = pct
		return d
	}

	series := pattern.NewSeries(candles)
	var res *pattern.Result
	if g.cfg.Sequential {
		res = g.analyzer.AnalyzeSequential(series)
	} else {
		res = g.analyzer.Analyze(series)
	}

	strength := NeutralStrength
	if g.strength != nil {
		strength = g.strength.DailyStrength(symbol, ts)
	}
	threshold := Threshold(ts.In(g.hours.Location()).Hour(), strength)

	if !res.HasPattern {
		d := base(StateNoPattern, Avoid, append([]string{"no 4-stage pattern"}, res.Reasons...)...)
		d.Pattern = res
		d.PctAboveOpen = pct
		d.Strength = strength
		d.Threshold = threshold
		return d
	}

	if res.Confidence >= g.cfg.ConfidenceCap {
		d := base(StateAvoidHardFilter, Avoid, fmt.Sprintf("confidence >= %.0f blocked", g.cfg.ConfidenceCap))
		d.Confidence = res.Confidence
		d.Pattern = res
		d.PctAboveOpen = pct
		d.Strength = strength
		return d
	}

	if res.Confidence < threshold {
		reasons := append(append([]string{}, res.Reasons...),
			fmt.Sprintf("confidence %.1f < threshold %.0f", res.Confidence, threshold))
		d := base(StateBelowThreshold, Avoid, reasons...)
		d.Confidence = res.Confidence
		d.Threshold = threshold
		d.Pattern = res
		d.PctAboveOpen = pct
		d.Strength = strength
		vec := g.extractor.Extract(res, ts, string(Avoid))
		d.Features = &vec
		return d
	}

	sig := CautiousBuy
	if res.Confidence >= g.cfg.StrongBuyConfidence {
		sig = StrongBuy
	}
	d = base(StateBuy, sig, res.Reasons...)
	entry := res.EntryPrice
	d.EntryPrice = &entry
	d.Confidence = res.Confidence
	d.Threshold = threshold
	d.TargetProfit = g.cfg.TargetProfit
	d.Pattern = res
	d.PctAboveOpen = pct
	d.Strength = strength
	vec := g.extractor.Extract(res, ts, string(sig))
	d.Features = &vec
	return d
}

// volumeVsDayMax is the last volume relative to the session's largest
func volumeVsDayMax(candles []model.Candle) float64 {
	var peak int64
	for _, c := range candles {
		if c.Volume > peak {
			peak = c.Volume
		}
	}
	if peak == 0 {
		return 0
	}
	return float64(candles[len(candles)-1].Volume) / float64(peak)
}
