package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"pullback/internal/position"
	"pullback/internal/provider"
	"pullback/internal/signal"
	"pullback/pkg/model"
)

// PatternConfig holds trade-guide settings for the pattern strategy
type PatternConfig struct {
	Interval       int     // minutes per bar
	TakeProfit     float64 // percent
	StopLoss       float64 // percent
	AccountBalance float64 // KRW, for position sizing
	WinRate        float64 // assumed win rate for Kelly sizing (0-1)
}

// DefaultPatternConfig returns 3-minute bars with +3% / -2.5% exits
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		Interval:       3,
		TakeProfit:     3.0,
		StopLoss:       2.5,
		AccountBalance: 10_000_000,
		WinRate:        0.5,
	}
}

// PatternStrategy signals the four-stage intraday support pattern:
// 1. Uptrend off the open
// 2. Low-volume decline
// 3. Support holding in a tight range
// 4. Breakout on rising volume
type PatternStrategy struct {
	name     string
	config   PatternConfig
	gate     *signal.Gate
	provider provider.Provider
	sizer    *position.PositionSizer
}

// NewPatternStrategy creates a new pattern strategy
func NewPatternStrategy(name string, cfg PatternConfig, gate *signal.Gate, p provider.Provider) *PatternStrategy {
	if cfg.Interval < 1 {
		cfg.Interval = 3
	}
	return &PatternStrategy{
		name:     name,
		config:   cfg,
		gate:     gate,
		provider: p,
		sizer:    position.NewPositionSizer(cfg.AccountBalance),
	}
}

// Name returns the strategy name
func (s *PatternStrategy) Name() string {
	return s.name
}

// Description returns the strategy description
func (s *PatternStrategy) Description() string {
	mode := "parallel"
	if s.gate.Config().Sequential {
		mode = "sequential"
	}
	return fmt.Sprintf("Intraday support pattern - uptrend, quiet decline, support, breakout (%s search)", mode)
}

// Analyze fetches the session of date and evaluates its latest bar
func (s *PatternStrategy) Analyze(ctx context.Context, stock model.Stock, date time.Time) (*Signal, error) {
	if s.provider == nil {
		return nil, fmt.Errorf("strategy %s: no provider", s.name)
	}
	data, err := s.provider.GetMinuteCandles(ctx, stock.Symbol, date, s.config.Interval)
	if err != nil {
		return nil, err
	}
	return s.AnalyzeCandles(stock, data.Candles), nil
}

// AnalyzeCandles returns a signal when the gate says BUY on the last
// candle, nil otherwise
func (s *PatternStrategy) AnalyzeCandles(stock model.Stock, candles []model.Candle) *Signal {
	d := s.gate.Evaluate(stock.Symbol, candles, time.Now())
	if !d.IsBuy() {
		return nil
	}

	sig := &Signal{
		Stock:      stock,
		Type:       SignalBuy,
		Grade:      d.SignalType,
		Strategy:   s.name,
		Time:       d.Time,
		Strength:   d.Confidence,
		Reason:     strings.Join(d.Reasons, "; "),
		Indicators: CalculateIndicators(candles),
		Decision:   d,
	}
	if d.Features != nil {
		sig.Details = d.Features.Map()
	}

	if d.EntryPrice != nil {
		entry := *d.EntryPrice
		stop := position.RoundToTick(entry * (1 - s.config.StopLoss/100))
		target := position.RoundToTick(entry * (1 + s.config.TakeProfit/100))
		sig.Guide = s.sizer.CalculateGuide(entry, stop, target, s.config.WinRate)
	}
	return sig
}
