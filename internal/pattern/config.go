package pattern

import "fmt"

// Config holds the thresholds of the four-stage support pattern.
// Defaults were tuned against 3-minute KRX bars.
type Config struct {
	// Uptrend
	MinUptrendGain   float64 `yaml:"min_uptrend_gain"`   // fraction, close[end]/close[start]-1
	UptrendPeakRatio float64 `yaml:"uptrend_peak_ratio"` // close[end] >= max high * ratio

	// Decline
	MinDeclinePct         float64 `yaml:"min_decline_pct"`
	DeclineMaxVolumeRatio float64 `yaml:"decline_max_volume_ratio"` // any candle above -> reject

	// Support
	SupportMaxVolumeRatio      float64 `yaml:"support_max_volume_ratio"`      // any candle above -> reject
	SupportModerateVolumeRatio float64 `yaml:"support_moderate_volume_ratio"` // two or more candles above -> reject
	SupportMinDistanceFromHigh float64 `yaml:"support_min_distance_from_high"`
	SupportMaxVolatility       float64 `yaml:"support_max_volatility"`

	// Breakout
	MinBodyIncrease        float64 `yaml:"min_body_increase"`
	BreakoutBodyMultiple   float64 `yaml:"breakout_body_multiple"`    // vs previous body
	BreakoutMaxVolumeRatio float64 `yaml:"breakout_max_volume_ratio"` // vs reference volume
	EntryBodyRatio         float64 `yaml:"entry_body_ratio"`

	// Search
	MaxSearchWindow     int     `yaml:"max_search_window"`
	UptrendStartWindow  int     `yaml:"uptrend_start_window"`
	MaxStageLength      int     `yaml:"max_stage_length"`
	SequentialWindow    int     `yaml:"sequential_window"`
	EarlyExitConfidence float64 `yaml:"early_exit_confidence"`
}

// DefaultConfig returns the thresholds used in live trading
func DefaultConfig() Config {
	return Config{
		MinUptrendGain:   0.03,
		UptrendPeakRatio: 0.8,

		MinDeclinePct:         0.005,
		DeclineMaxVolumeRatio: 0.6,

		SupportMaxVolumeRatio:      0.5,
		SupportModerateVolumeRatio: 0.3,
		SupportMinDistanceFromHigh: 0.01,
		SupportMaxVolatility:       0.015,

		MinBodyIncrease:        0.10,
		BreakoutBodyMultiple:   5.0 / 3.0,
		BreakoutMaxVolumeRatio: 0.5,
		EntryBodyRatio:         0.8,

		MaxSearchWindow:     35,
		UptrendStartWindow:  25,
		MaxStageLength:      15,
		SequentialWindow:    20,
		EarlyExitConfidence: 75.0,
	}
}

// Validate checks that the search limits can hold a full pattern
func (c Config) Validate() error {
	if c.MaxSearchWindow < MinCandles {
		return fmt.Errorf("max_search_window must be at least %d", MinCandles)
	}
	if c.SequentialWindow < MinCandles {
		return fmt.Errorf("sequential_window must be at least %d", MinCandles)
	}
	if c.MaxStageLength < 2 {
		return fmt.Errorf("max_stage_length must be at least 2")
	}
	if c.UptrendStartWindow < 1 {
		return fmt.Errorf("uptrend_start_window must be at least 1")
	}
	if c.EntryBodyRatio < 0 || c.EntryBodyRatio > 1 {
		return fmt.Errorf("entry_body_ratio must be within [0, 1]")
	}
	return nil
}
