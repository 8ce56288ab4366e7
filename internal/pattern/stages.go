package pattern

// Uptrend is the first stage: a rise of at least MinUptrendGain
type Uptrend struct {
	StartIdx  int     `json:"start_idx"`
	EndIdx    int     `json:"end_idx"`
	MaxVolume float64 `json:"max_volume"` // reference volume for every later ratio
	AvgVolume float64 `json:"avg_volume"`
	PriceGain float64 `json:"price_gain"`
	HighPrice float64 `json:"high_price"`

	// MaxVolumeRatioVsAvg compares MaxVolume to the series mean volume
	MaxVolumeRatioVsAvg float64 `json:"max_volume_ratio_vs_avg"`
}

// Candles returns the stage length
func (u *Uptrend) Candles() int {
	return u.EndIdx - u.StartIdx + 1
}

// Decline is the low-volume pullback right after the uptrend
type Decline struct {
	StartIdx        int     `json:"start_idx"`
	EndIdx          int     `json:"end_idx"`
	DeclinePct      float64 `json:"decline_pct"`
	MaxDeclinePrice float64 `json:"max_decline_price"`
	AvgVolumeRatio  float64 `json:"avg_volume_ratio"`
	CandleCount     int     `json:"candle_count"`
}

// Support is the tight consolidation after the decline
type Support struct {
	StartIdx        int     `json:"start_idx"`
	EndIdx          int     `json:"end_idx"`
	SupportPrice    float64 `json:"support_price"`
	PriceVolatility float64 `json:"price_volatility"`
	AvgVolumeRatio  float64 `json:"avg_volume_ratio"`
	CandleCount     int     `json:"candle_count"`
}

// Breakout is the final candle
type Breakout struct {
	Idx                   int     `json:"idx"`
	BodySize              float64 `json:"body_size"`
	Volume                float64 `json:"volume"`
	VolumeRatioVsPrev     float64 `json:"volume_ratio_vs_prev"`
	BodyIncreaseVsSupport float64 `json:"body_increase_vs_support"`
}

// Result is the outcome of one pattern search. Indices are relative to
// the searched window; add Offset to map them onto the input series.
type Result struct {
	HasPattern bool      `json:"has_pattern"`
	Uptrend    *Uptrend  `json:"uptrend,omitempty"`
	Decline    *Decline  `json:"decline,omitempty"`
	Support    *Support  `json:"support,omitempty"`
	Breakout   *Breakout `json:"breakout,omitempty"`
	EntryPrice float64   `json:"entry_price,omitempty"`
	Confidence float64   `json:"confidence"`
	Reasons    []string  `json:"reasons"`
	Offset     int       `json:"offset"`
	Sequential bool      `json:"sequential,omitempty"`
	Debug      *Debug    `json:"debug,omitempty"`
}

func rejected(reason string) *Result {
	return &Result{Reasons: []string{reason}}
}
