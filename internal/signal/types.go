package signal

import (
	"time"

	"pullback/internal/feature"
	"pullback/internal/pattern"
)

// State is the outcome class of one gate evaluation
type State string

const (
	StateNoPattern       State = "NO_PATTERN"
	StateBelowThreshold  State = "PATTERN_FOUND_BELOW_THRESHOLD"
	StateBuy             State = "BUY"
	StateAvoidHardFilter State = "AVOID_HARD_FILTER"
)

// SignalType grades a buy
type SignalType string

const (
	StrongBuy   SignalType = "STRONG_BUY"
	CautiousBuy SignalType = "CAUTIOUS_BUY"
	Avoid       SignalType = "AVOID"
)

// BisectorStatus positions the close against the bisector line
type BisectorStatus string

const (
	BisectorHolding     BisectorStatus = "HOLDING"
	BisectorNearSupport BisectorStatus = "NEAR_SUPPORT"
	BisectorBroken      BisectorStatus = "BROKEN"
)

// DailyStrength summarizes the daily chart of the symbol
type DailyStrength struct {
	Strength float64 `json:"strength"` // 0-100
	Ideal    bool    `json:"ideal"`
}

// NeutralStrength is used when no daily analysis is available
var NeutralStrength = DailyStrength{Strength: 50}

// Decision is the gate verdict for the latest candle of one session
type Decision struct {
	Symbol         string          `json:"symbol"`
	Time           time.Time       `json:"time"`
	State          State           `json:"state"`
	SignalType     SignalType      `json:"signal_type"`
	Confidence     float64         `json:"confidence"`
	Threshold      float64         `json:"threshold,omitempty"`
	EntryPrice     *float64        `json:"entry_price,omitempty"`
	TargetProfit   float64         `json:"target_profit,omitempty"`
	Reasons        []string        `json:"reasons"`
	DayOpen        float64         `json:"day_open,omitempty"`
	PctAboveOpen   float64         `json:"pct_above_open,omitempty"`
	Bisector       float64         `json:"bisector,omitempty"`
	BisectorStatus BisectorStatus  `json:"bisector_status"`
	VolumeRatio    float64         `json:"volume_ratio"`
	Strength       DailyStrength   `json:"daily_strength"`
	Pattern        *pattern.Result `json:"pattern,omitempty"`
	Features       *feature.Vector `json:"features,omitempty"`
}

// IsBuy reports whether the decision is a buy signal
func (d *Decision) IsBuy() bool {
	return d != nil && d.State == StateBuy
}

func avoid(symbol string, ts time.Time, reason string) *Decision {
	return &Decision{
		Symbol:         symbol,
		Time:           ts,
		State:          StateAvoidHardFilter,
		SignalType:     Avoid,
		Reasons:        []string{reason},
		BisectorStatus: BisectorBroken,
	}
}
