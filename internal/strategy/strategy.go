package strategy

import (
	"context"
	"time"

	"pullback/internal/position"
	"pullback/internal/signal"
	"pullback/pkg/model"
)

// SignalType represents the type of trading signal
type SignalType string

const (
	SignalBuy  SignalType = "BUY"
	SignalSell SignalType = "SELL"
	SignalHold SignalType = "HOLD"
)

// Signal represents a trading signal from a strategy
type Signal struct {
	Stock      model.Stock          `json:"stock"`
	Type       SignalType           `json:"type"`
	Grade      signal.SignalType    `json:"grade"` // STRONG_BUY or CAUTIOUS_BUY
	Strategy   string               `json:"strategy"`
	Time       time.Time            `json:"time"`
	Strength   float64              `json:"strength"` // pattern confidence 0-100
	Reason     string               `json:"reason"`   // Human readable reason
	Details    map[string]float64   `json:"details"`  // feature vector by name
	Indicators *Indicators          `json:"indicators,omitempty"`
	Guide      *position.TradeGuide `json:"guide,omitempty"`
	Decision   *signal.Decision     `json:"-"`
}

// Strategy defines the interface for trading strategies
type Strategy interface {
	// Name returns the strategy name
	Name() string

	// Description returns a brief description
	Description() string

	// Analyze analyzes the session of date for a stock and returns a
	// signal if conditions are met
	Analyze(ctx context.Context, stock model.Stock, date time.Time) (*Signal, error)
}

// ScanResult represents results from scanning with a strategy
type ScanResult struct {
	Strategy     string   `json:"strategy"`
	TotalScanned int      `json:"total_scanned"`
	SignalsFound int      `json:"signals_found"`
	Signals      []Signal `json:"signals"`
	ScanTime     string   `json:"scan_time"`
}
