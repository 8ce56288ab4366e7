package position

import (
	"math"
)

// TradeGuide provides actionable trading guidance for one signal
type TradeGuide struct {
	// Entry
	EntryPrice float64 `json:"entry_price"`
	EntryType  string  `json:"entry_type"` // "limit" at the pattern entry

	// Exit points
	StopLoss    float64 `json:"stop_loss"`
	StopLossPct float64 `json:"stop_loss_pct"`
	Target      float64 `json:"target"`
	TargetPct   float64 `json:"target_pct"`

	// Position sizing
	RiskRewardRatio float64 `json:"risk_reward_ratio"`
	PositionSize    int     `json:"position_size"` // shares
	InvestAmount    float64 `json:"invest_amount"` // KRW
	RiskAmount      float64 `json:"risk_amount"`   // max loss if stop hit, costs included

	// Kelly criterion
	KellyFraction float64 `json:"kelly_fraction"`
	KellyAdjusted float64 `json:"kelly_adjusted"` // half-Kelly

	// Risk metrics
	MaxLossPct   float64 `json:"max_loss_pct"`  // % of account at risk
	BreakevenPct float64 `json:"breakeven_pct"` // win rate needed to break even
}

// PositionSizer calculates position sizes for KRX day trades
type PositionSizer struct {
	AccountBalance float64 // KRW
	RiskPerTrade   float64 // max risk per trade (0.01 = 1%)
	MaxPositionPct float64 // cap on one position (0.2 = 20%)
	Commission     float64 // per side (0.00015 = 0.015%)
	Slippage       float64 // per side
	TaxRate        float64 // sell-side transaction tax
}

// NewPositionSizer creates a new position sizer with defaults
func NewPositionSizer(accountBalance float64) *PositionSizer {
	return &PositionSizer{
		AccountBalance: accountBalance,
		RiskPerTrade:   0.01,
		MaxPositionPct: 0.2,
		Commission:     0.00015,
		Slippage:       0.001,
		TaxRate:        0.0018,
	}
}

// CalculateGuide builds the guide for a long entry with fixed stop and
// target prices. winRate is the expected probability of reaching the
// target first (0-1). Returns nil when the stop is not below the entry.
func (p *PositionSizer) CalculateGuide(entryPrice, stopLossPrice, targetPrice, winRate float64) *TradeGuide {
	riskPerShare := entryPrice - stopLossPrice
	if entryPrice <= 0 || riskPerShare <= 0 {
		return nil
	}

	guide := &TradeGuide{
		EntryPrice:  entryPrice,
		EntryType:   "limit",
		StopLoss:    stopLossPrice,
		StopLossPct: riskPerShare / entryPrice * 100,
		Target:      targetPrice,
		TargetPct:   (targetPrice - entryPrice) / entryPrice * 100,
	}

	reward := targetPrice - entryPrice
	if reward > 0 {
		guide.RiskRewardRatio = reward / riskPerShare
	}

	// 고정 위험 기준 수량, 종목당 비중 상한 적용
	size := int(p.AccountBalance * p.RiskPerTrade / riskPerShare)
	if p.MaxPositionPct > 0 {
		if capped := int(p.AccountBalance * p.MaxPositionPct / entryPrice); capped < size {
			size = capped
		}
	}
	guide.PositionSize = size
	guide.InvestAmount = float64(size) * entryPrice
	guide.RiskAmount = float64(size)*riskPerShare + p.calculateTotalCosts(guide.InvestAmount)

	if winRate > 0 && winRate < 1 && guide.RiskRewardRatio > 0 {
		guide.KellyFraction = CalculateKelly(winRate, guide.RiskRewardRatio, 1)
		guide.KellyAdjusted = guide.KellyFraction * 0.5
	}

	if p.AccountBalance > 0 {
		guide.MaxLossPct = guide.RiskAmount / p.AccountBalance * 100
	}
	if guide.RiskRewardRatio > 0 {
		guide.BreakevenPct = 1 / (1 + guide.RiskRewardRatio) * 100
	}

	return guide
}

// calculateTotalCosts estimates round-trip trading costs
func (p *PositionSizer) calculateTotalCosts(investAmount float64) float64 {
	commission := investAmount * p.Commission * 2
	slippage := investAmount * p.Slippage * 2
	tax := investAmount * p.TaxRate

	return commission + slippage + tax
}

// CalculateKelly calculates the Kelly fraction for given parameters
func CalculateKelly(winRate, avgWin, avgLoss float64) float64 {
	if avgLoss == 0 || avgWin == 0 {
		return 0
	}

	// Kelly = (W * B - L) / B
	b := avgWin / avgLoss
	kelly := (winRate*b - (1 - winRate)) / b

	return math.Max(0, math.Min(kelly, 1))
}

// TickSize KRX 호가 단위 (2023년 개편 기준)
func TickSize(price float64) float64 {
	switch {
	case price < 2000:
		return 1
	case price < 5000:
		return 5
	case price < 20000:
		return 10
	case price < 50000:
		return 50
	case price < 200000:
		return 100
	case price < 500000:
		return 500
	default:
		return 1000
	}
}

// RoundToTick 호가 단위로 내림
func RoundToTick(price float64) float64 {
	tick := TickSize(price)
	return math.Floor(price/tick+1e-9) * tick
}

// RiskAssessment provides risk level assessment
type RiskAssessment struct {
	Level       string // "LOW", "MEDIUM", "HIGH", "EXTREME"
	Score       int    // 0-100
	Description string
}

// AssessRisk evaluates the risk level of a trade
func AssessRisk(guide *TradeGuide, winRate float64) *RiskAssessment {
	score := 0

	// Stop distance
	switch {
	case guide.StopLossPct < 1.0:
		score += 30
	case guide.StopLossPct < 2.0:
		score += 20
	case guide.StopLossPct < 3.0:
		score += 10
	}

	// Win rate vs breakeven
	if winRate < guide.BreakevenPct/100 {
		score += 40
	} else if winRate < guide.BreakevenPct/100+0.1 {
		score += 20
	}

	// Account risk
	if guide.MaxLossPct > 2.0 {
		score += 30
	} else if guide.MaxLossPct > 1.0 {
		score += 15
	}

	assessment := &RiskAssessment{Score: score}

	switch {
	case score >= 70:
		assessment.Level = "EXTREME"
		assessment.Description = "Very high risk - consider skipping this trade"
	case score >= 50:
		assessment.Level = "HIGH"
		assessment.Description = "Elevated risk - reduce position size"
	case score >= 30:
		assessment.Level = "MEDIUM"
		assessment.Description = "Moderate risk - proceed with caution"
	default:
		assessment.Level = "LOW"
		assessment.Description = "Acceptable risk - trade within plan"
	}

	return assessment
}
