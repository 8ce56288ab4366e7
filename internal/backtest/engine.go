package backtest

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "pullback/internal/errors"
	"pullback/internal/pattern"
	"pullback/internal/provider"
	"pullback/internal/signal"
	"pullback/pkg/model"
)

// Exit reasons besides the risk kinds
const (
	ExitTarget = "target"
	ExitStop   = "stop"
	ExitEOD    = "eod"
)

// Trade represents a single completed trade
type Trade struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	SignalTime time.Time `json:"signal_time"`
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	StopLoss   float64   `json:"stop_loss"`
	Target     float64   `json:"target"`
	Confidence float64   `json:"confidence"`
	SignalType string    `json:"signal_type"`
	Shares     int       `json:"shares"`
	PnL        float64   `json:"pnl"`        // Profit/Loss in won
	PnLPct     float64   `json:"pnl_pct"`    // Profit/Loss percentage of the position
	RMultiple  float64   `json:"r_multiple"` // Return in R (stop distance units)
	IsWin      bool      `json:"is_win"`
	ExitReason string    `json:"exit_reason"` // target, stop, eod or a risk kind
}

// HourStats groups trades by signal hour
type HourStats struct {
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	WinRate float64 `json:"win_rate"`
	AvgPct  float64 `json:"avg_pct"`
}

// BacktestResult contains the complete backtest results
type BacktestResult struct {
	// Summary
	Strategy      string  `json:"strategy"`
	Period        string  `json:"period"`
	Sessions      int     `json:"sessions"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"`

	// Returns
	TotalReturn    float64 `json:"total_return"`
	TotalReturnPct float64 `json:"total_return_pct"`
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
	AvgWinPct      float64 `json:"avg_win_pct"`
	AvgLossPct     float64 `json:"avg_loss_pct"`
	LargestWin     float64 `json:"largest_win"`
	LargestLoss    float64 `json:"largest_loss"`

	// Risk metrics
	RiskRewardRatio float64 `json:"risk_reward_ratio"`
	Expectancy      float64 `json:"expectancy"`    // Expected won per trade
	ExpectancyR     float64 `json:"expectancy_r"`  // Expected R per trade
	ProfitFactor    float64 `json:"profit_factor"` // Gross profit / Gross loss
	MaxDrawdown     float64 `json:"max_drawdown"`  // Maximum drawdown %
	SharpeRatio     float64 `json:"sharpe_ratio"`

	// Kelly
	KellyOptimal float64 `json:"kelly_optimal"`
	KellyHalf    float64 `json:"kelly_half"`

	// Streaks
	MaxWinStreak  int `json:"max_win_streak"`
	MaxLoseStreak int `json:"max_lose_streak"`

	// Time of day
	Hourly         map[int]*HourStats `json:"hourly"`
	MorningWinRate float64            `json:"morning_win_rate"` // signals before noon

	Trades      []Trade   `json:"trades"`
	EquityCurve []float64 `json:"equity_curve"`
}

// BacktestConfig holds backtest parameters
type BacktestConfig struct {
	InitialCapital float64
	PositionPct    float64 // percent of capital per trade
	TakeProfit     float64 // percent
	StopLoss       float64 // percent, positive
	RiskExits      bool    // also exit on detected risks
	Risk           signal.RiskConfig
	Commission     float64 // per side commission rate
	Slippage       float64 // applied against every fill
	Interval       int     // minutes per bar
}

// DefaultBacktestConfig returns default configuration
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		InitialCapital: 10000000, // 1000만원
		PositionPct:    20,
		TakeProfit:     3.0,
		StopLoss:       2.5,
		RiskExits:      true,
		Risk:           signal.DefaultRiskConfig(),
		Commission:     0.00015, // 0.015%
		Interval:       3,
	}
}

// ProgressCallback reports loaded sessions
type ProgressCallback func(done, total int, symbol string)

// Backtester replays sessions bar by bar through the gate
type Backtester struct {
	config   BacktestConfig
	gate     *signal.Gate
	provider provider.Provider
	log      zerolog.Logger
}

// NewBacktester creates a new backtester. p may be nil when only
// RunCandles is used.
func NewBacktester(cfg BacktestConfig, gate *signal.Gate, p provider.Provider, log zerolog.Logger) *Backtester {
	if cfg.Interval < 1 {
		cfg.Interval = 3
	}
	return &Backtester{
		config:   cfg,
		gate:     gate,
		provider: p,
		log:      log.With().Str("component", "backtest").Logger(),
	}
}

// ReplaySession walks one session and returns its trades without sizing.
// Every completed prefix is evaluated as if it were live; after a buy the
// next bar fills at the entry price, or at its open when the price never
// trades back down to it.
func (b *Backtester) ReplaySession(symbol string, candles []model.Candle) []Trade {
	hours := b.gate.Hours()
	var trades []Trade

	for i := pattern.MinCandles - 1; i < len(candles)-1; i++ {
		bar := candles[i]
		if hours.ShouldStopBuying(bar.Time) {
			break
		}

		d := b.gate.Evaluate(symbol, candles[:i+1], bar.Time)
		if !d.IsBuy() || d.EntryPrice == nil {
			continue
		}

		next := candles[i+1]
		entry := *d.EntryPrice
		if next.Low > entry {
			entry = next.Open
		} else if next.Open < entry {
			entry = next.Open
		}
		entry *= 1 + b.config.Slippage

		trade := Trade{
			ID:         uuid.NewString(),
			Symbol:     symbol,
			SignalTime: d.Time,
			EntryTime:  next.Time,
			EntryPrice: entry,
			StopLoss:   entry * (1 - b.config.StopLoss/100),
			Target:     entry * (1 + b.config.TakeProfit/100),
			Confidence: d.Confidence,
			SignalType: string(d.SignalType),
		}

		exitIdx := b.exit(&trade, candles, i+1)
		trades = append(trades, trade)
		i = exitIdx
	}
	return trades
}

// exit scans from the entry bar and fills the exit fields. It returns the
// index of the exit bar.
func (b *Backtester) exit(t *Trade, candles []model.Candle, from int) int {
	hours := b.gate.Hours()
	last := len(candles) - 1

	for k := from; k <= last; k++ {
		c := candles[k]
		switch {
		case c.Low <= t.StopLoss:
			b.fill(t, c.Time, t.StopLoss, ExitStop)
		case c.High >= t.Target:
			b.fill(t, c.Time, t.Target, ExitTarget)
		case b.config.RiskExits && k > from && b.riskExit(t, candles[:k+1]):
		case hours.IsEODLiquidation(c.Time) || k == last:
			b.fill(t, c.Time, c.Close, ExitEOD)
		default:
			continue
		}
		return k
	}
	return last
}

func (b *Backtester) riskExit(t *Trade, candles []model.Candle) bool {
	for _, r := range signal.DetectRisks(b.config.Risk, candles, t.EntryPrice) {
		if r == signal.RiskTargetReached {
			continue
		}
		c := candles[len(candles)-1]
		b.fill(t, c.Time, c.Close, string(r))
		return true
	}
	return false
}

func (b *Backtester) fill(t *Trade, at time.Time, price float64, reason string) {
	t.ExitTime = at
	t.ExitPrice = price * (1 - b.config.Slippage)
	t.ExitReason = reason
	t.PnLPct = (t.ExitPrice/t.EntryPrice - 1) * 100
	if b.config.StopLoss > 0 {
		t.RMultiple = t.PnLPct / b.config.StopLoss
	}
	t.IsWin = t.PnLPct > 0
}

// RunCandles backtests sessions already in memory, keyed by symbol
func (b *Backtester) RunCandles(sessions map[string][][]model.Candle) *BacktestResult {
	symbols := make([]string, 0, len(sessions))
	for s := range sessions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var trades []Trade
	count := 0
	for _, sym := range symbols {
		for _, candles := range sessions[sym] {
			count++
			trades = append(trades, b.ReplaySession(sym, candles)...)
		}
	}
	return b.simulate(trades, count)
}

// Run fetches every symbol on every date through the provider and
// backtests the sessions. Sessions without data are skipped.
func (b *Backtester) Run(ctx context.Context, symbols []string, dates []time.Time, progress ProgressCallback) (*BacktestResult, error) {
	if b.provider == nil {
		return nil, apperrors.ErrProviderUnavailable
	}

	total := len(symbols) * len(dates)
	done, sessions := 0, 0
	var trades []Trade

	for _, date := range dates {
		for _, sym := range symbols {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			data, err := b.provider.GetMinuteCandles(ctx, sym, date, b.config.Interval)
			done++
			if progress != nil {
				progress(done, total, sym)
			}
			if err != nil {
				if !errors.Is(err, apperrors.ErrNoData) {
					b.log.Warn().Err(err).Str("symbol", sym).Time("date", date).Msg("session skipped")
				}
				continue
			}
			sessions++
			trades = append(trades, b.ReplaySession(sym, data.Candles)...)
		}
	}

	result := b.simulate(trades, sessions)
	if len(dates) > 0 {
		result.Period = dates[0].Format("2006-01-02") + " ~ " + dates[len(dates)-1].Format("2006-01-02")
	}
	return result, nil
}

// simulate sizes trades in entry order against one capital account
func (b *Backtester) simulate(trades []Trade, sessions int) *BacktestResult {
	sort.SliceStable(trades, func(i, j int) bool { return trades[i].EntryTime.Before(trades[j].EntryTime) })

	result := &BacktestResult{
		Strategy: "pullback",
		Sessions: sessions,
		Trades:   make([]Trade, 0, len(trades)),
		Hourly:   make(map[int]*HourStats),
	}
	if len(trades) > 0 {
		result.Period = trades[0].EntryTime.Format("2006-01-02") + " ~ " + trades[len(trades)-1].EntryTime.Format("2006-01-02")
	}

	capital := b.config.InitialCapital
	equity := []float64{capital}

	for _, t := range trades {
		budget := capital * b.config.PositionPct / 100
		t.Shares = int(budget / t.EntryPrice)
		if t.Shares <= 0 {
			continue
		}

		grossPnL := float64(t.Shares) * (t.ExitPrice - t.EntryPrice)
		commission := float64(t.Shares) * (t.EntryPrice + t.ExitPrice) * b.config.Commission
		t.PnL = grossPnL - commission
		t.PnLPct = t.PnL / (float64(t.Shares) * t.EntryPrice) * 100
		t.IsWin = t.PnL > 0

		capital += t.PnL
		equity = append(equity, capital)
		result.Trades = append(result.Trades, t)
	}

	b.calculateStats(result, equity, b.config.InitialCapital)
	return result
}

// calculateStats computes all statistics from trades
func (b *Backtester) calculateStats(result *BacktestResult, equity []float64, initialCapital float64) {
	result.EquityCurve = equity
	if len(result.Trades) == 0 {
		return
	}

	result.TotalTrades = len(result.Trades)

	var totalWin, totalLoss, totalWinPct, totalLossPct float64
	var winCount, lossCount int
	var winStreak, loseStreak, maxWinStreak, maxLoseStreak int
	var totalR float64
	var morning, morningWins int

	for _, t := range result.Trades {
		totalR += t.RMultiple

		hour := t.SignalTime.In(b.gate.Hours().Location()).Hour()
		hs, ok := result.Hourly[hour]
		if !ok {
			hs = &HourStats{}
			result.Hourly[hour] = hs
		}
		hs.Trades++
		hs.AvgPct += t.PnLPct
		if hour < 12 {
			morning++
		}

		if t.IsWin {
			winCount++
			totalWin += t.PnL
			totalWinPct += t.PnLPct
			hs.Wins++
			if hour < 12 {
				morningWins++
			}
			if t.PnL > result.LargestWin {
				result.LargestWin = t.PnL
			}

			winStreak++
			loseStreak = 0
			if winStreak > maxWinStreak {
				maxWinStreak = winStreak
			}
		} else {
			lossCount++
			totalLoss += math.Abs(t.PnL)
			totalLossPct += math.Abs(t.PnLPct)
			if t.PnL < result.LargestLoss {
				result.LargestLoss = t.PnL
			}

			loseStreak++
			winStreak = 0
			if loseStreak > maxLoseStreak {
				maxLoseStreak = loseStreak
			}
		}
	}

	for _, hs := range result.Hourly {
		hs.WinRate = float64(hs.Wins) / float64(hs.Trades) * 100
		hs.AvgPct /= float64(hs.Trades)
	}
	if morning > 0 {
		result.MorningWinRate = float64(morningWins) / float64(morning) * 100
	}

	result.WinningTrades = winCount
	result.LosingTrades = lossCount
	result.WinRate = float64(winCount) / float64(result.TotalTrades) * 100
	result.MaxWinStreak = maxWinStreak
	result.MaxLoseStreak = maxLoseStreak

	// Returns
	result.TotalReturn = totalWin - totalLoss
	result.TotalReturnPct = result.TotalReturn / initialCapital * 100

	if winCount > 0 {
		result.AvgWin = totalWin / float64(winCount)
		result.AvgWinPct = totalWinPct / float64(winCount)
	}
	if lossCount > 0 {
		result.AvgLoss = totalLoss / float64(lossCount)
		result.AvgLossPct = totalLossPct / float64(lossCount)
	}

	// Risk/Reward
	if result.AvgLoss > 0 {
		result.RiskRewardRatio = result.AvgWin / result.AvgLoss
	}

	// Expectancy
	result.Expectancy = (result.WinRate/100*result.AvgWin) - ((100-result.WinRate)/100*result.AvgLoss)
	result.ExpectancyR = totalR / float64(result.TotalTrades)

	// Profit Factor
	if totalLoss > 0 {
		result.ProfitFactor = totalWin / totalLoss
	}

	// Max Drawdown
	peak := equity[0]
	var maxDD float64
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - e) / peak * 100
		if dd > maxDD {
			maxDD = dd
		}
	}
	result.MaxDrawdown = maxDD

	// Kelly Criterion
	if result.AvgLoss > 0 {
		winProb := result.WinRate / 100
		b := result.AvgWin / result.AvgLoss
		result.KellyOptimal = (winProb*b - (1 - winProb)) / b
		result.KellyOptimal = math.Max(0, result.KellyOptimal)
		result.KellyHalf = result.KellyOptimal / 2
	}

	// Sharpe Ratio (per trade, annualized on 252 sessions)
	if len(result.Trades) > 1 {
		returns := make([]float64, len(result.Trades))
		for i, t := range result.Trades {
			returns[i] = t.PnLPct
		}
		avgReturn := average(returns)
		stdReturn := stdDev(returns)
		if stdReturn > 0 {
			result.SharpeRatio = (avgReturn / stdReturn) * math.Sqrt(252)
		}
	}
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	avg := average(values)
	var sumSquares float64
	for _, v := range values {
		sumSquares += (v - avg) * (v - avg)
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}

// MonteCarloResult contains Monte Carlo simulation results
type MonteCarloResult struct {
	Simulations     int       `json:"simulations"`
	MedianReturn    float64   `json:"median_return"`
	WorstCase       float64   `json:"worst_case"`       // 5th percentile
	BestCase        float64   `json:"best_case"`        // 95th percentile
	RuinProbability float64   `json:"ruin_probability"` // % of sims that went bust
	MaxDrawdowns    []float64 `json:"max_drawdowns"`
}

// RunMonteCarlo reshuffles the trade order. Each trade compounds its
// position return on positionPct of the running capital.
func RunMonteCarlo(trades []Trade, initialCapital, positionPct float64, simulations int, seed int64) *MonteCarloResult {
	if len(trades) == 0 || simulations <= 0 {
		return nil
	}

	result := &MonteCarloResult{
		Simulations: simulations,
	}

	returns := make([]float64, len(trades))
	for i, t := range trades {
		returns[i] = t.PnLPct / 100
	}

	rng := rand.New(rand.NewSource(seed))
	finalReturns := make([]float64, simulations)
	maxDDs := make([]float64, simulations)
	ruinCount := 0

	for sim := 0; sim < simulations; sim++ {
		capital := initialCapital
		peak := capital

		shuffled := append([]float64(nil), returns...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

		for _, r := range shuffled {
			capital += capital * positionPct / 100 * r

			if capital > peak {
				peak = capital
			}

			dd := (peak - capital) / peak * 100
			if dd > maxDDs[sim] {
				maxDDs[sim] = dd
			}

			if capital <= 0 {
				ruinCount++
				break
			}
		}

		finalReturns[sim] = (capital - initialCapital) / initialCapital * 100
	}

	sort.Float64s(finalReturns)
	sort.Float64s(maxDDs)

	result.MedianReturn = finalReturns[simulations/2]
	result.WorstCase = finalReturns[simulations/20]   // 5th percentile
	result.BestCase = finalReturns[simulations*19/20] // 95th percentile
	result.RuinProbability = float64(ruinCount) / float64(simulations) * 100
	result.MaxDrawdowns = maxDDs

	return result
}
