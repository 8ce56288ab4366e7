package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "pullback/internal/errors"
	"pullback/internal/signal"
	"pullback/internal/testutil"
	"pullback/pkg/model"
)

func newTestBacktester(riskExits bool) *Backtester {
	cfg := DefaultBacktestConfig()
	cfg.Commission = 0
	cfg.RiskExits = riskExits
	gate := signal.NewGate(signal.DefaultConfig(), nil, nil)
	return NewBacktester(cfg, gate, nil, zerolog.Nop())
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

// the pattern completes at 09:39; the buy fills on the 09:42 bar
func withAfter(bars ...testutil.Bar) []model.Candle {
	return testutil.Continue(testutil.PatternSession(), 3, bars)
}

func TestReplaySession_Exits(t *testing.T) {
	tests := []struct {
		name    string
		candles []model.Candle
		risk    bool
		reason  string
		entry   float64
		exit    float64
	}{
		{
			name:    "take profit",
			candles: withAfter(testutil.Bar{110.5, 114, 300}, testutil.Bar{114, 114, 300}),
			reason:  ExitTarget,
			entry:   110.4,
			exit:    110.4 * 1.03,
		},
		{
			name:    "stop loss",
			candles: withAfter(testutil.Bar{110.5, 107, 300}, testutil.Bar{107, 107, 300}),
			reason:  ExitStop,
			entry:   110.4,
			exit:    110.4 * 0.975,
		},
		{
			name:    "entry not reached fills at open",
			candles: withAfter(testutil.Bar{111, 111.5, 300}, testutil.Bar{111.5, 111.2, 300}),
			reason:  ExitEOD,
			entry:   111,
			exit:    111.2,
		},
		{
			name:    "bearish volume risk",
			candles: withAfter(testutil.Bar{110.5, 110.6, 300}, testutil.Bar{110.6, 109.9, 5000}, testutil.Bar{109.9, 110, 300}),
			risk:    true,
			reason:  string(signal.RiskBearishVolume),
			entry:   110.4,
			exit:    109.9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trades := newTestBacktester(tt.risk).ReplaySession("005930", tt.candles)
			if len(trades) != 1 {
				t.Fatalf("Expected 1 trade, got %d", len(trades))
			}
			tr := trades[0]
			if tr.ExitReason != tt.reason {
				t.Errorf("Expected exit %s, got %s", tt.reason, tr.ExitReason)
			}
			if !near(tr.EntryPrice, tt.entry) {
				t.Errorf("Expected entry %.3f, got %.3f", tt.entry, tr.EntryPrice)
			}
			if !near(tr.ExitPrice, tt.exit) {
				t.Errorf("Expected exit %.3f, got %.3f", tt.exit, tr.ExitPrice)
			}
			if !tr.SignalTime.Equal(testutil.KST(9, 39)) || !tr.EntryTime.Equal(testutil.KST(9, 42)) {
				t.Errorf("Unexpected signal/entry times %s / %s", tr.SignalTime, tr.EntryTime)
			}
			if tr.ID == "" {
				t.Error("Expected a trade ID")
			}
		})
	}
}

func TestReplaySession_EODLiquidation(t *testing.T) {
	candles := withAfter(testutil.Bar{110.5, 110.6, 300})
	eod := testutil.Candles(testutil.KST(15, 0), 3, []testutil.Bar{{110.6, 111, 300}, {111, 112, 300}})
	candles = append(candles, eod...)

	trades := newTestBacktester(false).ReplaySession("005930", candles)
	if len(trades) != 1 {
		t.Fatalf("Expected 1 trade, got %d", len(trades))
	}
	if trades[0].ExitReason != ExitEOD || !trades[0].ExitTime.Equal(testutil.KST(15, 0)) {
		t.Errorf("Expected EOD exit at 15:00, got %s at %s", trades[0].ExitReason, trades[0].ExitTime)
	}
	if !near(trades[0].ExitPrice, 111) {
		t.Errorf("Expected exit at the 15:00 close, got %.2f", trades[0].ExitPrice)
	}
}

func TestReplaySession_NoSignal(t *testing.T) {
	if trades := newTestBacktester(true).ReplaySession("000660", testutil.FlatSession(30)); len(trades) != 0 {
		t.Errorf("Expected no trades, got %d", len(trades))
	}
	// the buy on the last bar has nothing to fill on
	if trades := newTestBacktester(true).ReplaySession("005930", testutil.PatternSession()); len(trades) != 0 {
		t.Errorf("Expected no trade without a next bar, got %d", len(trades))
	}
}

func TestRunCandles_Stats(t *testing.T) {
	b := newTestBacktester(false)
	result := b.RunCandles(map[string][][]model.Candle{
		"A": {withAfter(testutil.Bar{110.5, 114, 300}, testutil.Bar{114, 114, 300})},
		"B": {withAfter(testutil.Bar{110.5, 107, 300}, testutil.Bar{107, 107, 300})},
	})

	if result.Sessions != 2 || result.TotalTrades != 2 {
		t.Fatalf("Expected 2 sessions and 2 trades, got %d / %d", result.Sessions, result.TotalTrades)
	}
	if result.WinningTrades != 1 || result.LosingTrades != 1 || result.WinRate != 50 {
		t.Errorf("Expected 1 win / 1 loss, got %d / %d (%.1f%%)", result.WinningTrades, result.LosingTrades, result.WinRate)
	}

	win := result.Trades[0]
	if win.Symbol != "A" || win.Shares != 18115 {
		t.Errorf("Expected A sized at 18115 shares, got %s %d", win.Symbol, win.Shares)
	}
	if !near(result.AvgWinPct, 3) || math.Abs(result.AvgLossPct-2.5) > 1e-6 {
		t.Errorf("Expected +3%% / -2.5%%, got %.3f / %.3f", result.AvgWinPct, result.AvgLossPct)
	}
	if result.ProfitFactor <= 1 || result.TotalReturn <= 0 {
		t.Errorf("Expected profitable run, got PF %.2f return %.0f", result.ProfitFactor, result.TotalReturn)
	}
	if len(result.EquityCurve) != 3 || result.MaxDrawdown <= 0 {
		t.Errorf("Expected 3-point equity curve with a drawdown, got %v", result.EquityCurve)
	}
	if hs := result.Hourly[9]; hs == nil || hs.Trades != 2 || hs.WinRate != 50 {
		t.Errorf("Expected 2 trades at 9h, got %+v", hs)
	}
	if result.MorningWinRate != 50 {
		t.Errorf("Expected morning win rate 50, got %.1f", result.MorningWinRate)
	}
}

type sessionProvider struct {
	candles []model.Candle
}

func (p *sessionProvider) Name() string      { return "stub" }
func (p *sessionProvider) IsAvailable() bool { return true }

func (p *sessionProvider) GetMinuteCandles(ctx context.Context, symbol string, date time.Time, interval int) (*model.IntradayData, error) {
	if symbol != "005930" {
		return nil, apperrors.ErrNoData
	}
	return &model.IntradayData{Symbol: symbol, Date: date, Interval: interval, Candles: p.candles}, nil
}

func TestRun_Provider(t *testing.T) {
	cfg := DefaultBacktestConfig()
	p := &sessionProvider{candles: withAfter(testutil.Bar{110.5, 114, 300}, testutil.Bar{114, 114, 300})}
	b := NewBacktester(cfg, signal.NewGate(signal.DefaultConfig(), nil, nil), p, zerolog.Nop())

	var calls int
	result, err := b.Run(context.Background(), []string{"005930", "000660"}, []time.Time{testutil.Session()}, func(done, total int, symbol string) {
		calls++
		if total != 2 {
			t.Errorf("Expected total 2, got %d", total)
		}
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if calls != 2 || result.Sessions != 1 || result.TotalTrades != 1 {
		t.Errorf("Expected 2 progress calls, 1 session, 1 trade; got %d / %d / %d", calls, result.Sessions, result.TotalTrades)
	}
	if result.Period != "2025-03-04 ~ 2025-03-04" {
		t.Errorf("Unexpected period %q", result.Period)
	}
	if result.Trades[0].PnLPct >= 3 {
		t.Errorf("Expected commission to reduce the 3%% gain, got %.4f", result.Trades[0].PnLPct)
	}

	if _, err := NewBacktester(cfg, signal.NewGate(signal.DefaultConfig(), nil, nil), nil, zerolog.Nop()).Run(context.Background(), nil, nil, nil); err == nil {
		t.Error("Expected error without a provider")
	}
}

func TestRunMonteCarlo(t *testing.T) {
	trades := []Trade{{PnLPct: 3}, {PnLPct: -2.5}, {PnLPct: 3}, {PnLPct: 1.2}}

	a := RunMonteCarlo(trades, 10000000, 20, 200, 42)
	b := RunMonteCarlo(trades, 10000000, 20, 200, 42)
	if a == nil || a.Simulations != 200 || len(a.MaxDrawdowns) != 200 {
		t.Fatalf("Unexpected result %+v", a)
	}
	if a.MedianReturn != b.MedianReturn {
		t.Errorf("Expected a seeded run to be reproducible, got %f vs %f", a.MedianReturn, b.MedianReturn)
	}
	if a.WorstCase > a.BestCase {
		t.Errorf("Expected worst <= best, got %f > %f", a.WorstCase, a.BestCase)
	}
	if RunMonteCarlo(nil, 1, 20, 10, 1) != nil {
		t.Error("Expected nil for no trades")
	}
}
