package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"pullback/internal/backtest"
	"pullback/internal/provider"
	"pullback/internal/signal"
	"pullback/pkg/model"
)

type backtestOptions struct {
	files      []string
	symbols    string
	universe   string
	from       string
	to         string
	sequential bool
	monteCarlo int
	seed       int64
	showTrades bool
}

func newBacktestCmd(app *App) *cobra.Command {
	opts := &backtestOptions{}

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay past sessions and simulate the signals",
		Long: `Replay each trading day between --from and --to bar by bar, as if
live, and simulate every buy with fixed take-profit and stop-loss exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(app.Log)
			defer cancel()
			return runBacktest(ctx, app, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.files, "file", nil, "session CSV files to replay instead of fetching")
	cmd.Flags().StringVar(&opts.symbols, "symbols", "", "comma-separated codes or a symbol file")
	cmd.Flags().StringVar(&opts.universe, "universe", "", "built-in universe (default from config)")
	cmd.Flags().StringVar(&opts.from, "from", "", "first session YYYY-MM-DD (default: 20 days ago)")
	cmd.Flags().StringVar(&opts.to, "to", "", "last session YYYY-MM-DD (default: today)")
	cmd.Flags().BoolVar(&opts.sequential, "sequential", false, "use the sequential stage search")
	cmd.Flags().IntVar(&opts.monteCarlo, "montecarlo", 0, "number of Monte Carlo reshuffles (0 disables)")
	cmd.Flags().Int64Var(&opts.seed, "seed", 1, "Monte Carlo random seed")
	cmd.Flags().BoolVar(&opts.showTrades, "trades", false, "list every trade")
	return cmd
}

// tradingDays lists the sessions from..to inclusive
func tradingDays(app *App, from, to time.Time) []time.Time {
	hours := app.Config.Hours()
	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if hours.IsTradingDay(d) {
			days = append(days, d)
		}
	}
	return days
}

func (a *App) backtestConfig() backtest.BacktestConfig {
	bcfg := a.Config.Backtest
	return backtest.BacktestConfig{
		InitialCapital: bcfg.InitialCapital,
		PositionPct:    bcfg.PositionPct,
		TakeProfit:     bcfg.TakeProfit,
		StopLoss:       bcfg.StopLoss,
		RiskExits:      bcfg.RiskExits,
		Risk:           signal.DefaultRiskConfig(),
		Commission:     backtest.DefaultBacktestConfig().Commission,
		Interval:       a.Config.Scanner.Interval,
	}
}

// loadSessionFiles reads CSV sessions keyed by the code in each file name.
// Time-only rows are placed on date.
func loadSessionFiles(paths []string, date time.Time) (map[string][][]model.Candle, error) {
	sessions := make(map[string][][]model.Candle)
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening bars: %w", err)
		}
		candles, err := provider.ReadCandlesCSV(f, date)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		sym := symbolFromFile(path)
		sessions[sym] = append(sessions[sym], candles)
	}
	return sessions, nil
}

func runBacktest(ctx context.Context, app *App, opts *backtestOptions) error {
	cfg := app.backtestConfig()

	var result *backtest.BacktestResult
	if len(opts.files) > 0 {
		date, err := app.parseDate(opts.to)
		if err != nil {
			return err
		}
		sessions, err := loadSessionFiles(opts.files, date)
		if err != nil {
			return err
		}
		bt := backtest.NewBacktester(cfg, app.newGate(opts.sequential), nil, app.Log)
		result = bt.RunCandles(sessions)
		result.Period = "files"
	} else {
		var err error
		if result, err = runBacktestRange(ctx, app, opts, cfg); err != nil {
			return err
		}
	}

	var mc *backtest.MonteCarloResult
	if opts.monteCarlo > 0 {
		mc = backtest.RunMonteCarlo(result.Trades, cfg.InitialCapital, cfg.PositionPct, opts.monteCarlo, opts.seed)
	}

	if app.json {
		return outputJSON(struct {
			Result     *backtest.BacktestResult   `json:"result"`
			MonteCarlo *backtest.MonteCarloResult `json:"monte_carlo,omitempty"`
		}{result, mc})
	}

	printBacktest(result)
	if opts.showTrades {
		printTrades(result.Trades)
	}
	if mc != nil {
		printMonteCarlo(mc)
	}
	return nil
}

func runBacktestRange(ctx context.Context, app *App, opts *backtestOptions, cfg backtest.BacktestConfig) (*backtest.BacktestResult, error) {
	stocks, err := loadWatchlist(app, opts.symbols, opts.universe)
	if err != nil {
		return nil, fmt.Errorf("loading symbols: %w", err)
	}
	codes := make([]string, len(stocks))
	for i, s := range stocks {
		codes[i] = s.Symbol
	}

	to, err := app.parseDate(opts.to)
	if err != nil {
		return nil, err
	}
	from := to.AddDate(0, 0, -20)
	if opts.from != "" {
		if from, err = app.parseDate(opts.from); err != nil {
			return nil, err
		}
	}
	if from.After(to) {
		return nil, fmt.Errorf("--from %s is after --to %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	dates := tradingDays(app, from, to)
	if len(dates) == 0 {
		return nil, fmt.Errorf("no trading days between %s and %s", from.Format("2006-01-02"), to.Format("2006-01-02"))
	}

	p, closeFn := app.newProvider()
	defer closeFn()

	bt := backtest.NewBacktester(cfg, app.newGate(opts.sequential), p, app.Log)

	var progress backtest.ProgressCallback
	if !app.json {
		fmt.Fprintf(os.Stderr, "Backtesting %d stocks over %d sessions...\n\n", len(codes), len(dates))
		bar := newProgressBar(len(codes)*len(dates), "Replaying")
		progress = func(done, total int, symbol string) {
			bar.Set(done)
		}
		defer func() {
			bar.Finish()
			fmt.Fprintln(os.Stderr)
		}()
	}

	result, err := bt.Run(ctx, codes, dates, progress)
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	return result, nil
}

func printBacktest(r *backtest.BacktestResult) {
	fmt.Printf("Backtest %s (%d sessions)\n\n", r.Period, r.Sessions)
	if r.TotalTrades == 0 {
		fmt.Println("No trades.")
		return
	}

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Metric", "Value"}),
	)
	table.Append([]string{"Trades", fmt.Sprintf("%d (%d W / %d L)", r.TotalTrades, r.WinningTrades, r.LosingTrades)})
	table.Append([]string{"Win rate", fmt.Sprintf("%.1f%%", r.WinRate)})
	table.Append([]string{"Total return", fmt.Sprintf("%.0f KRW (%+.2f%%)", r.TotalReturn, r.TotalReturnPct)})
	table.Append([]string{"Avg win / loss", fmt.Sprintf("%+.2f%% / %+.2f%%", r.AvgWinPct, r.AvgLossPct)})
	table.Append([]string{"Profit factor", fmt.Sprintf("%.2f", r.ProfitFactor)})
	table.Append([]string{"Expectancy", fmt.Sprintf("%.0f KRW (%.2fR)", r.Expectancy, r.ExpectancyR)})
	table.Append([]string{"Max drawdown", fmt.Sprintf("%.2f%%", r.MaxDrawdown)})
	table.Append([]string{"Sharpe", fmt.Sprintf("%.2f", r.SharpeRatio)})
	table.Append([]string{"Kelly (half)", fmt.Sprintf("%.1f%% (%.1f%%)", r.KellyOptimal*100, r.KellyHalf*100)})
	table.Append([]string{"Streaks", fmt.Sprintf("%d W / %d L", r.MaxWinStreak, r.MaxLoseStreak)})
	table.Append([]string{"Morning win rate", fmt.Sprintf("%.1f%%", r.MorningWinRate)})
	table.Render()

	if len(r.Hourly) == 0 {
		return
	}
	hours := make([]int, 0, len(r.Hourly))
	for h := range r.Hourly {
		hours = append(hours, h)
	}
	sort.Ints(hours)

	fmt.Println("\n--- By Signal Hour ---")
	ht := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Hour", "Trades", "Wins", "Win Rate", "Avg"}),
	)
	for _, h := range hours {
		s := r.Hourly[h]
		ht.Append([]string{
			fmt.Sprintf("%02d:00", h),
			fmt.Sprintf("%d", s.Trades),
			fmt.Sprintf("%d", s.Wins),
			fmt.Sprintf("%.1f%%", s.WinRate),
			fmt.Sprintf("%+.2f%%", s.AvgPct),
		})
	}
	ht.Render()
}

func printTrades(trades []backtest.Trade) {
	fmt.Println("\n--- Trades ---")
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Symbol", "Date", "Entry", "Exit", "Reason", "P&L", "R"}),
	)
	for _, t := range trades {
		table.Append([]string{
			t.Symbol,
			t.EntryTime.Format("01-02 15:04"),
			fmt.Sprintf("%.0f", t.EntryPrice),
			fmt.Sprintf("%.0f", t.ExitPrice),
			t.ExitReason,
			fmt.Sprintf("%+.2f%%", t.PnLPct),
			fmt.Sprintf("%+.2f", t.RMultiple),
		})
	}
	table.Render()
}

func printMonteCarlo(mc *backtest.MonteCarloResult) {
	fmt.Printf("\n--- Monte Carlo (%d runs) ---\n", mc.Simulations)
	fmt.Printf("  Median return: %+.2f%%\n", mc.MedianReturn)
	fmt.Printf("  5th / 95th percentile: %+.2f%% / %+.2f%%\n", mc.WorstCase, mc.BestCase)
	fmt.Printf("  Ruin probability: %.1f%%\n", mc.RuinProbability)
}
