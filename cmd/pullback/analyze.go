package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"pullback/internal/feature"
	"pullback/internal/logging"
	"pullback/internal/position"
	"pullback/internal/provider"
	sig "pullback/internal/signal"
	"pullback/internal/strategy"
	"pullback/internal/symbols"
	"pullback/pkg/model"
)

type analyzeOptions struct {
	file       string
	symbol     string
	date       string
	sequential bool
}

func newAnalyzeCmd(app *App) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Evaluate one session and print the decision",
		Long: `Evaluate one session of minute bars as of its last bar.

Bars come from a CSV file (time,open,high,low,close,volume) or, with
--symbol, from the configured data provider.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), app, opts)
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "CSV file with one session of bars")
	cmd.Flags().StringVar(&opts.symbol, "symbol", "", "symbol code (fetched when --file is not set)")
	cmd.Flags().StringVar(&opts.date, "date", "", "session date YYYY-MM-DD (default: today)")
	cmd.Flags().BoolVar(&opts.sequential, "sequential", false, "use the sequential stage search")
	return cmd
}

func runAnalyze(ctx context.Context, app *App, opts *analyzeOptions) error {
	if opts.file == "" && opts.symbol == "" {
		return fmt.Errorf("--file or --symbol is required")
	}
	date, err := app.parseDate(opts.date)
	if err != nil {
		return err
	}

	symbol := opts.symbol
	var candles []model.Candle
	if opts.file != "" {
		f, err := os.Open(opts.file)
		if err != nil {
			return fmt.Errorf("opening bars: %w", err)
		}
		defer f.Close()

		candles, err = provider.ReadCandlesCSV(f, date)
		if err != nil {
			return fmt.Errorf("reading %s: %w", opts.file, err)
		}
		if symbol == "" {
			symbol = symbolFromFile(opts.file)
		}
	} else {
		p, closeFn := app.newProvider()
		defer closeFn()

		data, err := p.GetMinuteCandles(ctx, symbol, date, app.Config.Scanner.Interval)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", symbol, err)
		}
		candles = data.Candles
	}

	gate := app.newGate(opts.sequential)
	d := gate.Evaluate(symbol, candles, date)
	logging.LogDecision(app.Log, d.Symbol, string(d.State), string(d.SignalType), d.Confidence, d.Reasons)

	var guide *strategy.Signal
	if d.IsBuy() {
		bt := app.Config.Backtest
		ps := strategy.NewPatternStrategy("pullback", strategy.PatternConfig{
			Interval:       app.Config.Scanner.Interval,
			TakeProfit:     bt.TakeProfit,
			StopLoss:       bt.StopLoss,
			AccountBalance: bt.InitialCapital,
			WinRate:        app.Config.Predictor.Threshold,
		}, gate, nil)
		guide = ps.AnalyzeCandles(model.Stock{Symbol: symbol, Name: symbols.Name(symbol)}, candles)
	}

	if app.json {
		if guide != nil {
			return outputJSON(struct {
				*sig.Decision
				Guide *position.TradeGuide `json:"guide,omitempty"`
			}{d, guide.Guide})
		}
		return outputJSON(d)
	}
	printDecision(d, len(candles))
	if guide != nil {
		printGuide(guide)
	}
	return nil
}

// symbolFromFile takes the code from names like 005930_20250304.csv
func symbolFromFile(path string) string {
	base := path[strings.LastIndexAny(path, `/\`)+1:]
	base = strings.TrimSuffix(base, ".csv")
	if i := strings.IndexAny(base, "_-"); i > 0 {
		base = base[:i]
	}
	return base
}

func printDecision(d *sig.Decision, bars int) {
	fmt.Printf("[%s] %s  %d bars  as of %s\n\n", d.Symbol, symbols.Name(d.Symbol), bars, d.Time.Format("2006-01-02 15:04"))

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Field", "Value"}),
	)
	table.Append([]string{"State", string(d.State)})
	table.Append([]string{"Signal", string(d.SignalType)})
	table.Append([]string{"Confidence", fmt.Sprintf("%.1f", d.Confidence)})
	if d.Threshold > 0 {
		table.Append([]string{"Threshold", fmt.Sprintf("%.1f", d.Threshold)})
	}
	if d.EntryPrice != nil {
		table.Append([]string{"Entry", fmt.Sprintf("%.0f", *d.EntryPrice)})
	}
	if d.DayOpen > 0 {
		table.Append([]string{"Above open", fmt.Sprintf("%+.2f%%", d.PctAboveOpen)})
	}
	if d.Bisector > 0 {
		table.Append([]string{"Bisector", fmt.Sprintf("%.1f (%s)", d.Bisector, d.BisectorStatus)})
	}
	table.Append([]string{"Volume vs max", fmt.Sprintf("%.2f", d.VolumeRatio)})
	table.Render()

	if p := d.Pattern; p != nil && p.HasPattern {
		fmt.Printf("\nStages: uptrend %d-%d | decline %d-%d | support %d-%d | breakout %d (offset %d)\n",
			p.Uptrend.StartIdx, p.Uptrend.EndIdx,
			p.Decline.StartIdx, p.Decline.EndIdx,
			p.Support.StartIdx, p.Support.EndIdx,
			p.Breakout.Idx, p.Offset)
	}
	if len(d.Reasons) > 0 {
		fmt.Println("\nReasons:")
		for _, r := range d.Reasons {
			fmt.Printf("  - %s\n", r)
		}
	}

	if d.Features != nil {
		fmt.Println("\n--- Features ---")
		ft := tablewriter.NewTable(os.Stdout,
			tablewriter.WithHeader([]string{"Feature", "Value"}),
		)
		values := d.Features.Values()
		for i, name := range feature.Names {
			ft.Append([]string{name, fmt.Sprintf("%.4f", values[i])})
		}
		ft.Render()
	}
}

func printGuide(s *strategy.Signal) {
	g := s.Guide
	if g == nil {
		return
	}
	fmt.Println("\n--- Trade Guide ---")
	fmt.Printf("  Entry %.0f | Stop %.0f (-%.2f%%) | Target %.0f (+%.2f%%)\n",
		g.EntryPrice, g.StopLoss, g.StopLossPct, g.Target, g.TargetPct)
	fmt.Printf("  R:R %.2f | Size %d shares (%.0f KRW) | Max loss %.0f KRW (%.2f%%)\n",
		g.RiskRewardRatio, g.PositionSize, g.InvestAmount, g.RiskAmount, g.MaxLossPct)
	if ind := s.Indicators; ind != nil {
		fmt.Printf("  VWAP %.1f | MA20 %.1f | RSI(14) %.1f\n", ind.VWAP, ind.MA20, ind.RSI14)
	}
	r := position.AssessRisk(g, 0.5)
	fmt.Printf("  >> Risk: %s (%d) %s\n", r.Level, r.Score, r.Description)
}
