package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"pullback/internal/broker/kis"
	"pullback/internal/provider"
	"pullback/internal/strategy"
)

type quoteOptions struct {
	symbols  string
	strategy string
}

func newQuoteCmd(app *App) *cobra.Command {
	opts := &quoteOptions{}

	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Check the KIS connection with quotes and today's minute bars",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(app.Log)
			defer cancel()
			return runQuote(ctx, app, opts)
		},
	}

	cmd.Flags().StringVar(&opts.symbols, "symbols", "005930,000660,035420,035720,373220,068270", "comma-separated codes")
	cmd.Flags().StringVar(&opts.strategy, "strategy", "pullback", "registered strategy to run on the bars")
	return cmd
}

func runQuote(ctx context.Context, app *App, opts *quoteOptions) error {
	if !app.Config.HasKIS() {
		return fmt.Errorf("KIS credentials are not configured (KIS_APP_KEY, KIS_APP_SECRET)")
	}
	stocks, err := loadWatchlist(app, opts.symbols, "")
	if err != nil {
		return err
	}

	client := kis.NewClient(app.Config.KIS.Credentials, app.Config.KIS.Options, app.Log)
	// strategy.Analyze refetches the session, served from this cache
	kisProv := provider.NewCachingProvider(provider.NewKISProvider(client), time.Minute)

	fmt.Println("=== KIS Domestic API Check ===")

	fmt.Println("\n[1] Token")
	start := time.Now()
	if !client.IsReady(ctx) {
		return fmt.Errorf("token request failed")
	}
	fmt.Printf("    OK in %s\n", time.Since(start).Round(time.Millisecond))

	strat, err := strategy.Get(opts.strategy, kisProv, app.Config.ToGateConfig())
	if err != nil {
		return err
	}

	today, _ := app.parseDate("")
	fmt.Printf("\n[2] Quotes and %d-minute bars (%s)\n\n", app.Config.Scanner.Interval, strat.Name())

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Symbol", "Name", "Price", "Chg", "Bars", "Signal", "Elapsed"}),
	)
	for _, stock := range stocks {
		start := time.Now()
		row := []string{stock.Symbol, truncate(stock.Name, 12), "-", "-", "-", "-", ""}

		q, err := client.GetQuote(ctx, stock.Symbol)
		if err != nil {
			row[5] = "ERROR: " + truncate(err.Error(), 30)
			row[6] = time.Since(start).Round(time.Millisecond).String()
			table.Append(row)
			continue
		}
		row[2] = fmt.Sprintf("%.0f", q.Price)
		row[3] = fmt.Sprintf("%+.2f%%", q.ChangePct)

		data, err := kisProv.GetMinuteCandles(ctx, stock.Symbol, today, app.Config.Scanner.Interval)
		switch {
		case err != nil:
			row[5] = "ERROR: " + truncate(err.Error(), 30)
		default:
			row[4] = fmt.Sprintf("%d", len(data.Candles))
			sig, err := strat.Analyze(ctx, stock, today)
			switch {
			case err != nil:
				row[5] = "ERROR: " + truncate(err.Error(), 30)
			case sig != nil:
				row[5] = fmt.Sprintf("%s %.0f", sig.Grade, sig.Strength)
			default:
				row[5] = "no signal"
			}
		}
		row[6] = time.Since(start).Round(time.Millisecond).String()
		table.Append(row)
	}
	table.Render()

	l := client.Limiter()
	fmt.Printf("\nRate limiter %s: throttled %d times, backoff %s\n", l.Name(), l.Throttled(), l.GetBackoff())
	return nil
}
