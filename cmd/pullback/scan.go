package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"pullback/internal/scanner"
	"pullback/internal/symbols"
	"pullback/pkg/model"
)

type scanOptions struct {
	symbols    string
	universe   string
	date       string
	workers    int
	sequential bool
	all        bool
}

func newScanCmd(app *App) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a watchlist for buy signals",
		Long: `Scan every symbol of a watchlist as of the latest available bar.

The watchlist is --symbols (codes or a file) or a built-in --universe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(app.Log)
			defer cancel()
			return runScan(ctx, app, opts)
		},
	}

	cmd.Flags().StringVar(&opts.symbols, "symbols", "", "comma-separated codes or a symbol file")
	cmd.Flags().StringVar(&opts.universe, "universe", "", "built-in universe: kospi-top, test (default from config)")
	cmd.Flags().StringVar(&opts.date, "date", "", "session date YYYY-MM-DD (default: today)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "number of parallel workers (default from config)")
	cmd.Flags().BoolVar(&opts.sequential, "sequential", false, "use the sequential stage search")
	cmd.Flags().BoolVar(&opts.all, "all", false, "list every symbol, not only buys")
	return cmd
}

// loadWatchlist resolves --symbols first, then --universe, then config
func loadWatchlist(app *App, list, universe string) ([]model.Stock, error) {
	loader := symbols.NewLoader(app.Config.Market.Code)
	if list != "" {
		return loader.Resolve(list)
	}
	if universe == "" {
		universe = app.Config.Scanner.Universe
	}
	return loader.LoadUniverse(symbols.Universe(universe))
}

func runScan(ctx context.Context, app *App, opts *scanOptions) error {
	stocks, err := loadWatchlist(app, opts.symbols, opts.universe)
	if err != nil {
		return fmt.Errorf("loading symbols: %w", err)
	}
	if len(stocks) == 0 {
		return fmt.Errorf("no stocks to scan")
	}

	date, err := app.parseDate(opts.date)
	if err != nil {
		return err
	}

	p, closeFn := app.newProvider()
	defer closeFn()
	if !p.IsAvailable() {
		return fmt.Errorf("no available data providers")
	}

	scfg := scanner.Config{
		Workers:  app.Config.Scanner.Workers,
		Timeout:  app.Config.Scanner.Timeout,
		Interval: app.Config.Scanner.Interval,
	}
	if opts.workers > 0 {
		scfg.Workers = opts.workers
	}
	s := scanner.NewScanner(p, app.newGate(opts.sequential), scfg, app.Log)

	if !app.json {
		fmt.Fprintf(os.Stderr, "Scanning %d stocks for %s...\n\n", len(stocks), date.Format("2006-01-02"))
		bar := newProgressBar(len(stocks), "Scanning")
		s.SetProgressCallback(func(scanned, total int) {
			bar.Set(scanned)
		})
		defer func() {
			bar.Finish()
			fmt.Fprintln(os.Stderr)
		}()
	}

	result, err := s.Scan(ctx, stocks, date)
	if err != nil && result == nil {
		return fmt.Errorf("scanning: %w", err)
	}
	if err != nil {
		app.Log.Warn().Err(err).Msg("scan incomplete")
	}

	if app.json {
		return outputJSON(result)
	}
	return outputScanTable(result, opts.all)
}

func outputScanTable(result *scanner.ScanResult, all bool) error {
	rows := result.Results
	if !all {
		rows = result.Buys()
	}

	if len(rows) == 0 {
		fmt.Println("No buy signals found.")
		fmt.Printf("Scanned %d stocks in %s\n", result.TotalScanned, result.ScanTime.Round(time.Millisecond))
		return nil
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return confidence(rows[i]) > confidence(rows[j])
	})

	if !all {
		fmt.Printf("Found %d buy signals:\n\n", len(rows))
	}

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Symbol", "Name", "Time", "Signal", "Conf", "Entry", "Reason"}),
	)
	for _, r := range rows {
		name := truncate(r.Stock.Name, 12)

		if r.Decision == nil {
			table.Append([]string{r.Stock.Symbol, name, "-", "ERROR", "-", "-", truncate(r.Error, 45)})
			continue
		}
		d := r.Decision

		entry := "-"
		if d.EntryPrice != nil {
			entry = fmt.Sprintf("%.0f", *d.EntryPrice)
		}
		table.Append([]string{
			r.Stock.Symbol,
			name,
			d.Time.Format("15:04"),
			string(d.SignalType),
			fmt.Sprintf("%.0f", d.Confidence),
			entry,
			truncate(strings.Join(d.Reasons, "; "), 45),
		})
	}
	table.Render()

	fmt.Printf("\nScanned %d stocks in %s (%d errors)\n", result.TotalScanned, result.ScanTime.Round(time.Millisecond), result.ErrorCount)
	return nil
}

func confidence(r scanner.Result) float64 {
	if r.Decision == nil {
		return -1
	}
	return r.Decision.Confidence
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
