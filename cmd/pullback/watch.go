package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"pullback/internal/daemon"
	"pullback/internal/notify"
	"pullback/internal/predictor"
	"pullback/internal/scanner"
	"pullback/internal/signal"
)

type watchOptions struct {
	symbols    string
	universe   string
	noWait     bool
	publishAll bool
	dataDir    string
}

func newWatchCmd(app *App) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Scan the watchlist on every bar close during the session",
		Long: `Wait for the open, then evaluate the watchlist a few seconds after each
bar closes. Buys are logged, optionally filtered by the model service and
published to NATS; open signals are tracked to their exit and labeled.
A daily report is written when the session ends or on interrupt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(app.Log)
			defer cancel()
			return runWatch(ctx, app, opts)
		},
	}

	cmd.Flags().StringVar(&opts.symbols, "symbols", "", "comma-separated codes or a symbol file")
	cmd.Flags().StringVar(&opts.universe, "universe", "", "built-in universe (default from config)")
	cmd.Flags().BoolVar(&opts.noWait, "no-wait", false, "exit instead of waiting when the market is closed")
	cmd.Flags().BoolVar(&opts.publishAll, "publish-all", false, "publish every decision, not only buys and exits")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "session state and report directory (default ~/.pullback)")
	return cmd
}

func runWatch(ctx context.Context, app *App, opts *watchOptions) error {
	stocks, err := loadWatchlist(app, opts.symbols, opts.universe)
	if err != nil {
		return fmt.Errorf("loading symbols: %w", err)
	}

	p, closeFn := app.newProvider()
	defer closeFn()
	if !p.IsAvailable() {
		return fmt.Errorf("no available data providers")
	}

	gate := app.newGate(false)
	sc := scanner.NewScanner(p, gate, scanner.Config{
		Workers:  app.Config.Scanner.Workers,
		Timeout:  app.Config.Scanner.Timeout,
		Interval: app.Config.Scanner.Interval,
	}, app.Log)

	deps := daemon.Deps{Scanner: sc, Provider: p, Log: app.Log}

	if store := openStore(app); store != nil {
		defer store.Close()
		deps.Store = store
	}

	notifier := notify.Connect(ctx, app.Config.NATS, app.Log)
	defer notifier.Close()
	deps.Notifier = notifier

	if pc := app.Config.Predictor; pc.Enabled {
		client, err := predictor.Dial(pc)
		if err != nil {
			app.Log.Warn().Err(err).Str("url", pc.URL).Msg("model service unavailable, signals pass unfiltered")
		} else {
			defer client.Close()
			deps.Filter = predictor.NewFilter(client, app.Log)
		}
	}

	bt := app.Config.Backtest
	cfg := daemon.DefaultConfig()
	cfg.WaitForMarket = !opts.noWait
	cfg.Interval = app.Config.Scanner.Interval
	cfg.MLThreshold = app.Config.Predictor.Threshold
	cfg.PublishAll = opts.publishAll
	cfg.TakeProfit = bt.TakeProfit
	cfg.StopLoss = bt.StopLoss
	cfg.RiskExits = bt.RiskExits
	cfg.Risk = signal.DefaultRiskConfig()
	cfg.DataDir = opts.dataDir

	d := daemon.NewDaemon(cfg, stocks, deps)
	if err := d.Run(ctx); err != nil {
		return err
	}

	if st := d.Tracker().GetState(); st.Cycles > 0 {
		fmt.Println(d.Tracker().GenerateReport())
	}
	return nil
}
