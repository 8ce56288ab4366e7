package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"pullback/internal/broker/kis"
	"pullback/internal/config"
	"pullback/internal/logging"
	"pullback/internal/pattern"
	"pullback/internal/provider"
	sig "pullback/internal/signal"
)

// App holds what every subcommand needs
type App struct {
	Config *config.Config
	Log    zerolog.Logger

	cfgFile string
	debug   bool
	json    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	app := &App{}

	rootCmd := &cobra.Command{
		Use:   "pullback",
		Short: "Intraday support-pattern signals for Korean equities",
		Long: `Pullback detects the four-stage intraday pattern on KRX minute bars:

  1. uptrend off the open
  2. low-volume decline
  3. support holding in a tight range
  4. breakout on rising volume

and gates it into STRONG_BUY / CAUTIOUS_BUY / AVOID decisions.

Examples:
  pullback analyze --file 005930_20250304.csv
  pullback scan --universe kospi-top --date 2025-03-04
  pullback backtest --symbols 005930,000660 --from 2025-02-03 --to 2025-02-28
  pullback watch --universe kospi-top`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init()
		},
	}

	rootCmd.PersistentFlags().StringVar(&app.cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&app.debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&app.json, "json", false, "output in JSON format")

	rootCmd.AddCommand(
		newAnalyzeCmd(app),
		newScanCmd(app),
		newBacktestCmd(app),
		newServeCmd(app),
		newWatchCmd(app),
		newExportCmd(app),
		newQuoteCmd(app),
	)
	return rootCmd
}

func (a *App) init() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.debug {
		cfg.Log.Level = "debug"
	}
	a.Config = cfg
	a.Log = logging.New(cfg.Log)
	return nil
}

// newGate builds the decision gate from config. sequential overrides the
// configured search mode when set.
func (a *App) newGate(sequential bool) *sig.Gate {
	gcfg := a.Config.ToGateConfig()
	if sequential {
		gcfg.Sequential = true
	}
	analyzer := pattern.NewAnalyzer(a.Config.ToPatternConfig())
	return sig.NewGate(gcfg, analyzer, nil).WithHours(a.Config.Hours())
}

// newProvider chains KIS ahead of the CSV directory and wraps the chain
// in the session cache
func (a *App) newProvider() (provider.Provider, func()) {
	var chain []provider.Provider
	if a.Config.HasKIS() {
		client := kis.NewClient(a.Config.KIS.Credentials, a.Config.KIS.Options, a.Log)
		chain = append(chain, provider.NewKISProvider(client))
	}
	if a.Config.Scanner.DataDir != "" {
		chain = append(chain, provider.NewFileProvider(a.Config.Scanner.DataDir))
	}

	var p provider.Provider = provider.NewFallbackProvider(chain...)
	if a.Config.Redis.Enabled {
		rc := provider.NewRedisCache(p, a.Config.Redis, a.Log)
		return rc, func() { rc.Close() }
	}
	return provider.NewCachingProvider(p, a.Config.Scanner.CacheTTL), func() {}
}

// parseDate reads YYYY-MM-DD in the venue timezone; empty means today
func (a *App) parseDate(v string) (time.Time, error) {
	loc := a.Config.Hours().Location()
	if v == "" {
		now := time.Now().In(loc)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc), nil
	}
	t, err := time.ParseInLocation("2006-01-02", v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, use YYYY-MM-DD", v)
	}
	return t, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case s := <-sigChan:
			log.Info().Str("signal", s.String()).Msg("interrupted, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func newProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func outputJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
