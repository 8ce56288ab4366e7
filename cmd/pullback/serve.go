package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"pullback/internal/scanner"
	"pullback/internal/store/sqlite"
	"pullback/internal/web"
)

type serveOptions struct {
	port       int
	issueToken string
	tokenTTL   time.Duration
}

func newServeCmd(app *App) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve /api/analyze, /api/scan and /api/patterns over HTTP.

When web.jwt_secret is set every route but /api/health needs a bearer
token; --issue-token prints one and exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.issueToken != "" {
				return issueToken(app, opts)
			}
			ctx, cancel := signalContext(app.Log)
			defer cancel()
			return runServe(ctx, app, opts)
		},
	}

	cmd.Flags().IntVar(&opts.port, "port", 0, "listen port (default from config)")
	cmd.Flags().StringVar(&opts.issueToken, "issue-token", "", "print a bearer token for this subject and exit")
	cmd.Flags().DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of an issued token")
	return cmd
}

func issueToken(app *App, opts *serveOptions) error {
	if app.Config.Web.JWTSecret == "" {
		return fmt.Errorf("web.jwt_secret is not set")
	}
	token, err := web.NewAuth(app.Config.Web.JWTSecret).IssueToken(opts.issueToken, opts.tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// openStore opens the pattern log, creating its directory. Failure is
// logged and yields nil.
func openStore(app *App) *sqlite.Store {
	path := app.Config.Store.SQLitePath
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		app.Log.Warn().Err(err).Str("path", path).Msg("pattern log disabled")
		return nil
	}
	store, err := sqlite.Open(path, app.Log)
	if err != nil {
		app.Log.Warn().Err(err).Str("path", path).Msg("pattern log disabled")
		return nil
	}
	return store
}

func runServe(ctx context.Context, app *App, opts *serveOptions) error {
	p, closeFn := app.newProvider()
	defer closeFn()

	gate := app.newGate(false)
	sc := scanner.NewScanner(p, gate, scanner.Config{
		Workers:  app.Config.Scanner.Workers,
		Timeout:  app.Config.Scanner.Timeout,
		Interval: app.Config.Scanner.Interval,
	}, app.Log)

	deps := web.Deps{Gate: gate, Scanner: sc, Log: app.Log}
	if store := openStore(app); store != nil {
		defer store.Close()
		deps.Patterns = store
	}

	srv := web.NewServer(app.Config.Web, deps)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(opts.port)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	app.Log.Info().Msg("HTTP API stopped")
	return nil
}
