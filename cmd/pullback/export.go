package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pullback/internal/store/duckdb"
	"pullback/internal/store/sqlite"
)

type exportOptions struct {
	parquet     string
	labeledOnly bool
	from        string
	to          string
}

func newExportCmd(app *App) *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export-features",
		Short: "Copy logged pattern features into the DuckDB training set",
		Long: `Read logged patterns from the SQLite log and upsert their feature vectors
with win/loss labels into DuckDB, optionally writing a parquet file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), app, opts)
		},
	}

	cmd.Flags().StringVar(&opts.parquet, "parquet", "", "also write the table to this parquet file")
	cmd.Flags().BoolVar(&opts.labeledOnly, "labeled", false, "only export patterns with a trade result")
	cmd.Flags().StringVar(&opts.from, "from", "", "first signal date YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.to, "to", "", "last signal date YYYY-MM-DD")
	return cmd
}

func runExport(ctx context.Context, app *App, opts *exportOptions) error {
	filter := sqlite.Filter{}
	if opts.labeledOnly {
		labeled := true
		filter.Labeled = &labeled
	}
	if opts.from != "" {
		from, err := app.parseDate(opts.from)
		if err != nil {
			return err
		}
		filter.From = from
	}
	if opts.to != "" {
		to, err := app.parseDate(opts.to)
		if err != nil {
			return err
		}
		filter.To = to.AddDate(0, 0, 1)
	}

	store, err := sqlite.Open(app.Config.Store.SQLitePath, app.Log)
	if err != nil {
		return fmt.Errorf("opening pattern log: %w", err)
	}
	defer store.Close()

	records, err := store.List(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing patterns: %w", err)
	}

	rows := make([]duckdb.Row, 0, len(records))
	for _, rec := range records {
		if row, ok := duckdb.FromRecord(rec); ok {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		fmt.Fprintf(os.Stderr, "No feature rows among %d patterns.\n", len(records))
		return nil
	}

	path := app.Config.Store.DuckDBPath
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	ds, err := duckdb.Open(path)
	if err != nil {
		return err
	}
	defer ds.Close()

	if err := ds.InsertBatch(ctx, rows); err != nil {
		return err
	}

	total, err := ds.Count(ctx, false)
	if err != nil {
		return err
	}
	labeled, err := ds.Count(ctx, true)
	if err != nil {
		return err
	}
	winRate, err := ds.WinRate(ctx)
	if err != nil {
		return err
	}

	if opts.parquet != "" {
		if err := ds.ExportParquet(ctx, opts.parquet); err != nil {
			return err
		}
	}

	app.Log.Info().
		Int("exported", len(rows)).
		Int("total", total).
		Int("labeled", labeled).
		Float64("win_rate", winRate).
		Str("parquet", opts.parquet).
		Msg("features exported")

	if app.json {
		return outputJSON(map[string]any{
			"exported": len(rows),
			"total":    total,
			"labeled":  labeled,
			"win_rate": winRate,
			"parquet":  opts.parquet,
		})
	}
	fmt.Printf("Exported %d rows -> %s (%d total, %d labeled, win rate %.1f%%)\n",
		len(rows), path, total, labeled, winRate*100)
	if opts.parquet != "" {
		fmt.Printf("Parquet written to %s\n", opts.parquet)
	}
	return nil
}
