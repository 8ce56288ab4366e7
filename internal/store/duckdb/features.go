// Package duckdb holds the columnar feature dataset used to train the
// win-probability model.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"pullback/internal/feature"
	"pullback/internal/store/sqlite"
)

// Labels of a feature row
const (
	LabelUnknown = -1
	LabelLoss    = 0
	LabelWin     = 1
)

// Row is one training example
type Row struct {
	PatternID  string
	Symbol     string
	SignalTime time.Time
	Features   feature.Vector
	Label      int
}

// FromRecord builds a row from a pattern log record. Records without
// features yield false.
func FromRecord(rec *sqlite.PatternRecord) (Row, bool) {
	if rec == nil || rec.Features == nil {
		return Row{}, false
	}
	label := LabelUnknown
	switch rec.TradeResult {
	case sqlite.ResultWin:
		label = LabelWin
	case sqlite.ResultLoss:
		label = LabelLoss
	case sqlite.ResultEOD:
		if rec.ProfitPct > 0 {
			label = LabelWin
		} else {
			label = LabelLoss
		}
	}
	return Row{
		PatternID:  rec.ID,
		Symbol:     rec.Symbol,
		SignalTime: rec.SignalTime,
		Features:   *rec.Features,
		Label:      label,
	}, true
}

// Dataset manages the pattern_features table
type Dataset struct {
	db   *sql.DB
	path string
}

// Open opens the dataset. path may be ":memory:".
func Open(path string) (*Dataset, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping duckdb: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	d := &Dataset{db: db, path: path}
	if _, err := db.Exec(createTable()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create pattern_features: %w", err)
	}
	return d, nil
}

func createTable() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS pattern_features (\n")
	b.WriteString("    pattern_id VARCHAR PRIMARY KEY,\n")
	b.WriteString("    symbol VARCHAR NOT NULL,\n")
	b.WriteString("    signal_time TIMESTAMP NOT NULL,\n")
	for _, name := range feature.Names {
		fmt.Fprintf(&b, "    %s DOUBLE,\n", name)
	}
	b.WriteString("    label INTEGER NOT NULL\n);")
	return b.String()
}

func upsertQuery() string {
	cols := append([]string{"pattern_id", "symbol", "signal_time"}, feature.Names...)
	cols = append(cols, "label")

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	updates := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}

	return fmt.Sprintf("INSERT INTO pattern_features (%s) VALUES (%s) ON CONFLICT (pattern_id) DO UPDATE SET %s",
		strings.Join(cols, ", "), placeholders, strings.Join(updates, ", "))
}

func rowArgs(r Row) []any {
	args := make([]any, 0, len(feature.Names)+4)
	args = append(args, r.PatternID, r.Symbol, r.SignalTime.UTC())
	for _, v := range r.Features.Values() {
		args = append(args, v)
	}
	return append(args, r.Label)
}

// Insert upserts a single row
func (d *Dataset) Insert(ctx context.Context, r Row) error {
	if _, err := d.db.ExecContext(ctx, upsertQuery(), rowArgs(r)...); err != nil {
		return fmt.Errorf("failed to insert feature row: %w", err)
	}
	return nil
}

// InsertBatch upserts rows in one transaction
func (d *Dataset) InsertBatch(ctx context.Context, rows []Row) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertQuery())
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, rowArgs(r)...); err != nil {
			return fmt.Errorf("failed to insert feature row %s: %w", r.PatternID, err)
		}
	}
	return tx.Commit()
}

// Count returns the number of rows, optionally only labeled ones
func (d *Dataset) Count(ctx context.Context, labeledOnly bool) (int, error) {
	query := "SELECT COUNT(*) FROM pattern_features"
	if labeledOnly {
		query += fmt.Sprintf(" WHERE label != %d", LabelUnknown)
	}
	var n int
	if err := d.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count feature rows: %w", err)
	}
	return n, nil
}

// WinRate returns the share of labeled rows that won
func (d *Dataset) WinRate(ctx context.Context) (float64, error) {
	var rate sql.NullFloat64
	err := d.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT AVG(CASE WHEN label = %d THEN 1.0 ELSE 0.0 END) FROM pattern_features WHERE label != %d",
		LabelWin, LabelUnknown)).Scan(&rate)
	if err != nil {
		return 0, fmt.Errorf("failed to compute win rate: %w", err)
	}
	return rate.Float64, nil
}

// ExportParquet writes the table, ordered by signal time, to a parquet file
func (d *Dataset) ExportParquet(ctx context.Context, path string) error {
	query := fmt.Sprintf("COPY (SELECT * FROM pattern_features ORDER BY signal_time, pattern_id) TO '%s' (FORMAT PARQUET)",
		strings.ReplaceAll(path, "'", "''"))
	if _, err := d.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to export parquet: %w", err)
	}
	return nil
}

// Close closes the database
func (d *Dataset) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
