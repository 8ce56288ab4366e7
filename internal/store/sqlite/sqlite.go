// Package sqlite keeps the pattern log: every gate decision that found a
// pattern, together with its stages, features and the trade outcome that
// is filled in later.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	apperrors "pullback/internal/errors"
	"pullback/internal/feature"
	"pullback/internal/pattern"
	"pullback/internal/signal"
)

// Trade outcomes recorded by UpdateOutcome
const (
	ResultWin  = "WIN"
	ResultLoss = "LOSS"
	ResultEOD  = "EOD"
)

// Stages is the stage breakdown persisted with a record
type Stages struct {
	Uptrend  *pattern.Uptrend  `json:"uptrend,omitempty"`
	Decline  *pattern.Decline  `json:"decline,omitempty"`
	Support  *pattern.Support  `json:"support,omitempty"`
	Breakout *pattern.Breakout `json:"breakout,omitempty"`
	Offset   int               `json:"offset"`
}

// PatternRecord is one row of the pattern log
type PatternRecord struct {
	ID          string          `json:"id"`
	Symbol      string          `json:"symbol"`
	SignalTime  time.Time       `json:"signal_time"`
	State       string          `json:"state"`
	SignalType  string          `json:"signal_type"`
	Confidence  float64         `json:"confidence"`
	EntryPrice  float64         `json:"entry_price"`
	Stages      *Stages         `json:"stages,omitempty"`
	Features    *feature.Vector `json:"features,omitempty"`
	Reasons     []string        `json:"reasons"`
	TradeResult string          `json:"trade_result,omitempty"`
	ProfitPct   float64         `json:"profit_pct"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Labeled reports whether the trade outcome is known
func (r *PatternRecord) Labeled() bool {
	return r.TradeResult != ""
}

// NewRecord converts a gate decision into a record with a fresh ID
func NewRecord(d *signal.Decision) *PatternRecord {
	rec := &PatternRecord{
		ID:         uuid.NewString(),
		Symbol:     d.Symbol,
		SignalTime: d.Time,
		State:      string(d.State),
		SignalType: string(d.SignalType),
		Confidence: d.Confidence,
		Features:   d.Features,
		Reasons:    d.Reasons,
	}
	if d.EntryPrice != nil {
		rec.EntryPrice = *d.EntryPrice
	}
	if p := d.Pattern; p != nil && p.HasPattern {
		rec.Stages = &Stages{
			Uptrend:  p.Uptrend,
			Decline:  p.Decline,
			Support:  p.Support,
			Breakout: p.Breakout,
			Offset:   p.Offset,
		}
		if rec.EntryPrice == 0 {
			rec.EntryPrice = p.EntryPrice
		}
	}
	return rec
}

// Filter narrows List results. Zero fields are ignored.
type Filter struct {
	Symbol  string
	State   string
	From    time.Time
	To      time.Time
	Labeled *bool
	Limit   int
}

// Store is the SQLite pattern log
type Store struct {
	db     *sql.DB
	log    zerolog.Logger
	closed atomic.Bool
}

// Open opens (and creates if needed) the pattern log at dbPath
func Open(dbPath string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:  db,
		log: log.With().Str("component", "pattern-log").Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.log.Debug().Str("path", dbPath).Msg("pattern log opened")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS patterns (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		signal_time INTEGER NOT NULL,
		state TEXT NOT NULL,
		signal_type TEXT NOT NULL,
		confidence REAL NOT NULL,
		entry_price REAL,
		stages TEXT,
		features TEXT,
		reasons TEXT,
		trade_result TEXT DEFAULT '',
		profit_pct REAL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_patterns_symbol_time ON patterns(symbol, signal_time);
	CREATE INDEX IF NOT EXISTS idx_patterns_state ON patterns(state);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) check() error {
	if s.closed.Load() {
		return apperrors.ErrStoreClosed
	}
	return nil
}

// Save inserts or replaces rec. A blank ID is filled in.
func (s *Store) Save(ctx context.Context, rec *PatternRecord) error {
	if err := s.check(); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	stages, err := marshalNullable(rec.Stages)
	if err != nil {
		return fmt.Errorf("failed to encode stages: %w", err)
	}
	features, err := marshalNullable(rec.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}
	reasons, _ := json.Marshal(rec.Reasons)

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO patterns (id, symbol, signal_time, state, signal_type, confidence, entry_price, stages, features, reasons, trade_result, profit_pct, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Symbol, rec.SignalTime.UnixMilli(), rec.State, rec.SignalType, rec.Confidence, rec.EntryPrice,
		stages, features, string(reasons), rec.TradeResult, rec.ProfitPct, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, symbol, signal_time, state, signal_type, confidence, COALESCE(entry_price, 0),
	COALESCE(stages, ''), COALESCE(features, ''), COALESCE(reasons, '[]'), COALESCE(trade_result, ''), COALESCE(profit_pct, 0), created_at
	FROM patterns`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*PatternRecord, error) {
	var (
		rec                       PatternRecord
		signalMs, createdMs       int64
		stages, features, reasons string
	)
	if err := row.Scan(&rec.ID, &rec.Symbol, &signalMs, &rec.State, &rec.SignalType, &rec.Confidence, &rec.EntryPrice,
		&stages, &features, &reasons, &rec.TradeResult, &rec.ProfitPct, &createdMs); err != nil {
		return nil, err
	}

	rec.SignalTime = time.UnixMilli(signalMs)
	rec.CreatedAt = time.UnixMilli(createdMs)
	if stages != "" {
		rec.Stages = &Stages{}
		if err := json.Unmarshal([]byte(stages), rec.Stages); err != nil {
			return nil, fmt.Errorf("failed to decode stages: %w", err)
		}
	}
	if features != "" {
		rec.Features = &feature.Vector{}
		if err := json.Unmarshal([]byte(features), rec.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features: %w", err)
		}
	}
	json.Unmarshal([]byte(reasons), &rec.Reasons)
	return &rec, nil
}

// Get loads one record by ID
func (s *Store) Get(ctx context.Context, id string) (*PatternRecord, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pattern %s: %w", id, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return rec, nil
}

// List returns records matching filter, newest signal first
func (s *Store) List(ctx context.Context, filter Filter) ([]*PatternRecord, error) {
	if err := s.check(); err != nil {
		return nil, err
	}

	query := selectColumns + " WHERE 1=1"
	args := []any{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, filter.State)
	}
	if !filter.From.IsZero() {
		query += " AND signal_time >= ?"
		args = append(args, filter.From.UnixMilli())
	}
	if !filter.To.IsZero() {
		query += " AND signal_time <= ?"
		args = append(args, filter.To.UnixMilli())
	}
	if filter.Labeled != nil {
		if *filter.Labeled {
			query += " AND trade_result != ''"
		} else {
			query += " AND trade_result = ''"
		}
	}

	query += " ORDER BY signal_time DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()

	var out []*PatternRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateOutcome records the trade result of a logged pattern
func (s *Store) UpdateOutcome(ctx context.Context, id, result string, profitPct float64) error {
	if err := s.check(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE patterns SET trade_result = ?, profit_pct = ? WHERE id = ?`, result, profitPct, id)
	if err != nil {
		return fmt.Errorf("failed to update pattern outcome: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("pattern %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

// Close closes the database. Later calls return ErrStoreClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func marshalNullable(v any) (any, error) {
	switch x := v.(type) {
	case *Stages:
		if x == nil {
			return nil, nil
		}
	case *feature.Vector:
		if x == nil {
			return nil, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
