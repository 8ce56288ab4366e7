package duckdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pullback/internal/feature"
	"pullback/internal/store/sqlite"
)

func openMemory(t *testing.T) *Dataset {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open dataset: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func row(id string, label int) Row {
	return Row{
		PatternID:  id,
		Symbol:     "005930",
		SignalTime: time.Date(2025, 3, 4, 9, 39, 0, 0, time.UTC),
		Features:   feature.Vector{Hour: 9, Minute: 39, Confidence: 85},
		Label:      label,
	}
}

func TestInsertAndCount(t *testing.T) {
	d := openMemory(t)
	ctx := context.Background()

	if err := d.Insert(ctx, row("a", LabelWin)); err != nil {
		t.Fatalf("Unexpected insert error: %v", err)
	}
	if err := d.InsertBatch(ctx, []Row{row("b", LabelLoss), row("c", LabelUnknown), row("a", LabelLoss)}); err != nil {
		t.Fatalf("Unexpected batch error: %v", err)
	}

	total, err := d.Count(ctx, false)
	if err != nil {
		t.Fatalf("Unexpected count error: %v", err)
	}
	if total != 3 {
		t.Errorf("Expected upsert to keep 3 rows, got %d", total)
	}

	labeled, _ := d.Count(ctx, true)
	if labeled != 2 {
		t.Errorf("Expected 2 labeled rows, got %d", labeled)
	}

	rate, err := d.WinRate(ctx)
	if err != nil {
		t.Fatalf("Unexpected win rate error: %v", err)
	}
	if rate != 0 {
		t.Errorf("Expected win rate 0 after relabeling, got %f", rate)
	}
}

func TestExportParquet(t *testing.T) {
	d := openMemory(t)
	ctx := context.Background()
	if err := d.InsertBatch(ctx, []Row{row("a", LabelWin), row("b", LabelLoss)}); err != nil {
		t.Fatalf("Unexpected batch error: %v", err)
	}

	path := filepath.Join(t.TempDir(), "features.parquet")
	if err := d.ExportParquet(ctx, path); err != nil {
		t.Fatalf("Unexpected export error: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Errorf("Expected a non-empty parquet file, got %v", err)
	}
}

func TestFromRecord(t *testing.T) {
	vec := feature.Vector{Confidence: 70}
	tests := []struct {
		name   string
		result string
		profit float64
		want   int
	}{
		{"win", sqlite.ResultWin, 3, LabelWin},
		{"loss", sqlite.ResultLoss, -2.5, LabelLoss},
		{"eod gain", sqlite.ResultEOD, 0.4, LabelWin},
		{"eod loss", sqlite.ResultEOD, -0.1, LabelLoss},
		{"open", "", 0, LabelUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := FromRecord(&sqlite.PatternRecord{ID: "x", Features: &vec, TradeResult: tt.result, ProfitPct: tt.profit})
			if !ok {
				t.Fatal("Expected a row")
			}
			if r.Label != tt.want {
				t.Errorf("Expected label %d, got %d", tt.want, r.Label)
			}
		})
	}

	if _, ok := FromRecord(&sqlite.PatternRecord{ID: "y"}); ok {
		t.Error("Expected records without features to be skipped")
	}
}
