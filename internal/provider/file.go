package provider

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	apperrors "pullback/internal/errors"
	"pullback/internal/market"
	"pullback/internal/pattern"
	"pullback/internal/timeframe"
	"pullback/pkg/model"
)

var csvHeader = []string{"time", "open", "high", "low", "close", "volume"}

// time layouts accepted in the time column, full datetimes first
var timeLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"20060102150405",
	"15:04:05",
	"15:04",
	"150405",
}

// FileProvider serves sessions from CSV files named SYMBOL_YYYYMMDD.csv
type FileProvider struct {
	dir   string
	hours *market.Hours
}

// NewFileProvider creates a provider over dir
func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir, hours: market.KRX()}
}

func (p *FileProvider) Name() string {
	return "file"
}

func (p *FileProvider) IsAvailable() bool {
	info, err := os.Stat(p.dir)
	return err == nil && info.IsDir()
}

// Path returns the file backing one session
func (p *FileProvider) Path(symbol string, date time.Time) string {
	return filepath.Join(p.dir, fmt.Sprintf("%s_%s.csv", symbol, date.In(p.hours.Location()).Format("20060102")))
}

// GetMinuteCandles reads the session file and resamples it to interval
func (p *FileProvider) GetMinuteCandles(ctx context.Context, symbol string, date time.Time, interval int) (*model.IntradayData, error) {
	f, err := os.Open(p.Path(symbol, date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wrapError(p.Name(), symbol, apperrors.ErrNoData)
		}
		return nil, wrapError(p.Name(), symbol, err)
	}
	defer f.Close()

	candles, err := ReadCandlesCSV(f, date.In(p.hours.Location()))
	if err != nil {
		return nil, wrapError(p.Name(), symbol, err)
	}
	if interval > 1 {
		candles = timeframe.Candles(timeframe.Resample(candles, interval))
	}

	return &model.IntradayData{
		Symbol:   symbol,
		Date:     p.hours.OpenTime(date),
		Interval: interval,
		Candles:  candles,
	}, nil
}

// Save writes candles as the session file for symbol and date
func (p *FileProvider) Save(symbol string, date time.Time, candles []model.Candle) error {
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.Create(p.Path(symbol, date))
	if err != nil {
		return fmt.Errorf("create session file: %w", err)
	}
	defer f.Close()
	return WriteCandlesCSV(f, candles)
}

// ReadCandlesCSV parses time,open,high,low,close,volume rows. Time-only
// values are placed on date. Numbers may carry thousands separators.
// Rows are returned in ascending time order.
func ReadCandlesCSV(r io.Reader, date time.Time) ([]model.Candle, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, apperrors.ErrNoData
	}

	col := map[string]int{}
	start := 0
	if _, err := parseTime(rows[0][0], date); err != nil {
		for i, name := range rows[0] {
			col[strings.ToLower(strings.TrimSpace(name))] = i
		}
		start = 1
	} else {
		for i, name := range csvHeader {
			col[name] = i
		}
	}
	for _, name := range csvHeader {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}

	raw := make([]model.RawBar, 0, len(rows)-start)
	for i, row := range rows[start:] {
		ts, err := parseTime(row[col["time"]], date)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+start+1, err)
		}
		raw = append(raw, model.RawBar{
			Time:   ts,
			Open:   row[col["open"]],
			High:   row[col["high"]],
			Low:    row[col["low"]],
			Close:  row[col["close"]],
			Volume: row[col["volume"]],
		})
	}

	candles := pattern.ParseRawBars(raw)
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].Time.Before(candles[j].Time) })
	return candles, nil
}

// WriteCandlesCSV writes candles with a header row
func WriteCandlesCSV(w io.Writer, candles []model.Candle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, c := range candles {
		if err := cw.Write([]string{
			c.Time.Format("2006-01-02 15:04:05"),
			formatFloat(c.Open),
			formatFloat(c.High),
			formatFloat(c.Low),
			formatFloat(c.Close),
			fmt.Sprintf("%d", c.Volume),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseTime(s string, date time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	loc := date.Location()
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		if t.Year() == 0 {
			t = time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func formatFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}
