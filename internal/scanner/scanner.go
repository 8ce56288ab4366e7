package scanner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"pullback/internal/provider"
	"pullback/internal/signal"
	"pullback/pkg/model"
)

// ProgressCallback is called with progress updates
type ProgressCallback func(scanned, total int)

// Config holds scanner settings
type Config struct {
	Workers  int
	Timeout  time.Duration
	Interval int // minutes per bar
}

// DefaultConfig returns five workers on 3-minute bars
func DefaultConfig() Config {
	return Config{Workers: 5, Timeout: 2 * time.Minute, Interval: 3}
}

// Result is the outcome for one symbol. Err is set when the session could
// not be loaded; Decision is nil in that case.
type Result struct {
	Stock    model.Stock      `json:"stock"`
	Bars     int              `json:"bars"`
	Decision *signal.Decision `json:"decision,omitempty"`
	Err      error            `json:"-"`
	Error    string           `json:"error,omitempty"`
}

// ScanResult holds one scan over a watchlist
type ScanResult struct {
	Date         time.Time     `json:"date"`
	TotalScanned int           `json:"total_scanned"`
	BuyCount     int           `json:"buy_count"`
	ErrorCount   int           `json:"error_count"`
	Results      []Result      `json:"results"` // input order
	ScanTime     time.Duration `json:"scan_time"`
}

// Buys returns the results that are buy signals
func (r *ScanResult) Buys() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Decision.IsBuy() {
			out = append(out, res)
		}
	}
	return out
}

// Scanner performs parallel session scanning
type Scanner struct {
	provider     provider.Provider
	gate         *signal.Gate
	cfg          Config
	now          func() time.Time
	log          zerolog.Logger
	progressFunc ProgressCallback
}

// NewScanner creates a new scanner
func NewScanner(p provider.Provider, gate *signal.Gate, cfg Config, log zerolog.Logger) *Scanner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Interval < 1 {
		cfg.Interval = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Scanner{
		provider: p,
		gate:     gate,
		cfg:      cfg,
		now:      time.Now,
		log:      log.With().Str("component", "scanner").Logger(),
	}
}

// SetProgressCallback sets the progress callback function
func (s *Scanner) SetProgressCallback(fn ProgressCallback) {
	s.progressFunc = fn
}

// Gate returns the gate used for evaluation
func (s *Scanner) Gate() *signal.Gate {
	return s.gate
}

type job struct {
	idx   int
	stock model.Stock
}

// Scan evaluates the session of date for every stock. Results keep the
// order of stocks regardless of completion order.
func (s *Scanner) Scan(ctx context.Context, stocks []model.Stock, date time.Time) (*ScanResult, error) {
	startTime := time.Now()

	out := &ScanResult{
		Date:         date,
		TotalScanned: len(stocks),
		Results:      make([]Result, len(stocks)),
	}
	if len(stocks) == 0 {
		out.ScanTime = time.Since(startTime)
		return out, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	jobChan := make(chan job, len(stocks))
	for i, stock := range stocks {
		out.Results[i] = Result{Stock: stock}
		jobChan <- job{idx: i, stock: stock}
	}
	close(jobChan)

	var scannedCount int64
	var wg sync.WaitGroup
	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobChan {
				if ctx.Err() != nil {
					out.Results[j.idx].Err = ctx.Err()
					continue
				}
				out.Results[j.idx] = s.scanOne(ctx, j.stock, date)

				count := atomic.AddInt64(&scannedCount, 1)
				if s.progressFunc != nil {
					s.progressFunc(int(count), len(stocks))
				}
			}
		}()
	}
	wg.Wait()

	for i := range out.Results {
		res := &out.Results[i]
		if res.Err != nil {
			res.Error = res.Err.Error()
			out.ErrorCount++
		}
		if res.Decision.IsBuy() {
			out.BuyCount++
		}
	}
	out.ScanTime = time.Since(startTime)

	s.log.Info().
		Int("scanned", out.TotalScanned).
		Int("buys", out.BuyCount).
		Int("errors", out.ErrorCount).
		Dur("elapsed", out.ScanTime).
		Msg("scan complete")

	return out, ctx.Err()
}

func (s *Scanner) scanOne(ctx context.Context, stock model.Stock, date time.Time) Result {
	res := Result{Stock: stock}

	data, err := s.provider.GetMinuteCandles(ctx, stock.Symbol, date, s.cfg.Interval)
	if err != nil {
		s.log.Debug().Err(err).Str("symbol", stock.Symbol).Msg("session unavailable")
		res.Err = err
		return res
	}

	res.Bars = len(data.Candles)
	res.Decision = s.gate.Evaluate(stock.Symbol, data.Candles, s.now())
	return res
}

// ScanSymbols scans bare symbol codes
func (s *Scanner) ScanSymbols(ctx context.Context, symbols []string, date time.Time) (*ScanResult, error) {
	stocks := make([]model.Stock, len(symbols))
	for i, sym := range symbols {
		stocks[i] = model.Stock{
			Symbol:   sym,
			Name:     sym,
			Exchange: s.gate.Hours().Code,
		}
	}
	return s.Scan(ctx, stocks, date)
}
