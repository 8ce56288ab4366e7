package daemon

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "pullback/internal/errors"
	"pullback/internal/feature"
	"pullback/internal/market"
	"pullback/internal/notify"
	"pullback/internal/predictor"
	"pullback/internal/scanner"
	"pullback/internal/signal"
	"pullback/internal/store/sqlite"
	"pullback/internal/testutil"
	"pullback/pkg/model"
)

type liveProvider struct {
	mu       sync.Mutex
	sessions map[string][]model.Candle
}

func (p *liveProvider) Name() string      { return "live" }
func (p *liveProvider) IsAvailable() bool { return true }

func (p *liveProvider) GetMinuteCandles(ctx context.Context, symbol string, date time.Time, interval int) (*model.IntradayData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	candles, ok := p.sessions[symbol]
	if !ok {
		return nil, apperrors.ErrNoData
	}
	return &model.IntradayData{Symbol: symbol, Date: date, Interval: interval, Candles: candles}, nil
}

func (p *liveProvider) set(symbol string, candles []model.Candle) {
	p.mu.Lock()
	p.sessions[symbol] = candles
	p.mu.Unlock()
}

type memLog struct {
	records  []*sqlite.PatternRecord
	outcomes map[string]string
	pcts     map[string]float64
}

func newMemLog() *memLog {
	return &memLog{outcomes: map[string]string{}, pcts: map[string]float64{}}
}

func (m *memLog) Save(ctx context.Context, rec *sqlite.PatternRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memLog) UpdateOutcome(ctx context.Context, id, result string, pct float64) error {
	m.outcomes[id] = result
	m.pcts[id] = pct
	return nil
}

func newTestDaemon(t *testing.T, p *liveProvider, filter *predictor.Filter) (*Daemon, *memLog, *notify.Recorder) {
	t.Helper()
	gate := signal.NewGate(signal.DefaultConfig(), nil, nil)
	sc := scanner.NewScanner(p, gate, scanner.Config{Workers: 2, Timeout: 10 * time.Second, Interval: 3}, zerolog.Nop())

	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	stocks := []model.Stock{{Symbol: "005930", Name: "삼성전자", Exchange: "KRX"}, {Symbol: "000660", Name: "SK하이닉스", Exchange: "KRX"}}

	log := newMemLog()
	rec := &notify.Recorder{}
	d := NewDaemon(cfg, stocks, Deps{
		Scanner:  sc,
		Provider: p,
		Store:    log,
		Notifier: rec,
		Filter:   filter,
		Log:      zerolog.Nop(),
	})
	return d, log, rec
}

func newLiveProvider() *liveProvider {
	return &liveProvider{sessions: map[string][]model.Candle{
		"005930": testutil.PatternSession(),
		"000660": testutil.FlatSession(14),
	}}
}

func TestRunCycle_SignalLifecycle(t *testing.T) {
	p := newLiveProvider()
	d, log, rec := newTestDaemon(t, p, nil)
	d.tracker.Start(testutil.Session(), "KRX", 2)
	ctx := context.Background()

	out, err := d.RunCycle(ctx, testutil.KST(9, 42).Add(5*time.Second))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if out.Evaluated != 2 || out.Saved != 1 || out.Published != 1 {
		t.Errorf("Expected 2 evaluated / 1 saved / 1 published, got %+v", out)
	}
	if len(log.records) != 1 || log.records[0].State != string(signal.StateBuy) {
		t.Fatalf("Expected the buy to be saved, got %+v", log.records)
	}
	envs := rec.Envelopes()
	if len(envs) != 1 || envs[0].State != "BUY" || envs[0].WinProb != nil {
		t.Errorf("Expected one BUY envelope without a model probability, got %+v", envs)
	}
	if _, ok := d.open["005930"]; !ok {
		t.Fatal("Expected an open signal for 005930")
	}

	// the same bars again
	out, _ = d.RunCycle(ctx, testutil.KST(9, 45).Add(5*time.Second))
	if out.Evaluated != 0 || out.Published != 0 {
		t.Errorf("Expected repeated bars to be skipped, got %+v", out)
	}

	// the next bar reaches the 3% target
	p.set("005930", testutil.Continue(testutil.PatternSession(), 3, []testutil.Bar{{110.5, 114, 300}}))
	out, _ = d.RunCycle(ctx, testutil.KST(9, 45).Add(5*time.Second))
	if out.Closed != 1 || len(d.open) != 0 {
		t.Errorf("Expected the signal to close, got %+v", out)
	}

	id := log.records[0].ID
	if log.outcomes[id] != sqlite.ResultWin || math.Abs(log.pcts[id]-3) > 1e-6 {
		t.Errorf("Expected WIN at +3%%, got %s %.4f", log.outcomes[id], log.pcts[id])
	}
	envs = rec.Envelopes()
	last := envs[len(envs)-1]
	if last.State != notify.StateExit || last.ExitReason != ExitTarget {
		t.Errorf("Expected a target exit envelope, got %+v", last)
	}

	st := d.tracker.GetState()
	if st.Cycles != 3 || st.WinCount != 1 || len(st.Signals) != 1 || st.Signals[0].Result != sqlite.ResultWin {
		t.Errorf("Unexpected tracker state %+v", st)
	}
	if st.States[string(signal.StateAvoidHardFilter)] != 1 {
		t.Errorf("Expected one hard-filter decision, got %v", st.States)
	}
}

func TestRunCycle_ModelFilter(t *testing.T) {
	tests := []struct {
		name      string
		prob      float64
		published int
		filtered  int
	}{
		{"below threshold", 0.3, 0, 1},
		{"above threshold", 0.8, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := predictor.Func(func(ctx context.Context, vec feature.Vector) (float64, error) {
				return tt.prob, nil
			})
			d, _, rec := newTestDaemon(t, newLiveProvider(), predictor.NewFilter(m, zerolog.Nop()))
			d.tracker.Start(testutil.Session(), "KRX", 2)

			out, err := d.RunCycle(context.Background(), testutil.KST(9, 42))
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if out.Published != tt.published || out.Filtered != tt.filtered {
				t.Errorf("Expected %d published / %d filtered, got %+v", tt.published, tt.filtered, out)
			}
			if (len(d.open) == 1) != (tt.published == 1) {
				t.Errorf("Expected open signals to follow publishing, got %d", len(d.open))
			}
			if tt.published == 1 {
				env := rec.Envelopes()[0]
				if env.WinProb == nil || *env.WinProb != tt.prob {
					t.Errorf("Expected win_prob %.1f, got %v", tt.prob, env.WinProb)
				}
			}
			sig := d.tracker.GetState().Signals
			if len(sig) != 1 || sig[0].Filtered != (tt.filtered == 1) {
				t.Errorf("Unexpected signal log %+v", sig)
			}
		})
	}
}

func TestRunCycle_AfterCutoff(t *testing.T) {
	p := newLiveProvider()
	d, log, rec := newTestDaemon(t, p, nil)
	d.tracker.Start(testutil.Session(), "KRX", 2)

	out, _ := d.RunCycle(context.Background(), testutil.KST(12, 3))
	if out.Evaluated != 0 || len(log.records) != 0 || len(rec.Envelopes()) != 0 {
		t.Errorf("Expected no scanning after the buy cutoff, got %+v", out)
	}
}

func TestFindExit(t *testing.T) {
	sig := &openSignal{symbol: "005930", signalTime: testutil.KST(9, 39), entry: 110.4}
	sig.stop = sig.entry * 0.975
	sig.target = sig.entry * 1.03
	hours := market.KRX()
	risk := signal.DefaultRiskConfig()

	tests := []struct {
		name    string
		candles []model.Candle
		open    bool
		reason  string
		price   float64
	}{
		{"no bars after signal", testutil.PatternSession(), true, "", 0},
		{"target", testutil.Continue(testutil.PatternSession(), 3, []testutil.Bar{{110.5, 114, 300}}), false, ExitTarget, sig.target},
		{"stop", testutil.Continue(testutil.PatternSession(), 3, []testutil.Bar{{110.5, 107, 300}}), false, ExitStop, sig.stop},
		{"still open", testutil.Continue(testutil.PatternSession(), 3, []testutil.Bar{{110.5, 110.6, 300}}), true, "", 0},
		{"bearish volume", testutil.Continue(testutil.PatternSession(), 3, []testutil.Bar{{110.5, 110.6, 300}, {110.6, 109.9, 5000}}), false, string(signal.RiskBearishVolume), 109.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, closed := findExit(sig, tt.candles, hours, risk, true)
			if closed == tt.open {
				t.Fatalf("Expected open=%v, got exit %+v", tt.open, ev)
			}
			if closed && (ev.reason != tt.reason || math.Abs(ev.price-tt.price) > 1e-6) {
				t.Errorf("Expected %s at %.3f, got %s at %.3f", tt.reason, tt.price, ev.reason, ev.price)
			}
		})
	}
}

func TestNextTick(t *testing.T) {
	tests := []struct {
		now  time.Time
		want time.Time
	}{
		{testutil.KST(9, 40), testutil.KST(9, 42).Add(5 * time.Second)},
		{testutil.KST(9, 42).Add(2 * time.Second), testutil.KST(9, 42).Add(5 * time.Second)},
		{testutil.KST(9, 42).Add(5 * time.Second), testutil.KST(9, 45).Add(5 * time.Second)},
	}
	for _, tt := range tests {
		if got := nextTick(tt.now, 3, 5*time.Second); !got.Equal(tt.want) {
			t.Errorf("Expected next tick %s for %s, got %s", tt.want.Format("15:04:05"), tt.now.Format("15:04:05"), got.Format("15:04:05"))
		}
	}
}

func TestRun_MarketClosed(t *testing.T) {
	d, _, _ := newTestDaemon(t, newLiveProvider(), nil)
	d.config.WaitForMarket = false
	// Saturday
	d.now = func() time.Time { return testutil.KST(10, 0).AddDate(0, 0, 4) }

	if err := d.Run(context.Background()); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	if d.tracker.GetState().Cycles != 0 {
		t.Error("Expected no cycles while closed")
	}
}

func TestRun_CancelledSavesReport(t *testing.T) {
	d, _, rec := newTestDaemon(t, newLiveProvider(), nil)
	d.now = func() time.Time { return testutil.KST(9, 42).Add(5 * time.Second) }
	d.sleep = func(ctx context.Context, _ time.Duration) error { return context.Canceled }

	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	st := d.tracker.GetState()
	if st.Status != "cancelled" || st.Cycles != 1 {
		t.Errorf("Expected one cycle then cancelled, got %s / %d", st.Status, st.Cycles)
	}
	if len(rec.Envelopes()) != 1 {
		t.Errorf("Expected the buy to be published, got %d", len(rec.Envelopes()))
	}

	data, err := os.ReadFile(d.tracker.stateFilePath("2025-03-04"))
	if err != nil {
		t.Fatalf("Expected a session file: %v", err)
	}
	if !strings.Contains(string(data), `"status": "cancelled"`) {
		t.Errorf("Unexpected session file %s", data)
	}
	report, err := os.ReadFile(d.tracker.dataDir + "/report_2025-03-04.txt")
	if err != nil {
		t.Fatalf("Expected a report: %v", err)
	}
	if !strings.Contains(string(report), "DAILY SIGNAL REPORT") || !strings.Contains(string(report), "005930") {
		t.Errorf("Unexpected report:\n%s", report)
	}
}

func TestSessionTracker_Restore(t *testing.T) {
	dir := t.TempDir()
	tr := NewSessionTracker(dir)
	if err := tr.Start(testutil.Session(), "KRX", 10); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	tr.RecordSignal(SignalLog{Symbol: "005930", SignalTime: testutil.KST(9, 39), EntryPrice: 110.4})
	tr.RecordCycle(2)

	again := NewSessionTracker(dir)
	again.Start(testutil.Session(), "KRX", 12)
	st := again.GetState()
	if st.Cycles != 1 || st.Errors != 2 || len(st.Signals) != 1 || st.Watchlist != 12 {
		t.Errorf("Expected restored state, got %+v", st)
	}
	if !again.RecordExit("005930", testutil.KST(9, 39), testutil.KST(9, 45), ExitStop, 107.64, -2.5, sqlite.ResultLoss) {
		t.Error("Expected the exit to match the signal")
	}
	if again.RecordExit("000660", testutil.KST(9, 39), testutil.KST(9, 45), ExitStop, 1, -1, sqlite.ResultLoss) {
		t.Error("Expected no match for an unknown symbol")
	}
	if st := again.GetState(); st.LossCount != 1 {
		t.Errorf("Expected 1 loss, got %d", st.LossCount)
	}
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if err := sleepCtx(context.Background(), time.Millisecond); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}
