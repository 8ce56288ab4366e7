package daemon

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pullback/internal/logging"
	"pullback/internal/market"
	"pullback/internal/notify"
	"pullback/internal/predictor"
	"pullback/internal/provider"
	"pullback/internal/scanner"
	"pullback/internal/signal"
	"pullback/internal/store/sqlite"
	"pullback/internal/timeframe"
	"pullback/pkg/model"
)

// Config 데몬 설정
type Config struct {
	// 마켓 설정
	WaitForMarket bool          // 마켓 열릴 때까지 대기
	MaxWaitTime   time.Duration // 최대 대기 시간

	// 스캔 설정
	Interval    int           // 봉 간격 (분)
	SettleDelay time.Duration // 봉 마감 후 데이터 반영 대기

	// 신호 설정
	MLThreshold float64 // ML 승률 하한
	PublishAll  bool    // BUY 외 판정도 발행
	TakeProfit  float64 // 익절 (%)
	StopLoss    float64 // 손절 (%)
	RiskExits   bool    // 리스크 감지 시 청산
	Risk        signal.RiskConfig

	DataDir string
}

// DefaultConfig 기본 설정
func DefaultConfig() Config {
	return Config{
		WaitForMarket: true,
		MaxWaitTime:   2 * time.Hour,
		Interval:      3,
		SettleDelay:   5 * time.Second,
		MLThreshold:   predictor.DefaultConfig().Threshold,
		TakeProfit:    3.0,
		StopLoss:      2.5,
		RiskExits:     true,
		Risk:          signal.DefaultRiskConfig(),
	}
}

// PatternLog 패턴 기록 저장소
type PatternLog interface {
	Save(ctx context.Context, rec *sqlite.PatternRecord) error
	UpdateOutcome(ctx context.Context, id, result string, profitPct float64) error
}

// Deps 데몬 의존성
type Deps struct {
	Scanner  *scanner.Scanner
	Provider provider.Provider
	Store    PatternLog        // nil이면 저장 안 함
	Notifier notify.Notifier   // nil이면 Nop
	Filter   *predictor.Filter // nil이면 모든 신호 통과
	Log      zerolog.Logger
}

// CycleResult 한 번의 스캔 주기 결과
type CycleResult struct {
	At        time.Time
	Evaluated int
	Saved     int
	Published int
	Filtered  int
	Closed    int
	Errors    int
}

// Daemon 장중 패턴 감시 데몬
type Daemon struct {
	config   Config
	stocks   []model.Stock
	scanner  *scanner.Scanner
	provider provider.Provider
	hours    *market.Hours
	store    PatternLog
	notifier notify.Notifier
	filter   *predictor.Filter
	tracker  *SessionTracker
	log      zerolog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	seen map[string]time.Time // symbol -> 마지막으로 처리한 봉
	open map[string]*openSignal

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewDaemon 생성자
func NewDaemon(cfg Config, stocks []model.Stock, deps Deps) *Daemon {
	if cfg.Interval < 1 {
		cfg.Interval = 3
	}
	n := deps.Notifier
	if n == nil {
		n = notify.Nop{}
	}
	return &Daemon{
		config:   cfg,
		stocks:   stocks,
		scanner:  deps.Scanner,
		provider: deps.Provider,
		hours:    deps.Scanner.Gate().Hours(),
		store:    deps.Store,
		notifier: n,
		filter:   deps.Filter,
		tracker:  NewSessionTracker(cfg.DataDir),
		log:      logging.WithComponent(deps.Log, "daemon"),
		now:      time.Now,
		sleep:    sleepCtx,
		seen:     make(map[string]time.Time),
		open:     make(map[string]*openSignal),
	}
}

// Tracker 일일 추적기
func (d *Daemon) Tracker() *SessionTracker {
	return d.tracker
}

// Run 데몬 실행. 장 마감 청산 시각 또는 ctx 취소까지 봉 단위로 스캔
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer cancel()

	d.log.Info().Int("watchlist", len(d.stocks)).Msg("starting pattern watch daemon")

	// 1. 마켓 상태 확인
	now := d.now()
	status := d.hours.Status(now)
	d.log.Info().
		Str("state", status.State).
		Str("local", status.Now.Format("15:04")).
		Msg(d.hours.Info(now))

	if !status.IsOpen {
		if !d.config.WaitForMarket {
			d.log.Info().Msg("market closed and wait disabled, exiting")
			return nil
		}
		if status.TimeToOpen > d.config.MaxWaitTime {
			d.log.Info().
				Str("wait", market.FormatDuration(status.TimeToOpen)).
				Str("max", market.FormatDuration(d.config.MaxWaitTime)).
				Msg("wait time too long, exiting")
			return nil
		}

		d.log.Info().Str("wait", market.FormatDuration(status.TimeToOpen)).Msg("market closed, waiting for open")
		if err := d.sleep(ctx, status.TimeToOpen); err != nil {
			return nil
		}
		now = d.now()
	}

	// 2. 일일 트래커 시작
	date := now.In(d.hours.Location())
	if err := d.tracker.Start(date, d.hours.Code, len(d.stocks)); err != nil {
		d.log.Warn().Err(err).Msg("failed to start session tracker")
	}

	// 3. 메인 루프
	reason := d.mainLoop(ctx)
	return d.shutdown(reason, date)
}

func (d *Daemon) mainLoop(ctx context.Context) string {
	for {
		now := d.now()
		if d.hours.IsEODLiquidation(now) {
			return "eod"
		}

		if _, err := d.RunCycle(ctx, now); err != nil && ctx.Err() == nil {
			d.log.Error().Err(err).Msg("scan cycle failed")
		}
		if ctx.Err() != nil {
			return "cancelled"
		}

		// 새 매수가 끝나고 열린 신호도 없으면 조기 종료
		if d.hours.ShouldStopBuying(now) && len(d.open) == 0 {
			return "buy_cutoff"
		}

		next := nextTick(now, d.config.Interval, d.config.SettleDelay)
		if err := d.sleep(ctx, next.Sub(now)); err != nil {
			return "cancelled"
		}
	}
}

// nextTick 다음 봉 마감 + 반영 대기 시각
func nextTick(now time.Time, interval int, settle time.Duration) time.Time {
	next := timeframe.Floor(now, interval).Add(settle)
	if !next.After(now) {
		next = next.Add(time.Duration(interval) * time.Minute)
	}
	return next
}

// RunCycle 감시 종목을 한 번 스캔하고 새 봉의 판정을 저장/발행
func (d *Daemon) RunCycle(ctx context.Context, at time.Time) (*CycleResult, error) {
	out := &CycleResult{At: at}
	date := at.In(d.hours.Location())

	if !d.hours.ShouldStopBuying(at) {
		res, err := d.scanner.Scan(ctx, d.stocks, date)
		if res == nil {
			return out, err
		}
		out.Errors = res.ErrorCount
		for _, r := range res.Results {
			if r.Decision != nil {
				d.handleDecision(ctx, r.Decision, out)
			}
		}
		if err != nil {
			d.tracker.RecordCycle(out.Errors)
			return out, err
		}
	}

	before := len(d.open)
	d.runInvalidationCheck(ctx, date)
	out.Closed = before - len(d.open)

	d.tracker.RecordCycle(out.Errors)
	d.log.Info().
		Int("evaluated", out.Evaluated).
		Int("saved", out.Saved).
		Int("published", out.Published).
		Int("filtered", out.Filtered).
		Int("closed", out.Closed).
		Int("open", len(d.open)).
		Msg("cycle complete")
	return out, nil
}

func (d *Daemon) handleDecision(ctx context.Context, dec *signal.Decision, out *CycleResult) {
	// 같은 봉 재평가는 건너뜀
	if last, ok := d.seen[dec.Symbol]; ok && !dec.Time.After(last) {
		return
	}
	d.seen[dec.Symbol] = dec.Time
	out.Evaluated++

	logging.LogDecision(d.log, dec.Symbol, string(dec.State), string(dec.SignalType), dec.Confidence, dec.Reasons)

	// 보유 중인 종목의 재신호는 무시
	if _, holding := d.open[dec.Symbol]; holding && dec.IsBuy() {
		d.tracker.RecordDecision(dec, false)
		return
	}

	var rec *sqlite.PatternRecord
	if d.store != nil && dec.Pattern != nil && dec.Pattern.HasPattern {
		rec = sqlite.NewRecord(dec)
		if err := d.store.Save(ctx, rec); err != nil {
			d.log.Warn().Err(err).Str("symbol", dec.Symbol).Msg("failed to save pattern")
			rec = nil
		} else {
			out.Saved++
		}
	}
	d.tracker.RecordDecision(dec, rec != nil)

	env := notify.NewEnvelope(dec)
	env.PublishedAt = d.now()

	if !dec.IsBuy() {
		if d.config.PublishAll {
			d.publish(ctx, env, out)
		}
		return
	}

	entry := 0.0
	if dec.EntryPrice != nil {
		entry = *dec.EntryPrice
	}
	sigLog := SignalLog{
		Symbol:     dec.Symbol,
		SignalTime: dec.Time,
		SignalType: string(dec.SignalType),
		Confidence: dec.Confidence,
		EntryPrice: entry,
	}
	if rec != nil {
		sigLog.RecordID = rec.ID
	}

	if d.filter != nil && dec.Features != nil {
		ok, prob := d.filter.ShouldTrade(ctx, *dec.Features, d.config.MLThreshold)
		env.WinProb = &prob
		sigLog.WinProb = &prob
		if !ok {
			d.log.Info().
				Str("symbol", dec.Symbol).
				Float64("win_prob", prob).
				Float64("threshold", d.config.MLThreshold).
				Msg("signal filtered by model")
			sigLog.Filtered = true
			d.tracker.RecordSignal(sigLog)
			out.Filtered++
			return
		}
	}

	d.tracker.RecordSignal(sigLog)
	if entry > 0 {
		d.open[dec.Symbol] = &openSignal{
			recordID:   sigLog.RecordID,
			symbol:     dec.Symbol,
			signalTime: dec.Time,
			entry:      entry,
			stop:       entry * (1 - d.config.StopLoss/100),
			target:     entry * (1 + d.config.TakeProfit/100),
		}
	}
	d.publish(ctx, env, out)
}

func (d *Daemon) publish(ctx context.Context, env notify.Envelope, out *CycleResult) {
	if err := d.notifier.Notify(ctx, env); err != nil {
		d.log.Warn().Err(err).Str("symbol", env.Symbol).Msg("failed to publish decision")
		return
	}
	out.Published++
}

func (d *Daemon) openSymbols() []string {
	syms := make([]string, 0, len(d.open))
	for s := range d.open {
		syms = append(syms, s)
	}
	sort.Strings(syms)
	return syms
}

// shutdown 남은 신호 청산 후 리포트 저장
func (d *Daemon) shutdown(reason string, date time.Time) error {
	d.log.Info().Str("reason", reason).Msg("shutting down")

	// 취소된 ctx와 무관하게 마무리
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	d.liquidateAll(ctx, date)

	d.tracker.SetStatus(reason)
	path, err := d.tracker.SaveReport()
	if err != nil {
		d.log.Error().Err(err).Msg("failed to save report")
		return fmt.Errorf("failed to save report: %w", err)
	}
	d.log.Info().Str("path", path).Msg("report saved")
	return nil
}

// Stop 데몬 중지
func (d *Daemon) Stop() {
	d.log.Info().Msg("stop requested")
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
