package daemon

import (
	"context"
	"time"

	"pullback/internal/market"
	"pullback/internal/notify"
	"pullback/internal/signal"
	"pullback/internal/store/sqlite"
	"pullback/pkg/model"
)

// 청산 사유 (리스크 청산은 RiskKind 문자열 사용)
const (
	ExitTarget = "target"
	ExitStop   = "stop"
	ExitEOD    = "eod"
)

// openSignal 발행 후 아직 청산되지 않은 매수 신호
type openSignal struct {
	recordID   string
	symbol     string
	signalTime time.Time
	entry      float64
	stop       float64
	target     float64
}

// exitEvent 청산 판정 결과
type exitEvent struct {
	at     time.Time
	price  float64
	reason string
}

func (e exitEvent) pct(entry float64) float64 {
	return (e.price/entry - 1) * 100
}

// result 패턴 로그 라벨
func (e exitEvent) result() string {
	switch e.reason {
	case ExitTarget:
		return sqlite.ResultWin
	case ExitStop:
		return sqlite.ResultLoss
	default:
		return sqlite.ResultEOD
	}
}

// findExit scans the bars after the signal bar in order. The first bar may
// only stop out or reach the target; risk kinds are read from the bar close
// starting with the second. Returns false while the signal is still open.
func findExit(sig *openSignal, candles []model.Candle, hours *market.Hours, risk signal.RiskConfig, riskExits bool) (exitEvent, bool) {
	first := -1
	for k, c := range candles {
		if !c.Time.After(sig.signalTime) {
			continue
		}
		if first < 0 {
			first = k
		}
		switch {
		case c.Low <= sig.stop:
			return exitEvent{at: c.Time, price: sig.stop, reason: ExitStop}, true
		case c.High >= sig.target:
			return exitEvent{at: c.Time, price: sig.target, reason: ExitTarget}, true
		}
		if riskExits && k > first {
			for _, r := range signal.DetectRisks(risk, candles[:k+1], sig.entry) {
				if r != signal.RiskTargetReached {
					return exitEvent{at: c.Time, price: c.Close, reason: string(r)}, true
				}
			}
		}
		if hours.IsEODLiquidation(c.Time) {
			return exitEvent{at: c.Time, price: c.Close, reason: ExitEOD}, true
		}
	}
	return exitEvent{}, false
}

// runInvalidationCheck 열린 신호마다 세션을 다시 읽어 청산 조건 확인
func (d *Daemon) runInvalidationCheck(ctx context.Context, date time.Time) {
	if len(d.open) == 0 {
		return
	}

	for _, sym := range d.openSymbols() {
		sig := d.open[sym]
		data, err := d.provider.GetMinuteCandles(ctx, sym, date, d.config.Interval)
		if err != nil {
			d.log.Warn().Err(err).Str("symbol", sym).Msg("open signal check skipped")
			continue
		}

		ev, ok := findExit(sig, data.Candles, d.hours, d.config.Risk, d.config.RiskExits)
		if !ok {
			continue
		}
		d.closeSignal(ctx, sig, ev)
	}
}

// liquidateAll 종료 시 남은 신호를 마지막 종가로 청산
func (d *Daemon) liquidateAll(ctx context.Context, date time.Time) {
	for _, sym := range d.openSymbols() {
		sig := d.open[sym]
		data, err := d.provider.GetMinuteCandles(ctx, sym, date, d.config.Interval)
		if err != nil {
			d.log.Warn().Err(err).Str("symbol", sym).Msg("signal left open")
			continue
		}
		last, ok := data.Latest()
		if !ok || !last.Time.After(sig.signalTime) {
			continue
		}
		d.closeSignal(ctx, sig, exitEvent{at: last.Time, price: last.Close, reason: ExitEOD})
	}
}

func (d *Daemon) closeSignal(ctx context.Context, sig *openSignal, ev exitEvent) {
	delete(d.open, sig.symbol)
	pct := ev.pct(sig.entry)

	d.log.Info().
		Str("symbol", sig.symbol).
		Str("reason", ev.reason).
		Float64("entry", sig.entry).
		Float64("exit", ev.price).
		Float64("pct", pct).
		Msg("signal closed")

	if d.store != nil && sig.recordID != "" {
		if err := d.store.UpdateOutcome(ctx, sig.recordID, ev.result(), pct); err != nil {
			d.log.Warn().Err(err).Str("id", sig.recordID).Msg("failed to label pattern")
		}
	}
	d.tracker.RecordExit(sig.symbol, sig.signalTime, ev.at, ev.reason, ev.price, pct, ev.result())

	env := notify.Envelope{
		Symbol:      sig.symbol,
		Time:        ev.at,
		State:       notify.StateExit,
		EntryPrice:  sig.entry,
		Reasons:     []string{ev.reason},
		ExitReason:  ev.reason,
		ExitPrice:   ev.price,
		ProfitPct:   pct,
		PublishedAt: d.now(),
	}
	if err := d.notifier.Notify(ctx, env); err != nil {
		d.log.Warn().Err(err).Str("symbol", sig.symbol).Msg("failed to publish exit")
	}
}
