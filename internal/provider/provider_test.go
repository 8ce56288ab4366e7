package provider

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "pullback/internal/errors"
	"pullback/internal/market"
	"pullback/pkg/model"
)

var kst = market.KRX().Location()

// stubProvider counts calls and returns a fixed session or error
type stubProvider struct {
	name  string
	err   error
	calls int32
}

func (s *stubProvider) Name() string      { return s.name }
func (s *stubProvider) IsAvailable() bool { return true }

func (s *stubProvider) GetMinuteCandles(ctx context.Context, symbol string, date time.Time, interval int) (*model.IntradayData, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return &model.IntradayData{
		Symbol:   symbol,
		Date:     date,
		Interval: interval,
		Candles:  minuteCandles(time.Date(2025, 3, 4, 9, 0, 0, 0, kst), 6),
	}, nil
}

func minuteCandles(start time.Time, n int) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := 1000 + float64(i)
		out[i] = model.Candle{Time: start.Add(time.Duration(i) * time.Minute), Open: p, High: p + 2, Low: p - 1, Close: p + 1, Volume: 10}
	}
	return out
}

func TestFallbackProvider(t *testing.T) {
	down := &stubProvider{name: "kis", err: wrapError("kis", "005930", apperrors.ErrRateLimited)}
	file := &stubProvider{name: "file"}

	f := NewFallbackProvider(down, file)
	data, err := f.GetMinuteCandles(context.Background(), "005930", time.Now(), 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if data.Symbol != "005930" || down.calls != 1 || file.calls != 1 {
		t.Errorf("Expected fallback to second provider, got calls %d/%d", down.calls, file.calls)
	}

	var pe *ProviderError
	if !errors.As(down.err, &pe) || !pe.Retryable {
		t.Errorf("Expected rate limiting to be retryable, got %+v", pe)
	}

	empty := NewFallbackProvider()
	if _, err := empty.GetMinuteCandles(context.Background(), "005930", time.Now(), 3); !errors.Is(err, apperrors.ErrProviderUnavailable) {
		t.Errorf("Expected ErrProviderUnavailable, got %v", err)
	}
}

func TestWrapError(t *testing.T) {
	err := wrapError("file", "000660", apperrors.ErrNoData)
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Retryable {
		t.Errorf("Expected non-retryable provider error, got %v", err)
	}
	if !strings.Contains(err.Error(), "file [000660]") {
		t.Errorf("Unexpected message %q", err.Error())
	}
	if wrapError("x", "y", nil) != nil {
		t.Error("Expected nil for nil error")
	}
	if again := wrapError("other", "y", err); again != err {
		t.Error("Expected an existing ProviderError to pass through")
	}
}

func TestCachingProvider(t *testing.T) {
	inner := &stubProvider{name: "kis"}
	c := NewCachingProvider(inner, time.Minute)

	now := time.Date(2025, 3, 5, 10, 0, 0, 0, kst)
	c.now = func() time.Time { return now }

	past := time.Date(2025, 3, 4, 0, 0, 0, 0, kst)
	today := time.Date(2025, 3, 5, 0, 0, 0, 0, kst)
	ctx := context.Background()

	c.GetMinuteCandles(ctx, "005930", past, 3)
	c.GetMinuteCandles(ctx, "005930", past, 3)
	c.GetMinuteCandles(ctx, "005930", today, 3)
	c.GetMinuteCandles(ctx, "005930", today, 3)
	if inner.calls != 2 || c.Hits() != 2 {
		t.Fatalf("Expected 2 fetches and 2 hits, got %d/%d", inner.calls, c.Hits())
	}

	now = now.Add(2 * time.Minute)
	c.GetMinuteCandles(ctx, "005930", today, 3)
	c.GetMinuteCandles(ctx, "005930", past, 3)
	if inner.calls != 3 {
		t.Errorf("Expected only today's session refetched, got %d fetches", inner.calls)
	}

	c.GetMinuteCandles(ctx, "005930", past, 1)
	if inner.calls != 4 {
		t.Errorf("Expected interval to be part of the key, got %d fetches", inner.calls)
	}
}

func TestRedisCache_MemoryFallback(t *testing.T) {
	inner := &stubProvider{name: "kis"}
	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"

	c := NewRedisCache(inner, cfg, zerolog.Nop())
	defer c.Close()

	if c.IsRedisAvailable() {
		t.Fatal("Expected redis to be unreachable")
	}

	past := time.Date(2025, 3, 4, 0, 0, 0, 0, kst)
	for i := 0; i < 3; i++ {
		data, err := c.GetMinuteCandles(context.Background(), "005930", past, 3)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(data.Candles) != 6 {
			t.Errorf("Expected 6 candles, got %d", len(data.Candles))
		}
	}
	if inner.calls != 1 {
		t.Errorf("Expected in-memory fallback to serve repeats, got %d fetches", inner.calls)
	}
}

type stubMinutes struct {
	candles []model.Candle
	until   time.Time
}

func (s *stubMinutes) IsReady(context.Context) bool { return true }

func (s *stubMinutes) GetDayMinuteCandles(ctx context.Context, symbol string, date, until time.Time) ([]model.Candle, error) {
	s.until = until
	return s.candles, nil
}

func TestKISProvider_Resample(t *testing.T) {
	src := &stubMinutes{candles: minuteCandles(time.Date(2025, 3, 4, 9, 0, 0, 0, kst), 8)}
	p := newKISProvider(src)

	// 과거 세션: 형성 중인 봉 없음
	p.now = func() time.Time { return time.Date(2025, 3, 5, 9, 30, 0, 0, kst) }
	data, err := p.GetMinuteCandles(context.Background(), "005930", time.Date(2025, 3, 4, 0, 0, 0, 0, kst), 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(data.Candles) != 3 || data.Interval != 3 {
		t.Fatalf("Expected 3 three-minute bars, got %d", len(data.Candles))
	}
	if !src.until.IsZero() {
		t.Error("Expected full-day fetch for a past session")
	}
	if first := data.Candles[0]; first.Open != 1000 || first.Close != 1003 || first.Volume != 30 {
		t.Errorf("Unexpected first bar %+v", first)
	}

	// 당일 09:07: 09:06 봉은 형성 중
	p.now = func() time.Time { return time.Date(2025, 3, 4, 9, 7, 0, 0, kst) }
	data, err = p.GetMinuteCandles(context.Background(), "005930", time.Date(2025, 3, 4, 0, 0, 0, 0, kst), 3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(data.Candles) != 2 {
		t.Errorf("Expected forming bar dropped, got %d bars", len(data.Candles))
	}
	if src.until.IsZero() {
		t.Error("Expected live fetch bounded by now")
	}

	if _, err := p.GetMinuteCandles(context.Background(), "005930", time.Now(), 0); !errors.Is(err, apperrors.ErrConfigInvalid) {
		t.Errorf("Expected ErrConfigInvalid for interval 0, got %v", err)
	}
}
