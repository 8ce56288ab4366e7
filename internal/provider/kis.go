package provider

import (
	"context"
	"fmt"
	"time"

	"pullback/internal/broker/kis"
	apperrors "pullback/internal/errors"
	"pullback/internal/market"
	"pullback/internal/timeframe"
	"pullback/pkg/model"
)

// minuteSource KIS 분봉 조회 (테스트 대체용)
type minuteSource interface {
	GetDayMinuteCandles(ctx context.Context, symbol string, date, until time.Time) ([]model.Candle, error)
	IsReady(ctx context.Context) bool
}

// KISProvider KIS API 기반 국내주식 분봉 Provider
type KISProvider struct {
	client minuteSource
	hours  *market.Hours
	now    func() time.Time
}

// NewKISProvider KIS 분봉 Provider 생성
func NewKISProvider(client *kis.Client) *KISProvider {
	return newKISProvider(client)
}

func newKISProvider(src minuteSource) *KISProvider {
	return &KISProvider{
		client: src,
		hours:  market.KRX(),
		now:    time.Now,
	}
}

func (p *KISProvider) Name() string {
	return "kis"
}

func (p *KISProvider) IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return p.client.IsReady(ctx)
}

// GetMinuteCandles 1분봉을 받아 interval분봉으로 변환. 당일이면 형성 중인 봉 제외
func (p *KISProvider) GetMinuteCandles(ctx context.Context, symbol string, date time.Time, interval int) (*model.IntradayData, error) {
	if interval < 1 {
		return nil, fmt.Errorf("invalid interval %d: %w", interval, apperrors.ErrConfigInvalid)
	}

	now := p.now().In(p.hours.Location())
	day := date.In(p.hours.Location())
	today := day.Format("20060102") == now.Format("20060102")

	var until time.Time
	if today {
		until = now
	}

	minutes, err := p.client.GetDayMinuteCandles(ctx, symbol, day, until)
	if err != nil {
		return nil, wrapError(p.Name(), symbol, err)
	}

	bars := timeframe.Resample(minutes, interval)
	if today {
		bars = timeframe.Completed(bars, now, interval)
	}
	if len(bars) == 0 {
		return nil, wrapError(p.Name(), symbol, apperrors.ErrNoData)
	}

	return &model.IntradayData{
		Symbol:   symbol,
		Date:     p.hours.OpenTime(day),
		Interval: interval,
		Candles:  timeframe.Candles(bars),
	}, nil
}
