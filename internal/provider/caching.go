package provider

import (
	"context"
	"sync"
	"time"

	"pullback/pkg/model"
)

type cacheEntry struct {
	data      *model.IntradayData
	fetchedAt time.Time
}

// CachingProvider wraps a Provider with an in-memory session cache.
// Past sessions never change and are kept; today's session expires after
// liveTTL so the next bar is picked up.
type CachingProvider struct {
	inner   Provider
	liveTTL time.Duration
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
	hits  int
}

// NewCachingProvider creates a caching wrapper
func NewCachingProvider(inner Provider, liveTTL time.Duration) *CachingProvider {
	return &CachingProvider{
		inner:   inner,
		liveTTL: liveTTL,
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

func (p *CachingProvider) Name() string     { return p.inner.Name() }
func (p *CachingProvider) IsAvailable() bool { return p.inner.IsAvailable() }

func (p *CachingProvider) GetMinuteCandles(ctx context.Context, symbol string, date time.Time, interval int) (*model.IntradayData, error) {
	key := sessionKey(symbol, date, interval)
	now := p.now()

	p.mu.Lock()
	if e, ok := p.cache[key]; ok && p.fresh(e, date, now) {
		p.hits++
		p.mu.Unlock()
		return e.data, nil
	}
	p.mu.Unlock()

	data, err := p.inner.GetMinuteCandles(ctx, symbol, date, interval)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[key] = cacheEntry{data: data, fetchedAt: now}
	p.mu.Unlock()
	return data, nil
}

func (p *CachingProvider) fresh(e cacheEntry, date, now time.Time) bool {
	if !sameDay(date, now) {
		return true
	}
	return now.Sub(e.fetchedAt) < p.liveTTL
}

// Hits returns the number of cache hits
func (p *CachingProvider) Hits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hits
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
