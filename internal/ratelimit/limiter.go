package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	initialBackoff = 100 * time.Millisecond
	maxBackoff     = 2 * time.Minute
)

// Limiter wraps rate.Limiter with a penalty window that grows each time
// the upstream reports throttling.
type Limiter struct {
	limiter *rate.Limiter
	name    string

	mu           sync.Mutex
	backoff      time.Duration
	penaltyUntil time.Time
	throttled    int
}

// NewLimiter creates a new rate limiter.
// perMinute specifies the number of requests allowed per minute.
func NewLimiter(name string, perMinute int) *Limiter {
	if perMinute < 1 {
		perMinute = 1
	}
	rps := float64(perMinute) / 60.0

	// burst: 1/10 of the per-minute budget, between 1 and 5
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	if burst > 5 {
		burst = 5
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		name:    name,
		backoff: initialBackoff,
	}
}

// Wait blocks until the penalty window has passed and a token is
// available, or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	delay := time.Until(l.penaltyUntil)
	l.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether an event may happen now
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	penalized := time.Now().Before(l.penaltyUntil)
	l.mu.Unlock()
	if penalized {
		return false
	}
	return l.limiter.Allow()
}

// SignalRateLimited opens a penalty window of the current backoff and
// doubles it for the next signal.
func (l *Limiter) SignalRateLimited() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.throttled++
	l.penaltyUntil = time.Now().Add(l.backoff)
	l.backoff *= 2
	if l.backoff > maxBackoff {
		l.backoff = maxBackoff
	}
}

// ResetBackoff resets the backoff after a successful request
func (l *Limiter) ResetBackoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backoff = initialBackoff
}

// GetBackoff returns the current backoff duration
func (l *Limiter) GetBackoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoff
}

// Throttled returns how many times the upstream reported throttling
func (l *Limiter) Throttled() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.throttled
}

// Name returns the limiter name
func (l *Limiter) Name() string {
	return l.name
}
