package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "pullback/internal/errors"
	"pullback/pkg/model"
)

// Provider defines the interface for intraday bar sources
type Provider interface {
	// Name returns the provider name
	Name() string

	// GetMinuteCandles fetches one session of bars for a symbol.
	// interval is in minutes (1, 3, 5 ...). Bars are ascending and start at
	// the session open.
	GetMinuteCandles(ctx context.Context, symbol string, date time.Time, interval int) (*model.IntradayData, error)

	// IsAvailable checks if the provider can serve requests
	IsAvailable() bool
}

// ProviderError represents a provider-specific error
type ProviderError struct {
	Provider  string
	Symbol    string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Provider, e.Symbol, e.Err)
	}
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// wrapError tags err with the provider; throttling and outages are
// retryable on another provider, missing data is not.
func wrapError(provider, symbol string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{
		Provider:  provider,
		Symbol:    symbol,
		Err:       err,
		Retryable: errors.Is(err, apperrors.ErrRateLimited) || errors.Is(err, apperrors.ErrProviderUnavailable),
	}
}

// FallbackProvider tries multiple providers in order
type FallbackProvider struct {
	providers []Provider
}

// NewFallbackProvider creates a new fallback provider over the
// available providers
func NewFallbackProvider(providers ...Provider) *FallbackProvider {
	available := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p != nil && p.IsAvailable() {
			available = append(available, p)
		}
	}
	return &FallbackProvider{providers: available}
}

// Name returns the combined provider name
func (f *FallbackProvider) Name() string {
	return "fallback"
}

// GetMinuteCandles tries each provider in order until one succeeds.
// A non-retryable error with data missing everywhere is returned as is.
func (f *FallbackProvider) GetMinuteCandles(ctx context.Context, symbol string, date time.Time, interval int) (*model.IntradayData, error) {
	if len(f.providers) == 0 {
		return nil, &ProviderError{Provider: f.Name(), Symbol: symbol, Err: apperrors.ErrProviderUnavailable}
	}

	var lastErr error
	for _, p := range f.providers {
		data, err := p.GetMinuteCandles(ctx, symbol, date, interval)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// IsAvailable returns true if any provider is available
func (f *FallbackProvider) IsAvailable() bool {
	return len(f.providers) > 0
}

// Providers returns the list of underlying providers
func (f *FallbackProvider) Providers() []Provider {
	return f.providers
}

func sessionKey(symbol string, date time.Time, interval int) string {
	return fmt.Sprintf("%s:%s:%d", symbol, date.Format("20060102"), interval)
}
