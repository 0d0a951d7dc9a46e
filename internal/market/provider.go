package market

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wyckoff-trading-platform/internal/logging"
)

// DataProvider fetches historical bars for a symbol and window
type DataProvider interface {
	Name() string
	FetchHistorical(ctx context.Context, symbol string, start, end time.Time, timeframe Timeframe) ([]OHLCVBar, error)
}

// DataUnavailableError is returned when every provider in the chain failed.
// There is no synthetic fallback; callers surface the message as-is.
type DataUnavailableError struct {
	Symbol    string
	Timeframe Timeframe
	Attempted []string
	LastErr   error
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("market data unavailable for %s %s (providers tried: %s): %v",
		e.Symbol, e.Timeframe, strings.Join(e.Attempted, ", "), e.LastErr)
}

func (e *DataUnavailableError) Unwrap() error { return e.LastErr }

// FallbackProvider tries a chain of providers in order and returns the first
// successful result
type FallbackProvider struct {
	providers []DataProvider
	logger    *logging.Logger
}

// NewFallbackProvider creates a provider chain
func NewFallbackProvider(providers ...DataProvider) *FallbackProvider {
	return &FallbackProvider{
		providers: providers,
		logger:    logging.WithComponent("market_data"),
	}
}

func (f *FallbackProvider) Name() string { return "fallback_chain" }

// FetchHistorical walks the chain until a provider returns bars
func (f *FallbackProvider) FetchHistorical(ctx context.Context, symbol string, start, end time.Time, timeframe Timeframe) ([]OHLCVBar, error) {
	attempted := make([]string, 0, len(f.providers))
	var lastErr error

	for _, p := range f.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bars, err := p.FetchHistorical(ctx, symbol, start, end, timeframe)
		attempted = append(attempted, p.Name())
		if err == nil && len(bars) > 0 {
			return bars, nil
		}
		if err != nil {
			lastErr = err
			f.logger.Warn("provider fetch failed, trying next",
				"provider", p.Name(), "symbol", symbol, "error", err)
		} else {
			lastErr = fmt.Errorf("provider %s returned no bars", p.Name())
		}
	}

	return nil, &DataUnavailableError{
		Symbol:    symbol,
		Timeframe: timeframe,
		Attempted: attempted,
		LastErr:   lastErr,
	}
}
