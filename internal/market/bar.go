package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Timeframe identifies the bar interval
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// IsIntraday reports whether the timeframe is one hour or shorter
func (tf Timeframe) IsIntraday() bool {
	switch tf {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m, Timeframe1h:
		return true
	}
	return false
}

// Duration returns the bar interval as a time.Duration
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe30m:
		return 30 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// OHLCVBar is a single immutable price bar
type OHLCVBar struct {
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// Spread returns high minus low
func (b OHLCVBar) Spread() decimal.Decimal {
	return b.High.Sub(b.Low)
}

var half = decimal.NewFromFloat(0.5)

// ClosePosition returns where the close sits within the bar range, in [0,1].
// A zero-spread bar reports 0.5.
func (b OHLCVBar) ClosePosition() decimal.Decimal {
	spread := b.Spread()
	if spread.IsZero() {
		return half
	}
	return b.Close.Sub(b.Low).Div(spread)
}
