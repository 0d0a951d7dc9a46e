package analysis

import (
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/market"
)

// SessionRelativeVolumeAnalyzer replaces the global rolling baseline with a
// per-session baseline for intraday timeframes. An Asian-session bar is
// compared against the trailing Asian-session mean rather than a mean
// dominated by London/New York activity.
type SessionRelativeVolumeAnalyzer struct {
	window int
}

// NewSessionRelativeVolumeAnalyzer creates a session-aware analyzer
func NewSessionRelativeVolumeAnalyzer(window int) *SessionRelativeVolumeAnalyzer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &SessionRelativeVolumeAnalyzer{window: window}
}

// Analyze emits one VolumeAnalysis per bar using per-session baselines.
// Ratios stay nil until a bar's session has accumulated a full window.
func (sa *SessionRelativeVolumeAnalyzer) Analyze(bars []market.OHLCVBar) ([]VolumeAnalysis, error) {
	if err := validateBars(bars); err != nil {
		return nil, err
	}

	type sessionWindow struct {
		volumes []decimal.Decimal
		spreads []decimal.Decimal
	}
	windows := make(map[market.TradingSession]*sessionWindow)

	results := make([]VolumeAnalysis, len(bars))
	for i, bar := range bars {
		session := market.SessionFromTime(bar.Timestamp)
		w, ok := windows[session]
		if !ok {
			w = &sessionWindow{}
			windows[session] = w
		}

		a := VolumeAnalysis{
			BarIndex:      i,
			Timestamp:     bar.Timestamp,
			ClosePosition: bar.ClosePosition(),
			EffortResult:  EffortNormal,
			Session:       session,
		}

		if len(w.volumes) >= sa.window {
			volMean := meanOf(w.volumes[len(w.volumes)-sa.window:])
			spreadMean := meanOf(w.spreads[len(w.spreads)-sa.window:])

			if volMean.IsPositive() {
				vr := bar.Volume.Div(volMean)
				a.VolumeRatio = &vr
			}
			if spreadMean.IsPositive() {
				sr := bar.Spread().Div(spreadMean)
				a.SpreadRatio = &sr
			}
			a.EffortResult = classify(a.VolumeRatio, a.SpreadRatio)
		}

		w.volumes = append(w.volumes, bar.Volume)
		w.spreads = append(w.spreads, bar.Spread())
		results[i] = a
	}

	return results, nil
}

func meanOf(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}
