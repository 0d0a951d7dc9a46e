package analysis

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/market"
)

// EffortResult classifies the relationship between volume (effort) and
// spread (result) for a single bar
type EffortResult string

const (
	EffortNormal    EffortResult = "NORMAL"
	EffortClimactic EffortResult = "CLIMACTIC"
	EffortNoResult  EffortResult = "EFFORT_NO_RESULT"
	ResultNoEffort  EffortResult = "RESULT_NO_EFFORT"
)

// DefaultWindow is the rolling baseline length in bars
const DefaultWindow = 20

var (
	ratioClimacticVolume = decimal.NewFromFloat(2.0)
	ratioClimacticSpread = decimal.NewFromFloat(1.5)
	ratioHighVolume      = decimal.NewFromFloat(1.5)
	ratioNarrowSpread    = decimal.NewFromFloat(0.8)
	ratioLowVolume       = decimal.NewFromFloat(0.8)
	ratioWideSpread      = decimal.NewFromFloat(1.5)
)

// VolumeAnalysis holds per-bar volume metrics, index-aligned to the input
// bars. VolumeRatio and SpreadRatio are nil for the first window-1 bars.
type VolumeAnalysis struct {
	BarIndex      int                   `json:"bar_index"`
	Timestamp     time.Time             `json:"timestamp"`
	VolumeRatio   *decimal.Decimal      `json:"volume_ratio,omitempty"`
	SpreadRatio   *decimal.Decimal      `json:"spread_ratio,omitempty"`
	ClosePosition decimal.Decimal       `json:"close_position"`
	EffortResult  EffortResult          `json:"effort_result"`
	Session       market.TradingSession `json:"session,omitempty"`
}

// VolumeAnalyzer computes rolling volume and spread ratios over a fixed
// window of chronologically ordered bars
type VolumeAnalyzer struct {
	window int
}

// NewVolumeAnalyzer creates an analyzer; window defaults to 20 bars
func NewVolumeAnalyzer(window int) *VolumeAnalyzer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &VolumeAnalyzer{window: window}
}

// Analyze emits one VolumeAnalysis per bar. Bars must be chronologically
// ordered and share a timeframe; violations return an error.
func (va *VolumeAnalyzer) Analyze(bars []market.OHLCVBar) ([]VolumeAnalysis, error) {
	if err := validateBars(bars); err != nil {
		return nil, err
	}

	results := make([]VolumeAnalysis, len(bars))
	for i, bar := range bars {
		a := VolumeAnalysis{
			BarIndex:      i,
			Timestamp:     bar.Timestamp,
			ClosePosition: bar.ClosePosition(),
			EffortResult:  EffortNormal,
			Session:       market.SessionFromTime(bar.Timestamp),
		}

		if i >= va.window-1 {
			volMean := rollingMean(bars, i, va.window, func(b market.OHLCVBar) decimal.Decimal { return b.Volume })
			spreadMean := rollingMean(bars, i, va.window, func(b market.OHLCVBar) decimal.Decimal { return b.Spread() })

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

		results[i] = a
	}

	return results, nil
}

// classify applies the effort/result rules on paired ratios
func classify(volumeRatio, spreadRatio *decimal.Decimal) EffortResult {
	if volumeRatio == nil || spreadRatio == nil {
		return EffortNormal
	}
	vr, sr := *volumeRatio, *spreadRatio

	switch {
	case vr.GreaterThanOrEqual(ratioClimacticVolume) && sr.GreaterThanOrEqual(ratioClimacticSpread):
		return EffortClimactic
	case vr.GreaterThanOrEqual(ratioHighVolume) && sr.LessThanOrEqual(ratioNarrowSpread):
		return EffortNoResult
	case vr.LessThanOrEqual(ratioLowVolume) && sr.GreaterThanOrEqual(ratioWideSpread):
		return ResultNoEffort
	default:
		return EffortNormal
	}
}

// rollingMean averages a field over the window ending at index i (inclusive)
func rollingMean(bars []market.OHLCVBar, i, window int, field func(market.OHLCVBar) decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for j := i - window + 1; j <= i; j++ {
		sum = sum.Add(field(bars[j]))
	}
	return sum.Div(decimal.NewFromInt(int64(window)))
}

func validateBars(bars []market.OHLCVBar) error {
	if len(bars) == 0 {
		return fmt.Errorf("no bars provided")
	}
	tf := bars[0].Timeframe
	for i := 1; i < len(bars); i++ {
		if bars[i].Timeframe != tf {
			return fmt.Errorf("mixed timeframes at index %d: %s vs %s", i, bars[i].Timeframe, tf)
		}
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("bars not chronologically ordered at index %d", i)
		}
	}
	return nil
}
