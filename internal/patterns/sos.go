package patterns

import (
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/analysis"
	"wyckoff-trading-platform/internal/logging"
	"wyckoff-trading-platform/internal/market"
	"wyckoff-trading-platform/internal/ranges"
)

var (
	sosMinBreakout = decimal.NewFromFloat(0.01)
	sosMinVolume   = decimal.NewFromFloat(1.5)
	sosMinSpread   = decimal.NewFromFloat(1.2)
	sosMinClose    = decimal.NewFromFloat(0.5)
)

// SOSDetector finds the Sign of Strength: a decisive close through Ice on
// expanding volume and spread
type SOSDetector struct {
	scorers *ScorerFactory
	logger  *logging.Logger
}

// NewSOSDetector creates a sign-of-strength detector
func NewSOSDetector(scorers *ScorerFactory) *SOSDetector {
	return &SOSDetector{
		scorers: scorers,
		logger:  logging.WithComponent("sos_detector"),
	}
}

// Detect returns the first qualifying SOS breakout after fromIndex, or nil
func (d *SOSDetector) Detect(bars []market.OHLCVBar, vol *analysis.VolumeCache, tr *ranges.TradingRange, fromIndex int, scoringCtx ScoringContext) *Pattern {
	if tr == nil || tr.Ice == nil || !tr.Ice.Price.IsPositive() {
		return nil
	}
	ice := tr.Ice.Price

	for i := fromIndex; i < len(bars); i++ {
		bar := bars[i]
		if !bar.Close.GreaterThan(ice) {
			continue
		}

		breakoutPct := bar.Close.Sub(ice).Div(ice)
		if breakoutPct.LessThan(sosMinBreakout) {
			continue
		}

		va, ok := vol.At(i)
		if !ok || va.VolumeRatio == nil || va.SpreadRatio == nil {
			continue
		}
		if va.VolumeRatio.LessThan(sosMinVolume) {
			d.logger.Debug("sos candidate rejected: volume below 1.5x",
				"bar_index", i, "volume_ratio", va.VolumeRatio.String())
			continue
		}
		if va.SpreadRatio.LessThan(sosMinSpread) {
			continue
		}
		if va.ClosePosition.LessThan(sosMinClose) {
			continue
		}

		breakout := &SOSBreakout{
			Bar:           bar,
			BarIndex:      i,
			BreakoutPct:   breakoutPct,
			VolumeRatio:   *va.VolumeRatio,
			SpreadRatio:   *va.SpreadRatio,
			ClosePosition: va.ClosePosition,
			BreakoutPrice: bar.Close,
		}

		scorer := d.scorers.ForSymbol(bar.Symbol)
		confidence := scorer.SOSConfidence(breakout, scoringCtx)

		d.logger.Info("sign of strength detected",
			"bar_index", i, "breakout_pct", breakoutPct.String(), "confidence", confidence)

		return &Pattern{
			Kind:        KindSOS,
			Symbol:      bar.Symbol,
			Timeframe:   bar.Timeframe,
			BarIndex:    i,
			Timestamp:   bar.Timestamp,
			Price:       bar.Close,
			VolumeRatio: breakout.VolumeRatio,
			Confidence:  confidence,
			Quality:     confidence / 100.0,
			Breakout:    breakout,
		}
	}
	return nil
}
