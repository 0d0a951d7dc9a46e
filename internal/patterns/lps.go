package patterns

import (
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/analysis"
	"wyckoff-trading-platform/internal/logging"
	"wyckoff-trading-platform/internal/market"
	"wyckoff-trading-platform/internal/ranges"
)

var lpsMaxDistance = decimal.NewFromFloat(0.02)

// LPSDetector finds the Last Point of Support: after an SOS, a pullback to
// within 2% of Ice that holds on reduced volume
type LPSDetector struct {
	logger *logging.Logger
}

// NewLPSDetector creates a last-point-of-support detector
func NewLPSDetector() *LPSDetector {
	return &LPSDetector{logger: logging.WithComponent("lps_detector")}
}

// Detect returns the first LPS after the given SOS, or nil. Pullbacks that
// approach Ice but close back below it are reported with HeldSupport false.
func (d *LPSDetector) Detect(bars []market.OHLCVBar, vol *analysis.VolumeCache, tr *ranges.TradingRange, sos *SOSBreakout) *Pattern {
	if sos == nil || tr == nil || tr.Ice == nil || !tr.Ice.Price.IsPositive() {
		return nil
	}
	ice := tr.Ice.Price

	for i := sos.BarIndex + 1; i < len(bars); i++ {
		bar := bars[i]

		dist := bar.Low.Sub(ice).Abs().Div(ice)
		if dist.GreaterThan(lpsMaxDistance) {
			continue
		}

		va, ok := vol.At(i)
		if !ok || va.VolumeRatio == nil {
			continue
		}
		// The pullback must come on lighter volume than the breakout
		if va.VolumeRatio.GreaterThanOrEqual(sos.VolumeRatio) {
			d.logger.Debug("lps candidate rejected: volume not reduced",
				"bar_index", i, "volume_ratio", va.VolumeRatio.String())
			continue
		}

		held := bar.Close.GreaterThanOrEqual(ice)

		lps := &LPS{
			Bar:             bar,
			BarIndex:        i,
			DistanceFromIce: dist,
			HeldSupport:     held,
			VolumeRatio:     *va.VolumeRatio,
			IceLevel:        ice,
		}

		confidence := lpsConfidence(lps, sos)

		d.logger.Debug("last point of support detected",
			"bar_index", i, "held", held, "distance", dist.String())

		return &Pattern{
			Kind:        KindLPS,
			Symbol:      bar.Symbol,
			Timeframe:   bar.Timeframe,
			BarIndex:    i,
			Timestamp:   bar.Timestamp,
			Price:       bar.Close,
			VolumeRatio: lps.VolumeRatio,
			Confidence:  confidence,
			Quality:     confidence / 100.0,
			Support:     lps,
		}
	}
	return nil
}

// lpsConfidence favors holds close to Ice on sharply reduced volume
func lpsConfidence(lps *LPS, sos *SOSBreakout) float64 {
	score := 40.0
	if lps.HeldSupport {
		score += 30
	}

	distFrac, _ := lps.DistanceFromIce.Div(lpsMaxDistance).Float64()
	if distFrac > 1 {
		distFrac = 1
	}
	score += 15 * (1 - distFrac)

	if sos.VolumeRatio.IsPositive() {
		redFrac, _ := decimal.NewFromInt(1).Sub(lps.VolumeRatio.Div(sos.VolumeRatio)).Float64()
		if redFrac < 0 {
			redFrac = 0
		}
		if redFrac > 1 {
			redFrac = 1
		}
		score += 15 * redFrac
	}

	if score > 100 {
		score = 100
	}
	return score
}
