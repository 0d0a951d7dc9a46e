package patterns

import (
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/analysis"
	"wyckoff-trading-platform/internal/logging"
	"wyckoff-trading-platform/internal/market"
	"wyckoff-trading-platform/internal/ranges"
)

var (
	scVolumeFloor = decimal.NewFromFloat(2.0)
	scSpreadFloor = decimal.NewFromFloat(1.5)
	scCloseCeil   = decimal.NewFromFloat(0.35)
	scNearSupport = decimal.NewFromFloat(0.02)
)

// ClimaxDetector finds the Selling Climax that opens Phase A: climactic
// volume and spread with the close pinned near the low, at or near support.
type ClimaxDetector struct {
	logger *logging.Logger
}

// NewClimaxDetector creates a selling-climax detector
func NewClimaxDetector() *ClimaxDetector {
	return &ClimaxDetector{logger: logging.WithComponent("climax_detector")}
}

// Detect returns the first qualifying selling climax, or nil
func (d *ClimaxDetector) Detect(bars []market.OHLCVBar, vol *analysis.VolumeCache, tr *ranges.TradingRange) *SellingClimax {
	for i := 0; i < len(bars); i++ {
		va, ok := vol.At(i)
		if !ok || va.VolumeRatio == nil || va.SpreadRatio == nil {
			continue
		}
		if va.VolumeRatio.LessThan(scVolumeFloor) || va.SpreadRatio.LessThan(scSpreadFloor) {
			continue
		}
		if va.ClosePosition.GreaterThan(scCloseCeil) {
			continue
		}
		if tr != nil {
			band := tr.Support.Mul(scNearSupport)
			if bars[i].Low.Sub(tr.Support).Abs().GreaterThan(band) {
				continue
			}
		}

		confidence := 70.0
		if va.VolumeRatio.GreaterThanOrEqual(decimal.NewFromFloat(2.5)) {
			confidence += 15
		}
		if va.ClosePosition.LessThanOrEqual(decimal.NewFromFloat(0.2)) {
			confidence += 10
		}
		if confidence > 100 {
			confidence = 100
		}

		d.logger.Debug("selling climax detected",
			"bar_index", i, "volume_ratio", va.VolumeRatio.String())

		return &SellingClimax{
			Bar:           bars[i],
			BarIndex:      i,
			Low:           bars[i].Low,
			VolumeRatio:   *va.VolumeRatio,
			SpreadRatio:   *va.SpreadRatio,
			ClosePosition: va.ClosePosition,
			Confidence:    confidence,
		}
	}
	return nil
}
