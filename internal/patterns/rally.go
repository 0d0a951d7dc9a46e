package patterns

import (
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/analysis"
	"wyckoff-trading-platform/internal/logging"
	"wyckoff-trading-platform/internal/market"
)

var (
	arMinRally    = decimal.NewFromFloat(0.03)
	arStrongRally = decimal.NewFromFloat(0.05)
	arHighVolume  = decimal.NewFromFloat(1.2)
)

const arWindowBars = 10

// RallyDetector finds the Automatic Rally that follows a Selling Climax:
// demand absorbing the climactic supply within the next ten bars.
type RallyDetector struct {
	logger *logging.Logger
}

// NewRallyDetector creates an automatic-rally detector
func NewRallyDetector() *RallyDetector {
	return &RallyDetector{logger: logging.WithComponent("rally_detector")}
}

// Detect returns the AR after the given Selling Climax, or nil when no bar
// in the window rallies at least 3% off the SC low
func (d *RallyDetector) Detect(bars []market.OHLCVBar, vol *analysis.VolumeCache, sc *SellingClimax) *Pattern {
	if sc == nil || sc.Low.IsZero() {
		return nil
	}

	for i := sc.BarIndex + 1; i <= sc.BarIndex+arWindowBars && i < len(bars); i++ {
		bar := bars[i]
		rallyPct := bar.High.Sub(sc.Low).Div(sc.Low)
		if rallyPct.LessThan(arMinRally) {
			continue
		}

		barsAfter := i - sc.BarIndex
		profile := "NORMAL"
		if va, ok := vol.At(i); ok && va.VolumeRatio != nil &&
			va.VolumeRatio.GreaterThanOrEqual(arHighVolume) {
			profile = "HIGH"
		}

		quality := 0.5
		if barsAfter <= 5 {
			quality += 0.2
		} else {
			quality += 0.05
		}
		if rallyPct.GreaterThanOrEqual(arStrongRally) {
			quality += 0.2
		}
		if profile == "HIGH" {
			quality += 0.1
		}
		if quality > 1.0 {
			quality = 1.0
		}

		d.logger.Debug("automatic rally detected",
			"bar_index", i, "rally_pct", rallyPct.String(), "bars_after_sc", barsAfter)

		rally := &AutomaticRally{
			Bar:           bar,
			BarIndex:      i,
			RallyPct:      rallyPct,
			BarsAfterSC:   barsAfter,
			SCReference:   sc.BarIndex,
			SCLow:         sc.Low,
			ARHigh:        bar.High,
			VolumeProfile: profile,
			QualityScore:  quality,
		}

		var vr decimal.Decimal
		if va, ok := vol.At(i); ok && va.VolumeRatio != nil {
			vr = *va.VolumeRatio
		}

		return &Pattern{
			Kind:        KindAutomaticRally,
			Symbol:      bar.Symbol,
			Timeframe:   bar.Timeframe,
			BarIndex:    i,
			Timestamp:   bar.Timestamp,
			Price:       bar.Close,
			VolumeRatio: vr,
			Confidence:  quality * 100,
			Quality:     quality,
			Rally:       rally,
		}
	}

	d.logger.Debug("no automatic rally within window", "sc_index", sc.BarIndex)
	return nil
}
