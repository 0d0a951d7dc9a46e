package patterns

import (
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/analysis"
	"wyckoff-trading-platform/internal/logging"
	"wyckoff-trading-platform/internal/market"
)

var (
	stMaxDistance     = decimal.NewFromFloat(0.02)
	stMinReduction    = decimal.NewFromFloat(0.20)
	stMaxPenetration  = decimal.NewFromFloat(0.01)
	stTargetReduction = decimal.NewFromFloat(0.50)
	stQuietSpread     = decimal.NewFromFloat(0.8)
)

const stWindowBars = 40

// SecondaryTestDetector finds retests of the Selling Climax low on reduced
// volume. Of all candidates in the window it keeps the best: lowest volume,
// then closest to the SC low, then earliest.
type SecondaryTestDetector struct {
	logger *logging.Logger
}

// NewSecondaryTestDetector creates a secondary-test detector
func NewSecondaryTestDetector() *SecondaryTestDetector {
	return &SecondaryTestDetector{logger: logging.WithComponent("secondary_test_detector")}
}

// Detect returns the secondary tests after the AR, numbered in chronological
// order. Each non-overlapping retest window contributes at most one test.
func (d *SecondaryTestDetector) Detect(bars []market.OHLCVBar, vol *analysis.VolumeCache, sc *SellingClimax, arIndex int) []*Pattern {
	if sc == nil || sc.Low.IsZero() || arIndex <= sc.BarIndex {
		return nil
	}
	scVol, ok := vol.At(sc.BarIndex)
	if !ok || scVol.VolumeRatio == nil {
		return nil
	}

	best := d.bestCandidate(bars, vol, sc, arIndex+1, arIndex+stWindowBars)
	if best == nil {
		return nil
	}
	best.SecondaryTest.TestNumber = 1
	results := []*Pattern{best}

	// Later retests after the first test still count as tests of support
	next := d.bestCandidate(bars, vol, sc, best.BarIndex+1, arIndex+stWindowBars)
	if next != nil {
		next.SecondaryTest.TestNumber = 2
		results = append(results, next)
	}
	return results
}

func (d *SecondaryTestDetector) bestCandidate(bars []market.OHLCVBar, vol *analysis.VolumeCache, sc *SellingClimax, from, to int) *Pattern {
	var best *Pattern
	var bestST *SecondaryTest

	for i := from; i <= to && i < len(bars); i++ {
		bar := bars[i]

		dist := bar.Low.Sub(sc.Low).Abs().Div(sc.Low)
		if dist.GreaterThan(stMaxDistance) {
			continue
		}

		// Penetration more than 1% below the SC low is a breakdown, not
		// a test
		var penetration decimal.Decimal
		if bar.Low.LessThan(sc.Low) {
			penetration = sc.Low.Sub(bar.Low).Div(sc.Low)
			if penetration.GreaterThan(stMaxPenetration) {
				d.logger.Debug("secondary test invalidated by penetration",
					"bar_index", i, "penetration", penetration.String())
				continue
			}
		}

		va, ok := vol.At(i)
		if !ok || va.VolumeRatio == nil {
			continue
		}
		scVA, _ := vol.At(sc.BarIndex)
		reduction := decimal.NewFromInt(1).Sub(va.VolumeRatio.Div(*scVA.VolumeRatio))
		if reduction.LessThan(stMinReduction) {
			continue
		}

		st := &SecondaryTest{
			Bar:                bar,
			BarIndex:           i,
			TestLow:            bar.Low,
			DistanceFromSCLow:  dist,
			VolumeReductionPct: reduction,
			Penetration:        penetration,
			VolumeRatio:        *va.VolumeRatio,
		}
		st.Confidence = stConfidence(st, va)

		if bestST == nil || betterTest(st, bestST) {
			bestST = st
			best = &Pattern{
				Kind:          KindSecondaryTest,
				Symbol:        bar.Symbol,
				Timeframe:     bar.Timeframe,
				BarIndex:      i,
				Timestamp:     bar.Timestamp,
				Price:         bar.Close,
				VolumeRatio:   st.VolumeRatio,
				Confidence:    st.Confidence,
				Quality:       st.Confidence / 100.0,
				SecondaryTest: st,
			}
		}
	}
	return best
}

// betterTest prefers lower volume, then smaller distance from the SC low,
// then the earlier bar
func betterTest(a, b *SecondaryTest) bool {
	if !a.VolumeRatio.Equal(b.VolumeRatio) {
		return a.VolumeRatio.LessThan(b.VolumeRatio)
	}
	if !a.DistanceFromSCLow.Equal(b.DistanceFromSCLow) {
		return a.DistanceFromSCLow.LessThan(b.DistanceFromSCLow)
	}
	return a.BarIndex < b.BarIndex
}

// stConfidence scores the test: volume reduction up to 45 points, proximity
// to the SC low up to 27, holding behavior 18, close position 10, quiet
// spread 5, capped at 100
func stConfidence(st *SecondaryTest, va *analysis.VolumeAnalysis) float64 {
	score := 0.0

	redFrac, _ := st.VolumeReductionPct.Div(stTargetReduction).Float64()
	if redFrac > 1 {
		redFrac = 1
	}
	score += 45 * redFrac

	distFrac, _ := st.DistanceFromSCLow.Div(stMaxDistance).Float64()
	if distFrac > 1 {
		distFrac = 1
	}
	score += 27 * (1 - distFrac)

	if st.Penetration.IsZero() {
		score += 18
	} else {
		score += 9
	}

	cp, _ := va.ClosePosition.Float64()
	score += 10 * cp

	if va.SpreadRatio != nil && va.SpreadRatio.LessThanOrEqual(stQuietSpread) {
		score += 5
	}

	if score > 100 {
		score = 100
	}
	return score
}
