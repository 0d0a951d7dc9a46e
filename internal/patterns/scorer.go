package patterns

import (
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/market"
)

// ScoringContext carries the range- and campaign-level facts a scorer needs
// beyond the pattern itself
type ScoringContext struct {
	TestConfirmed         bool              // prior secondary tests confirmed support
	CreekStrength         float64           // 0-100
	PriorTestVolumeRatios []decimal.Decimal // chronological, for the declining-trend bonus
	RangeDurationBars     int
	EntryViaLPS           bool
	LPSHeld               bool
	PhaseDHighConfidence  bool
}

// ConfidenceScorer scores patterns for one asset class. Detectors consult
// the scorer instead of branching on asset class themselves.
type ConfidenceScorer interface {
	SpringConfidence(s *Spring, ctx ScoringContext) float64
	SOSConfidence(b *SOSBreakout, ctx ScoringContext) float64
	AssetClass() market.AssetClass
	VolumeReliability() market.VolumeReliability
	MaxConfidence() float64
}

// ScorerFactory selects a scorer by symbol
type ScorerFactory struct {
	stock ConfidenceScorer
	forex ConfidenceScorer
}

// NewScorerFactory creates the factory with both scorers
func NewScorerFactory() *ScorerFactory {
	return &ScorerFactory{
		stock: &StockScorer{},
		forex: &ForexScorer{},
	}
}

// ForSymbol returns the scorer matching the symbol's asset class
func (f *ScorerFactory) ForSymbol(symbol string) ConfidenceScorer {
	if market.ClassifyAsset(symbol) == market.AssetClassForex {
		return f.forex
	}
	return f.stock
}

var (
	ratio03 = decimal.NewFromFloat(0.3)
	ratio04 = decimal.NewFromFloat(0.4)
	ratio05 = decimal.NewFromFloat(0.5)
	ratio06 = decimal.NewFromFloat(0.6)
	ratio07 = decimal.NewFromFloat(0.7)

	pen02 = decimal.NewFromFloat(0.02)
	pen03 = decimal.NewFromFloat(0.03)
	pen04 = decimal.NewFromFloat(0.04)

	sosVolSweetLo  = decimal.NewFromFloat(2.0)
	sosVolSweetHi  = decimal.NewFromFloat(2.3)
	sosVolNearLo   = decimal.NewFromFloat(1.8)
	sosVolNearHi   = decimal.NewFromFloat(2.6)
	sosVolMin      = decimal.NewFromFloat(1.5)
	spreadStrong   = decimal.NewFromFloat(1.5)
	spreadGood     = decimal.NewFromFloat(1.35)
	spreadMin      = decimal.NewFromFloat(1.2)
	closePosStrong = decimal.NewFromFloat(0.8)
	closePosGood   = decimal.NewFromFloat(0.65)
	closePosMin    = decimal.NewFromFloat(0.5)
	breakout3pct   = decimal.NewFromFloat(0.03)
	breakout2pct   = decimal.NewFromFloat(0.02)
)

// StockScorer scores patterns for equities, where reported volume is real
// transaction volume
type StockScorer struct{}

func (s *StockScorer) AssetClass() market.AssetClass { return market.AssetClassStock }
func (s *StockScorer) VolumeReliability() market.VolumeReliability {
	return market.VolumeReliabilityHigh
}
func (s *StockScorer) MaxConfidence() float64 { return 100 }

// SpringConfidence scores a stock spring. Raw components can reach 140;
// the result is capped at 100.
func (s *StockScorer) SpringConfidence(sp *Spring, ctx ScoringContext) float64 {
	score := springVolumePoints(sp.VolumeRatio, 40, 30, 20, 10, 5)
	score += springPenetrationPoints(sp.PenetrationPct, 35, 25, 15, 5)
	score += springRecoveryPoints(sp.RecoveryBars, 25, 20, 15, 10)

	if ctx.TestConfirmed {
		score += 20
	}
	score += creekStrengthBonus(ctx.CreekStrength)
	if volumesDeclining(ctx.PriorTestVolumeRatios) {
		score += 10
	}

	return capScore(score, s.MaxConfidence())
}

// SOSConfidence scores a stock Sign of Strength with a 2.0x-2.3x volume
// sweet spot
func (s *StockScorer) SOSConfidence(b *SOSBreakout, ctx ScoringContext) float64 {
	score := sosVolumePoints(b.VolumeRatio, 35, 28, 20, 15)
	score += sosSpreadPoints(b.SpreadRatio, 20, 16, 12)
	score += sosClosePoints(b.ClosePosition, 20, 14, 8)
	score += sosBreakoutPoints(b.BreakoutPct, 15, 10, 5)
	score += sosDurationPoints(ctx.RangeDurationBars, 10, 6, 3)

	if ctx.LPSHeld {
		score += 15
	}
	if ctx.PhaseDHighConfidence {
		score += 5
	}

	baseline := 65.0
	if ctx.EntryViaLPS {
		baseline = 80.0
	}
	if score < baseline {
		score = baseline
	}
	return capScore(score, s.MaxConfidence())
}

// ForexScorer scores patterns for currency pairs, where tick volume only
// reflects activity consistency
type ForexScorer struct{}

func (f *ForexScorer) AssetClass() market.AssetClass { return market.AssetClassForex }
func (f *ForexScorer) VolumeReliability() market.VolumeReliability {
	return market.VolumeReliabilityLow
}
func (f *ForexScorer) MaxConfidence() float64 { return 85 }

// SpringConfidence scores a forex spring. Volume weight collapses to a flat
// 10 points; price structure carries the score. No volume-trend bonus.
func (f *ForexScorer) SpringConfidence(sp *Spring, ctx ScoringContext) float64 {
	score := 0.0
	if sp.VolumeRatio.LessThan(ratio07) {
		score += 10
	}
	score += springPenetrationPoints(sp.PenetrationPct, 45, 30, 20, 10)
	score += springRecoveryPoints(sp.RecoveryBars, 35, 28, 20, 12)

	if ctx.TestConfirmed {
		score += 20
	}
	score += creekStrengthBonus(ctx.CreekStrength)

	return capScore(score, f.MaxConfidence())
}

// SOSConfidence scores a forex Sign of Strength; spread and close position
// take the weight volume loses
func (f *ForexScorer) SOSConfidence(b *SOSBreakout, ctx ScoringContext) float64 {
	score := 0.0
	if b.VolumeRatio.GreaterThanOrEqual(sosVolMin) {
		score += 10
	}
	score += sosSpreadPoints(b.SpreadRatio, 30, 24, 18)
	score += sosClosePoints(b.ClosePosition, 25, 18, 10)
	score += sosBreakoutPoints(b.BreakoutPct, 20, 14, 7)
	score += sosDurationPoints(ctx.RangeDurationBars, 15, 9, 4)

	if ctx.LPSHeld {
		score += 10
	}
	if ctx.PhaseDHighConfidence {
		score += 5
	}

	baseline := 60.0
	if ctx.EntryViaLPS {
		baseline = 75.0
	}
	if score < baseline {
		score = baseline
	}
	return capScore(score, f.MaxConfidence())
}

// Shared component tables

func springVolumePoints(vr decimal.Decimal, p30, p40, p50, p60, p70 float64) float64 {
	switch {
	case vr.LessThan(ratio03):
		return p30
	case vr.LessThan(ratio04):
		return p40
	case vr.LessThan(ratio05):
		return p50
	case vr.LessThan(ratio06):
		return p60
	case vr.LessThan(ratio07):
		return p70
	default:
		return 0
	}
}

func springPenetrationPoints(pen decimal.Decimal, shallow, mid, deep, deepest float64) float64 {
	switch {
	case pen.LessThanOrEqual(pen02):
		return shallow
	case pen.LessThanOrEqual(pen03):
		return mid
	case pen.LessThanOrEqual(pen04):
		return deep
	default:
		return deepest
	}
}

func springRecoveryPoints(bars int, one, two, three, slow float64) float64 {
	switch bars {
	case 1:
		return one
	case 2:
		return two
	case 3:
		return three
	default:
		return slow
	}
}

func creekStrengthBonus(strength float64) float64 {
	switch {
	case strength >= 80:
		return 10
	case strength >= 60:
		return 7
	case strength >= 40:
		return 4
	default:
		return 0
	}
}

// volumesDeclining reports whether test volumes strictly decline across the
// sequence, requiring at least two samples
func volumesDeclining(ratios []decimal.Decimal) bool {
	if len(ratios) < 2 {
		return false
	}
	for i := 1; i < len(ratios); i++ {
		if !ratios[i].LessThan(ratios[i-1]) {
			return false
		}
	}
	return true
}

func sosVolumePoints(vr decimal.Decimal, sweet, near, minOK, excess float64) float64 {
	switch {
	case vr.GreaterThanOrEqual(sosVolSweetLo) && vr.LessThanOrEqual(sosVolSweetHi):
		return sweet
	case (vr.GreaterThanOrEqual(sosVolNearLo) && vr.LessThan(sosVolSweetLo)) ||
		(vr.GreaterThan(sosVolSweetHi) && vr.LessThanOrEqual(sosVolNearHi)):
		return near
	case vr.GreaterThanOrEqual(sosVolMin) && vr.LessThan(sosVolNearLo):
		return minOK
	case vr.GreaterThan(sosVolNearHi):
		// Past 2.6x the breakout starts to look climactic
		return excess
	default:
		return 0
	}
}

func sosSpreadPoints(sr decimal.Decimal, strong, good, minOK float64) float64 {
	switch {
	case sr.GreaterThanOrEqual(spreadStrong):
		return strong
	case sr.GreaterThanOrEqual(spreadGood):
		return good
	case sr.GreaterThanOrEqual(spreadMin):
		return minOK
	default:
		return 0
	}
}

func sosClosePoints(cp decimal.Decimal, strong, good, minOK float64) float64 {
	switch {
	case cp.GreaterThanOrEqual(closePosStrong):
		return strong
	case cp.GreaterThanOrEqual(closePosGood):
		return good
	case cp.GreaterThanOrEqual(closePosMin):
		return minOK
	default:
		return 0
	}
}

func sosBreakoutPoints(pct decimal.Decimal, big, mid, small float64) float64 {
	switch {
	case pct.GreaterThanOrEqual(breakout3pct):
		return big
	case pct.GreaterThanOrEqual(breakout2pct):
		return mid
	default:
		return small
	}
}

func sosDurationPoints(duration int, long, mid, short float64) float64 {
	switch {
	case duration >= 40:
		return long
	case duration >= 25:
		return mid
	default:
		return short
	}
}

func capScore(score, max float64) float64 {
	if score > max {
		return max
	}
	if score < 0 {
		return 0
	}
	return score
}
