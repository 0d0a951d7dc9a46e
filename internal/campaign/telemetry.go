package campaign

import (
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/patterns"
)

var (
	climaxRatio     = decimal.NewFromFloat(2.0)
	highEffortRatio = decimal.NewFromFloat(1.5)
	smallResultPct  = decimal.NewFromFloat(0.01)
)

const telemetryWindow = 5

// updateTelemetry refreshes the campaign's volume-profile summary after a
// pattern append
func updateTelemetry(c *Campaign) {
	c.Telemetry.VolumeProfile = volumeDirection(c.Patterns)
	c.Telemetry.EffortVsResult = effortVsResult(c.LatestPattern())
	if latest := c.LatestPattern(); latest != nil &&
		latest.VolumeRatio.GreaterThan(climaxRatio) {
		c.Telemetry.ClimaxDetected = true
	}
	if spring := latestSpring(c); spring != nil {
		c.Telemetry.AbsorptionQuality = absorptionQuality(c, spring)
	}
}

// volumeDirection classifies the trend of the last five pattern volume
// ratios. At least 70% of consecutive moves in one direction wins.
func volumeDirection(ps []*patterns.Pattern) string {
	start := 0
	if len(ps) > telemetryWindow {
		start = len(ps) - telemetryWindow
	}
	window := ps[start:]
	if len(window) == 0 {
		return VolumeUnknown
	}
	if len(window) < 2 {
		return VolumeNeutral
	}

	ups, downs := 0, 0
	for i := 1; i < len(window); i++ {
		switch {
		case window[i].VolumeRatio.GreaterThan(window[i-1].VolumeRatio):
			ups++
		case window[i].VolumeRatio.LessThan(window[i-1].VolumeRatio):
			downs++
		}
	}
	moves := len(window) - 1
	switch {
	case float64(ups)/float64(moves) >= 0.7:
		return VolumeIncreasing
	case float64(downs)/float64(moves) >= 0.7:
		return VolumeDeclining
	default:
		return VolumeNeutral
	}
}

// effortVsResult flags high volume that produced little price movement.
// Harmony is the healthy case; patterns without a measurable price result
// stay UNKNOWN.
func effortVsResult(p *patterns.Pattern) string {
	if p == nil {
		return EffortUnknown
	}

	var result decimal.Decimal
	switch p.Kind {
	case patterns.KindSOS:
		if p.Breakout != nil {
			result = p.Breakout.BreakoutPct
		}
	case patterns.KindAutomaticRally:
		if p.Rally != nil {
			result = p.Rally.RallyPct
		}
	default:
		return EffortUnknown
	}

	if p.VolumeRatio.GreaterThanOrEqual(highEffortRatio) &&
		result.IsPositive() && result.LessThan(smallResultPct) {
		return EffortDivergence
	}
	return EffortHarmony
}

// absorptionQuality scores how cleanly supply was absorbed at the spring:
// volume contributes up to 50, AR latency after the spring up to 30, and
// the spring's own quality up to 20
func absorptionQuality(c *Campaign, springPattern *patterns.Pattern) float64 {
	sp := springPattern.Spring

	score := 0.0
	// Lower spring volume means cleaner absorption
	vr, _ := sp.VolumeRatio.Float64()
	if vr < 0.7 {
		score += 50 * (1 - vr/0.7)
	}

	// A prompt AR confirms demand stepped in
	if ar := firstRallyAfter(c, springPattern.BarIndex); ar != nil {
		gap := ar.BarIndex - springPattern.BarIndex
		switch {
		case gap <= 3:
			score += 30
		case gap <= 7:
			score += 20
		case gap <= 12:
			score += 10
		}
	}

	score += 20 * (springPattern.Confidence / 100.0)
	if score > 100 {
		score = 100
	}
	return score
}

func latestSpring(c *Campaign) *patterns.Pattern {
	for i := len(c.Patterns) - 1; i >= 0; i-- {
		if c.Patterns[i].Kind == patterns.KindSpring && c.Patterns[i].Spring != nil {
			return c.Patterns[i]
		}
	}
	return nil
}

func firstRallyAfter(c *Campaign, barIndex int) *patterns.Pattern {
	for _, p := range c.Patterns {
		if p.Kind == patterns.KindAutomaticRally && p.BarIndex > barIndex {
			return p
		}
	}
	return nil
}
