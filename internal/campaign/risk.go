package campaign

import (
	"fmt"

	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/patterns"
)

// MaxRiskPctPerTrade is the hard cap on per-trade risk
const MaxRiskPctPerTrade = 2.0

var hundred = decimal.NewFromInt(100)

// RiskValidationError reports a risk parameter outside its allowed bounds
type RiskValidationError struct {
	Field string
	Value float64
	Limit float64
}

func (e *RiskValidationError) Error() string {
	return fmt.Sprintf("risk validation failed: %s=%.2f exceeds limit %.2f", e.Field, e.Value, e.Limit)
}

// PositionSize computes shares for the given equity and per-trade risk
// percentage. Invalid inputs return 0; a risk percentage above the 2.0 cap
// returns a validation error.
func PositionSize(accountEquity decimal.Decimal, riskPctPerTrade float64, riskPerShare decimal.Decimal) (int64, error) {
	if riskPctPerTrade > MaxRiskPctPerTrade {
		return 0, &RiskValidationError{Field: "risk_pct_per_trade", Value: riskPctPerTrade, Limit: MaxRiskPctPerTrade}
	}
	if !accountEquity.IsPositive() || !riskPerShare.IsPositive() || riskPctPerTrade <= 0 {
		return 0, nil
	}
	riskBudget := accountEquity.Mul(decimal.NewFromFloat(riskPctPerTrade)).Div(hundred)
	return riskBudget.Div(riskPerShare).Round(0).IntPart(), nil
}

// updateRiskMetadata recomputes support, resistance, strength, sizing, and
// derived levels after a pattern append
func updateRiskMetadata(c *Campaign, accountEquity decimal.Decimal, riskPctPerTrade float64) error {
	support, resistance := campaignLevels(c)
	c.SupportLevel = support
	trackIceExpansion(c, resistance)
	c.ResistanceLevel = resistance
	c.StrengthScore = strengthScore(c)

	latest := c.LatestPattern()
	if latest == nil || !support.IsPositive() {
		return nil
	}

	c.RiskPerShare = latest.Price.Sub(support)
	if resistance.IsPositive() {
		c.RangeWidthPct = resistance.Sub(support).Div(support).Mul(hundred)
		c.JumpLevel = resistance.Add(resistance.Sub(support))
	}

	size, err := PositionSize(accountEquity, riskPctPerTrade, c.RiskPerShare)
	if err != nil {
		return err
	}
	c.PositionSize = size
	c.DollarRisk = decimal.NewFromInt(size).Mul(c.RiskPerShare)
	return nil
}

// trackIceExpansion pins the first resistance the campaign saw and counts
// later upward revisions, which widen the jump target
func trackIceExpansion(c *Campaign, resistance decimal.Decimal) {
	if !resistance.IsPositive() {
		return
	}
	if !c.OriginalIceLevel.IsPositive() {
		c.OriginalIceLevel = resistance
		return
	}
	if resistance.GreaterThan(c.ResistanceLevel) && c.ResistanceLevel.IsPositive() {
		c.IceExpansionCount++
	}
}

// campaignLevels derives support from the lowest Spring low and resistance
// from the highest of AR high, SOS breakout price, and LPS ice level
func campaignLevels(c *Campaign) (support, resistance decimal.Decimal) {
	for _, p := range c.Patterns {
		switch p.Kind {
		case patterns.KindSpring:
			if p.Spring != nil && (support.IsZero() || p.Spring.SpringLow.LessThan(support)) {
				support = p.Spring.SpringLow
			}
		case patterns.KindAutomaticRally:
			if p.Rally != nil && p.Rally.ARHigh.GreaterThan(resistance) {
				resistance = p.Rally.ARHigh
			}
		case patterns.KindSOS:
			if p.Breakout != nil && p.Breakout.BreakoutPrice.GreaterThan(resistance) {
				resistance = p.Breakout.BreakoutPrice
			}
		case patterns.KindLPS:
			if p.Support != nil && p.Support.IceLevel.GreaterThan(resistance) {
				resistance = p.Support.IceLevel
			}
		}
	}
	return support, resistance
}

// strengthScore combines pattern count, average quality, sequence bonuses,
// and the campaign phase into a 0-1 score
func strengthScore(c *Campaign) float64 {
	n := len(c.Patterns)
	if n == 0 {
		return 0
	}

	score := 0.1
	if n >= 3 {
		score = 0.3
	} else if n == 2 {
		score = 0.2
	}

	qualitySum := 0.0
	for _, p := range c.Patterns {
		qualitySum += p.Quality
	}
	score += (qualitySum / float64(n)) * 0.4

	if hasSequence(c, patterns.KindSpring, patterns.KindAutomaticRally, patterns.KindSOS) {
		score += 0.10
		if arQuality(c) > 0.75 {
			score += 0.05
		}
	}

	switch c.Phase {
	case "C":
		score += 0.1
	case "D", "E":
		score += 0.2
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// hasSequence reports whether the kinds appear in order, not necessarily
// adjacent
func hasSequence(c *Campaign, kinds ...patterns.Kind) bool {
	idx := 0
	for _, p := range c.Patterns {
		if idx < len(kinds) && p.Kind == kinds[idx] {
			idx++
		}
	}
	return idx == len(kinds)
}

func arQuality(c *Campaign) float64 {
	for _, p := range c.Patterns {
		if p.Kind == patterns.KindAutomaticRally && p.Rally != nil {
			return p.Rally.QualityScore
		}
	}
	return 0
}

// PortfolioHeat sums dollar risk across active campaigns as a percentage of
// account equity
func PortfolioHeat(active []*Campaign, accountEquity decimal.Decimal) float64 {
	if !accountEquity.IsPositive() {
		return 0
	}
	total := decimal.Zero
	for _, c := range active {
		total = total.Add(c.DollarRisk)
	}
	heat, _ := total.Div(accountEquity).Mul(hundred).Float64()
	return heat
}
