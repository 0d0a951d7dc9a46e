package campaign

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/market"
	"wyckoff-trading-platform/internal/patterns"
)

var detectorEpoch = time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)

// testDetector returns a detector with a controllable clock
func testDetector(cfg Config, equity, riskPct float64) (*Detector, *time.Time) {
	d := NewDetector(cfg, decimal.NewFromFloat(equity), riskPct, zerolog.Nop())
	clock := new(time.Time)
	*clock = detectorEpoch
	d.now = func() time.Time { return *clock }
	return d, clock
}

func springAt(symbol string, barIndex int, price, low, quality float64) *patterns.Pattern {
	return &patterns.Pattern{
		Kind:        patterns.KindSpring,
		Symbol:      symbol,
		Timeframe:   market.Timeframe1h,
		BarIndex:    barIndex,
		Timestamp:   detectorEpoch.Add(time.Duration(barIndex) * time.Hour),
		Price:       decimal.NewFromFloat(price),
		VolumeRatio: decimal.NewFromFloat(0.4),
		Confidence:  85,
		Quality:     quality,
		Spring: &patterns.Spring{
			BarIndex:    barIndex,
			SpringLow:   decimal.NewFromFloat(low),
			VolumeRatio: decimal.NewFromFloat(0.4),
			IsTradeable: true,
		},
	}
}

func rallyAt(symbol string, barIndex int, high, quality float64) *patterns.Pattern {
	return &patterns.Pattern{
		Kind:        patterns.KindAutomaticRally,
		Symbol:      symbol,
		Timeframe:   market.Timeframe1h,
		BarIndex:    barIndex,
		Timestamp:   detectorEpoch.Add(time.Duration(barIndex) * time.Hour),
		Price:       decimal.NewFromFloat(high - 1),
		VolumeRatio: decimal.NewFromFloat(1.1),
		Confidence:  70,
		Quality:     quality,
		Rally: &patterns.AutomaticRally{
			BarIndex:     barIndex,
			ARHigh:       decimal.NewFromFloat(high),
			RallyPct:     decimal.NewFromFloat(0.04),
			QualityScore: quality,
		},
	}
}

func sosAt(symbol string, barIndex int, breakoutPrice float64) *patterns.Pattern {
	return &patterns.Pattern{
		Kind:        patterns.KindSOS,
		Symbol:      symbol,
		Timeframe:   market.Timeframe1h,
		BarIndex:    barIndex,
		Timestamp:   detectorEpoch.Add(time.Duration(barIndex) * time.Hour),
		Price:       decimal.NewFromFloat(breakoutPrice),
		VolumeRatio: decimal.NewFromFloat(1.8),
		Confidence:  80,
		Quality:     0.8,
		Breakout: &patterns.SOSBreakout{
			BarIndex:      barIndex,
			BreakoutPrice: decimal.NewFromFloat(breakoutPrice),
			BreakoutPct:   decimal.NewFromFloat(0.02),
			VolumeRatio:   decimal.NewFromFloat(1.8),
		},
	}
}

func lpsAt(symbol string, barIndex int, ice float64) *patterns.Pattern {
	return &patterns.Pattern{
		Kind:        patterns.KindLPS,
		Symbol:      symbol,
		Timeframe:   market.Timeframe1h,
		BarIndex:    barIndex,
		Timestamp:   detectorEpoch.Add(time.Duration(barIndex) * time.Hour),
		Price:       decimal.NewFromFloat(ice + 0.2),
		VolumeRatio: decimal.NewFromFloat(0.9),
		Confidence:  75,
		Quality:     0.7,
		Support: &patterns.LPS{
			BarIndex:    barIndex,
			IceLevel:    decimal.NewFromFloat(ice),
			HeldSupport: true,
			VolumeRatio: decimal.NewFromFloat(0.9),
		},
	}
}

// TestCampaignFormsAndActivates walks a spring and rally through formation,
// risk metadata, and the two-pattern activation rule
func TestCampaignFormsAndActivates(t *testing.T) {
	d, _ := testDetector(DefaultIntradayConfig(), 100000, 1.0)

	c, err := d.AddPattern(springAt("AAPL", 22, 100, 98, 0.8))
	if err != nil {
		t.Fatalf("AddPattern failed: %v", err)
	}
	if c.State != StateForming {
		t.Errorf("state = %s after one pattern, want FORMING", c.State)
	}
	if !c.EntryPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("entry price = %s, want the first pattern close 100", c.EntryPrice)
	}
	if c.Phase != "C" || c.EntryPhase != "C" {
		t.Errorf("phase/entry phase = %s/%s, want C/C", c.Phase, c.EntryPhase)
	}
	if len(c.PhaseHistory) != 1 || c.PhaseHistory[0].Phase != "C" {
		t.Errorf("phase history = %+v, want one C entry", c.PhaseHistory)
	}
	if !c.SupportLevel.Equal(decimal.NewFromInt(98)) {
		t.Errorf("support = %s, want the spring low 98", c.SupportLevel)
	}
	if !c.RiskPerShare.Equal(decimal.NewFromInt(2)) {
		t.Errorf("risk per share = %s, want 2", c.RiskPerShare)
	}

	c2, err := d.AddPattern(rallyAt("AAPL", 25, 105, 0.6))
	if err != nil {
		t.Fatalf("AddPattern failed: %v", err)
	}
	if c2.ID != c.ID {
		t.Fatal("second pattern within the gap window should join the same campaign")
	}
	if c2.State != StateActive {
		t.Errorf("state = %s after two patterns, want ACTIVE", c2.State)
	}
	if !c2.ResistanceLevel.Equal(decimal.NewFromInt(105)) {
		t.Errorf("resistance = %s, want the AR high 105", c2.ResistanceLevel)
	}
	// Jump = resistance + (resistance - support)
	if !c2.JumpLevel.Equal(decimal.NewFromInt(112)) {
		t.Errorf("jump = %s, want 112", c2.JumpLevel)
	}
	// equity 100k at 1%: 1000 budget / 6 risk per share rounds to 167
	if c2.PositionSize != 167 {
		t.Errorf("position size = %d, want 167", c2.PositionSize)
	}
	if d.Store().Len() != 1 {
		t.Errorf("store holds %d campaigns, want 1", d.Store().Len())
	}
}

func TestHighQualityRallyPromotesImmediately(t *testing.T) {
	d, _ := testDetector(DefaultIntradayConfig(), 100000, 1.0)

	c, err := d.AddPattern(rallyAt("AAPL", 22, 105, 0.85))
	if err != nil {
		t.Fatalf("AddPattern failed: %v", err)
	}
	if c.State != StateActive {
		t.Errorf("state = %s, want ACTIVE on a rally above 0.7 quality", c.State)
	}
	if c.Phase != "B" {
		t.Errorf("phase = %s, want B for a rally with no prior spring", c.Phase)
	}
}

// TestSequenceViolationFreezesPhase appends an out-of-order pattern and
// checks it lands in the campaign without advancing the phase
func TestSequenceViolationFreezesPhase(t *testing.T) {
	d, _ := testDetector(DefaultIntradayConfig(), 100000, 1.0)

	d.AddPattern(springAt("AAPL", 22, 100, 98, 0.8))
	c, err := d.AddPattern(sosAt("AAPL", 30, 110))
	if err != nil {
		t.Fatalf("AddPattern failed: %v", err)
	}
	if c.Phase != "D" {
		t.Fatalf("phase = %s after spring then SOS, want D", c.Phase)
	}

	// AR after SOS violates the transition table
	c, err = d.AddPattern(rallyAt("AAPL", 35, 105, 0.6))
	if err != nil {
		t.Fatalf("AddPattern failed: %v", err)
	}
	if len(c.Patterns) != 3 {
		t.Errorf("violating pattern should still be appended, got %d patterns", len(c.Patterns))
	}
	if c.Phase != "D" {
		t.Errorf("phase = %s, want D frozen through the violation", c.Phase)
	}
	if len(c.PhaseHistory) != 2 {
		t.Errorf("phase history has %d entries, want 2 (C then D)", len(c.PhaseHistory))
	}
}

func TestConcurrencyLimitDeniesAdmission(t *testing.T) {
	cfg := DefaultIntradayConfig()
	cfg.MaxConcurrent = 1
	d, _ := testDetector(cfg, 100000, 1.0)

	d.AddPattern(springAt("AAPL", 22, 100, 98, 0.8))
	d.AddPattern(rallyAt("AAPL", 25, 105, 0.6)) // ACTIVE

	_, err := d.AddPattern(springAt("MSFT", 40, 200, 196, 0.8))
	if err == nil {
		t.Fatal("admission should be denied at the concurrency limit")
	}
	var admission *AdmissionError
	if !errors.As(err, &admission) {
		t.Fatalf("error should be an AdmissionError, got %T", err)
	}
	if d.Store().Len() != 1 {
		t.Error("denied campaign must not be stored")
	}
}

// TestPortfolioHeatDeniesAdmission puts 9% of equity at risk and offers a
// pattern that would add 2% more, crossing the 10% cap at 11%
func TestPortfolioHeatDeniesAdmission(t *testing.T) {
	d, _ := testDetector(DefaultIntradayConfig(), 100000, 2.0)

	c, err := d.AddPattern(springAt("AAPL", 22, 100, 98, 0.8))
	if err != nil {
		t.Fatalf("AddPattern failed: %v", err)
	}
	d.AddPattern(rallyAt("AAPL", 25, 105, 0.6)) // ACTIVE
	d.Store().Mutate(c.ID, func(c *Campaign) {
		c.DollarRisk = decimal.NewFromInt(9000) // 9% of equity
	})

	// Spring at 100 with stop 98: 2% prospective heat at 2% risk per trade
	_, err = d.AddPattern(springAt("MSFT", 40, 100, 98, 0.8))
	if err == nil {
		t.Fatal("admission should be denied above the heat cap")
	}
	var admission *AdmissionError
	if !errors.As(err, &admission) {
		t.Fatalf("error should be an AdmissionError, got %T", err)
	}
	if d.Store().Len() != 1 {
		t.Error("denied campaign must not be stored")
	}
}

// TestHeatNearLimitStillAdmitted verifies the 80% warning band does not
// reject
func TestHeatNearLimitStillAdmitted(t *testing.T) {
	d, _ := testDetector(DefaultIntradayConfig(), 100000, 2.0)

	c, _ := d.AddPattern(springAt("AAPL", 22, 100, 98, 0.8))
	d.AddPattern(rallyAt("AAPL", 25, 105, 0.6))
	d.Store().Mutate(c.ID, func(c *Campaign) {
		c.DollarRisk = decimal.NewFromInt(7000) // 7% + 2% prospective = 9%
	})

	c2, err := d.AddPattern(springAt("MSFT", 40, 100, 98, 0.8))
	if err != nil {
		t.Fatalf("admission inside the cap should succeed: %v", err)
	}
	if c2.Symbol != "MSFT" {
		t.Error("new campaign should be created for the second symbol")
	}
	if d.Store().Len() != 2 {
		t.Errorf("store holds %d campaigns, want 2", d.Store().Len())
	}
}

// TestPatternGapOpensNewCampaign verifies a pattern beyond max_pattern_gap
// starts a fresh campaign instead of joining the stale one
func TestPatternGapOpensNewCampaign(t *testing.T) {
	d, clock := testDetector(DefaultIntradayConfig(), 100000, 1.0)

	d.AddPattern(springAt("AAPL", 22, 100, 98, 0.8))

	*clock = detectorEpoch.Add(49 * time.Hour) // past the 48h gap
	c2, err := d.AddPattern(springAt("AAPL", 70, 101, 99, 0.8))
	if err != nil {
		t.Fatalf("AddPattern failed: %v", err)
	}
	if d.Store().Len() != 2 {
		t.Fatalf("store holds %d campaigns, want 2", d.Store().Len())
	}
	if len(c2.Patterns) != 1 {
		t.Error("late pattern should seed a new campaign")
	}
}

func TestExpirationFailsCampaign(t *testing.T) {
	d, clock := testDetector(DefaultIntradayConfig(), 100000, 1.0)

	c, _ := d.AddPattern(springAt("AAPL", 22, 100, 98, 0.8))

	*clock = detectorEpoch.Add(73 * time.Hour) // past the 72h expiration
	d.ExpireStale(*clock)

	expired := d.Store().Get(c.ID)
	if expired.State != StateFailed {
		t.Errorf("state = %s, want FAILED past expiration", expired.State)
	}
	if expired.ExitReason != ExitTimeLimit {
		t.Errorf("exit reason = %s, want %s", expired.ExitReason, ExitTimeLimit)
	}
	if expired.FailureReason == "" {
		t.Error("failure reason should be recorded")
	}
	if expired.CompletedAt == nil {
		t.Error("completion timestamp should be set")
	}
}

// TestDormantCampaignRevives parks a quiet campaign and revives it with a
// fresh pattern inside the gap window
func TestDormantCampaignRevives(t *testing.T) {
	cfg := Config{
		CampaignWindow:       24 * time.Hour,
		MaxPatternGap:        72 * time.Hour,
		MinPatternsForActive: 2,
		Expiration:           168 * time.Hour,
		MaxConcurrent:        3,
		MaxPortfolioHeatPct:  10.0,
	}
	d, clock := testDetector(cfg, 100000, 1.0)

	c, _ := d.AddPattern(springAt("AAPL", 22, 100, 98, 0.8))
	d.AddPattern(rallyAt("AAPL", 25, 105, 0.6)) // ACTIVE

	*clock = detectorEpoch.Add(25 * time.Hour)
	d.ExpireStale(*clock)
	if got := d.Store().Get(c.ID).State; got != StateDormant {
		t.Fatalf("state = %s after 25h of quiet, want DORMANT", got)
	}

	revived, err := d.AddPattern(sosAt("AAPL", 60, 110))
	if err != nil {
		t.Fatalf("AddPattern failed: %v", err)
	}
	if revived.ID != c.ID {
		t.Fatal("pattern inside the gap window should join the dormant campaign")
	}
	if revived.State != StateActive {
		t.Errorf("state = %s, want ACTIVE after revival", revived.State)
	}
}

func TestMarkCompleted(t *testing.T) {
	d, _ := testDetector(DefaultIntradayConfig(), 100000, 1.0)

	c, _ := d.AddPattern(springAt("AAPL", 22, 100, 98, 0.8))

	done, err := d.MarkCompleted(c.ID, decimal.NewFromInt(106), ExitTargetHit)
	if err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if done.State != StateCompleted {
		t.Errorf("state = %s, want COMPLETED", done.State)
	}
	if !done.PointsGained.Equal(decimal.NewFromInt(6)) {
		t.Errorf("points gained = %s, want 6", done.PointsGained)
	}
	if !done.RValid || done.RMultiple != 3.0 {
		t.Errorf("r multiple = %.2f (valid %v), want 3.00 valid", done.RMultiple, done.RValid)
	}
	if done.ExitReason != ExitTargetHit {
		t.Errorf("exit reason = %s, want %s", done.ExitReason, ExitTargetHit)
	}
	if done.ExitPhase != "C" {
		t.Errorf("exit phase = %s, want C", done.ExitPhase)
	}

	if _, err := d.MarkCompleted("missing", decimal.NewFromInt(1), ExitManual); err == nil {
		t.Error("completing an unknown campaign should fail")
	}
}

func TestMarkCompletedDefaultsUnknownReason(t *testing.T) {
	d, _ := testDetector(DefaultIntradayConfig(), 100000, 1.0)
	c, _ := d.AddPattern(springAt("AAPL", 22, 100, 98, 0.8))

	done, err := d.MarkCompleted(c.ID, decimal.NewFromInt(103), "")
	if err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if done.ExitReason != ExitUnknown {
		t.Errorf("exit reason = %s, want UNKNOWN when unspecified", done.ExitReason)
	}
}

// TestRMultipleInvalidWithoutRisk completes a campaign whose patterns never
// produced a positive risk per share
func TestRMultipleInvalidWithoutRisk(t *testing.T) {
	d, _ := testDetector(DefaultIntradayConfig(), 100000, 1.0)

	c, _ := d.AddPattern(rallyAt("AAPL", 22, 105, 0.5)) // no spring, no support
	done, err := d.MarkCompleted(c.ID, decimal.NewFromInt(110), ExitManual)
	if err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}
	if done.RValid {
		t.Error("r multiple must be flagged invalid without a risk basis")
	}
}

// TestSetPhaseECompletes verifies reaching markup closes an active campaign
func TestSetPhaseECompletes(t *testing.T) {
	d, _ := testDetector(DefaultIntradayConfig(), 100000, 1.0)

	c, _ := d.AddPattern(springAt("AAPL", 22, 100, 98, 0.8))
	d.AddPattern(sosAt("AAPL", 30, 110)) // ACTIVE, phase D

	if !d.SetPhase(c.ID, "E") {
		t.Fatal("SetPhase should find the campaign")
	}
	done := d.Store().Get(c.ID)
	if done.State != StateCompleted {
		t.Errorf("state = %s, want COMPLETED on phase E", done.State)
	}
	if done.ExitReason != ExitPhaseE {
		t.Errorf("exit reason = %s, want %s", done.ExitReason, ExitPhaseE)
	}
	if !done.ExitPrice.Equal(decimal.NewFromInt(110)) {
		t.Errorf("exit price = %s, want the latest pattern price 110", done.ExitPrice)
	}
	last := done.PhaseHistory[len(done.PhaseHistory)-1]
	if last.Phase != "E" {
		t.Errorf("last phase history entry = %s, want E", last.Phase)
	}
}

func TestRiskValidationSurfacesOnAppend(t *testing.T) {
	d, _ := testDetector(DefaultIntradayConfig(), 100000, 2.5) // above the 2.0 cap

	_, err := d.AddPattern(springAt("AAPL", 22, 100, 98, 0.8))
	if err == nil {
		t.Fatal("risk percentage above the cap should fail the append")
	}
	var rve *RiskValidationError
	if !errors.As(err, &rve) {
		t.Fatalf("error should be a RiskValidationError, got %T", err)
	}
}
