package campaign

import (
	"testing"

	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/patterns"
)

func patternWithRatio(barIndex int, ratio float64) *patterns.Pattern {
	p := springAt("AAPL", barIndex, 100, 98, 0.7)
	p.VolumeRatio = decimal.NewFromFloat(ratio)
	return p
}

func TestVolumeDirection(t *testing.T) {
	mk := func(ratios ...float64) []*patterns.Pattern {
		ps := make([]*patterns.Pattern, len(ratios))
		for i, r := range ratios {
			ps[i] = patternWithRatio(20+i, r)
		}
		return ps
	}

	cases := []struct {
		name   string
		ratios []float64
		want   string
	}{
		{"declining", []float64{1.2, 1.0, 0.8, 0.6}, VolumeDeclining},
		{"increasing", []float64{0.6, 0.8, 1.0, 1.2}, VolumeIncreasing},
		{"mixed", []float64{1.0, 1.2, 0.9, 1.1}, VolumeNeutral},
		{"single pattern", []float64{1.0}, VolumeNeutral},
		{"no patterns", nil, VolumeUnknown},
	}
	for _, tc := range cases {
		if got := volumeDirection(mk(tc.ratios...)); got != tc.want {
			t.Errorf("%s: direction = %s, want %s", tc.name, got, tc.want)
		}
	}
}

// TestVolumeDirectionWindow verifies only the last five patterns vote
func TestVolumeDirectionWindow(t *testing.T) {
	ratios := []float64{0.5, 0.7, 1.5, 1.3, 1.1, 0.9, 0.7}
	ps := make([]*patterns.Pattern, len(ratios))
	for i, r := range ratios {
		ps[i] = patternWithRatio(20+i, r)
	}
	// Last five are strictly declining despite the rising open
	if got := volumeDirection(ps); got != VolumeDeclining {
		t.Errorf("direction = %s, want DECLINING over the trailing window", got)
	}
}

func TestEffortVsResult(t *testing.T) {
	divergent := sosAt("AAPL", 30, 110)
	divergent.VolumeRatio = decimal.NewFromFloat(1.8)
	divergent.Breakout.BreakoutPct = decimal.NewFromFloat(0.005) // heavy volume, 0.5% move
	if got := effortVsResult(divergent); got != EffortDivergence {
		t.Errorf("high effort small result = %s, want DIVERGENCE", got)
	}

	healthy := sosAt("AAPL", 30, 110)
	healthy.VolumeRatio = decimal.NewFromFloat(1.8)
	healthy.Breakout.BreakoutPct = decimal.NewFromFloat(0.02)
	if got := effortVsResult(healthy); got != EffortHarmony {
		t.Errorf("effort with result = %s, want HARMONY", got)
	}

	lowEffort := sosAt("AAPL", 30, 110)
	lowEffort.VolumeRatio = decimal.NewFromFloat(1.2)
	lowEffort.Breakout.BreakoutPct = decimal.NewFromFloat(0.005)
	if got := effortVsResult(lowEffort); got != EffortHarmony {
		t.Errorf("small move without effort = %s, want HARMONY", got)
	}

	// Springs carry no measurable price result
	if got := effortVsResult(springAt("AAPL", 22, 100, 98, 0.8)); got != EffortUnknown {
		t.Errorf("spring = %s, want UNKNOWN", got)
	}
	if got := effortVsResult(nil); got != EffortUnknown {
		t.Errorf("nil pattern = %s, want UNKNOWN", got)
	}
}

// TestClimaxFlagSticky verifies the climax flag latches once any pattern
// exceeds 2.0x volume
func TestClimaxFlagSticky(t *testing.T) {
	c := &Campaign{}

	c.Patterns = append(c.Patterns, patternWithRatio(20, 2.5))
	updateTelemetry(c)
	if !c.Telemetry.ClimaxDetected {
		t.Fatal("2.5x volume should flag a climax")
	}

	c.Patterns = append(c.Patterns, patternWithRatio(24, 0.5))
	updateTelemetry(c)
	if !c.Telemetry.ClimaxDetected {
		t.Error("climax flag must stay set after quieter patterns")
	}
}

// TestAbsorptionQuality scores a spring with a prompt rally: 25 volume +
// 30 latency + 16 quality
func TestAbsorptionQuality(t *testing.T) {
	spring := springAt("AAPL", 22, 100, 98, 0.8)
	spring.Confidence = 80
	spring.Spring.VolumeRatio = decimal.NewFromFloat(0.35)

	c := &Campaign{Patterns: []*patterns.Pattern{
		spring,
		rallyAt("AAPL", 24, 105, 0.7),
	}}

	got := absorptionQuality(c, spring)
	if got < 70.9 || got > 71.1 {
		t.Errorf("absorption quality = %.1f, want 71", got)
	}
}

// TestAbsorptionQualityNoRally drops the latency component entirely
func TestAbsorptionQualityNoRally(t *testing.T) {
	spring := springAt("AAPL", 22, 100, 98, 0.8)
	spring.Confidence = 80
	spring.Spring.VolumeRatio = decimal.NewFromFloat(0.35)

	c := &Campaign{Patterns: []*patterns.Pattern{spring}}

	got := absorptionQuality(c, spring)
	if got < 40.9 || got > 41.1 {
		t.Errorf("absorption quality = %.1f, want 41 without a rally", got)
	}
}

func TestUpdateTelemetryOnAppendFlow(t *testing.T) {
	d, _ := testDetector(DefaultIntradayConfig(), 100000, 1.0)

	c, err := d.AddPattern(springAt("AAPL", 22, 100, 98, 0.8))
	if err != nil {
		t.Fatalf("AddPattern failed: %v", err)
	}
	if c.Telemetry.VolumeProfile != VolumeNeutral {
		t.Errorf("profile = %s with one pattern, want NEUTRAL", c.Telemetry.VolumeProfile)
	}
	if c.Telemetry.EffortVsResult != EffortUnknown {
		t.Errorf("effort = %s for a spring, want UNKNOWN", c.Telemetry.EffortVsResult)
	}
	if c.Telemetry.AbsorptionQuality <= 0 {
		t.Error("spring append should compute absorption quality")
	}
}
