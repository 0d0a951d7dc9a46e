package campaign

import (
	"testing"

	"wyckoff-trading-platform/internal/patterns"
)

func completedCampaign(r float64, rValid bool, duration int, exitReason string, kinds ...patterns.Kind) *Campaign {
	c := &Campaign{
		State:        StateCompleted,
		ExitReason:   exitReason,
		RMultiple:    r,
		RValid:       rValid,
		DurationBars: duration,
		EntryPhase:   "C",
		ExitPhase:    "D",
	}
	for i, k := range kinds {
		p := &patterns.Pattern{Kind: k, BarIndex: 20 + i}
		c.Patterns = append(c.Patterns, p)
	}
	return c
}

func TestComputeStats(t *testing.T) {
	campaigns := []*Campaign{
		completedCampaign(2.0, true, 20, ExitTargetHit, patterns.KindSpring, patterns.KindSOS),
		completedCampaign(-1.0, true, 10, ExitStopOut, patterns.KindSpring, patterns.KindAutomaticRally, patterns.KindSOS),
		{State: StateFailed, ExitReason: ExitTimeLimit},
		{State: StateActive},
	}

	st := ComputeStats(campaigns)

	if st.Overview.Total != 4 {
		t.Errorf("total = %d, want 4", st.Overview.Total)
	}
	if st.Overview.ByState[StateCompleted] != 2 || st.Overview.ByState[StateFailed] != 1 || st.Overview.ByState[StateActive] != 1 {
		t.Errorf("by_state = %v, want 2 completed, 1 failed, 1 active", st.Overview.ByState)
	}
	// 2 completed out of 3 terminal
	if st.Overview.SuccessRate < 0.66 || st.Overview.SuccessRate > 0.67 {
		t.Errorf("success rate = %.3f, want 2/3", st.Overview.SuccessRate)
	}

	p := st.Performance
	if p.Wins != 1 || p.Losses != 1 {
		t.Errorf("wins/losses = %d/%d, want 1/1", p.Wins, p.Losses)
	}
	if p.WinRate != 0.5 {
		t.Errorf("win rate = %.2f, want 0.50", p.WinRate)
	}
	if p.MeanR != 0.5 || p.MedianR != 0.5 {
		t.Errorf("mean/median R = %.2f/%.2f, want 0.50/0.50", p.MeanR, p.MedianR)
	}
	if p.MaxR != 2.0 || p.MinR != -1.0 {
		t.Errorf("max/min R = %.2f/%.2f, want 2.00/-1.00", p.MaxR, p.MinR)
	}
	if p.TotalR != 1.0 {
		t.Errorf("total R = %.2f, want 1.00", p.TotalR)
	}
	if p.AvgDurationBars != 15 {
		t.Errorf("avg duration = %.1f, want 15", p.AvgDurationBars)
	}

	if st.ExitReasons[ExitTargetHit] != 1 || st.ExitReasons[ExitStopOut] != 1 || st.ExitReasons[ExitTimeLimit] != 1 {
		t.Errorf("exit reasons = %v, want one of each", st.ExitReasons)
	}
	if st.EntryPhases["C"] != 2 || st.ExitPhases["D"] != 2 {
		t.Errorf("phase distributions = %v/%v, want C:2 and D:2", st.EntryPhases, st.ExitPhases)
	}
}

// TestSequenceBuckets verifies the most specific matching bucket wins
func TestSequenceBuckets(t *testing.T) {
	mk := func(kinds ...patterns.Kind) *Campaign {
		return completedCampaign(1, true, 10, ExitTargetHit, kinds...)
	}

	cases := []struct {
		name  string
		kinds []patterns.Kind
		want  string
	}{
		{"spring to sos", []patterns.Kind{patterns.KindSpring, patterns.KindSOS}, SeqSpringSOS},
		{"spring ar sos", []patterns.Kind{patterns.KindSpring, patterns.KindAutomaticRally, patterns.KindSOS}, SeqSpringARSOS},
		{"full sequence", []patterns.Kind{patterns.KindSpring, patterns.KindAutomaticRally, patterns.KindSOS, patterns.KindLPS}, SeqSpringARSOSLPS},
		{"rally only", []patterns.Kind{patterns.KindAutomaticRally}, SeqOther},
		{"empty", nil, SeqOther},
		{"non-adjacent counts", []patterns.Kind{patterns.KindSpring, patterns.KindSpring, patterns.KindSOS}, SeqSpringSOS},
	}
	for _, tc := range cases {
		if got := sequenceBucket(mk(tc.kinds...)); got != tc.want {
			t.Errorf("%s: bucket = %s, want %s", tc.name, got, tc.want)
		}
	}
}

// TestComputeStatsSkipsInvalidR verifies campaigns without a risk basis do
// not pollute the R statistics
func TestComputeStatsSkipsInvalidR(t *testing.T) {
	campaigns := []*Campaign{
		completedCampaign(3.0, true, 10, ExitTargetHit, patterns.KindSpring),
		completedCampaign(0, false, 10, ExitManual, patterns.KindAutomaticRally),
	}

	st := ComputeStats(campaigns)
	if st.Performance.Wins != 1 || st.Performance.Losses != 0 {
		t.Errorf("wins/losses = %d/%d, want 1/0 counting only valid R",
			st.Performance.Wins, st.Performance.Losses)
	}
	if st.Performance.MeanR != 3.0 {
		t.Errorf("mean R = %.2f, want 3.00", st.Performance.MeanR)
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	st := ComputeStats(nil)
	if st.Overview.Total != 0 || st.Overview.SuccessRate != 0 {
		t.Error("empty input should produce zeroed overview")
	}
	if st.Performance.WinRate != 0 {
		t.Error("empty input should produce zeroed performance")
	}
}
