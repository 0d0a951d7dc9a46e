package campaign

import (
	"sort"

	"wyckoff-trading-platform/internal/patterns"
)

// Pattern-sequence buckets for statistics breakdowns
const (
	SeqSpringSOS      = "Spring→SOS"
	SeqSpringARSOS    = "Spring→AR→SOS"
	SeqSpringARSOSLPS = "Spring→AR→SOS→LPS"
	SeqOther          = "Other"
)

// Overview counts campaigns by state and reports the terminal success rate
type Overview struct {
	Total       int            `json:"total"`
	ByState     map[string]int `json:"by_state"`
	SuccessRate float64        `json:"success_rate"` // completed / (completed + failed)
}

// Performance summarizes R-multiple outcomes across completed campaigns
type Performance struct {
	WinRate         float64 `json:"win_rate"`
	MeanR           float64 `json:"mean_r"`
	MedianR         float64 `json:"median_r"`
	MaxR            float64 `json:"max_r"`
	MinR            float64 `json:"min_r"`
	TotalR          float64 `json:"total_r"`
	AvgDurationBars float64 `json:"avg_duration_bars"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
}

// Stats is the full statistics report
type Stats struct {
	Overview        Overview       `json:"overview"`
	Performance     Performance    `json:"performance"`
	ExitReasons     map[string]int `json:"exit_reasons"`
	PatternSequence map[string]int `json:"pattern_sequence"`
	EntryPhases     map[string]int `json:"entry_phases"`
	ExitPhases      map[string]int `json:"exit_phases"`
}

// ComputeStats builds the statistics report from a campaign snapshot
func ComputeStats(campaigns []*Campaign) Stats {
	st := Stats{
		Overview:        Overview{ByState: make(map[string]int)},
		ExitReasons:     make(map[string]int),
		PatternSequence: make(map[string]int),
		EntryPhases:     make(map[string]int),
		ExitPhases:      make(map[string]int),
	}

	var rs []float64
	durations := 0
	completed := 0

	for _, c := range campaigns {
		st.Overview.Total++
		st.Overview.ByState[c.State]++

		if c.ExitReason != "" {
			st.ExitReasons[c.ExitReason]++
		}
		st.PatternSequence[sequenceBucket(c)]++
		if c.EntryPhase != "" {
			st.EntryPhases[c.EntryPhase]++
		}
		if c.ExitPhase != "" {
			st.ExitPhases[c.ExitPhase]++
		}

		if c.State == StateCompleted {
			completed++
			durations += c.DurationBars
			if c.RValid {
				rs = append(rs, c.RMultiple)
			}
		}
	}

	failed := st.Overview.ByState[StateFailed]
	if completed+failed > 0 {
		st.Overview.SuccessRate = float64(completed) / float64(completed+failed)
	}
	if completed > 0 {
		st.Performance.AvgDurationBars = float64(durations) / float64(completed)
	}
	fillRStats(&st.Performance, rs)
	return st
}

func fillRStats(p *Performance, rs []float64) {
	if len(rs) == 0 {
		return
	}
	sorted := make([]float64, len(rs))
	copy(sorted, rs)
	sort.Float64s(sorted)

	p.MinR = sorted[0]
	p.MaxR = sorted[len(sorted)-1]
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		p.MedianR = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		p.MedianR = sorted[mid]
	}

	for _, r := range rs {
		p.TotalR += r
		if r > 0 {
			p.Wins++
		} else {
			p.Losses++
		}
	}
	p.MeanR = p.TotalR / float64(len(rs))
	p.WinRate = float64(p.Wins) / float64(len(rs))
}

// sequenceBucket classifies the campaign's pattern kind sequence
func sequenceBucket(c *Campaign) string {
	switch {
	case hasSequence(c, patterns.KindSpring, patterns.KindAutomaticRally, patterns.KindSOS, patterns.KindLPS):
		return SeqSpringARSOSLPS
	case hasSequence(c, patterns.KindSpring, patterns.KindAutomaticRally, patterns.KindSOS):
		return SeqSpringARSOS
	case hasSequence(c, patterns.KindSpring, patterns.KindSOS):
		return SeqSpringSOS
	default:
		return SeqOther
	}
}
