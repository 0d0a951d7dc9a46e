// Package campaign groups detected Wyckoff patterns into accumulation
// campaigns, tracks their lifecycle, and enforces portfolio-level risk.
package campaign

import (
	"time"

	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/patterns"
)

// Campaign lifecycle states
const (
	StateForming   = "FORMING"
	StateActive    = "ACTIVE"
	StateDormant   = "DORMANT"
	StateCompleted = "COMPLETED"
	StateFailed    = "FAILED"
)

// Exit reasons recorded on completion or failure
const (
	ExitTargetHit = "TARGET_HIT"
	ExitStopOut   = "STOP_OUT"
	ExitTimeLimit = "TIME_EXIT"
	ExitPhaseE    = "PHASE_E"
	ExitManual    = "MANUAL_EXIT"
	ExitUnknown   = "UNKNOWN"
)

// Volume-profile directions
const (
	VolumeIncreasing = "INCREASING"
	VolumeDeclining  = "DECLINING"
	VolumeNeutral    = "NEUTRAL"
	VolumeUnknown    = "UNKNOWN"
)

// Effort-vs-result classifications
const (
	EffortHarmony    = "HARMONY"
	EffortDivergence = "DIVERGENCE"
	EffortUnknown    = "UNKNOWN"
)

// VolumeTelemetry is the volume-profile summary maintained on each append
type VolumeTelemetry struct {
	VolumeProfile     string  `json:"volume_profile"`
	EffortVsResult    string  `json:"effort_vs_result"`
	ClimaxDetected    bool    `json:"climax_detected"`
	AbsorptionQuality float64 `json:"absorption_quality"` // 0-100, Springs only
}

// PhaseTransition records when the campaign entered a phase
type PhaseTransition struct {
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase"`
}

// Campaign is an ordered sequence of patterns on one symbol/timeframe that
// together tell an accumulation story
type Campaign struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	State     string    `json:"state"`
	Phase     string    `json:"phase"`
	StartTime time.Time `json:"start_time"`
	UpdatedAt time.Time `json:"updated_at"`

	Patterns     []*patterns.Pattern `json:"patterns"`
	PhaseHistory []PhaseTransition   `json:"phase_history"`

	// Risk metadata, recomputed on each append
	SupportLevel    decimal.Decimal `json:"support_level"`
	ResistanceLevel decimal.Decimal `json:"resistance_level"`
	StrengthScore   float64         `json:"strength_score"` // 0-1
	RiskPerShare    decimal.Decimal `json:"risk_per_share"`
	RangeWidthPct   decimal.Decimal `json:"range_width_pct"`
	PositionSize    int64           `json:"position_size"`
	DollarRisk      decimal.Decimal `json:"dollar_risk"`

	// Wyckoff exit levels. OriginalIceLevel keeps the first resistance the
	// campaign saw; each later upward revision bumps IceExpansionCount and
	// recomputes JumpLevel off the new resistance.
	JumpLevel         decimal.Decimal `json:"jump_level"`
	OriginalIceLevel  decimal.Decimal `json:"original_ice_level"`
	IceExpansionCount int             `json:"ice_expansion_count"`

	Telemetry VolumeTelemetry `json:"telemetry"`

	// Completion fields
	EntryPrice    decimal.Decimal `json:"entry_price"`
	ExitPrice     decimal.Decimal `json:"exit_price"`
	ExitReason    string          `json:"exit_reason,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	PointsGained  decimal.Decimal `json:"points_gained"`
	RMultiple     float64         `json:"r_multiple"`
	RValid        bool            `json:"r_valid"` // false when risk_per_share <= 0
	DurationBars  int             `json:"duration_bars"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	EntryPhase    string          `json:"entry_phase,omitempty"`
	ExitPhase     string          `json:"exit_phase,omitempty"`
}

// RecordPhase appends a phase-history entry when the phase actually changes
func (c *Campaign) RecordPhase(phase string, at time.Time) {
	if phase == "" || phase == c.Phase {
		return
	}
	c.Phase = phase
	c.PhaseHistory = append(c.PhaseHistory, PhaseTransition{Timestamp: at, Phase: phase})
}

// LatestPattern returns the most recently appended pattern, or nil
func (c *Campaign) LatestPattern() *patterns.Pattern {
	if len(c.Patterns) == 0 {
		return nil
	}
	return c.Patterns[len(c.Patterns)-1]
}

// IsTerminal reports whether the campaign can no longer change state
func (c *Campaign) IsTerminal() bool {
	return c.State == StateCompleted || c.State == StateFailed
}

// PatternKinds returns the kind sequence, used for statistics breakdowns
func (c *Campaign) PatternKinds() []patterns.Kind {
	kinds := make([]patterns.Kind, len(c.Patterns))
	for i, p := range c.Patterns {
		kinds[i] = p.Kind
	}
	return kinds
}

// Config holds campaign detection parameters. Defaults depend on timeframe.
type Config struct {
	CampaignWindow       time.Duration `json:"campaign_window"`
	MaxPatternGap        time.Duration `json:"max_pattern_gap"`
	MinPatternsForActive int           `json:"min_patterns_for_active"`
	Expiration           time.Duration `json:"expiration"`
	MaxConcurrent        int           `json:"max_concurrent"`
	MaxPortfolioHeatPct  float64       `json:"max_portfolio_heat_pct"`
}

// DefaultIntradayConfig returns defaults for timeframes of one hour or less
func DefaultIntradayConfig() Config {
	return Config{
		CampaignWindow:       48 * time.Hour,
		MaxPatternGap:        48 * time.Hour,
		MinPatternsForActive: 2,
		Expiration:           72 * time.Hour,
		MaxConcurrent:        3,
		MaxPortfolioHeatPct:  10.0,
	}
}

// DefaultDailyConfig returns defaults for daily bars
func DefaultDailyConfig() Config {
	return Config{
		CampaignWindow:       240 * time.Hour,
		MaxPatternGap:        120 * time.Hour,
		MinPatternsForActive: 2,
		Expiration:           360 * time.Hour,
		MaxConcurrent:        5,
		MaxPortfolioHeatPct:  10.0,
	}
}
