package patterns

import (
	"time"

	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/market"
)

// Kind tags the pattern variant
type Kind string

const (
	KindSpring         Kind = "SPRING"
	KindAutomaticRally Kind = "AR"
	KindSecondaryTest  Kind = "ST"
	KindSOS            Kind = "SOS"
	KindLPS            Kind = "LPS"
)

// Pattern is a tagged variant over the five Wyckoff pattern types. Exactly
// one payload pointer matching Kind is set. Campaign sequencing and phase
// inference switch on the tag.
type Pattern struct {
	Kind        Kind             `json:"kind"`
	Symbol      string           `json:"symbol"`
	Timeframe   market.Timeframe `json:"timeframe"`
	BarIndex    int              `json:"bar_index"`
	Timestamp   time.Time        `json:"timestamp"`
	Price       decimal.Decimal  `json:"price"` // close of the pattern bar
	VolumeRatio decimal.Decimal  `json:"volume_ratio"`
	Confidence  float64          `json:"confidence"` // 0-100
	Quality     float64          `json:"quality"`    // 0-1

	Spring        *Spring         `json:"spring,omitempty"`
	Rally         *AutomaticRally `json:"rally,omitempty"`
	SecondaryTest *SecondaryTest  `json:"secondary_test,omitempty"`
	Breakout      *SOSBreakout    `json:"breakout,omitempty"`
	Support       *LPS            `json:"support,omitempty"`
}

// Spring is a shakeout below Creek on low volume with rapid recovery
type Spring struct {
	Bar                      market.OHLCVBar          `json:"bar"`
	BarIndex                 int                      `json:"bar_index"`
	PenetrationPct           decimal.Decimal          `json:"penetration_pct"` // (0, 0.05]
	VolumeRatio              decimal.Decimal          `json:"volume_ratio"`    // < 0.7 strict
	RecoveryBars             int                      `json:"recovery_bars"`   // 1-5
	CreekReference           decimal.Decimal          `json:"creek_reference"`
	SpringLow                decimal.Decimal          `json:"spring_low"`
	RecoveryPrice            decimal.Decimal          `json:"recovery_price"`
	AssetClass               market.AssetClass        `json:"asset_class"`
	VolumeReliability        market.VolumeReliability `json:"volume_reliability"`
	Session                  market.TradingSession    `json:"session,omitempty"`
	SessionConfidencePenalty float64                  `json:"session_confidence_penalty"`
	IsTradeable              bool                     `json:"is_tradeable"`
	RejectedBySessionFilter  bool                     `json:"rejected_by_session_filter"`
	RejectionReason          string                   `json:"rejection_reason,omitempty"`
	RejectionTimestamp       *time.Time               `json:"rejection_timestamp,omitempty"`
}

// AutomaticRally is the relief rally after a Selling Climax
type AutomaticRally struct {
	Bar           market.OHLCVBar `json:"bar"`
	BarIndex      int             `json:"bar_index"`
	RallyPct      decimal.Decimal `json:"rally_pct"` // >= 0.03
	BarsAfterSC   int             `json:"bars_after_sc"`
	SCReference   int             `json:"sc_reference"` // SC bar index
	SCLow         decimal.Decimal `json:"sc_low"`
	ARHigh        decimal.Decimal `json:"ar_high"`
	VolumeProfile string          `json:"volume_profile"` // HIGH or NORMAL
	QualityScore  float64         `json:"quality_score"`  // 0-1
}

// SecondaryTest is a retest of the SC low on reduced volume
type SecondaryTest struct {
	Bar                market.OHLCVBar `json:"bar"`
	BarIndex           int             `json:"bar_index"`
	TestLow            decimal.Decimal `json:"test_low"`
	DistanceFromSCLow  decimal.Decimal `json:"distance_from_sc_low"`  // <= 0.02
	VolumeReductionPct decimal.Decimal `json:"volume_reduction_pct"`  // >= 0.20
	TestNumber         int             `json:"test_number"`
	Penetration        decimal.Decimal `json:"penetration"` // <= 0.01 acceptable
	VolumeRatio        decimal.Decimal `json:"volume_ratio"`
	Confidence         float64         `json:"confidence"`
}

// SOSBreakout is a Sign of Strength: a wide-spread, high-volume close
// through Ice
type SOSBreakout struct {
	Bar           market.OHLCVBar `json:"bar"`
	BarIndex      int             `json:"bar_index"`
	BreakoutPct   decimal.Decimal `json:"breakout_pct"`   // >= 0.01
	VolumeRatio   decimal.Decimal `json:"volume_ratio"`   // >= 1.5
	SpreadRatio   decimal.Decimal `json:"spread_ratio"`   // >= 1.2
	ClosePosition decimal.Decimal `json:"close_position"` // >= 0.5
	BreakoutPrice decimal.Decimal `json:"breakout_price"`
}

// LPS is a Last Point of Support: a pullback toward Ice that holds on
// reduced volume
type LPS struct {
	Bar             market.OHLCVBar `json:"bar"`
	BarIndex        int             `json:"bar_index"`
	DistanceFromIce decimal.Decimal `json:"distance_from_ice"`
	HeldSupport     bool            `json:"held_support"`
	VolumeRatio     decimal.Decimal `json:"volume_ratio"`
	IceLevel        decimal.Decimal `json:"ice_level"`
}

// SellingClimax is the stopping-action event opening Phase A. It is
// evidence for the phase classifier rather than a tradeable pattern.
type SellingClimax struct {
	Bar           market.OHLCVBar `json:"bar"`
	BarIndex      int             `json:"bar_index"`
	Low           decimal.Decimal `json:"low"`
	VolumeRatio   decimal.Decimal `json:"volume_ratio"`
	SpreadRatio   decimal.Decimal `json:"spread_ratio"`
	ClosePosition decimal.Decimal `json:"close_position"`
	Confidence    float64         `json:"confidence"`
}

// Config holds detector-level switches
type Config struct {
	SessionFilterEnabled            bool    `json:"session_filter_enabled"`
	SessionConfidenceScoringEnabled bool    `json:"session_confidence_scoring_enabled"`
	StoreRejectedPatterns           bool    `json:"store_rejected_patterns"`
	MinConfidence                   float64 `json:"min_confidence"` // default 70
}

// DefaultConfig returns the detection defaults
func DefaultConfig() Config {
	return Config{
		SessionFilterEnabled:            false,
		SessionConfidenceScoringEnabled: false,
		StoreRejectedPatterns:           false,
		MinConfidence:                   70,
	}
}
