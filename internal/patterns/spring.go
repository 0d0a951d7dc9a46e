package patterns

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/analysis"
	"wyckoff-trading-platform/internal/logging"
	"wyckoff-trading-platform/internal/market"
	"wyckoff-trading-platform/internal/phase"
	"wyckoff-trading-platform/internal/ranges"
)

var (
	maxPenetration    = decimal.NewFromFloat(0.05)
	springVolumeLimit = decimal.NewFromFloat(0.7)
	breakdownPct      = decimal.NewFromFloat(0.05)
)

const (
	springMinHistoryBars  = 20
	springMaxRecoveryBars = 5
	breakdownWatchBars    = 10
	ctxCheckInterval      = 256
)

// SpringDetector finds a Wyckoff spring: a shakeout below Creek on low
// volume, recovered within five bars. Springs are only valid in Phase C.
type SpringDetector struct {
	cfg     Config
	scorers *ScorerFactory
	logger  *logging.Logger
}

// NewSpringDetector creates a spring detector
func NewSpringDetector(cfg Config, scorers *ScorerFactory) *SpringDetector {
	return &SpringDetector{
		cfg:     cfg,
		scorers: scorers,
		logger:  logging.WithComponent("spring_detector"),
	}
}

// Detect scans for the first valid spring. Returns nil when no spring
// qualifies; domain rejections are logged at debug and never surface as
// errors. The context is checked periodically inside the scan loop.
func (d *SpringDetector) Detect(
	ctx context.Context,
	bars []market.OHLCVBar,
	vol *analysis.VolumeCache,
	tr *ranges.TradingRange,
	currentPhase phase.Phase,
	scoringCtx ScoringContext,
) (*Pattern, error) {
	if currentPhase != phase.PhaseC {
		d.logger.Debug("spring detection skipped outside phase C", "phase", string(currentPhase))
		return nil, nil
	}
	if tr == nil || tr.Creek == nil {
		return nil, nil
	}
	creek := tr.Creek.Price
	if !creek.IsPositive() {
		return nil, nil
	}

	for i := springMinHistoryBars; i < len(bars); i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		bar := bars[i]
		if !bar.Low.LessThan(creek) {
			continue
		}

		penetration := creek.Sub(bar.Low).Div(creek)
		if penetration.GreaterThan(maxPenetration) {
			d.logger.Debug("spring candidate rejected: penetration too deep",
				"bar_index", i, "penetration", penetration.String())
			continue
		}

		va, ok := vol.At(i)
		if !ok || va.VolumeRatio == nil {
			continue
		}
		// Binary rule: high volume under support is a breakdown, not a
		// spring. No soft degradation.
		if va.VolumeRatio.GreaterThanOrEqual(springVolumeLimit) {
			d.logger.Debug("spring candidate rejected: volume at or above 0.7x",
				"bar_index", i, "volume_ratio", va.VolumeRatio.String())
			continue
		}

		recoveryBars, recoveryPrice, recovered := findRecovery(bars, i, creek)
		if !recovered {
			d.logger.Debug("spring candidate rejected: no recovery within 5 bars", "bar_index", i)
			continue
		}

		// Invalidation: a >=5% breakdown below Creek inside the watch
		// window means the shakeout failed
		if breakdownFollows(bars, i, creek) {
			d.logger.Debug("spring invalidated by breakdown", "bar_index", i)
			tr.Status = ranges.StatusBreakout
			return nil, nil
		}

		scorer := d.scorers.ForSymbol(bar.Symbol)
		spring := &Spring{
			Bar:               bar,
			BarIndex:          i,
			PenetrationPct:    penetration,
			VolumeRatio:       *va.VolumeRatio,
			RecoveryBars:      recoveryBars,
			CreekReference:    creek,
			SpringLow:         bar.Low,
			RecoveryPrice:     recoveryPrice,
			AssetClass:        scorer.AssetClass(),
			VolumeReliability: scorer.VolumeReliability(),
		}

		filtered := d.applySessionRules(spring, bar)
		if filtered && !d.cfg.StoreRejectedPatterns {
			continue
		}

		confidence := scorer.SpringConfidence(spring, scoringCtx)
		effective := confidence + spring.SessionConfidencePenalty
		if effective < 0 {
			effective = 0
		}
		spring.IsTradeable = !spring.RejectedBySessionFilter && effective >= d.cfg.MinConfidence

		return &Pattern{
			Kind:        KindSpring,
			Symbol:      bar.Symbol,
			Timeframe:   bar.Timeframe,
			BarIndex:    i,
			Timestamp:   bar.Timestamp,
			Price:       bar.Close,
			VolumeRatio: spring.VolumeRatio,
			Confidence:  effective,
			Quality:     effective / 100.0,
			Spring:      spring,
		}, nil
	}

	return nil, nil
}

// applySessionRules runs intraday session filtering and confidence penalties.
// Returns true when the session filter rejected the candidate.
func (d *SpringDetector) applySessionRules(spring *Spring, bar market.OHLCVBar) bool {
	if !bar.Timeframe.IsIntraday() {
		return false
	}
	session := market.SessionFromTime(bar.Timestamp)
	spring.Session = session

	if d.cfg.SessionFilterEnabled &&
		(session == market.SessionAsian || session == market.SessionNYClose) {
		now := time.Now().UTC()
		spring.RejectedBySessionFilter = true
		spring.RejectionReason = "low-liquidity session: " + string(session)
		spring.RejectionTimestamp = &now
		spring.IsTradeable = false
		d.logger.Debug("spring rejected by session filter",
			"bar_index", spring.BarIndex, "session", string(session))
	}

	if d.cfg.SessionConfidenceScoringEnabled {
		spring.SessionConfidencePenalty = sessionPenalty(session, d.cfg.SessionFilterEnabled)
	}

	return spring.RejectedBySessionFilter
}

// sessionPenalty maps sessions to confidence penalties. Asian is penalized
// harder when filtering is also on, matching the stricter liquidity stance.
func sessionPenalty(session market.TradingSession, filterEnabled bool) float64 {
	switch session {
	case market.SessionLondon, market.SessionOverlap:
		return 0
	case market.SessionNewYork:
		return -5
	case market.SessionAsian:
		if filterEnabled {
			return -25
		}
		return -20
	case market.SessionNYClose:
		return -25
	default:
		return 0
	}
}

// findRecovery looks for a close back above Creek within 1-5 bars
func findRecovery(bars []market.OHLCVBar, springIdx int, creek decimal.Decimal) (int, decimal.Decimal, bool) {
	for j := springIdx + 1; j <= springIdx+springMaxRecoveryBars && j < len(bars); j++ {
		if bars[j].Close.GreaterThan(creek) {
			return j - springIdx, bars[j].Close, true
		}
	}
	return 0, decimal.Zero, false
}

// breakdownFollows watches the next 10 bars for a >=5% break below Creek
func breakdownFollows(bars []market.OHLCVBar, springIdx int, creek decimal.Decimal) bool {
	threshold := creek.Mul(decimal.NewFromInt(1).Sub(breakdownPct))
	for j := springIdx + 1; j <= springIdx+breakdownWatchBars && j < len(bars); j++ {
		if bars[j].Low.LessThan(threshold) {
			return true
		}
	}
	return false
}
