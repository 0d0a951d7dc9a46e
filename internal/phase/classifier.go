package phase

import (
	"time"

	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/logging"
	"wyckoff-trading-platform/internal/ranges"
)

// decimalTolerance is the relative band used for "near support" checks
var decimalTolerance = decimal.NewFromFloat(0.02)

// Phase is a Wyckoff accumulation/distribution stage
type Phase string

const (
	PhaseA Phase = "A" // stopping action
	PhaseB Phase = "B" // building cause
	PhaseC Phase = "C" // testing
	PhaseD Phase = "D" // markup preparation
	PhaseE Phase = "E" // markup
)

// MinTradingConfidence gates downstream pattern detection
const MinTradingConfidence = 70.0

// Classification is the classifier output
type Classification struct {
	CurrentPhase    Phase     `json:"current_phase"`
	Confidence      float64   `json:"confidence"` // 0-100
	PhaseStartIndex int       `json:"phase_start_index"`
	PhaseStartTime  time.Time `json:"phase_start_time"`
	Events          *Events   `json:"events"`
	TradingAllowed  bool      `json:"trading_allowed"`

	// Component breakdown, useful for diagnostics
	PresenceScore float64 `json:"presence_score"` // 0-40
	QualityScore  float64 `json:"quality_score"`  // 0-30
	SequenceScore float64 `json:"sequence_score"` // 0-20
	ContextScore  float64 `json:"context_score"`  // 0-10
}

// Classifier determines the current Wyckoff phase from collected evidence
type Classifier struct {
	minConfidence float64
	logger        *logging.Logger
}

// NewClassifier creates a classifier; minConfidence defaults to 70
func NewClassifier(minConfidence float64) *Classifier {
	if minConfidence <= 0 {
		minConfidence = MinTradingConfidence
	}
	return &Classifier{
		minConfidence: minConfidence,
		logger:        logging.WithComponent("phase_classifier"),
	}
}

// Classify determines phase and confidence for a trading range given its
// event evidence
func (c *Classifier) Classify(tr *ranges.TradingRange, ev *Events) Classification {
	if ev == nil {
		ev = &Events{}
	}

	phase, startIdx, startTime := inferPhase(ev, tr)

	cl := Classification{
		CurrentPhase:    phase,
		PhaseStartIndex: startIdx,
		PhaseStartTime:  startTime,
		Events:          ev,
	}

	cl.PresenceScore = presenceScore(phase, ev)
	cl.QualityScore = qualityScore(ev)
	cl.SequenceScore = sequenceScore(ev)
	cl.ContextScore = contextScore(ev, tr)

	cl.Confidence = cl.PresenceScore + cl.QualityScore + cl.SequenceScore + cl.ContextScore
	if cl.Confidence > 100 {
		cl.Confidence = 100
	}
	cl.TradingAllowed = cl.Confidence >= c.minConfidence

	if !cl.TradingAllowed {
		c.logger.Warn("phase confidence below trading threshold",
			"phase", string(phase), "confidence", cl.Confidence, "threshold", c.minConfidence)
	}

	if tr != nil {
		tr.Phase = string(phase)
	}
	return cl
}

// inferPhase picks the most advanced phase the evidence supports
func inferPhase(ev *Events, tr *ranges.TradingRange) (Phase, int, time.Time) {
	switch {
	case ev.phaseDComplete() && breakoutHeld(ev, tr):
		return PhaseE, ev.SignOfStrength.BarIndex, ev.SignOfStrength.Timestamp
	case ev.SignOfStrength != nil:
		return PhaseD, ev.SignOfStrength.BarIndex, ev.SignOfStrength.Timestamp
	case ev.Spring != nil:
		return PhaseC, ev.Spring.BarIndex, ev.Spring.Timestamp
	case len(ev.SecondaryTests) > 0:
		first := ev.SecondaryTests[0]
		return PhaseB, first.BarIndex, first.Timestamp
	case ev.AutomaticRally != nil:
		return PhaseA, ev.AutomaticRally.BarIndex, ev.AutomaticRally.Timestamp
	case ev.SellingClimax != nil:
		return PhaseA, ev.SellingClimax.BarIndex, ev.SellingClimax.Timestamp
	default:
		return PhaseB, 0, time.Time{}
	}
}

// breakoutHeld checks the LPS held above Ice after the SOS, the continuation
// signal that separates E from D
func breakoutHeld(ev *Events, tr *ranges.TradingRange) bool {
	if ev.LastPointOfSupport == nil || tr == nil || tr.Ice == nil {
		return false
	}
	return ev.LastPointOfSupport.Price.GreaterThanOrEqual(tr.Ice.Price)
}

// presenceScore applies the per-phase required-event checklist (0-40)
func presenceScore(phase Phase, ev *Events) float64 {
	score := 0.0
	switch phase {
	case PhaseA:
		if ev.SellingClimax != nil {
			score += 20
		}
		if ev.AutomaticRally != nil {
			score += 20
		}
	case PhaseB:
		if ev.phaseAComplete() {
			score += 20
		}
		switch {
		case len(ev.SecondaryTests) >= 2:
			score += 20
		case len(ev.SecondaryTests) == 1:
			score += 10
		}
	case PhaseC:
		if ev.phaseBComplete() {
			score += 20
		}
		if ev.Spring != nil {
			score += 20
		}
	case PhaseD:
		if ev.SignOfStrength != nil {
			score += 40
		}
	case PhaseE:
		if ev.phaseDComplete() {
			score += 20
		}
		if ev.LastPointOfSupport != nil {
			score += 20
		}
	}
	return score
}

// qualityScore averages per-event confidences, scaled to 0-30
func qualityScore(ev *Events) float64 {
	events := ev.all()
	if len(events) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range events {
		sum += e.Confidence
	}
	return (sum / float64(len(events))) * 30.0 / 100.0
}

// sequenceScore enforces chronological order of events (0-20)
func sequenceScore(ev *Events) float64 {
	score := 20.0

	if ev.SellingClimax != nil && ev.AutomaticRally != nil {
		gap := ev.AutomaticRally.BarIndex - ev.SellingClimax.BarIndex
		if gap <= 0 {
			score -= 10 // AR before SC breaks the narrative
		} else if gap > 10 {
			score -= 5
		}
	}

	if ev.AutomaticRally != nil {
		prev := ev.AutomaticRally.BarIndex
		for _, st := range ev.SecondaryTests {
			if st.BarIndex <= prev {
				score -= 4
				break
			}
			prev = st.BarIndex
		}
	}

	if ev.Spring != nil && len(ev.SecondaryTests) > 0 {
		lastST := ev.SecondaryTests[len(ev.SecondaryTests)-1]
		if ev.Spring.BarIndex <= lastST.BarIndex {
			score -= 5
		}
	}

	if ev.SignOfStrength != nil && ev.Spring != nil {
		if ev.SignOfStrength.BarIndex <= ev.Spring.BarIndex {
			score -= 5
		}
	}

	if ev.LastPointOfSupport != nil && ev.SignOfStrength != nil {
		if ev.LastPointOfSupport.BarIndex <= ev.SignOfStrength.BarIndex {
			score -= 4
		}
	}

	if score < 0 {
		score = 0
	}
	return score
}

// contextScore checks events sit where the range says they should (0-10)
func contextScore(ev *Events, tr *ranges.TradingRange) float64 {
	if tr == nil {
		return 0
	}
	score := 0.0

	// SC near support
	if ev.SellingClimax != nil {
		band := tr.Support.Mul(decimalTolerance)
		if ev.SellingClimax.Price.Sub(tr.Support).Abs().LessThanOrEqual(band) {
			score += 3
		}
	}

	// AR contained by resistance
	if ev.AutomaticRally != nil && ev.AutomaticRally.Price.LessThanOrEqual(tr.Resistance) {
		score += 2
	}

	// STs inside the range
	if len(ev.SecondaryTests) > 0 {
		inside := true
		for _, st := range ev.SecondaryTests {
			if st.Price.LessThan(tr.Support) || st.Price.GreaterThan(tr.Resistance) {
				inside = false
				break
			}
		}
		if inside {
			score += 2
		}
	}

	// SOS breaches Ice
	if ev.SignOfStrength != nil && tr.Ice != nil &&
		ev.SignOfStrength.Price.GreaterThan(tr.Ice.Price) {
		score += 2
	}

	// LPS holds above Ice
	if ev.LastPointOfSupport != nil && tr.Ice != nil &&
		ev.LastPointOfSupport.Price.GreaterThanOrEqual(tr.Ice.Price) {
		score += 1
	}

	if score > 10 {
		score = 10
	}
	return score
}
