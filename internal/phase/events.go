package phase

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is one piece of Wyckoff evidence collected during a detection pass.
// The classifier only cares about where and how well an event occurred, not
// which detector produced it.
type Event struct {
	BarIndex    int             `json:"bar_index"`
	Timestamp   time.Time       `json:"timestamp"`
	Price       decimal.Decimal `json:"price"`
	VolumeRatio decimal.Decimal `json:"volume_ratio"`
	Confidence  float64         `json:"confidence"` // 0-100
}

// Events is the evidence container consumed by the classifier
type Events struct {
	SellingClimax      *Event   `json:"selling_climax,omitempty"`
	AutomaticRally     *Event   `json:"automatic_rally,omitempty"`
	SecondaryTests     []*Event `json:"secondary_tests,omitempty"`
	Spring             *Event   `json:"spring,omitempty"`
	SignOfStrength     *Event   `json:"sign_of_strength,omitempty"`
	LastPointOfSupport *Event   `json:"last_point_of_support,omitempty"`
}

// all returns present events for quality averaging
func (e *Events) all() []*Event {
	var out []*Event
	for _, ev := range []*Event{e.SellingClimax, e.AutomaticRally, e.Spring, e.SignOfStrength, e.LastPointOfSupport} {
		if ev != nil {
			out = append(out, ev)
		}
	}
	for _, st := range e.SecondaryTests {
		if st != nil {
			out = append(out, st)
		}
	}
	return out
}

// TestingReady reports whether a Phase C test is the next expected event:
// the stopping action is fully evidenced, so a shakeout of support would be
// the test that confirms Phase C rather than noise inside Phase A
func (e *Events) TestingReady() bool {
	return e.phaseAComplete()
}

// phaseAComplete reports whether stopping action is fully evidenced
func (e *Events) phaseAComplete() bool {
	return e.SellingClimax != nil && e.AutomaticRally != nil
}

// phaseBComplete requires A plus at least one secondary test
func (e *Events) phaseBComplete() bool {
	return e.phaseAComplete() && len(e.SecondaryTests) >= 1
}

// phaseCComplete requires B plus a spring
func (e *Events) phaseCComplete() bool {
	return e.phaseBComplete() && e.Spring != nil
}

// phaseDComplete requires a sign of strength
func (e *Events) phaseDComplete() bool {
	return e.SignOfStrength != nil
}
