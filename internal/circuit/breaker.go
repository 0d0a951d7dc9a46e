// Package circuit isolates repeatedly failing pattern detectors so one bad
// detector cannot stall the whole analysis pipeline.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"wyckoff-trading-platform/internal/logging"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Detector skipped
	StateHalfOpen BreakerState = "half_open" // Probing recovery
)

// Config holds circuit breaker thresholds
type Config struct {
	Enabled          bool          `json:"enabled"`
	FailureThreshold int           `json:"failure_threshold"` // failures within the window to open
	Window           time.Duration `json:"window"`
}

// DefaultConfig returns the detector isolation defaults
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		FailureThreshold: 3,
		Window:           60 * time.Second,
	}
}

// detectorState tracks recent failure instants for one detector. The deque
// is bounded by the failure threshold; older entries are irrelevant.
type detectorState struct {
	state    BreakerState
	failures []time.Time
	openedAt time.Time
}

// Breaker tracks failures per detector name and opens independently for
// each. A shared Breaker serves all symbols analyzed by one pipeline.
type Breaker struct {
	mu        sync.Mutex
	cfg       Config
	detectors map[string]*detectorState
	logger    *logging.Logger
	now       func() time.Time
}

// NewBreaker creates a breaker
func NewBreaker(cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Breaker{
		cfg:       cfg,
		detectors: make(map[string]*detectorState),
		logger:    logging.WithComponent("circuit_breaker"),
		now:       time.Now,
	}
}

// Allow reports whether the named detector may run. An open breaker
// transitions to half-open once the window has elapsed since it opened,
// letting a single probe through.
func (b *Breaker) Allow(detector string) (bool, string) {
	if !b.cfg.Enabled {
		return true, ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ds, ok := b.detectors[detector]
	if !ok || ds.state == StateClosed {
		return true, ""
	}

	if ds.state == StateOpen {
		elapsed := b.now().Sub(ds.openedAt)
		if elapsed < b.cfg.Window {
			return false, fmt.Sprintf("breaker open for %s, retry in %v",
				detector, (b.cfg.Window - elapsed).Round(time.Second))
		}
		ds.state = StateHalfOpen
		b.logger.Info("breaker half-open", "detector", detector)
	}
	return true, ""
}

// RecordFailure appends a failure instant and opens the breaker when the
// threshold is reached within the window
func (b *Breaker) RecordFailure(detector string) {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	ds, ok := b.detectors[detector]
	if !ok {
		ds = &detectorState{state: StateClosed}
		b.detectors[detector] = ds
	}

	// A failure during the half-open probe reopens immediately
	if ds.state == StateHalfOpen {
		ds.state = StateOpen
		ds.openedAt = now
		b.logger.Warn("breaker reopened after failed probe", "detector", detector)
		return
	}

	cutoff := now.Add(-b.cfg.Window)
	kept := ds.failures[:0]
	for _, t := range ds.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	ds.failures = append(kept, now)
	if len(ds.failures) > b.cfg.FailureThreshold {
		ds.failures = ds.failures[len(ds.failures)-b.cfg.FailureThreshold:]
	}

	if len(ds.failures) >= b.cfg.FailureThreshold {
		ds.state = StateOpen
		ds.openedAt = now
		b.logger.Warn("breaker opened",
			"detector", detector, "failures", len(ds.failures), "window", b.cfg.Window.String())
	}
}

// RecordSuccess closes the breaker and clears failure history
func (b *Breaker) RecordSuccess(detector string) {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ds, ok := b.detectors[detector]
	if !ok {
		return
	}
	if ds.state != StateClosed {
		b.logger.Info("breaker closed", "detector", detector)
	}
	ds.state = StateClosed
	ds.failures = ds.failures[:0]
}

// State returns the current state for the named detector
func (b *Breaker) State(detector string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ds, ok := b.detectors[detector]; ok {
		return ds.state
	}
	return StateClosed
}
