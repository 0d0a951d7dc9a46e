package campaign

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/patterns"
)

const highQualityAR = 0.7

// validTransitions defines which pattern kind may follow which. A violation
// does not block appending but blocks phase advancement on that pattern.
var validTransitions = map[patterns.Kind]map[patterns.Kind]bool{
	patterns.KindSpring: {
		patterns.KindSpring:         true,
		patterns.KindAutomaticRally: true,
		patterns.KindSOS:            true,
	},
	patterns.KindAutomaticRally: {
		patterns.KindSOS: true,
		patterns.KindLPS: true,
	},
	patterns.KindSOS: {
		patterns.KindSOS: true,
		patterns.KindLPS: true,
	},
	patterns.KindLPS: {
		patterns.KindLPS: true,
	},
}

// AdmissionError reports a campaign rejected by portfolio limits
type AdmissionError struct {
	Reason string
}

func (e *AdmissionError) Error() string { return "campaign admission denied: " + e.Reason }

// Detector groups patterns into campaigns and runs the campaign state
// machine. A single Detector instance serves one portfolio.
type Detector struct {
	store           *Store
	cfg             Config
	accountEquity   decimal.Decimal
	riskPctPerTrade float64
	logger          zerolog.Logger
	now             func() time.Time
}

// NewDetector creates a campaign detector over a fresh store
func NewDetector(cfg Config, accountEquity decimal.Decimal, riskPctPerTrade float64, logger zerolog.Logger) *Detector {
	return &Detector{
		store:           NewStore(),
		cfg:             cfg,
		accountEquity:   accountEquity,
		riskPctPerTrade: riskPctPerTrade,
		logger:          logger.With().Str("component", "campaign_detector").Logger(),
		now:             time.Now,
	}
}

// Store exposes the indexed campaign collection for read paths
func (d *Detector) Store() *Store { return d.store }

// AddPattern routes a pattern to an existing open campaign within the
// pattern-gap window or admits a new one, then recomputes risk metadata,
// telemetry, phase, and lifecycle state
func (d *Detector) AddPattern(p *patterns.Pattern) (*Campaign, error) {
	now := d.now()
	d.ExpireStale(now)

	target := d.openCampaignFor(p, now)
	if target == "" {
		id, err := d.admitNew(p, now)
		if err != nil {
			return nil, err
		}
		target = id
	}

	var appendErr error
	d.store.Mutate(target, func(c *Campaign) {
		valid := true
		if prev := c.LatestPattern(); prev != nil {
			valid = validTransitions[prev.Kind][p.Kind]
			if !valid {
				d.logger.Warn().
					Str("campaign_id", c.ID).
					Str("prev_kind", string(prev.Kind)).
					Str("kind", string(p.Kind)).
					Msg("pattern sequence violation, phase frozen")
			}
		}

		c.Patterns = append(c.Patterns, p)
		c.UpdatedAt = now
		if len(c.Patterns) == 1 {
			c.EntryPrice = p.Price
		}

		if valid {
			c.RecordPhase(inferCampaignPhase(c.Patterns), now)
			if c.EntryPhase == "" {
				c.EntryPhase = c.Phase
			}
		}

		if err := updateRiskMetadata(c, d.accountEquity, d.riskPctPerTrade); err != nil {
			appendErr = err
		}
		updateTelemetry(c)
		d.advanceState(c, now)
	})
	if appendErr != nil {
		return nil, appendErr
	}
	return d.store.Get(target), nil
}

// openCampaignFor finds a non-terminal campaign for the pattern's symbol and
// timeframe whose last update is within the pattern-gap window
func (d *Detector) openCampaignFor(p *patterns.Pattern, now time.Time) string {
	for _, c := range d.store.All() {
		if c.IsTerminal() {
			continue
		}
		if c.Symbol != p.Symbol || c.Timeframe != string(p.Timeframe) {
			continue
		}
		if now.Sub(c.UpdatedAt) <= d.cfg.MaxPatternGap {
			return c.ID
		}
	}
	return ""
}

// admitNew runs the portfolio limits check and creates a FORMING campaign
func (d *Detector) admitNew(p *patterns.Pattern, now time.Time) (string, error) {
	active := d.store.ActiveCampaigns()

	if len(active) >= d.cfg.MaxConcurrent {
		d.logger.Warn().
			Int("active", len(active)).
			Int("max_concurrent", d.cfg.MaxConcurrent).
			Msg("campaign admission denied: concurrency limit")
		return "", &AdmissionError{Reason: fmt.Sprintf("active campaigns %d at limit %d", len(active), d.cfg.MaxConcurrent)}
	}

	currentHeat := PortfolioHeat(active, d.accountEquity)
	prospective := d.prospectiveHeat(p)
	if currentHeat+prospective > d.cfg.MaxPortfolioHeatPct {
		d.logger.Warn().
			Float64("current_heat", currentHeat).
			Float64("prospective_heat", prospective).
			Float64("max_heat", d.cfg.MaxPortfolioHeatPct).
			Msg("campaign admission denied: portfolio heat")
		return "", &AdmissionError{Reason: fmt.Sprintf("heat %.2f%% + %.2f%% exceeds %.2f%%", currentHeat, prospective, d.cfg.MaxPortfolioHeatPct)}
	}

	if float64(len(active)+1) >= 0.8*float64(d.cfg.MaxConcurrent) {
		d.logger.Warn().
			Int("active", len(active)+1).
			Msg("approaching concurrency limit")
	}
	if currentHeat+prospective >= 0.8*d.cfg.MaxPortfolioHeatPct {
		d.logger.Warn().
			Float64("heat", currentHeat+prospective).
			Msg("approaching portfolio heat limit")
	}

	c := &Campaign{
		ID:        uuid.NewString(),
		Symbol:    p.Symbol,
		Timeframe: string(p.Timeframe),
		State:     StateForming,
		StartTime: now,
		UpdatedAt: now,
	}
	d.store.Add(c)
	d.logger.Info().
		Str("campaign_id", c.ID).
		Str("symbol", c.Symbol).
		Msg("campaign formed")
	return c.ID, nil
}

// prospectiveHeat estimates the heat a new campaign seeded by this pattern
// would add
func (d *Detector) prospectiveHeat(p *patterns.Pattern) float64 {
	if !d.accountEquity.IsPositive() {
		return 0
	}
	var riskPerShare decimal.Decimal
	if p.Kind == patterns.KindSpring && p.Spring != nil {
		riskPerShare = p.Price.Sub(p.Spring.SpringLow)
	}
	if !riskPerShare.IsPositive() {
		// Without a stop reference, assume the full per-trade budget
		return d.riskPctPerTrade
	}
	size, err := PositionSize(d.accountEquity, d.riskPctPerTrade, riskPerShare)
	if err != nil || size == 0 {
		return d.riskPctPerTrade
	}
	heat, _ := decimal.NewFromInt(size).Mul(riskPerShare).
		Div(d.accountEquity).Mul(hundred).Float64()
	return heat
}

// advanceState runs the lifecycle transitions after an append
func (d *Detector) advanceState(c *Campaign, now time.Time) {
	switch c.State {
	case StateForming:
		if len(c.Patterns) >= d.cfg.MinPatternsForActive || highQualityRally(c) {
			c.State = StateActive
			d.logger.Info().Str("campaign_id", c.ID).Msg("campaign active")
		}
	case StateDormant:
		// A new pattern revives a dormant campaign
		c.State = StateActive
		d.logger.Info().Str("campaign_id", c.ID).Msg("campaign reactivated")
	}

	if c.State == StateActive && c.Phase == "E" {
		d.complete(c, c.LatestPattern().Price, ExitPhaseE, now)
	}
}

// highQualityRally reports whether the campaign holds an AR with quality
// above 0.7, which promotes FORMING directly to ACTIVE
func highQualityRally(c *Campaign) bool {
	for _, p := range c.Patterns {
		if p.Kind == patterns.KindAutomaticRally && p.Rally != nil &&
			p.Rally.QualityScore > highQualityAR {
			return true
		}
	}
	return false
}

// ExpireStale fails FORMING and ACTIVE campaigns past the expiration window
// and parks quiet ACTIVE campaigns as DORMANT
func (d *Detector) ExpireStale(now time.Time) {
	for _, c := range d.store.All() {
		if c.IsTerminal() {
			continue
		}
		id := c.ID
		switch {
		case now.Sub(c.StartTime) > d.cfg.Expiration:
			d.store.Mutate(id, func(c *Campaign) {
				c.State = StateFailed
				c.ExitReason = ExitTimeLimit
				c.FailureReason = fmt.Sprintf("no completion within %s of formation", d.cfg.Expiration)
				t := now
				c.CompletedAt = &t
			})
			d.logger.Info().Str("campaign_id", id).Msg("campaign expired")
		case c.State == StateActive && now.Sub(c.UpdatedAt) > d.cfg.CampaignWindow:
			d.store.UpdateState(id, StateDormant)
			d.logger.Debug().Str("campaign_id", id).Msg("campaign dormant")
		}
	}
}

// SetPhase overrides the campaign phase from the range classifier. Reaching
// Phase E completes an active campaign at the latest pattern price.
func (d *Detector) SetPhase(id, phase string) bool {
	return d.store.Mutate(id, func(c *Campaign) {
		c.RecordPhase(phase, d.now())
		if c.State == StateActive && phase == "E" {
			if latest := c.LatestPattern(); latest != nil {
				d.complete(c, latest.Price, ExitPhaseE, d.now())
			}
		}
	})
}

// MarkCompleted finishes a campaign at the given exit price and computes
// performance outcomes
func (d *Detector) MarkCompleted(id string, exitPrice decimal.Decimal, exitReason string) (*Campaign, error) {
	ok := d.store.Mutate(id, func(c *Campaign) {
		d.complete(c, exitPrice, exitReason, d.now())
	})
	if !ok {
		return nil, fmt.Errorf("campaign %s not found", id)
	}
	return d.store.Get(id), nil
}

func (d *Detector) complete(c *Campaign, exitPrice decimal.Decimal, exitReason string, now time.Time) {
	if exitReason == "" {
		exitReason = ExitUnknown
	}
	c.State = StateCompleted
	c.ExitPrice = exitPrice
	c.ExitReason = exitReason
	c.ExitPhase = c.Phase
	t := now
	c.CompletedAt = &t

	c.PointsGained = exitPrice.Sub(c.EntryPrice)
	if c.RiskPerShare.IsPositive() {
		r, _ := c.PointsGained.Div(c.RiskPerShare).Float64()
		c.RMultiple = r
		c.RValid = true
	} else {
		c.RValid = false
	}

	if len(c.Patterns) > 0 {
		first := c.Patterns[0].BarIndex
		last := c.Patterns[len(c.Patterns)-1].BarIndex
		c.DurationBars = last - first
	}

	d.logger.Info().
		Str("campaign_id", c.ID).
		Str("exit_reason", exitReason).
		Float64("r_multiple", c.RMultiple).
		Msg("campaign completed")
}

// inferCampaignPhase maps the pattern sequence to a Wyckoff phase
func inferCampaignPhase(ps []*patterns.Pattern) string {
	if len(ps) == 0 {
		return "B"
	}
	latest := ps[len(ps)-1]
	switch latest.Kind {
	case patterns.KindSOS, patterns.KindLPS:
		return "D"
	case patterns.KindAutomaticRally:
		for _, p := range ps[:len(ps)-1] {
			if p.Kind == patterns.KindSpring {
				return "C"
			}
		}
		return "B"
	case patterns.KindSpring:
		return "C"
	default:
		return "B"
	}
}
