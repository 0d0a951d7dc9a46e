// Package orchestrator runs the Wyckoff detection pipeline end to end:
// bars in, trade signals out. Detector faults degrade the output instead of
// failing the run.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/analysis"
	"wyckoff-trading-platform/internal/campaign"
	"wyckoff-trading-platform/internal/circuit"
	"wyckoff-trading-platform/internal/events"
	"wyckoff-trading-platform/internal/logging"
	"wyckoff-trading-platform/internal/market"
	"wyckoff-trading-platform/internal/patterns"
	"wyckoff-trading-platform/internal/phase"
	"wyckoff-trading-platform/internal/ranges"
)

// Config holds pipeline-level settings
type Config struct {
	LookbackBars         int     `json:"lookback_bars"`
	MaxConcurrentSymbols int     `json:"max_concurrent_symbols"`
	MinSignalConfidence  float64 `json:"min_signal_confidence"`
}

// DefaultConfig returns pipeline defaults
func DefaultConfig() Config {
	return Config{
		LookbackBars:         500,
		MaxConcurrentSymbols: 4,
		MinSignalConfidence:  70,
	}
}

// Pipeline wires the analyzers and detectors into the seven-stage analysis
// chain. One Pipeline instance is shared across symbols; per-run state lives
// on the stack of AnalyzeSymbol.
type Pipeline struct {
	cfg        Config
	provider   market.DataProvider
	volume     analysis.Analyzer
	sessionVol analysis.Analyzer
	rangeDet   *ranges.Detector
	classify   *phase.Classifier
	climax     *patterns.ClimaxDetector
	rally      *patterns.RallyDetector
	secondary  *patterns.SecondaryTestDetector
	spring     *patterns.SpringDetector
	sos        *patterns.SOSDetector
	lps        *patterns.LPSDetector
	campaigns  *campaign.Detector
	breaker    *circuit.Breaker
	bus        *events.EventBus
	logger     *logging.Logger
}

// NewPipeline assembles the pipeline. The campaign detector and event bus
// are optional; a nil bus disables event emission.
func NewPipeline(
	cfg Config,
	provider market.DataProvider,
	patternCfg patterns.Config,
	rangeCfg ranges.Config,
	campaigns *campaign.Detector,
	breaker *circuit.Breaker,
	bus *events.EventBus,
) *Pipeline {
	scorers := patterns.NewScorerFactory()
	if cfg.LookbackBars <= 0 {
		cfg.LookbackBars = DefaultConfig().LookbackBars
	}
	if cfg.MaxConcurrentSymbols <= 0 {
		cfg.MaxConcurrentSymbols = DefaultConfig().MaxConcurrentSymbols
	}
	if cfg.MinSignalConfidence <= 0 {
		cfg.MinSignalConfidence = DefaultConfig().MinSignalConfidence
	}
	return &Pipeline{
		cfg:        cfg,
		provider:   provider,
		volume:     analysis.NewVolumeAnalyzer(analysis.DefaultWindow),
		sessionVol: analysis.NewSessionRelativeVolumeAnalyzer(analysis.DefaultWindow),
		rangeDet:   ranges.NewDetector(rangeCfg),
		classify:   phase.NewClassifier(phase.MinTradingConfidence),
		climax:     patterns.NewClimaxDetector(),
		rally:      patterns.NewRallyDetector(),
		secondary:  patterns.NewSecondaryTestDetector(),
		spring:     patterns.NewSpringDetector(patternCfg, scorers),
		sos:        patterns.NewSOSDetector(scorers),
		lps:        patterns.NewLPSDetector(),
		campaigns:  campaigns,
		breaker:    breaker,
		bus:        bus,
		logger:     logging.WithComponent("orchestrator"),
	}
}

// AnalyzeSymbol runs the seven-stage pipeline for one symbol. Detector-level
// problems never propagate as errors; the report carries degraded stage
// results and the signal list may be empty. Only context cancellation and a
// total market-data outage return an error.
func (p *Pipeline) AnalyzeSymbol(ctx context.Context, symbol string, timeframe market.Timeframe) (*AnalysisReport, error) {
	ctx, log := logging.WithCorrelationContext(ctx)
	correlationID := logging.CorrelationIDFromContext(ctx)

	report := &AnalysisReport{
		Symbol:        symbol,
		Timeframe:     timeframe,
		CorrelationID: correlationID,
		Signals:       []TradeSignal{},
	}

	// Stage 1: fetch bars
	var bars []market.OHLCVBar
	err := p.runStage(report, symbol, "fetch_bars", func() error {
		end := time.Now().UTC()
		start := end.Add(-time.Duration(p.cfg.LookbackBars) * timeframe.Duration())
		var ferr error
		bars, ferr = p.provider.FetchHistorical(ctx, symbol, start, end, timeframe)
		return ferr
	})
	if err != nil {
		var unavailable *market.DataUnavailableError
		if errors.As(err, &unavailable) {
			return report, err
		}
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		return report, err
	}
	if len(bars) == 0 {
		log.Warn("no bars returned", "symbol", symbol)
		return report, nil
	}
	if p.bus != nil {
		p.bus.Publish(events.Event{
			Type:          events.EventBarIngested,
			CorrelationID: correlationID,
			Data: map[string]interface{}{
				"symbol":    symbol,
				"timeframe": string(timeframe),
				"bars":      len(bars),
			},
		})
	}

	p.analyzeBars(ctx, report, log, bars)
	return report, nil
}

// AnalyzeBars runs stages 2-7 over caller-supplied bars. Backtesting feeds
// historical windows through this entry point.
func (p *Pipeline) AnalyzeBars(ctx context.Context, symbol string, timeframe market.Timeframe, bars []market.OHLCVBar) (*AnalysisReport, error) {
	ctx, log := logging.WithCorrelationContext(ctx)
	report := &AnalysisReport{
		Symbol:        symbol,
		Timeframe:     timeframe,
		CorrelationID: logging.CorrelationIDFromContext(ctx),
		Signals:       []TradeSignal{},
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	if len(bars) == 0 {
		return report, nil
	}
	p.analyzeBars(ctx, report, log, bars)
	return report, nil
}

func (p *Pipeline) analyzeBars(ctx context.Context, report *AnalysisReport, log *logging.Logger, bars []market.OHLCVBar) {
	symbol := report.Symbol
	correlationID := report.CorrelationID

	// Stage 2: volume analysis. Intraday timeframes compare each bar
	// against its own session's baseline rather than the global mean.
	var vol *analysis.VolumeCache
	if err := p.runStage(report, symbol, "volume_analysis", func() error {
		analyzer := p.volume
		if report.Timeframe.IsIntraday() {
			analyzer = p.sessionVol
		}
		var verr error
		vol, verr = analysis.BuildVolumeCache(analyzer, bars)
		return verr
	}); err != nil {
		return
	}
	if p.bus != nil {
		p.bus.Publish(events.Event{
			Type:          events.EventVolumeAnalyzed,
			CorrelationID: correlationID,
			Data: map[string]interface{}{
				"symbol": symbol,
				"bars":   vol.Len(),
			},
		})
	}

	// Stage 3: range detection
	var tr *ranges.TradingRange
	p.runStage(report, symbol, "range_detection", func() error {
		detected, derr := p.rangeDet.Detect(bars)
		if derr != nil {
			return derr
		}
		if len(detected) > 0 {
			tr = detected[0]
			report.TradingRange = tr
			p.publishRange(correlationID, tr)
		}
		return nil
	})
	if tr == nil {
		log.Debug("no trading range detected", "symbol", symbol)
		return
	}

	// Stage 4: event evidence collection (SC, AR, ST)
	ev := &phase.Events{}
	var sc *patterns.SellingClimax
	p.runStage(report, symbol, "event_collection", func() error {
		sc = p.climax.Detect(bars, vol, tr)
		if sc == nil {
			return nil
		}
		ev.SellingClimax = &phase.Event{
			BarIndex:    sc.BarIndex,
			Timestamp:   sc.Bar.Timestamp,
			Price:       sc.Bar.Close,
			VolumeRatio: sc.VolumeRatio,
			Confidence:  sc.Confidence,
		}
		if ar := p.rally.Detect(bars, vol, sc); ar != nil {
			ev.AutomaticRally = toPhaseEvent(ar)
			for _, st := range p.secondary.Detect(bars, vol, sc, ar.BarIndex) {
				ev.SecondaryTests = append(ev.SecondaryTests, toPhaseEvent(st))
				report.Patterns = append(report.Patterns, st)
			}
			report.Patterns = append(report.Patterns, ar)
		}
		return nil
	})

	// Stage 5: phase classification
	var cls phase.Classification
	p.runStage(report, symbol, "phase_classification", func() error {
		cls = p.classify.Classify(tr, ev)
		report.Phase = string(cls.CurrentPhase)
		report.Confidence = cls.Confidence
		if p.bus != nil {
			p.bus.PublishPhaseDetected(correlationID, symbol, report.Phase, cls.Confidence, cls.TradingAllowed)
		}
		return nil
	})

	// Stage 6: pattern detection, gated on phase confidence
	scoringCtx := buildScoringContext(ev, tr)
	if cls.TradingAllowed {
		p.detectPatterns(ctx, report, bars, vol, tr, ev, cls, scoringCtx)

		// Detection adds Spring/SOS/LPS evidence, so the phase read at
		// stage 5 may be stale; reclassify before signals are labeled
		updated := p.classify.Classify(tr, ev)
		if updated.CurrentPhase != cls.CurrentPhase && p.bus != nil {
			p.bus.PublishPhaseDetected(correlationID, symbol,
				string(updated.CurrentPhase), updated.Confidence, updated.TradingAllowed)
		}
		cls = updated
		report.Phase = string(cls.CurrentPhase)
		report.Confidence = cls.Confidence
	} else {
		log.Warn("pattern detection skipped: phase confidence below threshold",
			"symbol", symbol, "confidence", cls.Confidence)
	}

	// Stage 7: signal generation, only from a classification that still
	// clears the trading threshold
	p.runStage(report, symbol, "signal_generation", func() error {
		if !cls.TradingAllowed {
			return nil
		}
		report.Signals = p.generateSignals(correlationID, report, tr)
		return nil
	})
}

// Campaigns exposes the campaign detector so callers can snapshot campaign
// state after a run. Nil when campaign tracking is disabled.
func (p *Pipeline) Campaigns() *campaign.Detector {
	return p.campaigns
}

// AnalyzeSymbols runs the pipeline across symbols with bounded concurrency
func (p *Pipeline) AnalyzeSymbols(ctx context.Context, symbols []string, timeframe market.Timeframe) map[string]*AnalysisReport {
	results := make(map[string]*AnalysisReport, len(symbols))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, p.cfg.MaxConcurrentSymbols)

	for _, symbol := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}
			report, err := p.AnalyzeSymbol(ctx, sym, timeframe)
			if err != nil {
				p.logger.Error("symbol analysis failed", "symbol", sym, "error", err.Error())
			}
			mu.Lock()
			results[sym] = report
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()
	return results
}

// detectPatterns runs the Phase C/D detectors behind the circuit breaker
func (p *Pipeline) detectPatterns(
	ctx context.Context,
	report *AnalysisReport,
	bars []market.OHLCVBar,
	vol *analysis.VolumeCache,
	tr *ranges.TradingRange,
	ev *phase.Events,
	cls phase.Classification,
	scoringCtx patterns.ScoringContext,
) {
	start := time.Now()
	stage := StageResult{Stage: "pattern_detection", Success: true}

	// The spring is itself the Phase C test. A range whose stopping action
	// is complete is handed to the detector as Phase C even though the
	// stage 5 classification, lacking spring evidence, still reads A or B.
	springPhase := cls.CurrentPhase
	if springPhase != phase.PhaseC && ev.TestingReady() {
		springPhase = phase.PhaseC
	}

	p.withBreaker(&stage, report.CorrelationID, report.Symbol, "spring", func() error {
		sp, err := p.spring.Detect(ctx, bars, vol, tr, springPhase, scoringCtx)
		if err != nil {
			return err
		}
		if sp != nil {
			report.Patterns = append(report.Patterns, sp)
			ev.Spring = toPhaseEvent(sp)
			p.appendToCampaign(report, sp)
		}
		return nil
	})

	var sosPattern *patterns.Pattern
	p.withBreaker(&stage, report.CorrelationID, report.Symbol, "sos", func() error {
		from := 0
		if ev.Spring != nil {
			from = ev.Spring.BarIndex + 1
		}
		if sosPattern = p.sos.Detect(bars, vol, tr, from, scoringCtx); sosPattern != nil {
			report.Patterns = append(report.Patterns, sosPattern)
			ev.SignOfStrength = toPhaseEvent(sosPattern)
			p.appendToCampaign(report, sosPattern)
		}
		return nil
	})

	if sosPattern != nil && sosPattern.Breakout != nil {
		p.withBreaker(&stage, report.CorrelationID, report.Symbol, "lps", func() error {
			if lp := p.lps.Detect(bars, vol, tr, sosPattern.Breakout); lp != nil {
				report.Patterns = append(report.Patterns, lp)
				ev.LastPointOfSupport = toPhaseEvent(lp)
				p.appendToCampaign(report, lp)
			}
			return nil
		})
	}

	if p.bus != nil {
		for _, pt := range report.Patterns {
			p.bus.PublishPatternDetected(report.CorrelationID, report.Symbol, string(pt.Kind), pt.BarIndex, pt.Confidence)
		}
	}

	stage.ExecutionTimeMs = time.Since(start).Milliseconds()
	report.Stages = append(report.Stages, stage)
}

// withBreaker guards one detector invocation: open breakers bypass the
// detector, panics and errors are recorded as failures, successes clear
// the failure window
func (p *Pipeline) withBreaker(stage *StageResult, correlationID, symbol, detector string, fn func() error) {
	if p.breaker != nil {
		if ok, reason := p.breaker.Allow(detector); !ok {
			stage.FailedDetectors = append(stage.FailedDetectors, detector)
			p.logger.Warn("detector bypassed", "detector", detector, "reason", reason)
			return
		}
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("detector panic: %v", r)
			}
		}()
		return fn()
	}()

	if err != nil {
		stage.Success = false
		stage.FailedDetectors = append(stage.FailedDetectors, detector)
		if p.breaker != nil {
			p.breaker.RecordFailure(detector)
		}
		if p.bus != nil {
			p.bus.PublishDetectorFailed(correlationID, symbol, detector, err)
		}
		p.logger.Error("detector failed", "detector", detector, "error", err.Error())
		return
	}
	if p.breaker != nil {
		p.breaker.RecordSuccess(detector)
	}
}

// appendToCampaign forwards a pattern to the campaign detector. Admission
// denials degrade to a log line; the pipeline itself never fails on them.
func (p *Pipeline) appendToCampaign(report *AnalysisReport, pt *patterns.Pattern) {
	if p.campaigns == nil {
		return
	}
	c, err := p.campaigns.AddPattern(pt)
	if err != nil {
		p.logger.Warn("campaign append rejected",
			"symbol", pt.Symbol, "kind", string(pt.Kind), "error", err.Error())
		return
	}
	if p.bus != nil {
		p.bus.Publish(events.Event{
			Type:          events.EventCampaignUpdated,
			CorrelationID: report.CorrelationID,
			Data: map[string]interface{}{
				"campaign_id": c.ID,
				"state":       c.State,
				"phase":       c.Phase,
			},
		})
	}
}

// generateSignals converts tradeable patterns into signals. Springs must be
// marked tradeable; every pattern must clear the confidence floor.
func (p *Pipeline) generateSignals(correlationID string, report *AnalysisReport, tr *ranges.TradingRange) []TradeSignal {
	signals := []TradeSignal{}
	for _, pt := range report.Patterns {
		if pt.Confidence < p.cfg.MinSignalConfidence {
			continue
		}
		switch pt.Kind {
		case patterns.KindSpring:
			if pt.Spring == nil || !pt.Spring.IsTradeable {
				continue
			}
		case patterns.KindSOS, patterns.KindLPS:
			// breakout entries
		default:
			continue
		}

		sig := TradeSignal{
			ID:            uuid.NewString(),
			CorrelationID: correlationID,
			Symbol:        pt.Symbol,
			Timeframe:     pt.Timeframe,
			PatternKind:   pt.Kind,
			Phase:         report.Phase,
			EntryPrice:    pt.Price,
			StopPrice:     signalStop(pt, tr),
			Confidence:    pt.Confidence,
			GeneratedAt:   time.Now().UTC(),
		}
		if tr.Jump != nil {
			sig.TargetPrice = tr.Jump.Price
		}
		signals = append(signals, sig)
		if p.bus != nil {
			p.bus.PublishSignal(correlationID, sig.Symbol, string(sig.PatternKind), sig.EntryPrice.String(), sig.Confidence)
		}
	}
	return signals
}

// signalStop places the protective stop under the pattern's own support
// reference
func signalStop(pt *patterns.Pattern, tr *ranges.TradingRange) decimal.Decimal {
	switch {
	case pt.Spring != nil:
		return pt.Spring.SpringLow
	case pt.Support != nil:
		return pt.Support.IceLevel
	default:
		return tr.Support
	}
}

// runStage executes fn, records timing, and converts an error into a failed
// StageResult without aborting the report
func (p *Pipeline) runStage(report *AnalysisReport, symbol, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	result := StageResult{
		Stage:           name,
		Success:         err == nil,
		ExecutionTimeMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Error = err.Error()
		p.logger.Error("stage failed", "stage", name, "symbol", symbol, "error", err.Error())
		if p.bus != nil {
			p.bus.PublishError(report.CorrelationID, name, "stage failed for "+symbol, err)
		}
	}
	report.Stages = append(report.Stages, result)
	if p.bus != nil {
		p.bus.PublishStageCompleted(report.CorrelationID, symbol, name, result.ExecutionTimeMs, result.Success)
	}
	return err
}

func (p *Pipeline) publishRange(correlationID string, tr *ranges.TradingRange) {
	if p.bus == nil {
		return
	}
	p.bus.PublishRangeDetected(correlationID, tr.Symbol, string(tr.Timeframe),
		tr.Support.String(), tr.Resistance.String(), tr.QualityScore)
}

// buildScoringContext assembles the range- and evidence-level facts the
// confidence scorers need
func buildScoringContext(ev *phase.Events, tr *ranges.TradingRange) patterns.ScoringContext {
	ctx := patterns.ScoringContext{
		TestConfirmed:     len(ev.SecondaryTests) > 0,
		RangeDurationBars: tr.DurationBars,
	}
	if tr.Creek != nil {
		ctx.CreekStrength = tr.Creek.Strength
	}
	for _, st := range ev.SecondaryTests {
		ctx.PriorTestVolumeRatios = append(ctx.PriorTestVolumeRatios, st.VolumeRatio)
	}
	if ev.LastPointOfSupport != nil {
		ctx.EntryViaLPS = true
		ctx.LPSHeld = tr.Ice != nil &&
			ev.LastPointOfSupport.Price.GreaterThanOrEqual(tr.Ice.Price)
	}
	return ctx
}

// toPhaseEvent converts a detected pattern into classifier evidence
func toPhaseEvent(pt *patterns.Pattern) *phase.Event {
	return &phase.Event{
		BarIndex:    pt.BarIndex,
		Timestamp:   pt.Timestamp,
		Price:       pt.Price,
		VolumeRatio: pt.VolumeRatio,
		Confidence:  pt.Confidence,
	}
}
