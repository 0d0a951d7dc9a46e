// Package supervisor is the concurrent execution engine behind full
// backtests, walk-forward validation, and regression testing: admission
// control, in-memory run registries with TTL eviction, background task
// scheduling, baseline management, and persistence handoff.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"wyckoff-trading-platform/internal/backtest"
	"wyckoff-trading-platform/internal/progress"
)

// ResultStore is one background task's persistence session. Each task gets
// its own session; request-scoped sessions are never reused here because
// they close when the HTTP response returns.
type ResultStore interface {
	SaveBacktestResult(ctx context.Context, runID string, res *backtest.Result) error
	SaveWalkForwardResult(ctx context.Context, runID string, res *backtest.WalkForwardResult) error
	SaveRegressionResult(ctx context.Context, runID string, res *backtest.RegressionResult) error
	Close()
}

// SessionFactory opens persistence sessions for background tasks
type SessionFactory interface {
	NewSession(ctx context.Context) (ResultStore, error)
}

// Config holds supervisor limits
type Config struct {
	MaxEntries             int           `json:"max_entries"`
	EntryTTL               time.Duration `json:"entry_ttl"`
	PreviewConcurrency     int           `json:"preview_concurrency"` // 0 by policy
	WalkForwardConcurrency int           `json:"walk_forward_concurrency"`
	RegressionConcurrency  int           `json:"regression_concurrency"`
	RunTimeout             time.Duration `json:"run_timeout"` // 0 disables
}

// DefaultConfig returns the supervisor defaults
func DefaultConfig() Config {
	return Config{
		MaxEntries:             DefaultMaxEntries,
		EntryTTL:               DefaultEntryTTL,
		PreviewConcurrency:     0,
		WalkForwardConcurrency: 3,
		RegressionConcurrency:  3,
		RunTimeout:             0,
	}
}

// Supervisor schedules analysis runs. It survives every per-run failure;
// only process shutdown stops it.
type Supervisor struct {
	cfg        Config
	engine     *backtest.Engine
	sessions   SessionFactory
	baselines  BaselineStore
	sink       progress.Sink
	registries map[RunKind]*registry
	logger     zerolog.Logger
	wg         sync.WaitGroup
}

// New creates a supervisor. The sink may be nil to disable progress
// publication.
func New(cfg Config, engine *backtest.Engine, sessions SessionFactory, baselines BaselineStore, sink progress.Sink, logger zerolog.Logger) *Supervisor {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = DefaultEntryTTL
	}
	s := &Supervisor{
		cfg:       cfg,
		engine:    engine,
		sessions:  sessions,
		baselines: baselines,
		sink:      sink,
		logger:    logger.With().Str("component", "supervisor").Logger(),
	}
	s.registries = map[RunKind]*registry{
		KindPreview:     newRegistry(cfg.MaxEntries, cfg.EntryTTL),
		KindFull:        newRegistry(cfg.MaxEntries, cfg.EntryTTL),
		KindWalkForward: newRegistry(cfg.MaxEntries, cfg.EntryTTL),
		KindRegression:  newRegistry(cfg.MaxEntries, cfg.EntryTTL),
	}
	return s
}

// EnqueuePreview is gated off by policy; see ErrPreviewDisabled
func (s *Supervisor) EnqueuePreview(_ backtest.Config) (string, error) {
	return "", ErrPreviewDisabled
}

// EnqueueFull validates and schedules a full backtest. FULL runs have no
// concurrency cap; only registry capacity bounds them.
func (s *Supervisor) EnqueueFull(cfg backtest.Config) (string, error) {
	if err := validateBacktestConfig(cfg); err != nil {
		return "", err
	}
	return s.launch(KindFull, func(ctx context.Context, runID string, store ResultStore) (interface{}, error) {
		tracker := progress.NewTracker(runID, 0, s.sink)
		res, err := s.engine.Run(ctx, cfg, tracker.Report)
		if err != nil {
			return nil, err
		}
		if err := store.SaveBacktestResult(ctx, runID, res); err != nil {
			return nil, fmt.Errorf("persist backtest result: %w", err)
		}
		return res, nil
	})
}

// EnqueueWalkForward validates and schedules a walk-forward validation run
func (s *Supervisor) EnqueueWalkForward(cfg backtest.WalkForwardConfig) (string, error) {
	if err := validateBacktestConfig(cfg.Backtest); err != nil {
		return "", err
	}
	if err := s.admit(KindWalkForward, s.cfg.WalkForwardConcurrency); err != nil {
		return "", err
	}
	return s.launch(KindWalkForward, func(ctx context.Context, runID string, store ResultStore) (interface{}, error) {
		tracker := progress.NewTracker(runID, 0, s.sink)
		res, err := s.engine.WalkForward(ctx, cfg, tracker.Report)
		if err != nil {
			return nil, err
		}
		if err := store.SaveWalkForwardResult(ctx, runID, res); err != nil {
			return nil, fmt.Errorf("persist walk-forward result: %w", err)
		}
		return res, nil
	})
}

// EnqueueRegression validates and schedules a regression test across the
// configured symbol set, comparing against the current baseline
func (s *Supervisor) EnqueueRegression(cfg backtest.RegressionConfig) (string, error) {
	if len(cfg.Symbols) == 0 {
		return "", &ValidationError{Field: "symbols", Reason: "must not be empty"}
	}
	probe := cfg.Backtest
	probe.StartDate, probe.EndDate = cfg.StartDate, cfg.EndDate
	if probe.Symbol == "" {
		probe.Symbol = cfg.Symbols[0]
	}
	if err := validateBacktestConfig(probe); err != nil {
		return "", err
	}
	if err := s.admit(KindRegression, s.cfg.RegressionConcurrency); err != nil {
		return "", err
	}
	return s.launch(KindRegression, func(ctx context.Context, runID string, store ResultStore) (interface{}, error) {
		var baseline *backtest.Baseline
		if s.baselines != nil {
			b, err := s.baselines.GetCurrent(ctx)
			if err != nil && !errors.Is(err, ErrBaselineNotFound) {
				return nil, err
			}
			baseline = b
		}
		tracker := progress.NewTracker(runID, 0, s.sink)
		res, err := s.engine.RunRegression(ctx, cfg, baseline, tracker.Report)
		if err != nil {
			return nil, err
		}
		res.TestID = runID
		if err := store.SaveRegressionResult(ctx, runID, res); err != nil {
			return nil, fmt.Errorf("persist regression result: %w", err)
		}
		return res, nil
	})
}

// GetStatus returns the run record from whichever registry holds it
func (s *Supervisor) GetStatus(runID string) (RunRecord, error) {
	for _, reg := range s.registries {
		if rec, ok := reg.get(runID); ok {
			return rec, nil
		}
	}
	return RunRecord{}, ErrRunNotFound
}

// ListResults returns record snapshots of one kind, newest first
func (s *Supervisor) ListResults(kind RunKind, limit, offset int) ([]RunRecord, error) {
	reg, ok := s.registries[kind]
	if !ok {
		return nil, &ValidationError{Field: "kind", Reason: "unknown run kind " + string(kind)}
	}
	return reg.list(limit, offset), nil
}

// Cancel requests cancellation of a running task
func (s *Supervisor) Cancel(runID string) error {
	for _, reg := range s.registries {
		reg.mu.Lock()
		rec, ok := reg.runs[runID]
		if ok && rec.cancel != nil && rec.Status == StatusRunning {
			rec.cancel()
			reg.mu.Unlock()
			return nil
		}
		reg.mu.Unlock()
		if ok {
			return fmt.Errorf("run %s is not running", runID)
		}
	}
	return ErrRunNotFound
}

// Wait blocks until all background tasks finish, used on shutdown
func (s *Supervisor) Wait() { s.wg.Wait() }

// admit enforces the per-kind concurrency cap
func (s *Supervisor) admit(kind RunKind, limit int) error {
	if limit <= 0 {
		return &AdmissionError{Kind: kind, Running: 0, Limit: limit}
	}
	running := s.registries[kind].countRunning()
	if running >= limit {
		s.logger.Warn().
			Str("kind", string(kind)).
			Int("running", running).
			Int("limit", limit).
			Msg("admission denied")
		return &AdmissionError{Kind: kind, Running: running, Limit: limit}
	}
	return nil
}

// taskFunc is one background run body. It returns the typed result to store
// on the registry record.
type taskFunc func(ctx context.Context, runID string, store ResultStore) (interface{}, error)

// launch registers a RUNNING record and spawns the background task. The
// task owns its persistence session and transitions the record to a
// terminal state exactly once; the completion hook logs cancellations and
// recovered panics.
func (s *Supervisor) launch(kind RunKind, task taskFunc) (string, error) {
	runID := uuid.NewString()

	ctx := context.Background()
	var cancel context.CancelFunc
	if s.cfg.RunTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RunTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	reg := s.registries[kind]
	reg.insert(&RunRecord{
		RunID:     runID,
		Kind:      kind,
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
		cancel:    cancel,
	})

	log := s.logger.With().Str("run_id", runID).Str("kind", string(kind)).Logger()
	log.Info().Msg("run enqueued")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				reg.setTerminal(runID, StatusFailed, fmt.Sprintf("panic: %v", r), nil)
				log.Error().Interface("panic", r).Msg("run panicked")
			}
		}()

		store, err := s.sessions.NewSession(ctx)
		if err != nil {
			reg.setTerminal(runID, StatusFailed, fmt.Sprintf("open session: %v", err), nil)
			log.Error().Err(err).Msg("run failed to open persistence session")
			return
		}
		defer store.Close()

		result, err := task(ctx, runID, store)
		switch {
		case err == nil:
			reg.setTerminal(runID, StatusCompleted, "", result)
			log.Info().Msg("run completed")
		case errors.Is(err, context.DeadlineExceeded):
			reg.setTerminal(runID, StatusTimeout, err.Error(), result)
			log.Warn().Msg("run timed out")
		case errors.Is(err, context.Canceled):
			reg.setTerminal(runID, StatusCancelled, "", result)
			log.Warn().Msg("run cancelled")
		default:
			reg.setTerminal(runID, StatusFailed, err.Error(), nil)
			log.Error().Err(err).Msg("run failed")
		}
	}()

	return runID, nil
}

// validateBacktestConfig applies the synchronous boundary checks
func validateBacktestConfig(cfg backtest.Config) error {
	if cfg.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if !cfg.StartDate.Before(cfg.EndDate) {
		return &ValidationError{Field: "date range", Reason: "start date must precede end date"}
	}
	if !cfg.InitialCapital.IsPositive() {
		return &ValidationError{Field: "initial_capital", Reason: "must be positive"}
	}
	if cfg.RiskPctPerTrade > 2.0 {
		return &ValidationError{Field: "risk_pct_per_trade", Reason: "exceeds 2.0 hard cap"}
	}
	return nil
}
