package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wyckoff-trading-platform/internal/backtest"
)

// BaselineStore persists regression baselines. Establish must atomically
// clear is_current on the previous baseline and set it on the new one, so
// at most one baseline is current at any instant.
type BaselineStore interface {
	Establish(ctx context.Context, b *backtest.Baseline) error
	GetCurrent(ctx context.Context) (*backtest.Baseline, error)
	ListHistory(ctx context.Context) ([]*backtest.Baseline, error)
	GetRegressionResult(ctx context.Context, testID string) (*backtest.RegressionResult, error)
}

// EstablishBaseline promotes a PASS regression result to the current
// baseline. FAIL and BASELINE_NOT_SET results are ineligible.
func (s *Supervisor) EstablishBaseline(ctx context.Context, testID, codebaseVersion string) (*backtest.Baseline, error) {
	if s.baselines == nil {
		return nil, fmt.Errorf("baseline store not configured")
	}
	res, err := s.baselines.GetRegressionResult(ctx, testID)
	if err != nil {
		return nil, err
	}
	if res.Status != backtest.RegressionPass {
		return nil, &ConflictError{
			Reason: fmt.Sprintf("regression test %s has status %s, only PASS results can become baselines", testID, res.Status),
		}
	}

	perSymbol := make(map[string]map[string]float64, len(res.PerSymbol))
	for symbol, r := range res.PerSymbol {
		perSymbol[symbol] = map[string]float64{
			backtest.MetricWinRate:      r.WinRate,
			backtest.MetricAvgRMultiple: r.AvgRMultiple,
			backtest.MetricTotalR:       r.TotalR,
			backtest.MetricMaxDrawdown:  r.MaxDrawdownPct,
		}
	}

	b := &backtest.Baseline{
		BaselineID:      uuid.NewString(),
		SourceTestID:    testID,
		CodebaseVersion: codebaseVersion,
		Metrics:         res.Aggregate,
		PerSymbol:       perSymbol,
		EstablishedAt:   time.Now().UTC(),
		IsCurrent:       true,
	}
	if err := s.baselines.Establish(ctx, b); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("baseline_id", b.BaselineID).
		Str("source_test_id", testID).
		Msg("baseline established")
	return b, nil
}

// GetCurrentBaseline returns the single current baseline or
// ErrBaselineNotFound
func (s *Supervisor) GetCurrentBaseline(ctx context.Context) (*backtest.Baseline, error) {
	if s.baselines == nil {
		return nil, ErrBaselineNotFound
	}
	return s.baselines.GetCurrent(ctx)
}

// ListBaselineHistory returns all baselines, newest first
func (s *Supervisor) ListBaselineHistory(ctx context.Context) ([]*backtest.Baseline, error) {
	if s.baselines == nil {
		return nil, fmt.Errorf("baseline store not configured")
	}
	return s.baselines.ListHistory(ctx)
}
