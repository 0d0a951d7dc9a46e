package backtest

import (
	"context"
	"fmt"
	"time"

	"wyckoff-trading-platform/internal/logging"
	"wyckoff-trading-platform/internal/market"
)

// Regression statuses
const (
	RegressionPass           = "PASS"
	RegressionFail           = "FAIL"
	RegressionBaselineNotSet = "BASELINE_NOT_SET"
)

// Tracked metric names
const (
	MetricWinRate      = "win_rate"
	MetricAvgRMultiple = "avg_r_multiple"
	MetricTotalR       = "total_r"
	MetricMaxDrawdown  = "max_drawdown_pct"
)

// RegressionConfig holds a regression test request across a symbol set
type RegressionConfig struct {
	Symbols    []string           `json:"symbols"`
	Timeframe  market.Timeframe   `json:"timeframe"`
	StartDate  time.Time          `json:"start_date"`
	EndDate    time.Time          `json:"end_date"`
	Backtest   Config             `json:"backtest"`
	Thresholds map[string]float64 `json:"thresholds"` // metric → max |percent change|
}

// DefaultThresholds returns the per-metric degradation tolerances
func DefaultThresholds() map[string]float64 {
	return map[string]float64{
		MetricWinRate:      5.0,
		MetricAvgRMultiple: 10.0,
		MetricTotalR:       10.0,
		MetricMaxDrawdown:  15.0,
	}
}

// MetricComparison compares one metric against the baseline
type MetricComparison struct {
	Metric        string  `json:"metric"`
	BaselineValue float64 `json:"baseline_value"`
	CurrentValue  float64 `json:"current_value"`
	PercentChange float64 `json:"percent_change"`
	Threshold     float64 `json:"threshold"`
	Degraded      bool    `json:"degraded"`
}

// RegressionResult aggregates per-symbol runs and the baseline comparison
type RegressionResult struct {
	TestID             string             `json:"test_id"`
	Symbols            []string           `json:"symbols"`
	PerSymbol          map[string]*Result `json:"per_symbol"`
	Aggregate          map[string]float64 `json:"aggregate"`
	Comparisons        []MetricComparison `json:"comparisons"`
	RegressionDetected bool               `json:"regression_detected"`
	Status             string             `json:"status"`
	CompletedAt        time.Time          `json:"completed_at"`
}

// Baseline is the reference metric set regressions compare against
type Baseline struct {
	BaselineID      string             `json:"baseline_id"`
	SourceTestID    string             `json:"source_test_id"`
	CodebaseVersion string             `json:"codebase_version"`
	Metrics         map[string]float64 `json:"metrics"`
	PerSymbol       map[string]map[string]float64 `json:"per_symbol"`
	EstablishedAt   time.Time          `json:"established_at"`
	IsCurrent       bool               `json:"is_current"`
}

// RunRegression executes a full backtest per symbol and compares aggregate
// metrics against the baseline. A nil baseline yields BASELINE_NOT_SET.
func (e *Engine) RunRegression(ctx context.Context, cfg RegressionConfig, baseline *Baseline, progress ProgressFunc) (*RegressionResult, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("regression requires at least one symbol")
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}

	log := logging.WithComponent("regression")
	out := &RegressionResult{
		Symbols:   cfg.Symbols,
		PerSymbol: make(map[string]*Result, len(cfg.Symbols)),
	}

	for _, symbol := range cfg.Symbols {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		runCfg := cfg.Backtest
		runCfg.Symbol = symbol
		runCfg.Timeframe = cfg.Timeframe
		runCfg.StartDate = cfg.StartDate
		runCfg.EndDate = cfg.EndDate

		res, err := e.Run(ctx, runCfg, progress)
		if err != nil {
			return out, fmt.Errorf("regression run for %s: %w", symbol, err)
		}
		out.PerSymbol[symbol] = res
	}

	out.Aggregate = aggregateMetrics(out.PerSymbol)
	out.CompletedAt = time.Now().UTC()

	if baseline == nil {
		out.Status = RegressionBaselineNotSet
		return out, nil
	}

	for _, metric := range []string{MetricWinRate, MetricAvgRMultiple, MetricTotalR, MetricMaxDrawdown} {
		cmp := compareMetric(metric, baseline.Metrics[metric], out.Aggregate[metric], cfg.Thresholds[metric])
		out.Comparisons = append(out.Comparisons, cmp)
		if cmp.Degraded {
			out.RegressionDetected = true
			log.Warn("metric regression detected",
				"metric", metric, "percent_change", cmp.PercentChange)
		}
	}

	if out.RegressionDetected {
		out.Status = RegressionFail
	} else {
		out.Status = RegressionPass
	}
	return out, nil
}

// aggregateMetrics averages the tracked metrics across symbols, weighting
// win rate and R by trade count
func aggregateMetrics(perSymbol map[string]*Result) map[string]float64 {
	agg := make(map[string]float64)
	totalTrades := 0
	totalWins := 0
	totalR := 0.0
	maxDD := 0.0

	for _, r := range perSymbol {
		totalTrades += r.TotalTrades
		totalWins += r.Wins
		totalR += r.TotalR
		if r.MaxDrawdownPct > maxDD {
			maxDD = r.MaxDrawdownPct
		}
	}

	if totalTrades > 0 {
		agg[MetricWinRate] = float64(totalWins) / float64(totalTrades)
		agg[MetricAvgRMultiple] = totalR / float64(totalTrades)
	}
	agg[MetricTotalR] = totalR
	agg[MetricMaxDrawdown] = maxDD
	return agg
}

// compareMetric computes percent change vs baseline and flags degradation
// when it worsens past the threshold. For drawdown, an increase is the
// degradation direction.
func compareMetric(name string, baselineVal, currentVal, threshold float64) MetricComparison {
	cmp := MetricComparison{
		Metric:        name,
		BaselineValue: baselineVal,
		CurrentValue:  currentVal,
		Threshold:     threshold,
	}
	if baselineVal == 0 {
		return cmp
	}
	cmp.PercentChange = (currentVal - baselineVal) / baselineVal * 100

	worsened := cmp.PercentChange < 0
	if name == MetricMaxDrawdown {
		worsened = cmp.PercentChange > 0
	}
	if worsened && absFloat(cmp.PercentChange) > threshold {
		cmp.Degraded = true
	}
	return cmp
}

func absFloat(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
