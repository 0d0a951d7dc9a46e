package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"wyckoff-trading-platform/internal/logging"
)

// Walk-forward defaults
const (
	DefaultTrainMonths      = 6
	DefaultValidateMonths   = 3
	DefaultDegradationRatio = 0.80
)

// WalkForwardConfig holds a walk-forward validation request
type WalkForwardConfig struct {
	Backtest         Config  `json:"backtest"`
	TrainMonths      int     `json:"train_months"`
	ValidateMonths   int     `json:"validate_months"`
	DegradationRatio float64 `json:"degradation_ratio"`
}

// WindowResult is one train/validate pair
type WindowResult struct {
	WindowIndex      int       `json:"window_index"`
	TrainStart       time.Time `json:"train_start"`
	TrainEnd         time.Time `json:"train_end"`
	ValidateStart    time.Time `json:"validate_start"`
	ValidateEnd      time.Time `json:"validate_end"`
	TrainResult      *Result   `json:"train_result"`
	ValidateResult   *Result   `json:"validate_result"`
	PerformanceRatio float64   `json:"performance_ratio"` // validate/train avg R
	Degraded         bool      `json:"degraded"`
}

// WalkForwardResult aggregates all windows
type WalkForwardResult struct {
	Symbol          string         `json:"symbol"`
	Windows         []WindowResult `json:"windows"`
	DegradedWindows int            `json:"degraded_windows"`
	StabilityScore  float64        `json:"stability_score"` // coefficient of variation of validate avg R
	OverallDegraded bool           `json:"overall_degraded"`
}

// WalkForward partitions the period into rolling train/validate windows and
// compares out-of-sample performance against in-sample
func (e *Engine) WalkForward(ctx context.Context, cfg WalkForwardConfig, progress ProgressFunc) (*WalkForwardResult, error) {
	if cfg.TrainMonths <= 0 {
		cfg.TrainMonths = DefaultTrainMonths
	}
	if cfg.ValidateMonths <= 0 {
		cfg.ValidateMonths = DefaultValidateMonths
	}
	if cfg.DegradationRatio <= 0 {
		cfg.DegradationRatio = DefaultDegradationRatio
	}

	log := logging.WithComponent("walk_forward")
	out := &WalkForwardResult{Symbol: cfg.Backtest.Symbol}

	trainStart := cfg.Backtest.StartDate
	index := 0
	var validateRs []float64

	for {
		trainEnd := trainStart.AddDate(0, cfg.TrainMonths, 0)
		validateEnd := trainEnd.AddDate(0, cfg.ValidateMonths, 0)
		if validateEnd.After(cfg.Backtest.EndDate) {
			break
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		trainCfg := cfg.Backtest
		trainCfg.StartDate, trainCfg.EndDate = trainStart, trainEnd
		trainRes, err := e.Run(ctx, trainCfg, nil)
		if err != nil {
			return out, fmt.Errorf("train window %d: %w", index, err)
		}

		valCfg := cfg.Backtest
		valCfg.StartDate, valCfg.EndDate = trainEnd, validateEnd
		valRes, err := e.Run(ctx, valCfg, progress)
		if err != nil {
			return out, fmt.Errorf("validate window %d: %w", index, err)
		}

		w := WindowResult{
			WindowIndex:    index,
			TrainStart:     trainStart,
			TrainEnd:       trainEnd,
			ValidateStart:  trainEnd,
			ValidateEnd:    validateEnd,
			TrainResult:    trainRes,
			ValidateResult: valRes,
		}
		if trainRes.AvgRMultiple != 0 {
			w.PerformanceRatio = valRes.AvgRMultiple / trainRes.AvgRMultiple
			w.Degraded = w.PerformanceRatio < cfg.DegradationRatio
		}
		if w.Degraded {
			out.DegradedWindows++
			log.Warn("walk-forward window degraded",
				"window", index, "ratio", w.PerformanceRatio)
		}

		out.Windows = append(out.Windows, w)
		validateRs = append(validateRs, valRes.AvgRMultiple)

		trainStart = trainStart.AddDate(0, cfg.ValidateMonths, 0)
		index++
	}

	out.StabilityScore = coefficientOfVariation(validateRs)
	out.OverallDegraded = len(out.Windows) > 0 && out.DegradedWindows*2 > len(out.Windows)
	return out, nil
}

// coefficientOfVariation is stddev/|mean|; zero when undefined
func coefficientOfVariation(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if mean == 0 {
		return 0
	}
	variance := 0.0
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	variance /= float64(len(xs))
	return math.Sqrt(variance) / math.Abs(mean)
}
