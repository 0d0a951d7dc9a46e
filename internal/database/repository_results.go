package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wyckoff-trading-platform/internal/backtest"
)

// SaveBacktestResult stores a completed backtest run
func (r *Repository) SaveBacktestResult(ctx context.Context, runID string, res *backtest.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal backtest result: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO backtest_results (
			run_id, symbol, timeframe, start_date, end_date,
			total_trades, win_rate, avg_r_multiple, total_r,
			max_drawdown_pct, payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (run_id) DO UPDATE SET payload = EXCLUDED.payload`,
		runID, res.Symbol, res.Timeframe, res.StartDate, res.EndDate,
		res.TotalTrades, res.WinRate, res.AvgRMultiple, res.TotalR,
		res.MaxDrawdownPct, payload,
	)
	return err
}

// GetBacktestResult loads one backtest run by id
func (r *Repository) GetBacktestResult(ctx context.Context, runID string) (*backtest.Result, error) {
	var payload []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT payload FROM backtest_results WHERE run_id = $1`, runID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("backtest result %s not found", runID)
	}
	if err != nil {
		return nil, err
	}
	var res backtest.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("unmarshal backtest result: %w", err)
	}
	return &res, nil
}

// ListBacktestResults returns stored runs for a symbol, newest first
func (r *Repository) ListBacktestResults(ctx context.Context, symbol string, limit, offset int) ([]*backtest.Result, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT payload FROM backtest_results
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		symbol, normLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*backtest.Result
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var res backtest.Result
		if err := json.Unmarshal(payload, &res); err != nil {
			return nil, err
		}
		out = append(out, &res)
	}
	return out, rows.Err()
}

// SaveWalkForwardResult stores a walk-forward validation run
func (r *Repository) SaveWalkForwardResult(ctx context.Context, runID string, res *backtest.WalkForwardResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal walk-forward result: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO walk_forward_results (
			run_id, symbol, windows, degraded_windows, stability_score, payload
		) VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (run_id) DO UPDATE SET payload = EXCLUDED.payload`,
		runID, res.Symbol, len(res.Windows), res.DegradedWindows, res.StabilityScore, payload,
	)
	return err
}

// SaveRegressionResult stores a regression test run
func (r *Repository) SaveRegressionResult(ctx context.Context, runID string, res *backtest.RegressionResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal regression result: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO regression_test_results (
			test_id, status, regression_detected, payload
		) VALUES ($1,$2,$3,$4)
		ON CONFLICT (test_id) DO UPDATE SET
			status = EXCLUDED.status,
			regression_detected = EXCLUDED.regression_detected,
			payload = EXCLUDED.payload`,
		runID, res.Status, res.RegressionDetected, payload,
	)
	return err
}

// GetRegressionResult loads one regression test by id
func (r *Repository) GetRegressionResult(ctx context.Context, testID string) (*backtest.RegressionResult, error) {
	var payload []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT payload FROM regression_test_results WHERE test_id = $1`, testID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("regression test %s not found", testID)
	}
	if err != nil {
		return nil, err
	}
	var res backtest.RegressionResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("unmarshal regression result: %w", err)
	}
	return &res, nil
}
