package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"wyckoff-trading-platform/internal/backtest"
	"wyckoff-trading-platform/internal/supervisor"
)

// Establish promotes a baseline inside one transaction: the previous
// current row is demoted and the new row inserted as current, so the
// partial unique index never sees two current baselines.
func (r *Repository) Establish(ctx context.Context, b *backtest.Baseline) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal baseline: %w", err)
	}

	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin baseline transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE regression_baselines SET is_current = FALSE WHERE is_current`); err != nil {
		return fmt.Errorf("demote current baseline: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO regression_baselines (
			baseline_id, source_test_id, codebase_version, is_current,
			established_at, payload
		) VALUES ($1,$2,$3,TRUE,$4,$5)`,
		b.BaselineID, b.SourceTestID, nullable(b.CodebaseVersion),
		b.EstablishedAt, payload); err != nil {
		return fmt.Errorf("insert baseline: %w", err)
	}
	return tx.Commit(ctx)
}

// GetCurrent returns the single current baseline
func (r *Repository) GetCurrent(ctx context.Context) (*backtest.Baseline, error) {
	var payload []byte
	err := r.db.Pool.QueryRow(ctx,
		`SELECT payload FROM regression_baselines WHERE is_current`).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, supervisor.ErrBaselineNotFound
	}
	if err != nil {
		return nil, err
	}
	var b backtest.Baseline
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, fmt.Errorf("unmarshal baseline: %w", err)
	}
	return &b, nil
}

// ListHistory returns all baselines, newest first
func (r *Repository) ListHistory(ctx context.Context) ([]*backtest.Baseline, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT payload FROM regression_baselines ORDER BY established_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*backtest.Baseline
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var b backtest.Baseline
		if err := json.Unmarshal(payload, &b); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}
