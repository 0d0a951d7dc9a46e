package database

import (
	"context"
	"fmt"
)

// RunMigrations creates the schema. Statements are idempotent; the partial
// unique index enforces the single-current-baseline invariant in the
// database itself.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS campaigns (
			id UUID PRIMARY KEY,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			state TEXT NOT NULL,
			phase TEXT,
			start_time TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			support_level NUMERIC(20,8),
			resistance_level NUMERIC(20,8),
			strength_score DOUBLE PRECISION,
			risk_per_share NUMERIC(20,8),
			position_size BIGINT,
			dollar_risk NUMERIC(20,2),
			exit_price NUMERIC(20,8),
			exit_reason TEXT,
			r_multiple DOUBLE PRECISION,
			duration_bars INTEGER,
			payload JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_symbol_state ON campaigns (symbol, state)`,

		`CREATE TABLE IF NOT EXISTS trading_ranges (
			id UUID PRIMARY KEY,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			status TEXT NOT NULL,
			phase TEXT,
			support NUMERIC(20,8) NOT NULL,
			resistance NUMERIC(20,8) NOT NULL,
			quality_score DOUBLE PRECISION NOT NULL,
			duration_bars INTEGER NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			payload JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ranges_symbol_tf ON trading_ranges (symbol, timeframe)`,

		`CREATE TABLE IF NOT EXISTS patterns (
			id BIGSERIAL PRIMARY KEY,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			kind TEXT NOT NULL,
			bar_index INTEGER NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			price NUMERIC(20,8) NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			is_tradeable BOOLEAN NOT NULL DEFAULT TRUE,
			rejected_by_session_filter BOOLEAN NOT NULL DEFAULT FALSE,
			payload JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_patterns_symbol_kind ON patterns (symbol, kind)`,

		`CREATE TABLE IF NOT EXISTS signals (
			id UUID PRIMARY KEY,
			correlation_id UUID,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			pattern_kind TEXT NOT NULL,
			phase TEXT,
			entry_price NUMERIC(20,8) NOT NULL,
			stop_price NUMERIC(20,8) NOT NULL,
			target_price NUMERIC(20,8),
			confidence DOUBLE PRECISION NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals (symbol, generated_at DESC)`,

		`CREATE TABLE IF NOT EXISTS backtest_results (
			run_id UUID PRIMARY KEY,
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			start_date TIMESTAMPTZ NOT NULL,
			end_date TIMESTAMPTZ NOT NULL,
			total_trades INTEGER NOT NULL,
			win_rate DOUBLE PRECISION NOT NULL,
			avg_r_multiple DOUBLE PRECISION NOT NULL,
			total_r DOUBLE PRECISION NOT NULL,
			max_drawdown_pct DOUBLE PRECISION NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS walk_forward_results (
			run_id UUID PRIMARY KEY,
			symbol TEXT NOT NULL,
			windows INTEGER NOT NULL,
			degraded_windows INTEGER NOT NULL,
			stability_score DOUBLE PRECISION NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS regression_test_results (
			test_id UUID PRIMARY KEY,
			status TEXT NOT NULL,
			regression_detected BOOLEAN NOT NULL,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS regression_baselines (
			baseline_id UUID PRIMARY KEY,
			source_test_id UUID NOT NULL,
			codebase_version TEXT,
			is_current BOOLEAN NOT NULL DEFAULT FALSE,
			established_at TIMESTAMPTZ NOT NULL,
			payload JSONB NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_baselines_single_current
			ON regression_baselines (is_current) WHERE is_current`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	db.logger.Info("migrations complete", "count", len(migrations))
	return nil
}
