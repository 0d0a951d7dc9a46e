package database

import (
	"context"
	"encoding/json"
	"fmt"

	"wyckoff-trading-platform/internal/campaign"
	"wyckoff-trading-platform/internal/market"
	"wyckoff-trading-platform/internal/orchestrator"
	"wyckoff-trading-platform/internal/patterns"
	"wyckoff-trading-platform/internal/ranges"
)

// Repository provides persistence over the shared pool. Request handlers
// use one Repository; background tasks open their own sessions through
// the SessionFactory.
type Repository struct {
	db *DB
}

// NewRepository creates a repository over the pool
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// SaveCampaign upserts a campaign snapshot
func (r *Repository) SaveCampaign(ctx context.Context, c *campaign.Campaign) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal campaign: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO campaigns (
			id, symbol, timeframe, state, phase, start_time, updated_at,
			support_level, resistance_level, strength_score, risk_per_share,
			position_size, dollar_risk, exit_price, exit_reason, r_multiple,
			duration_bars, payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			phase = EXCLUDED.phase,
			updated_at = EXCLUDED.updated_at,
			support_level = EXCLUDED.support_level,
			resistance_level = EXCLUDED.resistance_level,
			strength_score = EXCLUDED.strength_score,
			risk_per_share = EXCLUDED.risk_per_share,
			position_size = EXCLUDED.position_size,
			dollar_risk = EXCLUDED.dollar_risk,
			exit_price = EXCLUDED.exit_price,
			exit_reason = EXCLUDED.exit_reason,
			r_multiple = EXCLUDED.r_multiple,
			duration_bars = EXCLUDED.duration_bars,
			payload = EXCLUDED.payload`,
		c.ID, c.Symbol, c.Timeframe, c.State, c.Phase, c.StartTime, c.UpdatedAt,
		c.SupportLevel, c.ResistanceLevel, c.StrengthScore, c.RiskPerShare,
		c.PositionSize, c.DollarRisk, c.ExitPrice, nullable(c.ExitReason), c.RMultiple,
		c.DurationBars, payload,
	)
	return err
}

// ListCampaigns returns stored campaigns filtered by state
func (r *Repository) ListCampaigns(ctx context.Context, state string, limit, offset int) ([]*campaign.Campaign, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT payload FROM campaigns
		WHERE ($1 = '' OR state = $1)
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3`,
		state, normLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*campaign.Campaign
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c campaign.Campaign
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, fmt.Errorf("unmarshal campaign: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// SaveTradingRange upserts a detected range
func (r *Repository) SaveTradingRange(ctx context.Context, tr *ranges.TradingRange) error {
	payload, err := json.Marshal(tr)
	if err != nil {
		return fmt.Errorf("marshal range: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO trading_ranges (
			id, symbol, timeframe, status, phase, support, resistance,
			quality_score, duration_bars, deleted, payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			phase = EXCLUDED.phase,
			deleted = EXCLUDED.deleted,
			payload = EXCLUDED.payload`,
		tr.ID, tr.Symbol, string(tr.Timeframe), string(tr.Status), nullable(tr.Phase),
		tr.Support, tr.Resistance, tr.QualityScore, tr.DurationBars, tr.Deleted, payload,
	)
	return err
}

// SavePattern stores a detected pattern, including session-filter rejects
// when configured
func (r *Repository) SavePattern(ctx context.Context, p *patterns.Pattern) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pattern: %w", err)
	}
	tradeable := true
	rejected := false
	if p.Spring != nil {
		tradeable = p.Spring.IsTradeable
		rejected = p.Spring.RejectedBySessionFilter
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO patterns (
			symbol, timeframe, kind, bar_index, occurred_at, price,
			confidence, is_tradeable, rejected_by_session_filter, payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		p.Symbol, string(p.Timeframe), string(p.Kind), p.BarIndex, p.Timestamp,
		p.Price, p.Confidence, tradeable, rejected, payload,
	)
	return err
}

// SaveSignal stores a generated trade signal
func (r *Repository) SaveSignal(ctx context.Context, s *orchestrator.TradeSignal) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO signals (
			id, correlation_id, symbol, timeframe, pattern_kind, phase,
			entry_price, stop_price, target_price, confidence, generated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO NOTHING`,
		s.ID, s.CorrelationID, s.Symbol, string(s.Timeframe), string(s.PatternKind),
		nullable(s.Phase), s.EntryPrice, s.StopPrice, s.TargetPrice, s.Confidence, s.GeneratedAt,
	)
	return err
}

// ListSignals returns recent signals for a symbol, newest first
func (r *Repository) ListSignals(ctx context.Context, symbol string, limit, offset int) ([]*orchestrator.TradeSignal, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, correlation_id, symbol, timeframe, pattern_kind,
		       COALESCE(phase, ''), entry_price, stop_price,
		       COALESCE(target_price, 0), confidence, generated_at
		FROM signals
		WHERE ($1 = '' OR symbol = $1)
		ORDER BY generated_at DESC
		LIMIT $2 OFFSET $3`,
		symbol, normLimit(limit), offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*orchestrator.TradeSignal
	for rows.Next() {
		var s orchestrator.TradeSignal
		var tf, kind string
		if err := rows.Scan(&s.ID, &s.CorrelationID, &s.Symbol, &tf, &kind,
			&s.Phase, &s.EntryPrice, &s.StopPrice, &s.TargetPrice,
			&s.Confidence, &s.GeneratedAt); err != nil {
			return nil, err
		}
		s.Timeframe = market.Timeframe(tf)
		s.PatternKind = patterns.Kind(kind)
		out = append(out, &s)
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func normLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
