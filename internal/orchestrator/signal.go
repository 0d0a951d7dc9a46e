package orchestrator

import (
	"time"

	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/market"
	"wyckoff-trading-platform/internal/patterns"
	"wyckoff-trading-platform/internal/ranges"
)

// TradeSignal is the pipeline's end product: an actionable entry derived
// from a tradeable pattern inside a classified range
type TradeSignal struct {
	ID            string           `json:"id"`
	CorrelationID string           `json:"correlation_id"`
	Symbol        string           `json:"symbol"`
	Timeframe     market.Timeframe `json:"timeframe"`
	PatternKind   patterns.Kind    `json:"pattern_kind"`
	Phase         string           `json:"phase"`
	EntryPrice    decimal.Decimal  `json:"entry_price"`
	StopPrice     decimal.Decimal  `json:"stop_price"`
	TargetPrice   decimal.Decimal  `json:"target_price"` // Jump level when available
	Confidence    float64          `json:"confidence"`
	PositionSize  int64            `json:"position_size"`
	DollarRisk    decimal.Decimal  `json:"dollar_risk"`
	CampaignID    string           `json:"campaign_id,omitempty"`
	GeneratedAt   time.Time        `json:"generated_at"`
}

// StageResult records the outcome and timing of one pipeline stage
type StageResult struct {
	Stage           string   `json:"stage"`
	Success         bool     `json:"success"`
	ExecutionTimeMs int64    `json:"execution_time_ms"`
	FailedDetectors []string `json:"failed_detectors,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// AnalysisReport is the full per-symbol pipeline output
type AnalysisReport struct {
	Symbol        string               `json:"symbol"`
	Timeframe     market.Timeframe     `json:"timeframe"`
	CorrelationID string               `json:"correlation_id"`
	Stages        []StageResult        `json:"stages"`
	Signals       []TradeSignal        `json:"signals"`
	Patterns      []*patterns.Pattern  `json:"patterns"`
	TradingRange  *ranges.TradingRange `json:"trading_range,omitempty"`
	Phase         string               `json:"phase,omitempty"`
	Confidence    float64              `json:"confidence"`
}
