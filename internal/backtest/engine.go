// Package backtest replays the detection pipeline over historical bars and
// measures signal performance in R-multiples.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"wyckoff-trading-platform/internal/logging"
	"wyckoff-trading-platform/internal/market"
	"wyckoff-trading-platform/internal/orchestrator"
	"wyckoff-trading-platform/internal/patterns"
)

// Config holds one backtest request
type Config struct {
	Symbol          string           `json:"symbol"`
	Timeframe       market.Timeframe `json:"timeframe"`
	StartDate       time.Time        `json:"start_date"`
	EndDate         time.Time        `json:"end_date"`
	InitialCapital  decimal.Decimal  `json:"initial_capital"`
	RiskPctPerTrade float64          `json:"risk_pct_per_trade"`
}

// Trade is one simulated round trip
type Trade struct {
	Symbol      string          `json:"symbol"`
	PatternKind patterns.Kind   `json:"pattern_kind"`
	EntryTime   time.Time       `json:"entry_time"`
	ExitTime    time.Time       `json:"exit_time"`
	EntryPrice  decimal.Decimal `json:"entry_price"`
	ExitPrice   decimal.Decimal `json:"exit_price"`
	StopPrice   decimal.Decimal `json:"stop_price"`
	TargetPrice decimal.Decimal `json:"target_price"`
	Quantity    decimal.Decimal `json:"quantity"`
	ProfitLoss  decimal.Decimal `json:"profit_loss"`
	RMultiple   float64         `json:"r_multiple"`
	ExitReason  string          `json:"exit_reason"`
	Confidence  float64         `json:"confidence"`
}

// EquityPoint is one sample of the equity curve
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// Result aggregates one backtest run
type Result struct {
	Symbol         string          `json:"symbol"`
	Timeframe      string          `json:"timeframe"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalEquity    decimal.Decimal `json:"final_equity"`
	TotalTrades    int             `json:"total_trades"`
	Wins           int             `json:"wins"`
	Losses         int             `json:"losses"`
	WinRate        float64         `json:"win_rate"`
	AvgRMultiple   float64         `json:"avg_r_multiple"`
	TotalR         float64         `json:"total_r"`
	MaxDrawdownPct float64         `json:"max_drawdown_pct"`
	ProfitFactor   float64         `json:"profit_factor"`
	BarsAnalyzed   int             `json:"bars_analyzed"`
	Trades         []Trade         `json:"trades"`
	EquityCurve    []EquityPoint   `json:"equity_curve"`
}

// ProgressFunc receives (barsAnalyzed, totalBars) during a run
type ProgressFunc func(barsAnalyzed, totalBars int)

// Engine replays the pipeline bar by bar. Each engine run owns its bars and
// volume caches; engines are not shared across runs.
type Engine struct {
	pipeline *orchestrator.Pipeline
	provider market.DataProvider
	logger   *logging.Logger

	// warmupBars is the minimum history before the first signal evaluation
	warmupBars int
	// stepBars is the re-analysis cadence; re-running detection on every
	// bar is wasteful for long windows
	stepBars int
}

// NewEngine creates a backtest engine over an assembled pipeline
func NewEngine(pipeline *orchestrator.Pipeline, provider market.DataProvider) *Engine {
	return &Engine{
		pipeline:   pipeline,
		provider:   provider,
		logger:     logging.WithComponent("backtest_engine"),
		warmupBars: 50,
		stepBars:   5,
	}
}

// Run fetches history and simulates signal execution across it. Cancellation
// is honored between analysis windows.
func (e *Engine) Run(ctx context.Context, cfg Config, progress ProgressFunc) (*Result, error) {
	if !cfg.StartDate.Before(cfg.EndDate) {
		return nil, fmt.Errorf("start date %s not before end date %s", cfg.StartDate, cfg.EndDate)
	}
	if !cfg.InitialCapital.IsPositive() {
		return nil, fmt.Errorf("initial capital must be positive")
	}

	bars, err := e.provider.FetchHistorical(ctx, cfg.Symbol, cfg.StartDate, cfg.EndDate, cfg.Timeframe)
	if err != nil {
		return nil, err
	}
	return e.RunBars(ctx, cfg, bars, progress)
}

// RunBars simulates over caller-supplied bars
func (e *Engine) RunBars(ctx context.Context, cfg Config, bars []market.OHLCVBar, progress ProgressFunc) (*Result, error) {
	result := &Result{
		Symbol:         cfg.Symbol,
		Timeframe:      string(cfg.Timeframe),
		StartDate:      cfg.StartDate,
		EndDate:        cfg.EndDate,
		InitialCapital: cfg.InitialCapital,
		Trades:         []Trade{},
		EquityCurve:    []EquityPoint{},
		BarsAnalyzed:   len(bars),
	}
	if len(bars) <= e.warmupBars {
		result.FinalEquity = cfg.InitialCapital
		return result, nil
	}

	equity := cfg.InitialCapital
	var open *Trade
	lastAnalysis := 0

	for i := e.warmupBars; i < len(bars); i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		bar := bars[i]

		if open != nil {
			if exited, exitPrice, reason := checkExit(open, bar); exited {
				equity = e.closeTrade(result, open, bar, exitPrice, reason, equity)
				open = nil
			}
		}

		if open == nil && i-lastAnalysis >= e.stepBars {
			lastAnalysis = i
			report, rerr := e.pipeline.AnalyzeBars(ctx, cfg.Symbol, cfg.Timeframe, bars[:i+1])
			if rerr != nil {
				return result, rerr
			}
			if sig := latestActionable(report, i); sig != nil {
				open = e.openTrade(sig, bar, equity, cfg.RiskPctPerTrade)
			}
		}

		if progress != nil && (i%100 == 0 || i == len(bars)-1) {
			progress(i+1, len(bars))
		}
	}

	if open != nil {
		last := bars[len(bars)-1]
		equity = e.closeTrade(result, open, last, last.Close, "backtest_end", equity)
	}

	result.FinalEquity = equity
	computeMetrics(result)
	return result, nil
}

// latestActionable picks a signal generated on the current bar window. Only
// signals anchored near the window tail are executable; earlier ones were
// already seen in previous windows.
func latestActionable(report *orchestrator.AnalysisReport, currentIndex int) *orchestrator.TradeSignal {
	for s := range report.Signals {
		sig := &report.Signals[s]
		for _, pt := range report.Patterns {
			if pt.Kind == sig.PatternKind && currentIndex-pt.BarIndex <= 5 {
				return sig
			}
		}
	}
	return nil
}

func (e *Engine) openTrade(sig *orchestrator.TradeSignal, bar market.OHLCVBar, equity decimal.Decimal, riskPct float64) *Trade {
	riskPerShare := sig.EntryPrice.Sub(sig.StopPrice)
	if !riskPerShare.IsPositive() || riskPct <= 0 {
		return nil
	}
	riskBudget := equity.Mul(decimal.NewFromFloat(riskPct)).Div(decimal.NewFromInt(100))
	qty := riskBudget.Div(riskPerShare).Round(0)
	if !qty.IsPositive() {
		return nil
	}

	e.logger.Debug("backtest entry",
		"symbol", sig.Symbol, "pattern", string(sig.PatternKind), "price", sig.EntryPrice.String())

	return &Trade{
		Symbol:      sig.Symbol,
		PatternKind: sig.PatternKind,
		EntryTime:   bar.Timestamp,
		EntryPrice:  sig.EntryPrice,
		StopPrice:   sig.StopPrice,
		TargetPrice: sig.TargetPrice,
		Quantity:    qty,
		Confidence:  sig.Confidence,
	}
}

// checkExit tests stop and target against the bar's range. Stops are
// checked first; a bar that spans both resolves pessimistically.
func checkExit(t *Trade, bar market.OHLCVBar) (bool, decimal.Decimal, string) {
	if bar.Low.LessThanOrEqual(t.StopPrice) {
		return true, t.StopPrice, "stop_loss"
	}
	if t.TargetPrice.IsPositive() && bar.High.GreaterThanOrEqual(t.TargetPrice) {
		return true, t.TargetPrice, "target_reached"
	}
	return false, decimal.Zero, ""
}

func (e *Engine) closeTrade(result *Result, t *Trade, bar market.OHLCVBar, exitPrice decimal.Decimal, reason string, equity decimal.Decimal) decimal.Decimal {
	t.ExitTime = bar.Timestamp
	t.ExitPrice = exitPrice
	t.ExitReason = reason
	t.ProfitLoss = exitPrice.Sub(t.EntryPrice).Mul(t.Quantity)

	riskPerShare := t.EntryPrice.Sub(t.StopPrice)
	if riskPerShare.IsPositive() {
		r, _ := exitPrice.Sub(t.EntryPrice).Div(riskPerShare).Float64()
		t.RMultiple = r
	}

	equity = equity.Add(t.ProfitLoss)
	result.Trades = append(result.Trades, *t)
	result.EquityCurve = append(result.EquityCurve, EquityPoint{Timestamp: t.ExitTime, Equity: equity})
	return equity
}

func computeMetrics(result *Result) {
	result.TotalTrades = len(result.Trades)
	if result.TotalTrades == 0 {
		return
	}

	grossWin := decimal.Zero
	grossLoss := decimal.Zero
	for _, t := range result.Trades {
		result.TotalR += t.RMultiple
		if t.ProfitLoss.IsPositive() {
			result.Wins++
			grossWin = grossWin.Add(t.ProfitLoss)
		} else {
			result.Losses++
			grossLoss = grossLoss.Add(t.ProfitLoss.Abs())
		}
	}
	result.WinRate = float64(result.Wins) / float64(result.TotalTrades)
	result.AvgRMultiple = result.TotalR / float64(result.TotalTrades)
	if grossLoss.IsPositive() {
		pf, _ := grossWin.Div(grossLoss).Float64()
		result.ProfitFactor = pf
	}
	result.MaxDrawdownPct = maxDrawdown(result.InitialCapital, result.EquityCurve)
}

// maxDrawdown walks the equity curve tracking the peak-to-trough loss
func maxDrawdown(initial decimal.Decimal, curve []EquityPoint) float64 {
	peak := initial
	maxDD := 0.0
	for _, pt := range curve {
		if pt.Equity.GreaterThan(peak) {
			peak = pt.Equity
		}
		if peak.IsPositive() {
			dd, _ := peak.Sub(pt.Equity).Div(peak).Float64()
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD * 100
}
